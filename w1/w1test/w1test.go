// Package w1test simulates a 1-Wire line with one DS18B20-like device on a
// virtual clock, so bus code can be tested without hardware or real delays.
package w1test

import (
	"time"

	"periph.io/x/conn/v3/onewire"
)

// Clock is a virtual time source implementing envnode.Timing.
type Clock struct {
	Now time.Duration
	// AtomicScopes counts Atomic calls.
	AtomicScopes int
	// LooseDelays counts delays issued outside an atomic scope.
	LooseDelays int

	depth int
}

func (c *Clock) Delay(d time.Duration) {
	if c.depth == 0 {
		c.LooseDelays++
	}
	c.Now += d
}

func (c *Clock) Atomic(action func()) {
	c.AtomicScopes++
	c.depth++
	defer func() { c.depth-- }()
	action()
}

// Pulse is one low pulse driven by the master.
type Pulse struct {
	Start time.Duration
	Low   time.Duration
}

type phase int

const (
	phaseIdle phase = iota
	phaseROM
	phaseMatch
	phaseFunction
)

// Device is an envnode.OpenDrainLine with a simulated temperature sensor
// attached. Write slots shorter than 15µs decode as 1, longer ones as 0. A
// presence pulse starts 30µs after the reset pulse ends and lasts 120µs.
type Device struct {
	Clock *Clock
	// Present controls whether the device answers resets.
	Present bool
	ROM     [8]byte
	// Scratchpad is sent on Read Scratchpad; byte 8 must be its CRC.
	Scratchpad [9]byte
	// Received holds every byte decoded from write slots.
	Received    []byte
	Resets      int
	Conversions int
	Pulses      []Pulse
	// Err, when set, is returned by DriveLow.
	Err error

	masterLow bool
	readSlot  bool
	fallAt    time.Duration
	holdFrom  time.Duration
	holdUntil time.Duration

	acc   byte
	nbits int
	phase phase
	match []byte
	tx    []byte
	txBit int
}

// NewDevice returns a present DS18B20 (family 0x28) holding raw as its last
// conversion result.
func NewDevice(clock *Clock, raw uint16) *Device {
	d := &Device{
		Clock:   clock,
		Present: true,
		ROM:     [8]byte{0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00},
	}
	d.ROM[7] = onewire.CalcCRC(d.ROM[:7])
	d.Scratchpad = [9]byte{0, 0, 0x4b, 0x46, 0x7f, 0xff, 0x0c, 0x10}
	d.SetRaw(raw)
	return d
}

// SetRaw stores a new conversion result and refreshes the scratchpad CRC.
func (d *Device) SetRaw(raw uint16) {
	d.Scratchpad[0] = byte(raw)
	d.Scratchpad[1] = byte(raw >> 8)
	d.Scratchpad[8] = onewire.CalcCRC(d.Scratchpad[:8])
}

func (d *Device) String() string {
	return "sim"
}

func (d *Device) DriveLow() error {
	if d.Err != nil {
		return d.Err
	}
	if d.masterLow {
		return nil
	}
	d.masterLow = true
	d.fallAt = d.Clock.Now
	d.readSlot = len(d.tx) > 0
	if d.readSlot {
		bit := d.tx[d.txBit/8] >> (d.txBit % 8) & 0x01
		d.txBit++
		if bit == 0 {
			d.holdFrom = d.fallAt
			d.holdUntil = d.fallAt + 30*time.Microsecond
		}
		if d.txBit == len(d.tx)*8 {
			d.tx = nil
			d.txBit = 0
		}
	}
	return nil
}

func (d *Device) Release() error {
	if !d.masterLow {
		return nil
	}
	d.masterLow = false
	now := d.Clock.Now
	low := now - d.fallAt
	d.Pulses = append(d.Pulses, Pulse{Start: d.fallAt, Low: low})
	switch {
	case low >= 480*time.Microsecond:
		d.Resets++
		d.acc, d.nbits = 0, 0
		d.tx, d.txBit = nil, 0
		d.phase = phaseIdle
		if d.Present {
			d.phase = phaseROM
			d.holdFrom = now + 30*time.Microsecond
			d.holdUntil = d.holdFrom + 120*time.Microsecond
		}
	case d.readSlot, d.phase == phaseIdle:
	default:
		if low < 15*time.Microsecond {
			d.acc |= 1 << d.nbits
		}
		d.nbits++
		if d.nbits == 8 {
			d.receive(d.acc)
			d.acc, d.nbits = 0, 0
		}
	}
	return nil
}

func (d *Device) Sample() (bool, error) {
	if d.masterLow {
		return false, nil
	}
	now := d.Clock.Now
	if now >= d.holdFrom && now < d.holdUntil {
		return false, nil
	}
	return true, nil
}

func (d *Device) send(p []byte) {
	d.tx = append([]byte(nil), p...)
	d.txBit = 0
}

func (d *Device) receive(b byte) {
	d.Received = append(d.Received, b)
	switch d.phase {
	case phaseROM:
		switch b {
		case 0xcc:
			d.phase = phaseFunction
		case 0x33:
			d.send(d.ROM[:])
			d.phase = phaseIdle
		case 0x55:
			d.match = d.match[:0]
			d.phase = phaseMatch
		default:
			d.phase = phaseIdle
		}
	case phaseMatch:
		d.match = append(d.match, b)
		if len(d.match) < 8 {
			return
		}
		d.phase = phaseIdle
		if string(d.match) == string(d.ROM[:]) {
			d.phase = phaseFunction
		}
	case phaseFunction:
		switch b {
		case 0x44:
			d.Conversions++
			d.phase = phaseIdle
		case 0xbe:
			d.send(d.Scratchpad[:])
			d.phase = phaseIdle
		default:
			d.phase = phaseIdle
		}
	}
}
