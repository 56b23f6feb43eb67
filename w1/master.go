// Package w1 is a software-timed 1-Wire bus master.
//
// The master talks to the bus through an envnode.OpenDrainLine, so it only
// ever pulls the line low or lets the external pull-up raise it. Every reset
// and bit slot runs inside a single envnode.Timing.Atomic scope because the
// remote device decodes bits from pulse widths: a slot stretched by preemption
// is a corrupted bit.
//
// Worst-case atomic durations with DefaultTimings: reset 960µs, bit 70µs.
// Byte operations are eight separate atomic scopes, so other tasks may run
// between bits (the idle line is high and slots are self-delimiting).
package w1

import (
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/envnode"
)

// ROM commands.
const (
	CmdReadROM  byte = 0x33
	CmdMatchROM byte = 0x55
	CmdSkipROM  byte = 0xCC
)

var ErrSearchUnsupported = errors.New("w1: alarm search is not supported")

// Timings holds every delay of the reset and bit slots.
type Timings struct {
	ResetLow       time.Duration
	PresenceSample time.Duration // release to presence sample
	ResetRecovery  time.Duration // presence sample to end of reset slot

	Write1Low      time.Duration
	Write1Recovery time.Duration
	Write0Low      time.Duration
	Write0Recovery time.Duration

	ReadLow      time.Duration
	ReadSample   time.Duration // release to sample
	ReadRecovery time.Duration
}

// DefaultTimings samples the presence pulse 70µs after the reset pulse.
var DefaultTimings = Timings{
	ResetLow:       480 * time.Microsecond,
	PresenceSample: 70 * time.Microsecond,
	ResetRecovery:  410 * time.Microsecond,
	Write1Low:      6 * time.Microsecond,
	Write1Recovery: 64 * time.Microsecond,
	Write0Low:      60 * time.Microsecond,
	Write0Recovery: 10 * time.Microsecond,
	ReadLow:        6 * time.Microsecond,
	ReadSample:     9 * time.Microsecond,
	ReadRecovery:   55 * time.Microsecond,
}

// EarlyPresenceTimings samples presence at 60µs for controllers whose GPIO
// turnaround eats into the presence window. The reset slot length is kept.
var EarlyPresenceTimings = func() Timings {
	t := DefaultTimings
	t.PresenceSample = 60 * time.Microsecond
	t.ResetRecovery = 420 * time.Microsecond
	return t
}()

// TimingsByName resolves a named profile: "default" or "early-presence".
func TimingsByName(name string) (Timings, error) {
	switch name {
	case "", "default":
		return DefaultTimings, nil
	case "early-presence":
		return EarlyPresenceTimings, nil
	}
	return Timings{}, fmt.Errorf("w1: unknown timing profile %q", name)
}

// ResetSlot is the total duration of a reset.
func (t Timings) ResetSlot() time.Duration {
	return t.ResetLow + t.PresenceSample + t.ResetRecovery
}

type MasterOpt func(*Master)

func WithTimings(t Timings) MasterOpt {
	return func(m *Master) {
		m.timings = t
	}
}

// Master owns its line and timing source for its whole lifetime. It is not
// safe for concurrent use; transactions are serialized by the device driver
// that owns the master.
type Master struct {
	line    envnode.OpenDrainLine
	timing  envnode.Timing
	timings Timings
}

var _ envnode.OneWireMaster = &Master{}

// NewMaster releases the line and returns a master driving it.
func NewMaster(line envnode.OpenDrainLine, timing envnode.Timing, opts ...MasterOpt) (*Master, error) {
	m := &Master{
		line:    line,
		timing:  timing,
		timings: DefaultTimings,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := line.Release(); err != nil {
		return nil, fmt.Errorf("w1: could not release line: %w", err)
	}
	return m, nil
}

func (m *Master) Timings() Timings {
	return m.timings
}

// Reset sends a reset pulse and reports whether a device answered with a
// presence pulse. A missing device is not an error.
func (m *Master) Reset() (bool, error) {
	var present bool
	var err error
	m.timing.Atomic(func() {
		if err = m.line.DriveLow(); err != nil {
			return
		}
		m.timing.Delay(m.timings.ResetLow)
		if err = m.line.Release(); err != nil {
			return
		}
		m.timing.Delay(m.timings.PresenceSample)
		var high bool
		if high, err = m.line.Sample(); err != nil {
			return
		}
		present = !high
		m.timing.Delay(m.timings.ResetRecovery)
	})
	if err != nil {
		return false, m.fail("reset", err)
	}
	return present, nil
}

// WriteBit encodes bit in the width of the low pulse: short for 1, long for 0.
func (m *Master) WriteBit(bit bool) error {
	low, recovery := m.timings.Write0Low, m.timings.Write0Recovery
	if bit {
		low, recovery = m.timings.Write1Low, m.timings.Write1Recovery
	}
	var err error
	m.timing.Atomic(func() {
		if err = m.line.DriveLow(); err != nil {
			return
		}
		m.timing.Delay(low)
		if err = m.line.Release(); err != nil {
			return
		}
		m.timing.Delay(recovery)
	})
	if err != nil {
		return m.fail("write bit", err)
	}
	return nil
}

// ReadBit opens a read slot and samples the line; a device holding the line
// low answers 0.
func (m *Master) ReadBit() (bool, error) {
	var bit bool
	var err error
	m.timing.Atomic(func() {
		if err = m.line.DriveLow(); err != nil {
			return
		}
		m.timing.Delay(m.timings.ReadLow)
		if err = m.line.Release(); err != nil {
			return
		}
		m.timing.Delay(m.timings.ReadSample)
		if bit, err = m.line.Sample(); err != nil {
			return
		}
		m.timing.Delay(m.timings.ReadRecovery)
	})
	if err != nil {
		return false, m.fail("read bit", err)
	}
	return bit, nil
}

// WriteByte sends b least significant bit first.
func (m *Master) WriteByte(b byte) error {
	for i := range 8 {
		if err := m.WriteBit(b>>i&0x01 != 0); err != nil {
			return err
		}
	}
	return nil
}

// ReadByte reads eight bits, least significant first.
func (m *Master) ReadByte() (byte, error) {
	var b byte
	for i := range 8 {
		bit, err := m.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit {
			b |= 1 << i
		}
	}
	return b, nil
}

// fail makes a best effort to leave the bus idle before reporting err.
func (m *Master) fail(op string, err error) error {
	_ = m.line.Release()
	return fmt.Errorf("w1: %s: %w", op, err)
}
