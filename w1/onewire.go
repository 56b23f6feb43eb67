package w1

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/onewire"
)

var _ onewire.Bus = &Master{}

// String implements conn.Resource.
func (m *Master) String() string {
	if s, ok := m.line.(fmt.Stringer); ok {
		return "w1(" + s.String() + ")"
	}
	return "w1"
}

// Tx implements onewire.Bus so periph.io device drivers can run on top of
// the bit-banged master.
//
// A strong pull-up cannot be provided by an open-drain line; parasite-powered
// devices must be wired with a dedicated supply.
func (m *Master) Tx(w, r []byte, power onewire.Pullup) error {
	present, err := m.Reset()
	if err != nil {
		return err
	}
	if !present {
		return noDevicesError("w1: no presence pulse after reset")
	}
	for _, b := range w {
		if err := m.WriteByte(b); err != nil {
			return err
		}
	}
	for i := range r {
		if r[i], err = m.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}

// Search reports the ROM code of the single device attached to the bus using
// Read ROM. Several devices answering at once corrupt the ROM and fail its CRC.
func (m *Master) Search(alarmOnly bool) ([]onewire.Address, error) {
	if alarmOnly {
		return nil, ErrSearchUnsupported
	}
	var rom [8]byte
	err := m.Tx([]byte{CmdReadROM}, rom[:], onewire.WeakPullup)
	if _, ok := err.(noDevicesError); ok {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !onewire.CheckCRC(rom[:]) {
		return nil, busError(fmt.Sprintf("w1: read rom crc mismatch (% x), more than one device on the bus?", rom))
	}
	return []onewire.Address{onewire.Address(binary.LittleEndian.Uint64(rom[:]))}, nil
}

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

// noDevicesError implements onewire.NoDevicesError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) BusError() bool  { return true }
func (e noDevicesError) NoDevices() bool { return true }
