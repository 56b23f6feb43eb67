//go:build tinygo

// Package pin adapts host GPIO libraries to envnode.OpenDrainLine.
package pin

import (
	"machine"

	"github.com/mklimuk/envnode"
)

var _ envnode.OpenDrainLine = &Machine{}

// Machine emulates an open-drain line on a TinyGo machine.Pin.
type Machine struct {
	pin     machine.Pin
	release machine.PinMode
}

func NewMachine(p machine.Pin, internalPullUp bool) *Machine {
	l := &Machine{pin: p, release: machine.PinInput}
	if internalPullUp {
		l.release = machine.PinInputPullup
	}
	_ = l.Release()
	return l
}

func (l *Machine) DriveLow() error {
	l.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	l.pin.Low()
	return nil
}

func (l *Machine) Release() error {
	l.pin.Configure(machine.PinConfig{Mode: l.release})
	return nil
}

func (l *Machine) Sample() (bool, error) {
	return l.pin.Get(), nil
}
