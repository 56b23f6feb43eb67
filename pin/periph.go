//go:build !tinygo

// Package pin adapts host GPIO libraries to envnode.OpenDrainLine.
package pin

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/envnode"
)

var _ envnode.OpenDrainLine = &Periph{}

// Periph emulates an open-drain output on a periph.io push-pull GPIO by
// switching between output-low and input.
type Periph struct {
	pin  gpio.PinIO
	pull gpio.Pull
}

type PeriphOpt func(*Periph)

// WithInternalPullUp enables the SoC pull-up whenever the line is released.
// An external resistor (4.7k typical) is still recommended.
func WithInternalPullUp() PeriphOpt {
	return func(p *Periph) {
		p.pull = gpio.PullUp
	}
}

// NewPeriph wraps p and leaves the line released.
func NewPeriph(p gpio.PinIO, opts ...PeriphOpt) (*Periph, error) {
	l := &Periph{pin: p, pull: gpio.PullNoChange}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.Release(); err != nil {
		return nil, fmt.Errorf("could not release %s: %w", p.Name(), err)
	}
	return l, nil
}

// OpenPeriph initializes the periph host drivers and opens the named pin
// (e.g. "GPIO4").
func OpenPeriph(name string, opts ...PeriphOpt) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("could not find gpio pin %q", name)
	}
	return NewPeriph(p, opts...)
}

func (l *Periph) DriveLow() error {
	return l.pin.Out(gpio.Low)
}

func (l *Periph) Release() error {
	return l.pin.In(l.pull, gpio.NoEdge)
}

func (l *Periph) Sample() (bool, error) {
	return l.pin.Read() == gpio.High, nil
}

func (l *Periph) String() string {
	return l.pin.Name()
}

// Close releases the line and halts the pin.
func (l *Periph) Close() error {
	if err := l.Release(); err != nil {
		return err
	}
	return l.pin.Halt()
}
