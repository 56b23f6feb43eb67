//go:build !tinygo

package pin

import (
	"fmt"

	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/envnode"
)

var _ envnode.OpenDrainLine = &Gobot{}

// DigitalIO is implemented by gobot platform adaptors.
type DigitalIO interface {
	gpio.DigitalReader
	gpio.DigitalWriter
}

// Gobot drives a pin through a gobot adaptor. Gobot reconfigures the pin
// direction on every call: a write turns it into an output, a read turns it
// back into an input, which is exactly the open-drain emulation we need.
type Gobot struct {
	io DigitalIO
	id string
}

func NewGobot(io DigitalIO, id string) (*Gobot, error) {
	l := &Gobot{io: io, id: id}
	if err := l.Release(); err != nil {
		return nil, fmt.Errorf("could not release pin %s: %w", id, err)
	}
	return l, nil
}

// OpenNanoPi connects to a NanoPi NEO adaptor and wraps the given header pin
// (e.g. "7"). The returned func finalizes the adaptor.
func OpenNanoPi(id string) (*Gobot, func() error, error) {
	npi := nanopi.NewNeoAdaptor()
	if err := npi.Connect(); err != nil {
		return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
	}
	l, err := NewGobot(npi, id)
	if err != nil {
		_ = npi.Finalize()
		return nil, nil, err
	}
	return l, npi.Finalize, nil
}

func (l *Gobot) DriveLow() error {
	return l.io.DigitalWrite(l.id, 0)
}

func (l *Gobot) Release() error {
	_, err := l.io.DigitalRead(l.id)
	return err
}

func (l *Gobot) Sample() (bool, error) {
	v, err := l.io.DigitalRead(l.id)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (l *Gobot) String() string {
	return "gobot:" + l.id
}
