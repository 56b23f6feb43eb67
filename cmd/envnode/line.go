package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envnode"
	"github.com/mklimuk/envnode/pin"
	"github.com/mklimuk/envnode/timing"
	"github.com/mklimuk/envnode/w1"
)

var lineFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "line",
		Aliases: []string{"l"},
		Value:   "GPIO4",
		Usage:   "gpio carrying the 1-Wire bus (periph name or gobot header pin)",
	},
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Value:   "periph",
		Usage:   "gpio library: periph or gobot (NanoPi NEO)",
	},
	&cli.BoolFlag{
		Name:  "pull-up",
		Usage: "enable the internal pull-up in addition to the external resistor",
	},
	&cli.StringFlag{
		Name:  "timing",
		Value: "default",
		Usage: "1-Wire timing profile: default or early-presence",
	},
}

// openLine returns the open-drain line and a func releasing it.
func openLine(adapter, name string, pullUp bool) (envnode.OpenDrainLine, func() error, error) {
	switch adapter {
	case "periph":
		var opts []pin.PeriphOpt
		if pullUp {
			opts = append(opts, pin.WithInternalPullUp())
		}
		l, err := pin.OpenPeriph(name, opts...)
		if err != nil {
			return nil, nil, err
		}
		return l, l.Close, nil
	case "gobot":
		l, finalize, err := pin.OpenNanoPi(name)
		if err != nil {
			return nil, nil, err
		}
		return l, finalize, nil
	}
	return nil, nil, fmt.Errorf("unknown gpio adapter %q", adapter)
}

// openMaster opens the line and builds a bus master with the requested timing profile.
func openMaster(adapter, name string, pullUp bool, profile string) (*w1.Master, func() error, error) {
	timings, err := w1.TimingsByName(profile)
	if err != nil {
		return nil, nil, err
	}
	line, closer, err := openLine(adapter, name, pullUp)
	if err != nil {
		return nil, nil, err
	}
	master, err := w1.NewMaster(line, timing.NewSpin(), w1.WithTimings(timings))
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	return master, closer, nil
}

func masterFromFlags(c *cli.Context) (*w1.Master, func() error, error) {
	return openMaster(c.String("adapter"), c.String("line"), c.Bool("pull-up"), c.String("timing"))
}
