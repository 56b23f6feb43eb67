package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ds18b20"

	"github.com/mklimuk/envnode/cmd/envnode/console"
	"github.com/mklimuk/envnode/environment"
	"github.com/mklimuk/envnode/w1"
)

var tempReadCmd = cli.Command{
	Name:    "temperature",
	Aliases: []string{"temp"},
	Usage:   "run one DS18B20 conversion",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "driver",
			Value: "native",
			Usage: "native transaction or the periph.io ds18b20 driver on the same bus",
		},
		&cli.DurationFlag{
			Name:  "conversion-delay",
			Value: 800 * time.Millisecond,
		},
		&cli.BoolFlag{
			Name:  "crc",
			Usage: "read the full scratchpad and check its crc",
		},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	}, lineFlags...),
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(c.Context, c.Bool("verbose"))

		master, closer, err := masterFromFlags(c)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer func() { _ = closer() }()

		var temp float32
		switch c.String("driver") {
		case "native":
			opts := []environment.DS18B20Opt{environment.WithConversionDelay(c.Duration("conversion-delay"))}
			if c.Bool("crc") {
				opts = append(opts, environment.WithScratchpadCRC())
			}
			temp, err = environment.NewDS18B20(master, opts...).GetTemperature(ctx)
		case "periph":
			temp, err = readWithPeriph(ctx, master)
		default:
			return console.Exit(1, "unknown driver %q", c.String("driver"))
		}
		if err != nil {
			return console.Exit(console.ExitCode(err, environment.ErrSensorAbsent), "error getting temperature read: %s", console.Red(err))
		}
		console.Printf("%s  %s\n", console.PictoThermometer, console.White(fmt.Sprintf("%.2f°C", temp)))
		return nil
	},
}

// readWithPeriph runs the periph.io driver over the bit-banged master. The
// probe is addressed by ROM so the master's Read ROM search must find it first.
func readWithPeriph(ctx context.Context, master *w1.Master) (float32, error) {
	addrs, err := master.Search(false)
	if err != nil {
		return 0, err
	}
	if len(addrs) == 0 {
		return 0, environment.ErrSensorAbsent
	}
	if console.IsVerbose(ctx) {
		console.Debugf("found device %#016x", uint64(addrs[0]))
	}
	dev, err := ds18b20.New(master, addrs[0], 12)
	if err != nil {
		return 0, fmt.Errorf("ds18b20 driver: %w", err)
	}
	var e physic.Env
	if err := dev.Sense(&e); err != nil {
		return 0, fmt.Errorf("ds18b20 driver: %w", err)
	}
	return float32(float64(e.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)), nil
}
