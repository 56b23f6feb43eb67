package main

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envnode/air"
	"github.com/mklimuk/envnode/cmd/envnode/console"
	"github.com/mklimuk/envnode/uart"
)

var co2Cmd = cli.Command{
	Name:  "co2",
	Usage: "read the UART CO2 module",
	Subcommands: cli.Commands{
		&co2ReadCmd,
		&co2CaptureCmd,
		&co2ReplayCmd,
	},
}

var deviceFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"d"},
		Value:   "/dev/ttyS1",
		EnvVars: []string{"ENVNODE_CO2_DEVICE"},
	},
	&cli.IntFlag{
		Name:  "baud",
		Value: 9600,
	},
}

var co2ReadCmd = cli.Command{
	Name:  "read",
	Usage: "decode frames from the serial port",
	Flags: append([]cli.Flag{
		&cli.IntFlag{
			Name:  "count",
			Value: 1,
			Usage: "number of frames to decode, 0 reads until interrupted",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: 10 * time.Second,
			Usage: "give up when no frame arrives in time",
		},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	}, deviceFlags...),
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(c.Context, c.Bool("verbose"))
		port, err := uart.Open(c.String("device"), uart.WithBaudRate(c.Int("baud")))
		if err != nil {
			return console.Exit(1, "serial port error: %s", console.Red(err))
		}
		defer func() { _ = port.Close() }()

		sensor := air.NewCO2(port)
		count := c.Int("count")
		for i := 0; count == 0 || i < count; i++ {
			frameCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
			ppm, err := sensor.GetCO2(frameCtx)
			cancel()
			switch {
			case err == nil:
				console.PInfof(console.PictoLeaf, "%s ppm", console.PPM(ppm))
			case errors.Is(err, air.ErrStructuralMismatch), errors.Is(err, air.ErrChecksumMismatch):
				console.Warnf("frame rejected: %s", err)
			case errors.Is(err, context.DeadlineExceeded):
				return console.Exit(2, "no frame received within %s", c.Duration("timeout"))
			default:
				return console.Exit(1, "read error: %s", console.Red(err))
			}
		}
		printStats(sensor.Stats())
		return nil
	},
}

var co2CaptureCmd = cli.Command{
	Name:  "capture",
	Usage: "record the raw serial stream to a file for replay",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:     "out",
			Aliases:  []string{"o"},
			Required: true,
		},
		&cli.Int64Flag{
			Name:  "bytes",
			Value: 600,
			Usage: "stop after this many bytes, 0 for no limit",
		},
		&cli.DurationFlag{
			Name:  "duration",
			Value: 5 * time.Minute,
		},
		&cli.BoolFlag{Name: "force", Aliases: []string{"f"}},
	}, deviceFlags...),
	Action: func(c *cli.Context) error {
		out := c.String("out")
		if _, err := os.Stat(out); err == nil && !c.Bool("force") {
			answer, err := console.YesOrNo(out + " exists, overwrite?")
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				console.PInfof(console.PictoStop, "capture aborted")
				return nil
			}
		}
		port, err := uart.Open(c.String("device"), uart.WithBaudRate(c.Int("baud")))
		if err != nil {
			return console.Exit(1, "serial port error: %s", console.Red(err))
		}
		defer func() { _ = port.Close() }()
		f, err := os.Create(out)
		if err != nil {
			return console.Exit(1, "could not create %s: %s", out, console.Red(err))
		}
		defer func() { _ = f.Close() }()

		ctx, cancel := context.WithTimeout(c.Context, c.Duration("duration"))
		defer cancel()
		console.PInfof(console.PictoTape, "capturing %s to %s", c.String("device"), out)
		n, err := uart.Capture(ctx, port, f, c.Int64("bytes"), 0)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return console.Exit(1, "capture failed after %d bytes: %s", n, console.Red(err))
		}
		console.PInfof(console.PictoFinish, "%d bytes captured", n)
		return nil
	},
}

var co2ReplayCmd = cli.Command{
	Name:      "replay",
	Usage:     "decode a captured stream",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected exactly one capture file")
		}
		f, err := os.Open(c.Args().First())
		if err != nil {
			return console.Exit(1, "could not open capture: %s", console.Red(err))
		}
		defer func() { _ = f.Close() }()

		ctx := console.SetVerbose(c.Context, c.Bool("verbose"))
		sensor := air.NewCO2(f)
		for {
			ppm, err := sensor.GetCO2(ctx)
			switch {
			case err == nil:
				console.PInfof(console.PictoLeaf, "%s ppm", console.PPM(ppm))
			case errors.Is(err, air.ErrStructuralMismatch), errors.Is(err, air.ErrChecksumMismatch):
				console.Warnf("frame rejected: %s", err)
			case errors.Is(err, io.EOF):
				printStats(sensor.Stats())
				return nil
			default:
				return console.Exit(1, "replay error: %s", console.Red(err))
			}
		}
	},
}

func printStats(s air.CO2Stats) {
	console.Infof("accepted %s, structural mismatch %s, checksum mismatch %s, dropped bytes %d",
		console.Green(s.Accepted), console.Yellow(s.Structural), console.Yellow(s.Checksum), s.Dropped)
}
