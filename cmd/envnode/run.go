package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envnode/air"
	"github.com/mklimuk/envnode/cmd/envnode/console"
	"github.com/mklimuk/envnode/config"
	"github.com/mklimuk/envnode/environment"
	"github.com/mklimuk/envnode/pipeline"
	"github.com/mklimuk/envnode/snsctx"
	"github.com/mklimuk/envnode/uart"
	"github.com/mklimuk/envnode/uplink"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "acquire readings periodically and upload them",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"ENVNODE_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:  "dotenv",
			Usage: "env files to load (default .env)",
		},
		&cli.BoolFlag{
			Name:  "print-config",
			Usage: "print the effective configuration and exit",
		},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"), c.StringSlice("dotenv")...)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if c.Bool("print-config") {
			if err := cfg.Redacted().Encode(os.Stdout); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			return nil
		}

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = snsctx.SetNode(console.SetVerbose(ctx, c.Bool("verbose")), cfg.Node)

		var closers []func() error
		defer func() {
			for _, cl := range closers {
				_ = cl()
			}
		}()

		var temp pipeline.TemperatureSensor
		if cfg.Temperature.Enabled {
			t := cfg.Temperature
			master, closer, err := openMaster(t.Adapter, t.Line, t.InternalPullUp, t.Timing)
			if err != nil {
				return console.Exit(1, "bus initialization error: %s", console.Red(err))
			}
			closers = append(closers, closer)
			temp = environment.NewDS18B20(master, ds18b20Opts(t)...)
		}
		var co2 pipeline.CO2Sensor
		if cfg.CO2.Enabled {
			port, err := uart.Open(cfg.CO2.Device, uart.WithBaudRate(cfg.CO2.BaudRate))
			if err != nil {
				return console.Exit(1, "serial port error: %s", console.Red(err))
			}
			closers = append(closers, port.Close)
			co2 = air.NewCO2(port, air.WithIdleBackoff(cfg.CO2.IdleBackoff))
		}

		sink, live, closeSinks := sinksFromConfig(cfg.Uplink)
		defer closeSinks()
		if live != nil {
			go func() {
				if err := live.Serve(ctx, cfg.Uplink.Live.Addr); err != nil {
					slog.Error("live server stopped", "error", err)
				}
			}()
		}

		p := pipeline.New(temp, co2, sink,
			pipeline.WithNode(cfg.Node),
			pipeline.WithInterval(cfg.Interval),
			pipeline.WithCycleTimeout(cfg.CycleTimeout),
			pipeline.WithCO2Attempts(cfg.CO2.Attempts),
		)
		slog.Info("node started", "node", cfg.Node, "interval", cfg.Interval, "sinks", len(sink))
		err = p.Run(ctx)
		stats := p.Stats()
		slog.Info("node stopped", "cycles", stats.Cycles, "published", stats.Published, "publish_errors", stats.PublishErrors)
		if err != nil && !errors.Is(err, context.Canceled) {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.PInfof(console.PictoFinish, "bye")
		return nil
	},
}

func ds18b20Opts(t config.Temperature) []environment.DS18B20Opt {
	opts := []environment.DS18B20Opt{environment.WithConversionDelay(t.ConversionDelay)}
	if t.ScratchpadCRC {
		opts = append(opts, environment.WithScratchpadCRC())
	}
	return opts
}

// sinksFromConfig builds every configured sink. The live sink is returned
// separately as it also needs to be served.
func sinksFromConfig(cfg config.Uplink) (uplink.Multi, *uplink.Live, func()) {
	var sinks uplink.Multi
	var closers []func()
	if cfg.Log {
		sinks = append(sinks, uplink.Log{})
	}
	if cfg.HTTP.URL != "" {
		var opts []uplink.HTTPOpt
		if cfg.HTTP.Token != "" {
			opts = append(opts, uplink.WithHeader("Authorization", "Bearer "+cfg.HTTP.Token))
		}
		sinks = append(sinks, uplink.NewHTTP(cfg.HTTP.URL, opts...))
	}
	if cfg.Influx.URL != "" {
		influx := uplink.NewInflux(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		sinks = append(sinks, influx)
		closers = append(closers, influx.Close)
	}
	var live *uplink.Live
	if cfg.Live.Addr != "" {
		live = uplink.NewLive()
		sinks = append(sinks, live)
	}
	return sinks, live, func() {
		for _, cl := range closers {
			cl()
		}
	}
}
