package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envnode/cmd/envnode/console"
)

var w1Cmd = cli.Command{
	Name:  "w1",
	Usage: "low level 1-Wire bus diagnostics",
	Subcommands: cli.Commands{
		&w1ResetCmd,
		&w1RomCmd,
	},
}

var w1ResetCmd = cli.Command{
	Name:  "reset",
	Usage: "send a reset pulse and report the presence pulse",
	Flags: lineFlags,
	Action: func(c *cli.Context) error {
		master, closer, err := masterFromFlags(c)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer func() { _ = closer() }()

		present, err := master.Reset()
		if err != nil {
			return console.Exit(1, "reset failed: %s", console.Red(err))
		}
		if !present {
			console.PInfof(console.PictoGhost, "no presence pulse on %s", master)
			return console.Exit(2, "")
		}
		console.PInfof(console.PictoPin, "device present on %s (reset slot %s)", master, master.Timings().ResetSlot())
		return nil
	},
}

var w1RomCmd = cli.Command{
	Name:  "rom",
	Usage: "read the ROM code of the single device on the bus",
	Flags: lineFlags,
	Action: func(c *cli.Context) error {
		master, closer, err := masterFromFlags(c)
		if err != nil {
			return console.Exit(1, "bus initialization error: %s", console.Red(err))
		}
		defer func() { _ = closer() }()

		addrs, err := master.Search(false)
		if err != nil {
			return console.Exit(1, "read rom failed: %s", console.Red(err))
		}
		if len(addrs) == 0 {
			console.PInfof(console.PictoGhost, "no device on %s", master)
			return console.Exit(2, "")
		}
		for _, a := range addrs {
			family := byte(a)
			name := "unknown"
			if family == 0x28 {
				name = "DS18B20"
			}
			console.PInfof(console.PictoPin, "%s family %#02x (%s)", console.White(fmt.Sprintf("%016x", uint64(a))), family, name)
		}
		return nil
	},
}
