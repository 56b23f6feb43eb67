package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/envnode/cmd/envnode/console"
	"github.com/mklimuk/envnode/uart"
)

// USB bridges with a HID interface that also expose a UART the CO2 module can
// be wired to.
var knownBridges = map[string][2]uint16{
	"MCP2221": {0x04d8, 0x00dd},
	"CP2110":  {0x10c4, 0xea80},
	"FT260":   {0x0403, 0x6030},
	"CH9329":  {0x1a86, 0xe129},
}

var usbCmd = cli.Command{
	Name:  "usb",
	Usage: "find USB-UART bridges and serial ports",
	Subcommands: cli.Commands{
		&usbLsCmd,
		&usbDetectCmd,
		&usbPortsCmd,
	},
}

var usbLsCmd = cli.Command{
	Name: "ls",
	Action: func(c *cli.Context) error {
		// List all HID devices
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tSERIAL\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\n")

		for _, dev := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%#x\t%#x\t%s\t%s\n",
				dev.Path, dev.Serial, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

var usbDetectCmd = cli.Command{
	Name: "detect",
	Action: func(c *cli.Context) error {
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "VENDOR\tPRODUCT\tBRIDGE\tPATH\n")

		found := 0
		for _, dev := range devices {
			for name, ids := range knownBridges {
				if ids[0] == dev.VendorID && ids[1] == dev.ProductID {
					_, _ = fmt.Fprintf(w, "%#x\t%#x\t%s\t%s\n", dev.VendorID, dev.ProductID, name, dev.Path)
					found++
				}
			}
		}
		_ = w.Flush()
		if found == 0 {
			console.PInfof(console.PictoGhost, "no known bridge connected")
		}
		return nil
	},
}

var usbPortsCmd = cli.Command{
	Name:  "ports",
	Usage: "list serial ports usable with co2 --device",
	Action: func(c *cli.Context) error {
		ports, err := uart.Ports()
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		for _, p := range ports {
			console.PInfof(console.PictoPlug, "%s", p)
		}
		return nil
	},
}
