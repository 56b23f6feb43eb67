package console

import "github.com/fatih/color"

// Available ANSI colors
var (
	Yellow = color.New(color.FgYellow).SprintFunc()
	Red    = color.New(color.FgRed).SprintFunc()
	Green  = color.New(color.FgGreen).SprintFunc()
	White  = color.New(color.FgHiWhite).SprintFunc()
)

// Indoor CO2 bands used to color readings.
const (
	co2Fresh = 1000
	co2Stale = 2000
)

// PPM renders a concentration colored by how stale the air is.
func PPM(ppm uint16) string {
	switch {
	case ppm < co2Fresh:
		return Green(ppm)
	case ppm < co2Stale:
		return Yellow(ppm)
	}
	return Red(ppm)
}
