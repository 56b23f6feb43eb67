package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// FirmwareCmd builds the microcontroller image with TinyGo.
func FirmwareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firmware",
		Short: "Build the TinyGo firmware image",
		Long: `Build ./cmd/mcu with TinyGo.

Requires tinygo in PATH. The default target is the Raspberry Pi Pico; pass
--flash to write the image to a board in BOOTSEL mode instead of building a file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := cmd.Flags().GetString("target")
			if err != nil {
				return fmt.Errorf("could not get target flag: %w", err)
			}
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return fmt.Errorf("could not get output flag: %w", err)
			}
			flash, err := cmd.Flags().GetBool("flash")
			if err != nil {
				return fmt.Errorf("could not get flash flag: %w", err)
			}

			if _, err := exec.LookPath("tinygo"); err != nil {
				slog.Error("tinygo not found in PATH")
				slog.Info("See https://tinygo.org/getting-started/install/")
				return fmt.Errorf("tinygo not installed: %w", err)
			}

			tinygoArgs := []string{"build", "-target", target, "-o", output, "./cmd/mcu"}
			if flash {
				tinygoArgs = []string{"flash", "-target", target, "./cmd/mcu"}
			}
			slog.Info("Running tinygo", "args", tinygoArgs)
			tinygo := exec.Command("tinygo", tinygoArgs...)
			tinygo.Stdout = os.Stdout
			tinygo.Stderr = os.Stderr
			if err := tinygo.Run(); err != nil {
				return fmt.Errorf("tinygo failed: %w", err)
			}
			if !flash {
				slog.Info("Firmware built", "output", output)
			}
			return nil
		},
	}

	cmd.Flags().String("target", "pico", "TinyGo target")
	cmd.Flags().String("output", "dist/envnode.uf2", "Output file path")
	cmd.Flags().Bool("flash", false, "Flash the board instead of writing a file")

	return cmd
}
