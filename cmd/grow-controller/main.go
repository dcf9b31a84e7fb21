// Command grow-controller drives a hydroponics rig: grow light, main pump,
// fertilizer pump and flush valve, on a daily and weekly schedule.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "grow-controller",
		Short:         "Hydroponics grow controller",
		Long:          `grow-controller runs the light, watering and fertilizer schedule for a hydroponics rig and publishes what it does to MQTT.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GROW_CONFIG"), "path to YAML config (defaults plus GROW_* env when empty)")

	root.AddCommand(
		newRunCmd(&configPath),
		newPrintStateCmd(&configPath),
		newCheckConfigCmd(&configPath),
	)
	return root
}
