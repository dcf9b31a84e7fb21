package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sweeney/grow-controller/internal/clock"
	"github.com/sweeney/grow-controller/internal/config"
	"github.com/sweeney/grow-controller/internal/controller"
	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logic"
	"github.com/sweeney/grow-controller/internal/store"
)

func newPrintStateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "print-state",
		Short: "Read the water level, report what the schedule wants now, and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctrlCfg, err := cfg.ToController()
			if err != nil {
				return err
			}
			pins, err := cfg.GPIOPins()
			if err != nil {
				return err
			}
			board, err := gpio.NewRealBoard(pins, cfg.GPIOOptions())
			if err != nil {
				return fmt.Errorf("init gpio: %w", err)
			}
			defer board.Close()

			ts, err := clock.NewSystemTimeSource(cfg.Site.Timezone, cfg.Site.RequireNTPSync)
			if err != nil {
				return fmt.Errorf("init time source: %w", err)
			}

			var runs controller.RunLog
			if cfg.Store.Path != "" {
				if _, err := os.Stat(cfg.Store.Path); err == nil {
					db, err := store.Open(cfg.Store.Path)
					if err != nil {
						return err
					}
					defer db.Close()
					runs = db
				}
			}
			return printState(cmd.OutOrStdout(), ctrlCfg, board, ts, runs)
		},
	}
}

// printState reports the sensor level and, if wall time is available, the
// light level and rules the controller would act on right now.
func printState(w io.Writer, cfg controller.Config, in gpio.Inputs, ts clock.TimeSource, runs controller.RunLog) error {
	level, err := in.Read(gpio.WaterLevel)
	if err != nil {
		return fmt.Errorf("read %s: %w", gpio.WaterLevel, err)
	}
	full := level == cfg.WaterLevelTarget
	fmt.Fprintf(w, "water_level: %s\n", onOff(level))
	fmt.Fprintf(w, "reservoir:   %s\n", yesNo(full, "FULL", "NOT FULL"))

	wc, err := ts.Now()
	if errors.Is(err, clock.ErrTimeUnavailable) {
		fmt.Fprintf(w, "time:        %s\n", color.New(color.FgYellow).Sprint("UNAVAILABLE"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("read time: %w", err)
	}
	fmt.Fprintf(w, "time:        %s %02d:00 %s\n", wc.Date, wc.Hour, wc.Weekday)
	fmt.Fprintf(w, "light:       %s\n", onOff(logic.IsLightOn(wc.Hour, cfg.Light)))

	days := logic.NewDayRunState()
	days.Observe(wc)
	if runs != nil {
		fired, err := runs.FiredOn(context.Background(), wc.Date)
		if err != nil {
			return fmt.Errorf("read day-run store: %w", err)
		}
		for _, id := range fired {
			days.MarkFired(id)
		}
	}
	for _, rule := range []logic.ScheduleRule{cfg.Watering.Rule, cfg.Fertilizer.Rule} {
		var state string
		switch {
		case days.Fired(rule.ID):
			state = color.New(color.FgBlue).Sprint("DONE TODAY")
		case logic.ShouldFire(rule, wc, days):
			state = color.New(color.FgGreen).Sprint("DUE NOW")
		default:
			state = "idle"
		}
		fmt.Fprintf(w, "%-13s%s\n", string(rule.ID)+":", state)
	}
	return nil
}

func newCheckConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %v\n", color.New(color.FgRed).Sprint("INVALID"), err)
				return err
			}
			ctrlCfg, err := cfg.ToController()
			if err != nil {
				return err
			}
			printSchedule(cmd.OutOrStdout(), cfg, ctrlCfg)
			return nil
		},
	}
}

func printSchedule(w io.Writer, cfg *config.Config, c controller.Config) {
	fmt.Fprintf(w, "%s site %q (%s)\n", color.New(color.FgGreen).Sprint("OK"), cfg.Site.Name, cfg.Site.Timezone)
	fmt.Fprintf(w, "  tick:       %v\n", cfg.Tick)
	fmt.Fprintf(w, "  light:      %02d:00 for %dh, never past %02d:00\n", c.Light.Start, c.Light.OnHours, c.Light.End)
	fmt.Fprintf(w, "  watering:   %02d:00 %s, fill up to %v (%s)", c.Watering.Rule.Hour, c.Watering.Rule.Cadence, c.Watering.FillTimeout, c.Watering.FillSeverity)
	if c.Watering.FlushDuration > 0 {
		fmt.Fprintf(w, ", flush %v (%s)", c.Watering.FlushDuration, c.Watering.FlushSeverity)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  fertilizer: %02d:00 %s, dose %v (%s)\n", c.Fertilizer.Rule.Hour, c.Fertilizer.Rule.Cadence, c.Fertilizer.Dose, c.Fertilizer.Severity)
	fmt.Fprintf(w, "  mqtt:       %s\n", cfg.MQTT.Broker)
	if cfg.Store.Path != "" {
		fmt.Fprintf(w, "  store:      %s\n", cfg.Store.Path)
	} else {
		fmt.Fprintf(w, "  store:      %s\n", color.New(color.FgYellow).Sprint("memory only"))
	}
	if cfg.InfluxDB.Enabled {
		fmt.Fprintf(w, "  influxdb:   %s/%s\n", cfg.InfluxDB.URL, cfg.InfluxDB.Bucket)
	}
}

func onOff(on bool) string {
	if on {
		return color.New(color.FgGreen).Sprint("ON")
	}
	return color.New(color.FgRed).Sprint("OFF")
}

func yesNo(ok bool, yes, no string) string {
	if ok {
		return color.New(color.FgGreen).Sprint(yes)
	}
	return color.New(color.FgYellow).Sprint(no)
}
