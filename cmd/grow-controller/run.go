package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sweeney/grow-controller/internal/clock"
	"github.com/sweeney/grow-controller/internal/config"
	"github.com/sweeney/grow-controller/internal/controller"
	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logging"
	"github.com/sweeney/grow-controller/internal/mqtt"
	"github.com/sweeney/grow-controller/internal/status"
	"github.com/sweeney/grow-controller/internal/store"
	"github.com/sweeney/grow-controller/internal/telemetry"
	"github.com/sweeney/grow-controller/internal/web"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the controller daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
}

func run(cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)

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

	runs, closeRuns := openRunLog(cfg.Store.Path, log)
	defer closeRuns()

	ctrl := controller.New(ctrlCfg, board, ts, clock.Real{}, runs, log)
	defer ctrl.SafeState()

	publisher := mqtt.NewRealPublisher(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		BufferSize:  cfg.MQTT.BufferSize,
		Logger:      log.With("component", "mqtt"),
	})
	defer publisher.Close()

	var rec recorder
	influx, err := telemetry.Connect(cfg.InfluxDB, cfg.Site.Name)
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
		log.Info("influxdb telemetry disabled")
	case err != nil:
		log.Warn("influxdb unavailable, continuing without telemetry", "error", err)
	default:
		influx.SetOnError(func(err error) {
			log.Warn("influxdb write failed", "error", err)
		})
		defer influx.Close()
		rec = influx
	}

	statusCfg := cfg.StatusConfig(ctrlCfg)
	statusCfg.WSBroker = resolveWSBroker(cfg.MQTT.WSBroker, cfg.MQTT.Broker, log)
	tracker := status.NewTracker(time.Now(), uuid.NewString(), statusCfg)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.Update(ctrl.Snapshot(), ctrl.Counts())

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server error", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			srv.Shutdown(ctx) //nolint:errcheck
		}()
		log.Info("http status server listening", "addr", cfg.HTTP.Addr)
	}

	log.Info("started",
		"site", cfg.Site.Name,
		"timezone", cfg.Site.Timezone,
		"tick", cfg.Tick,
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Heartbeat,
	)

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()
	blinker := time.NewTicker(cfg.HaltBlink)
	defer blinker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &daemon{
		ctrl:       ctrl,
		publisher:  publisher,
		mqttStatus: publisher,
		recorder:   rec,
		tracker:    tracker,
		heartbeat:  cfg.Heartbeat,
		now:        time.Now,
		log:        log,
	}
	return d.runLoop(ticker.C, blinker.C, sigCh)
}

// openRunLog opens the SQLite day-run store, falling back to memory so a
// broken SD card never stops the schedule.
func openRunLog(path string, log *logging.Logger) (controller.RunLog, func()) {
	if path == "" {
		log.Info("day-run store disabled, fired flags kept in memory")
		return store.NewMemory(), func() {}
	}
	db, err := store.Open(path)
	if err != nil {
		log.Error("day-run store unavailable, fired flags kept in memory", "path", path, "error", err)
		return store.NewMemory(), func() {}
	}
	log.Info("day-run store opened", "path", db.Path())
	return db, func() {
		if err := db.Close(); err != nil {
			log.Warn("close day-run store", "error", err)
		}
	}
}

// recorder receives telemetry. Satisfied by *telemetry.Client.
type recorder interface {
	RecordEvent(e controller.Event)
	RecordState(snap controller.Snapshot, at time.Time)
}

// daemon owns the control loop and fans its output out to MQTT, telemetry
// and the status tracker.
type daemon struct {
	ctrl       *controller.Controller
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	recorder   recorder // nil when telemetry is off
	tracker    *status.Tracker
	heartbeat  time.Duration
	now        func() time.Time
	log        *logging.Logger
}

func (d *daemon) runLoop(tick, blink <-chan time.Time, sig <-chan os.Signal) error {
	d.publishSystem(mqtt.SystemStartup, "")

	for {
		select {
		case s := <-sig:
			d.log.Info("shutting down", "signal", s.String())
			d.ctrl.SafeState()
			d.refresh()
			d.publishSystem(mqtt.SystemShutdown, signalName(s))
			return nil

		case <-blink:
			if d.ctrl.Halted() {
				d.ctrl.HaltStep()
			}

		case <-tick:
			// While halted Tick only holds the actuators off; the blink
			// ticker alone drives the major indicator.
			d.handleEvents(d.ctrl.Tick())
			t := d.now()
			d.refresh()
			if d.recorder != nil {
				d.recorder.RecordState(d.ctrl.Snapshot(), t)
			}

			if hb := d.ctrl.CheckHeartbeat(t, d.heartbeat); hb != nil {
				d.log.Info("heartbeat", "uptime", hb.Uptime.Truncate(time.Second), "error_state", d.ctrl.ErrorState().String())
				if net := readNetworkInfo(); net != nil {
					d.tracker.SetNetwork(net)
				}
				d.publishSystem(mqtt.SystemHeartbeat, "")
			}
		}
	}
}

func (d *daemon) handleEvents(events []controller.Event) {
	var lastChannel gpio.Channel
	for _, e := range events {
		d.log.Info("event",
			"event", string(e.Type),
			"date", e.Date,
			"hour", e.Hour,
			"rule", string(e.Rule),
			"channel", string(e.Channel),
			"outcome", string(e.Outcome),
			"error_state", e.ErrorState.String(),
		)
		if err := d.publisher.Publish(e); err != nil {
			// Don't stop the schedule on publish failure.
			d.log.Warn("publish error", "event", string(e.Type), "error", err)
		}
		if d.recorder != nil {
			d.recorder.RecordEvent(e)
		}
		d.tracker.RecordEvent(e)

		if e.Channel != "" {
			lastChannel = e.Channel
		}
		if e.Type == controller.EventHalted {
			d.refresh()
			d.publishSystem(mqtt.SystemHalted, haltReason(lastChannel))
		}
	}
}

// refresh copies controller and connection state into the tracker.
func (d *daemon) refresh() {
	d.tracker.Update(d.ctrl.Snapshot(), d.ctrl.Counts())
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func (d *daemon) publishSystem(name, reason string) {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   name != mqtt.SystemHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.log.Warn("system event publish failed", "event", name, "error", err)
		return
	}
	d.log.Debug("published system event", "event", name)
}

func haltReason(ch gpio.Channel) string {
	if ch == "" {
		return "MAJOR_ERROR"
	}
	return strings.ToUpper(string(ch)) + "_TIMEOUT"
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// resolveWSBroker turns the mqtt.ws_broker setting into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty or
// "off" disables the live view.
func resolveWSBroker(ws, broker string, log *logging.Logger) string {
	if ws == "" || ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Warn("ws_broker: cannot parse mqtt.broker", "broker", broker, "error", err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
