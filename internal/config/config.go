// Package config loads and validates grow controller configuration.
//
// Values are resolved in order: built-in defaults, then the YAML file, then
// GROW_* environment variables. Secrets such as the InfluxDB token and MQTT
// password are best supplied through the environment.
//
//	cfg, err := config.Load("/etc/grow-controller/config.yaml")
//	if err != nil {
//	    return err
//	}
//	ctrlCfg, err := cfg.ToController()
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/grow-controller/internal/actuator"
	"github.com/sweeney/grow-controller/internal/controller"
	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logging"
	"github.com/sweeney/grow-controller/internal/logic"
	"github.com/sweeney/grow-controller/internal/mqtt"
	"github.com/sweeney/grow-controller/internal/status"
	"github.com/sweeney/grow-controller/internal/telemetry"
)

// Config is the complete daemon configuration.
type Config struct {
	Site                 SiteConfig       `yaml:"site"`
	Tick                 time.Duration    `yaml:"tick"`
	SensorPoll           time.Duration    `yaml:"sensor_poll"`
	HaltBlink            time.Duration    `yaml:"halt_blink"`
	Heartbeat            time.Duration    `yaml:"heartbeat"` // 0 disables
	GPIOChip             string           `yaml:"gpio_chip"`
	Pins                 map[string]int   `yaml:"pins"`
	WaterLevelActiveHigh bool             `yaml:"water_level_active_high"` // float switch drives the line high when full
	Light                LightConfig      `yaml:"light"`
	Watering             WateringConfig   `yaml:"watering"`
	Fertilizer           FertilizerConfig `yaml:"fertilizer"`
	MQTT                 MQTTConfig       `yaml:"mqtt"`
	HTTP                 HTTPConfig       `yaml:"http"`
	Store                StoreConfig      `yaml:"store"`
	InfluxDB             telemetry.Config `yaml:"influxdb"`
	Logging              logging.Config   `yaml:"logging"`
}

// SiteConfig identifies the rig and its local time.
type SiteConfig struct {
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"` // IANA name, e.g. "Europe/London"
	// RequireNTPSync treats an unsynchronised kernel clock as time unavailable.
	RequireNTPSync bool `yaml:"require_ntp_sync"`
}

// LightConfig is the daily light window.
type LightConfig struct {
	Start   int `yaml:"start"`
	End     int `yaml:"end"`
	OnHours int `yaml:"on_hours"`
}

// WateringConfig schedules the fill and the flush that follows it.
type WateringConfig struct {
	Hour          int           `yaml:"hour"`
	Weekday       string        `yaml:"weekday"` // empty = daily
	FillTimeout   time.Duration `yaml:"fill_timeout"`
	FillSeverity  string        `yaml:"fill_severity"`
	FlushDuration time.Duration `yaml:"flush_duration"` // 0 disables the flush
	FlushSeverity string        `yaml:"flush_severity"`
}

// FertilizerConfig schedules the timed fertilizer dose.
type FertilizerConfig struct {
	Hour     int           `yaml:"hour"`
	Weekday  string        `yaml:"weekday"`
	Dose     time.Duration `yaml:"dose"`
	Severity string        `yaml:"severity"`
}

// MQTTConfig selects the broker for event publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	BufferSize  int    `yaml:"buffer_size"`
	// WSBroker is the broker's websocket URL for the status page's live
	// view. Empty disables it.
	WSBroker string `yaml:"ws_broker"`
}

// HTTPConfig configures the status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// StoreConfig configures day-run persistence.
type StoreConfig struct {
	Path string `yaml:"path"` // empty keeps flags in memory only
}

// maxTick keeps at least two control ticks inside every wall-clock hour so
// an hour-equality trigger cannot be stepped over.
const maxTick = 30 * time.Minute

// Load reads configuration from path. An empty path uses defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the stock configuration.
func Default() *Config {
	ctrl := controller.DefaultConfig()

	pins := make(map[string]int)
	for ch, pin := range gpio.DefaultPins() {
		pins[string(ch)] = pin
	}

	return &Config{
		Site: SiteConfig{
			Name:     "grow",
			Timezone: "UTC",
		},
		Tick:                 60 * time.Second,
		SensorPoll:           ctrl.SensorPoll,
		HaltBlink:            500 * time.Millisecond,
		Heartbeat:            15 * time.Minute,
		GPIOChip:             "gpiochip0",
		Pins:                 pins,
		WaterLevelActiveHigh: true,
		Light: LightConfig{
			Start:   ctrl.Light.Start,
			End:     ctrl.Light.End,
			OnHours: ctrl.Light.OnHours,
		},
		Watering: WateringConfig{
			Hour:          ctrl.Watering.Rule.Hour,
			FillTimeout:   ctrl.Watering.FillTimeout,
			FillSeverity:  string(ctrl.Watering.FillSeverity),
			FlushDuration: ctrl.Watering.FlushDuration,
			FlushSeverity: string(ctrl.Watering.FlushSeverity),
		},
		Fertilizer: FertilizerConfig{
			Hour:     ctrl.Fertilizer.Rule.Hour,
			Weekday:  ctrl.Fertilizer.Rule.Cadence.Weekday.String(),
			Dose:     ctrl.Fertilizer.Dose,
			Severity: string(ctrl.Fertilizer.Severity),
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "grow-controller",
			TopicPrefix: mqtt.DefaultTopicPrefix,
			BufferSize:  mqtt.DefaultBufferSize,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Store: StoreConfig{
			Path: "/var/lib/grow-controller/runs.db",
		},
		InfluxDB: telemetry.Config{
			URL:           "http://localhost:8086",
			Org:           "grow",
			Bucket:        "grow",
			BatchSize:     50,
			FlushInterval: 10,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies GROW_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GROW_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("GROW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v, ok := os.LookupEnv("GROW_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	if v, ok := os.LookupEnv("GROW_STORE_PATH"); ok {
		cfg.Store.Path = v
	}
	if v := os.Getenv("GROW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("GROW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GROW_TIMEZONE"); v != "" {
		cfg.Site.Timezone = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		add("site.timezone %q: %w", c.Site.Timezone, err)
	}

	if c.Tick <= 0 {
		add("tick must be positive")
	} else if c.Tick > maxTick {
		add("tick %s exceeds %s; scheduled hours would be skipped", c.Tick, maxTick)
	}
	if c.SensorPoll <= 0 {
		add("sensor_poll must be positive")
	}
	if c.HaltBlink <= 0 {
		add("halt_blink must be positive")
	}
	if c.Heartbeat < 0 {
		add("heartbeat must not be negative")
	}

	if _, err := c.GPIOPins(); err != nil {
		errs = append(errs, err)
	}

	if !validHour(c.Light.Start) {
		add("light.start must be between 0 and 23")
	}
	if c.Light.End < 0 || c.Light.End > 24 {
		add("light.end must be between 0 and 24")
	}
	if c.Light.OnHours < 0 || c.Light.OnHours > 24 {
		add("light.on_hours must be between 0 and 24")
	}

	if !validHour(c.Watering.Hour) {
		add("watering.hour must be between 0 and 23")
	}
	if _, err := logic.ParseWeekday(c.Watering.Weekday); err != nil {
		add("watering.weekday: %w", err)
	}
	if c.Watering.FillTimeout <= 0 {
		add("watering.fill_timeout must be positive")
	}
	if _, err := logic.ParseSeverity(c.Watering.FillSeverity); err != nil {
		add("watering.fill_severity: %w", err)
	}
	if c.Watering.FlushDuration < 0 {
		add("watering.flush_duration must not be negative")
	}
	if _, err := logic.ParseSeverity(c.Watering.FlushSeverity); err != nil {
		add("watering.flush_severity: %w", err)
	}

	if !validHour(c.Fertilizer.Hour) {
		add("fertilizer.hour must be between 0 and 23")
	}
	if _, err := logic.ParseWeekday(c.Fertilizer.Weekday); err != nil {
		add("fertilizer.weekday: %w", err)
	}
	if c.Fertilizer.Dose <= 0 {
		add("fertilizer.dose must be positive")
	}
	if _, err := logic.ParseSeverity(c.Fertilizer.Severity); err != nil {
		add("fertilizer.severity: %w", err)
	}

	if c.MQTT.Broker == "" {
		add("mqtt.broker is required")
	}
	if c.MQTT.BufferSize < 0 {
		add("mqtt.buffer_size must not be negative")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			add("influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" {
			add("influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			add("influxdb.bucket is required when influxdb is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format %q is not text or json", c.Logging.Format)
	}

	return errors.Join(errs...)
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}

// GPIOPins resolves the pins map into channel assignments. Every channel
// must be wired exactly once.
func (c *Config) GPIOPins() (gpio.Pins, error) {
	known := make(map[gpio.Channel]bool)
	for _, ch := range allChannels() {
		known[ch] = true
	}

	pins := make(gpio.Pins, len(c.Pins))
	used := make(map[int]string)
	var errs []error

	names := make([]string, 0, len(c.Pins))
	for name := range c.Pins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pin := c.Pins[name]
		ch := gpio.Channel(name)
		if !known[ch] {
			errs = append(errs, fmt.Errorf("pins: unknown channel %q", name))
			continue
		}
		if pin < 0 {
			errs = append(errs, fmt.Errorf("pins.%s must not be negative", name))
			continue
		}
		if other, dup := used[pin]; dup {
			errs = append(errs, fmt.Errorf("pins.%s: line %d already used by %s", name, pin, other))
			continue
		}
		used[pin] = name
		pins[ch] = pin
	}
	for _, ch := range allChannels() {
		if _, ok := c.Pins[string(ch)]; !ok {
			errs = append(errs, fmt.Errorf("pins.%s is required", ch))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return pins, nil
}

func allChannels() []gpio.Channel {
	chs := append([]gpio.Channel{}, gpio.Actuators...)
	chs = append(chs, gpio.Indicators...)
	return append(chs, gpio.WaterLevel)
}

// GPIOOptions returns the line request options for the real board.
func (c *Config) GPIOOptions() gpio.Options {
	return gpio.Options{
		Chip:            c.GPIOChip,
		InputActiveHigh: map[gpio.Channel]bool{gpio.WaterLevel: c.WaterLevelActiveHigh},
	}
}

// ToController converts the schedule sections into a controller.Config.
func (c *Config) ToController() (controller.Config, error) {
	waterCadence, err := logic.ParseWeekday(c.Watering.Weekday)
	if err != nil {
		return controller.Config{}, fmt.Errorf("watering.weekday: %w", err)
	}
	fillSev, err := logic.ParseSeverity(c.Watering.FillSeverity)
	if err != nil {
		return controller.Config{}, fmt.Errorf("watering.fill_severity: %w", err)
	}
	flushSev, err := logic.ParseSeverity(c.Watering.FlushSeverity)
	if err != nil {
		return controller.Config{}, fmt.Errorf("watering.flush_severity: %w", err)
	}
	fertCadence, err := logic.ParseWeekday(c.Fertilizer.Weekday)
	if err != nil {
		return controller.Config{}, fmt.Errorf("fertilizer.weekday: %w", err)
	}
	fertSev, err := logic.ParseSeverity(c.Fertilizer.Severity)
	if err != nil {
		return controller.Config{}, fmt.Errorf("fertilizer.severity: %w", err)
	}

	poll := c.SensorPoll
	if poll <= 0 {
		poll = actuator.DefaultPollInterval
	}

	return controller.Config{
		Light: logic.LightWindow{Start: c.Light.Start, End: c.Light.End, OnHours: c.Light.OnHours},
		Watering: controller.Watering{
			Rule:          logic.ScheduleRule{ID: logic.RuleWatering, Hour: c.Watering.Hour, Cadence: waterCadence},
			FillTimeout:   c.Watering.FillTimeout,
			FillSeverity:  fillSev,
			FlushDuration: c.Watering.FlushDuration,
			FlushSeverity: flushSev,
		},
		Fertilizer: controller.Fertilizer{
			Rule:     logic.ScheduleRule{ID: logic.RuleFertilizer, Hour: c.Fertilizer.Hour, Cadence: fertCadence},
			Dose:     c.Fertilizer.Dose,
			Severity: fertSev,
		},
		SensorPoll: poll,
		// Logical ON means "full" once the active level is applied by the board.
		WaterLevelTarget: true,
	}, nil
}

// StatusConfig describes the configuration for the status page.
func (c *Config) StatusConfig(ctrl controller.Config) status.Config {
	return status.Config{
		Site:        c.Site.Name,
		Timezone:    c.Site.Timezone,
		TickMs:      c.Tick.Milliseconds(),
		HeartbeatMs: c.Heartbeat.Milliseconds(),
		Broker:      c.MQTT.Broker,
		HTTPAddr:    c.HTTP.Addr,
		WSBroker:    c.MQTT.WSBroker,
		EventsTopic: mqtt.TopicsFor(c.MQTT.TopicPrefix).Events,
		Light:       ctrl.Light,
		Rules: []status.RuleInfo{
			{
				ID:      ctrl.Watering.Rule.ID,
				Hour:    ctrl.Watering.Rule.Hour,
				Cadence: ctrl.Watering.Rule.Cadence.String(),
				Channel: string(gpio.MainPump),
				Timeout: ctrl.Watering.FillTimeout,
			},
			{
				ID:      ctrl.Fertilizer.Rule.ID,
				Hour:    ctrl.Fertilizer.Rule.Hour,
				Cadence: ctrl.Fertilizer.Rule.Cadence.String(),
				Channel: string(gpio.FertilizerPump),
				Timeout: ctrl.Fertilizer.Dose,
			},
		},
	}
}
