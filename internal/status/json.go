package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string                `json:"event,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Site          string                `json:"site"`
	BootID        string                `json:"boot_id"`
	ErrorState    string                `json:"error_state"`
	Halted        bool                  `json:"halted"`
	TimeAvailable bool                  `json:"time_available"`
	Clock         *ClockJSON            `json:"clock,omitempty"`
	Outputs       map[string]string     `json:"outputs"`
	FiredToday    map[string]bool       `json:"fired_today"`
	LastResults   map[string]ResultJSON `json:"last_results,omitempty"`
	LastEvent     *EventJSON            `json:"last_event,omitempty"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	StartTime     string                `json:"start_time"`
	Timestamp     string                `json:"timestamp"`
	MQTT          MQTTStatus            `json:"mqtt"`
	Counts        map[string]int        `json:"event_counts"`
	Network       *NetworkJSON          `json:"network,omitempty"`
	Config        ConfigJSON            `json:"config"`
}

// ClockJSON is the last wall-clock reading.
type ClockJSON struct {
	Date    string `json:"date"`
	Hour    int    `json:"hour"`
	Weekday string `json:"weekday"`
}

// ResultJSON is the last actuation result of a channel.
type ResultJSON struct {
	Outcome   string `json:"outcome"`
	Started   string `json:"started"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// EventJSON is the most recent controller event.
type EventJSON struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// RuleJSON is the JSON representation of a schedule rule.
type RuleJSON struct {
	ID        string `json:"id"`
	Hour      int    `json:"hour"`
	Cadence   string `json:"cadence"`
	Channel   string `json:"channel"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// LightJSON is the JSON representation of the light window.
type LightJSON struct {
	Start   int `json:"start"`
	End     int `json:"end"`
	OnHours int `json:"on_hours"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Timezone    string     `json:"timezone"`
	TickMs      int64      `json:"tick_ms"`
	HeartbeatMs int64      `json:"heartbeat_ms"`
	Broker      string     `json:"broker"`
	HTTPAddr    string     `json:"http_addr"`
	WSBroker    string     `json:"ws_broker,omitempty"`
	Light       LightJSON  `json:"light"`
	Rules       []RuleJSON `json:"rules"`
}

func buildInner(snap Snapshot) StatusInner {
	c := snap.Controller

	outputs := make(map[string]string)
	for _, ch := range append(append([]gpio.Channel{}, gpio.Actuators...), gpio.Indicators...) {
		outputs[string(ch)] = string(logic.StateOf(c.Outputs[ch]))
	}

	fired := make(map[string]bool)
	for _, r := range snap.Config.Rules {
		fired[string(r.ID)] = c.Fired[r.ID]
	}

	counts := make(map[string]int, len(snap.Counts))
	for typ, n := range snap.Counts {
		counts[string(typ)] = n
	}

	inner := StatusInner{
		Site:          snap.Config.Site,
		BootID:        snap.BootID,
		ErrorState:    c.ErrorState.String(),
		Halted:        c.Halted,
		TimeAvailable: c.TimeAvailable,
		Outputs:       outputs,
		FiredToday:    fired,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts:        counts,
		Config:        buildConfig(snap.Config),
	}

	if c.ClockKnown {
		inner.Clock = &ClockJSON{Date: c.Clock.Date, Hour: c.Clock.Hour, Weekday: c.Clock.Weekday.String()}
	}
	if len(c.LastResults) > 0 {
		inner.LastResults = make(map[string]ResultJSON, len(c.LastResults))
		for ch, r := range c.LastResults {
			inner.LastResults[string(ch)] = ResultJSON{
				Outcome:   string(r.Outcome),
				Started:   r.Started.UTC().Format(time.RFC3339),
				ElapsedMs: r.Elapsed.Milliseconds(),
			}
		}
	}
	if e := snap.LastEvent; e != nil {
		inner.LastEvent = &EventJSON{ID: e.ID, Type: string(e.Type), Timestamp: e.Timestamp.UTC().Format(time.RFC3339)}
	}
	return inner
}

func buildConfig(cfg Config) ConfigJSON {
	rules := make([]RuleJSON, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, RuleJSON{
			ID:        string(r.ID),
			Hour:      r.Hour,
			Cadence:   r.Cadence,
			Channel:   r.Channel,
			TimeoutMs: r.Timeout.Milliseconds(),
		})
	}
	return ConfigJSON{
		Timezone:    cfg.Timezone,
		TickMs:      cfg.TickMs,
		HeartbeatMs: cfg.HeartbeatMs,
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		WSBroker:    cfg.WSBroker,
		Light:       LightJSON{Start: cfg.Light.Start, End: cfg.Light.End, OnHours: cfg.Light.OnHours},
		Rules:       rules,
	}
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
