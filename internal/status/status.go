// Package status provides a thread-safe status tracker for the grow
// controller. The control loop writes it after every tick; the HTTP server
// and MQTT lifecycle messages read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/grow-controller/internal/controller"
	"github.com/sweeney/grow-controller/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// RuleInfo describes a configured schedule rule for display.
type RuleInfo struct {
	ID      logic.RuleID
	Hour    int
	Cadence string
	Channel string
	Timeout time.Duration
}

// Config contains daemon configuration for display.
type Config struct {
	Site        string
	Timezone    string
	TickMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
	EventsTopic string
	Light       logic.LightWindow
	Rules       []RuleInfo
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	BootID        string
	Controller    controller.Snapshot
	Counts        controller.EventCounts
	LastEvent     *controller.Event
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time, boot ID and config.
func NewTracker(startTime time.Time, bootID string, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			BootID:    bootID,
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update stores the controller state and event counts after a tick.
func (t *Tracker) Update(snap controller.Snapshot, counts controller.EventCounts) {
	t.mu.Lock()
	t.snap.Controller = snap
	t.snap.Counts = counts
	t.mu.Unlock()
}

// RecordEvent remembers the most recent controller event.
func (t *Tracker) RecordEvent(e controller.Event) {
	t.mu.Lock()
	t.snap.LastEvent = &e
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.LastEvent != nil {
		e := *s.LastEvent
		s.LastEvent = &e
	}
	s.Now = t.now()
	return s
}
