// Package mqtt publishes controller events and lifecycle messages to an MQTT
// broker, buffering them while the broker is unreachable.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/grow-controller/internal/controller"
)

// DefaultTopicPrefix is the topic root used when none is configured.
const DefaultTopicPrefix = "hydroponics/grow"

// Topics holds the resolved topic names.
type Topics struct {
	Events string
	System string
}

// TopicsFor derives the event and system topics from a prefix.
func TopicsFor(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Events: prefix + "/events",
		System: prefix + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a controller event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event controller.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Lifecycle event names published on the system topic.
const (
	SystemStartup     = "STARTUP"
	SystemShutdown    = "SHUTDOWN"
	SystemHeartbeat   = "HEARTBEAT"
	SystemHalted      = "HALTED"
	SystemReconnected = "RECONNECTED"
)

// SystemEvent represents a system lifecycle event (startup, shutdown, heartbeat, halt).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM", "FILL_TIMEOUT"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Grow EventPayload `json:"grow"`
}

// EventPayload contains the controller event details.
type EventPayload struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	Date       string `json:"date,omitempty"`
	Hour       *int   `json:"hour,omitempty"`
	Rule       string `json:"rule,omitempty"`
	Channel    string `json:"channel,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	ElapsedMs  *int64 `json:"elapsed_ms,omitempty"`
	ErrorState string `json:"error_state"`
}

// FormatPayload creates the JSON payload for a controller event.
func FormatPayload(event controller.Event) ([]byte, error) {
	p := EventPayload{
		ID:         event.ID,
		Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
		Event:      string(event.Type),
		Date:       event.Date,
		Rule:       string(event.Rule),
		Channel:    string(event.Channel),
		Outcome:    string(event.Outcome),
		ErrorState: event.ErrorState.String(),
	}
	if event.Date != "" {
		hour := event.Hour
		p.Hour = &hour
	}
	if event.Outcome != "" {
		ms := event.Elapsed.Milliseconds()
		p.ElapsedMs = &ms
	}
	return json.Marshal(Payload{Grow: p})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
