package controller

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logic"
)

// EventType names something the controller did or observed during a tick.
type EventType string

const (
	EventLightOn         EventType = "LIGHT_ON"
	EventLightOff        EventType = "LIGHT_OFF"
	EventWateringFilled  EventType = "WATERING_FILLED"
	EventWateringTimeout EventType = "WATERING_TIMEOUT"
	EventFlushed         EventType = "FLUSHED"
	EventFertilized      EventType = "FERTILIZED"
	EventMinorError      EventType = "ESCALATION_MINOR"
	EventHalted          EventType = "HALTED"
	EventDayRollover     EventType = "DAY_ROLLOVER"
	EventTimeUnavailable EventType = "TIME_UNAVAILABLE"
	EventTimeRestored    EventType = "TIME_RESTORED"
)

// Event is published after each tick.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType

	// Date and Hour are the wall clock of the tick, empty when time was
	// unavailable.
	Date string
	Hour int

	// Set for actuation events.
	Rule    logic.RuleID
	Channel gpio.Channel
	Outcome logic.Outcome
	Elapsed time.Duration

	// ErrorState is the escalation level after the event.
	ErrorState logic.ErrorState
}

// EventCounts tracks how many events of each type were emitted since startup.
type EventCounts map[EventType]int

// Heartbeat contains information for a heartbeat event.
type Heartbeat struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}

func (c *Controller) emit(typ EventType, fill func(*Event)) {
	e := Event{
		ID:         uuid.NewString(),
		Timestamp:  c.clk.Now(),
		Type:       typ,
		Date:       c.wall.Date,
		Hour:       c.wall.Hour,
		ErrorState: c.esc.State(),
	}
	if !c.wallKnown {
		e.Date, e.Hour = "", 0
	}
	if fill != nil {
		fill(&e)
	}
	c.counts[typ]++
	c.events = append(c.events, e)
}

// CheckHeartbeat returns heartbeat data if interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed
// or interval <= 0 (disabled).
func (c *Controller) CheckHeartbeat(now time.Time, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		return nil
	}
	if now.Sub(c.lastHeartbeat) < interval {
		return nil
	}
	c.lastHeartbeat = now

	return &Heartbeat{
		Timestamp: now,
		Uptime:    now.Sub(c.started),
		Counts:    c.Counts(),
	}
}

// Counts returns a copy of the per-type event counts.
func (c *Controller) Counts() EventCounts {
	counts := make(EventCounts, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}
	return counts
}
