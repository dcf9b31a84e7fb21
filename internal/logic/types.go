// Package logic contains the pure decision rules of the grow controller.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Wall-clock time is always injected as a WallClock value.
package logic

import (
	"fmt"
	"strings"
	"time"
)

// State represents the logical state of an actuator channel.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a commanded level to a State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// WallClock is the local wall-clock reading supplied by a TimeSource.
type WallClock struct {
	Hour    int          // 0..23
	Day     int          // day of month, 1..31
	Weekday time.Weekday // 0 = Sunday
	Date    string       // YYYY-MM-DD, used as the persistence key for the day
}

// WallClockOf derives a WallClock from t in t's own location.
func WallClockOf(t time.Time) WallClock {
	return WallClock{
		Hour:    t.Hour(),
		Day:     t.Day(),
		Weekday: t.Weekday(),
		Date:    t.Format("2006-01-02"),
	}
}

// Severity is the escalation level reported when an actuation times out.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// ParseSeverity parses "minor" or "major" (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityMinor:
		return SeverityMinor, nil
	case SeverityMajor:
		return SeverityMajor, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Outcome is the result of a single actuation attempt.
type Outcome string

const (
	OutcomeSuccess  Outcome = "SUCCESS"
	OutcomeTimedOut Outcome = "TIMED_OUT"
)

// RuleID identifies a schedule rule in DayRunState.
type RuleID string

const (
	RuleWatering   RuleID = "watering"
	RuleFertilizer RuleID = "fertilizer"
)

// Cadence selects whether a rule applies every day or on one weekday.
type Cadence struct {
	Weekly  bool
	Weekday time.Weekday // only meaningful when Weekly
}

// Daily returns the every-day cadence.
func Daily() Cadence { return Cadence{} }

// Weekly returns a cadence that only matches the given weekday.
func Weekly(d time.Weekday) Cadence { return Cadence{Weekly: true, Weekday: d} }

// String renders the cadence for logs and status output.
func (c Cadence) String() string {
	if !c.Weekly {
		return "daily"
	}
	return "weekly on " + c.Weekday.String()
}

// ParseWeekday parses an English weekday name or a number 0..6.
// An empty string means the rule is daily.
func ParseWeekday(s string) (Cadence, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "daily" {
		return Daily(), nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] || s == fmt.Sprint(int(d)) {
			return Weekly(d), nil
		}
	}
	return Cadence{}, fmt.Errorf("unknown weekday %q", s)
}

// ScheduleRule fires once at a trigger hour, daily or on one weekday.
type ScheduleRule struct {
	ID      RuleID
	Hour    int
	Cadence Cadence
}

// LightWindow describes when the grow light may be on.
// The light is on from Start for OnHours hours, but never at or past End.
type LightWindow struct {
	Start   int
	End     int
	OnHours int
}
