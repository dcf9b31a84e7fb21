// Package controller runs one control tick at a time: it reads the wall
// clock, drives the grow light, fires the watering and fertilizer rules,
// and applies the error escalation policy. All state is owned by the
// goroutine calling Tick.
package controller

import (
	"context"
	"time"

	"github.com/sweeney/grow-controller/internal/actuator"
	"github.com/sweeney/grow-controller/internal/clock"
	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logging"
	"github.com/sweeney/grow-controller/internal/logic"
)

// storeTimeout bounds each day-run store call made from the tick.
const storeTimeout = 2 * time.Second

// Watering binds the watering rule to its fill and flush actuations.
type Watering struct {
	Rule          logic.ScheduleRule
	FillTimeout   time.Duration
	FillSeverity  logic.Severity
	FlushDuration time.Duration // 0 disables the flush
	FlushSeverity logic.Severity
}

// Fertilizer binds the fertilizer rule to its timed dose.
type Fertilizer struct {
	Rule     logic.ScheduleRule
	Dose     time.Duration
	Severity logic.Severity
}

// Config is the immutable controller configuration.
type Config struct {
	Light            logic.LightWindow
	Watering         Watering
	Fertilizer       Fertilizer
	SensorPoll       time.Duration
	WaterLevelTarget bool // level that ends a fill
}

// DefaultConfig returns the stock schedule: light 10:00 to 19:00, water
// daily at 08:00, fertilize Sundays at 09:00.
func DefaultConfig() Config {
	return Config{
		Light: logic.LightWindow{Start: 10, End: 22, OnHours: 9},
		Watering: Watering{
			Rule:          logic.ScheduleRule{ID: logic.RuleWatering, Hour: 8, Cadence: logic.Daily()},
			FillTimeout:   2 * time.Minute,
			FillSeverity:  logic.SeverityMajor,
			FlushDuration: 10 * time.Minute,
			FlushSeverity: logic.SeverityMinor,
		},
		Fertilizer: Fertilizer{
			Rule:     logic.ScheduleRule{ID: logic.RuleFertilizer, Hour: 9, Cadence: logic.Weekly(time.Sunday)},
			Dose:     30 * time.Second,
			Severity: logic.SeverityMinor,
		},
		SensorPoll:       actuator.DefaultPollInterval,
		WaterLevelTarget: true,
	}
}

// RunLog persists which rules fired on a given day.
type RunLog interface {
	FiredOn(ctx context.Context, day string) ([]logic.RuleID, error)
	RecordFired(ctx context.Context, day string, rule logic.RuleID, at time.Time) error
	RetainOnly(ctx context.Context, day string) error
}

// Hardware is the subset of a gpio.Board the controller drives.
type Hardware interface {
	gpio.Outputs
	gpio.Inputs
}

// Snapshot is a copy of the controller state for status reporting.
type Snapshot struct {
	ErrorState    logic.ErrorState
	Halted        bool
	TimeAvailable bool
	Clock         logic.WallClock
	ClockKnown    bool
	Outputs       map[gpio.Channel]bool
	Fired         map[logic.RuleID]bool
	LastResults   map[gpio.Channel]actuator.Result
	Ticks         int
}

// Controller owns the control state. It is not safe for concurrent use.
type Controller struct {
	cfg  Config
	out  *trackedOutputs
	ts   clock.TimeSource
	clk  clock.Clock
	runs RunLog
	log  *logging.Logger
	act  *actuator.Actuator

	esc  logic.Escalation
	days *logic.DayRunState

	wall          logic.WallClock
	wallKnown     bool
	timeLost      bool
	lightOn       bool
	majorLit      bool
	ticks         int
	lastResults   map[gpio.Channel]actuator.Result
	pendingEscal  []EventType
	events        []Event
	counts        EventCounts
	started       time.Time
	lastHeartbeat time.Time
}

// New creates a Controller and drives every output off. runs may be nil,
// in which case fired flags live only in memory.
func New(cfg Config, hw Hardware, ts clock.TimeSource, clk clock.Clock, runs RunLog, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Discard()
	}
	out := &trackedOutputs{out: hw, levels: make(map[gpio.Channel]bool)}
	c := &Controller{
		cfg:         cfg,
		out:         out,
		ts:          ts,
		clk:         clk,
		runs:        runs,
		log:         log.With("component", "controller"),
		days:        logic.NewDayRunState(),
		lastResults: make(map[gpio.Channel]actuator.Result),
		counts:      make(EventCounts),
	}
	c.act = actuator.New(out, hw, clk, c, cfg.SensorPoll, log.With("component", "actuator"))
	c.started = clk.Now()
	c.lastHeartbeat = c.started
	c.SafeState()
	return c
}

// SafeState drives every actuator and indicator off.
func (c *Controller) SafeState() {
	for _, ch := range gpio.Actuators {
		c.set(ch, false)
	}
	for _, ch := range gpio.Indicators {
		c.set(ch, false)
	}
	c.lightOn = false
	c.majorLit = false
}

// Tick runs one pass of the control loop and returns the events it produced.
//
// Order within a tick: escalation check, time read, day rollover, light,
// watering, fertilizer. While halted a tick only re-asserts the
// actuators off; the major indicator is left to HaltStep.
func (c *Controller) Tick() []Event {
	c.events = nil

	if c.Halted() {
		c.holdOff()
		return nil
	}
	c.ticks++

	if c.esc.State() == logic.ErrorMinor {
		c.set(gpio.MinorLED, true)
	}

	wc, err := c.ts.Now()
	if err != nil {
		if !c.timeLost {
			c.timeLost = true
			c.log.Warn("wall time unavailable, skipping ticks", "error", err)
			c.emit(EventTimeUnavailable, func(e *Event) { e.Date, e.Hour = "", 0 })
		}
		return c.events
	}

	c.wall, c.wallKnown = wc, true
	if c.timeLost {
		c.timeLost = false
		c.log.Info("wall time restored", "date", wc.Date, "hour", wc.Hour)
		c.emit(EventTimeRestored, nil)
	}

	c.observeDay(wc)
	c.driveLight(wc)

	if logic.ShouldFire(c.cfg.Watering.Rule, wc, c.days) {
		c.water(wc)
	}
	if c.Halted() {
		return c.events
	}

	if logic.ShouldFire(c.cfg.Fertilizer.Rule, wc, c.days) {
		c.fertilize(wc)
	}
	return c.events
}

func (c *Controller) observeDay(wc logic.WallClock) {
	if !c.days.Observed() {
		c.days.Observe(wc)
		c.restore(wc.Date)
		return
	}
	if c.days.Observe(wc) {
		c.log.Info("day rollover, schedule flags reset", "date", wc.Date)
		c.emit(EventDayRollover, nil)
		c.retain(wc.Date)
	}
}

// restore reloads today's fired flags after a restart.
func (c *Controller) restore(date string) {
	if c.runs == nil {
		return
	}
	c.retain(date)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	fired, err := c.runs.FiredOn(ctx, date)
	if err != nil {
		c.log.Error("failed to restore day runs", "date", date, "error", err)
		return
	}
	for _, id := range fired {
		c.days.MarkFired(id)
	}
	if len(fired) > 0 {
		c.log.Info("restored day runs", "date", date, "rules", fired)
	}
}

func (c *Controller) retain(date string) {
	if c.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.runs.RetainOnly(ctx, date); err != nil {
		c.log.Error("failed to prune day runs", "date", date, "error", err)
	}
}

func (c *Controller) markFired(id logic.RuleID, wc logic.WallClock) {
	c.days.MarkFired(id)
	if c.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.runs.RecordFired(ctx, wc.Date, id, c.clk.Now()); err != nil {
		c.log.Error("failed to persist day run", "rule", id, "error", err)
	}
}

func (c *Controller) driveLight(wc logic.WallClock) {
	on := logic.IsLightOn(wc.Hour, c.cfg.Light)
	c.set(gpio.Light, on)
	if on == c.lightOn {
		return
	}
	c.lightOn = on
	typ := EventLightOff
	if on {
		typ = EventLightOn
	}
	c.log.Info("grow light switched", "state", logic.StateOf(on), "hour", wc.Hour)
	c.emit(typ, func(e *Event) { e.Channel = gpio.Light })
}

func (c *Controller) water(wc logic.WallClock) {
	w := c.cfg.Watering
	c.markFired(w.Rule.ID, wc)
	c.log.Info("watering rule fired", "hour", wc.Hour, "cadence", w.Rule.Cadence)

	res := c.act.Activate(actuator.Request{
		Channel:  gpio.MainPump,
		Timeout:  w.FillTimeout,
		Gate:     &actuator.Gate{Sensor: gpio.WaterLevel, Target: c.cfg.WaterLevelTarget},
		Severity: w.FillSeverity,
	})
	typ := EventWateringFilled
	if res.Outcome == logic.OutcomeTimedOut {
		typ = EventWateringTimeout
	}
	c.recordResult(typ, w.Rule.ID, res)

	if c.Halted() || w.FlushDuration <= 0 {
		return
	}
	res = c.act.Activate(actuator.Request{
		Channel:  gpio.FlushValve,
		Timeout:  w.FlushDuration,
		Severity: w.FlushSeverity,
	})
	c.recordResult(EventFlushed, w.Rule.ID, res)
}

func (c *Controller) fertilize(wc logic.WallClock) {
	f := c.cfg.Fertilizer
	c.markFired(f.Rule.ID, wc)
	c.log.Info("fertilizer rule fired", "hour", wc.Hour, "cadence", f.Rule.Cadence)

	res := c.act.Activate(actuator.Request{
		Channel:  gpio.FertilizerPump,
		Timeout:  f.Dose,
		Severity: f.Severity,
	})
	c.recordResult(EventFertilized, f.Rule.ID, res)
}

// recordResult emits the actuation event followed by any escalation the
// actuation raised.
func (c *Controller) recordResult(typ EventType, rule logic.RuleID, res actuator.Result) {
	c.lastResults[res.Channel] = res
	c.emit(typ, func(e *Event) {
		e.Rule = rule
		e.Channel = res.Channel
		e.Outcome = res.Outcome
		e.Elapsed = res.Elapsed
	})
	for _, esc := range c.pendingEscal {
		c.emit(esc, nil)
	}
	c.pendingEscal = nil
}

// Raise applies a timed-out actuation's severity. A first Major runs the
// halt protocol before returning.
func (c *Controller) Raise(sev logic.Severity) {
	switch sev {
	case logic.SeverityMajor:
		if !c.esc.ReportMajor() {
			return
		}
		c.enterHalt()
		c.pendingEscal = append(c.pendingEscal, EventHalted)
	default:
		if !c.esc.ReportMinor() {
			return
		}
		c.log.Warn("minor error raised")
		c.set(gpio.MinorLED, true)
		c.pendingEscal = append(c.pendingEscal, EventMinorError)
	}
}

func (c *Controller) enterHalt() {
	c.log.Error("major error, halting all actuators until restart")
	c.holdOff()
	c.lightOn = false
	c.majorLit = true
	c.set(gpio.MajorLED, true)
}

// HaltStep is one blink period of the halt protocol: it re-asserts every
// actuator off and toggles the major indicator. Call it from a fixed-period
// ticker only. It does nothing unless the controller is halted.
func (c *Controller) HaltStep() {
	if !c.Halted() {
		return
	}
	c.holdOff()
	c.majorLit = !c.majorLit
	c.set(gpio.MajorLED, c.majorLit)
}

func (c *Controller) holdOff() {
	for _, ch := range gpio.Actuators {
		c.set(ch, false)
	}
}

// Halted reports whether a Major error has stopped the controller.
func (c *Controller) Halted() bool {
	return c.esc.State() == logic.ErrorMajor
}

// ErrorState returns the current escalation level.
func (c *Controller) ErrorState() logic.ErrorState {
	return c.esc.State()
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	results := make(map[gpio.Channel]actuator.Result, len(c.lastResults))
	for ch, r := range c.lastResults {
		results[ch] = r
	}
	return Snapshot{
		ErrorState:    c.esc.State(),
		Halted:        c.Halted(),
		TimeAvailable: c.wallKnown && !c.timeLost,
		Clock:         c.wall,
		ClockKnown:    c.wallKnown,
		Outputs:       c.out.snapshot(),
		Fired:         c.days.Snapshot(),
		LastResults:   results,
		Ticks:         c.ticks,
	}
}

func (c *Controller) set(ch gpio.Channel, on bool) {
	if err := c.out.Set(ch, on); err != nil {
		c.log.Error("output write failed", "channel", ch, "on", on, "error", err)
	}
}

// trackedOutputs remembers the last commanded level of every channel.
type trackedOutputs struct {
	out    gpio.Outputs
	levels map[gpio.Channel]bool
}

func (t *trackedOutputs) Set(ch gpio.Channel, on bool) error {
	t.levels[ch] = on
	return t.out.Set(ch, on)
}

func (t *trackedOutputs) snapshot() map[gpio.Channel]bool {
	out := make(map[gpio.Channel]bool, len(t.levels))
	for ch, on := range t.levels {
		out[ch] = on
	}
	return out
}
