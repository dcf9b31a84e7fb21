// Package actuator energizes one output channel at a time, either for a
// fixed duration or until a gating sensor reaches its target level, with a
// mandatory timeout. Activate blocks the caller for the whole actuation.
package actuator

import (
	"time"

	"github.com/sweeney/grow-controller/internal/clock"
	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logic"
)

// DefaultPollInterval is how often a gating sensor is sampled.
const DefaultPollInterval = 100 * time.Millisecond

// Gate terminates an actuation when Sensor reads Target.
type Gate struct {
	Sensor gpio.Channel
	Target bool
}

// Request describes one actuation. A nil Gate makes it timer-only.
type Request struct {
	Channel  gpio.Channel
	Timeout  time.Duration
	Gate     *Gate
	Severity logic.Severity
}

// Result is the outcome of one actuation.
type Result struct {
	Channel  gpio.Channel
	Outcome  logic.Outcome
	Gated    bool
	Severity logic.Severity
	Started  time.Time
	Elapsed  time.Duration
}

// Escalator receives the severity of a timed-out actuation.
type Escalator interface {
	Raise(sev logic.Severity)
}

// Logger is satisfied by *slog.Logger and *logging.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Actuator drives gated and timer-only actuations.
type Actuator struct {
	out       gpio.Outputs
	in        gpio.Inputs
	clk       clock.Clock
	escalator Escalator
	poll      time.Duration
	log       Logger
}

// New creates an Actuator. poll <= 0 selects DefaultPollInterval.
func New(out gpio.Outputs, in gpio.Inputs, clk clock.Clock, escalator Escalator, poll time.Duration, log Logger) *Actuator {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Actuator{
		out:       out,
		in:        in,
		clk:       clk,
		escalator: escalator,
		poll:      poll,
		log:       log,
	}
}

// Activate energizes req.Channel and returns once it is off again.
//
// Without a gate the channel is held on for req.Timeout and the result is
// always Success. With a gate the sensor is sampled until it reads the
// target (Success) or req.Timeout elapses (TimedOut, severity raised once).
// The channel is off before Activate returns on every path.
func (a *Actuator) Activate(req Request) Result {
	res := Result{
		Channel:  req.Channel,
		Gated:    req.Gate != nil,
		Severity: req.Severity,
		Started:  a.clk.Now(),
	}

	defer a.set(req.Channel, false)
	a.set(req.Channel, true)

	if req.Gate == nil {
		a.clk.Sleep(req.Timeout)
		res.Outcome = logic.OutcomeSuccess
		res.Elapsed = a.clk.Now().Sub(res.Started)
		a.log.Info("timed actuation complete", "channel", req.Channel, "elapsed", res.Elapsed)
		return res
	}

	res.Outcome = a.waitForGate(req, res.Started)
	res.Elapsed = a.clk.Now().Sub(res.Started)

	if res.Outcome == logic.OutcomeTimedOut {
		// Off before escalating so a halt never races an energized channel.
		a.set(req.Channel, false)
		a.log.Error("gated actuation timed out",
			"channel", req.Channel, "sensor", req.Gate.Sensor,
			"timeout", req.Timeout, "severity", req.Severity)
		if a.escalator != nil {
			a.escalator.Raise(req.Severity)
		}
		return res
	}

	a.log.Info("gated actuation complete", "channel", req.Channel, "sensor", req.Gate.Sensor, "elapsed", res.Elapsed)
	return res
}

// waitForGate polls the sensor, then the deadline, each iteration. Sleeps
// are clamped to the remaining time so the timeout bound is exact.
func (a *Actuator) waitForGate(req Request, started time.Time) logic.Outcome {
	for {
		v, err := a.in.Read(req.Gate.Sensor)
		if err != nil {
			a.log.Warn("gate sensor read failed", "sensor", req.Gate.Sensor, "error", err)
		} else if v == req.Gate.Target {
			return logic.OutcomeSuccess
		}

		remaining := req.Timeout - a.clk.Now().Sub(started)
		if remaining <= 0 {
			return logic.OutcomeTimedOut
		}
		step := a.poll
		if remaining < step {
			step = remaining
		}
		a.clk.Sleep(step)
	}
}

func (a *Actuator) set(ch gpio.Channel, on bool) {
	if err := a.out.Set(ch, on); err != nil {
		a.log.Error("output write failed", "channel", ch, "on", on, "error", err)
	}
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
