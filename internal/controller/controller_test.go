package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/grow-controller/internal/clock"
	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logic"
	"github.com/sweeney/grow-controller/internal/store"
)

var boot = time.Date(2026, 5, 5, 7, 59, 0, 0, time.UTC)

// at returns the wall clock for a day in May 2026 (May 3 is a Sunday).
func at(day, hour int) clock.Reading {
	return clock.Available(logic.WallClockOf(time.Date(2026, 5, day, hour, 0, 30, 0, time.UTC)))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Watering.FillTimeout = time.Second
	cfg.Watering.FlushDuration = 2 * time.Second
	cfg.Fertilizer.Dose = 3 * time.Second
	return cfg
}

type rig struct {
	ctrl  *Controller
	board *gpio.FakeBoard
	ts    *clock.FakeTimeSource
	clk   *clock.Fake
	runs  *store.Memory
}

func newRig(t *testing.T, cfg Config, readings ...clock.Reading) *rig {
	t.Helper()
	r := &rig{
		board: gpio.NewFakeBoard(),
		ts:    clock.NewFakeTimeSource(readings...),
		clk:   clock.NewFake(boot),
		runs:  store.NewMemory(),
	}
	r.ctrl = New(cfg, r.board, r.ts, r.clk, r.runs, nil)
	return r
}

func types(events []Event) []EventType {
	var out []EventType
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestNewDrivesEverythingOff(t *testing.T) {
	r := newRig(t, testConfig())

	assert.Len(t, r.board.History, len(gpio.Actuators)+len(gpio.Indicators))
	for _, call := range r.board.History {
		assert.False(t, call.On, "%s driven on at startup", call.Channel)
	}
	assert.Zero(t, r.ts.Calls, "no time read before the first tick")
}

func TestLightFollowsWindow(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 9), at(5, 10), at(5, 18), at(5, 19))

	assert.Empty(t, r.ctrl.Tick())
	assert.False(t, r.board.On(gpio.Light))

	assert.Equal(t, []EventType{EventLightOn}, types(r.ctrl.Tick()))
	assert.True(t, r.board.On(gpio.Light))

	assert.Empty(t, r.ctrl.Tick(), "no event while the level holds")
	assert.True(t, r.board.On(gpio.Light))

	events := r.ctrl.Tick()
	assert.Equal(t, []EventType{EventLightOff}, types(events))
	assert.Equal(t, gpio.Light, events[0].Channel)
	assert.Equal(t, 19, events[0].Hour)
	assert.False(t, r.board.On(gpio.Light))

	assert.Equal(t, 5, r.board.SetCount(gpio.Light, true)+r.board.SetCount(gpio.Light, false),
		"driven once at startup and on every tick")
}

func TestWateringFillsThenFlushes(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 8))
	r.board.Script(gpio.WaterLevel, false, false, true)

	events := r.ctrl.Tick()

	require.Equal(t, []EventType{EventWateringFilled, EventFlushed}, types(events))
	assert.Equal(t, logic.RuleWatering, events[0].Rule)
	assert.Equal(t, gpio.MainPump, events[0].Channel)
	assert.Equal(t, logic.OutcomeSuccess, events[0].Outcome)
	assert.Equal(t, 200*time.Millisecond, events[0].Elapsed)
	assert.Equal(t, gpio.FlushValve, events[1].Channel)
	assert.Equal(t, 2*time.Second, events[1].Elapsed)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)

	assert.False(t, r.board.AnyActuatorOn())
	assert.Equal(t, 1, r.board.SetCount(gpio.MainPump, true))
	assert.Equal(t, 1, r.board.SetCount(gpio.FlushValve, true))
	assert.Equal(t, logic.ErrorNormal, r.ctrl.ErrorState())
}

func TestFlushDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Watering.FlushDuration = 0
	r := newRig(t, cfg, at(5, 8))
	r.board.Script(gpio.WaterLevel, true)

	assert.Equal(t, []EventType{EventWateringFilled}, types(r.ctrl.Tick()))
	assert.Zero(t, r.board.SetCount(gpio.FlushValve, true))
}

func TestWateringFiresOncePerDay(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 8), at(5, 8), at(5, 8))
	r.board.Script(gpio.WaterLevel, true)

	assert.NotEmpty(t, r.ctrl.Tick())
	assert.Empty(t, r.ctrl.Tick())
	assert.Empty(t, r.ctrl.Tick())
	assert.Equal(t, 1, r.board.SetCount(gpio.MainPump, true))
}

func TestFillTimeoutHaltsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Light = logic.LightWindow{Start: 6, End: 22, OnHours: 16}
	cfg.Fertilizer.Rule = logic.ScheduleRule{ID: logic.RuleFertilizer, Hour: 10, Cadence: logic.Daily()}
	r := newRig(t, cfg, at(5, 8), at(5, 10), at(6, 8))
	r.board.Script(gpio.WaterLevel, false)

	events := r.ctrl.Tick()

	require.Equal(t, []EventType{EventLightOn, EventWateringTimeout, EventHalted}, types(events))
	assert.Equal(t, logic.OutcomeTimedOut, events[1].Outcome)
	assert.Equal(t, time.Second, events[1].Elapsed)
	assert.Equal(t, logic.ErrorMajor, events[2].ErrorState)
	assert.True(t, r.ctrl.Halted())
	assert.False(t, r.board.AnyActuatorOn(), "halt forces the light off too")
	assert.True(t, r.board.On(gpio.MajorLED))
	assert.Zero(t, r.board.SetCount(gpio.FlushValve, true), "no flush after a major fault")

	calls := r.ts.Calls
	for i := 0; i < 5; i++ {
		assert.Nil(t, r.ctrl.Tick())
		assert.False(t, r.board.AnyActuatorOn())
		assert.True(t, r.board.On(gpio.MajorLED), "control ticks leave the indicator alone")
	}
	lit := r.board.On(gpio.MajorLED)
	for i := 0; i < 5; i++ {
		r.ctrl.HaltStep()
		assert.False(t, r.board.AnyActuatorOn())
		assert.NotEqual(t, lit, r.board.On(gpio.MajorLED), "major indicator blinks")
		lit = r.board.On(gpio.MajorLED)
	}
	assert.Equal(t, calls, r.ts.Calls, "no time reads while halted")
	assert.Equal(t, 1, r.board.SetCount(gpio.MainPump, true))
	assert.Zero(t, r.board.SetCount(gpio.FertilizerPump, true))
}

func TestHaltSkipsFertilizerInSameTick(t *testing.T) {
	cfg := testConfig()
	cfg.Fertilizer.Rule = logic.ScheduleRule{ID: logic.RuleFertilizer, Hour: 8, Cadence: logic.Daily()}
	r := newRig(t, cfg, at(5, 8))
	r.board.Script(gpio.WaterLevel, false)

	assert.Equal(t, []EventType{EventWateringTimeout, EventHalted}, types(r.ctrl.Tick()))
	assert.Zero(t, r.board.SetCount(gpio.FertilizerPump, true))
}

func TestMinorFillTimeoutIsSticky(t *testing.T) {
	cfg := testConfig()
	cfg.Watering.FillSeverity = logic.SeverityMinor
	r := newRig(t, cfg, at(5, 8), at(6, 8))
	r.board.Script(gpio.WaterLevel, false)

	events := r.ctrl.Tick()
	assert.Equal(t, []EventType{EventWateringTimeout, EventMinorError, EventFlushed}, types(events))
	assert.Equal(t, logic.ErrorMinor, r.ctrl.ErrorState())
	assert.True(t, r.board.On(gpio.MinorLED))
	assert.False(t, r.board.On(gpio.MajorLED))
	assert.False(t, r.board.AnyActuatorOn())

	r.board.Script(gpio.WaterLevel, true)
	events = r.ctrl.Tick()
	assert.Equal(t, []EventType{EventDayRollover, EventWateringFilled, EventFlushed}, types(events))
	assert.Equal(t, logic.ErrorMinor, r.ctrl.ErrorState(), "minor never clears")
	assert.True(t, r.board.On(gpio.MinorLED))
}

func TestSameHourWateringBeforeFertilizer(t *testing.T) {
	cfg := testConfig()
	cfg.Fertilizer.Rule = logic.ScheduleRule{ID: logic.RuleFertilizer, Hour: 8, Cadence: logic.Daily()}
	r := newRig(t, cfg, at(5, 8))
	r.board.Script(gpio.WaterLevel, true)

	assert.Equal(t, []EventType{EventWateringFilled, EventFlushed, EventFertilized}, types(r.ctrl.Tick()))

	pump, fert := -1, -1
	for i, call := range r.board.History {
		if call.On && call.Channel == gpio.MainPump && pump < 0 {
			pump = i
		}
		if call.On && call.Channel == gpio.FertilizerPump && fert < 0 {
			fert = i
		}
	}
	assert.Less(t, pump, fert)
}

func TestWeeklyFertilizerOnlyOnSunday(t *testing.T) {
	r := newRig(t, testConfig(), at(2, 9), at(3, 9), at(3, 9), at(4, 9))

	assert.Empty(t, r.ctrl.Tick(), "Saturday")
	events := r.ctrl.Tick()
	assert.Equal(t, []EventType{EventDayRollover, EventFertilized}, types(events))
	assert.Equal(t, 3*time.Second, events[1].Elapsed)
	assert.Empty(t, r.ctrl.Tick(), "already fired Sunday")
	assert.Equal(t, []EventType{EventDayRollover}, types(r.ctrl.Tick()), "Monday")
	assert.Equal(t, 1, r.board.SetCount(gpio.FertilizerPump, true))
}

func TestWateringRefiresAfterMidnight(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 8), at(5, 9), at(5, 23), at(6, 0), at(6, 7), at(6, 8), at(6, 8))
	r.board.Script(gpio.WaterLevel, true)

	var all []EventType
	for i := 0; i < 7; i++ {
		all = append(all, types(r.ctrl.Tick())...)
	}

	assert.Equal(t, []EventType{
		EventWateringFilled, EventFlushed,
		EventDayRollover,
		EventWateringFilled, EventFlushed,
	}, all)
	assert.Equal(t, 2, r.board.SetCount(gpio.MainPump, true))
	assert.Equal(t, []string{"2026-05-06"}, r.runs.Days(), "only today is persisted")
}

func TestOutageOfAMonthStillRollsOver(t *testing.T) {
	june5 := clock.Available(logic.WallClockOf(time.Date(2026, 6, 5, 8, 0, 30, 0, time.UTC)))
	r := newRig(t, testConfig(), at(5, 8), clock.Unavailable(), june5)
	r.board.Script(gpio.WaterLevel, true, true)

	require.Contains(t, types(r.ctrl.Tick()), EventWateringFilled)
	r.ctrl.Tick()
	events := types(r.ctrl.Tick())

	assert.Contains(t, events, EventDayRollover)
	assert.Contains(t, events, EventWateringFilled, "June 5 is a new day")
	assert.Equal(t, 2, r.board.SetCount(gpio.MainPump, true))
}

func TestTimeUnavailableSkipsTick(t *testing.T) {
	r := newRig(t, testConfig(), clock.Unavailable(), clock.Unavailable(), at(5, 10))
	setsAtBoot := len(r.board.History)

	events := r.ctrl.Tick()
	require.Equal(t, []EventType{EventTimeUnavailable}, types(events))
	assert.Empty(t, events[0].Date)
	assert.Len(t, r.board.History, setsAtBoot, "no outputs touched")
	assert.False(t, r.ctrl.Snapshot().ClockKnown)

	assert.Empty(t, r.ctrl.Tick(), "edge only")

	assert.Equal(t, []EventType{EventTimeRestored, EventLightOn}, types(r.ctrl.Tick()))
	assert.True(t, r.ctrl.Snapshot().TimeAvailable)
}

func TestTimeLossHoldsLight(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 12), clock.Unavailable(), clock.Unavailable())

	r.ctrl.Tick()
	require.True(t, r.board.On(gpio.Light))
	r.ctrl.Tick()
	r.ctrl.Tick()

	assert.True(t, r.board.On(gpio.Light), "last level holds while time is unavailable")
	assert.False(t, r.ctrl.Snapshot().TimeAvailable)
}

func TestRestoreAfterSameDayRestart(t *testing.T) {
	runs := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, runs.RecordFired(ctx, "2026-05-04", logic.RuleWatering, boot))
	require.NoError(t, runs.RecordFired(ctx, "2026-05-05", logic.RuleWatering, boot))

	board := gpio.NewFakeBoard()
	board.Script(gpio.WaterLevel, true)
	ctrl := New(testConfig(), board, clock.NewFakeTimeSource(at(5, 8)), clock.NewFake(boot), runs, nil)

	assert.Empty(t, ctrl.Tick())
	assert.Zero(t, board.SetCount(gpio.MainPump, true), "already watered today before the restart")
	assert.True(t, ctrl.Snapshot().Fired[logic.RuleWatering])
	assert.Equal(t, []string{"2026-05-05"}, runs.Days())
}

func TestFiredRulesArePersisted(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 8))
	r.board.Script(gpio.WaterLevel, true)

	r.ctrl.Tick()

	fired, err := r.runs.FiredOn(context.Background(), "2026-05-05")
	require.NoError(t, err)
	assert.Equal(t, []logic.RuleID{logic.RuleWatering}, fired)
}

func TestStoreErrorsDoNotStopTheLoop(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 8))
	r.runs.Err = errors.New("database is locked")
	r.board.Script(gpio.WaterLevel, true)

	assert.Equal(t, []EventType{EventWateringFilled, EventFlushed}, types(r.ctrl.Tick()))
}

func TestNilRunLog(t *testing.T) {
	board := gpio.NewFakeBoard()
	board.Script(gpio.WaterLevel, true)
	ctrl := New(testConfig(), board, clock.NewFakeTimeSource(at(5, 8), at(5, 8)), clock.NewFake(boot), nil, nil)

	assert.NotEmpty(t, ctrl.Tick())
	assert.Empty(t, ctrl.Tick())
}

func TestSnapshot(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 8))
	r.board.Script(gpio.WaterLevel, true)
	r.ctrl.Tick()

	snap := r.ctrl.Snapshot()
	assert.Equal(t, logic.ErrorNormal, snap.ErrorState)
	assert.False(t, snap.Halted)
	assert.True(t, snap.TimeAvailable)
	assert.Equal(t, "2026-05-05", snap.Clock.Date)
	assert.Equal(t, 1, snap.Ticks)
	assert.Equal(t, map[logic.RuleID]bool{logic.RuleWatering: true}, snap.Fired)
	assert.False(t, snap.Outputs[gpio.MainPump])
	assert.Equal(t, logic.OutcomeSuccess, snap.LastResults[gpio.MainPump].Outcome)
	assert.Equal(t, logic.OutcomeSuccess, snap.LastResults[gpio.FlushValve].Outcome)

	snap.Fired[logic.RuleFertilizer] = true
	assert.False(t, r.ctrl.Snapshot().Fired[logic.RuleFertilizer], "snapshot is a copy")
}

func TestHaltedTickDoesNotToggleIndicator(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 8))
	r.board.Script(gpio.WaterLevel, false)
	r.ctrl.Tick()
	require.True(t, r.ctrl.Halted())
	r.board.History = nil

	r.ctrl.HaltStep()
	r.ctrl.Tick()
	r.ctrl.HaltStep()

	assert.Equal(t, []bool{false, true}, majorSets(r.board.History))
	for _, ch := range gpio.Actuators {
		assert.Equal(t, 3, r.board.SetCount(ch, false), "%s re-asserted off every step", ch)
	}
}

func majorSets(history []gpio.SetCall) []bool {
	var out []bool
	for _, c := range history {
		if c.Channel == gpio.MajorLED {
			out = append(out, c.On)
		}
	}
	return out
}

func TestHaltStepNoopUnlessHalted(t *testing.T) {
	r := newRig(t, testConfig())
	n := len(r.board.History)

	r.ctrl.HaltStep()

	assert.Len(t, r.board.History, n)
}

func TestSafeState(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 12))
	r.ctrl.Tick()
	require.True(t, r.board.On(gpio.Light))

	r.ctrl.SafeState()

	assert.False(t, r.board.AnyActuatorOn())
}

func TestCheckHeartbeat(t *testing.T) {
	r := newRig(t, testConfig(), at(5, 12))
	r.ctrl.Tick()

	assert.Nil(t, r.ctrl.CheckHeartbeat(boot.Add(30*time.Second), time.Minute))
	assert.Nil(t, r.ctrl.CheckHeartbeat(boot.Add(time.Hour), 0), "disabled")

	hb := r.ctrl.CheckHeartbeat(boot.Add(time.Minute), time.Minute)
	require.NotNil(t, hb)
	assert.Equal(t, time.Minute, hb.Uptime)
	assert.Equal(t, 1, hb.Counts[EventLightOn])

	assert.Nil(t, r.ctrl.CheckHeartbeat(boot.Add(90*time.Second), time.Minute), "interval restarts")
	assert.NotNil(t, r.ctrl.CheckHeartbeat(boot.Add(2*time.Minute), time.Minute))
}
