package internal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/grow-controller/internal/clock"
	"github.com/sweeney/grow-controller/internal/controller"
	"github.com/sweeney/grow-controller/internal/gpio"
	"github.com/sweeney/grow-controller/internal/logic"
	"github.com/sweeney/grow-controller/internal/mqtt"
	"github.com/sweeney/grow-controller/internal/status"
	"github.com/sweeney/grow-controller/internal/store"
	"github.com/sweeney/grow-controller/internal/telemetry"
)

var boot = time.Date(2026, 5, 3, 6, 59, 0, 0, time.UTC)

// at returns the wall clock for a day in May 2026 (May 3 is a Sunday).
func at(day, hour int) clock.Reading {
	return clock.Available(logic.WallClockOf(time.Date(2026, 5, day, hour, 0, 30, 0, time.UTC)))
}

func testConfig() controller.Config {
	cfg := controller.DefaultConfig()
	cfg.Watering.FillTimeout = time.Second
	cfg.Watering.FlushDuration = 2 * time.Second
	cfg.Fertilizer.Dose = 3 * time.Second
	return cfg
}

func openStore(t *testing.T, path string) *store.SQLite {
	t.Helper()
	db, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// tickAll runs one tick per reading and publishes what the controller emits.
func tickAll(ctrl *controller.Controller, pub mqtt.Publisher, n int) []controller.Event {
	var all []controller.Event
	for i := 0; i < n; i++ {
		for _, e := range ctrl.Tick() {
			pub.Publish(e) //nolint:errcheck
			all = append(all, e)
		}
	}
	return all
}

func eventTypes(events []controller.Event) []controller.EventType {
	var out []controller.EventType
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

// TestIntegrationSundayThenMonday runs the stock schedule hour by hour
// through a Sunday and into Monday morning.
func TestIntegrationSundayThenMonday(t *testing.T) {
	var readings []clock.Reading
	for h := 7; h <= 23; h++ {
		readings = append(readings, at(3, h))
	}
	readings = append(readings, at(4, 8))

	board := gpio.NewFakeBoard()
	board.Script(gpio.WaterLevel, true)
	db := openStore(t, filepath.Join(t.TempDir(), "runs.db"))
	pub := mqtt.NewFakePublisher()

	ctrl := controller.New(testConfig(), board, clock.NewFakeTimeSource(readings...), clock.NewFake(boot), db, nil)
	events := tickAll(ctrl, pub, len(readings))

	assert.Equal(t, []controller.EventType{
		controller.EventWateringFilled, // 08:00
		controller.EventFlushed,
		controller.EventFertilized, // 09:00 Sunday
		controller.EventLightOn,    // 10:00
		controller.EventLightOff,   // 19:00, nine hours later
		controller.EventDayRollover,
		controller.EventWateringFilled, // Monday 08:00
		controller.EventFlushed,
	}, eventTypes(events))
	assert.Len(t, pub.Events, len(events))

	assert.Equal(t, 2, board.SetCount(gpio.MainPump, true))
	assert.Equal(t, 1, board.SetCount(gpio.FertilizerPump, true))
	assert.Equal(t, 1, board.SetCount(gpio.Light, true))
	assert.False(t, board.AnyActuatorOn())
	assert.Equal(t, logic.ErrorNormal, ctrl.ErrorState())

	ctx := context.Background()
	monday, err := db.FiredOn(ctx, "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, []logic.RuleID{logic.RuleWatering}, monday)
	sunday, err := db.FiredOn(ctx, "2026-05-03")
	require.NoError(t, err)
	assert.Empty(t, sunday, "only today's flags are kept")
}

// TestIntegrationRestartDoesNotDoubleWater reboots the controller inside
// the watering hour and checks the persisted flag suppresses a second fill.
func TestIntegrationRestartDoesNotDoubleWater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	board := gpio.NewFakeBoard()
	board.Script(gpio.WaterLevel, true)
	db := openStore(t, path)
	first := controller.New(testConfig(), board, clock.NewFakeTimeSource(at(5, 8)), clock.NewFake(boot), db, nil)
	assert.Equal(t, []controller.EventType{controller.EventWateringFilled, controller.EventFlushed}, eventTypes(first.Tick()))
	require.NoError(t, db.Close())

	board2 := gpio.NewFakeBoard()
	board2.Script(gpio.WaterLevel, true)
	db2 := openStore(t, path)
	second := controller.New(testConfig(), board2, clock.NewFakeTimeSource(at(5, 8)), clock.NewFake(boot), db2, nil)

	assert.Empty(t, second.Tick())
	assert.Zero(t, board2.SetCount(gpio.MainPump, true))
	assert.True(t, second.Snapshot().Fired[logic.RuleWatering])
}

// TestIntegrationFillTimeoutHalts checks the halt path end to end: payloads,
// status JSON and telemetry points.
func TestIntegrationFillTimeoutHalts(t *testing.T) {
	board := gpio.NewFakeBoard()
	board.Script(gpio.WaterLevel, false)
	pub := mqtt.NewFakePublisher()
	ts := clock.NewFakeTimeSource(at(5, 8), at(5, 9))

	ctrl := controller.New(testConfig(), board, ts, clock.NewFake(boot), store.NewMemory(), nil)
	events := tickAll(ctrl, pub, 3)

	require.Equal(t, []controller.EventType{controller.EventWateringTimeout, controller.EventHalted}, eventTypes(events))
	assert.True(t, ctrl.Halted())
	assert.Equal(t, 1, ts.Calls, "halted ticks do not read time")
	assert.False(t, board.AnyActuatorOn())

	var timeout mqtt.Payload
	require.NoError(t, json.Unmarshal(pub.Payloads[0], &timeout))
	assert.Equal(t, "WATERING_TIMEOUT", timeout.Grow.Event)
	assert.Equal(t, "main_pump", timeout.Grow.Channel)
	assert.Equal(t, "TIMED_OUT", timeout.Grow.Outcome)
	require.NotNil(t, timeout.Grow.ElapsedMs)
	assert.GreaterOrEqual(t, *timeout.Grow.ElapsedMs, int64(1000))
	assert.Equal(t, "2026-05-05", timeout.Grow.Date)

	var halted mqtt.Payload
	require.NoError(t, json.Unmarshal(pub.Payloads[1], &halted))
	assert.Equal(t, "HALTED", halted.Grow.Event)
	assert.Equal(t, "MAJOR", halted.Grow.ErrorState)

	tracker := status.NewTracker(boot, "boot-1", status.Config{Site: "rack1"})
	tracker.Update(ctrl.Snapshot(), ctrl.Counts())
	var sj status.StatusJSON
	require.NoError(t, json.Unmarshal(status.FormatJSON(tracker.Snapshot()), &sj))
	assert.True(t, sj.Status.Halted)
	assert.Equal(t, "MAJOR", sj.Status.ErrorState)
	assert.Equal(t, "ON", sj.Status.Outputs["major_led"])
	assert.Equal(t, "OFF", sj.Status.Outputs["main_pump"])
	assert.Equal(t, "TIMED_OUT", sj.Status.LastResults["main_pump"].Outcome)

	p := telemetry.EventPoint(events[0], "rack1")
	assert.Equal(t, "grow_events", p.Name())
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{
		"site": "rack1", "event": "WATERING_TIMEOUT", "rule": "watering", "channel": "main_pump",
	}, tags)
}

// TestIntegrationPublishFailureDoesNotStopSchedule keeps ticking with a
// broker that rejects everything.
func TestIntegrationPublishFailureDoesNotStopSchedule(t *testing.T) {
	board := gpio.NewFakeBoard()
	board.Script(gpio.WaterLevel, true)
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("connection refused")

	ctrl := controller.New(testConfig(), board, clock.NewFakeTimeSource(at(3, 8), at(3, 9), at(3, 10)), clock.NewFake(boot), nil, nil)
	events := tickAll(ctrl, pub, 3)

	assert.Len(t, events, 4)
	assert.Empty(t, pub.Events)
	assert.True(t, board.On(gpio.Light))
}

// TestIntegrationTimeOutageMidDay loses NTP sync across the watering hour
// and checks the rule is skipped rather than caught up.
func TestIntegrationTimeOutageMidDay(t *testing.T) {
	board := gpio.NewFakeBoard()
	board.Script(gpio.WaterLevel, true)
	pub := mqtt.NewFakePublisher()
	ts := clock.NewFakeTimeSource(at(5, 7), clock.Unavailable(), clock.Unavailable(), at(5, 9))

	ctrl := controller.New(testConfig(), board, ts, clock.NewFake(boot), nil, nil)
	events := tickAll(ctrl, pub, 4)

	assert.Equal(t, []controller.EventType{controller.EventTimeUnavailable, controller.EventTimeRestored}, eventTypes(events))
	assert.Zero(t, board.SetCount(gpio.MainPump, true), "missed hour is not caught up")

	var unavailable mqtt.Payload
	require.NoError(t, json.Unmarshal(pub.Payloads[0], &unavailable))
	assert.Empty(t, unavailable.Grow.Date)
	assert.Nil(t, unavailable.Grow.Hour)
}
