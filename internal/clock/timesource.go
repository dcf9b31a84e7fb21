package clock

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // Pi images may ship without zoneinfo

	"github.com/sweeney/grow-controller/internal/logic"
)

// ErrTimeUnavailable is returned when the wall clock cannot be trusted yet.
var ErrTimeUnavailable = errors.New("clock: wall time unavailable")

// minValidYear rejects clocks that were never set. A Pi without an RTC
// boots at the last fake-hwclock save or the epoch.
const minValidYear = 2024

// TimeSource supplies the current local wall clock.
type TimeSource interface {
	Now() (logic.WallClock, error)
}

// SystemTimeSource reads the system clock in a fixed location.
type SystemTimeSource struct {
	loc         *time.Location
	requireSync bool
	now         func() time.Time
	synced      func() (bool, error)
}

// NewSystemTimeSource returns a TimeSource for the named IANA timezone.
// When requireSync is set, the wall clock is reported unavailable until the
// kernel says NTP has synchronized it.
func NewSystemTimeSource(timezone string, requireSync bool) (*SystemTimeSource, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	return &SystemTimeSource{
		loc:         loc,
		requireSync: requireSync,
		now:         time.Now,
		synced:      kernelSynced,
	}, nil
}

// Location returns the configured timezone.
func (s *SystemTimeSource) Location() *time.Location {
	return s.loc
}

// Now returns the local wall clock or ErrTimeUnavailable.
func (s *SystemTimeSource) Now() (logic.WallClock, error) {
	t := s.now().In(s.loc)
	if t.Year() < minValidYear {
		return logic.WallClock{}, fmt.Errorf("%w: clock reads %s", ErrTimeUnavailable, t.Format(time.RFC3339))
	}
	if s.requireSync {
		ok, err := s.synced()
		if err != nil {
			return logic.WallClock{}, fmt.Errorf("%w: %w", ErrTimeUnavailable, err)
		}
		if !ok {
			return logic.WallClock{}, fmt.Errorf("%w: not synchronized", ErrTimeUnavailable)
		}
	}
	return logic.WallClockOf(t), nil
}

// FakeTimeSource returns scripted readings. Each call consumes the next
// reading; once exhausted the last one repeats.
type FakeTimeSource struct {
	Readings []Reading
	Calls    int
	index    int
}

// Reading is one scripted TimeSource result.
type Reading struct {
	Clock logic.WallClock
	Err   error
}

// Available wraps a wall clock as a successful reading.
func Available(wc logic.WallClock) Reading { return Reading{Clock: wc} }

// Unavailable is a reading that fails with ErrTimeUnavailable.
func Unavailable() Reading { return Reading{Err: ErrTimeUnavailable} }

// NewFakeTimeSource creates a FakeTimeSource with the given readings.
func NewFakeTimeSource(readings ...Reading) *FakeTimeSource {
	return &FakeTimeSource{Readings: readings}
}

// Now returns the next scripted reading.
func (f *FakeTimeSource) Now() (logic.WallClock, error) {
	f.Calls++
	if len(f.Readings) == 0 {
		return logic.WallClock{}, ErrTimeUnavailable
	}
	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r.Clock, r.Err
}

// Push appends readings to the script.
func (f *FakeTimeSource) Push(readings ...Reading) {
	f.Readings = append(f.Readings, readings...)
}
