// Package clock provides the time collaborators of the controller: a
// monotonic Clock used to bound actuations, and a TimeSource supplying the
// local wall clock used by the schedule.
package clock

import "time"

// Clock measures elapsed time and blocks.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real is the system clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a manual clock. Sleep advances the clock instantly.
// Not safe for concurrent use.
type Fake struct {
	now    time.Time
	Slept  time.Duration
	Sleeps int

	// OnSleep, if set, runs after every Sleep with the new time.
	OnSleep func(now time.Time)
}

// NewFake returns a Fake starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time { return f.now }

// Sleep advances the fake time by d.
func (f *Fake) Sleep(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.now = f.now.Add(d)
	f.Slept += d
	f.Sleeps++
	if f.OnSleep != nil {
		f.OnSleep(f.now)
	}
}

// Advance moves the fake time forward without counting as a Sleep.
func (f *Fake) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}
