package logic

// DayRunState tracks which schedule rules have already fired on the
// current day. Flags reset whenever the observed calendar date changes.
type DayRunState struct {
	date     string
	observed bool
	fired    map[RuleID]bool
}

// NewDayRunState returns an empty state with no day observed yet.
func NewDayRunState() *DayRunState {
	return &DayRunState{fired: make(map[RuleID]bool)}
}

// Observe records the current day. It returns true when the date differs
// from the previously observed one, in which case all flags have been
// cleared. The full date is compared so an outage spanning a month (same
// day of month, different date) still rolls over. The very first
// observation is not a rollover.
func (s *DayRunState) Observe(now WallClock) bool {
	if !s.observed {
		s.observed = true
		s.date = now.Date
		return false
	}
	if now.Date == s.date {
		return false
	}
	s.date = now.Date
	s.fired = make(map[RuleID]bool)
	return true
}

// Observed reports whether any day has been observed yet.
func (s *DayRunState) Observed() bool {
	return s.observed
}

// Date returns the last observed date ("" if none).
func (s *DayRunState) Date() string {
	return s.date
}

// Fired reports whether the rule already fired today.
func (s *DayRunState) Fired(id RuleID) bool {
	return s.fired[id]
}

// MarkFired sets the rule's flag for today.
func (s *DayRunState) MarkFired(id RuleID) {
	s.fired[id] = true
}

// Snapshot returns a copy of the flags.
func (s *DayRunState) Snapshot() map[RuleID]bool {
	out := make(map[RuleID]bool, len(s.fired))
	for id, v := range s.fired {
		out[id] = v
	}
	return out
}

// ShouldFire reports whether rule should fire at now.
//
// The hour must match exactly: the hour is the trigger edge and the day
// flag is the dedup. A rule whose hour was missed (loop halted, clock
// jumped) is skipped for that day.
func ShouldFire(rule ScheduleRule, now WallClock, state *DayRunState) bool {
	if now.Hour != rule.Hour {
		return false
	}
	if rule.Cadence.Weekly && now.Weekday != rule.Cadence.Weekday {
		return false
	}
	return !state.Fired(rule.ID)
}
