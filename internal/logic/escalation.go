package logic

// ErrorState is the escalation level of the controller.
type ErrorState int

const (
	ErrorNormal ErrorState = iota
	ErrorMinor
	ErrorMajor
)

func (s ErrorState) String() string {
	switch s {
	case ErrorNormal:
		return "NORMAL"
	case ErrorMinor:
		return "MINOR"
	case ErrorMajor:
		return "MAJOR"
	}
	return "UNKNOWN"
}

// Escalation is a forward-only state machine: Normal -> Minor -> Major.
// Major is terminal for the lifetime of the process.
type Escalation struct {
	state ErrorState
}

// State returns the current escalation level.
func (e *Escalation) State() ErrorState {
	return e.state
}

// ReportMinor moves Normal to Minor. It returns true if the state changed.
func (e *Escalation) ReportMinor() bool {
	if e.state != ErrorNormal {
		return false
	}
	e.state = ErrorMinor
	return true
}

// ReportMajor moves to Major. It returns true only on first entry, which is
// when the caller must run the halt protocol.
func (e *Escalation) ReportMajor() bool {
	if e.state == ErrorMajor {
		return false
	}
	e.state = ErrorMajor
	return true
}

// Report dispatches on severity. It returns true if the state changed.
func (e *Escalation) Report(sev Severity) bool {
	if sev == SeverityMajor {
		return e.ReportMajor()
	}
	return e.ReportMinor()
}
