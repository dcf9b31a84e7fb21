package gpio

import "fmt"

// FakeBoard is a test double that records output levels and returns
// scripted input values.
type FakeBoard struct {
	// Levels holds the last commanded level of each output channel.
	Levels map[Channel]bool

	// History records every Set call in order.
	History []SetCall

	// Samples contains scripted values per input channel. Each Read
	// consumes the next sample; once exhausted the last one repeats.
	Samples map[Channel][]bool

	// Reads counts Read calls per channel.
	Reads map[Channel]int

	// SetError, if set, is returned by Set after the level is recorded.
	SetError error

	// ReadError, if set, will be returned by Read()
	ReadError error

	// Closed tracks if Close was called
	Closed bool

	index map[Channel]int
}

// SetCall is one recorded Set invocation.
type SetCall struct {
	Channel Channel
	On      bool
}

// NewFakeBoard creates a FakeBoard with all outputs off.
func NewFakeBoard() *FakeBoard {
	return &FakeBoard{
		Levels:  make(map[Channel]bool),
		Samples: make(map[Channel][]bool),
		Reads:   make(map[Channel]int),
		index:   make(map[Channel]int),
	}
}

// Script replaces the samples for an input channel and rewinds it.
func (f *FakeBoard) Script(ch Channel, samples ...bool) {
	f.Samples[ch] = samples
	f.index[ch] = 0
}

// Set records the level. The level is recorded even when SetError is set,
// mirroring a driver whose write lands but reports a late error.
func (f *FakeBoard) Set(ch Channel, on bool) error {
	f.Levels[ch] = on
	f.History = append(f.History, SetCall{Channel: ch, On: on})
	return f.SetError
}

// Read returns the next scripted sample for ch.
func (f *FakeBoard) Read(ch Channel) (bool, error) {
	f.Reads[ch]++
	if f.ReadError != nil {
		return false, f.ReadError
	}

	samples := f.Samples[ch]
	if len(samples) == 0 {
		return false, fmt.Errorf("no samples configured for %s", ch)
	}

	i := f.index[ch]
	v := samples[i]
	if i < len(samples)-1 {
		f.index[ch] = i + 1
	}
	return v, nil
}

// Close turns every recorded output off and marks the board closed.
func (f *FakeBoard) Close() error {
	for ch := range f.Levels {
		f.Levels[ch] = false
	}
	f.Closed = true
	return nil
}

// On reports the last commanded level of ch.
func (f *FakeBoard) On(ch Channel) bool {
	return f.Levels[ch]
}

// AnyActuatorOn reports whether any actuator output is energized.
func (f *FakeBoard) AnyActuatorOn() bool {
	for _, ch := range Actuators {
		if f.Levels[ch] {
			return true
		}
	}
	return false
}

// SetCount returns how many times ch was driven to on.
func (f *FakeBoard) SetCount(ch Channel, on bool) int {
	n := 0
	for _, c := range f.History {
		if c.Channel == ch && c.On == on {
			n++
		}
	}
	return n
}

// Reset clears recorded state and rewinds scripts.
func (f *FakeBoard) Reset() {
	f.Levels = make(map[Channel]bool)
	f.History = nil
	f.Reads = make(map[Channel]int)
	f.index = make(map[Channel]int)
	f.Closed = false
}
