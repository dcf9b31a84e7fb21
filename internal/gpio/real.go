//go:build linux

package gpio

import (
	"fmt"
	"sort"

	"github.com/warthog618/go-gpiocdev"
)

// RealBoard drives actual hardware using the Linux GPIO character device.
type RealBoard struct {
	chip    *gpiocdev.Chip
	outputs map[Channel]*gpiocdev.Line
	inputs  map[Channel]*gpiocdev.Line

	// activeHigh maps logical ON to raw 1 for inputs; false inverts.
	activeHigh map[Channel]bool
}

// Options configure how lines are requested.
type Options struct {
	Chip string // e.g. "gpiochip0"

	// InputActiveHigh reports per input channel whether raw 1 means
	// logical ON. Channels absent from the map are treated as active high.
	InputActiveHigh map[Channel]bool
}

// NewRealBoard requests every channel in pins. Outputs start low so the rig
// boots with all equipment off.
func NewRealBoard(pins Pins, opts Options) (*RealBoard, error) {
	chipName := opts.Chip
	if chipName == "" {
		chipName = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	b := &RealBoard{
		chip:       chip,
		outputs:    make(map[Channel]*gpiocdev.Line),
		inputs:     make(map[Channel]*gpiocdev.Line),
		activeHigh: make(map[Channel]bool),
	}

	// Request in a stable order so errors are reproducible.
	channels := make([]Channel, 0, len(pins))
	for ch := range pins {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })

	for _, ch := range channels {
		pin := pins[ch]
		if IsInput(ch) {
			// Pull-down matches Pi boot defaults, so a disconnected float
			// switch reads as "not full".
			line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
			if err != nil {
				b.Close()
				return nil, fmt.Errorf("request %s pin %d: %w", ch, pin, err)
			}
			b.inputs[ch] = line
			high, ok := opts.InputActiveHigh[ch]
			b.activeHigh[ch] = !ok || high
			continue
		}
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", ch, pin, err)
		}
		b.outputs[ch] = line
	}

	return b, nil
}

// Set drives an output channel.
func (b *RealBoard) Set(ch Channel, on bool) error {
	line, ok := b.outputs[ch]
	if !ok {
		return fmt.Errorf("set %s: not an output channel", ch)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set %s: %w", ch, err)
	}
	return nil
}

// Read returns the logical level of an input channel.
func (b *RealBoard) Read(ch Channel) (bool, error) {
	line, ok := b.inputs[ch]
	if !ok {
		return false, fmt.Errorf("read %s: not an input channel", ch)
	}
	raw, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", ch, err)
	}
	if b.activeHigh[ch] {
		return raw == 1, nil
	}
	return raw == 0, nil
}

// Close drives every output low, then reconfigures all lines to input with
// pull-down (matching Raspberry Pi boot defaults) before releasing them, so
// relays stay de-energized through a reboot.
func (b *RealBoard) Close() error {
	var errs []error

	for ch, line := range b.outputs {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("drive %s low: %w", ch, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", ch, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch, err))
		}
	}
	for ch, line := range b.inputs {
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch, err))
		}
	}
	b.outputs = nil
	b.inputs = nil

	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		b.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
