//go:build !linux

package gpio

import "errors"

// RealBoard is not available on non-Linux platforms.
type RealBoard struct{}

// Options configure how lines are requested.
type Options struct {
	Chip            string
	InputActiveHigh map[Channel]bool
}

// NewRealBoard returns an error on non-Linux platforms.
func NewRealBoard(pins Pins, opts Options) (*RealBoard, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (b *RealBoard) Set(ch Channel, on bool) error {
	return errors.New("gpio: not supported")
}

// Read is not implemented on non-Linux platforms.
func (b *RealBoard) Read(ch Channel) (bool, error) {
	return false, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (b *RealBoard) Close() error {
	return nil
}
