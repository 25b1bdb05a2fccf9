//go:build !linux

package gpio

import "errors"

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chip string, interlockPin, estopPin, flamePin int) (*RealReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (State, error) {
	return State{}, errors.New("gpio: not supported")
}

// HasFlame is not implemented on non-Linux platforms.
func (r *RealReader) HasFlame() bool {
	return false
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
