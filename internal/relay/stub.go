//go:build !linux

package relay

import "errors"

// GPIODriver is not available on non-Linux platforms.
type GPIODriver struct{}

// NewGPIODriver returns an error on non-Linux platforms.
func NewGPIODriver(chip string, pins Pins) (*GPIODriver, error) {
	return nil, errors.New("relay: not supported on this platform (requires Linux)")
}

// ApplyBurner is not implemented on non-Linux platforms.
func (d *GPIODriver) ApplyBurner(BurnerState) error {
	return errors.New("relay: not supported")
}

// SetPump is not implemented on non-Linux platforms.
func (d *GPIODriver) SetPump(Pump, bool) error {
	return errors.New("relay: not supported")
}

// SetAlarm is not implemented on non-Linux platforms.
func (d *GPIODriver) SetAlarm(bool) error {
	return errors.New("relay: not supported")
}

// ReadBack is not implemented on non-Linux platforms.
func (d *GPIODriver) ReadBack() (Outputs, error) {
	return Outputs{}, errors.New("relay: not supported")
}

// AllOff is not implemented on non-Linux platforms.
func (d *GPIODriver) AllOff() error {
	return errors.New("relay: not supported")
}

// Close is not implemented on non-Linux platforms.
func (d *GPIODriver) Close() error {
	return nil
}
