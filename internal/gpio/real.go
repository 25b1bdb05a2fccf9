//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the safety inputs from actual hardware using the
// Linux GPIO character device.
type RealReader struct {
	chip      *gpiocdev.Chip
	interlock *gpiocdev.Line
	estop     *gpiocdev.Line
	flame     *gpiocdev.Line
}

// NewRealReader opens the given chip and requests the input lines.
// Pass PinNone as flamePin when no flame detector is wired.
func NewRealReader(chip string, interlockPin, estopPin, flamePin int) (*RealReader, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	// Request lines as input with pull-up. The loops are normally
	// closed to ground, so an intact loop reads low and a broken
	// wire reads high, same as an open contact.
	interlock, err := c.RequestLine(interlockPin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("request interlock pin %d: %w", interlockPin, err)
	}

	estop, err := c.RequestLine(estopPin, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		interlock.Close()
		c.Close()
		return nil, fmt.Errorf("request emergency stop pin %d: %w", estopPin, err)
	}

	var flame *gpiocdev.Line
	if flamePin != PinNone {
		flame, err = c.RequestLine(flamePin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			estop.Close()
			interlock.Close()
			c.Close()
			return nil, fmt.Errorf("request flame pin %d: %w", flamePin, err)
		}
	}

	return &RealReader{
		chip:      c,
		interlock: interlock,
		estop:     estop,
		flame:     flame,
	}, nil
}

// Read samples all inputs at once.
// Inverts raw GPIO: the loops are active-low, so raw 0 = loop closed.
func (r *RealReader) Read() (State, error) {
	interlockRaw, err := r.interlock.Value()
	if err != nil {
		return State{}, fmt.Errorf("read interlock pin: %w", err)
	}

	estopRaw, err := r.estop.Value()
	if err != nil {
		return State{}, fmt.Errorf("read emergency stop pin: %w", err)
	}

	st := State{
		// Interlock loop intact = raw low.
		InterlockClosed: interlockRaw == 0,
		// Emergency stop is a normally-closed button: pressing it
		// opens the loop and the pull-up drives the pin high.
		EmergencyStop: estopRaw != 0,
	}

	if r.flame != nil {
		flameRaw, err := r.flame.Value()
		if err != nil {
			return State{}, fmt.Errorf("read flame pin: %w", err)
		}
		// Flame detector pulls the line low while it sees a flame.
		st.Flame = flameRaw == 0
	}

	return st, nil
}

// HasFlame reports whether a flame detector input is wired.
func (r *RealReader) HasFlame() bool {
	return r.flame != nil
}

// Close releases GPIO resources.
// Reconfigures pins to plain input before closing so the lines float
// on their pull-ups during system shutdown/reboot.
func (r *RealReader) Close() error {
	var errs []error

	for _, l := range []struct {
		name string
		line *gpiocdev.Line
	}{
		{"interlock", r.interlock},
		{"emergency stop", r.estop},
		{"flame", r.flame},
	} {
		if l.line == nil {
			continue
		}
		if err := l.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullUp); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", l.name, err))
		}
		if err := l.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", l.name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
