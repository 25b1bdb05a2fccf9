//go:build linux

package relay

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// GPIODriver drives the relay channels through the Linux GPIO
// character device. The burner trio is requested as one line group so
// a pattern change is a single batch write.
type GPIODriver struct {
	chip        *gpiocdev.Chip
	burner      *gpiocdev.Lines
	heatingPump *gpiocdev.Line
	waterPump   *gpiocdev.Line
	alarm       *gpiocdev.Line

	mu sync.Mutex
}

// NewGPIODriver opens the chip and requests the relay lines, all off.
// Pass PinNone as the alarm pin when no alarm output is wired.
func NewGPIODriver(chip string, pins Pins) (*GPIODriver, error) {
	c, err := gpiocdev.NewChip(chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chip, err)
	}

	d := &GPIODriver{chip: c}

	// The relay board energizes on a high line through its driver
	// transistor, so raw 1 = relay closed.
	d.burner, err = c.RequestLines([]int{pins.Enable, pins.Boost, pins.Water},
		gpiocdev.AsOutput(0, 0, 0))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("request burner relay pins: %w", err)
	}

	d.heatingPump, err = c.RequestLine(pins.HeatingPump, gpiocdev.AsOutput(0))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("request heating pump pin %d: %w", pins.HeatingPump, err)
	}

	d.waterPump, err = c.RequestLine(pins.WaterPump, gpiocdev.AsOutput(0))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("request water pump pin %d: %w", pins.WaterPump, err)
	}

	if pins.Alarm != PinNone {
		d.alarm, err = c.RequestLine(pins.Alarm, gpiocdev.AsOutput(0))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("request alarm pin %d: %w", pins.Alarm, err)
		}
	}

	return d, nil
}

// ApplyBurner writes all three burner relays in one transaction.
func (d *GPIODriver) ApplyBurner(s BurnerState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.burner.SetValues([]int{raw(s.Enable), raw(s.Boost), raw(s.Water)}); err != nil {
		return fmt.Errorf("apply burner relays: %w", err)
	}
	return nil
}

// SetPump switches a circulation pump.
func (d *GPIODriver) SetPump(p Pump, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	line, err := d.pumpLine(p)
	if err != nil {
		return err
	}
	if err := line.SetValue(raw(on)); err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	return nil
}

// SetAlarm switches the alarm output. A no-op when no alarm is wired.
func (d *GPIODriver) SetAlarm(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.alarm == nil {
		return nil
	}
	if err := d.alarm.SetValue(raw(on)); err != nil {
		return fmt.Errorf("set alarm: %w", err)
	}
	return nil
}

// ReadBack samples the actual relay line states.
func (d *GPIODriver) ReadBack() (Outputs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out Outputs

	vals := make([]int, 3)
	if err := d.burner.Values(vals); err != nil {
		return Outputs{}, fmt.Errorf("read burner relays: %w", err)
	}
	out.Burner = BurnerState{Enable: vals[0] != 0, Boost: vals[1] != 0, Water: vals[2] != 0}

	hp, err := d.heatingPump.Value()
	if err != nil {
		return Outputs{}, fmt.Errorf("read heating pump: %w", err)
	}
	out.HeatingPump = hp != 0

	wp, err := d.waterPump.Value()
	if err != nil {
		return Outputs{}, fmt.Errorf("read water pump: %w", err)
	}
	out.WaterPump = wp != 0

	if d.alarm != nil {
		a, err := d.alarm.Value()
		if err != nil {
			return Outputs{}, fmt.Errorf("read alarm: %w", err)
		}
		out.Alarm = a != 0
	}

	return out, nil
}

// AllOff forces every channel off, best effort: it keeps going after
// individual failures and reports them all.
func (d *GPIODriver) AllOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allOffLocked()
}

func (d *GPIODriver) allOffLocked() error {
	var errs []error

	if d.burner != nil {
		if err := d.burner.SetValues([]int{0, 0, 0}); err != nil {
			errs = append(errs, fmt.Errorf("burner relays off: %w", err))
		}
	}
	for _, l := range []struct {
		name string
		line *gpiocdev.Line
	}{
		{"heating pump", d.heatingPump},
		{"water pump", d.waterPump},
		{"alarm", d.alarm},
	} {
		if l.line == nil {
			continue
		}
		if err := l.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("%s off: %w", l.name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("all off errors: %v", errs)
	}
	return nil
}

// Close drops every channel and releases GPIO resources.
// Reconfigures the lines to input with pull-down before closing so
// the relays stay de-energized after the process exits.
func (d *GPIODriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	if err := d.allOffLocked(); err != nil {
		errs = append(errs, err)
	}

	if d.burner != nil {
		if err := d.burner.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure burner relay pins: %w", err))
		}
		if err := d.burner.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close burner relay pins: %w", err))
		}
		d.burner = nil
	}
	for _, l := range []struct {
		name string
		line **gpiocdev.Line
	}{
		{"heating pump", &d.heatingPump},
		{"water pump", &d.waterPump},
		{"alarm", &d.alarm},
	} {
		if *l.line == nil {
			continue
		}
		if err := (*l.line).Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", l.name, err))
		}
		if err := (*l.line).Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", l.name, err))
		}
		*l.line = nil
	}
	if d.chip != nil {
		if err := d.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		d.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

func (d *GPIODriver) pumpLine(p Pump) (*gpiocdev.Line, error) {
	switch p {
	case PumpHeating:
		return d.heatingPump, nil
	case PumpWater:
		return d.waterPump, nil
	default:
		return nil, fmt.Errorf("unknown pump %d", p)
	}
}

func raw(on bool) int {
	if on {
		return 1
	}
	return 0
}
