package relay

import "sync"

// FakeDriver is a test double that records commanded relay states.
type FakeDriver struct {
	// ApplyErr, PumpErr, AlarmErr, ReadBackErr, if set, are returned
	// by the corresponding method.
	ApplyErr    error
	PumpErr     error
	AlarmErr    error
	ReadBackErr error

	// ReadBackOverride, if set, is returned by ReadBack instead of
	// the commanded state, to simulate relays that did not follow.
	ReadBackOverride *Outputs

	mu          sync.Mutex
	out         Outputs
	applied     []BurnerState
	allOffCalls int
	closed      bool
}

// NewFakeDriver creates a FakeDriver with all channels off.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// ApplyBurner records the commanded burner pattern.
func (d *FakeDriver) ApplyBurner(s BurnerState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ApplyErr != nil {
		return d.ApplyErr
	}
	d.out.Burner = s
	d.applied = append(d.applied, s)
	return nil
}

// SetPump records the commanded pump state.
func (d *FakeDriver) SetPump(p Pump, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.PumpErr != nil {
		return d.PumpErr
	}
	switch p {
	case PumpHeating:
		d.out.HeatingPump = on
	case PumpWater:
		d.out.WaterPump = on
	}
	return nil
}

// SetAlarm records the commanded alarm state.
func (d *FakeDriver) SetAlarm(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.AlarmErr != nil {
		return d.AlarmErr
	}
	d.out.Alarm = on
	return nil
}

// ReadBack returns the commanded state, or ReadBackOverride if set.
func (d *FakeDriver) ReadBack() (Outputs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ReadBackErr != nil {
		return Outputs{}, d.ReadBackErr
	}
	if d.ReadBackOverride != nil {
		return *d.ReadBackOverride, nil
	}
	return d.out, nil
}

// AllOff drops every channel.
func (d *FakeDriver) AllOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.out = Outputs{}
	d.allOffCalls++
	return nil
}

// Close marks the driver as closed.
func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.out = Outputs{}
	d.closed = true
	return nil
}

// Burner returns the last commanded burner pattern.
func (d *FakeDriver) Burner() BurnerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.Burner
}

// Pump returns the commanded state of a pump.
func (d *FakeDriver) Pump(p Pump) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p == PumpHeating {
		return d.out.HeatingPump
	}
	return d.out.WaterPump
}

// AlarmOn returns the commanded alarm state.
func (d *FakeDriver) AlarmOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.out.Alarm
}

// Applied returns the history of burner patterns in command order.
func (d *FakeDriver) Applied() []BurnerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]BurnerState, len(d.applied))
	copy(out, d.applied)
	return out
}

// AllOffCalls returns how many times AllOff was called.
func (d *FakeDriver) AllOffCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allOffCalls
}

// Closed reports whether Close was called.
func (d *FakeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
