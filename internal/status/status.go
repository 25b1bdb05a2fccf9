// Package status is the thread-safe status tracker for the controller
// daemon. The control loops write into it; the HTTP server, Prometheus
// collectors and the MQTT status publisher read snapshots out of it.
package status

import (
	"sync"
	"time"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// Demand is the active burner request as last observed.
type Demand struct {
	Heating   bool
	Water     bool
	Target    units.Temp
	HighPower bool
}

// Tuning is the auto-tune sub-mode's progress.
type Tuning struct {
	Active   bool
	Progress int // 0-100
	Cycles   int
	Method   string
}

// Counters accumulate over the daemon's lifetime.
type Counters struct {
	Ignitions        int
	FailedIgnitions  int
	Lockouts         int
	SafetyRejections int
	EmergencyStops   int
	WatchdogClears   int
}

// Config contains daemon configuration for display.
type Config struct {
	Broker   string
	HTTPAddr string
	BaseTick time.Duration
}

// Snapshot is a point-in-time view of the daemon state. It is a value
// type, safe to use after the tracker's lock is released.
type Snapshot struct {
	BurnerState    string
	WaterMode      bool
	LastValidation string
	Demand         Demand
	Readings       sensors.Readings
	Tuning         Tuning
	Counters       Counters
	RuntimeToday   time.Duration
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Firing reports whether the snapshot shows an established flame.
func (s Snapshot) Firing() bool {
	switch s.BurnerState {
	case "RUNNING_LOW", "RUNNING_HIGH", "MODE_SWITCHING":
		return true
	}
	return false
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	now func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(cfg Config, now func() time.Time) *Tracker {
	return &Tracker{
		now: now,
		snap: Snapshot{
			BurnerState:    "IDLE",
			LastValidation: "unknown",
			StartTime:      now(),
			Config:         cfg,
		},
	}
}

// SetBurner records the machine state. Called from the burner loop on
// every tick.
func (t *Tracker) SetBurner(state string, waterMode bool) {
	t.mu.Lock()
	t.snap.BurnerState = state
	t.snap.WaterMode = waterMode
	t.mu.Unlock()
}

// SetValidation records the last safety validation result.
func (t *Tracker) SetValidation(result string) {
	t.mu.Lock()
	t.snap.LastValidation = result
	t.mu.Unlock()
}

// SetDemand records the active burner request.
func (t *Tracker) SetDemand(d Demand) {
	t.mu.Lock()
	t.snap.Demand = d
	t.mu.Unlock()
}

// SetReadings records the sensor snapshot.
func (t *Tracker) SetReadings(r sensors.Readings) {
	t.mu.Lock()
	t.snap.Readings = r
	t.mu.Unlock()
}

// SetTuning records the auto-tune progress.
func (t *Tracker) SetTuning(tu Tuning) {
	t.mu.Lock()
	t.snap.Tuning = tu
	t.mu.Unlock()
}

// SetRuntimeToday records the accumulated burn time for the day.
func (t *Tracker) SetRuntimeToday(d time.Duration) {
	t.mu.Lock()
	t.snap.RuntimeToday = d
	t.mu.Unlock()
}

// SetMQTTConnected records the broker connection state.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// AddIgnition counts a successful ignition.
func (t *Tracker) AddIgnition() { t.bump(func(c *Counters) { c.Ignitions++ }) }

// AddFailedIgnition counts a failed ignition attempt.
func (t *Tracker) AddFailedIgnition() { t.bump(func(c *Counters) { c.FailedIgnitions++ }) }

// AddLockout counts a burner lockout.
func (t *Tracker) AddLockout() { t.bump(func(c *Counters) { c.Lockouts++ }) }

// AddSafetyRejection counts a refused validation.
func (t *Tracker) AddSafetyRejection() { t.bump(func(c *Counters) { c.SafetyRejections++ }) }

// AddEmergencyStop counts an emergency stop.
func (t *Tracker) AddEmergencyStop() { t.bump(func(c *Counters) { c.EmergencyStops++ }) }

// AddWatchdogClear counts a stale request force-cleared by the
// watchdog.
func (t *Tracker) AddWatchdogClear() { t.bump(func(c *Counters) { c.WatchdogClears++ }) }

func (t *Tracker) bump(f func(*Counters)) {
	t.mu.Lock()
	f(&t.snap.Counters)
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state. The Now
// field is stamped at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
