package safety

import (
	"sync"
	"time"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
)

// Validator is the gate every ignition and every running cycle must
// pass. Validate is stateless per call except for the burner runtime
// tracker, which the state machine feeds through RecordBurnerStart and
// RecordBurnerStop.
//
// The validator never logs: it returns the first failed check in
// order of severity and leaves reporting to the caller, which knows
// whether the result is news.
type Validator struct {
	state     *demand.State
	interlock Interlock
	pumps     PumpVerifier
	now       func() time.Time

	mu           sync.Mutex
	burnerStart  time.Time
	runtimeToday time.Duration
	lastDayReset time.Time
}

// NewValidator builds a validator. The pump verifier may be nil when
// pump corroboration is not wired.
func NewValidator(state *demand.State, interlock Interlock, pumps PumpVerifier, now func() time.Time) *Validator {
	return &Validator{
		state:        state,
		interlock:    interlock,
		pumps:        pumps,
		now:          now,
		lastDayReset: now(),
	}
}

// Validate runs every safety check in order of severity and returns
// the first failure, or Safe.
func (v *Validator) Validate(r sensors.Readings, cfg Config, waterMode bool) Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state.Test(demand.EmergencyStop) {
		return EmergencyStopActive
	}

	if closed, err := v.interlock.Closed(); err != nil || !closed {
		// A chain we cannot read counts as open.
		return HardwareInterlockOpen
	}

	valid := v.countValidSensors(r, cfg)
	if valid < cfg.MinRequiredSensors {
		if valid == 0 {
			return SensorFailure
		}
		return InsufficientSensors
	}

	if r.BoilerOutput.AtLeast(cfg.MaxBoilerTemp) {
		return TemperatureExceeded
	}
	if waterMode && r.WaterTank.AtLeast(cfg.MaxWaterTemp) {
		return TemperatureExceeded
	}

	if res := v.checkPump(waterMode); res != Safe {
		return res
	}

	if res := v.checkRuntimeLocked(cfg); res != Safe {
		return res
	}

	if res := checkPressure(r, cfg); res != Safe {
		return res
	}

	// Thermal shock last: it is the one recoverable condition, so
	// every harder failure above takes precedence.
	diff := r.BoilerOutput.Sub(r.BoilerReturn)
	if diff.Greater(cfg.MaxThermalDifferential) {
		return ThermalShockRisk
	}

	return Safe
}

// countValidSensors counts fresh, in-range readings among the three
// sensors ignition relies on. A stale snapshot counts as zero.
func (v *Validator) countValidSensors(r sensors.Readings, cfg Config) int {
	if v.now().Sub(r.LastUpdate) > cfg.SensorStaleAfter {
		return 0
	}

	n := 0
	if sensors.BoilerRange.Contains(r.BoilerOutput) {
		n++
	}
	if sensors.BoilerRange.Contains(r.BoilerReturn) {
		n++
	}
	if sensors.TankRange.Contains(r.WaterTank) {
		n++
	}
	return n
}

// checkPump corroborates the active mode's circulation pump.
func (v *Validator) checkPump(waterMode bool) Result {
	if v.pumps == nil {
		return Safe
	}

	pump := relay.PumpHeating
	if waterMode {
		pump = relay.PumpWater
	}

	if ok, err := v.pumps.PumpConsistent(pump); err != nil || !ok {
		return PumpFailure
	}
	if ok, err := v.pumps.FlowConfirmed(pump); err != nil || !ok {
		return WaterFlowFailure
	}
	return Safe
}

func (v *Validator) checkRuntimeLocked(cfg Config) Result {
	now := v.now()
	v.resetDailyLocked(now)

	daily := v.runtimeToday
	if !v.burnerStart.IsZero() {
		run := now.Sub(v.burnerStart)
		if run > cfg.MaxContinuousRuntime {
			return RuntimeExceeded
		}
		daily += run
	}
	if daily > cfg.MaxDailyRuntime {
		return RuntimeExceeded
	}
	return Safe
}

func checkPressure(r sensors.Readings, cfg Config) Result {
	if !r.Pressure.Valid() {
		if cfg.AllowNoPressureSensor {
			return Safe
		}
		return SensorFailure
	}
	if r.Pressure.Less(cfg.MinPressure) || r.Pressure.Greater(cfg.MaxPressure) {
		return PressureExceeded
	}
	return Safe
}

// resetDailyLocked zeroes the accumulated runtime when a new calendar
// day has started.
func (v *Validator) resetDailyLocked(now time.Time) {
	y1, m1, d1 := v.lastDayReset.Date()
	y2, m2, d2 := now.Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		v.runtimeToday = 0
		v.lastDayReset = now
	}
}

// RecordBurnerStart marks the beginning of a burn for the runtime
// limits. Idempotent while the burner runs.
func (v *Validator) RecordBurnerStart() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.burnerStart.IsZero() {
		v.burnerStart = v.now()
	}
}

// RecordBurnerStop folds the finished burn into the daily total.
func (v *Validator) RecordBurnerStop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.burnerStart.IsZero() {
		return
	}
	now := v.now()
	v.resetDailyLocked(now)
	v.runtimeToday += now.Sub(v.burnerStart)
	v.burnerStart = time.Time{}
}

// ContinuousRuntime returns how long the current burn has been
// running, or zero when the burner is off.
func (v *Validator) ContinuousRuntime() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.burnerStart.IsZero() {
		return 0
	}
	return v.now().Sub(v.burnerStart)
}

// RuntimeToday returns the accumulated burn time for the day,
// including the live burn.
func (v *Validator) RuntimeToday() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()

	daily := v.runtimeToday
	if !v.burnerStart.IsZero() {
		daily += v.now().Sub(v.burnerStart)
	}
	return daily
}
