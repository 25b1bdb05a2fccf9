package tasks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// HeatingConfig tunes the space heating loop.
type HeatingConfig struct {
	// RoomTarget is the indoor setpoint.
	RoomTarget units.Temp
	// RoomHysteresis is the band around the setpoint; heating starts
	// below target-hysteresis and stops above target+hysteresis.
	RoomHysteresis units.Temp

	// CurveCoeff is the heating curve steepness, scaled by 100
	// (200 = 2.0).
	CurveCoeff int
	// CurveShift raises or lowers the whole curve.
	CurveShift units.Temp

	// MinFlowTarget / MaxFlowTarget clamp the computed flow target.
	MinFlowTarget units.Temp
	MaxFlowTarget units.Temp
}

// DefaultHeatingConfig returns the stock space heating tuning.
func DefaultHeatingConfig() HeatingConfig {
	return HeatingConfig{
		RoomTarget:     units.TempFromFloat(18.0),
		RoomHysteresis: units.TempFromFloat(0.5),
		CurveCoeff:     200,
		CurveShift:     units.TempFromWhole(20),
		MinFlowTarget:  units.TempFromWhole(38),
		MaxFlowTarget:  units.TempFromWhole(75),
	}
}

// HeatingLoop thermostats the rooms and posts the heating request.
// The flow target comes from the weather compensation curve, so a cold
// snap raises the boiler before the rooms notice. The request is
// re-posted every cycle; an unrefreshed request is the watchdog's cue
// that this loop died.
type HeatingLoop struct {
	cfg      Config
	hcfg     HeatingConfig
	requests *demand.Manager
	state    *demand.State
	store    *sensors.Store
	log      *logrus.Entry
	now      func() time.Time

	active bool
	// deferred suppresses repeat logging while water holds priority.
	deferred bool
}

// NewHeatingLoop wires the loop.
func NewHeatingLoop(cfg Config, hcfg HeatingConfig, requests *demand.Manager, state *demand.State, store *sensors.Store, log *logrus.Entry, now func() time.Time) *HeatingLoop {
	return &HeatingLoop{
		cfg:      cfg,
		hcfg:     hcfg,
		requests: requests,
		state:    state,
		store:    store,
		log:      log,
		now:      now,
	}
}

// Run blocks until ctx is cancelled. A preemption wakes the loop so it
// can reconcile its view with the mailbox immediately.
func (l *HeatingLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.HeatingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.requests.HeatingPreempted():
		case <-ticker.C:
		}
		l.step()
	}
}

func (l *HeatingLoop) step() {
	if !l.state.Test(demand.BoilerEnabled) || !l.state.Test(demand.HeatingEnabled) {
		l.stop("heating disabled")
		return
	}

	// The mailbox is the truth; a preemption cleared our request
	// without asking.
	if l.active && !l.requests.HeatingRequested() {
		l.log.Info("heating request preempted")
		l.state.Clear(demand.HeatingOn)
		l.active = false
	}

	readings := l.store.Snapshot()
	if !readings.Room.Valid() {
		l.stop("room sensor unavailable")
		return
	}

	switch {
	case !l.active && readings.Room.Less(l.hcfg.RoomTarget.Sub(l.hcfg.RoomHysteresis)):
		l.start(readings)
	case l.active && readings.Room.Greater(l.hcfg.RoomTarget.Add(l.hcfg.RoomHysteresis)):
		l.stop("room satisfied")
	case l.active:
		// Refresh so the watchdog knows this loop is alive.
		l.requests.SetHeatingRequest(l.flowTarget(readings), false)
	}
}

func (l *HeatingLoop) start(readings sensors.Readings) {
	// A water charge is short; let it finish before claiming the
	// burner. Posting now would displace the water request.
	if l.requests.WaterRequested() {
		if !l.deferred {
			l.log.Info("water heating active, deferring")
			l.deferred = true
		}
		return
	}
	l.deferred = false

	target := l.flowTarget(readings)
	if !l.requests.SetHeatingRequest(target, false) {
		return
	}
	l.state.Set(demand.HeatingOn)
	l.active = true
	l.log.WithFields(logrus.Fields{
		"room":   readings.Room.String(),
		"target": target.String(),
	}).Info("space heating on")
}

func (l *HeatingLoop) stop(reason string) {
	if !l.active {
		return
	}
	l.requests.ClearRequest(demand.SourceHeating)
	l.state.Clear(demand.HeatingOn)
	l.active = false
	l.log.WithField("reason", reason).Info("space heating off")
}

// flowTarget picks the boiler flow target for the current weather.
// Without an outside reading the curve degenerates to the default.
func (l *HeatingLoop) flowTarget(readings sensors.Readings) units.Temp {
	target := heatingCurveTarget(readings.Room, readings.Outside,
		l.hcfg.CurveCoeff, l.hcfg.CurveShift,
		l.hcfg.MinFlowTarget, l.hcfg.MaxFlowTarget)
	if !target.Valid() {
		return defaultTarget
	}
	return target
}

// Heating curve polynomial coefficients:
// 1.4347 and 0.021 scaled by 10000, 0.000248 scaled by 1000000.
const (
	curvePoly1 = 14347
	curvePoly2 = 210
	curvePoly3 = 248
	// curveScale removes the accumulated scaling of
	// coeff(x100) * diff(x10) * polynomial(x10000).
	curveScale = 10000000
)

// heatingCurveTarget evaluates the weather compensation curve
//
//	target = inside + shift - coeff*diff*(1.4347 + 0.021*diff + 0.000248*diff²)
//
// in integer tenths, with diff = outside - inside. coeff is scaled by
// 100. The result is clamped to [lower, upper]; either input being
// invalid yields TempInvalid.
func heatingCurveTarget(inside, outside units.Temp, coeff int, shift, lower, upper units.Temp) units.Temp {
	if !inside.Valid() || !outside.Valid() {
		return units.TempInvalid
	}

	diff := int64(outside.Sub(inside))
	diffSquared := diff * diff / 10

	poly := int64(curvePoly1)
	poly += curvePoly2 * diff / 10
	poly += curvePoly3 * diffSquared / 1000

	adjustment := int64(coeff) * diff * poly / curveScale

	target := inside.Add(shift).Sub(units.TempFromFloat(float64(adjustment) / 10))
	if target.Less(lower) {
		return lower
	}
	if target.Greater(upper) {
		return upper
	}
	return target
}
