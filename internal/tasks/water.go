package tasks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// WaterConfig tunes the hot water loop.
type WaterConfig struct {
	// TankLow starts a charge when the tank drops below it.
	TankLow units.Temp
	// TankHigh ends the charge when the tank rises above it.
	TankHigh units.Temp
	// ChargeDelta is how far above the tank the boiler runs while
	// charging. Clamped to [MinChargeDelta, MaxChargeDelta].
	ChargeDelta units.Temp
}

// Charge delta sanity band.
var (
	minChargeDelta = units.TempFromWhole(5)
	maxChargeDelta = units.TempFromWhole(20)
)

// DefaultWaterConfig returns the stock hot water tuning.
func DefaultWaterConfig() WaterConfig {
	return WaterConfig{
		TankLow:     units.TempFromFloat(45.0),
		TankHigh:    units.TempFromFloat(65.0),
		ChargeDelta: units.TempFromWhole(10),
	}
}

// WaterLoop thermostats the hot water tank. Water always requests high
// power: a charge should finish quickly so the burner can return to
// space heating. The boiler target tracks the tank upward, keeping the
// exchanger differential roughly constant through the charge.
type WaterLoop struct {
	cfg      Config
	wcfg     WaterConfig
	requests *demand.Manager
	state    *demand.State
	store    *sensors.Store
	log      *logrus.Entry
	now      func() time.Time

	active bool
}

// NewWaterLoop wires the loop.
func NewWaterLoop(cfg Config, wcfg WaterConfig, requests *demand.Manager, state *demand.State, store *sensors.Store, log *logrus.Entry, now func() time.Time) *WaterLoop {
	return &WaterLoop{
		cfg:      cfg,
		wcfg:     wcfg,
		requests: requests,
		state:    state,
		store:    store,
		log:      log,
		now:      now,
	}
}

// Run blocks until ctx is cancelled.
func (l *WaterLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.WaterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.requests.WaterPreempted():
		case <-ticker.C:
		}
		l.step()
	}
}

func (l *WaterLoop) step() {
	if !l.state.Test(demand.BoilerEnabled) || !l.state.Test(demand.WaterEnabled) {
		l.stop("water heating disabled")
		return
	}

	if l.active && !l.requests.WaterRequested() {
		l.log.Info("water request preempted")
		l.state.Clear(demand.WaterOn)
		l.active = false
	}

	tank := l.store.Snapshot().WaterTank
	if !tank.Valid() {
		l.stop("tank sensor unavailable")
		return
	}

	switch {
	case !l.active && tank.Less(l.wcfg.TankLow):
		// Without priority an active heating request holds the
		// burner; the charge waits its turn.
		if l.requests.HeatingRequested() && !l.requests.WaterPriority() {
			return
		}
		if !l.requests.SetWaterRequest(l.chargeTarget(tank), true) {
			return
		}
		l.state.Set(demand.WaterOn)
		l.active = true
		l.log.WithField("tank", tank.String()).Info("water heating on")
	case l.active && tank.Greater(l.wcfg.TankHigh):
		l.stop("tank satisfied")
	case l.active:
		// Refresh the request and let the target chase the tank.
		l.requests.SetWaterRequest(l.chargeTarget(tank), true)
	}
}

func (l *WaterLoop) stop(reason string) {
	if !l.active {
		return
	}
	l.requests.ClearRequest(demand.SourceWater)
	l.state.Clear(demand.WaterOn)
	l.active = false
	l.log.WithField("reason", reason).Info("water heating off")
}

// chargeTarget is the boiler target while charging: current tank plus
// a sane delta. The request manager applies the mode clamp on top.
func (l *WaterLoop) chargeTarget(tank units.Temp) units.Temp {
	delta := l.wcfg.ChargeDelta
	if delta.Less(minChargeDelta) {
		delta = minChargeDelta
	} else if delta.Greater(maxChargeDelta) {
		delta = maxChargeDelta
	}
	return tank.Add(delta)
}
