package tasks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/antiflap"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/burner"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/control"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/mqtt"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/status"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

var (
	// minimumTarget is the operational floor: a request below it is
	// treated as carrying no usable target.
	minimumTarget = units.TempFromWhole(20)
	// defaultTarget substitutes for a missing or implausible target.
	defaultTarget = units.TempFromWhole(70)
)

// TempLoop runs the cascade temperature controller. It waits on boiler
// output updates so control decisions follow fresh readings, with a
// timed fallback so a silent sensor still produces a (coasting)
// decision.
type TempLoop struct {
	cfg        Config
	controller *control.Controller
	machine    *burner.Machine
	requests   *demand.Manager
	store      *sensors.Store
	tracker    *status.Tracker
	publisher  mqtt.Publisher
	log        *logrus.Entry
	now        func() time.Time

	demandOn bool
}

// NewTempLoop wires the loop. publisher may be nil for bench runs.
func NewTempLoop(cfg Config, controller *control.Controller, machine *burner.Machine, requests *demand.Manager, store *sensors.Store, tracker *status.Tracker, publisher mqtt.Publisher, log *logrus.Entry, now func() time.Time) *TempLoop {
	return &TempLoop{
		cfg:        cfg,
		controller: controller,
		machine:    machine,
		requests:   requests,
		store:      store,
		tracker:    tracker,
		publisher:  publisher,
		log:        log,
		now:        now,
	}
}

// Run blocks until ctx is cancelled.
func (l *TempLoop) Run(ctx context.Context) {
	fallback := 2 * l.cfg.TempInterval
	timer := time.NewTimer(fallback)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.store.BoilerOutputUpdates():
		case <-timer.C:
		}
		l.step()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(fallback)
	}
}

func (l *TempLoop) step() {
	current := l.store.Snapshot().BoilerOutput

	if l.controller.Tuning() {
		l.stepTuning(current)
		return
	}

	snap := l.requests.Snapshot()
	if !snap.Heating && !snap.Water {
		l.dropDemand()
		return
	}
	if !current.Valid() || l.store.Stale(l.cfg.StaleWindow) {
		if l.demandOn {
			l.log.Warn("boiler output unavailable, coasting")
		}
		l.dropDemand()
		return
	}

	l.controller.UpdateMode()
	target := effectiveTarget(snap.Target)
	out := l.controller.Calculate(target, current)
	if out.Changed {
		l.machine.SetHeatDemand(out.BurnerOn, target, out.Level == antiflap.PowerHigh)
		l.demandOn = out.BurnerOn
	}
}

// stepTuning advances the relay test. The tuner owns the burner while
// it runs; the normal control path resumes the cycle after it ends.
func (l *TempLoop) stepTuning(current units.Temp) {
	snap := l.requests.Snapshot()
	if !snap.Heating && !snap.Water {
		l.log.Warn("auto-tuning aborted: no active request")
		l.controller.StopTuning()
		l.tracker.SetTuning(status.Tuning{})
		l.dropDemand()
		return
	}

	out := l.controller.UpdateTuning(current)
	if out.Changed {
		l.machine.SetHeatDemand(out.BurnerOn, l.controller.TuningSetpoint(), out.Level == antiflap.PowerHigh)
		l.demandOn = out.BurnerOn
	}

	if l.controller.Tuning() {
		l.tracker.SetTuning(status.Tuning{
			Active:   true,
			Progress: l.controller.TuningProgress(),
			Cycles:   l.controller.TuningCycles(),
			Method:   l.controller.TuningMethod().String(),
		})
		return
	}

	// The test just ended. Hand the burner back and report.
	l.tracker.SetTuning(status.Tuning{})
	l.dropDemand()

	if l.controller.TuningState() == control.TuneComplete && l.controller.ApplyResults() {
		l.publishTuningResult()
		return
	}
	l.publishTuningFailure()
}

func (l *TempLoop) dropDemand() {
	if !l.demandOn {
		return
	}
	l.machine.SetHeatDemand(false, units.TempInvalid, false)
	l.demandOn = false
}

// effectiveTarget substitutes the default flow target for requests
// whose target is missing or below the operational floor.
func effectiveTarget(t units.Temp) units.Temp {
	if !t.Valid() || t.Less(minimumTarget) {
		return defaultTarget
	}
	return t
}

// autotuneReport is the result payload published after a run ends.
type autotuneReport struct {
	State          string  `json:"state"`
	Method         string  `json:"method,omitempty"`
	Kp             float64 `json:"kp,omitempty"`
	Ki             float64 `json:"ki,omitempty"`
	Kd             float64 `json:"kd,omitempty"`
	UltimateGain   float64 `json:"ku,omitempty"`
	UltimatePeriod float64 `json:"tu_s,omitempty"`
}

func (l *TempLoop) publishTuningResult() {
	res := l.controller.TuningResult()
	l.publishAutotune(autotuneReport{
		State:          "complete",
		Method:         l.controller.TuningMethod().String(),
		Kp:             res.Kp,
		Ki:             res.Ki,
		Kd:             res.Kd,
		UltimateGain:   res.UltimateGain,
		UltimatePeriod: res.UltimatePeriod,
	})
}

func (l *TempLoop) publishTuningFailure() {
	l.publishAutotune(autotuneReport{State: l.controller.TuningState().String()})
}

func (l *TempLoop) publishAutotune(report autotuneReport) {
	if l.publisher == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Autotune autotuneReport `json:"autotune"`
	}{report})
	if err != nil {
		l.log.WithError(err).Error("auto-tune report marshal failed")
		return
	}
	if err := l.publisher.PublishAutotune(payload); err != nil {
		l.log.WithError(err).Warn("auto-tune report publish failed")
	}
}
