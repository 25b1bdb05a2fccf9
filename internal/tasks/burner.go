package tasks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/burner"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/mqtt"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/safety"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/status"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// BurnerLoop drives the burner state machine. It is the only caller of
// Machine.Update and the only writer of the burner status bits, so the
// machine sees a single, ordered stream of demand and time.
type BurnerLoop struct {
	cfg       Config
	machine   *burner.Machine
	requests  *demand.Manager
	state     *demand.State
	store     *sensors.Store
	validator *safety.Validator
	preheater *safety.Preheater
	tracker   *status.Tracker
	publisher mqtt.Publisher
	log       *logrus.Entry
	now       func() time.Time

	lastState      burner.State
	lastValidation safety.Result
	lastStatus     time.Time
}

// NewBurnerLoop wires the loop. publisher may be nil for bench runs.
func NewBurnerLoop(cfg Config, machine *burner.Machine, requests *demand.Manager, state *demand.State, store *sensors.Store, validator *safety.Validator, preheater *safety.Preheater, tracker *status.Tracker, publisher mqtt.Publisher, log *logrus.Entry, now func() time.Time) *BurnerLoop {
	return &BurnerLoop{
		cfg:            cfg,
		machine:        machine,
		requests:       requests,
		state:          state,
		store:          store,
		validator:      validator,
		preheater:      preheater,
		tracker:        tracker,
		publisher:      publisher,
		log:            log,
		now:            now,
		lastState:      machine.State(),
		lastValidation: safety.Safe,
	}
}

// Run blocks until ctx is cancelled. Request and sensor changes wake
// the loop immediately; otherwise it runs on the dynamic tick.
func (l *BurnerLoop) Run(ctx context.Context) {
	timer := time.NewTimer(l.tick())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.requests.Changes():
		case <-l.store.Changes():
		case <-timer.C:
		}
		l.step()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.tick())
	}
}

// tick returns the loop period for the current machine state.
func (l *BurnerLoop) tick() time.Duration {
	switch l.machine.State() {
	case burner.StatePrePurge, burner.StateIgnition, burner.StateRunningLow,
		burner.StateRunningHigh, burner.StateModeSwitching:
		return l.cfg.FiringTick
	case burner.StateIdle, burner.StateLockout:
		return l.cfg.IdleTick
	default:
		return l.cfg.DefaultTick
	}
}

// step runs one iteration: emergency, watchdog, disable, safety
// bookkeeping, then the machine update. The order matters; the
// emergency check must see the world before anything else mutates it.
func (l *BurnerLoop) step() {
	ts := l.now()

	if l.state.Test(demand.EmergencyStop) {
		if l.machine.State() != burner.StateError {
			l.machine.EmergencyStop("emergency stop latched")
		}
		l.requests.EmergencyClearAll()
	}

	if l.requests.CheckAndClearExpired(l.cfg.MaxRequestAge) {
		l.log.Warn("stale burner request cleared by watchdog")
		l.machine.SetHeatDemand(false, units.TempInvalid, false)
		l.tracker.AddWatchdogClear()
		l.publishEvent(mqtt.Event{
			Timestamp: ts,
			Type:      "watchdog",
			Reason:    "request not refreshed, producer presumed dead",
		})
	}

	if !l.state.Test(demand.BoilerEnabled) {
		snap := l.requests.Snapshot()
		if snap.Heating || snap.Water {
			l.log.Info("system disabled, clearing requests")
			l.requests.ClearAll()
		}
		l.machine.SetHeatDemand(false, units.TempInvalid, false)
	}

	readings := l.store.Snapshot()
	res := l.validator.Validate(readings, l.machine.SafetyConfig(), l.machine.WaterMode())
	if res != l.lastValidation {
		l.tracker.SetValidation(res.String())
		if res != safety.Safe {
			l.tracker.AddSafetyRejection()
			l.publishEvent(mqtt.Event{
				Timestamp: ts,
				Type:      "safety",
				Reason:    res.String(),
			})
		}
		l.lastValidation = res
	}

	l.runPreheat(res)

	l.machine.Update()

	cur := l.machine.State()
	changed := cur != l.lastState
	if changed {
		l.noteTransition(l.lastState, cur, ts)
		l.lastState = cur
	}
	l.state.SetBurnerStatus(l.machine.StatusBit())

	l.tracker.SetBurner(cur.String(), l.machine.WaterMode())
	snap := l.requests.Snapshot()
	l.tracker.SetDemand(status.Demand{
		Heating:   snap.Heating,
		Water:     snap.Water,
		Target:    snap.Target,
		HighPower: snap.HighPower,
	})
	l.tracker.SetReadings(readings)
	l.tracker.SetRuntimeToday(l.validator.RuntimeToday())

	if changed || ts.Sub(l.lastStatus) >= l.cfg.StatusInterval {
		l.publishStatus()
		l.lastStatus = ts
	}
}

// runPreheat starts a return-line preheat when thermal shock is the
// only thing between an active request and ignition, and advances a
// running episode.
func (l *BurnerLoop) runPreheat(res safety.Result) {
	switch l.preheater.State() {
	case safety.Preheating:
		l.preheater.Update()
	case safety.PreheatIdle:
		if res != safety.ThermalShockRisk || l.machine.State() != burner.StateIdle {
			return
		}
		snap := l.requests.Snapshot()
		if snap.Heating || snap.Water {
			l.preheater.Start()
		}
	default:
		// Completed or timed out. Reset once the burner leaves idle
		// (the episode did its job) or the demand disappears.
		snap := l.requests.Snapshot()
		if l.machine.State() != burner.StateIdle || (!snap.Heating && !snap.Water) {
			l.preheater.Reset()
		}
	}
}

func (l *BurnerLoop) noteTransition(from, to burner.State, ts time.Time) {
	switch {
	case to == burner.StateLockout:
		l.tracker.AddLockout()
	case to == burner.StateError:
		l.tracker.AddEmergencyStop()
	case from == burner.StateIgnition && (to == burner.StateRunningLow || to == burner.StateRunningHigh):
		l.tracker.AddIgnition()
	case from == burner.StateIgnition && to == burner.StatePrePurge:
		l.tracker.AddFailedIgnition()
	}
	l.publishEvent(mqtt.Event{
		Timestamp: ts,
		Type:      "state_change",
		From:      from.String(),
		To:        to.String(),
	})
}

func (l *BurnerLoop) publishEvent(e mqtt.Event) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishEvent(e); err != nil {
		l.log.WithError(err).Warn("event publish failed")
	}
}

func (l *BurnerLoop) publishStatus() {
	if l.publisher == nil {
		return
	}
	payload := status.FormatJSON(l.tracker.Snapshot())
	if err := l.publisher.PublishStatus(payload); err != nil {
		l.log.WithError(err).Warn("status publish failed")
	}
}
