// Package burner sequences the burner through its firing cycle: pre
// purge, ignition with retries, two-stage running in heating or water
// mode, seamless mode switching, post purge and lockout.
//
// A transition table drives the sequence. Every state has a poll
// handler and optional entry and exit actions; the burner control loop
// calls Update on its tick and the machine never owns a goroutine.
// Relay writes happen in entry actions and in the mode switch, always
// as full burner batches; pump relays are never touched here.
package burner

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/antiflap"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/safety"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// State is the burner lifecycle state.
type State int

const (
	// StateIdle waits for heat demand.
	StateIdle State = iota
	// StatePrePurge vents the chamber before an ignition attempt.
	StatePrePurge
	// StateIgnition is one lighting attempt.
	StateIgnition
	// StateRunningLow is established flame at low fire.
	StateRunningLow
	// StateRunningHigh is established flame at high fire.
	StateRunningHigh
	// StateModeSwitching swaps heating and water relays under a lit
	// flame.
	StateModeSwitching
	// StatePostPurge vents residual gas after flame out.
	StatePostPurge
	// StateLockout is the terminal failed-ignition state. It holds
	// until ResetLockout.
	StateLockout
	// StateError is the recoverable fault state.
	StateError

	stateCount
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePrePurge:
		return "PRE_PURGE"
	case StateIgnition:
		return "IGNITION"
	case StateRunningLow:
		return "RUNNING_LOW"
	case StateRunningHigh:
		return "RUNNING_HIGH"
	case StateModeSwitching:
		return "MODE_SWITCHING"
	case StatePostPurge:
		return "POST_PURGE"
	case StateLockout:
		return "LOCKOUT"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Running reports whether the burner fires at a settled power level.
func (s State) Running() bool {
	return s == StateRunningLow || s == StateRunningHigh
}

// burning reports whether the flame is established in this state.
func burning(s State) bool {
	return s.Running() || s == StateModeSwitching
}

// seamless reports whether a transition keeps the flame lit, so the
// running exit bookkeeping must not fire across it.
func seamless(from, to State) bool {
	return burning(from) && burning(to)
}

// Config times the firing sequence.
type Config struct {
	// PrePurge vents the chamber before each ignition attempt.
	PrePurge time.Duration
	// IgnitionTimeout bounds one ignition attempt.
	IgnitionTimeout time.Duration
	// MinIgnitionTime is how long an attempt must run before the
	// flame check is trusted.
	MinIgnitionTime time.Duration
	// MaxIgnitionRetries is the failed attempts allowed before
	// lockout.
	MaxIgnitionRetries int
	// PostPurge vents residual gas after flame out. Held to
	// [30s, 3m].
	PostPurge time.Duration
	// ErrorRecovery is how long the machine sits in ERROR before a
	// recovery safety pass is attempted.
	ErrorRecovery time.Duration
	// ModeSwitchGrace is how long a seamless switch waits for the
	// new mode's request to be posted.
	ModeSwitchGrace time.Duration
	// EmergencyCooldown spaces repeated emergency relay batches.
	EmergencyCooldown time.Duration
	// HighPowerLimit blocks raising to high fire while the boiler
	// output is at or above this temperature.
	HighPowerLimit units.Temp
}

// DefaultConfig returns the stock firing sequence timing.
func DefaultConfig() Config {
	return Config{
		PrePurge:           2 * time.Second,
		IgnitionTimeout:    5 * time.Second,
		MinIgnitionTime:    3 * time.Second,
		MaxIgnitionRetries: 3,
		PostPurge:          60 * time.Second,
		ErrorRecovery:      5 * time.Minute,
		ModeSwitchGrace:    6 * time.Second,
		EmergencyCooldown:  5 * time.Second,
		HighPowerLimit:     units.TempFromWhole(80),
	}
}

const (
	minPostPurge = 30 * time.Second
	maxPostPurge = 3 * time.Minute
)

// withBounds holds PostPurge to its permitted range.
func (c Config) withBounds() Config {
	if c.PostPurge < minPostPurge {
		c.PostPurge = minPostPurge
	}
	if c.PostPurge > maxPostPurge {
		c.PostPurge = maxPostPurge
	}
	return c
}

// Deps are the collaborators the machine drives.
type Deps struct {
	// Driver actuates the burner relays.
	Driver relay.Driver
	// Gate enforces minimum burner cycle spacing.
	Gate *antiflap.Gate
	// Validator runs the full safety pass.
	Validator *safety.Validator
	// Interlock is the hard-wired safety chain, polled on every tick
	// while the flame is lit.
	Interlock safety.Interlock
	// Sensors supplies temperature readings.
	Sensors *sensors.Store
	// State is the system state blackboard.
	State *demand.State
	// Requests carries the per-mode burner requests.
	Requests *demand.Manager
	// Flame reports flame presence.
	Flame FlameSensor
}

// stateConfig is one row of the transition table.
type stateConfig struct {
	handler   func() State
	onEntry   func()
	onExit    func()
	timeout   time.Duration
	onTimeout State
}

// Machine is the burner state machine. One control loop drives it
// through Update; the temperature loop posts demand through
// SetHeatDemand; everything else reads.
type Machine struct {
	driver    relay.Driver
	gate      *antiflap.Gate
	validator *safety.Validator
	interlock safety.Interlock
	sensors   *sensors.Store
	state     *demand.State
	requests  *demand.Manager
	flame     FlameSensor
	log       *logrus.Entry
	now       func() time.Time

	// demandMu keeps SetHeatDemand callable from the temperature
	// loop while Update holds mu.
	demandMu   sync.Mutex
	heatDemand bool
	target     units.Temp
	highPower  bool

	mu            sync.Mutex
	cfg           Config
	safetyCfg     safety.Config
	table         [stateCount]stateConfig
	current       State
	previous      State
	enteredAt     time.Time
	retries       int
	waterMode     bool
	powerLease    *antiflap.Reservation
	inEmergency   bool
	lastEmergency time.Time
}

// NewMachine builds an idle machine.
func NewMachine(cfg Config, safetyCfg safety.Config, deps Deps, log *logrus.Entry, now func() time.Time) *Machine {
	m := &Machine{
		driver:    deps.Driver,
		gate:      deps.Gate,
		validator: deps.Validator,
		interlock: deps.Interlock,
		sensors:   deps.Sensors,
		state:     deps.State,
		requests:  deps.Requests,
		flame:     deps.Flame,
		log:       log,
		now:       now,
		cfg:       cfg.withBounds(),
		safetyCfg: safetyCfg,
		current:   StateIdle,
		previous:  StateIdle,
		enteredAt: now(),
	}

	// Ignition carries no table timeout: its handler owns attempt
	// timing so the retry counter always runs before lockout.
	// Lockout carries none either: it holds until ResetLockout.
	// Post purge and error check their runtime-tunable durations in
	// their handlers.
	m.table = [stateCount]stateConfig{
		StateIdle:          {handler: m.handleIdle},
		StatePrePurge:      {handler: m.handlePrePurge, onEntry: m.enterPrePurge, timeout: m.cfg.PrePurge, onTimeout: StateIgnition},
		StateIgnition:      {handler: m.handleIgnition, onEntry: m.enterIgnition},
		StateRunningLow:    {handler: m.handleRunningLow, onEntry: m.enterRunningLow, onExit: m.exitRunning},
		StateRunningHigh:   {handler: m.handleRunningHigh, onEntry: m.enterRunningHigh, onExit: m.exitRunning},
		StateModeSwitching: {handler: m.handleModeSwitching, onExit: m.exitRunning},
		StatePostPurge:     {handler: m.handlePostPurge, onEntry: m.enterPostPurge},
		StateLockout:       {handler: m.handleLockout, onEntry: m.enterLockout, onExit: m.exitLockout},
		StateError:         {handler: m.handleError, onEntry: m.enterError},
	}
	return m
}

// Update advances the machine one step: continuous interlock monitor,
// state timeout, then the state handler. Call it on the burner control
// loop's tick.
func (m *Machine) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current {
	case StateIgnition, StateRunningLow, StateRunningHigh, StateModeSwitching:
		if !m.interlockIntactLocked() {
			m.emergencyStopLocked("interlock opened while firing")
			return
		}
	}

	sc := m.table[m.current]
	if sc.timeout > 0 {
		if elapsed := m.now().Sub(m.enteredAt); elapsed > sc.timeout {
			m.log.WithFields(logrus.Fields{
				"state":   m.current.String(),
				"elapsed": elapsed.Round(time.Millisecond),
			}).Info("state timed out")
			m.transitionLocked(sc.onTimeout)
			return
		}
	}
	if sc.handler != nil {
		if next := sc.handler(); next != m.current {
			m.transitionLocked(next)
		}
	}
}

func (m *Machine) transitionLocked(to State) {
	if to == m.current {
		return
	}
	from := m.current
	if sc := m.table[from]; sc.onExit != nil && !seamless(from, to) {
		sc.onExit()
	}
	m.previous = from
	m.current = to
	m.enteredAt = m.now()

	m.log.WithFields(logrus.Fields{
		"from": from.String(),
		"to":   to.String(),
	}).Info("state transition")

	// Mode switching is invisible to the anti-flap gate: the flame
	// never drops. Ignition records once the mode is known, in its
	// entry action.
	if to != StateModeSwitching && from != StateModeSwitching && to != StateIgnition {
		m.gate.RecordChange(powerLevel(to))
	}

	if sc := m.table[to]; sc.onEntry != nil {
		sc.onEntry()
	}
}

// powerLevel maps a machine state to its anti-flap power level.
func powerLevel(s State) antiflap.PowerLevel {
	switch s {
	case StateRunningLow:
		return antiflap.PowerLow
	case StateRunningHigh:
		return antiflap.PowerHigh
	default:
		return antiflap.PowerOff
	}
}

func (m *Machine) handleIdle() State {
	if !m.demandActive() {
		return StateIdle
	}
	if res := m.safetyResultLocked(); res != safety.Safe {
		m.log.WithField("reason", res.String()).Debug("ignition blocked by safety")
		return StateIdle
	}
	if !m.gate.CanTurnOn() {
		m.log.WithField("wait", m.gate.UntilCanTurnOn().Round(time.Second)).
			Debug("ignition held by anti-flap gate")
		return StateIdle
	}
	m.log.Info("heat demand accepted, starting pre purge")
	return StatePrePurge
}

func (m *Machine) handlePrePurge() State {
	if res := m.safetyResultLocked(); res != safety.Safe {
		m.log.WithField("reason", res.String()).Error("safety failed during pre purge")
		return StateError
	}
	// Table timeout advances to ignition.
	return StatePrePurge
}

func (m *Machine) enterPrePurge() {
	if err := m.driver.ApplyBurner(relay.BurnerState{}); err != nil {
		m.log.WithError(err).Error("burner off failed entering pre purge")
		m.emergencyStopLocked("burner relays unresponsive")
	}
}

func (m *Machine) enterIgnition() {
	m.waterMode = m.demandWaterModeLocked()
	m.gate.RecordChange(antiflap.PowerLow)

	if err := m.applyBurnerLocked(true, m.waterMode, false); err != nil {
		m.log.WithError(err).WithField("mode", modeName(m.waterMode)).
			Error("burner relays failed at ignition")
		m.state.Set(demand.ErrorActive)
		return
	}
	m.log.WithFields(logrus.Fields{
		"mode":    modeName(m.waterMode),
		"attempt": m.retries + 1,
	}).Info("igniting")
}

func (m *Machine) handleIgnition() State {
	elapsed := m.now().Sub(m.enteredAt)
	if elapsed < m.cfg.MinIgnitionTime {
		// Flame scanner needs settling time.
		return StateIgnition
	}

	lit, err := m.flame.Detected()
	if err != nil {
		m.log.WithError(err).Warn("flame check failed")
		lit = false
	}
	if lit {
		m.log.WithFields(logrus.Fields{
			"mode":    modeName(m.waterMode),
			"attempt": m.retries + 1,
		}).Info("flame established")
		m.retries = 0
		if m.shouldRunHighLocked() {
			return StateRunningHigh
		}
		return StateRunningLow
	}

	if elapsed >= m.cfg.IgnitionTimeout {
		m.retries++
		if m.retries >= m.cfg.MaxIgnitionRetries {
			m.log.WithField("attempts", m.retries).Error("ignition failed, locking out")
			return StateLockout
		}
		m.log.WithFields(logrus.Fields{
			"attempt": m.retries,
			"max":     m.cfg.MaxIgnitionRetries,
		}).Warn("no flame, retrying")
		return StatePrePurge
	}
	return StateIgnition
}

func (m *Machine) handleRunningLow() State {
	if next := m.runningDutiesLocked(StateRunningLow); next != StateRunningLow {
		return next
	}
	if m.shouldRunHighLocked() {
		if res, ok := m.gate.Reserve(antiflap.PowerHigh); ok {
			m.powerLease = res
			return StateRunningHigh
		}
		m.log.WithField("wait", m.gate.UntilCanChangePower().Round(time.Second)).
			Debug("power raise held by anti-flap gate")
	}
	return StateRunningLow
}

func (m *Machine) handleRunningHigh() State {
	if next := m.runningDutiesLocked(StateRunningHigh); next != StateRunningHigh {
		return next
	}
	if !m.requestedHigh() {
		if res, ok := m.gate.Reserve(antiflap.PowerLow); ok {
			m.powerLease = res
			return StateRunningLow
		}
		m.log.WithField("wait", m.gate.UntilCanChangePower().Round(time.Second)).
			Debug("power drop held by anti-flap gate")
	}
	return StateRunningHigh
}

// runningDutiesLocked runs the shared running-state checks in priority
// order: mode switch, safety shutdown, flame supervision.
func (m *Machine) runningDutiesLocked(stay State) State {
	if next := m.modeSwitchCheckLocked(stay); next != stay {
		return next
	}
	if next := m.shutdownCheckLocked(stay); next != stay {
		return next
	}
	return m.flameCheckLocked(stay)
}

// modeSwitchCheckLocked watches the blackboard for the active mode
// flipping under a running burner.
func (m *Machine) modeSwitchCheckLocked(stay State) State {
	nowWater := m.demandWaterModeLocked()
	if nowWater == m.waterMode {
		return stay
	}
	fields := logrus.Fields{
		"from": modeName(m.waterMode),
		"to":   modeName(nowWater),
	}
	if m.seamlessSwitchOKLocked() {
		m.log.WithFields(fields).Info("switching mode under flame")
		return StateModeSwitching
	}
	m.log.WithFields(fields).Info("switching mode via restart")
	return StatePostPurge
}

// seamlessSwitchOKLocked requires a clean safety pass and a healthy
// flame; anything else routes the switch through a full restart.
func (m *Machine) seamlessSwitchOKLocked() bool {
	if res := m.safetyResultLocked(); res != safety.Safe {
		return false
	}
	lit, err := m.flame.Detected()
	return err == nil && lit
}

// shutdownCheckLocked shuts the burner down when demand dropped or a
// safety margin is violated. Soft shutdowns honor the minimum burn
// window; the hard chain bypasses it through the interlock monitor.
func (m *Machine) shutdownCheckLocked(stay State) State {
	res := m.safetyResultLocked()
	if m.demandActive() && res == safety.Safe {
		return stay
	}
	if !m.gate.CanTurnOff() {
		m.log.WithField("wait", m.gate.UntilCanTurnOff().Round(time.Second)).
			Debug("shutdown held by anti-flap gate")
		return stay
	}
	if res != safety.Safe {
		m.log.WithField("reason", res.String()).Warn("safety shutdown")
	} else {
		m.log.Info("heat demand dropped, shutting down")
	}
	return StatePostPurge
}

// flameCheckLocked supervises the established flame. Loss always means
// post purge, whatever the anti-flap gate says.
func (m *Machine) flameCheckLocked(stay State) State {
	lit, err := m.flame.Detected()
	if err != nil {
		m.log.WithError(err).Warn("flame check failed")
		lit = false
	}
	if lit {
		return stay
	}
	if m.demandActive() {
		m.log.Warn("flame lost while firing")
	} else {
		m.log.Debug("flame out after demand drop")
	}
	return StatePostPurge
}

func (m *Machine) handleModeSwitching() State {
	if res := m.safetyResultLocked(); res != safety.Safe {
		m.log.WithField("reason", res.String()).Error("safety failed during mode switch")
		return StateError
	}

	waterReq := m.requests.WaterRequested()
	heatingReq := m.requests.HeatingRequested()
	newWater := waterReq && (!heatingReq || m.requests.WaterPriority())
	hasDemand := heatingReq
	if newWater {
		hasDemand = waterReq
	}

	if !hasDemand {
		// The heating loop posts on a slow interval; give it one
		// full interval before giving up on the switch.
		if !newWater && m.now().Sub(m.enteredAt) < m.cfg.ModeSwitchGrace {
			m.log.Debug("waiting for heating request")
			return StateModeSwitching
		}
		m.log.Info("mode switch target has no demand, shutting down")
		return StatePostPurge
	}

	if newWater == m.waterMode {
		m.log.Warn("mode switch reverted")
		return StateRunningLow
	}

	high := m.previous == StateRunningHigh
	if err := m.applyBurnerLocked(true, newWater, high); err != nil {
		m.log.WithError(err).Error("mode switch relays failed")
		return StatePostPurge
	}
	m.waterMode = newWater
	m.log.WithField("mode", modeName(newWater)).Info("mode switched")

	if m.shouldRunHighLocked() {
		return StateRunningHigh
	}
	return StateRunningLow
}

func (m *Machine) handlePostPurge() State {
	if m.now().Sub(m.enteredAt) >= m.cfg.PostPurge {
		m.log.Info("post purge complete")
		return StateIdle
	}
	return StatePostPurge
}

// enterPostPurge drops the burner relays only; the pumps keep moving
// residual heat out of the exchanger.
func (m *Machine) enterPostPurge() {
	if err := m.driver.ApplyBurner(relay.BurnerState{}); err != nil {
		m.log.WithError(err).Error("burner off failed entering post purge")
		m.emergencyStopLocked("burner relays unresponsive")
	}
}

func (m *Machine) handleLockout() State {
	return StateLockout
}

func (m *Machine) enterLockout() {
	m.state.Set(demand.ErrorActive)
	if err := m.driver.ApplyBurner(relay.BurnerState{}); err != nil {
		m.log.WithError(err).Error("burner off failed entering lockout")
		if err := m.driver.AllOff(); err != nil {
			m.log.WithError(err).Error("relay all-off failed")
		}
	}
	// The alarm output follows the BurnerError status bit through the
	// pump loop, which owns that relay.
	m.log.Error("burner locked out")
}

func (m *Machine) exitLockout() {
	m.state.Clear(demand.ErrorActive)
}

func (m *Machine) handleError() State {
	if m.now().Sub(m.enteredAt) < m.cfg.ErrorRecovery {
		return StateError
	}
	if res := m.safetyResultLocked(); res != safety.Safe {
		m.log.WithField("reason", res.String()).Debug("recovery blocked by safety")
		return StateError
	}
	m.state.Clear(demand.ErrorActive)
	m.log.Info("error recovered, returning to idle")
	return StateIdle
}

func (m *Machine) enterError() {
	m.state.Set(demand.ErrorActive)
	if err := m.driver.AllOff(); err != nil {
		m.log.WithError(err).Error("relay all-off failed entering error")
	}
}

func (m *Machine) enterRunningLow() {
	if err := m.applyBurnerLocked(true, m.waterMode, false); err != nil {
		m.rollbackLeaseLocked()
		m.log.WithError(err).Error("low fire relays failed")
		m.emergencyStopLocked("burner relays unresponsive")
		return
	}
	m.commitLeaseLocked()
	m.state.Clear(demand.ErrorActive)
	m.state.Set(demand.BoilerOn)
	m.validator.RecordBurnerStart()
	m.log.WithField("mode", modeName(m.waterMode)).Info("running low fire")
}

func (m *Machine) enterRunningHigh() {
	if err := m.applyBurnerLocked(true, m.waterMode, true); err != nil {
		m.rollbackLeaseLocked()
		m.log.WithError(err).Error("high fire relays failed")
		m.emergencyStopLocked("burner relays unresponsive")
		return
	}
	m.commitLeaseLocked()
	m.state.Set(demand.BoilerOn)
	m.validator.RecordBurnerStart()
	m.log.WithField("mode", modeName(m.waterMode)).Info("running high fire")
}

func (m *Machine) exitRunning() {
	m.state.Clear(demand.BoilerOn)
	if run := m.validator.ContinuousRuntime(); run > 0 {
		m.log.WithField("runtime", run.Round(time.Second)).Info("burn ended")
	}
	m.validator.RecordBurnerStop()
}

// emergencyStopLocked drops every relay and parks the machine in
// ERROR. Reentrant calls are ignored; repeats inside EmergencyCooldown
// are ignored.
func (m *Machine) emergencyStopLocked(reason string) {
	if m.inEmergency {
		return
	}
	if m.current == StateLockout {
		// Lockout already has every relay off and releases only
		// through ResetLockout; ERROR would auto-recover and relight
		// a burner that failed its ignition retries.
		m.log.WithField("reason", reason).Warn("emergency stop while locked out")
		if err := m.driver.AllOff(); err != nil {
			m.log.WithError(err).Error("relay all-off failed during emergency stop")
		}
		return
	}
	now := m.now()
	if !m.lastEmergency.IsZero() && now.Sub(m.lastEmergency) < m.cfg.EmergencyCooldown {
		m.log.WithField("reason", reason).Debug("emergency stop within cooldown")
		return
	}
	m.inEmergency = true
	m.lastEmergency = now

	m.log.WithField("reason", reason).Error("emergency stop")

	if err := m.driver.AllOff(); err != nil {
		m.log.WithError(err).Error("relay all-off failed during emergency stop")
	}
	m.state.Clear(demand.BoilerOn)
	m.rollbackLeaseLocked()
	m.transitionLocked(StateError)
	m.inEmergency = false
}

// EmergencyStop drops every relay and parks the machine in ERROR.
// Safe to call from any goroutine.
func (m *Machine) EmergencyStop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStopLocked(reason)
}

// ResetLockout releases a locked out burner back to idle. Refused in
// any other state.
func (m *Machine) ResetLockout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != StateLockout {
		m.log.WithField("state", m.current.String()).Warn("lockout reset refused")
		return false
	}
	m.retries = 0
	m.log.Info("lockout reset")
	m.transitionLocked(StateIdle)
	return true
}

// SetHeatDemand is the temperature loop's mailbox: the latest demand
// wholly replaces the previous one. The target only updates when
// positive.
func (m *Machine) SetHeatDemand(active bool, target units.Temp, highPower bool) {
	m.demandMu.Lock()
	defer m.demandMu.Unlock()

	changed := active != m.heatDemand || highPower != m.highPower
	if target.Valid() && target > 0 {
		changed = changed || target.Sub(m.target).Abs().Greater(units.Temp(1))
		m.target = target
	}
	m.heatDemand = active
	m.highPower = highPower

	if changed {
		m.log.WithFields(logrus.Fields{
			"demand": active,
			"target": m.target.String(),
			"high":   highPower,
		}).Info("heat demand updated")
	}
}

// HeatDemand returns the last posted demand, target and power request.
func (m *Machine) HeatDemand() (active bool, target units.Temp, highPower bool) {
	m.demandMu.Lock()
	defer m.demandMu.Unlock()
	return m.heatDemand, m.target, m.highPower
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Previous returns the state before the last transition.
func (m *Machine) Previous() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previous
}

// TimeInState returns how long the current state has been active.
func (m *Machine) TimeInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Sub(m.enteredAt)
}

// WaterMode reports whether the burner runs, or last ran, the water
// loop.
func (m *Machine) WaterMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waterMode
}

// IgnitionRetries returns the failed attempts in the current ignition
// sequence.
func (m *Machine) IgnitionRetries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Firing reports whether the flame is established.
func (m *Machine) Firing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return burning(m.current)
}

// StatusBit maps the machine state to the exclusive burner status
// group on the state word.
func (m *Machine) StatusBit() demand.Bits {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.current {
	case StateRunningLow, StateModeSwitching:
		if m.waterMode {
			return demand.BurnerWaterLow
		}
		return demand.BurnerHeatingLow
	case StateRunningHigh:
		if m.waterMode {
			return demand.BurnerWaterHigh
		}
		return demand.BurnerHeatingHigh
	case StateLockout, StateError:
		return demand.BurnerError
	default:
		return demand.BurnerOff
	}
}

// SetConfig replaces the firing sequence timing.
func (m *Machine) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg.withBounds()
	m.table[StatePrePurge].timeout = m.cfg.PrePurge
}

// Config returns the active timing.
func (m *Machine) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// SetSafetyConfig replaces the margins used for safety passes.
func (m *Machine) SetSafetyConfig(cfg safety.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safetyCfg = cfg
}

// SafetyConfig returns the margins in use.
func (m *Machine) SafetyConfig() safety.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safetyCfg
}

// interlockIntactLocked is the fast hard-chain check run on every tick
// while the flame is lit. The full validator pass runs in the idle and
// running handlers.
func (m *Machine) interlockIntactLocked() bool {
	if m.state.Test(demand.EmergencyStop) {
		return false
	}
	closed, err := m.interlock.Closed()
	if err != nil {
		m.log.WithError(err).Error("interlock read failed")
		return false
	}
	return closed
}

// safetyResultLocked runs the full validator pass for the mode the
// burner is in, or would ignite into.
func (m *Machine) safetyResultLocked() safety.Result {
	water := m.waterMode
	if !burning(m.current) {
		water = m.demandWaterModeLocked()
	}
	return m.validator.Validate(m.sensors.Snapshot(), m.safetyCfg, water)
}

// demandWaterModeLocked decides the firing mode from the blackboard:
// water wins when the water loop runs and heating either idles or
// yields priority.
func (m *Machine) demandWaterModeLocked() bool {
	waterOn := m.state.Test(demand.WaterOn)
	heatingOn := m.state.Test(demand.HeatingOn)
	return waterOn && (!heatingOn || m.state.Test(demand.WaterPriority))
}

// applyBurnerLocked writes the burner relay pattern in one batch.
func (m *Machine) applyBurnerLocked(on, water, high bool) error {
	var b relay.BurnerState
	if on {
		b.Boost = high
		b.Water = water
		b.Enable = !water
	}
	return m.driver.ApplyBurner(b)
}

func (m *Machine) demandActive() bool {
	m.demandMu.Lock()
	defer m.demandMu.Unlock()
	return m.heatDemand
}

func (m *Machine) requestedHigh() bool {
	m.demandMu.Lock()
	defer m.demandMu.Unlock()
	return m.highPower
}

// shouldRunHighLocked reports whether the burner should run high fire:
// the requested power, unless the boiler output is at the ceiling.
func (m *Machine) shouldRunHighLocked() bool {
	if !m.requestedHigh() {
		return false
	}
	out := m.sensors.Snapshot().BoilerOutput
	if out.Valid() && out.AtLeast(m.cfg.HighPowerLimit) {
		m.log.WithField("boiler_output", out.String()).
			Info("high fire blocked near temperature ceiling")
		return false
	}
	return true
}

func (m *Machine) commitLeaseLocked() {
	if m.powerLease != nil {
		m.powerLease.Commit()
		m.powerLease = nil
	}
}

func (m *Machine) rollbackLeaseLocked() {
	if m.powerLease != nil {
		m.powerLease.Rollback()
		m.powerLease = nil
	}
}

func modeName(water bool) string {
	if water {
		return "water"
	}
	return "heating"
}
