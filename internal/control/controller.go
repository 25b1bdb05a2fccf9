package control

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/antiflap"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// BurnerType selects the control strategy.
type BurnerType int

const (
	// TwoStage is three-point bang-bang control with hysteresis.
	TwoStage BurnerType = iota
	// Modulating runs a PID whose output is quantized to power levels.
	Modulating
)

func (b BurnerType) String() string {
	switch b {
	case TwoStage:
		return "two_stage"
	case Modulating:
		return "modulating"
	}
	return "unknown"
}

// Output is one control decision.
type Output struct {
	BurnerOn   bool
	Level      antiflap.PowerLevel
	Modulation int // 0-100, for status reporting
	Changed    bool
}

// Config holds the thresholds and gain sets for both strategies.
type Config struct {
	BurnerType BurnerType

	// Bang-bang thresholds on error = target - current, in tenths.
	// OffHysteresis switches off when error drops below its negative,
	// OnHysteresis ignites to LOW, FullPowerThreshold escalates to HIGH.
	OffHysteresis      units.Temp
	OnHysteresis       units.Temp
	FullPowerThreshold units.Temp

	// Acceptable target window. Targets outside it fail toward off.
	MinTarget units.Temp
	MaxTarget units.Temp

	// Mode-specific PID gain sets for modulating control.
	SpaceGains Gains
	WaterGains Gains

	// Quantizer bands for the PID percentage, centered at 50 when on
	// target. Per-level enter and exit thresholds are derived from
	// these plus the hysteresis.
	OffThreshold        int
	HalfThreshold       int
	FullThreshold       int
	ThresholdHysteresis int
}

// DefaultConfig returns the stock two-stage thresholds and modulating
// bands: off above target+5.0, on below target-3.0, full below
// target-10.0; PID bands 30/60/85 with 5 points of hysteresis.
func DefaultConfig() Config {
	return Config{
		BurnerType:          Modulating,
		OffHysteresis:       units.TempFromFloat(5.0),
		OnHysteresis:        units.TempFromFloat(3.0),
		FullPowerThreshold:  units.TempFromFloat(10.0),
		MinTarget:           units.TempFromWhole(20),
		MaxTarget:           units.TempFromWhole(110),
		SpaceGains:          GainsFromFloat(2.0, 0.1, 0.5),
		WaterGains:          GainsFromFloat(2.0, 0.1, 0.5),
		OffThreshold:        30,
		HalfThreshold:       60,
		FullThreshold:       85,
		ThresholdHysteresis: 5,
	}
}

// Auto-tune safety bounds on the boiler output temperature, in tenths.
// Tuning may only start inside the window, aborts past the excursion
// limit, and the setpoint is capped.
var (
	tuneStartMin    = units.TempFromFloat(15.0)
	tuneStartMax    = units.TempFromFloat(75.0)
	tuneAbortTemp   = units.TempFromFloat(80.0)
	tuneSetpointCap = units.TempFromFloat(85.0)
)

// Controller converts a target and current boiler temperature into a
// burner power level. It fails toward off on any invalid input, holds
// its previous level inside hysteresis bands, and defers to the
// anti-flap gate before every level change.
type Controller struct {
	gate     *antiflap.Gate
	requests *demand.Manager
	log      *logrus.Entry
	now      func() time.Time

	mu            sync.Mutex
	cfg           Config
	pid           *PID
	tuner         *AutoTuner
	waterMode     bool
	tuning        bool
	tuneSetpoint  units.Temp
	method        TuningMethod
	last          Output
	lastPIDOutput int
	lastPIDAt     time.Time
}

// NewController wires the controller to the anti-flap gate and the
// request mailbox it reads the active mode from.
func NewController(cfg Config, gate *antiflap.Gate, requests *demand.Manager, log *logrus.Entry, now func() time.Time) *Controller {
	return &Controller{
		gate:      gate,
		requests:  requests,
		log:       log,
		now:       now,
		cfg:       cfg,
		pid:       NewPID(),
		tuner:     NewAutoTuner(log),
		method:    TuneZNPI,
		lastPIDAt: now(),
	}
}

// Calculate produces the power level for the given target and current
// boiler output temperature. An invalid target or reading yields off;
// the returned Changed flag still fires once so the caller shuts the
// burner down, but the stored state will not re-fire it.
func (c *Controller) Calculate(target, current units.Temp) Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.validTarget(target) || !current.Valid() {
		c.log.WithFields(logrus.Fields{
			"target":  target.String(),
			"current": current.String(),
		}).Warn("invalid control input, failing toward off")
		out := Output{Changed: c.last.BurnerOn}
		c.last = out
		c.last.Changed = false
		return out
	}

	var out Output
	switch c.cfg.BurnerType {
	case TwoStage:
		out = c.bangBang(target, current)
	case Modulating:
		out = c.modulating(target, current)
	default:
		c.log.WithField("burner_type", c.cfg.BurnerType).Error("unknown burner type")
		out = Output{}
	}

	out.Changed = out.BurnerOn != c.last.BurnerOn || out.Level != c.last.Level
	if out.Changed {
		c.log.WithFields(logrus.Fields{
			"from":    c.last.Level.String(),
			"to":      out.Level.String(),
			"target":  target.String(),
			"current": current.String(),
		}).Info("control output changed")
	}
	c.last = out
	return out
}

// bangBang is three-point control: off above target plus hysteresis,
// low below target minus the on hysteresis, high below target minus
// the full threshold, holding the previous level in the dead zones.
func (c *Controller) bangBang(target, current units.Temp) Output {
	err := target.Sub(current)

	desired := c.last.Level
	switch {
	case err.Less(-c.cfg.OffHysteresis):
		desired = antiflap.PowerOff
	case err.Greater(c.cfg.FullPowerThreshold):
		desired = antiflap.PowerHigh
	case err.Greater(c.cfg.OnHysteresis):
		desired = antiflap.PowerLow
	}

	desired = c.gated(desired)

	out := Output{
		BurnerOn: desired != antiflap.PowerOff,
		Level:    desired,
	}
	switch desired {
	case antiflap.PowerLow:
		out.Modulation = 50
	case antiflap.PowerHigh:
		out.Modulation = 100
	}
	return out
}

// modulating runs the PID, maps its adjustment to a 0-100 percentage
// centered at 50, and quantizes that through per-level hysteresis
// bands. Percentage moves inside the deadband are ignored so the
// quantizer input does not chatter.
func (c *Controller) modulating(target, current units.Temp) Output {
	now := c.now()
	dt := now.Sub(c.lastPIDAt)
	if dt <= 0 {
		dt = 100 * time.Millisecond
	}
	c.lastPIDAt = now

	adj := c.pid.Adjustment(target, current, c.activeGains(), dt)

	pidPower := 50 + int(adj)/10
	if pidPower < 0 {
		pidPower = 0
	}
	if pidPower > 100 {
		pidPower = 100
	}

	if c.gate.SignificantPIDChange(float64(c.lastPIDOutput), float64(pidPower)) {
		c.lastPIDOutput = pidPower
	}
	p := c.lastPIDOutput

	// Per-level bands: leaving OFF takes halfThreshold plus hysteresis,
	// entering FULL takes the full threshold, dropping out of FULL
	// happens below fullThreshold minus hysteresis, and anything under
	// offThreshold turns the burner off.
	offLow := c.cfg.OffThreshold
	halfHigh := c.cfg.HalfThreshold + c.cfg.ThresholdHysteresis
	fullLow := c.cfg.FullThreshold - c.cfg.ThresholdHysteresis
	fullHigh := c.cfg.FullThreshold

	desired := c.last.Level
	switch c.last.Level {
	case antiflap.PowerOff:
		if p > halfHigh {
			desired = antiflap.PowerLow
			if p > fullHigh {
				desired = antiflap.PowerHigh
			}
		}
	case antiflap.PowerLow:
		if p < offLow {
			desired = antiflap.PowerOff
		} else if p > fullHigh {
			desired = antiflap.PowerHigh
		}
	case antiflap.PowerHigh:
		if p < offLow {
			desired = antiflap.PowerOff
		} else if p < fullLow {
			desired = antiflap.PowerLow
		}
	}

	desired = c.gated(desired)

	return Output{
		BurnerOn:   desired != antiflap.PowerOff,
		Level:      desired,
		Modulation: p,
	}
}

// gated holds the previous level when the anti-flap gate denies the
// desired change. The gate call is advisory; the state machine owns
// the reserve/commit cycle when it acts on the output.
func (c *Controller) gated(desired antiflap.PowerLevel) antiflap.PowerLevel {
	if desired == c.last.Level {
		return desired
	}
	if !c.gate.CanChangePower(desired) {
		c.log.WithFields(logrus.Fields{
			"from": c.last.Level.String(),
			"to":   desired.String(),
		}).Debug("anti-flap holds power level")
		return c.last.Level
	}
	return desired
}

func (c *Controller) validTarget(target units.Temp) bool {
	return target.AtLeast(c.cfg.MinTarget) && target.AtMost(c.cfg.MaxTarget)
}

// UpdateMode switches the PID gain set when the active request flips
// between water and space heating, resetting the PID so no integral
// history crosses the mode boundary.
func (c *Controller) UpdateMode() {
	water := c.requests.WaterRequested()

	c.mu.Lock()
	defer c.mu.Unlock()
	if water == c.waterMode {
		return
	}
	c.waterMode = water
	c.pid.Reset()
	c.lastPIDOutput = 0

	kp, ki, kd := c.activeGains().Floats()
	c.log.WithFields(logrus.Fields{
		"mode": modeName(water),
		"kp":   kp,
		"ki":   ki,
		"kd":   kd,
	}).Info("control mode switched")
}

// WaterMode reports whether water heating gains are active.
func (c *Controller) WaterMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waterMode
}

// activeGains returns the gain set of the current mode. Caller holds mu.
func (c *Controller) activeGains() Gains {
	if c.waterMode {
		return c.cfg.WaterGains
	}
	return c.cfg.SpaceGains
}

// ActiveGains returns the gain set currently driving the PID.
func (c *Controller) ActiveGains() Gains {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeGains()
}

// SetGains replaces the active mode's gain set.
func (c *Controller) SetGains(g Gains) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waterMode {
		c.cfg.WaterGains = g
	} else {
		c.cfg.SpaceGains = g
	}
	kp, ki, kd := g.Floats()
	c.log.WithFields(logrus.Fields{
		"mode": modeName(c.waterMode),
		"kp":   kp,
		"ki":   ki,
		"kd":   kd,
	}).Info("PID gains updated")
}

// SetConfig swaps the whole configuration.
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.log.WithFields(logrus.Fields{
		"burner_type": cfg.BurnerType.String(),
		"off_hyst":    cfg.OffHysteresis.String(),
		"on_hyst":     cfg.OnHysteresis.String(),
		"full_thresh": cfg.FullPowerThreshold.String(),
	}).Info("controller config updated")
}

// Config returns a copy of the current configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// LastOutput returns the most recent control decision.
func (c *Controller) LastOutput() Output {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// PIDOutput returns the last PID percentage for diagnostics.
func (c *Controller) PIDOutput() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPIDOutput
}

// Reset restores the safe initial state, including the PID history.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = Output{}
	c.pid.Reset()
	c.lastPIDOutput = 0
	c.lastPIDAt = c.now()
	c.log.Info("controller reset")
}

// SetTuningMethod selects the rule used by the next auto-tune run.
// Rejected while tuning is active.
func (c *Controller) SetTuningMethod(m TuningMethod) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tuning {
		c.log.Warn("cannot change tuning method while tuning")
		return false
	}
	c.method = m
	c.log.WithField("method", m.String()).Info("tuning method set")
	return true
}

// TuningMethod returns the rule the next run will use.
func (c *Controller) TuningMethod() TuningMethod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.method
}

// StartTuning arms the relay-feedback test. The current boiler
// temperature must be inside the start window so the oscillation has
// room in both directions; the setpoint is capped at the tuning
// ceiling. The PID is reset for a clean start after the run.
func (c *Controller) StartTuning(setpoint, current units.Temp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tuning {
		c.log.Warn("auto-tuning already in progress")
		return false
	}
	if !setpoint.Valid() {
		c.log.Warn("auto-tuning rejected: invalid setpoint")
		return false
	}
	if !current.AtLeast(tuneStartMin) || !current.AtMost(tuneStartMax) {
		c.log.WithField("current", current.String()).
			Warn("auto-tuning rejected: boiler temperature outside start window")
		return false
	}
	if setpoint.Greater(tuneSetpointCap) {
		setpoint = tuneSetpointCap
	}

	if !c.tuner.Start(setpoint, c.method) {
		return false
	}
	c.tuning = true
	c.tuneSetpoint = setpoint
	c.pid.Reset()
	c.log.WithField("setpoint", setpoint.String()).Info("auto-tuning started")
	return true
}

// StopTuning abandons a running test.
func (c *Controller) StopTuning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tuning {
		return
	}
	c.tuner.Stop()
	c.tuning = false
	c.log.Info("auto-tuning stopped")
}

// Tuning reports whether the relay test is running.
func (c *Controller) Tuning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuning
}

// TuningSetpoint returns the setpoint the relay test oscillates
// around, for heat demand posts while tuning.
func (c *Controller) TuningSetpoint() units.Temp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuneSetpoint
}

// UpdateTuning advances the relay test with the current temperature
// and returns the burner command to apply. The tuner deliberately
// drives HIGH rather than LOW: at low fire the boiler cannot overshoot
// the hysteresis band, so the oscillation never develops. An excursion
// past the abort limit ends the run with the burner off.
func (c *Controller) UpdateTuning(current units.Temp) Output {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tuning {
		return c.last
	}
	if !current.Valid() {
		return c.last
	}

	if current.AtLeast(tuneAbortTemp) {
		c.log.WithField("current", current.String()).
			Error("auto-tuning aborted: temperature excursion")
		c.tuner.Stop()
		c.tuning = false
		out := Output{Changed: c.last.Level != antiflap.PowerOff}
		c.last = out
		return out
	}

	cmd := c.tuner.Update(current, c.now())

	var out Output
	if cmd > 0 {
		out = Output{BurnerOn: true, Level: antiflap.PowerHigh, Modulation: 100}
	} else {
		out = Output{}
	}
	out.Changed = out.Level != c.last.Level

	if c.tuner.State() != TuneRelayTest {
		c.tuning = false
	}

	c.last = out
	return out
}

// ApplyResults copies the identified gains into the gain set of the
// mode that was active during the run and resets the PID.
func (c *Controller) ApplyResults() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tuner.Complete() {
		c.log.Warn("no auto-tuning results to apply")
		return false
	}
	res := c.tuner.Result()
	if !res.Valid {
		c.log.Error("auto-tuning results invalid")
		return false
	}

	g := GainsFromFloat(res.Kp, res.Ki, res.Kd)
	if c.waterMode {
		c.cfg.WaterGains = g
	} else {
		c.cfg.SpaceGains = g
	}
	c.pid.Reset()
	c.lastPIDOutput = 0

	c.log.WithFields(logrus.Fields{
		"mode": modeName(c.waterMode),
		"kp":   res.Kp,
		"ki":   res.Ki,
		"kd":   res.Kd,
	}).Info("auto-tuned gains applied")
	return true
}

// TuningResult exposes the tuner's result for status publication.
func (c *Controller) TuningResult() TuningResult { return c.tuner.Result() }

// TuningProgress reports the relay test's completion percentage.
func (c *Controller) TuningProgress() int { return c.tuner.Progress() }

// TuningCycles reports completed oscillation cycles.
func (c *Controller) TuningCycles() int { return c.tuner.CycleCount() }

// TuningState exposes the tuner's lifecycle position.
func (c *Controller) TuningState() TuningState { return c.tuner.State() }

func modeName(water bool) string {
	if water {
		return "water"
	}
	return "space"
}
