package control

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// TuningMethod selects the rule set that converts the identified
// ultimate gain and period into PID gains.
type TuningMethod int

const (
	// TuneZNPI is conservative Ziegler-Nichols PI, the default.
	TuneZNPI TuningMethod = iota
	// TuneZNPID is classic Ziegler-Nichols PID.
	TuneZNPID
	// TuneTyreusLuyben trades response speed for less overshoot.
	TuneTyreusLuyben
	// TuneCohenCoon suits processes with dead time.
	TuneCohenCoon
	// TuneLambda is smooth PI with minimal overshoot.
	TuneLambda
)

// String returns the wire name used on command and status topics.
func (m TuningMethod) String() string {
	switch m {
	case TuneZNPI:
		return "zn_pi"
	case TuneZNPID:
		return "zn_pid"
	case TuneTyreusLuyben:
		return "tyreus"
	case TuneCohenCoon:
		return "cohen"
	case TuneLambda:
		return "lambda"
	}
	return "unknown"
}

// ParseTuningMethod maps a wire name to its method, reporting whether
// the name is known.
func ParseTuningMethod(s string) (TuningMethod, bool) {
	switch s {
	case "zn_pi":
		return TuneZNPI, true
	case "zn_pid":
		return TuneZNPID, true
	case "tyreus":
		return TuneTyreusLuyben, true
	case "cohen":
		return TuneCohenCoon, true
	case "lambda":
		return TuneLambda, true
	}
	return TuneZNPI, false
}

// TuningState is the tuner's lifecycle position.
type TuningState int

const (
	TuneIdle TuningState = iota
	TuneRelayTest
	TuneComplete
	TuneFailed
)

func (s TuningState) String() string {
	switch s {
	case TuneIdle:
		return "idle"
	case TuneRelayTest:
		return "relay_test"
	case TuneComplete:
		return "complete"
	case TuneFailed:
		return "failed"
	}
	return "unknown"
}

// TuningResult carries the identified gains. Ku and Tu are kept for
// diagnostics; Tu is in seconds.
type TuningResult struct {
	Kp             float64
	Ki             float64
	Kd             float64
	UltimateGain   float64
	UltimatePeriod float64
	Valid          bool
}

// Relay test parameters. The amplitude is a percentage swing around
// the operating point, the hysteresis the dead band around the
// setpoint that forces a genuine oscillation instead of chatter.
const (
	relayAmplitude  = 50.0
	relayHysteresis = 1.0

	minTuneCycles = 3
	maxTuneTime   = 40 * time.Minute

	// Identified-period sanity window. A period outside it means the
	// relay test did not excite a usable oscillation.
	minValidPeriod = 30.0
	maxValidPeriod = 600.0
)

// Gain clamps applied to every method's output.
const (
	tunedKpMin, tunedKpMax = 0.1, 100.0
	tunedKiMin, tunedKiMax = 0.0, 10.0
	tunedKdMin, tunedKdMax = 0.0, 10.0
)

// AutoTuner identifies PID gains with the relay feedback method: the
// burner is driven full-on and full-off around a setpoint, the
// resulting limit cycle's period and amplitude give the ultimate gain
// Ku = 4d/(pi*a), and a tuning rule turns Ku and Tu into gains.
//
// The caller feeds every temperature sample through Update and applies
// the returned relay command to the burner. The tuner never touches
// hardware itself.
type AutoTuner struct {
	log *logrus.Entry

	mu         sync.Mutex
	setpoint   float64
	hysteresis float64
	amplitude  float64
	method     TuningMethod

	state       TuningState
	relayOn     bool
	switchCount int
	start       time.Time
	lastSample  time.Time

	// Extremum of the running relay phase. The ON phase contributes a
	// peak when the relay drops, the OFF phase a trough when it rises.
	phaseMax, phaseMin     float64
	phaseMaxAt, phaseMinAt float64

	peakTimes    []float64
	peakValues   []float64
	troughTimes  []float64
	troughValues []float64

	result TuningResult
}

// NewAutoTuner returns an idle tuner.
func NewAutoTuner(log *logrus.Entry) *AutoTuner {
	return &AutoTuner{log: log, state: TuneIdle}
}

// Start arms the relay test around the given setpoint. Returns false
// while a test is already running; a finished tuner restarts cleanly.
func (t *AutoTuner) Start(setpoint units.Temp, method TuningMethod) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == TuneRelayTest {
		t.log.Warn("tuning already in progress")
		return false
	}

	t.setpoint = setpoint.Float64()
	t.hysteresis = relayHysteresis
	t.amplitude = relayAmplitude
	t.method = method

	t.state = TuneRelayTest
	t.relayOn = false
	t.switchCount = 0
	t.start = time.Time{}
	t.lastSample = time.Time{}
	t.phaseMax, t.phaseMin = math.Inf(-1), math.Inf(1)
	t.phaseMaxAt, t.phaseMinAt = 0, 0
	t.peakTimes, t.peakValues = nil, nil
	t.troughTimes, t.troughValues = nil, nil
	t.result = TuningResult{}

	t.log.WithFields(logrus.Fields{
		"setpoint":   t.setpoint,
		"amplitude":  t.amplitude,
		"hysteresis": t.hysteresis,
		"method":     method.String(),
	}).Info("starting relay feedback tuning")
	return true
}

// Update feeds one temperature sample at the given instant and returns
// the relay command: positive amplitude for burner on, negative for
// off, zero once the tuner has left the relay test.
func (t *AutoTuner) Update(current units.Temp, at time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TuneRelayTest {
		return 0
	}

	if t.start.IsZero() {
		t.start = at
	}
	t.lastSample = at

	if at.Sub(t.start) > maxTuneTime {
		t.log.Error("tuning timeout, no stable oscillation")
		t.state = TuneFailed
		return 0
	}

	out := t.relayStep(current.Float64(), at.Sub(t.start).Seconds())

	if t.cycles() >= minTuneCycles {
		if t.analyze() {
			t.computeGains()
			t.state = TuneComplete
			t.log.WithFields(logrus.Fields{
				"Kp": t.result.Kp,
				"Ki": t.result.Ki,
				"Kd": t.result.Kd,
				"Ku": t.result.UltimateGain,
				"Tu": t.result.UltimatePeriod,
			}).Info("tuning complete")
		} else {
			t.state = TuneFailed
			t.log.Error("oscillation analysis failed")
		}
		return 0
	}

	return out
}

// relayStep advances the relay with hysteresis and records phase
// extrema on each switch. elapsed is seconds since the test started.
func (t *AutoTuner) relayStep(temp, elapsed float64) float64 {
	if t.relayOn {
		if temp > t.phaseMax {
			t.phaseMax = temp
			t.phaseMaxAt = elapsed
		}
	} else {
		if temp < t.phaseMin {
			t.phaseMin = temp
			t.phaseMinAt = elapsed
		}
	}

	err := t.setpoint - temp
	switch {
	case t.relayOn && err < -t.hysteresis:
		// Overshot the band: relay off. The ON phase's hottest sample
		// is an oscillation peak, except on the very first switch,
		// which only ends the initial approach ramp.
		t.relayOn = false
		if t.switchCount > 0 {
			t.peakTimes = append(t.peakTimes, t.phaseMaxAt)
			t.peakValues = append(t.peakValues, t.phaseMax)
			t.log.WithFields(logrus.Fields{
				"peak": t.phaseMax,
				"at":   t.phaseMaxAt,
			}).Debug("peak recorded")
		}
		t.switchCount++
		t.phaseMin, t.phaseMinAt = temp, elapsed

	case !t.relayOn && err > t.hysteresis:
		t.relayOn = true
		if t.switchCount > 0 {
			t.troughTimes = append(t.troughTimes, t.phaseMinAt)
			t.troughValues = append(t.troughValues, t.phaseMin)
			t.log.WithFields(logrus.Fields{
				"trough": t.phaseMin,
				"at":     t.phaseMinAt,
			}).Debug("trough recorded")
		}
		t.switchCount++
		t.phaseMax, t.phaseMaxAt = temp, elapsed
	}

	if t.relayOn {
		return t.amplitude
	}
	return -t.amplitude
}

// analyze derives Ku and Tu from the recorded extrema.
func (t *AutoTuner) analyze() bool {
	if len(t.peakTimes) < 2 || len(t.troughTimes) < 2 {
		t.log.Error("insufficient oscillation data")
		return false
	}

	period := t.averagePeriod()
	if period < minValidPeriod || period > maxValidPeriod {
		t.log.WithField("period", period).Error("oscillation period outside valid window")
		return false
	}

	amplitude := t.oscillationAmplitude()
	if amplitude <= 0 {
		t.log.Error("oscillation amplitude not positive")
		return false
	}

	t.result.UltimateGain = (4 * t.amplitude) / (math.Pi * amplitude)
	t.result.UltimatePeriod = period
	return true
}

// averagePeriod is a trimmed mean of peak-to-peak and trough-to-trough
// intervals: with more than five samples the top and bottom fifth are
// dropped as outliers.
func (t *AutoTuner) averagePeriod() float64 {
	var periods []float64
	for i := 1; i < len(t.peakTimes); i++ {
		periods = append(periods, t.peakTimes[i]-t.peakTimes[i-1])
	}
	for i := 1; i < len(t.troughTimes); i++ {
		periods = append(periods, t.troughTimes[i]-t.troughTimes[i-1])
	}
	if len(periods) == 0 {
		return 0
	}

	sort.Float64s(periods)
	if len(periods) > 5 {
		trim := len(periods) / 5
		periods = periods[trim : len(periods)-trim]
	}

	var sum float64
	for _, p := range periods {
		sum += p
	}
	return sum / float64(len(periods))
}

// oscillationAmplitude is half the mean peak-to-trough swing.
func (t *AutoTuner) oscillationAmplitude() float64 {
	if len(t.peakValues) == 0 || len(t.troughValues) == 0 {
		return 0
	}
	var peaks, troughs float64
	for _, v := range t.peakValues {
		peaks += v
	}
	for _, v := range t.troughValues {
		troughs += v
	}
	avgPeak := peaks / float64(len(t.peakValues))
	avgTrough := troughs / float64(len(t.troughValues))
	return (avgPeak - avgTrough) / 2
}

// computeGains applies the selected tuning rule and the safety clamps.
func (t *AutoTuner) computeGains() {
	ku, tu := t.result.UltimateGain, t.result.UltimatePeriod

	switch t.method {
	case TuneZNPI:
		t.result.Kp = 0.45 * ku
		t.result.Ki = t.result.Kp / (0.83 * tu)
		t.result.Kd = 0
	case TuneZNPID:
		t.result.Kp = 0.6 * ku
		t.result.Ki = t.result.Kp / (0.5 * tu)
		t.result.Kd = t.result.Kp * 0.125 * tu
	case TuneTyreusLuyben:
		t.result.Kp = 0.3125 * ku
		t.result.Ki = t.result.Kp / (2.2 * tu)
		t.result.Kd = t.result.Kp * 0.37 * tu
	case TuneCohenCoon:
		t.result.Kp = 0.35 * ku
		t.result.Ki = t.result.Kp / (1.2 * tu)
		t.result.Kd = t.result.Kp * 0.25 * tu
	case TuneLambda:
		// Lambda set to Tu for conservative PI control.
		t.result.Kp = 0.2 * ku
		t.result.Ki = t.result.Kp / tu
		t.result.Kd = 0
	}

	t.result.Kp = clampFloat(t.result.Kp, tunedKpMin, tunedKpMax)
	t.result.Ki = clampFloat(t.result.Ki, tunedKiMin, tunedKiMax)
	t.result.Kd = clampFloat(t.result.Kd, tunedKdMin, tunedKdMax)
	t.result.Valid = true
}

// Stop abandons a running relay test. Completed or failed results are
// left in place.
func (t *AutoTuner) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TuneRelayTest {
		t.log.Info("tuning stopped")
		t.state = TuneIdle
	}
}

// State returns the lifecycle position.
func (t *AutoTuner) State() TuningState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Complete reports whether a valid result is ready.
func (t *AutoTuner) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TuneComplete
}

// Result returns the identified gains; Valid is false until complete.
func (t *AutoTuner) Result() TuningResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Progress reports completion from 0 to 100, by counted cycles.
func (t *AutoTuner) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case TuneIdle, TuneFailed:
		return 0
	case TuneComplete:
		return 100
	}
	p := t.cycles() * 100 / minTuneCycles
	if p > 100 {
		p = 100
	}
	return p
}

// CycleCount returns the number of full oscillation cycles seen.
func (t *AutoTuner) CycleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles()
}

// Elapsed returns how long the relay test has been running.
func (t *AutoTuner) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.start.IsZero() || t.lastSample.IsZero() {
		return 0
	}
	return t.lastSample.Sub(t.start)
}

func (t *AutoTuner) cycles() int {
	n := len(t.peakTimes)
	if len(t.troughTimes) < n {
		n = len(t.troughTimes)
	}
	return n
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
