// Package control is the cascade inner loop: it turns a target boiler
// temperature and the measured boiler output temperature into a burner
// power level. Two strategies exist, three-point bang-bang for plain
// two-stage burners and a PID-driven quantizer for modulating use, plus
// a relay-feedback auto-tuner that identifies PID gains in place.
package control

import (
	"sync"
	"time"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// pidScale is the fixed-point scale for gains and the integral
// accumulator: three decimal places, Kp 2.5 stored as 2500.
const pidScale = 1000

// PID output and integral bounds. Outputs are tenths of a degree of
// adjustment, the integral is in scaled units.
const (
	pidOutputMin   int32 = -1000
	pidOutputMax   int32 = 1000
	pidIntegralMin int32 = -100000
	pidIntegralMax int32 = 100000
)

// Gains holds one set of PID gains in fixed-point milli-units.
type Gains struct {
	Kp int32
	Ki int32
	Kd int32
}

// GainsFromFloat converts float gains to fixed-point, rounding to the
// nearest milli-unit.
func GainsFromFloat(kp, ki, kd float64) Gains {
	return Gains{
		Kp: int32(kp*pidScale + 0.5),
		Ki: int32(ki*pidScale + 0.5),
		Kd: int32(kd*pidScale + 0.5),
	}
}

// Floats returns the gains as plain floats for logs and payloads.
func (g Gains) Floats() (kp, ki, kd float64) {
	return float64(g.Kp) / pidScale, float64(g.Ki) / pidScale, float64(g.Kd) / pidScale
}

// PID is a fixed-point PID controller operating entirely on integer
// arithmetic: tenths of a degree for temperatures, milli-units for
// gains, int64 intermediates so products cannot overflow.
//
// The derivative acts on the process value, not the error, so setpoint
// steps do not kick the output. Anti-windup is conditional integration:
// while the tentative output is saturated in the error's direction the
// integral does not accumulate further.
type PID struct {
	mu          sync.Mutex
	integral    int32
	previousPV  int32
	firstRun    bool
	integralMin int32
	integralMax int32
	outputMin   int32
	outputMax   int32
}

// NewPID returns a controller with the stock output and integral
// limits, ready for its first Adjustment call.
func NewPID() *PID {
	return &PID{
		firstRun:    true,
		integralMin: pidIntegralMin,
		integralMax: pidIntegralMax,
		outputMin:   pidOutputMin,
		outputMax:   pidOutputMax,
	}
}

// Adjustment computes one PID step and returns the temperature
// adjustment in tenths, clamped to the output limits. Both inputs must
// be valid temperatures; the caller guards against sentinels. A zero dt
// is treated as one millisecond.
func (p *PID) Adjustment(setpoint, current units.Temp, g Gains, dt time.Duration) units.Temp {
	p.mu.Lock()
	defer p.mu.Unlock()

	dtMs := dt.Milliseconds()
	if dtMs <= 0 {
		dtMs = 1
	}

	err := int64(setpoint) - int64(current)

	pTerm := int32(int64(g.Kp) * err / pidScale)

	// Derivative on PV, skipped on the first run after a reset since
	// there is no previous sample to difference against.
	var dTerm int32
	if p.firstRun {
		p.firstRun = false
	} else {
		pvDelta := int64(current) - int64(p.previousPV)
		dTerm = int32(int64(g.Kd) * (-pvDelta) * pidScale / dtMs / pidScale)
	}
	p.previousPV = int32(current)

	iTerm := int32(int64(g.Ki) * int64(p.integral) / pidScale)

	tentative := pTerm + iTerm + dTerm
	saturatedHigh := tentative >= p.outputMax && err > 0
	saturatedLow := tentative <= p.outputMin && err < 0

	if !saturatedHigh && !saturatedLow {
		p.integral += int32(err * dtMs / pidScale)
		p.integral = clamp32(p.integral, p.integralMin, p.integralMax)
		iTerm = int32(int64(g.Ki) * int64(p.integral) / pidScale)
	}

	out := clamp32(pTerm+iTerm+dTerm, p.outputMin, p.outputMax)
	return units.Temp(out)
}

// Reset clears the integral accumulator and the derivative history.
// The next Adjustment call skips its derivative term.
func (p *PID) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.integral = 0
	p.previousPV = 0
	p.firstRun = true
}

// SetIntegralLimits narrows or widens the anti-windup clamp. The
// current integral is re-clamped immediately.
func (p *PID) SetIntegralLimits(min, max int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.integralMin = min
	p.integralMax = max
	p.integral = clamp32(p.integral, min, max)
}

// Integral exposes the accumulator for diagnostics.
func (p *PID) Integral() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.integral
}

func clamp32(v, min, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
