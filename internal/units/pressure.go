package units

import (
	"fmt"
	"math"
)

// Pressure is a system pressure in hundredths of a bar (150 = 1.50 bar).
// PressureInvalid marks a rejected or missing reading; comparisons on
// invalid values report false, mirroring Temp.
type Pressure int16

// PressureInvalid marks a rejected or missing pressure reading.
const PressureInvalid Pressure = math.MinInt16

// Valid reports whether p is an actual reading.
func (p Pressure) Valid() bool {
	return p != PressureInvalid
}

// PressureFromFloat converts bar to hundredths, rounding half away from
// zero. NaN and infinities map to PressureInvalid.
func PressureFromFloat(bar float64) Pressure {
	if math.IsNaN(bar) || math.IsInf(bar, 0) {
		return PressureInvalid
	}
	scaled := bar * 100
	if scaled >= 0 {
		scaled += 0.5
	} else {
		scaled -= 0.5
	}
	if scaled > math.MaxInt16 {
		return math.MaxInt16
	}
	if scaled < math.MinInt16+1 {
		return math.MinInt16 + 1
	}
	return Pressure(int16(scaled))
}

// Float64 returns the value in bar, or NaN for PressureInvalid.
func (p Pressure) Float64() float64 {
	if !p.Valid() {
		return math.NaN()
	}
	return float64(p) / 100
}

// Less reports p < o. False if either operand is invalid.
func (p Pressure) Less(o Pressure) bool {
	return p.Valid() && o.Valid() && p < o
}

// Greater reports p > o. False if either operand is invalid.
func (p Pressure) Greater(o Pressure) bool {
	return p.Valid() && o.Valid() && p > o
}

// String renders hundredths as a decimal bar value ("1.50").
// PressureInvalid renders as "invalid".
func (p Pressure) String() string {
	if !p.Valid() {
		return "invalid"
	}
	whole := int(p) / 100
	frac := int(p) % 100
	if frac < 0 {
		frac = -frac
	}
	if p < 0 && whole == 0 {
		return fmt.Sprintf("-0.%02d", frac)
	}
	return fmt.Sprintf("%d.%02d", whole, frac)
}
