// Package units defines the fixed-point temperature and pressure types
// shared across the controller. This package has NO external dependencies
// (no hardware, MQTT, or clocks); values are plain integers safe to store
// in atomics and to carry in event payloads.
package units

import (
	"fmt"
	"math"
)

// Temp is a temperature in tenths of a degree Celsius (705 = 70.5 °C).
//
// Two sentinel values are reserved: TempInvalid for readings that were
// rejected or never arrived, and TempUnknown for channels that exist but
// have not reported yet. Every operation treats both sentinels as
// absorbing: arithmetic propagates invalidity and ordered comparisons
// report false, so callers can never mistake a sentinel for -3276.8 °C.
type Temp int16

const (
	// TempInvalid marks a rejected or missing reading.
	TempInvalid Temp = math.MinInt16
	// TempUnknown marks a channel that has not reported yet.
	TempUnknown Temp = math.MinInt16 + 1

	// minTenths is the saturation floor for arithmetic. It sits just
	// above the sentinels so valid math can never produce one.
	minTenths = math.MinInt16 + 2
	maxTenths = math.MaxInt16
)

// Valid reports whether t is an actual reading rather than a sentinel.
func (t Temp) Valid() bool {
	return t != TempInvalid && t != TempUnknown
}

// TempFromFloat converts degrees Celsius to tenths, rounding half away
// from zero. NaN and infinities map to TempInvalid; out-of-range values
// saturate.
func TempFromFloat(celsius float64) Temp {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return TempInvalid
	}
	scaled := celsius * 10
	if scaled >= 0 {
		scaled += 0.5
	} else {
		scaled -= 0.5
	}
	if scaled > maxTenths {
		return maxTenths
	}
	if scaled < minTenths {
		return minTenths
	}
	return Temp(int16(scaled))
}

// TempFromWhole converts whole degrees Celsius to tenths, saturating.
func TempFromWhole(degrees int) Temp {
	return clampTenths(int32(degrees) * 10)
}

// Float64 returns the value in degrees Celsius, or NaN for sentinels.
func (t Temp) Float64() float64 {
	if !t.Valid() {
		return math.NaN()
	}
	return float64(t) / 10
}

// Add returns t+o saturated to the valid range, or TempInvalid if
// either operand is a sentinel.
func (t Temp) Add(o Temp) Temp {
	if !t.Valid() || !o.Valid() {
		return TempInvalid
	}
	return clampTenths(int32(t) + int32(o))
}

// Sub returns t-o saturated to the valid range, or TempInvalid if
// either operand is a sentinel.
func (t Temp) Sub(o Temp) Temp {
	if !t.Valid() || !o.Valid() {
		return TempInvalid
	}
	return clampTenths(int32(t) - int32(o))
}

// Abs returns the magnitude of t, or TempInvalid for sentinels.
func (t Temp) Abs() Temp {
	if !t.Valid() {
		return TempInvalid
	}
	if t < 0 {
		return -t
	}
	return t
}

// Less reports t < o. False if either operand is a sentinel.
func (t Temp) Less(o Temp) bool {
	return t.Valid() && o.Valid() && t < o
}

// Greater reports t > o. False if either operand is a sentinel.
func (t Temp) Greater(o Temp) bool {
	return t.Valid() && o.Valid() && t > o
}

// AtMost reports t <= o. False if either operand is a sentinel.
func (t Temp) AtMost(o Temp) bool {
	return t.Valid() && o.Valid() && t <= o
}

// AtLeast reports t >= o. False if either operand is a sentinel.
func (t Temp) AtLeast(o Temp) bool {
	return t.Valid() && o.Valid() && t >= o
}

// String renders tenths as a decimal degree value ("70.5", "-0.3").
// Sentinels render as "invalid" and "unknown".
func (t Temp) String() string {
	switch t {
	case TempInvalid:
		return "invalid"
	case TempUnknown:
		return "unknown"
	}
	whole := int(t) / 10
	frac := int(t) % 10
	if frac < 0 {
		frac = -frac
	}
	// -0.3 has whole == 0, so the sign needs explicit handling.
	if t < 0 && whole == 0 {
		return fmt.Sprintf("-0.%d", frac)
	}
	return fmt.Sprintf("%d.%d", whole, frac)
}

func clampTenths(v int32) Temp {
	if v > maxTenths {
		return maxTenths
	}
	if v < minTenths {
		return minTenths
	}
	return Temp(v)
}
