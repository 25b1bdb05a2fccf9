package safety

import (
	"time"

	"github.com/pkg/errors"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// Config carries the safety margins applied on every validation. The
// durations are runtime-tunable; Validate rejects values outside the
// fixed bounds so a bad remote update can never widen a margin past
// what the hardware tolerates.
type Config struct {
	// MaxBoilerTemp is the boiler output ceiling.
	MaxBoilerTemp units.Temp
	// MaxWaterTemp is the tank ceiling, checked in water mode only.
	MaxWaterTemp units.Temp

	// MaxContinuousRuntime bounds one uninterrupted burn.
	MaxContinuousRuntime time.Duration
	// MaxDailyRuntime bounds the accumulated burn time per day.
	MaxDailyRuntime time.Duration

	// MinRequiredSensors is how many fresh, in-range temperature
	// sensors must be present before ignition.
	MinRequiredSensors int
	// SensorStaleAfter is the freshness window; an older snapshot
	// counts as zero working sensors.
	SensorStaleAfter time.Duration

	// PumpStartupTime is how long a pump may take to establish flow
	// after its relay closes; verifiers skip the flow check inside
	// this grace period.
	PumpStartupTime time.Duration
	// MinFlowRate is the corroborated flow floor in l/min, for
	// installations with a flow sensor.
	MinFlowRate float64

	// MinPressure/MaxPressure is the permitted operating band.
	MinPressure units.Pressure
	MaxPressure units.Pressure
	// AllowNoPressureSensor permits running without a pressure reading.
	// Off in production; bench setups only.
	AllowNoPressureSensor bool

	// MaxThermalDifferential is the boiler output minus return spread
	// above which ignition risks thermal shock.
	MaxThermalDifferential units.Temp
}

// DefaultConfig returns the stock margins.
func DefaultConfig() Config {
	return Config{
		MaxBoilerTemp:          units.TempFromWhole(85),
		MaxWaterTemp:           units.TempFromWhole(65),
		MaxContinuousRuntime:   time.Hour,
		MaxDailyRuntime:        4 * time.Hour,
		MinRequiredSensors:     2,
		SensorStaleAfter:       60 * time.Second,
		PumpStartupTime:        5 * time.Second,
		MinFlowRate:            0.5,
		MinPressure:            units.PressureFromFloat(1.00),
		MaxPressure:            units.PressureFromFloat(3.50),
		MaxThermalDifferential: units.TempFromWhole(35),
	}
}

// Bounds for the tunable fields.
const (
	minSensorStale = 30 * time.Second
	maxSensorStale = 5 * time.Minute

	minContinuousRuntime = 10 * time.Minute
	maxContinuousRuntime = 8 * time.Hour
	maxDailyRuntime      = 24 * time.Hour
)

// Validate checks the config against the fixed bounds.
func (c Config) Validate() error {
	if !c.MaxBoilerTemp.Valid() || c.MaxBoilerTemp > units.TempFromWhole(110) {
		return errors.Errorf("max boiler temp %s outside hard ceiling 110.0", c.MaxBoilerTemp)
	}
	if !c.MaxWaterTemp.Valid() || c.MaxWaterTemp > units.TempFromWhole(85) {
		return errors.Errorf("max water temp %s outside hard ceiling 85.0", c.MaxWaterTemp)
	}
	if c.SensorStaleAfter < minSensorStale || c.SensorStaleAfter > maxSensorStale {
		return errors.Errorf("sensor stale window %v outside [%v, %v]",
			c.SensorStaleAfter, minSensorStale, maxSensorStale)
	}
	if c.MaxContinuousRuntime < minContinuousRuntime || c.MaxContinuousRuntime > maxContinuousRuntime {
		return errors.Errorf("continuous runtime limit %v outside [%v, %v]",
			c.MaxContinuousRuntime, minContinuousRuntime, maxContinuousRuntime)
	}
	if c.MaxDailyRuntime < c.MaxContinuousRuntime || c.MaxDailyRuntime > maxDailyRuntime {
		return errors.Errorf("daily runtime limit %v outside [%v, %v]",
			c.MaxDailyRuntime, c.MaxContinuousRuntime, maxDailyRuntime)
	}
	if c.MinRequiredSensors < 1 || c.MinRequiredSensors > 3 {
		return errors.Errorf("min required sensors %d outside [1, 3]", c.MinRequiredSensors)
	}
	if c.PumpStartupTime < time.Second || c.PumpStartupTime > time.Minute {
		return errors.Errorf("pump startup time %v outside [1s, 1m0s]", c.PumpStartupTime)
	}
	if c.MinFlowRate < 0 {
		return errors.New("min flow rate must not be negative")
	}
	if !c.MinPressure.Valid() || !c.MaxPressure.Valid() || !c.MinPressure.Less(c.MaxPressure) {
		return errors.New("pressure band is empty or invalid")
	}
	if !c.MaxThermalDifferential.Valid() || c.MaxThermalDifferential <= 0 {
		return errors.New("thermal differential limit must be positive")
	}
	return nil
}
