// Package safety decides whether burner operation is currently
// permitted. The validator is stateless per call apart from runtime
// accounting; every rejection carries a specific reason so callers can
// pick the right response, from holding ignition to an emergency stop.
package safety

// Result is the outcome of a safety validation. The set is closed:
// handling code switches exhaustively over it.
type Result int

const (
	Safe Result = iota
	SensorFailure
	TemperatureExceeded
	PumpFailure
	WaterFlowFailure
	PressureExceeded
	FlameDetectionFailure
	RuntimeExceeded
	EmergencyStopActive
	InsufficientSensors
	HardwareInterlockOpen
	ThermalShockRisk
)

// String returns the operator-facing description.
func (r Result) String() string {
	switch r {
	case Safe:
		return "safe to operate"
	case SensorFailure:
		return "temperature sensor failure"
	case TemperatureExceeded:
		return "temperature limit exceeded"
	case PumpFailure:
		return "pump not operating"
	case WaterFlowFailure:
		return "no water flow detected"
	case PressureExceeded:
		return "pressure limit exceeded"
	case FlameDetectionFailure:
		return "no flame detected"
	case RuntimeExceeded:
		return "runtime limit exceeded"
	case EmergencyStopActive:
		return "emergency stop is active"
	case InsufficientSensors:
		return "insufficient working sensors"
	case HardwareInterlockOpen:
		return "hardware safety interlock open"
	case ThermalShockRisk:
		return "thermal shock risk, return too cold"
	}
	return "unknown validation error"
}
