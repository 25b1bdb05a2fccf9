// Package gpio reads the controller's discrete safety inputs: the
// external hardware interlock chain, the emergency stop button, and an
// optional flame detector. All three are wired as normally-closed
// loops against ground with internal pull-ups, so a broken wire reads
// the same as an open contact and fails safe.
//
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// State holds one sample of the discrete inputs, already converted to
// logical form.
type State struct {
	// InterlockClosed is true while the external safety chain
	// (overheat thermostat, gas pressure switch, ...) is closed.
	InterlockClosed bool

	// EmergencyStop is true while the emergency stop button is
	// pressed.
	EmergencyStop bool

	// Flame is true while the flame detector sees a flame. Only
	// meaningful when a flame input is wired, see Reader.HasFlame.
	Flame bool
}

// Reader reads the discrete safety inputs.
type Reader interface {
	// Read samples all inputs at once.
	// The raw GPIO values are inverted: the loops are active-low,
	// so raw low = loop closed.
	Read() (State, error)

	// HasFlame reports whether a flame detector input is wired.
	HasFlame() bool

	// Close releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinInterlock     = 17 // safety chain sense
	PinEmergencyStop = 27 // emergency stop button
	PinFlame         = 22 // flame detector, optional
)

// PinNone marks an optional input as not wired.
const PinNone = -1

// DefaultChip is the GPIO character device the inputs live on.
const DefaultChip = "gpiochip0"
