// Package relay drives the output side of the controller: the three
// burner relays, the two circulation pumps, and the alarm output.
//
// The three burner relays (enable, power boost, water mode) select
// what the burner does and are always written together in one batch,
// so the burner never sees a half-applied pattern. Pump relays are
// deliberately independent of the burner batch: pumps keep circulating
// after the burner drops out to move residual heat.
//
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package relay

// BurnerState is the commanded pattern for the three burner relays.
// The zero value is "burner off".
type BurnerState struct {
	// Enable fires the burner in space-heating mode at low power.
	Enable bool
	// Boost raises either mode from low to high power.
	Boost bool
	// Water fires the burner in water-heating mode at low power.
	Water bool
}

// Off reports whether the pattern leaves the burner off.
func (b BurnerState) Off() bool {
	return !b.Enable && !b.Water
}

// Pump identifies a circulation pump relay.
type Pump int

const (
	// PumpHeating circulates the space-heating loop.
	PumpHeating Pump = iota
	// PumpWater circulates the hot-water tank loop.
	PumpWater
)

func (p Pump) String() string {
	switch p {
	case PumpHeating:
		return "heating pump"
	case PumpWater:
		return "water pump"
	default:
		return "unknown pump"
	}
}

// Outputs is one snapshot of every relay channel.
type Outputs struct {
	Burner      BurnerState
	HeatingPump bool
	WaterPump   bool
	Alarm       bool
}

// Driver actuates the relay channels.
type Driver interface {
	// ApplyBurner writes all three burner relays in one transaction.
	ApplyBurner(BurnerState) error

	// SetPump switches a circulation pump.
	SetPump(p Pump, on bool) error

	// SetAlarm switches the alarm output.
	SetAlarm(on bool) error

	// ReadBack samples the actual relay line states, for verifying
	// that commanded and driven states agree.
	ReadBack() (Outputs, error)

	// AllOff forces every channel off, best effort. Used on process
	// shutdown; burner-only cutoffs go through ApplyBurner so pumps
	// keep running.
	AllOff() error

	// Close releases the relay lines, leaving all channels off.
	Close() error
}

// Pins assigns GPIO pins (BCM numbering) to the relay channels.
type Pins struct {
	Enable      int
	Boost       int
	Water       int
	HeatingPump int
	WaterPump   int
	Alarm       int
}

// PinNone marks an optional channel as not wired. Only the alarm
// output may be absent.
const PinNone = -1

// DefaultPins returns the stock pin assignment.
func DefaultPins() Pins {
	return Pins{
		Enable:      5,
		Boost:       6,
		Water:       13,
		HeatingPump: 19,
		WaterPump:   26,
		Alarm:       21,
	}
}

// DefaultChip is the GPIO character device the relay lines live on.
const DefaultChip = "gpiochip0"
