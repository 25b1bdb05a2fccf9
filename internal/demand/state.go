// Package demand is the mailbox between the independent heating and
// water control loops and the burner task: each producer's latest
// request wholly replaces its previous one, preemption and emergency
// clears are atomic, and a staleness watchdog drops requests whose
// producer has gone quiet.
//
// The package also hosts the system state blackboard, a lock-free bit
// word carrying enable flags, pump/burner run flags and the water
// priority setting.
package demand

import "sync/atomic"

// Bits is a set of system state flags.
type Bits uint32

const (
	// BoilerEnabled gates all burner operation.
	BoilerEnabled Bits = 1 << iota
	// HeatingEnabled gates the space heating loop.
	HeatingEnabled
	// WaterEnabled gates the water heating loop.
	WaterEnabled
	// BoilerOn is set while the burner is firing.
	BoilerOn
	// HeatingOn is set while the heating pump runs.
	HeatingOn
	// WaterOn is set while the water pump runs.
	WaterOn
	// EmergencyStop is latched by the emergency path.
	EmergencyStop
	// ErrorActive is set while a system error is being handled.
	ErrorActive
	// WaterPriority makes water requests preempt space heating.
	WaterPriority

	// Exactly one of the burner status bits below is set at a time;
	// writers must replace the whole group through Update.
	BurnerOff
	BurnerHeatingLow
	BurnerHeatingHigh
	BurnerWaterLow
	BurnerWaterHigh
	BurnerError
)

// BurnerStatusMask covers the mutually exclusive burner status bits.
const BurnerStatusMask = BurnerOff | BurnerHeatingLow | BurnerHeatingHigh |
	BurnerWaterLow | BurnerWaterHigh | BurnerError

// State is the shared system state word. All mutations are lock-free
// compare-and-swap, so emergency paths always make progress and no
// reader ever observes a half-applied clear-then-set.
type State struct {
	bits atomic.Uint32
}

// NewState returns a blackboard with the burner reported off.
func NewState() *State {
	s := &State{}
	s.bits.Store(uint32(BurnerOff))
	return s
}

// Update clears then sets the given bits as one atomic step and reports
// whether the word changed.
func (s *State) Update(set, clear Bits) bool {
	for {
		cur := s.bits.Load()
		next := (cur &^ uint32(clear)) | uint32(set)
		if next == cur {
			return false
		}
		if s.bits.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Set sets the given bits.
func (s *State) Set(b Bits) bool { return s.Update(b, 0) }

// Clear clears the given bits.
func (s *State) Clear(b Bits) bool { return s.Update(0, b) }

// Test reports whether any of the given bits is set.
func (s *State) Test(b Bits) bool {
	return Bits(s.bits.Load())&b != 0
}

// Snapshot returns the current word.
func (s *State) Snapshot() Bits {
	return Bits(s.bits.Load())
}

// SetBurnerStatus replaces the burner status group with the given bit.
func (s *State) SetBurnerStatus(b Bits) bool {
	return s.Update(b&BurnerStatusMask, BurnerStatusMask)
}
