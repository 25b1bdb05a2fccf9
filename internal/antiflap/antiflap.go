// Package antiflap enforces minimum dwell times that protect the burner
// from rapid cycling, independent of why a change is requested. It also
// hosts the discrete power level shared by the control and state machine
// packages.
package antiflap

import (
	"math"
	"sync"
	"time"
)

// PowerLevel is the discrete burner output level.
type PowerLevel int

const (
	PowerOff PowerLevel = iota
	PowerLow
	PowerHigh
)

// String returns the level name for logs and status payloads.
func (p PowerLevel) String() string {
	switch p {
	case PowerOff:
		return "OFF"
	case PowerLow:
		return "LOW"
	case PowerHigh:
		return "HIGH"
	}
	return "UNKNOWN"
}

// Config holds the dwell times and the PID deadband.
type Config struct {
	// MinOnTime is the minimum burn duration once ignited.
	MinOnTime time.Duration
	// MinOffTime is the minimum rest between an off and the next ignition.
	MinOffTime time.Duration
	// MinChangeInterval is the minimum spacing between LOW/HIGH switches.
	MinChangeInterval time.Duration
	// PIDDeadband is the modulation change (percentage points) below
	// which a new PID output is not worth acting on.
	PIDDeadband float64
}

// DefaultConfig returns the hardware protection values for the stock
// two-stage burner.
func DefaultConfig() Config {
	return Config{
		MinOnTime:         2 * time.Minute,
		MinOffTime:        20 * time.Second,
		MinChangeInterval: 15 * time.Second,
		PIDDeadband:       5.0,
	}
}

// Gate tracks burner on/off/power timestamps and answers whether a
// transition is currently permitted.
//
// Callers that intend to act on a permission must use Reserve so the
// check and the hardware action cannot race with a second caller: only
// one reservation may be outstanding, and it must be settled with
// Commit (transition applied) or Rollback (hardware refused).
//
// The gate's bias on any internal degradation is fixed: deny start,
// allow stop. Shutting down is always the safe direction.
type Gate struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	on         bool
	level      PowerLevel
	lastOn     time.Time
	lastOff    time.Time
	lastChange time.Time
	pending    *Reservation
}

// NewGate creates a gate with the minimum-off period already treated as
// elapsed, so the first ignition after boot is not artificially delayed.
func NewGate(cfg Config, now func() time.Time) *Gate {
	g := &Gate{cfg: cfg, now: now}
	g.lastOff = now().Add(-cfg.MinOffTime)
	return g
}

// Reservation is a single-use lease for one power-level transition.
// It must be settled exactly once; settling twice is a no-op.
type Reservation struct {
	g       *Gate
	to      PowerLevel
	settled bool
}

// Level returns the transition target the lease was granted for.
func (r *Reservation) Level() PowerLevel { return r.to }

// Commit releases the lease after the transition was applied. Timestamp
// bookkeeping is separate: call RecordOn/RecordOff/RecordChange once
// the hardware has actually switched.
func (r *Reservation) Commit() { r.settle() }

// Rollback releases the lease without touching any timing state, for
// when the hardware refused the transition.
func (r *Reservation) Rollback() { r.settle() }

func (r *Reservation) settle() {
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	if r.g.pending == r {
		r.g.pending = nil
	}
}

// Reserve checks that the transition to the requested level satisfies
// the relevant dwell time and that no other reservation is outstanding.
// On success it returns a lease to settle. A nil lease with ok=true
// means the gate is already at the requested level and there is nothing
// to transition. Denial has no side effect.
func (g *Gate) Reserve(to PowerLevel) (*Reservation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		return nil, false
	}
	if to == g.level {
		return nil, true
	}
	if !g.allowedLocked(to, g.now()) {
		return nil, false
	}
	r := &Reservation{g: g, to: to}
	g.pending = r
	return r, true
}

// CanTurnOn reports whether ignition is permitted. Always true while
// already burning.
func (g *Gate) CanTurnOn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canTurnOnLocked(g.now())
}

// CanTurnOff reports whether shutdown is permitted. Always true while
// already off.
func (g *Gate) CanTurnOff() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canTurnOffLocked(g.now())
}

// CanChangePower reports whether a transition to the given level would
// currently pass the dwell-time checks. Purely advisory; use Reserve
// before acting.
func (g *Gate) CanChangePower(to PowerLevel) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if to == g.level {
		return true
	}
	return g.allowedLocked(to, g.now())
}

func (g *Gate) allowedLocked(to PowerLevel, now time.Time) bool {
	switch {
	case g.level == PowerOff && to != PowerOff:
		return g.canTurnOnLocked(now)
	case g.level != PowerOff && to == PowerOff:
		return g.canTurnOffLocked(now)
	default: // LOW <-> HIGH while burning
		return now.Sub(g.lastChange) >= g.cfg.MinChangeInterval
	}
}

func (g *Gate) canTurnOnLocked(now time.Time) bool {
	if g.on {
		return true
	}
	return now.Sub(g.lastOff) >= g.cfg.MinOffTime
}

func (g *Gate) canTurnOffLocked(now time.Time) bool {
	if !g.on {
		return true
	}
	return now.Sub(g.lastOn) >= g.cfg.MinOnTime
}

// RecordOn stamps the ignition time. The level moves to LOW if the gate
// still thought the burner was off.
func (g *Gate) RecordOn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.on = true
	g.lastOn = g.now()
	if g.level == PowerOff {
		g.level = PowerLow
	}
}

// RecordOff stamps the shutdown time and resets the level to OFF.
func (g *Gate) RecordOff() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.on = false
	g.lastOff = g.now()
	g.level = PowerOff
}

// RecordChange stamps a power-level change, folding in the on/off
// bookkeeping when the change crosses the OFF boundary.
func (g *Gate) RecordChange(to PowerLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.lastChange = now
	if to == PowerOff && g.on {
		g.on = false
		g.lastOff = now
	} else if to != PowerOff && !g.on {
		g.on = true
		g.lastOn = now
	}
	g.level = to
}

// SignificantPIDChange reports whether a new modulation percentage
// differs from the current one by more than the deadband. Changes
// inside the deadband are chatter and should be ignored.
func (g *Gate) SignificantPIDChange(current, next float64) bool {
	return math.Abs(next-current) > g.cfg.PIDDeadband
}

// On reports whether the gate believes the burner is currently burning.
func (g *Gate) On() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.on
}

// Level returns the gate's view of the current power level.
func (g *Gate) Level() PowerLevel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// UntilCanTurnOn returns how long until ignition is permitted, zero if
// permitted now.
func (g *Gate) UntilCanTurnOn() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.on {
		return 0
	}
	return remaining(g.cfg.MinOffTime, g.now().Sub(g.lastOff))
}

// UntilCanTurnOff returns how long until shutdown is permitted, zero if
// permitted now.
func (g *Gate) UntilCanTurnOff() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.on {
		return 0
	}
	return remaining(g.cfg.MinOnTime, g.now().Sub(g.lastOn))
}

// UntilCanChangePower returns how long until a LOW/HIGH switch is
// permitted, zero if permitted now.
func (g *Gate) UntilCanChangePower() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return remaining(g.cfg.MinChangeInterval, g.now().Sub(g.lastChange))
}

func remaining(min, elapsed time.Duration) time.Duration {
	if elapsed >= min {
		return 0
	}
	return min - elapsed
}

// Reset restores the boot state, including the waived minimum-off
// period, and drops any outstanding reservation.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.on = false
	g.level = PowerOff
	g.lastOn = time.Time{}
	g.lastChange = time.Time{}
	g.lastOff = g.now().Add(-g.cfg.MinOffTime)
	g.pending = nil
}
