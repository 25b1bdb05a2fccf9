package demand

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// Request word layout: flag bits in the low byte, target temperature as
// whole degrees in bits 8-15. Temperature and power ride in the word so
// a request is always read as one consistent unit.
const (
	reqHeating   uint32 = 1 << 0
	reqWater     uint32 = 1 << 1
	reqPowerLow  uint32 = 1 << 2
	reqPowerHigh uint32 = 1 << 3

	tempShift        = 8
	tempMask  uint32 = 0xFF << tempShift

	reqPowerBits = reqPowerLow | reqPowerHigh
	reqAnyBits   = reqHeating | reqWater
	reqAllBits   = reqHeating | reqWater | reqPowerBits | tempMask
)

// Source identifies who is clearing a request.
type Source int

const (
	SourceHeating Source = iota
	SourceWater
	SourceManual
	SourceEmergency
)

func (s Source) String() string {
	switch s {
	case SourceHeating:
		return "heating"
	case SourceWater:
		return "water"
	case SourceManual:
		return "manual"
	case SourceEmergency:
		return "emergency"
	}
	return "unknown"
}

// Config bounds the request targets and the staleness watchdog.
type Config struct {
	// HeatingMin/Max bound space heating targets.
	HeatingMin, HeatingMax units.Temp
	// WaterMin/Max bound water heating targets.
	WaterMin, WaterMax units.Temp
	// HardMin/Max always win over the mode bands; they narrow, never widen.
	HardMin, HardMax units.Temp
	// MaxRequestAge is how long a request stays valid without being
	// re-posted by its producer.
	MaxRequestAge time.Duration
}

// DefaultConfig returns the stock boiler bands: heating 20-90 °C,
// water 30-85 °C, hard limits 20-110 °C, ten minute watchdog.
func DefaultConfig() Config {
	return Config{
		HeatingMin:    units.TempFromWhole(20),
		HeatingMax:    units.TempFromWhole(90),
		WaterMin:      units.TempFromWhole(30),
		WaterMax:      units.TempFromWhole(85),
		HardMin:       units.TempFromWhole(20),
		HardMax:       units.TempFromWhole(110),
		MaxRequestAge: 10 * time.Minute,
	}
}

// Snapshot is one consistent read of the request word.
type Snapshot struct {
	Heating   bool
	Water     bool
	Target    units.Temp // TempInvalid when no request is active
	HighPower bool
}

// Manager owns the request word. The word itself is mutated with
// compare-and-swap only, so every path, including the emergency clear,
// is guaranteed to make progress. Producer timestamps for the watchdog
// live behind a small mutex that no hot path depends on.
type Manager struct {
	cfg   Config
	state *State
	log   *logrus.Entry
	now   func() time.Time

	word atomic.Uint32

	mu          sync.Mutex
	lastHeating time.Time
	lastWater   time.Time

	changes     chan struct{}
	heatingLost chan struct{}
	waterLost   chan struct{}
}

// NewManager creates the mailbox. Producer timestamps start at the
// current time: a request posted right after boot must not be born
// expired just because no earlier timestamp exists.
func NewManager(cfg Config, state *State, log *logrus.Entry, now func() time.Time) *Manager {
	m := &Manager{
		cfg:         cfg,
		state:       state,
		log:         log,
		now:         now,
		changes:     make(chan struct{}, 1),
		heatingLost: make(chan struct{}, 1),
		waterLost:   make(chan struct{}, 1),
	}
	t := now()
	m.lastHeating = t
	m.lastWater = t
	return m
}

// Changes is signalled whenever the request word changes. Buffered with
// capacity one; consumers must drain and re-read the snapshot.
func (m *Manager) Changes() <-chan struct{} { return m.changes }

// HeatingPreempted wakes the space heating loop when a priority water
// request took the burner away from it.
func (m *Manager) HeatingPreempted() <-chan struct{} { return m.heatingLost }

// WaterPreempted wakes the water loop when a heating request took the
// burner away from it.
func (m *Manager) WaterPreempted() <-chan struct{} { return m.waterLost }

// SetHeatingRequest posts or refreshes the space heating demand. The
// target is clamped to the heating band narrowed by the hard limits;
// a sentinel target rejects the request outright.
// A heating request always displaces an active water request, since
// target and power are shared fields of the word. Returns true when
// the word actually changed; an identical re-post refreshes only the
// watchdog timestamp.
func (m *Manager) SetHeatingRequest(target units.Temp, highPower bool) bool {
	if !target.Valid() {
		m.log.Warn("heating request with invalid target rejected")
		return false
	}
	target = m.clamp(target, m.cfg.HeatingMin, m.cfg.HeatingMax)
	set := reqHeating | encodeTarget(target) | powerBit(highPower)
	clear := reqWater | tempMask | reqPowerBits

	m.mu.Lock()
	m.lastHeating = m.now()
	m.mu.Unlock()

	// Drop the water run flag and wake its loop before the request word
	// flips, so no reader sees water running without a water request.
	if m.word.Load()&reqWater != 0 || m.state.Test(WaterOn) {
		m.log.Info("heating request preempting water heating")
		m.state.Clear(WaterOn)
		notify(m.waterLost)
	}

	return m.update(set, clear)
}

// SetWaterRequest posts or refreshes the water heating demand. The
// target is clamped to the water band narrowed by the hard limits;
// a sentinel target rejects the request outright.
// With WaterPriority set the request also displaces an active heating
// request and wakes the heating loop.
func (m *Manager) SetWaterRequest(target units.Temp, highPower bool) bool {
	if !target.Valid() {
		m.log.Warn("water request with invalid target rejected")
		return false
	}
	target = m.clamp(target, m.cfg.WaterMin, m.cfg.WaterMax)
	set := reqWater | encodeTarget(target) | powerBit(highPower)
	clear := tempMask | reqPowerBits

	priority := m.state.Test(WaterPriority)
	if priority {
		clear |= reqHeating
	}

	m.mu.Lock()
	m.lastWater = m.now()
	m.mu.Unlock()

	if priority && (m.word.Load()&reqHeating != 0 || m.state.Test(HeatingOn)) {
		m.log.Info("water request (priority) preempting space heating")
		m.state.Clear(HeatingOn)
		notify(m.heatingLost)
	}

	return m.update(set, clear)
}

// ClearRequest removes the request owned by the given source. Manual
// and emergency sources clear everything.
func (m *Manager) ClearRequest(source Source) bool {
	var clear uint32
	switch source {
	case SourceHeating:
		m.log.Info("clearing heating request")
		clear = reqHeating
	case SourceWater:
		m.log.Info("clearing water request")
		clear = reqWater
	case SourceManual, SourceEmergency:
		m.log.WithField("source", source.String()).Info("clearing all requests")
		clear = reqAllBits
	}
	return m.update(0, clear)
}

// ClearAll removes every request.
func (m *Manager) ClearAll() bool {
	m.log.Info("clearing all burner requests")
	return m.update(0, reqAllBits)
}

// EmergencyClearAll drops every request without acquiring any lock.
// The word update is compare-and-swap, so this cannot block behind a
// stuck producer.
func (m *Manager) EmergencyClearAll() {
	m.log.Error("EMERGENCY: clearing all burner requests")
	m.update(0, reqAllBits)
}

// UpdateTargetTemp replaces the target of the active request without
// touching the request flags. The value is clamped to the heating
// band; a sentinel target is rejected.
func (m *Manager) UpdateTargetTemp(target units.Temp) bool {
	if !target.Valid() {
		m.log.Warn("target update with invalid value rejected")
		return false
	}
	target = m.clamp(target, m.cfg.HeatingMin, m.cfg.HeatingMax)
	m.log.WithField("target", target.String()).Debug("updating target temperature")
	return m.update(encodeTarget(target), tempMask)
}

// Snapshot returns one consistent view of the request word.
func (m *Manager) Snapshot() Snapshot {
	w := m.word.Load()
	return Snapshot{
		Heating:   w&reqHeating != 0,
		Water:     w&reqWater != 0,
		Target:    decodeTarget(w),
		HighPower: w&reqPowerHigh != 0,
	}
}

// HeatingRequested reports whether a space heating request is active.
func (m *Manager) HeatingRequested() bool { return m.word.Load()&reqHeating != 0 }

// WaterRequested reports whether a water heating request is active.
func (m *Manager) WaterRequested() bool { return m.word.Load()&reqWater != 0 }

// HighPowerRequested reports whether the active request asks for HIGH.
func (m *Manager) HighPowerRequested() bool { return m.word.Load()&reqPowerHigh != 0 }

// TargetTemp returns the active request target, TempInvalid when idle.
func (m *Manager) TargetTemp() units.Temp { return decodeTarget(m.word.Load()) }

// WaterPriority reports the priority setting from the state blackboard.
func (m *Manager) WaterPriority() bool { return m.state.Test(WaterPriority) }

// HeatingExpired reports whether the active heating request has not
// been refreshed within maxAge. A request without a timestamp counts
// as expired: its producer never confirmed being alive.
func (m *Manager) HeatingExpired(maxAge time.Duration) bool {
	if m.word.Load()&reqHeating == 0 {
		return false
	}
	m.mu.Lock()
	last := m.lastHeating
	m.mu.Unlock()
	if last.IsZero() {
		return true
	}
	return m.now().Sub(last) > maxAge
}

// WaterExpired is the water-side counterpart of HeatingExpired.
func (m *Manager) WaterExpired(maxAge time.Duration) bool {
	if m.word.Load()&reqWater == 0 {
		return false
	}
	m.mu.Lock()
	last := m.lastWater
	m.mu.Unlock()
	if last.IsZero() {
		return true
	}
	return m.now().Sub(last) > maxAge
}

// CheckAndClearExpired force-clears requests whose producer has gone
// quiet. This is the cross-task watchdog: a crashed control loop must
// not leave a standing burner demand behind.
func (m *Manager) CheckAndClearExpired(maxAge time.Duration) bool {
	cleared := false
	if m.HeatingExpired(maxAge) {
		m.log.WithField("max_age", maxAge).Error("watchdog: heating request expired, clearing")
		m.ClearRequest(SourceEmergency)
		cleared = true
	}
	if m.WaterExpired(maxAge) {
		m.log.WithField("max_age", maxAge).Error("watchdog: water request expired, clearing")
		m.ClearRequest(SourceEmergency)
		cleared = true
	}
	return cleared
}

// update is the sole mutation primitive for the request word: an
// indivisible clear-then-set. Readers can never observe the transient
// all-clear state a separate clear and set would expose.
func (m *Manager) update(set, clear uint32) bool {
	for {
		cur := m.word.Load()
		next := (cur &^ clear) | set
		if next == cur {
			return false
		}
		if m.word.CompareAndSwap(cur, next) {
			notify(m.changes)
			return true
		}
	}
}

func (m *Manager) clamp(target, modeMin, modeMax units.Temp) units.Temp {
	// The hard band narrows the mode band, never widens it.
	if modeMin < m.cfg.HardMin {
		modeMin = m.cfg.HardMin
	}
	if modeMax > m.cfg.HardMax {
		modeMax = m.cfg.HardMax
	}
	if target < modeMin {
		return modeMin
	}
	if target > modeMax {
		return modeMax
	}
	return target
}

// encodeTarget stores the target as whole degrees in bits 8-15.
// Negative targets encode as zero; burner targets are always positive.
func encodeTarget(t units.Temp) uint32 {
	if t < 0 {
		t = 0
	}
	whole := (uint32(t) + 5) / 10 // round to nearest degree
	if whole > 0xFF {
		whole = 0xFF
	}
	return whole << tempShift
}

// decodeTarget recovers the target in tenths. Without an active
// request there is no target, only leftover bits.
func decodeTarget(w uint32) units.Temp {
	if w&reqAnyBits == 0 {
		return units.TempInvalid
	}
	whole := (w & tempMask) >> tempShift
	return units.TempFromWhole(int(whole))
}

func powerBit(high bool) uint32 {
	if high {
		return reqPowerHigh
	}
	return reqPowerLow
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
