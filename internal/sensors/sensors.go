// Package sensors maintains the controller's view of the plant: the
// latest validated temperature and pressure readings with their
// freshness. Transport is someone else's job; values arrive through
// the setters and leave as copy-out snapshots.
package sensors

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// Range bounds plausible readings for a sensor class. Values outside
// the range are treated as sensor faults, not as data.
type Range struct {
	Min, Max units.Temp
}

// Contains reports whether t is a plausible reading. Sentinels are not.
func (r Range) Contains(t units.Temp) bool {
	return t.AtLeast(r.Min) && t.AtMost(r.Max)
}

// Plausibility ranges per sensor class.
var (
	// BoilerRange covers PT1000/NTC probes on the boiler circuit.
	BoilerRange = Range{units.TempFromWhole(-50), units.TempFromWhole(150)}
	// TankRange covers the water tank probe; a tank never exceeds 100 °C.
	TankRange = Range{units.TempFromWhole(-50), units.TempFromWhole(100)}
	// RoomRange covers indoor environment sensors.
	RoomRange = Range{units.TempFromWhole(-10), units.TempFromWhole(50)}
	// OutsideRange covers the outdoor probe.
	OutsideRange = Range{units.TempFromWhole(-50), units.TempFromWhole(60)}
)

// Readings is one consistent snapshot of all plant inputs. Temperature
// sentinels mark channels that are absent or were rejected.
type Readings struct {
	BoilerOutput units.Temp
	BoilerReturn units.Temp
	WaterTank    units.Temp
	Outside      units.Temp
	Room         units.Temp
	Humidity     float64 // percent relative, NaN when unknown
	Pressure     units.Pressure

	LastUpdate         time.Time
	LastPressureUpdate time.Time
}

// Store holds the current readings behind a mutex. Every setter
// validates plausibility before admitting a value; rejected values
// mark the channel invalid instead of poisoning the snapshot.
type Store struct {
	log *logrus.Entry
	now func() time.Time

	mu sync.RWMutex
	r  Readings

	changes      chan struct{}
	boilerOutput chan struct{}
}

// NewStore creates a store with every channel unknown.
func NewStore(log *logrus.Entry, now func() time.Time) *Store {
	return &Store{
		log: log,
		now: now,
		r: Readings{
			BoilerOutput: units.TempUnknown,
			BoilerReturn: units.TempUnknown,
			WaterTank:    units.TempUnknown,
			Outside:      units.TempUnknown,
			Room:         units.TempUnknown,
			Humidity:     math.NaN(),
			Pressure:     units.PressureInvalid,
		},
		changes:      make(chan struct{}, 1),
		boilerOutput: make(chan struct{}, 1),
	}
}

// Changes is signalled after any accepted update.
func (s *Store) Changes() <-chan struct{} { return s.changes }

// BoilerOutputUpdates is signalled after each accepted boiler output
// reading; the temperature control loop synchronizes on it.
func (s *Store) BoilerOutputUpdates() <-chan struct{} { return s.boilerOutput }

// SetBoilerOutput admits a boiler output temperature.
func (s *Store) SetBoilerOutput(t units.Temp) bool {
	ok := s.setTemp("boiler_output", &s.r.BoilerOutput, t, BoilerRange)
	if ok {
		notify(s.boilerOutput)
	}
	return ok
}

// SetBoilerReturn admits a boiler return temperature.
func (s *Store) SetBoilerReturn(t units.Temp) bool {
	return s.setTemp("boiler_return", &s.r.BoilerReturn, t, BoilerRange)
}

// SetWaterTank admits a water tank temperature.
func (s *Store) SetWaterTank(t units.Temp) bool {
	return s.setTemp("water_tank", &s.r.WaterTank, t, TankRange)
}

// SetOutside admits an outside temperature.
func (s *Store) SetOutside(t units.Temp) bool {
	return s.setTemp("outside", &s.r.Outside, t, OutsideRange)
}

// SetRoom admits a room temperature.
func (s *Store) SetRoom(t units.Temp) bool {
	return s.setTemp("room", &s.r.Room, t, RoomRange)
}

// SetHumidity admits a relative humidity percentage.
func (s *Store) SetHumidity(percent float64) bool {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		s.log.WithField("value", percent).Warn("rejecting implausible humidity")
		return false
	}
	s.mu.Lock()
	s.r.Humidity = percent
	s.mu.Unlock()
	notify(s.changes)
	return true
}

// SetPressure admits a system pressure reading.
func (s *Store) SetPressure(p units.Pressure) bool {
	if !p.Valid() {
		s.log.Warn("rejecting invalid pressure reading")
		s.invalidatePressure()
		return false
	}
	s.mu.Lock()
	s.r.Pressure = p
	s.r.LastPressureUpdate = s.now()
	s.mu.Unlock()
	notify(s.changes)
	return true
}

// Invalidate marks every temperature channel invalid, used when the
// acquisition source is known to be down.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.r.BoilerOutput = units.TempInvalid
	s.r.BoilerReturn = units.TempInvalid
	s.r.WaterTank = units.TempInvalid
	s.r.Outside = units.TempInvalid
	s.r.Room = units.TempInvalid
	s.mu.Unlock()
	notify(s.changes)
}

// Snapshot returns a copy of the current readings.
func (s *Store) Snapshot() Readings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.r
}

// Age returns how long ago the last temperature update was admitted.
// Before the first update the age is effectively unbounded.
func (s *Store) Age() time.Duration {
	s.mu.RLock()
	last := s.r.LastUpdate
	s.mu.RUnlock()
	if last.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return s.now().Sub(last)
}

// Stale reports whether the snapshot is older than the given window.
func (s *Store) Stale(window time.Duration) bool {
	return s.Age() > window
}

func (s *Store) setTemp(name string, field *units.Temp, t units.Temp, rng Range) bool {
	if !rng.Contains(t) {
		s.log.WithFields(logrus.Fields{
			"sensor": name,
			"value":  t.String(),
		}).Warn("rejecting implausible temperature")
		s.mu.Lock()
		*field = units.TempInvalid
		s.mu.Unlock()
		return false
	}
	s.mu.Lock()
	*field = t
	s.r.LastUpdate = s.now()
	s.mu.Unlock()
	notify(s.changes)
	return true
}

func (s *Store) invalidatePressure() {
	s.mu.Lock()
	s.r.Pressure = units.PressureInvalid
	s.mu.Unlock()
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
