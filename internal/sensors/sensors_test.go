package sensors

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	return NewStore(testLogger(), clk.now), clk
}

func drained(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestFreshStoreHasUnknownChannels(t *testing.T) {
	s, _ := newTestStore(t)
	r := s.Snapshot()
	if r.BoilerOutput.Valid() || r.WaterTank.Valid() {
		t.Error("fresh store should hold sentinel temperatures")
	}
	if r.Pressure.Valid() {
		t.Error("fresh store should hold invalid pressure")
	}
	if !math.IsNaN(r.Humidity) {
		t.Error("fresh store should hold NaN humidity")
	}
	if !s.Stale(time.Second) {
		t.Error("store with no update ever must be stale")
	}
}

func TestSetAndSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	if !s.SetBoilerOutput(units.Temp(705)) {
		t.Fatal("plausible reading should be accepted")
	}
	if !s.SetPressure(units.Pressure(150)) {
		t.Fatal("plausible pressure should be accepted")
	}
	r := s.Snapshot()
	if r.BoilerOutput != 705 {
		t.Errorf("boiler output = %v, want 70.5", r.BoilerOutput)
	}
	if r.Pressure != 150 {
		t.Errorf("pressure = %v, want 1.50", r.Pressure)
	}
	if r.LastUpdate.IsZero() || r.LastPressureUpdate.IsZero() {
		t.Error("timestamps should be stamped on accepted updates")
	}
}

func TestImplausibleReadingRejected(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetBoilerOutput(units.Temp(705))

	if s.SetBoilerOutput(units.TempFromWhole(200)) {
		t.Error("200 °C on a boiler probe must be rejected")
	}
	r := s.Snapshot()
	if r.BoilerOutput.Valid() {
		t.Error("rejected reading should mark the channel invalid")
	}

	if s.SetWaterTank(units.TempFromWhole(120)) {
		t.Error("120 °C in a water tank must be rejected")
	}
	if s.SetBoilerReturn(units.TempInvalid) {
		t.Error("sentinel input must be rejected")
	}
}

func TestRejectedReadingDoesNotRefreshAge(t *testing.T) {
	s, clk := newTestStore(t)
	s.SetBoilerOutput(units.Temp(705))
	clk.advance(30 * time.Second)
	s.SetBoilerOutput(units.TempFromWhole(200)) // rejected
	if got := s.Age(); got != 30*time.Second {
		t.Errorf("age = %v, want 30s", got)
	}
}

func TestStaleness(t *testing.T) {
	s, clk := newTestStore(t)
	s.SetBoilerOutput(units.Temp(705))
	if s.Stale(15 * time.Second) {
		t.Error("fresh reading should not be stale")
	}
	clk.advance(16 * time.Second)
	if !s.Stale(15 * time.Second) {
		t.Error("reading older than the window must be stale")
	}
}

func TestUpdateSignals(t *testing.T) {
	s, _ := newTestStore(t)
	drained(s.Changes())
	drained(s.BoilerOutputUpdates())

	s.SetBoilerReturn(units.Temp(500))
	if !drained(s.Changes()) {
		t.Error("any accepted update should signal Changes")
	}
	if drained(s.BoilerOutputUpdates()) {
		t.Error("boiler return update must not signal the boiler output channel")
	}

	s.SetBoilerOutput(units.Temp(700))
	if !drained(s.BoilerOutputUpdates()) {
		t.Error("boiler output update should signal its channel")
	}
}

func TestInvalidate(t *testing.T) {
	s, _ := newTestStore(t)
	s.SetBoilerOutput(units.Temp(705))
	s.SetWaterTank(units.Temp(500))
	s.Invalidate()
	r := s.Snapshot()
	if r.BoilerOutput.Valid() || r.WaterTank.Valid() {
		t.Error("invalidate should mark all temperature channels invalid")
	}
}
