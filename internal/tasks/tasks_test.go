package tasks

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/antiflap"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/burner"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/control"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/mqtt"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/safety"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/status"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

type scriptFlame struct {
	lit bool
	err error
}

func (f *scriptFlame) Detected() (bool, error) { return f.lit, f.err }

type stubInterlock struct {
	closed bool
	err    error
}

func (s *stubInterlock) Closed() (bool, error) { return s.closed, s.err }

type stubPumps struct{}

func (stubPumps) PumpConsistent(relay.Pump) (bool, error) { return true, nil }
func (stubPumps) FlowConfirmed(relay.Pump) (bool, error)  { return true, nil }

type plant struct {
	boilerOut float64
	boilerRet float64
	tank      float64
	room      float64
	outside   float64
	pressure  float64
}

// harness assembles the full loop environment over fakes. Loop steps
// are driven directly; no goroutines run in tests.
type harness struct {
	t       *testing.T
	clk     *fakeClock
	drv     *relay.FakeDriver
	flame   *scriptFlame
	lock    *stubInterlock
	state   *demand.State
	store   *sensors.Store
	gate    *antiflap.Gate
	reqs    *demand.Manager
	val     *safety.Validator
	pre     *safety.Preheater
	machine *burner.Machine
	ctrl    *control.Controller
	tracker *status.Tracker
	pub     *mqtt.FakePublisher
	plant   plant
}

func newHarness(t *testing.T) *harness {
	clk := &fakeClock{t: time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC)}
	log := testLogger()

	h := &harness{
		t:     t,
		clk:   clk,
		drv:   relay.NewFakeDriver(),
		flame: &scriptFlame{},
		lock:  &stubInterlock{closed: true},
		state: demand.NewState(),
		plant: plant{boilerOut: 45, boilerRet: 40, tank: 50, room: 20.5, outside: 5, pressure: 1.8},
	}
	h.state.Set(demand.BoilerEnabled | demand.HeatingEnabled | demand.WaterEnabled)
	h.store = sensors.NewStore(log, clk.now)
	h.gate = antiflap.NewGate(antiflap.DefaultConfig(), clk.now)
	h.reqs = demand.NewManager(demand.DefaultConfig(), h.state, log, clk.now)
	h.val = safety.NewValidator(h.state, h.lock, stubPumps{}, clk.now)
	h.pre = safety.NewPreheater(safety.DefaultPreheatConfig(), h.store, log, clk.now)
	h.refresh()

	h.machine = burner.NewMachine(burner.DefaultConfig(), safety.DefaultConfig(), burner.Deps{
		Driver:    h.drv,
		Gate:      h.gate,
		Validator: h.val,
		Interlock: h.lock,
		Sensors:   h.store,
		State:     h.state,
		Requests:  h.reqs,
		Flame:     h.flame,
	}, log, clk.now)
	h.ctrl = control.NewController(control.DefaultConfig(), h.gate, h.reqs, log, clk.now)
	h.tracker = status.NewTracker(status.Config{}, clk.now)
	h.pub = mqtt.NewFakePublisher()
	return h
}

// refresh re-stamps every sensor with the plant values, the way a live
// installation reports between control ticks.
func (h *harness) refresh() {
	h.store.SetBoilerOutput(units.TempFromFloat(h.plant.boilerOut))
	h.store.SetBoilerReturn(units.TempFromFloat(h.plant.boilerRet))
	h.store.SetWaterTank(units.TempFromFloat(h.plant.tank))
	h.store.SetRoom(units.TempFromFloat(h.plant.room))
	h.store.SetOutside(units.TempFromFloat(h.plant.outside))
	h.store.SetPressure(units.PressureFromFloat(h.plant.pressure))
}

func (h *harness) advance(d time.Duration) {
	h.clk.advance(d)
	h.refresh()
}

func (h *harness) burnerLoop() *BurnerLoop {
	return NewBurnerLoop(DefaultConfig(), h.machine, h.reqs, h.state, h.store,
		h.val, h.pre, h.tracker, h.pub, testLogger(), h.clk.now)
}

func (h *harness) tempLoop() *TempLoop {
	return NewTempLoop(DefaultConfig(), h.ctrl, h.machine, h.reqs, h.store,
		h.tracker, h.pub, testLogger(), h.clk.now)
}

func (h *harness) heatingLoop() *HeatingLoop {
	return NewHeatingLoop(DefaultConfig(), DefaultHeatingConfig(), h.reqs,
		h.state, h.store, testLogger(), h.clk.now)
}

func (h *harness) waterLoop() *WaterLoop {
	return NewWaterLoop(DefaultConfig(), DefaultWaterConfig(), h.reqs,
		h.state, h.store, testLogger(), h.clk.now)
}

func (h *harness) pumpLoop() *PumpLoop {
	return NewPumpLoop(DefaultConfig(), h.drv, h.state, h.pre,
		testLogger(), h.clk.now)
}

func (h *harness) counters() status.Counters {
	return h.tracker.Snapshot().Counters
}

func (h *harness) eventCount(typ string) int {
	n := 0
	for _, got := range h.pub.EventTypes() {
		if got == typ {
			n++
		}
	}
	return n
}

func (h *harness) wantState(want burner.State) {
	h.t.Helper()
	if got := h.machine.State(); got != want {
		h.t.Fatalf("machine state = %v, want %v", got, want)
	}
}
