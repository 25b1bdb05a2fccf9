package safety

import (
	"testing"
	"time"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// newTestPreheater starts with a 40.0 °C output/return spread, well
// above the 25.0 °C safe differential.
func newTestPreheater(t *testing.T, cfg PreheatConfig) (*Preheater, *sensors.Store, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	store := sensors.NewStore(testLogger(), clk.now)
	store.SetBoilerOutput(units.TempFromWhole(70))
	store.SetBoilerReturn(units.TempFromWhole(30))
	return NewPreheater(cfg, store, testLogger(), clk.now), store, clk
}

func TestPreheatNotNeeded(t *testing.T) {
	p, store, _ := newTestPreheater(t, DefaultPreheatConfig())
	store.SetBoilerReturn(units.TempFromWhole(55)) // 15.0 spread

	if !p.Start() {
		t.Fatal("Start should succeed")
	}
	if got := p.State(); got != PreheatComplete {
		t.Errorf("State = %v, want COMPLETE", got)
	}
	if p.PumpShouldRun() {
		t.Error("no pump cycling expected")
	}
	if !p.Succeeded() {
		t.Error("expected success")
	}
	if !p.Update() {
		t.Error("Update should report done")
	}
}

func TestPreheatDisabled(t *testing.T) {
	cfg := DefaultPreheatConfig()
	cfg.Enabled = false
	p, _, _ := newTestPreheater(t, cfg)

	if !p.Start() {
		t.Fatal("Start should succeed")
	}
	if got := p.State(); got != PreheatComplete {
		t.Errorf("State = %v, want COMPLETE", got)
	}
}

func TestPreheatStartWhileRunning(t *testing.T) {
	p, _, _ := newTestPreheater(t, DefaultPreheatConfig())

	if !p.Start() {
		t.Fatal("first Start should succeed")
	}
	if p.Start() {
		t.Error("second Start should be rejected")
	}
}

func TestPreheatUnknownDifferentialIsUnsafe(t *testing.T) {
	clk := newFakeClock()
	store := sensors.NewStore(testLogger(), clk.now)
	store.SetBoilerOutput(units.TempFromWhole(70))
	// No return reading at all.
	p := NewPreheater(DefaultPreheatConfig(), store, testLogger(), clk.now)

	if !p.Start() {
		t.Fatal("Start should succeed")
	}
	if got := p.State(); got != Preheating {
		t.Errorf("State = %v, want PREHEATING", got)
	}
}

func TestPreheatCycling(t *testing.T) {
	p, _, clk := newTestPreheater(t, DefaultPreheatConfig())

	p.Start()
	if !p.PumpShouldRun() {
		t.Fatal("cycle 1 starts with the pump on")
	}
	if got := p.Cycle(); got != 1 {
		t.Fatalf("Cycle = %d, want 1", got)
	}

	// Cycle 1: 3 s ON, then 25 s OFF.
	clk.advance(3 * time.Second)
	if done := p.Update(); done {
		t.Fatal("still preheating")
	}
	if p.PumpShouldRun() {
		t.Error("pump should be off after the ON phase")
	}

	clk.advance(25 * time.Second)
	p.Update()
	if !p.PumpShouldRun() {
		t.Error("cycle 2 should start with the pump on")
	}
	if got := p.Cycle(); got != 2 {
		t.Errorf("Cycle = %d, want 2", got)
	}

	// Cycle 2 runs the pump for 5 s, so 3 s in it still runs.
	clk.advance(3 * time.Second)
	p.Update()
	if !p.PumpShouldRun() {
		t.Error("cycle 2 ON phase lasts 5 s")
	}
	clk.advance(2 * time.Second)
	p.Update()
	if p.PumpShouldRun() {
		t.Error("cycle 2 ON phase should be over")
	}
}

func TestPreheatCompletesWhenDifferentialRecovers(t *testing.T) {
	p, store, clk := newTestPreheater(t, DefaultPreheatConfig())

	p.Start()
	clk.advance(3 * time.Second)
	p.Update()

	store.SetBoilerReturn(units.TempFromWhole(50)) // 20.0 spread
	if !p.Update() {
		t.Fatal("Update should report done")
	}
	if got := p.State(); got != PreheatComplete {
		t.Errorf("State = %v, want COMPLETE", got)
	}
	if !p.Succeeded() {
		t.Error("expected success")
	}
	if p.PumpShouldRun() {
		t.Error("pump must stop on completion")
	}
}

func TestPreheatTimeout(t *testing.T) {
	p, _, clk := newTestPreheater(t, DefaultPreheatConfig())

	p.Start()
	clk.advance(10*time.Minute + time.Second)
	if !p.Update() {
		t.Fatal("Update should report done")
	}
	if got := p.State(); got != PreheatTimeout {
		t.Errorf("State = %v, want TIMEOUT", got)
	}
	if !p.Done() || p.Succeeded() {
		t.Error("timeout is done but not success")
	}
	if p.PumpShouldRun() {
		t.Error("pump must stop on timeout")
	}
}

func TestPreheatMaxCycles(t *testing.T) {
	cfg := DefaultPreheatConfig()
	cfg.MaxCycles = 2
	p, _, clk := newTestPreheater(t, cfg)

	p.Start()
	clk.advance(3 * time.Second) // cycle 1 ON done
	p.Update()
	clk.advance(25 * time.Second) // cycle 1 OFF done, cycle 2 starts
	p.Update()
	clk.advance(5 * time.Second) // cycle 2 ON done
	p.Update()
	clk.advance(20 * time.Second) // cycle 2 OFF done, no cycle 3 left
	if done := p.Update(); done {
		t.Fatal("cycle count is checked on the following update")
	}

	if !p.Update() {
		t.Fatal("Update should report done")
	}
	if got := p.State(); got != PreheatTimeout {
		t.Errorf("State = %v, want TIMEOUT", got)
	}
}

func TestPreheatPumpMinChangeSpacing(t *testing.T) {
	cfg := DefaultPreheatConfig()
	cfg.PumpMinChange = 10 * time.Second
	p, _, clk := newTestPreheater(t, cfg)

	p.Start()
	// ON phase is over at 3 s but the edge is held until 10 s.
	clk.advance(3 * time.Second)
	p.Update()
	if !p.PumpShouldRun() {
		t.Error("pump edge must wait for the minimum spacing")
	}
	clk.advance(7 * time.Second)
	p.Update()
	if p.PumpShouldRun() {
		t.Error("pump should turn off once the spacing allows")
	}
}

func TestPreheatStop(t *testing.T) {
	p, _, _ := newTestPreheater(t, DefaultPreheatConfig())

	p.Start()
	p.Stop()
	if got := p.State(); got != PreheatIdle {
		t.Errorf("State = %v, want IDLE", got)
	}
	if p.PumpShouldRun() {
		t.Error("pump must stop")
	}
	if got := p.Cycle(); got != 0 {
		t.Errorf("Cycle = %d, want 0", got)
	}

	// A stopped preheater can start a fresh episode.
	if !p.Start() {
		t.Error("restart after Stop should succeed")
	}
	if got := p.State(); got != Preheating {
		t.Errorf("State = %v, want PREHEATING", got)
	}
}

func TestPreheatProgress(t *testing.T) {
	p, _, clk := newTestPreheater(t, DefaultPreheatConfig())

	if got := p.Progress(); got != 0 {
		t.Errorf("idle Progress = %d, want 0", got)
	}

	p.Start()
	if got := p.Progress(); got != 12 { // cycle 1 of 8
		t.Errorf("Progress = %d, want 12", got)
	}

	clk.advance(11 * time.Minute)
	p.Update()
	if got := p.Progress(); got != 100 {
		t.Errorf("finished Progress = %d, want 100", got)
	}
}
