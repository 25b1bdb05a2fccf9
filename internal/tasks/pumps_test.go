package tasks

import (
	"testing"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
)

func TestPumpLoopFollowsRunBits(t *testing.T) {
	h := newHarness(t)
	l := h.pumpLoop()

	l.step()
	if h.drv.Pump(relay.PumpHeating) || h.drv.Pump(relay.PumpWater) {
		t.Fatal("pumps on with no run bits")
	}

	h.state.Set(demand.HeatingOn)
	l.step()
	if !h.drv.Pump(relay.PumpHeating) {
		t.Error("heating pump off while HeatingOn set")
	}
	if h.drv.Pump(relay.PumpWater) {
		t.Error("water pump on without WaterOn")
	}

	h.state.Clear(demand.HeatingOn)
	h.state.Set(demand.WaterOn)
	l.step()
	if h.drv.Pump(relay.PumpHeating) {
		t.Error("heating pump on after HeatingOn cleared")
	}
	if !h.drv.Pump(relay.PumpWater) {
		t.Error("water pump off while WaterOn set")
	}
}

func TestPumpLoopEmergencyDropsPumps(t *testing.T) {
	h := newHarness(t)
	l := h.pumpLoop()

	h.state.Set(demand.HeatingOn | demand.WaterOn)
	l.step()
	if !h.drv.Pump(relay.PumpHeating) || !h.drv.Pump(relay.PumpWater) {
		t.Fatal("pumps not running")
	}

	h.state.Set(demand.EmergencyStop)
	l.step()
	if h.drv.Pump(relay.PumpHeating) || h.drv.Pump(relay.PumpWater) {
		t.Error("pumps survived emergency stop")
	}
	if !h.drv.AlarmOn() {
		t.Error("alarm output off during emergency stop")
	}
}

func TestPumpLoopAlarmOnBurnerError(t *testing.T) {
	h := newHarness(t)
	l := h.pumpLoop()

	l.step()
	if h.drv.AlarmOn() {
		t.Fatal("alarm on with a healthy burner")
	}

	h.state.SetBurnerStatus(demand.BurnerError)
	l.step()
	if !h.drv.AlarmOn() {
		t.Error("alarm off while the burner reports an error")
	}

	h.state.SetBurnerStatus(demand.BurnerOff)
	l.step()
	if h.drv.AlarmOn() {
		t.Error("alarm survived burner recovery")
	}
}

func TestPumpLoopRunsPumpForPreheat(t *testing.T) {
	h := newHarness(t)
	l := h.pumpLoop()

	// Cold loop under a hot boiler; the preheater asks for the pump
	// even though no heating is running yet.
	h.plant.boilerOut = 70
	h.plant.boilerRet = 30
	h.refresh()
	if !h.pre.Start() {
		t.Fatal("preheat refused")
	}

	l.step()
	if !h.drv.Pump(relay.PumpHeating) {
		t.Error("heating pump off during preheat")
	}

	// Preheat finishes; the pump returns to the run bits.
	h.pre.Stop()
	l.step()
	if h.drv.Pump(relay.PumpHeating) {
		t.Error("heating pump on after preheat stopped")
	}
}

func TestPumpLoopShutdownStopsPumps(t *testing.T) {
	h := newHarness(t)
	l := h.pumpLoop()

	h.state.Set(demand.HeatingOn | demand.WaterOn)
	l.step()

	l.shutdown()
	if h.drv.Pump(relay.PumpHeating) || h.drv.Pump(relay.PumpWater) {
		t.Error("pumps running after shutdown")
	}
}
