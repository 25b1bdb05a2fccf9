package tasks

import (
	"testing"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

func TestWaterLoopThermostat(t *testing.T) {
	h := newHarness(t)
	l := h.waterLoop()

	// Tank below the low threshold: a charge starts at high power,
	// targeting tank plus the charge delta.
	h.plant.tank = 40
	h.refresh()
	l.step()

	if !h.reqs.WaterRequested() {
		t.Fatal("no water request for a cold tank")
	}
	if !h.state.Test(demand.WaterOn) {
		t.Error("WaterOn bit not set")
	}
	snap := h.reqs.Snapshot()
	if !snap.HighPower {
		t.Error("water charge not at high power")
	}
	if want := units.TempFromFloat(50); snap.Target != want {
		t.Errorf("charge target = %v, want %v", snap.Target, want)
	}

	// Tank warms but stays under the high threshold: the charge
	// continues and the target follows the tank.
	h.plant.tank = 55
	h.refresh()
	l.step()
	if !h.reqs.WaterRequested() {
		t.Error("request dropped mid-charge")
	}
	if want := units.TempFromFloat(65); h.reqs.Snapshot().Target != want {
		t.Errorf("charge target = %v, want %v", h.reqs.Snapshot().Target, want)
	}

	// Tank above the high threshold: satisfied.
	h.plant.tank = 66
	h.refresh()
	l.step()
	if h.reqs.WaterRequested() {
		t.Error("request survived a hot tank")
	}
	if h.state.Test(demand.WaterOn) {
		t.Error("WaterOn bit survived a hot tank")
	}
}

func TestWaterLoopHoldsBetweenThresholds(t *testing.T) {
	h := newHarness(t)
	l := h.waterLoop()

	// 50 °C sits between the thresholds; without a running charge
	// there is nothing to do.
	h.plant.tank = 50
	h.refresh()
	l.step()
	if h.reqs.WaterRequested() {
		t.Error("request posted inside the dead band")
	}
}

func TestWaterLoopChargeDeltaClamp(t *testing.T) {
	h := newHarness(t)

	l := h.waterLoop()
	l.wcfg.ChargeDelta = units.TempFromWhole(30)
	if got, want := l.chargeTarget(units.TempFromFloat(40)), units.TempFromFloat(60); got != want {
		t.Errorf("charge target with oversized delta = %v, want %v", got, want)
	}

	l.wcfg.ChargeDelta = units.TempFromWhole(2)
	if got, want := l.chargeTarget(units.TempFromFloat(40)), units.TempFromFloat(45); got != want {
		t.Errorf("charge target with undersized delta = %v, want %v", got, want)
	}
}

func TestWaterLoopDisabled(t *testing.T) {
	h := newHarness(t)
	l := h.waterLoop()

	h.plant.tank = 40
	h.refresh()
	l.step()
	if !h.reqs.WaterRequested() {
		t.Fatal("no water request for a cold tank")
	}

	h.state.Clear(demand.WaterEnabled)
	l.step()
	if h.reqs.WaterRequested() {
		t.Error("request survived water disable")
	}
}

func TestWaterLoopTankSensorFailure(t *testing.T) {
	h := newHarness(t)
	l := h.waterLoop()

	h.plant.tank = 40
	h.refresh()
	l.step()
	if !h.reqs.WaterRequested() {
		t.Fatal("no water request for a cold tank")
	}

	h.store.SetWaterTank(units.TempInvalid)
	l.step()
	if h.reqs.WaterRequested() {
		t.Error("request survived a dead tank sensor")
	}
}

func TestWaterLoopDefersToHeatingWithoutPriority(t *testing.T) {
	h := newHarness(t)
	l := h.waterLoop()

	h.reqs.SetHeatingRequest(units.TempFromFloat(60), false)
	h.plant.tank = 40
	h.refresh()
	l.step()

	if h.reqs.WaterRequested() {
		t.Error("water displaced heating without priority")
	}
	if !h.reqs.HeatingRequested() {
		t.Error("heating request lost")
	}
}

func TestWaterLoopPreemptsHeatingWithPriority(t *testing.T) {
	h := newHarness(t)
	l := h.waterLoop()

	h.state.Set(demand.WaterPriority)
	h.reqs.SetHeatingRequest(units.TempFromFloat(60), false)
	h.plant.tank = 40
	h.refresh()
	l.step()

	if !h.reqs.WaterRequested() {
		t.Fatal("water did not claim the burner with priority")
	}
	if h.reqs.HeatingRequested() {
		t.Error("heating request survived priority preemption")
	}
}
