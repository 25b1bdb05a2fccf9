package tasks

import (
	"testing"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

func TestHeatingCurveTarget(t *testing.T) {
	lower := units.TempFromWhole(38)
	upper := units.TempFromWhole(75)

	tests := []struct {
		name    string
		inside  float64
		outside float64
		coeff   int
		shift   units.Temp
		want    units.Temp
	}{
		// Hand-evaluated against the integer arithmetic: coeff 2.0,
		// shift 20.0, diff in tenths.
		{"deep winter", 20, -10, 200, units.TempFromWhole(20), units.TempFromFloat(46.1)},
		{"mild", 20, 10, 200, units.TempFromWhole(20), units.TempFromFloat(40.2)},
		{"no difference", 20, 20, 200, units.TempFromWhole(20), units.TempFromFloat(40.0)},
		{"warm clamps to floor", 20, 30, 200, units.TempFromWhole(0), lower},
		{"high shift clamps to ceiling", 20, -30, 200, units.TempFromWhole(60), upper},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := heatingCurveTarget(
				units.TempFromFloat(tt.inside), units.TempFromFloat(tt.outside),
				tt.coeff, tt.shift, lower, upper)
			if got != tt.want {
				t.Errorf("target = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeatingCurveTargetInvalidInputs(t *testing.T) {
	lower, upper := units.TempFromWhole(38), units.TempFromWhole(75)
	valid := units.TempFromFloat(20)

	if got := heatingCurveTarget(units.TempInvalid, valid, 200, 0, lower, upper); got != units.TempInvalid {
		t.Errorf("invalid inside: target = %v, want invalid", got)
	}
	if got := heatingCurveTarget(valid, units.TempUnknown, 200, 0, lower, upper); got != units.TempInvalid {
		t.Errorf("unknown outside: target = %v, want invalid", got)
	}
}

func TestHeatingLoopThermostat(t *testing.T) {
	h := newHarness(t)
	l := h.heatingLoop()

	// Room well below target: heating starts.
	h.plant.room = 17.0
	h.refresh()
	l.step()

	if !h.reqs.HeatingRequested() {
		t.Fatal("no heating request for a cold room")
	}
	if !h.state.Test(demand.HeatingOn) {
		t.Error("HeatingOn bit not set")
	}
	snap := h.reqs.Snapshot()
	if snap.HighPower {
		t.Error("heating requested high power")
	}
	// Curve output for 17 °C inside / 5 °C outside is 39.9 °C; the
	// mailbox carries targets in whole degrees.
	if want := units.TempFromWhole(40); snap.Target != want {
		t.Errorf("request target = %v, want %v", snap.Target, want)
	}

	// Inside the hysteresis band: stays on.
	h.plant.room = 18.2
	h.refresh()
	l.step()
	if !h.reqs.HeatingRequested() {
		t.Error("request dropped inside the hysteresis band")
	}

	// Above the band: satisfied.
	h.plant.room = 18.6
	h.refresh()
	l.step()
	if h.reqs.HeatingRequested() {
		t.Error("request survived a warm room")
	}
	if h.state.Test(demand.HeatingOn) {
		t.Error("HeatingOn bit survived a warm room")
	}
}

func TestHeatingLoopDisabled(t *testing.T) {
	h := newHarness(t)
	l := h.heatingLoop()

	h.plant.room = 17.0
	h.refresh()
	l.step()
	if !h.reqs.HeatingRequested() {
		t.Fatal("no heating request for a cold room")
	}

	h.state.Clear(demand.HeatingEnabled)
	l.step()
	if h.reqs.HeatingRequested() {
		t.Error("request survived heating disable")
	}
}

func TestHeatingLoopRoomSensorFailure(t *testing.T) {
	h := newHarness(t)
	l := h.heatingLoop()

	h.plant.room = 17.0
	h.refresh()
	l.step()
	if !h.reqs.HeatingRequested() {
		t.Fatal("no heating request for a cold room")
	}

	h.store.SetRoom(units.TempInvalid)
	l.step()
	if h.reqs.HeatingRequested() {
		t.Error("request survived a dead room sensor")
	}
}

func TestHeatingLoopDefersToActiveWater(t *testing.T) {
	h := newHarness(t)
	l := h.heatingLoop()

	h.reqs.SetWaterRequest(units.TempFromFloat(60), true)

	h.plant.room = 17.0
	h.refresh()
	l.step()

	if h.reqs.HeatingRequested() {
		t.Error("heating activated while water held priority")
	}
	if h.state.Test(demand.HeatingOn) {
		t.Error("HeatingOn bit set while deferred")
	}

	// Water finishes; the next cycle activates heating.
	h.reqs.ClearRequest(demand.SourceWater)
	l.step()
	if !h.reqs.HeatingRequested() {
		t.Error("heating did not activate after water released")
	}
}

func TestHeatingLoopReconcilesPreemption(t *testing.T) {
	h := newHarness(t)
	l := h.heatingLoop()

	h.plant.room = 17.0
	h.refresh()
	l.step()
	if !h.reqs.HeatingRequested() {
		t.Fatal("no heating request for a cold room")
	}

	// Water claims priority and bumps the heating request.
	h.state.Set(demand.WaterPriority)
	h.reqs.SetWaterRequest(units.TempFromFloat(60), true)
	if h.reqs.HeatingRequested() {
		t.Fatal("preemption did not clear the heating request")
	}

	l.step()
	if h.state.Test(demand.HeatingOn) {
		t.Error("HeatingOn bit survived preemption")
	}
	if h.reqs.HeatingRequested() {
		t.Error("heating re-posted while water held priority")
	}
}
