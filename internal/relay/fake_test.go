package relay

import (
	"errors"
	"testing"
)

func TestFakeDriverApplyBurner(t *testing.T) {
	d := NewFakeDriver()

	if got := d.Burner(); !got.Off() {
		t.Fatalf("expected burner off initially, got %+v", got)
	}

	want := BurnerState{Enable: true, Boost: true}
	if err := d.ApplyBurner(want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.Burner(); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	// History keeps command order.
	d.ApplyBurner(BurnerState{})
	applied := d.Applied()
	if len(applied) != 2 {
		t.Fatalf("expected 2 applied patterns, got %d", len(applied))
	}
	if applied[0] != want || !applied[1].Off() {
		t.Errorf("unexpected history: %+v", applied)
	}
}

func TestFakeDriverPumpsIndependentOfBurner(t *testing.T) {
	d := NewFakeDriver()

	d.SetPump(PumpHeating, true)
	d.ApplyBurner(BurnerState{Enable: true})
	d.ApplyBurner(BurnerState{})

	if !d.Pump(PumpHeating) {
		t.Error("heating pump should still run after burner off")
	}
	if d.Pump(PumpWater) {
		t.Error("water pump should be off")
	}
}

func TestFakeDriverReadBack(t *testing.T) {
	d := NewFakeDriver()
	d.ApplyBurner(BurnerState{Water: true})
	d.SetPump(PumpWater, true)
	d.SetAlarm(true)

	out, err := d.ReadBack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Outputs{Burner: BurnerState{Water: true}, WaterPump: true, Alarm: true}
	if out != want {
		t.Errorf("expected %+v, got %+v", want, out)
	}
}

func TestFakeDriverReadBackOverride(t *testing.T) {
	d := NewFakeDriver()
	d.ApplyBurner(BurnerState{Enable: true})
	d.ReadBackOverride = &Outputs{}

	out, err := d.ReadBack()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Burner.Enable {
		t.Error("override should report the burner relay stuck off")
	}
}

func TestFakeDriverErrors(t *testing.T) {
	d := NewFakeDriver()
	d.ApplyErr = errors.New("simulated error")

	if err := d.ApplyBurner(BurnerState{Enable: true}); err == nil {
		t.Error("expected error to be returned")
	}
	if got := d.Burner(); got.Enable {
		t.Error("failed apply must not change recorded state")
	}
}

func TestFakeDriverAllOff(t *testing.T) {
	d := NewFakeDriver()
	d.ApplyBurner(BurnerState{Enable: true, Boost: true})
	d.SetPump(PumpHeating, true)
	d.SetAlarm(true)

	if err := d.AllOff(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, _ := d.ReadBack()
	if out != (Outputs{}) {
		t.Errorf("expected all channels off, got %+v", out)
	}
	if d.AllOffCalls() != 1 {
		t.Errorf("expected 1 AllOff call, got %d", d.AllOffCalls())
	}
}
