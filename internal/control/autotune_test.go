package control

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

// runRelayPlant drives the tuner against a lag-free plant that heats
// 0.5 degrees per 5 second sample while the relay is on and cools the
// same amount while off. Around a 50.0 setpoint with the 1.0 hysteresis
// band this settles into a 60 second oscillation between 48.5 and 51.5.
func runRelayPlant(t *testing.T, tuner *AutoTuner, clk *fakeClock, maxSteps int) {
	t.Helper()
	temp := units.TempFromFloat(48.0)
	for i := 0; i < maxSteps && tuner.State() == TuneRelayTest; i++ {
		cmd := tuner.Update(temp, clk.now())
		clk.advance(5 * time.Second)
		if cmd > 0 {
			temp = temp.Add(5)
		} else if cmd < 0 {
			temp = temp.Sub(5)
		}
	}
}

func TestRelayTestIdentifiesGains(t *testing.T) {
	clk := newFakeClock()
	tuner := NewAutoTuner(testLogger())
	if !tuner.Start(units.TempFromFloat(50.0), TuneZNPI) {
		t.Fatal("start should succeed from idle")
	}

	runRelayPlant(t, tuner, clk, 200)

	if tuner.State() != TuneComplete {
		t.Fatalf("state = %v, want complete", tuner.State())
	}
	if got := tuner.CycleCount(); got != 3 {
		t.Errorf("cycles = %d, want 3", got)
	}
	if got := tuner.Progress(); got != 100 {
		t.Errorf("progress = %d, want 100", got)
	}

	res := tuner.Result()
	if !res.Valid {
		t.Fatal("result should be valid")
	}

	// The plant's limit cycle is exactly 60 seconds peak to peak with
	// amplitude 1.5, so the ZN-PI gains follow in closed form.
	const eps = 1e-9
	wantKu := 4 * relayAmplitude / (math.Pi * 1.5)
	wantKp := 0.45 * wantKu
	wantKi := wantKp / (0.83 * 60.0)
	if math.Abs(res.UltimatePeriod-60.0) > eps {
		t.Errorf("Tu = %v, want 60", res.UltimatePeriod)
	}
	if math.Abs(res.UltimateGain-wantKu) > eps {
		t.Errorf("Ku = %v, want %v", res.UltimateGain, wantKu)
	}
	if math.Abs(res.Kp-wantKp) > eps {
		t.Errorf("Kp = %v, want %v", res.Kp, wantKp)
	}
	if math.Abs(res.Ki-wantKi) > eps {
		t.Errorf("Ki = %v, want %v", res.Ki, wantKi)
	}
	if res.Kd != 0 {
		t.Errorf("Kd = %v, want 0 for PI tuning", res.Kd)
	}
}

func TestFirstSwitchIsNotACycle(t *testing.T) {
	clk := newFakeClock()
	tuner := NewAutoTuner(testLogger())
	tuner.Start(units.TempFromFloat(50.0), TuneZNPI)

	// Ride the initial approach ramp until the relay first drops. The
	// ramp's low point must not have been recorded as a trough.
	temp := units.TempFromFloat(48.0)
	for i := 0; i < 50; i++ {
		cmd := tuner.Update(temp, clk.now())
		clk.advance(5 * time.Second)
		if cmd < 0 {
			break
		}
		temp = temp.Add(5)
	}
	if got := tuner.CycleCount(); got != 0 {
		t.Errorf("cycles = %d after the approach ramp, want 0", got)
	}
}

func TestTooFastOscillationFails(t *testing.T) {
	clk := newFakeClock()
	tuner := NewAutoTuner(testLogger())
	tuner.Start(units.TempFromFloat(50.0), TuneZNPI)

	// One degree per one second sample gives an 8 second period, far
	// below the 30 second validity floor.
	temp := units.TempFromFloat(48.0)
	for i := 0; i < 100 && tuner.State() == TuneRelayTest; i++ {
		cmd := tuner.Update(temp, clk.now())
		clk.advance(time.Second)
		if cmd > 0 {
			temp = temp.Add(10)
		} else if cmd < 0 {
			temp = temp.Sub(10)
		}
	}

	if tuner.State() != TuneFailed {
		t.Fatalf("state = %v, want failed", tuner.State())
	}
	if tuner.Result().Valid {
		t.Error("failed run must not publish a valid result")
	}
	if got := tuner.Progress(); got != 0 {
		t.Errorf("progress = %d after failure, want 0", got)
	}
}

func TestTimeoutFails(t *testing.T) {
	clk := newFakeClock()
	tuner := NewAutoTuner(testLogger())
	tuner.Start(units.TempFromFloat(50.0), TuneZNPI)

	// Stuck inside the hysteresis band: no switches ever happen.
	tuner.Update(units.TempFromFloat(49.5), clk.now())
	clk.advance(41 * time.Minute)
	if got := tuner.Update(units.TempFromFloat(49.5), clk.now()); got != 0 {
		t.Errorf("command after timeout = %v, want 0", got)
	}
	if tuner.State() != TuneFailed {
		t.Errorf("state = %v, want failed", tuner.State())
	}
}

func TestStartRejectedWhileRunning(t *testing.T) {
	clk := newFakeClock()
	tuner := NewAutoTuner(testLogger())
	tuner.Start(units.TempFromFloat(50.0), TuneZNPI)
	tuner.Update(units.TempFromFloat(48.0), clk.now())

	if tuner.Start(units.TempFromFloat(60.0), TuneZNPID) {
		t.Error("start should be rejected during the relay test")
	}
}

func TestStopAndRestart(t *testing.T) {
	clk := newFakeClock()
	tuner := NewAutoTuner(testLogger())
	tuner.Start(units.TempFromFloat(50.0), TuneZNPI)
	tuner.Update(units.TempFromFloat(48.0), clk.now())

	tuner.Stop()
	if tuner.State() != TuneIdle {
		t.Fatalf("state = %v after stop, want idle", tuner.State())
	}
	if got := tuner.Update(units.TempFromFloat(48.0), clk.now()); got != 0 {
		t.Errorf("idle tuner returned command %v, want 0", got)
	}
	if !tuner.Start(units.TempFromFloat(50.0), TuneZNPI) {
		t.Error("stopped tuner should restart")
	}
}

func TestTuningMethodFormulas(t *testing.T) {
	// Each rule applied to the same 60 second, amplitude 1.5 cycle.
	ku := 4 * relayAmplitude / (math.Pi * 1.5)
	tests := []struct {
		method TuningMethod
		kp, ki float64
		kd     float64
	}{
		{TuneZNPI, 0.45 * ku, 0.45 * ku / (0.83 * 60), 0},
		{TuneZNPID, 0.6 * ku, 0.6 * ku / (0.5 * 60), 0.6 * ku * 0.125 * 60},
		{TuneTyreusLuyben, 0.3125 * ku, 0.3125 * ku / (2.2 * 60), 0.3125 * ku * 0.37 * 60},
		{TuneCohenCoon, 0.35 * ku, 0.35 * ku / (1.2 * 60), 0.35 * ku * 0.25 * 60},
		{TuneLambda, 0.2 * ku, 0.2 * ku / 60, 0},
	}
	for _, tc := range tests {
		t.Run(tc.method.String(), func(t *testing.T) {
			clk := newFakeClock()
			tuner := NewAutoTuner(testLogger())
			tuner.Start(units.TempFromFloat(50.0), tc.method)
			runRelayPlant(t, tuner, clk, 200)

			res := tuner.Result()
			if !res.Valid {
				t.Fatalf("state = %v, want a valid result", tuner.State())
			}
			const eps = 1e-9
			wantKd := clampFloat(tc.kd, tunedKdMin, tunedKdMax)
			if math.Abs(res.Kp-clampFloat(tc.kp, tunedKpMin, tunedKpMax)) > eps {
				t.Errorf("Kp = %v, want %v", res.Kp, tc.kp)
			}
			if math.Abs(res.Ki-clampFloat(tc.ki, tunedKiMin, tunedKiMax)) > eps {
				t.Errorf("Ki = %v, want %v", res.Ki, tc.ki)
			}
			if math.Abs(res.Kd-wantKd) > eps {
				t.Errorf("Kd = %v, want %v", res.Kd, wantKd)
			}
		})
	}
}

func TestParseTuningMethod(t *testing.T) {
	for _, m := range []TuningMethod{TuneZNPI, TuneZNPID, TuneTyreusLuyben, TuneCohenCoon, TuneLambda} {
		got, ok := ParseTuningMethod(m.String())
		if !ok || got != m {
			t.Errorf("ParseTuningMethod(%q) = %v, %v", m.String(), got, ok)
		}
	}
	if _, ok := ParseTuningMethod("bogus"); ok {
		t.Error("unknown method name should not parse")
	}
}
