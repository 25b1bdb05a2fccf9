package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/status"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func newTestServer(t *testing.T) (*Server, *status.Tracker) {
	t.Helper()
	tracker := status.NewTracker(status.Config{Broker: "tcp://broker:1883"}, fixedNow)
	registry := prometheus.NewRegistry()
	NewMetrics(registry, tracker)
	return New(":0", tracker, registry), tracker
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s, tracker := newTestServer(t)
	tracker.SetBurner("RUNNING_LOW", false)
	tracker.SetDemand(status.Demand{Heating: true, Target: units.TempFromWhole(70)})

	rec := get(t, s, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var decoded status.StatusJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Status.Burner.State != "RUNNING_LOW" {
		t.Errorf("state = %q", decoded.Status.Burner.State)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := rec.Body.String(); body != "ok\n" {
		t.Errorf("body = %q", body)
	}
}

func TestStatusEndpointRejectsPost(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, tracker := newTestServer(t)
	tracker.SetBurner("RUNNING_HIGH", true)
	tracker.AddIgnition()
	tracker.AddLockout()
	tracker.SetReadings(readingsWithBoilerOutput(t, 71.5))

	rec := get(t, s, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)

	checks := []string{
		"boiler_burner_state 4",
		"boiler_burner_firing 1",
		"boiler_water_mode 1",
		"boiler_ignitions_total 1",
		"boiler_lockouts_total 1",
		"boiler_boiler_output_celsius 71.5",
	}
	for _, want := range checks {
		if !strings.Contains(text, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// readingsWithBoilerOutput builds a sensor snapshot value without a
// live store.
func readingsWithBoilerOutput(t *testing.T, celsius float64) (r sensors.Readings) {
	t.Helper()
	r.BoilerOutput = units.TempFromFloat(celsius)
	r.BoilerReturn = units.TempInvalid
	r.WaterTank = units.TempInvalid
	r.Outside = units.TempInvalid
	r.Room = units.TempInvalid
	r.Pressure = units.PressureInvalid
	return r
}
