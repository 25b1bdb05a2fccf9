package web

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/status"
)

// burnerStateCodes maps machine states to stable metric values. New
// states append; renumbering breaks dashboards.
var burnerStateCodes = map[string]float64{
	"IDLE":           0,
	"PRE_PURGE":      1,
	"IGNITION":       2,
	"RUNNING_LOW":    3,
	"RUNNING_HIGH":   4,
	"MODE_SWITCHING": 5,
	"POST_PURGE":     6,
	"LOCKOUT":        7,
	"ERROR":          8,
}

// NewMetrics registers the controller collectors on the registry. All
// collectors read the tracker at scrape time; no control path ever
// blocks on a scrape.
func NewMetrics(registry *prometheus.Registry, tracker *status.Tracker) {
	snapGauge := func(name, help string, value func(status.Snapshot) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "boiler",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return value(tracker.Snapshot())
		})
	}
	snapCounter := func(name, help string, value func(status.Snapshot) float64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "boiler",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return value(tracker.Snapshot())
		})
	}

	registry.MustRegister(
		snapGauge("burner_state", "Burner state machine position (0=idle ... 8=error).",
			func(s status.Snapshot) float64 { return burnerStateCodes[s.BurnerState] }),
		snapGauge("burner_firing", "1 while the flame is established.",
			func(s status.Snapshot) float64 { return boolGauge(s.Firing()) }),
		snapGauge("water_mode", "1 while the burner serves the water circuit.",
			func(s status.Snapshot) float64 { return boolGauge(s.WaterMode) }),
		snapGauge("demand_heating", "1 while a space heating request is active.",
			func(s status.Snapshot) float64 { return boolGauge(s.Demand.Heating) }),
		snapGauge("demand_water", "1 while a water heating request is active.",
			func(s status.Snapshot) float64 { return boolGauge(s.Demand.Water) }),
		snapGauge("target_temperature_celsius", "Active request target, NaN when idle.",
			func(s status.Snapshot) float64 { return s.Demand.Target.Float64() }),
		snapGauge("boiler_output_celsius", "Boiler output temperature, NaN when invalid.",
			func(s status.Snapshot) float64 { return s.Readings.BoilerOutput.Float64() }),
		snapGauge("boiler_return_celsius", "Boiler return temperature, NaN when invalid.",
			func(s status.Snapshot) float64 { return s.Readings.BoilerReturn.Float64() }),
		snapGauge("water_tank_celsius", "Water tank temperature, NaN when invalid.",
			func(s status.Snapshot) float64 { return s.Readings.WaterTank.Float64() }),
		snapGauge("outside_celsius", "Outside temperature, NaN when invalid.",
			func(s status.Snapshot) float64 { return s.Readings.Outside.Float64() }),
		snapGauge("system_pressure_bar", "System pressure, NaN when invalid.",
			func(s status.Snapshot) float64 { return s.Readings.Pressure.Float64() }),
		snapGauge("runtime_today_seconds", "Accumulated burn time since midnight.",
			func(s status.Snapshot) float64 { return s.RuntimeToday.Seconds() }),
		snapGauge("autotune_progress", "Auto-tune progress percent, 0 while inactive.",
			func(s status.Snapshot) float64 { return float64(s.Tuning.Progress) }),
		snapGauge("mqtt_connected", "1 while the broker connection is up.",
			func(s status.Snapshot) float64 { return boolGauge(s.MQTTConnected) }),
		snapGauge("uptime_seconds", "Daemon uptime.",
			func(s status.Snapshot) float64 { return s.Uptime().Seconds() }),

		snapCounter("ignitions_total", "Successful ignitions.",
			func(s status.Snapshot) float64 { return float64(s.Counters.Ignitions) }),
		snapCounter("failed_ignitions_total", "Failed ignition attempts.",
			func(s status.Snapshot) float64 { return float64(s.Counters.FailedIgnitions) }),
		snapCounter("lockouts_total", "Burner lockouts.",
			func(s status.Snapshot) float64 { return float64(s.Counters.Lockouts) }),
		snapCounter("safety_rejections_total", "Refused safety validations.",
			func(s status.Snapshot) float64 { return float64(s.Counters.SafetyRejections) }),
		snapCounter("emergency_stops_total", "Emergency stops.",
			func(s status.Snapshot) float64 { return float64(s.Counters.EmergencyStops) }),
		snapCounter("watchdog_clears_total", "Stale requests cleared by the watchdog.",
			func(s status.Snapshot) float64 { return float64(s.Counters.WatchdogClears) }),
	)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
