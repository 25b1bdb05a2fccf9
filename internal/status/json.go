package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string       `json:"event,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Burner         BurnerJSON   `json:"burner"`
	Demand         DemandJSON   `json:"demand"`
	Readings       ReadingsJSON `json:"readings"`
	Tuning         *TuningJSON  `json:"autotune,omitempty"`
	Counters       CountersJSON `json:"counters"`
	RuntimeTodayS  int64        `json:"runtime_today_seconds"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
	StartTime      string       `json:"start_time"`
	Timestamp      string       `json:"timestamp"`
	MQTT           MQTTStatus   `json:"mqtt"`
	Config         ConfigJSON   `json:"config"`
	LastValidation string       `json:"last_validation"`
}

// BurnerJSON is the burner state block.
type BurnerJSON struct {
	State     string `json:"state"`
	Firing    bool   `json:"firing"`
	WaterMode bool   `json:"water_mode"`
}

// DemandJSON is the active request block.
type DemandJSON struct {
	Heating   bool     `json:"heating"`
	Water     bool     `json:"water"`
	Target    *float64 `json:"target_c,omitempty"`
	HighPower bool     `json:"high_power"`
}

// ReadingsJSON carries the sensor values; invalid channels are null.
type ReadingsJSON struct {
	BoilerOutput *float64 `json:"boiler_output_c"`
	BoilerReturn *float64 `json:"boiler_return_c"`
	WaterTank    *float64 `json:"water_tank_c"`
	Outside      *float64 `json:"outside_c"`
	Room         *float64 `json:"room_c"`
	Pressure     *float64 `json:"pressure_bar"`
	AgeSeconds   int64    `json:"age_seconds"`
}

// TuningJSON is the auto-tune block, present only while tuning.
type TuningJSON struct {
	Progress int    `json:"progress"`
	Cycles   int    `json:"cycles"`
	Method   string `json:"method"`
}

// CountersJSON is the lifetime counters block.
type CountersJSON struct {
	Ignitions        int `json:"ignitions"`
	FailedIgnitions  int `json:"failed_ignitions"`
	Lockouts         int `json:"lockouts"`
	SafetyRejections int `json:"safety_rejections"`
	EmergencyStops   int `json:"emergency_stops"`
	WatchdogClears   int `json:"watchdog_clears"`
}

// MQTTStatus reports broker connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Broker     string `json:"broker"`
	HTTPAddr   string `json:"http_addr"`
	BaseTickMs int64  `json:"base_tick_ms"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Burner: BurnerJSON{
			State:     snap.BurnerState,
			Firing:    snap.Firing(),
			WaterMode: snap.WaterMode,
		},
		Demand: DemandJSON{
			Heating:   snap.Demand.Heating,
			Water:     snap.Demand.Water,
			HighPower: snap.Demand.HighPower,
		},
		Readings: ReadingsJSON{
			BoilerOutput: tempPtr(snap.Readings.BoilerOutput.Float64()),
			BoilerReturn: tempPtr(snap.Readings.BoilerReturn.Float64()),
			WaterTank:    tempPtr(snap.Readings.WaterTank.Float64()),
			Outside:      tempPtr(snap.Readings.Outside.Float64()),
			Room:         tempPtr(snap.Readings.Room.Float64()),
			Pressure:     tempPtr(snap.Readings.Pressure.Float64()),
			AgeSeconds:   ageSeconds(snap),
		},
		Counters: CountersJSON{
			Ignitions:        snap.Counters.Ignitions,
			FailedIgnitions:  snap.Counters.FailedIgnitions,
			Lockouts:         snap.Counters.Lockouts,
			SafetyRejections: snap.Counters.SafetyRejections,
			EmergencyStops:   snap.Counters.EmergencyStops,
			WatchdogClears:   snap.Counters.WatchdogClears,
		},
		RuntimeTodayS:  int64(snap.RuntimeToday.Truncate(time.Second).Seconds()),
		UptimeSeconds:  int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:      snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:      snap.Now.UTC().Format(time.RFC3339),
		MQTT:           MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		LastValidation: snap.LastValidation,
		Config: ConfigJSON{
			Broker:     snap.Config.Broker,
			HTTPAddr:   snap.Config.HTTPAddr,
			BaseTickMs: snap.Config.BaseTick.Milliseconds(),
		},
	}
	if snap.Demand.Target.Valid() {
		v := snap.Demand.Target.Float64()
		inner.Demand.Target = &v
	}
	if snap.Tuning.Active {
		inner.Tuning = &TuningJSON{
			Progress: snap.Tuning.Progress,
			Cycles:   snap.Tuning.Cycles,
			Method:   snap.Tuning.Method,
		}
	}
	return inner
}

// tempPtr maps NaN (invalid channel) to null.
func tempPtr(v float64) *float64 {
	if v != v {
		return nil
	}
	return &v
}

func ageSeconds(snap Snapshot) int64 {
	if snap.Readings.LastUpdate.IsZero() {
		return -1
	}
	return int64(snap.Now.Sub(snap.Readings.LastUpdate).Truncate(time.Second).Seconds())
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
