// Package mqtt is the controller's broker boundary: it publishes burner
// events and status snapshots, feeds the sensor store from the
// acquisition units' topics, and dispatches operator commands to the
// control core. Nothing in here makes control decisions.
package mqtt

import (
	"encoding/json"
	"time"
)

// Topic layout under the fixed prefix. Commands are one topic per verb
// with a short plain payload; sensors are one topic per channel with a
// decimal payload; status topics carry JSON and are retained where a
// late subscriber needs the last value.
const (
	Prefix = "boiler"

	// TopicEvents carries burner state changes and safety rejections.
	TopicEvents = Prefix + "/events"
	// TopicStatus carries the full status snapshot, retained.
	TopicStatus = Prefix + "/status"
	// TopicSystem carries lifecycle events (startup, shutdown), retained.
	TopicSystem = Prefix + "/status/system"
	// TopicAutotune carries auto-tune progress and results.
	TopicAutotune = Prefix + "/status/pid/autotune"

	TopicCmdSystem        = Prefix + "/cmd/system"
	TopicCmdHeating       = Prefix + "/cmd/heating"
	TopicCmdWater         = Prefix + "/cmd/water"
	TopicCmdWaterPriority = Prefix + "/cmd/water_priority"
	TopicCmdAutotune      = Prefix + "/cmd/pid_autotune"
	TopicCmdBurnerReset   = Prefix + "/cmd/burner_reset"
	TopicCmdEmergency     = Prefix + "/cmd/emergency"

	TopicSensorBoilerOutput = Prefix + "/sensors/boiler_output"
	TopicSensorBoilerReturn = Prefix + "/sensors/boiler_return"
	TopicSensorWaterTank    = Prefix + "/sensors/water_tank"
	TopicSensorOutside      = Prefix + "/sensors/outside"
	TopicSensorRoom         = Prefix + "/sensors/room"
	TopicSensorPressure     = Prefix + "/sensors/pressure"
)

// Event is one burner-side occurrence worth telling the world about.
type Event struct {
	Timestamp time.Time
	Type      string // "state_change", "safety", "lockout", "lockout_reset", "watchdog", "emergency"
	From      string // previous burner state, state_change only
	To        string // new burner state, state_change only
	Reason    string // specific cause, e.g. a validation result
}

// SystemEvent is a lifecycle event. RawPayload, when set, is published
// verbatim; the status layer uses it to attach a full snapshot.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // "STARTUP", "SHUTDOWN", "ONLINE"
	Reason     string
	RawPayload []byte
	Retained   bool
}

// Publisher publishes controller events to the broker. Implementations
// must not block control loops: failures are returned, never retried
// inline.
type Publisher interface {
	// PublishEvent sends a burner event, QoS 0.
	PublishEvent(e Event) error

	// PublishStatus sends a full status snapshot, QoS 1, retained.
	PublishStatus(payload []byte) error

	// PublishSystem sends a lifecycle event, QoS 1.
	PublishSystem(e SystemEvent) error

	// PublishAutotune sends auto-tune progress or results, QoS 1.
	PublishAutotune(payload []byte) error

	// Close disconnects from the broker.
	Close() error
}

// Subscriber registers a handler for a topic. The handler runs on the
// client's receive goroutine and must return quickly.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// ConnectionStatus reports whether the broker connection is up.
type ConnectionStatus interface {
	IsConnected() bool
}

// eventPayload is the wire form of an Event.
type eventPayload struct {
	Burner eventInner `json:"burner"`
}

type eventInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// FormatEventPayload creates the JSON payload for a burner event.
func FormatEventPayload(e Event) ([]byte, error) {
	return json.Marshal(eventPayload{
		Burner: eventInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     e.Type,
			From:      e.From,
			To:        e.To,
			Reason:    e.Reason,
		},
	})
}

// systemPayload is the wire form of a SystemEvent without a snapshot.
type systemPayload struct {
	System systemInner `json:"system"`
}

type systemInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a lifecycle event.
// A pre-built RawPayload is returned as is.
func FormatSystemPayload(e SystemEvent) ([]byte, error) {
	if e.RawPayload != nil {
		return e.RawPayload, nil
	}
	return json.Marshal(systemPayload{
		System: systemInner{
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
			Event:     e.Event,
			Reason:    e.Reason,
		},
	})
}
