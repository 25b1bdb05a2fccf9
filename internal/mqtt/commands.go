package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/control"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// Machine narrows the burner state machine to what commands may touch.
// Operators never get relay access; the machine mediates everything.
type Machine interface {
	ResetLockout() bool
	EmergencyStop(reason string)
}

// Commands dispatches operator commands to the control core. Handlers
// run on the MQTT receive goroutine; every target they call is safe for
// concurrent use, so they only decode, dispatch and log.
type Commands struct {
	state      *demand.State
	requests   *demand.Manager
	machine    Machine
	controller *control.Controller
	store      *sensors.Store
	publisher  Publisher
	log        *logrus.Entry
	now        func() time.Time
}

// NewCommands wires the command dispatcher.
func NewCommands(state *demand.State, requests *demand.Manager, machine Machine,
	controller *control.Controller, store *sensors.Store, publisher Publisher,
	log *logrus.Entry, now func() time.Time) *Commands {
	return &Commands{
		state:      state,
		requests:   requests,
		machine:    machine,
		controller: controller,
		store:      store,
		publisher:  publisher,
		log:        log,
		now:        now,
	}
}

// Bind subscribes every command topic.
func (c *Commands) Bind(sub Subscriber) error {
	bindings := map[string]func([]byte){
		TopicCmdSystem:        c.HandleSystem,
		TopicCmdHeating:       c.HandleHeating,
		TopicCmdWater:         c.HandleWater,
		TopicCmdWaterPriority: c.HandleWaterPriority,
		TopicCmdAutotune:      c.HandleAutotune,
		TopicCmdBurnerReset:   c.HandleBurnerReset,
		TopicCmdEmergency:     c.HandleEmergency,
	}
	for topic, handler := range bindings {
		h := handler
		if err := sub.Subscribe(topic, func(_ string, payload []byte) { h(payload) }); err != nil {
			return err
		}
	}
	return nil
}

// onOff decodes the accepted enable/disable spellings:
// on/enable/1 and off/disable/0; anything else is rejected.
func onOff(payload []byte) (on bool, ok bool) {
	switch strings.TrimSpace(strings.ToLower(string(payload))) {
	case "on", "enable", "1":
		return true, true
	case "off", "disable", "0":
		return false, true
	}
	return false, false
}

// HandleSystem enables or disables the whole boiler. Disabling clears
// every standing request; the burner task shuts the flame down.
func (c *Commands) HandleSystem(payload []byte) {
	on, ok := onOff(payload)
	if !ok {
		c.log.WithField("payload", string(payload)).Warn("unknown system command")
		return
	}
	if on {
		c.log.Info("command: boiler enabled")
		c.state.Set(demand.BoilerEnabled)
		return
	}
	c.log.Warn("command: boiler disabled")
	c.state.Clear(demand.BoilerEnabled)
	c.requests.ClearRequest(demand.SourceManual)
}

// HandleHeating enables or disables the space heating loop.
func (c *Commands) HandleHeating(payload []byte) {
	on, ok := onOff(payload)
	if !ok {
		c.log.WithField("payload", string(payload)).Warn("unknown heating command")
		return
	}
	if on {
		c.log.Info("command: space heating enabled")
		c.state.Set(demand.HeatingEnabled)
		return
	}
	c.log.Info("command: space heating disabled")
	c.state.Clear(demand.HeatingEnabled)
	c.requests.ClearRequest(demand.SourceHeating)
}

// HandleWater enables or disables the water heating loop.
func (c *Commands) HandleWater(payload []byte) {
	on, ok := onOff(payload)
	if !ok {
		c.log.WithField("payload", string(payload)).Warn("unknown water command")
		return
	}
	if on {
		c.log.Info("command: water heating enabled")
		c.state.Set(demand.WaterEnabled)
		return
	}
	c.log.Info("command: water heating disabled")
	c.state.Clear(demand.WaterEnabled)
	c.requests.ClearRequest(demand.SourceWater)
}

// HandleWaterPriority switches water priority mode.
func (c *Commands) HandleWaterPriority(payload []byte) {
	on, ok := onOff(payload)
	if !ok {
		c.log.WithField("payload", string(payload)).Warn("unknown water priority command")
		return
	}
	c.log.WithField("priority", on).Info("command: water priority")
	if on {
		c.state.Set(demand.WaterPriority)
	} else {
		c.state.Clear(demand.WaterPriority)
	}
}

// autotuneCommand is the JSON form of an auto-tune start request.
type autotuneCommand struct {
	Command  string  `json:"command"`
	Setpoint float64 `json:"setpoint"`
	Method   string  `json:"method,omitempty"`
}

// HandleAutotune starts or stops a PID auto-tune run. A plain "stop"
// payload is accepted alongside the JSON form.
func (c *Commands) HandleAutotune(payload []byte) {
	trimmed := strings.TrimSpace(strings.ToLower(string(payload)))
	if trimmed == "stop" {
		c.log.Info("command: auto-tune stop")
		c.controller.StopTuning()
		return
	}

	var cmd autotuneCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		c.log.WithError(err).WithField("payload", string(payload)).Warn("malformed auto-tune command")
		return
	}

	switch cmd.Command {
	case "start":
		if cmd.Method != "" {
			method, ok := control.ParseTuningMethod(cmd.Method)
			if !ok {
				c.log.WithField("method", cmd.Method).Warn("unknown tuning method")
				return
			}
			c.controller.SetTuningMethod(method)
		}
		setpoint := units.TempFromFloat(cmd.Setpoint)
		current := c.store.Snapshot().BoilerOutput
		if c.controller.StartTuning(setpoint, current) {
			c.log.WithField("setpoint", setpoint.String()).Info("command: auto-tune started")
		} else {
			c.log.WithFields(logrus.Fields{
				"setpoint": setpoint.String(),
				"current":  current.String(),
			}).Warn("auto-tune start refused")
		}
	case "stop":
		c.log.Info("command: auto-tune stop")
		c.controller.StopTuning()
	default:
		c.log.WithField("command", cmd.Command).Warn("unknown auto-tune command")
	}
}

// HandleBurnerReset releases a locked out burner. The reset itself is
// published so operators see whether it was accepted.
func (c *Commands) HandleBurnerReset(payload []byte) {
	switch strings.TrimSpace(strings.ToLower(string(payload))) {
	case "lockout", "reset":
	default:
		c.log.WithField("payload", string(payload)).Warn("unknown burner reset command")
		return
	}

	c.log.Warn("command: reset burner lockout")
	if !c.machine.ResetLockout() {
		return
	}
	if c.publisher != nil {
		err := c.publisher.PublishEvent(Event{
			Timestamp: c.now(),
			Type:      "lockout_reset",
			Reason:    "operator command",
		})
		if err != nil {
			c.log.WithError(err).Error("lockout reset publish failed")
		}
	}
}

// HandleEmergency latches or releases the emergency stop. Latching
// clears every request without waiting for any lock and drops the
// machine into its error state.
func (c *Commands) HandleEmergency(payload []byte) {
	switch strings.TrimSpace(strings.ToLower(string(payload))) {
	case "stop", "on", "1":
		c.log.Error("command: EMERGENCY STOP")
		c.state.Set(demand.EmergencyStop)
		c.requests.EmergencyClearAll()
		c.machine.EmergencyStop("operator emergency stop")
	case "clear", "off", "reset", "0":
		c.log.Warn("command: emergency stop cleared")
		c.state.Clear(demand.EmergencyStop)
	default:
		c.log.WithField("payload", string(payload)).Warn("unknown emergency command")
	}
}
