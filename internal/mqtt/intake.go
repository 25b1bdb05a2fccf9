package mqtt

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// Intake feeds the sensor store from the acquisition units' topics.
// Payloads are plain decimal degrees ("70.5") or bar ("1.85"); the
// store applies its own plausibility checks, so a malformed or absurd
// payload invalidates the channel instead of poisoning control.
type Intake struct {
	store *sensors.Store
	log   *logrus.Entry
}

// NewIntake wires the intake to the store.
func NewIntake(store *sensors.Store, log *logrus.Entry) *Intake {
	return &Intake{store: store, log: log}
}

// Bind subscribes every sensor topic.
func (i *Intake) Bind(sub Subscriber) error {
	topics := []string{
		TopicSensorBoilerOutput,
		TopicSensorBoilerReturn,
		TopicSensorWaterTank,
		TopicSensorOutside,
		TopicSensorRoom,
		TopicSensorPressure,
	}
	for _, topic := range topics {
		if err := sub.Subscribe(topic, i.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle routes one sensor message to its channel.
func (i *Intake) Handle(topic string, payload []byte) {
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		i.log.WithFields(logrus.Fields{
			"topic":   topic,
			"payload": string(payload),
		}).Warn("malformed sensor payload")
		// Invalidate the channel: a sensor unit sending garbage must
		// not leave a stale good value looking fresh.
		i.invalidate(topic)
		return
	}

	switch topic {
	case TopicSensorBoilerOutput:
		i.store.SetBoilerOutput(units.TempFromFloat(value))
	case TopicSensorBoilerReturn:
		i.store.SetBoilerReturn(units.TempFromFloat(value))
	case TopicSensorWaterTank:
		i.store.SetWaterTank(units.TempFromFloat(value))
	case TopicSensorOutside:
		i.store.SetOutside(units.TempFromFloat(value))
	case TopicSensorRoom:
		i.store.SetRoom(units.TempFromFloat(value))
	case TopicSensorPressure:
		i.store.SetPressure(units.PressureFromFloat(value))
	default:
		i.log.WithField("topic", topic).Warn("unknown sensor topic")
	}
}

// invalidate marks the channel for a malformed payload.
func (i *Intake) invalidate(topic string) {
	switch topic {
	case TopicSensorBoilerOutput:
		i.store.SetBoilerOutput(units.TempInvalid)
	case TopicSensorBoilerReturn:
		i.store.SetBoilerReturn(units.TempInvalid)
	case TopicSensorWaterTank:
		i.store.SetWaterTank(units.TempInvalid)
	case TopicSensorOutside:
		i.store.SetOutside(units.TempInvalid)
	case TopicSensorRoom:
		i.store.SetRoom(units.TempInvalid)
	case TopicSensorPressure:
		i.store.SetPressure(units.PressureInvalid)
	}
}
