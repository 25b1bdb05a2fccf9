package burner

import (
	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/gpio"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
)

// FlameSensor reports whether the burner flame is established.
type FlameSensor interface {
	// Detected reports flame presence. An unreadable sensor returns
	// an error; callers treat that as flame lost.
	Detected() (bool, error)
}

// ProxySensor infers flame from the burner relay lines. Burners in
// this installation class expose no flame signal, so a driven enable
// or water relay is read back as a lit burner. A relay that did not
// follow its command still shows up as flame lost.
type ProxySensor struct {
	driver relay.Driver
}

// NewProxySensor builds the relay read-back proxy.
func NewProxySensor(driver relay.Driver, log *logrus.Entry) *ProxySensor {
	log.Info("no flame detector wired, inferring flame from the burner relays")
	return &ProxySensor{driver: driver}
}

func (s *ProxySensor) Detected() (bool, error) {
	out, err := s.driver.ReadBack()
	if err != nil {
		return false, err
	}
	return !out.Burner.Off(), nil
}

// GPIOSensor reads a discrete flame detector input.
type GPIOSensor struct {
	reader gpio.Reader
}

// NewGPIOSensor builds the flame sensor over the discrete input
// reader.
func NewGPIOSensor(reader gpio.Reader) *GPIOSensor {
	return &GPIOSensor{reader: reader}
}

func (s *GPIOSensor) Detected() (bool, error) {
	st, err := s.reader.Read()
	if err != nil {
		return false, err
	}
	return st.Flame, nil
}
