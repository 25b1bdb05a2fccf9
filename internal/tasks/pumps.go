package tasks

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/safety"
)

// PumpLoop is the single owner of the pump and alarm relays. It
// reconciles them from the run-state bits every cycle, so pumps keep
// circulating while the burner coasts and an emergency stop drops
// everything on the next tick. The preheater's advice is merged in;
// it never touches the relay itself.
type PumpLoop struct {
	cfg       Config
	driver    relay.Driver
	state     *demand.State
	preheater *safety.Preheater
	log       *logrus.Entry
	now       func() time.Time

	heating bool
	water   bool
	alarm   bool
	applied bool
}

// NewPumpLoop wires the loop.
func NewPumpLoop(cfg Config, driver relay.Driver, state *demand.State, preheater *safety.Preheater, log *logrus.Entry, now func() time.Time) *PumpLoop {
	return &PumpLoop{
		cfg:       cfg,
		driver:    driver,
		state:     state,
		preheater: preheater,
		log:       log,
		now:       now,
	}
}

// Run blocks until ctx is cancelled. Pumps are switched off on exit.
func (l *PumpLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return
		case <-ticker.C:
		}
		l.step()
	}
}

func (l *PumpLoop) step() {
	bits := l.state.Snapshot()

	heating := bits&demand.HeatingOn != 0
	water := bits&demand.WaterOn != 0
	alarm := bits&demand.EmergencyStop != 0 || bits&demand.BurnerError != 0

	if bits&demand.EmergencyStop != 0 {
		heating, water = false, false
	} else if l.preheater.PumpShouldRun() {
		heating = true
	}

	if !l.applied || heating != l.heating {
		if err := l.driver.SetPump(relay.PumpHeating, heating); err != nil {
			l.log.WithError(err).Error("heating pump switch failed")
		} else {
			l.heating = heating
			l.log.WithField("on", heating).Info("heating pump")
		}
	}
	if !l.applied || water != l.water {
		if err := l.driver.SetPump(relay.PumpWater, water); err != nil {
			l.log.WithError(err).Error("water pump switch failed")
		} else {
			l.water = water
			l.log.WithField("on", water).Info("water pump")
		}
	}
	if !l.applied || alarm != l.alarm {
		if err := l.driver.SetAlarm(alarm); err != nil {
			l.log.WithError(err).Error("alarm switch failed")
		} else {
			l.alarm = alarm
			if alarm {
				l.log.Warn("alarm output on")
			}
		}
	}
	l.applied = true
}

func (l *PumpLoop) shutdown() {
	if err := l.driver.SetPump(relay.PumpHeating, false); err != nil {
		l.log.WithError(err).Error("heating pump shutdown failed")
	}
	if err := l.driver.SetPump(relay.PumpWater, false); err != nil {
		l.log.WithError(err).Error("water pump shutdown failed")
	}
	l.heating, l.water = false, false
}
