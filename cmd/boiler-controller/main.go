// Command boiler-controller runs the burner safety controller: it
// consumes sensor readings and commands over MQTT, drives the burner
// through its firing sequence, and serves status over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/antiflap"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/burner"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/control"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/gpio"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/mqtt"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/safety"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/status"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/tasks"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/web"
)

// estopPollInterval is how often the hardware emergency stop input is
// sampled. The button latches in software, so a press between samples
// is never lost once seen.
const estopPollInterval = 100 * time.Millisecond

func main() {
	broker := flag.String("broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	clientID := flag.String("client-id", "boiler-controller", "MQTT client ID")
	httpAddr := flag.String("http", ":8080", "HTTP status address (empty to disable)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	chip := flag.String("gpio-chip", gpio.DefaultChip, "GPIO character device")
	pinInterlock := flag.Int("pin-interlock", gpio.PinInterlock, "BCM pin for the safety chain sense")
	pinEStop := flag.Int("pin-estop", gpio.PinEmergencyStop, "BCM pin for the emergency stop button")
	pinFlame := flag.Int("pin-flame", gpio.PinFlame, "BCM pin for the flame detector (-1 if not wired)")
	fakeHardware := flag.Bool("fake-hardware", false, "run against fake relays and inputs (bench mode)")
	waterPriority := flag.Bool("water-priority", true, "water heating preempts space heating")

	flag.Parse()

	log := logrus.New()
	log.SetLevel(parseLogLevel(*logLevel))

	if err := run(log, *broker, *clientID, *httpAddr, *chip,
		*pinInterlock, *pinEStop, *pinFlame, *fakeHardware, *waterPriority); err != nil {
		log.WithError(err).Fatal("fatal")
	}
}

func run(log *logrus.Logger, broker, clientID, httpAddr, chip string,
	pinInterlock, pinEStop, pinFlame int, fakeHardware, waterPriority bool) error {
	now := time.Now
	cfg := tasks.DefaultConfig()

	state := demand.NewState()
	state.Set(demand.BoilerEnabled | demand.HeatingEnabled | demand.WaterEnabled)
	if waterPriority {
		state.Set(demand.WaterPriority)
	}

	store := sensors.NewStore(log.WithField("component", "sensors"), now)
	gate := antiflap.NewGate(antiflap.DefaultConfig(), now)
	requests := demand.NewManager(demand.DefaultConfig(), state, log.WithField("component", "demand"), now)

	// Hardware. Bench mode swaps every pin for a fake.
	var (
		driver    relay.Driver
		reader    gpio.Reader
		interlock safety.Interlock
		flame     burner.FlameSensor
	)
	if fakeHardware {
		log.Warn("fake hardware mode, no relays will switch")
		fd := relay.NewFakeDriver()
		driver = fd
		interlock = safety.NewAssumeClosedInterlock(log.WithField("component", "safety"))
		flame = burner.NewProxySensor(fd, log.WithField("component", "burner"))
	} else {
		gd, err := relay.NewGPIODriver(chip, relay.DefaultPins())
		if err != nil {
			return errors.Wrap(err, "init relays")
		}
		driver = gd

		reader, err = gpio.NewRealReader(chip, pinInterlock, pinEStop, pinFlame)
		if err != nil {
			return errors.Wrap(err, "init inputs")
		}
		defer reader.Close()

		interlock = safety.NewGPIOInterlock(reader)
		if reader.HasFlame() {
			flame = burner.NewGPIOSensor(reader)
		} else {
			flame = burner.NewProxySensor(driver, log.WithField("component", "burner"))
		}
	}
	defer driver.Close()
	// Whatever happens on the way out, leave the plant de-energized.
	defer driver.AllOff()

	safetyCfg := safety.DefaultConfig()
	verifier := safety.NewRelayPumpVerifier(driver, state, safetyCfg, nil, now)
	validator := safety.NewValidator(state, interlock, verifier, now)
	preheater := safety.NewPreheater(safety.DefaultPreheatConfig(), store, log.WithField("component", "preheat"), now)

	machine := burner.NewMachine(burner.DefaultConfig(), safetyCfg, burner.Deps{
		Driver:    driver,
		Gate:      gate,
		Validator: validator,
		Interlock: interlock,
		Sensors:   store,
		State:     state,
		Requests:  requests,
		Flame:     flame,
	}, log.WithField("component", "burner"), now)

	controller := control.NewController(control.DefaultConfig(), gate, requests, log.WithField("component", "control"), now)

	tracker := status.NewTracker(status.Config{
		Broker:   broker,
		HTTPAddr: httpAddr,
		BaseTick: cfg.DefaultTick,
	}, now)

	// MQTT. A dead broker is not fatal: the controller keeps heating
	// on its own and the client reconnects in the background.
	var publisher mqtt.Publisher
	client, err := mqtt.NewClient(broker, clientID, log.WithField("component", "mqtt"))
	if err != nil {
		log.WithError(err).Error("broker unavailable, running standalone")
	} else {
		defer client.Close()
		publisher = client

		commands := mqtt.NewCommands(state, requests, machine, controller, store,
			client, log.WithField("component", "commands"), now)
		if err := commands.Bind(client); err != nil {
			log.WithError(err).Error("command subscribe failed")
		}
		intake := mqtt.NewIntake(store, log.WithField("component", "intake"))
		if err := intake.Bind(client); err != nil {
			log.WithError(err).Error("sensor subscribe failed")
		}
		tracker.SetMQTTConnected(client.IsConnected())
	}

	if httpAddr != "" {
		registry := prometheus.NewRegistry()
		web.NewMetrics(registry, tracker)
		srv := web.New(httpAddr, tracker, registry)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server failed")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", httpAddr).Info("http status server listening")
	}

	publishSystem(publisher, tracker, log, "STARTUP", "")
	log.WithFields(logrus.Fields{
		"broker":         broker,
		"water_priority": waterPriority,
		"fake_hardware":  fakeHardware,
	}).Info("started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	loops := []interface{ Run(context.Context) }{
		tasks.NewBurnerLoop(cfg, machine, requests, state, store, validator, preheater,
			tracker, publisher, log.WithField("component", "burner-loop"), now),
		tasks.NewTempLoop(cfg, controller, machine, requests, store,
			tracker, publisher, log.WithField("component", "temp-loop"), now),
		tasks.NewHeatingLoop(cfg, tasks.DefaultHeatingConfig(), requests, state, store,
			log.WithField("component", "heating-loop"), now),
		tasks.NewWaterLoop(cfg, tasks.DefaultWaterConfig(), requests, state, store,
			log.WithField("component", "water-loop"), now),
		tasks.NewPumpLoop(cfg, driver, state, preheater,
			log.WithField("component", "pump-loop"), now),
	}
	for _, l := range loops {
		wg.Add(1)
		go func(l interface{ Run(context.Context) }) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}

	if reader != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchEmergencyStop(ctx, reader, state, requests, machine, log.WithField("component", "estop"))
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	log.WithField("signal", s).Info("shutting down")

	publishSystem(publisher, tracker, log, "SHUTDOWN", signalName(s))
	cancel()
	wg.Wait()
	return nil
}

// watchEmergencyStop latches the software emergency stop from the
// hardware button. The latch is one-way; releasing it takes an
// explicit operator command.
func watchEmergencyStop(ctx context.Context, reader gpio.Reader, state *demand.State,
	requests *demand.Manager, machine *burner.Machine, log *logrus.Entry) {
	ticker := time.NewTicker(estopPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		st, err := reader.Read()
		if err != nil {
			log.WithError(err).Warn("emergency stop read failed")
			continue
		}
		if st.EmergencyStop && !state.Test(demand.EmergencyStop) {
			log.Error("hardware emergency stop pressed")
			state.Set(demand.EmergencyStop)
			requests.EmergencyClearAll()
			machine.EmergencyStop("hardware emergency stop")
		}
	}
}

func publishSystem(publisher mqtt.Publisher, tracker *status.Tracker, log *logrus.Logger, event, reason string) {
	if publisher == nil {
		return
	}
	snap := tracker.Snapshot()
	err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		log.WithError(err).WithField("event", event).Error("system event publish failed")
		return
	}
	log.WithField("event", event).Info("system event published")
}

func parseLogLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
