package safety

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/demand"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/gpio"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/relay"
)

// Interlock reports the state of the external hardware safety chain
// (overheat thermostat, gas pressure switch and whatever else the
// installer put in series).
type Interlock interface {
	// Closed reports whether the chain is intact. A chain that
	// cannot be read must be reported open.
	Closed() (bool, error)
}

// GPIOInterlock reads the safety chain through the discrete input
// reader.
type GPIOInterlock struct {
	reader gpio.Reader
}

// NewGPIOInterlock wraps a discrete input reader.
func NewGPIOInterlock(r gpio.Reader) *GPIOInterlock {
	return &GPIOInterlock{reader: r}
}

// Closed reports whether the safety chain is intact.
func (g *GPIOInterlock) Closed() (bool, error) {
	st, err := g.reader.Read()
	if err != nil {
		return false, errors.Wrap(err, "read safety chain")
	}
	return st.InterlockClosed, nil
}

// AssumeClosedInterlock stands in when no interlock hardware is
// wired. It reports the chain closed and warns exactly once.
type AssumeClosedInterlock struct {
	log  *logrus.Entry
	once sync.Once
}

// NewAssumeClosedInterlock creates the stand-in.
func NewAssumeClosedInterlock(log *logrus.Entry) *AssumeClosedInterlock {
	return &AssumeClosedInterlock{log: log}
}

// Closed always reports the chain intact.
func (a *AssumeClosedInterlock) Closed() (bool, error) {
	a.once.Do(func() {
		a.log.Warn("no hardware interlock wired, assuming safety chain closed")
	})
	return true, nil
}

// FlowSensor measures circulation flow in l/min.
type FlowSensor interface {
	Rate() (float64, error)
}

// PumpVerifier corroborates pump operation for the validator.
type PumpVerifier interface {
	// PumpConsistent reports whether the pump relay is in the state
	// the system currently calls for.
	PumpConsistent(p relay.Pump) (bool, error)

	// FlowConfirmed reports whether water flow is corroborated while
	// the pump runs. Installations without a flow sensor report
	// true.
	FlowConfirmed(p relay.Pump) (bool, error)
}

// RelayPumpVerifier checks the pump relays against the pump states
// the blackboard calls for: the heating pump follows HeatingOn, the
// water pump follows WaterOn. A mismatch inside the pump startup
// grace period is tolerated, so a relay commanded a moment ago is not
// reported as failed before it had time to act.
type RelayPumpVerifier struct {
	driver relay.Driver
	state  *demand.State
	flow   FlowSensor
	grace  time.Duration
	noFlow float64
	now    func() time.Time

	mu       sync.Mutex
	expected [2]bool
	since    [2]time.Time
}

// NewRelayPumpVerifier builds a verifier on the relay driver's
// read-back. Pass a nil flow sensor when none is fitted.
func NewRelayPumpVerifier(d relay.Driver, st *demand.State, cfg Config, flow FlowSensor, now func() time.Time) *RelayPumpVerifier {
	v := &RelayPumpVerifier{
		driver: d,
		state:  st,
		flow:   flow,
		grace:  cfg.PumpStartupTime,
		noFlow: cfg.MinFlowRate,
		now:    now,
	}
	t := now()
	v.since[relay.PumpHeating] = t
	v.since[relay.PumpWater] = t
	return v
}

// PumpConsistent reports whether the pump relay matches the state the
// blackboard calls for.
func (v *RelayPumpVerifier) PumpConsistent(p relay.Pump) (bool, error) {
	out, err := v.driver.ReadBack()
	if err != nil {
		return false, errors.Wrap(err, "relay read-back")
	}

	var want, got bool
	switch p {
	case relay.PumpHeating:
		want = v.state.Test(demand.HeatingOn)
		got = out.HeatingPump
	case relay.PumpWater:
		want = v.state.Test(demand.WaterOn)
		got = out.WaterPump
	default:
		return false, errors.Errorf("unknown pump %d", p)
	}

	if v.settled(p, want) {
		return want == got, nil
	}
	// Still inside the startup grace period.
	return true, nil
}

// FlowConfirmed reports whether flow is corroborated for a running
// pump.
func (v *RelayPumpVerifier) FlowConfirmed(p relay.Pump) (bool, error) {
	if v.flow == nil {
		return true, nil
	}

	var want bool
	switch p {
	case relay.PumpHeating:
		want = v.state.Test(demand.HeatingOn)
	case relay.PumpWater:
		want = v.state.Test(demand.WaterOn)
	default:
		return false, errors.Errorf("unknown pump %d", p)
	}
	if !want || !v.settled(p, want) {
		// No flow expected from a pump that is off or still
		// spinning up.
		return true, nil
	}

	rate, err := v.flow.Rate()
	if err != nil {
		return false, errors.Wrap(err, "read flow sensor")
	}
	return rate >= v.noFlow, nil
}

// settled tracks when the called-for state last changed and reports
// whether the grace period since then has passed.
func (v *RelayPumpVerifier) settled(p relay.Pump, want bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.expected[p] != want {
		v.expected[p] = want
		v.since[p] = v.now()
		return false
	}
	return v.now().Sub(v.since[p]) >= v.grace
}
