package safety

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/sensors"
	"github.com/packerlschupfer/esp32-boiler-controller-sub002/internal/units"
)

// PreheatState is the preheater's lifecycle state.
type PreheatState int

const (
	// PreheatIdle means no preheat episode is in progress.
	PreheatIdle PreheatState = iota
	// Preheating means the pump is being cycled to warm the return.
	Preheating
	// PreheatComplete means the differential dropped below the safe
	// threshold.
	PreheatComplete
	// PreheatTimeout means the episode was abandoned after too many
	// cycles or too much time.
	PreheatTimeout
)

func (s PreheatState) String() string {
	switch s {
	case PreheatIdle:
		return "IDLE"
	case Preheating:
		return "PREHEATING"
	case PreheatComplete:
		return "COMPLETE"
	case PreheatTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// PreheatConfig tunes the return preheating episode.
type PreheatConfig struct {
	// Enabled gates the whole feature; disabled installations report
	// immediate completion so ignition is not blocked.
	Enabled bool
	// SafeDifferential is the boiler output minus return spread below
	// which ignition no longer risks thermal shock.
	SafeDifferential units.Temp
	// MaxCycles bounds the number of pump ON/OFF cycles per episode.
	MaxCycles int
	// Timeout bounds the whole episode.
	Timeout time.Duration
	// PumpMinChange is the minimum spacing between pump relay edges.
	PumpMinChange time.Duration
	// OffMultiplier scales the OFF phases: 5 = 1x, 10 = 2x, 1 = 0.2x.
	OffMultiplier int
}

// DefaultPreheatConfig returns the stock preheat tuning.
func DefaultPreheatConfig() PreheatConfig {
	return PreheatConfig{
		Enabled:          true,
		SafeDifferential: units.TempFromWhole(25),
		MaxCycles:        8,
		Timeout:          10 * time.Minute,
		PumpMinChange:    3 * time.Second,
		OffMultiplier:    5,
	}
}

// Progressive pump phases: ON grows and OFF shrinks as the return
// warms up, mixing ever more boiler water into the cold loop.
var (
	preheatOn  = []time.Duration{3 * time.Second, 5 * time.Second, 8 * time.Second, 12 * time.Second, 15 * time.Second}
	preheatOff = []time.Duration{25 * time.Second, 20 * time.Second, 15 * time.Second, 10 * time.Second, 5 * time.Second}
)

// Preheater warms a cold return line by pulsing the heating pump
// before ignition, so hot boiler water never meets a cold heat
// exchanger. It only advises: PumpShouldRun feeds the pump control
// loop, which stays the single owner of the heating pump relay.
type Preheater struct {
	cfg   PreheatConfig
	store *sensors.Store
	log   *logrus.Entry
	now   func() time.Time

	mu             sync.Mutex
	state          PreheatState
	cycle          int
	cycleStart     time.Time
	episodeStart   time.Time
	pumpOn         bool
	lastPumpChange time.Time
}

// NewPreheater builds an idle preheater over the sensor store.
func NewPreheater(cfg PreheatConfig, store *sensors.Store, log *logrus.Entry, now func() time.Time) *Preheater {
	return &Preheater{
		cfg:   cfg,
		store: store,
		log:   log,
		now:   now,
	}
}

// Start begins a preheat episode. Returns false when one is already
// running. Reports immediate completion when preheating is disabled
// or the differential is already safe.
func (p *Preheater) Start() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Preheating {
		p.log.Warn("already preheating")
		return false
	}

	if !p.cfg.Enabled {
		p.log.Info("preheating disabled, skipping")
		p.state = PreheatComplete
		return true
	}

	diff := p.differential()
	if p.differentialSafe(diff) {
		p.log.WithField("differential", diff.String()).
			Info("differential already safe, no preheating needed")
		p.state = PreheatComplete
		return true
	}

	now := p.now()
	p.state = Preheating
	p.cycle = 1
	p.episodeStart = now
	p.cycleStart = now
	p.pumpOn = true
	p.lastPumpChange = now

	p.log.WithFields(logrus.Fields{
		"differential": diff.String(),
		"cycle":        p.cycle,
	}).Info("starting return preheating")

	return true
}

// Update advances the episode and reports whether it has finished.
// Call it every control cycle while a preheat is in progress.
func (p *Preheater) Update() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Preheating {
		return p.state == PreheatComplete || p.state == PreheatTimeout
	}

	now := p.now()

	if elapsed := now.Sub(p.episodeStart); elapsed > p.cfg.Timeout {
		p.log.WithField("elapsed", elapsed).Warn("preheating timeout")
		p.pumpOn = false
		p.state = PreheatTimeout
		return true
	}

	if p.cycle > p.cfg.MaxCycles {
		p.log.WithField("max_cycles", p.cfg.MaxCycles).Warn("max preheating cycles reached")
		p.pumpOn = false
		p.state = PreheatTimeout
		return true
	}

	diff := p.differential()
	if p.differentialSafe(diff) {
		p.log.WithFields(logrus.Fields{
			"differential": diff.String(),
			"cycles":       p.cycle,
		}).Info("preheating complete")
		p.pumpOn = false
		p.state = PreheatComplete
		return true
	}

	cycleElapsed := now.Sub(p.cycleStart)
	if p.pumpOn {
		if cycleElapsed >= p.onDuration(p.cycle) && now.Sub(p.lastPumpChange) >= p.cfg.PumpMinChange {
			p.pumpOn = false
			p.cycleStart = now
			p.lastPumpChange = now
			p.log.WithFields(logrus.Fields{
				"cycle": p.cycle,
				"off":   p.offDuration(p.cycle),
			}).Debug("pump off phase")
		}
	} else {
		if cycleElapsed >= p.offDuration(p.cycle) && now.Sub(p.lastPumpChange) >= p.cfg.PumpMinChange {
			p.cycle++
			if p.cycle <= p.cfg.MaxCycles {
				p.pumpOn = true
				p.cycleStart = now
				p.lastPumpChange = now
				p.log.WithFields(logrus.Fields{
					"cycle":        p.cycle,
					"on":           p.onDuration(p.cycle),
					"differential": diff.String(),
				}).Debug("pump on phase")
			}
		}
	}

	return false
}

// Stop aborts a running episode and returns the preheater to idle.
func (p *Preheater) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Preheating {
		p.log.Info("preheating stopped")
	}
	p.state = PreheatIdle
	p.cycle = 0
	p.pumpOn = false
}

// Reset clears all episode bookkeeping.
func (p *Preheater) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = PreheatIdle
	p.cycle = 0
	p.pumpOn = false
	p.cycleStart = time.Time{}
	p.episodeStart = time.Time{}
	p.lastPumpChange = time.Time{}
}

// State returns the lifecycle state.
func (p *Preheater) State() PreheatState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done reports whether the episode has finished, either way.
func (p *Preheater) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == PreheatComplete || p.state == PreheatTimeout
}

// Succeeded reports whether the episode brought the differential down.
func (p *Preheater) Succeeded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == PreheatComplete
}

// Cycle returns the running cycle number, or zero when idle.
func (p *Preheater) Cycle() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Preheating {
		return 0
	}
	return p.cycle
}

// Progress estimates episode progress in percent, by cycles used.
func (p *Preheater) Progress() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case PreheatIdle:
		return 0
	case PreheatComplete, PreheatTimeout:
		return 100
	}
	if p.cfg.MaxCycles == 0 {
		return 0
	}
	progress := p.cycle * 100 / p.cfg.MaxCycles
	if progress > 100 {
		progress = 100
	}
	return progress
}

// PumpShouldRun reports whether the heating pump should currently be
// on for preheating. The pump control loop merges this with the
// regular circulation demand.
func (p *Preheater) PumpShouldRun() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == Preheating && p.pumpOn
}

func (p *Preheater) onDuration(cycle int) time.Duration {
	if cycle > len(preheatOn) {
		return preheatOn[len(preheatOn)-1]
	}
	return preheatOn[cycle-1]
}

func (p *Preheater) offDuration(cycle int) time.Duration {
	base := preheatOff[len(preheatOff)-1]
	if cycle <= len(preheatOff) {
		base = preheatOff[cycle-1]
	}
	return base * time.Duration(p.cfg.OffMultiplier) / 5
}

// differential returns boiler output minus return, or an invalid
// temperature when either reading is missing.
func (p *Preheater) differential() units.Temp {
	r := p.store.Snapshot()
	return r.BoilerOutput.Sub(r.BoilerReturn)
}

// differentialSafe treats an unknown differential as unsafe.
func (p *Preheater) differentialSafe(diff units.Temp) bool {
	return diff.Less(p.cfg.SafeDifferential)
}
