// Package tasks runs the controller's periodic loops. Each loop owns
// one concern: the burner loop drives the state machine, the
// temperature loop runs the cascade controller, and the outer heating,
// water, and pump loops turn sensor readings into burner requests and
// relay positions. Loops communicate only through the request mailbox,
// the state word, and the sensor store, so any of them can stall or
// restart without corrupting the others.
package tasks

import "time"

// Config holds the loop timing. The burner loop's tick is dynamic:
// flame management needs a fast cycle, an idle boiler does not.
type Config struct {
	// IdleTick is the burner loop period while idle or locked out.
	IdleTick time.Duration
	// FiringTick is the burner loop period from pre-purge through
	// flame supervision.
	FiringTick time.Duration
	// DefaultTick is the burner loop period everywhere else.
	DefaultTick time.Duration

	// TempInterval is the nominal period of the temperature loop. The
	// loop waits for boiler output updates and falls back to twice
	// this interval when none arrive.
	TempInterval time.Duration

	// HeatingInterval / WaterInterval pace the outer request loops.
	HeatingInterval time.Duration
	WaterInterval   time.Duration
	// PumpInterval paces the pump reconciliation loop.
	PumpInterval time.Duration

	// StatusInterval spaces the retained status publications.
	StatusInterval time.Duration

	// MaxRequestAge is the watchdog limit on unrefreshed requests.
	MaxRequestAge time.Duration
	// StaleWindow is how old the sensor snapshot may be before the
	// temperature loop coasts instead of controlling.
	StaleWindow time.Duration
}

// DefaultConfig returns the stock loop timing.
func DefaultConfig() Config {
	return Config{
		IdleTick:        3 * time.Second,
		FiringTick:      100 * time.Millisecond,
		DefaultTick:     time.Second,
		TempInterval:    2500 * time.Millisecond,
		HeatingInterval: 5 * time.Second,
		WaterInterval:   2 * time.Second,
		PumpInterval:    time.Second,
		StatusInterval:  30 * time.Second,
		MaxRequestAge:   10 * time.Minute,
		StaleWindow:     15 * time.Second,
	}
}
