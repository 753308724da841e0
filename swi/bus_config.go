package swi

import (
	"errors"
	"fmt"
	"time"

	"github.com/jjsch-dev/go-swi/logger"
)

// MemorySize is the addressable byte range of the emulated EEPROM.
const MemorySize = 128

// DefaultSettleDelay is the inter-phase delay between addressing a device
// and re-addressing it with read intent, and again after the read. Giving
// the EEPROM this extra time reduces read errors.
const DefaultSettleDelay = 500 * time.Microsecond

// BusConfig holds all configuration for a single-wire Bus.
type BusConfig struct {
	line Line
	wait Waiter

	// profile is the initial timing profile; it can be swapped at runtime
	// via Bus.SetSpeed.
	profile Profile

	// settleDelay paces the read phases of multi-command operations.
	settleDelay time.Duration

	logger logger.Logger
}

// NewBusConfig creates a new bus configuration for the given line.
//
// opts are functional options applied in order; see With* functions.
func NewBusConfig(line Line, opts ...BusOption) (*BusConfig, error) {
	if line == nil {
		return nil, errors.New("swi: line is nil")
	}

	cfg := &BusConfig{
		line:        line,
		wait:        SpinWaiter{},
		profile:     ProfilePrusa,
		settleDelay: DefaultSettleDelay,
		logger:      logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Profile returns the configured initial timing profile.
func (cfg *BusConfig) Profile() Profile { return cfg.profile }

// SettleDelay returns the configured inter-phase settle delay.
func (cfg *BusConfig) SettleDelay() time.Duration { return cfg.settleDelay }

// GetLogger returns the configured logger.
func (cfg *BusConfig) GetLogger() logger.Logger { return cfg.logger }

// --- BusOption ---

// BusOption is a functional option for configuring a BusConfig.
type BusOption interface {
	apply(*BusConfig) error
}

type busOptFunc func(*BusConfig) error

func (f busOptFunc) apply(cfg *BusConfig) error { return f(cfg) }

// WithProfile sets the initial timing profile. The profile must satisfy
// Profile.Validate.
func WithProfile(p Profile) BusOption {
	return busOptFunc(func(cfg *BusConfig) error {
		if err := p.Validate(); err != nil {
			return err
		}
		cfg.profile = p

		return nil
	})
}

// WithWaiter sets the delay primitive used for all timed operations,
// including the dispatch-side settle delays. The default is SpinWaiter.
func WithWaiter(w Waiter) BusOption {
	return busOptFunc(func(cfg *BusConfig) error {
		if w == nil {
			return errors.New("swi: waiter must not be nil")
		}
		cfg.wait = w

		return nil
	})
}

// WithSettleDelay sets the inter-phase settle delay for read operations.
func WithSettleDelay(d time.Duration) BusOption {
	return busOptFunc(func(cfg *BusConfig) error {
		if d < 0 {
			return fmt.Errorf("swi: settle delay %v must not be negative", d)
		}
		cfg.settleDelay = d

		return nil
	})
}

// WithLogger sets the logger for the bus.
func WithLogger(l logger.Logger) BusOption {
	return busOptFunc(func(cfg *BusConfig) error {
		if l == nil {
			return errors.New("swi: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
