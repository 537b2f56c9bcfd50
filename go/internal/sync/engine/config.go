package engine

import (
	"fmt"
	"time"

	"github.com/mcdev12/numguess/go/internal/sync/health"
	"github.com/mcdev12/numguess/go/internal/sync/ledger"
	"github.com/mcdev12/numguess/go/internal/sync/polling"
	"github.com/mcdev12/numguess/go/internal/sync/priority"
	"github.com/mcdev12/numguess/go/internal/sync/recovery"
)

// Timeouts are per request; an expired request counts as a network failure.
type Timeouts struct {
	Quick  time.Duration `yaml:"quick"`
	Full   time.Duration `yaml:"full"`
	Action time.Duration `yaml:"action"`
	Leave  time.Duration `yaml:"leave"`
}

// Config holds all engine tuning.
type Config struct {
	Polling         polling.Options          `yaml:"polling"`
	Recovery        recovery.Config          `yaml:"recovery"`
	Quality         health.QualityThresholds `yaml:"quality"`
	Timeouts        Timeouts                 `yaml:"timeouts"`
	PriorityWindow  time.Duration            `yaml:"priority_window"`
	LedgerRetention time.Duration            `yaml:"ledger_retention"`
	PurgeInterval   time.Duration            `yaml:"purge_interval"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Polling:  polling.DefaultOptions(),
		Recovery: recovery.DefaultConfig(),
		Quality:  health.DefaultQualityThresholds(),
		Timeouts: Timeouts{
			Quick:  3 * time.Second,
			Full:   5 * time.Second,
			Action: 8 * time.Second,
			Leave:  3 * time.Second,
		},
		PriorityWindow:  priority.DefaultWindow,
		LedgerRetention: ledger.DefaultRetention,
		PurgeInterval:   30 * time.Second,
	}
}

// Validate checks every nested config.
func (c Config) Validate() error {
	if err := c.Polling.Quick.Validate(); err != nil {
		return fmt.Errorf("polling.quick: %w", err)
	}
	if err := c.Polling.Full.Validate(); err != nil {
		return fmt.Errorf("polling.full: %w", err)
	}
	if err := c.Recovery.Validate(); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if c.Timeouts.Quick <= 0 || c.Timeouts.Full <= 0 || c.Timeouts.Action <= 0 || c.Timeouts.Leave <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("purge interval must be positive")
	}
	return nil
}
