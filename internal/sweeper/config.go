package sweeper

import (
	"strings"
	"time"
)

// Config controls sweep intervals, batch sizes and recovery thresholds.
type Config struct {
	RunInterval time.Duration
	BatchSize   int

	// UnresolvedThreshold is how long an in_flight or unknown line must sit
	// untouched before the reconciliation sweep picks it up. It has to
	// exceed the provisioning call timeout or the sweep races the
	// orchestrator.
	UnresolvedThreshold time.Duration

	// FailAfter bounds how long an unverifiable line may stay unresolved
	// before it is declared failed.
	FailAfter time.Duration

	// EnabledJobs restricts which sweeps run; empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Minute,
		BatchSize:           50,
		UnresolvedThreshold: 5 * time.Minute,
		FailAfter:           24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.UnresolvedThreshold <= 0 {
		c.UnresolvedThreshold = defaults.UnresolvedThreshold
	}
	if c.FailAfter <= 0 {
		c.FailAfter = defaults.FailAfter
	}
	return c
}

func (c Config) isJobEnabled(name string) bool {
	if len(c.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range c.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}
