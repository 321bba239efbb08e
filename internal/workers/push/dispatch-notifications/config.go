// internal/workers/push/dispatch-notifications/config.go
package dispatchnotifications

import (
	"time"

	"push-dispatcher/internal/common/config"
)

// BatchLimit is the most jobs one invocation will claim.
const BatchLimit = config.DefaultBatchLimit

type Config struct {
	DefaultLimit      int
	MaxAttempts       int
	Concurrency       int
	LeaseTimeout      time.Duration
	JobTimeout        time.Duration
	DisableLeaseSweep bool
}

func LoadConfig(cfg config.DispatcherConfig) *Config {
	c := &Config{
		DefaultLimit:      cfg.DefaultLimit,
		MaxAttempts:       cfg.MaxAttempts,
		Concurrency:       cfg.Concurrency,
		LeaseTimeout:      config.GetDuration(cfg.LeaseTimeout),
		JobTimeout:        config.GetDuration(cfg.JobTimeout),
		DisableLeaseSweep: cfg.DisableLeaseSweep,
	}
	if c.DefaultLimit <= 0 || c.DefaultLimit > BatchLimit {
		c.DefaultLimit = BatchLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = config.DefaultMaxAttempts
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.DisableLeaseSweep = true
	}
	if floor := MinLeaseTimeout(c.Concurrency, c.JobTimeout); !c.DisableLeaseSweep && c.LeaseTimeout < floor {
		c.LeaseTimeout = floor
	}
	return c
}

// MinLeaseTimeout is the shortest lease that outlives a full batch: every
// wave of jobs waiting for a worker slot, plus one more job timeout for the
// write-back after the last wave.
func MinLeaseTimeout(concurrency int, jobTimeout time.Duration) time.Duration {
	waves := (BatchLimit + concurrency - 1) / concurrency
	return time.Duration(waves+1) * jobTimeout
}

// ClampLimit maps a requested batch size into [1, BatchLimit]. nil means
// "not given" and selects def; an explicit value below 1 becomes 1.
func ClampLimit(requested *int, def int) int {
	if requested == nil {
		return ClampLimit(&def, BatchLimit)
	}
	if *requested < 1 {
		return 1
	}
	if *requested > BatchLimit {
		return BatchLimit
	}
	return *requested
}
