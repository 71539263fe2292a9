package task

import (
	"time"

	"github.com/phrazzld/emplan-api/internal/config"
)

// Config tunes the worker loop and lease recovery.
type Config struct {
	WorkerCount       int
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	GenerationTimeout time.Duration
	RenderTimeout     time.Duration
	LeaseDuration     time.Duration
	SweepInterval     time.Duration
	MaxAttempts       int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount:       1,
		PollInterval:      10 * time.Second,
		ErrorBackoff:      30 * time.Second,
		GenerationTimeout: 5 * time.Minute,
		RenderTimeout:     time.Minute,
		LeaseDuration:     10 * time.Minute,
		SweepInterval:     time.Minute,
		MaxAttempts:       3,
	}
}

// ConfigFromQueue converts the queue section of the application config.
func ConfigFromQueue(cfg config.QueueConfig) Config {
	return Config{
		WorkerCount:       cfg.WorkerCount,
		PollInterval:      cfg.PollInterval,
		ErrorBackoff:      cfg.ErrorBackoff,
		GenerationTimeout: cfg.GenerationTimeout,
		RenderTimeout:     cfg.RenderTimeout,
		LeaseDuration:     cfg.LeaseDuration,
		SweepInterval:     cfg.SweepInterval,
		MaxAttempts:       cfg.MaxAttempts,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerCount <= 0 {
		c.WorkerCount = d.WorkerCount
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = d.RenderTimeout
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = d.LeaseDuration
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	return c
}
