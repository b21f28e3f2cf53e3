package scheduler

import (
	"time"
)

// Config controls maintenance intervals and per-job deadlines.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	// EnabledJobs limits which jobs a process runs. Empty means all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
