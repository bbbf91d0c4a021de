package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/shopassist/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval      time.Duration
	CleanupBatchSize int
	JobTimeout       time.Duration
	RefreshTimeout   time.Duration
	// EnabledJobs limits the run to the named jobs. Empty enables all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		CleanupBatchSize: 100,
		JobTimeout:       30 * time.Second,
		RefreshTimeout:   5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.RunInterval = cfg.SchedulerInterval
	for _, job := range strings.Split(cfg.SchedulerJobs, ",") {
		if job = strings.TrimSpace(job); job != "" {
			c.EnabledJobs = append(c.EnabledJobs, job)
		}
	}
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.CleanupBatchSize <= 0 {
		c.CleanupBatchSize = defaults.CleanupBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = defaults.RefreshTimeout
	}
	return c
}
