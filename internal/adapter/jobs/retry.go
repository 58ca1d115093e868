// Package jobs schedules ingestion runs, either in-process or on Temporal.
package jobs

import (
	"math"
	"time"

	"github.com/arturoeanton/codelens-ingest/pkg/config"
)

// RetryPolicy bounds how often and how fast a failed run is re-attempted.
type RetryPolicy struct {
	MaxAttempts    int           `json:"maxAttempts"`
	InitialBackoff time.Duration `json:"initialBackoff"`
	MaxBackoff     time.Duration `json:"maxBackoff"`
	Factor         float64       `json:"factor"`
}

// DefaultRetryPolicy is 3 attempts, 1s initial backoff doubling up to 30s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
	Factor:         2,
}

// PolicyFromConfig reads the job retry settings, falling back to
// DefaultRetryPolicy for unset values.
func PolicyFromConfig(cfg *config.Config) RetryPolicy {
	p := DefaultRetryPolicy
	if cfg.JobMaxAttempts > 0 {
		p.MaxAttempts = cfg.JobMaxAttempts
	}
	if cfg.JobInitialBackoff > 0 {
		p.InitialBackoff = cfg.JobInitialBackoff
	}
	if cfg.JobMaxBackoff > 0 {
		p.MaxBackoff = cfg.JobMaxBackoff
	}
	if cfg.JobBackoffFactor >= 1 {
		p.Factor = cfg.JobBackoffFactor
	}
	return p
}

// Backoff returns the wait before the given attempt (2 is the first retry).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Factor, float64(attempt-2))
	if d > float64(p.MaxBackoff) || math.IsInf(d, 0) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}
