// Package retry decides what happens to a failed notification: another
// attempt after a backoff, or the dead-letter set.
package retry

import (
	"math"
	"time"
)

// Policy bounds retries. Zero fields take the defaults.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      float64       `yaml:"jitter"`
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   30 * time.Second,
		MaxDelay:    30 * time.Minute,
		Jitter:      0.1,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Backoff returns min(base * 2^(n-1) * (1 + jitter*r), maxDelay) for the
// n-th failed attempt, n >= 1. r is a random sample in [0, 1).
func (p Policy) Backoff(n int, r float64) time.Duration {
	if n < 1 {
		n = 1
	}
	factor := math.Pow(2, float64(n-1)) * (1 + p.Jitter*r)
	d := float64(p.BaseDelay) * factor
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether attempts have used up the budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
