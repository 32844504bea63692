package resilience

import (
	"time"
)

// Policy bounds the retry loop of a list fetch.
type Policy struct {
	// MaxAttempts is the total number of requests, including the first.
	// Default: 3
	MaxAttempts int

	// Base is the delay before the first retry. Each retry doubles it.
	// Default: 1 second
	Base time.Duration

	// RateLimitCap bounds the delay after a 429.
	// Default: 10 seconds
	RateLimitCap time.Duration

	// TransientCap bounds the delay after a network failure, timeout or 5xx.
	// Default: 5 seconds
	TransientCap time.Duration
}

// DefaultPolicy returns the policy used by the users service.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		Base:         time.Second,
		RateLimitCap: 10 * time.Second,
		TransientCap: 5 * time.Second,
	}
}

// WithMaxAttempts returns a copy of the policy with n attempts.
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// WithBase returns a copy of the policy with a different base delay.
func (p Policy) WithBase(d time.Duration) Policy {
	p.Base = d
	return p
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.RateLimitCap <= 0 {
		p.RateLimitCap = def.RateLimitCap
	}
	if p.TransientCap <= 0 {
		p.TransientCap = def.TransientCap
	}
	return p
}

// CooldownDuration is how long the cross-process cooldown stays armed after
// the attempt budget is spent on 429s.
func (p Policy) CooldownDuration() time.Duration {
	return p.withDefaults().RateLimitCap
}
