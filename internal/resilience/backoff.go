// Package resilience holds the retry policy for list fetches and a
// cross-process rate-limit cooldown persisted to disk with file locking.
package resilience

import (
	"time"

	"github.com/taxdesk/taxdesk-cli/internal/output"
)

// Outcome classifies how one attempt ended.
type Outcome int

const (
	Success Outcome = iota
	RateLimited
	Transient
	Fatal
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an HTTP status and transport error to an Outcome.
// Status 0 means no response was received.
func Classify(status int, err error) Outcome {
	switch {
	case output.IsCanceled(err):
		return Canceled
	case status >= 200 && status <= 299 && err == nil:
		return Success
	case status == 429:
		return RateLimited
	case status >= 500:
		return Transient
	case status == 0 && err != nil:
		return Transient
	default:
		return Fatal
	}
}

// Delay returns the backoff after the given 0-indexed attempt.
// Outcomes that are never retried have no delay.
func (p Policy) Delay(o Outcome, attempt int) time.Duration {
	p = p.withDefaults()
	var ceiling time.Duration
	switch o {
	case RateLimited:
		ceiling = p.RateLimitCap
	case Transient:
		ceiling = p.TransientCap
	default:
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 30 {
		return ceiling
	}
	d := p.Base << attempt
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// Decision is the result of Policy.Next.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Next decides whether attempt should be followed by another one.
func (p Policy) Next(o Outcome, attempt int) Decision {
	p = p.withDefaults()
	if o != RateLimited && o != Transient {
		return Decision{}
	}
	if attempt+1 >= p.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.Delay(o, attempt)}
}

// Attempts returns the configured attempt budget.
func (p Policy) Attempts() int {
	return p.withDefaults().MaxAttempts
}
