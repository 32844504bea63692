package resilience

import (
	"time"
)

// StateVersion is the current state schema version.
const StateVersion = 1

// State is the persisted cooldown state shared across taxdesk processes.
type State struct {
	Version   int           `json:"version"`
	Cooldown  CooldownState `json:"cooldown"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// CooldownState records a server-imposed pause after repeated 429s.
type CooldownState struct {
	// RetryAfterUntil is the earliest time a new request may be sent.
	RetryAfterUntil time.Time `json:"retry_after_until"`

	// Hits counts how many times the cooldown was armed since the last reset.
	Hits int `json:"hits,omitempty"`
}

// BlockedFor returns how long until the cooldown expires at now.
// Returns zero if not blocked.
func (c CooldownState) BlockedFor(now time.Time) time.Duration {
	if c.RetryAfterUntil.IsZero() {
		return 0
	}
	remaining := c.RetryAfterUntil.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Version: StateVersion}
}
