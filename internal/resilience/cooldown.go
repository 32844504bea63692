package resilience

import (
	"time"

	"github.com/taxdesk/taxdesk-cli/internal/clock"
)

// Cooldown blocks new list fetches across processes after the server kept
// answering 429. Every method fails open: a broken state file never blocks
// a request.
type Cooldown struct {
	store *Store
	clock clock.Clock
}

// NewCooldown creates a cooldown persisted in store.
func NewCooldown(store *Store, clk clock.Clock) *Cooldown {
	if clk == nil {
		clk = clock.New()
	}
	return &Cooldown{store: store, clock: clk}
}

// Remaining returns how long requests stay blocked. Zero means allowed.
func (c *Cooldown) Remaining() time.Duration {
	if c == nil {
		return 0
	}
	state, err := c.store.Load()
	if err != nil {
		return 0
	}
	return state.Cooldown.BlockedFor(c.clock.Now())
}

// Arm blocks requests for d. An existing longer block is kept.
func (c *Cooldown) Arm(d time.Duration) error {
	if c == nil || d <= 0 {
		return nil
	}
	now := c.clock.Now()
	until := now.Add(d)
	return c.store.Update(func(state *State) error {
		if until.After(state.Cooldown.RetryAfterUntil) {
			state.Cooldown.RetryAfterUntil = until
		}
		state.Cooldown.Hits++
		state.UpdatedAt = now
		return nil
	})
}

// Reset lifts any active block and forgets the hit count.
func (c *Cooldown) Reset() error {
	if c == nil {
		return nil
	}
	return c.store.Clear()
}
