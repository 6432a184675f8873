package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the pausable 1-second countdown for one round. Ticks observed
// while paused are ignored; on reaching zero the expiry callback fires
// exactly once and the clock stops itself. Arm always stops the previous run
// first, so at most one ticker drives the round at any time.
//
// Time comes from a clockwork.Clock so tests drive it with a fake.
type Clock struct {
	clk      clockwork.Clock
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	remaining int
	max       int
	paused    bool
	running   bool
	expired   bool
	stop      chan struct{}
}

// NewClock builds a countdown. Both callbacks may be nil; they are invoked
// outside the clock's own lock, so they may call back into Pause/Resume/Stop.
func NewClock(clk clockwork.Clock, onTick func(remaining int), onExpire func()) *Clock {
	return &Clock{clk: clk, onTick: onTick, onExpire: onExpire}
}

// Arm resets remaining = max = maxSeconds and starts ticking.
func (c *Clock) Arm(maxSeconds int) {
	c.Stop()

	c.mu.Lock()
	c.remaining = maxSeconds
	c.max = maxSeconds
	c.paused = false
	c.expired = false
	c.running = true
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	go c.run(stop)
}

func (c *Clock) run(stop chan struct{}) {
	ticker := c.clk.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			c.mu.Lock()
			if !c.running || c.paused {
				c.mu.Unlock()
				continue
			}
			if c.remaining > 0 {
				c.remaining--
			}
			remaining := c.remaining
			expired := remaining == 0 && !c.expired
			if expired {
				c.expired = true
				c.running = false
			}
			c.mu.Unlock()

			if c.onTick != nil {
				c.onTick(remaining)
			}
			if expired {
				if c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}

// Pause freezes the countdown without resetting remaining.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume unfreezes the countdown. If remaining already reached zero while the
// expiry was suppressed, the expiry callback fires immediately instead of the
// clock silently staying dead.
func (c *Clock) Resume() {
	c.mu.Lock()
	c.paused = false
	expireNow := c.running && c.remaining == 0 && !c.expired
	if expireNow {
		c.expired = true
		c.running = false
	}
	c.mu.Unlock()

	if expireNow {
		c.Stop()
		if c.onExpire != nil {
			c.onExpire()
		}
	}
}

// Stop halts ticking and detaches the run goroutine. Idempotent.
func (c *Clock) Stop() {
	c.mu.Lock()
	c.running = false
	c.paused = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()
}

// Remaining reports seconds left, never negative.
func (c *Clock) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Max reports the armed duration.
func (c *Clock) Max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

// Running reports whether a countdown is armed and not yet expired or stopped.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Paused reports whether ticks are currently ignored.
func (c *Clock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}
