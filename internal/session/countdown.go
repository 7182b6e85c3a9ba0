package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Countdown is the only timeout authority of a session. It reports the
// remaining time every tick and fires onExpire exactly once at zero.
type Countdown struct {
	deadline Deadline
	tick     time.Duration
	now      func() time.Time
	onTick   func(remaining time.Duration)
	onExpire func()

	running atomic.Bool
	expire  sync.Once
	done    chan struct{}
}

func newCountdown(deadline Deadline, tick time.Duration, now func() time.Time, onTick func(time.Duration), onExpire func()) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	if onTick == nil {
		onTick = func(time.Duration) {}
	}
	return &Countdown{
		deadline: deadline,
		tick:     tick,
		now:      now,
		onTick:   onTick,
		onExpire: onExpire,
		done:     make(chan struct{}),
	}
}

// Remaining returns the time left now.
func (c *Countdown) Remaining() time.Duration {
	return c.deadline.Remaining(c.now())
}

// Run ticks until the deadline or until ctx is cancelled. A second call
// while one is running, or after one finished, returns immediately.
func (c *Countdown) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	defer close(c.done)

	if c.check() {
		return
	}

	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.check() {
				return
			}
		}
	}
}

// Done is closed when Run returns.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) check() bool {
	remaining := c.Remaining()
	c.onTick(remaining)
	if remaining > 0 {
		return false
	}
	c.expire.Do(c.onExpire)
	return true
}
