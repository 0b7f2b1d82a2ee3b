package workmanager

import (
	"sort"
	"sync"
	"time"
)

// region Clock

type Timer interface {
	Stop() bool
}

// Clock abstracts the wall clock and timers so scheduling code can run against a
// manual clock in tests
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// endregion Clock

// region ManualClock

// ManualClock only moves when Advance or Set is called. Timers which become due fire
// synchronously, in deadline order, on the goroutine which moved the clock.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	clock    *ManualClock
	deadline time.Time
	seq      int
	f        func()
	stopped  bool
}

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{clock: c, deadline: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func (c *ManualClock) Set(now time.Time) {
	for {
		c.mu.Lock()
		if now.Before(c.now) {
			now = c.now
		}
		t := c.nextDueLocked(now)
		if t == nil {
			c.now = now
			c.mu.Unlock()
			return
		}
		if t.deadline.After(c.now) {
			c.now = t.deadline
		}
		t.stopped = true
		c.removeLocked(t)
		c.mu.Unlock()

		t.f()
	}
}

// Pending returns the number of timers which did not fire nor were stopped yet
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *ManualClock) nextDueLocked(now time.Time) *manualTimer {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	if len(c.timers) == 0 || c.timers[0].deadline.After(now) {
		return nil
	}
	return c.timers[0]
}

func (c *ManualClock) removeLocked(t *manualTimer) {
	for i, timer := range c.timers {
		if timer == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.clock.removeLocked(t)
	return true
}

// endregion ManualClock
