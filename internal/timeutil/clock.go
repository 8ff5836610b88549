// Package timeutil abstracts the clock the collector reads when it stamps
// records, computes report cutoffs and drives the scheduler, so tests can
// step time by hand.
package timeutil

import (
	"math"
	"sync"
	"time"
)

// Clock is the time source shared by the scheduler and its tasks.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers periodic ticks. Like time.Ticker, a tick that is not
// received before the next one is due is dropped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// UnixSeconds returns t as fractional seconds since the epoch, the unit of a
// record's unix_time. The whole seconds and the fraction are converted
// separately so that exact fractions like .5 survive.
func UnixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromUnixSeconds is the inverse of UnixSeconds, to microsecond precision.
func FromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// MockClock only moves when Advance is called. Tickers created from it fire
// from Advance, at most once per call.
type MockClock struct {
	mu      sync.Mutex
	created *sync.Cond
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a MockClock reading start.
func NewMockClock(start time.Time) *MockClock {
	c := &MockClock{now: start}
	c.created = sync.NewCond(&c.mu)
	return c
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the clock forward by d and fires every ticker that has come
// due.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.fireIfDue(now)
	}
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &MockTicker{ch: make(chan time.Time, 1), interval: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, t)
	c.created.Broadcast()
	return t
}

// WaitForTickers blocks until n tickers exist. Tests call it before the first
// Advance so that a task loop cannot miss it.
func (c *MockClock) WaitForTickers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.tickers) < n {
		c.created.Wait()
	}
}

// MockTicker is the Ticker handed out by MockClock.
type MockTicker struct {
	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Trigger delivers a tick immediately, dropping it if one is pending.
func (t *MockTicker) Trigger(now time.Time) {
	t.send(now)
}

func (t *MockTicker) fireIfDue(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	t.send(now)
	t.next = now.Add(t.interval)
}

func (t *MockTicker) send(now time.Time) {
	select {
	case t.ch <- now:
	default:
	}
}
