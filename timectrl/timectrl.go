// Package timectrl provides the periodic tick source that drives retries of
// unconfigured links and traffic statistics reporting.
package timectrl

import (
	"context"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// TickSource emits ticks at a fixed interval and notifies registered
// listeners on each one.
type TickSource struct {
	mu       sync.RWMutex
	clock    clock.Clock
	interval time.Duration

	listeners []func(time.Time)
}

// NewTickSource constructs a tick source. A nil clk uses the wall clock.
func NewTickSource(clk clock.Clock, interval time.Duration) *TickSource {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &TickSource{clock: clk, interval: interval}
}

// Now returns the current time of the underlying clock.
func (ts *TickSource) Now() time.Time {
	return ts.clock.Now()
}

// Interval returns the tick period.
func (ts *TickSource) Interval() time.Duration {
	return ts.interval
}

// AddListener registers a callback invoked on every tick, before the tick
// is offered on the channel returned by Start.
func (ts *TickSource) AddListener(fn func(time.Time)) {
	ts.mu.Lock()
	ts.listeners = append(ts.listeners, fn)
	ts.mu.Unlock()
}

// Start runs the source until ctx is done. The returned channel has room
// for one tick; ticks arriving while the consumer is busy are dropped, so a
// slow consumer sees at most one pending tick. The channel is closed when
// the source stops.
func (ts *TickSource) Start(ctx context.Context) <-chan time.Time {
	out := make(chan time.Time, 1)
	if ts.interval <= 0 {
		close(out)
		return out
	}

	ticker := ts.clock.NewTicker(ts.interval)
	go func() {
		defer close(out)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C():
				ts.mu.RLock()
				listeners := append([]func(time.Time){}, ts.listeners...)
				ts.mu.RUnlock()
				for _, fn := range listeners {
					fn(now)
				}

				select {
				case out <- now:
				default:
				}
			}
		}
	}()
	return out
}
