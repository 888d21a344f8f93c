// Package clock injects time into every component per the Design Notes'
// "time as a module-level now" re-architecture: production code reads the
// OS clock, backtests read an externally-stepped pointer. The strategy,
// loops and reconciler read time only through a Clock; the live gateway
// client, the dashboard server and the JSON store's last_updated stamp
// call time.Now directly.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock abstracts "now" so the same components run against a live wall
// clock or a backtest driver's stepped pointer.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the OS clock, converted into the supplied location.
// Used by the live gateway and production trading loops.
type SystemClock struct {
	Location *time.Location
}

// NewSystemClock returns a SystemClock pinned to loc.
func NewSystemClock(loc *time.Location) *SystemClock {
	return &SystemClock{Location: loc}
}

// Now returns the current time in the clock's location.
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.Location)
}

// SteppingClock is driven externally by a backtest driver advancing a
// single atomically-stored pointer; every gateway/strategy call made
// while stepped to a given instant observes that instant as "now."
type SteppingClock struct {
	current atomic.Value // time.Time
}

// NewSteppingClock creates a clock pinned at start.
func NewSteppingClock(start time.Time) *SteppingClock {
	c := &SteppingClock{}
	c.current.Store(start)
	return c
}

// Now returns the clock's current pointer.
func (c *SteppingClock) Now() time.Time {
	return c.current.Load().(time.Time)
}

// Advance moves the pointer forward to t. The backtest driver is
// responsible for calling this monotonically; the clock itself does not
// enforce ordering so tests can rewind deliberately.
func (c *SteppingClock) Advance(t time.Time) {
	c.current.Store(t)
}
