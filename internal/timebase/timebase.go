// Package timebase establishes the process-wide wall-clock reference from
// the first qualifying GPS fix.
//
// The logger host has no battery-backed clock, so its own wall clock is
// meaningless at boot. Until a position fix of sufficient quality delivers
// the receiver's UTC time, no record can be timestamped; everything
// downstream of the anchor takes the TimeBase as an explicit input.
package timebase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roman-kulish/vehicle-tracklog/internal/sensor"
)

// TimeBase converts local monotonic readings into wall-clock time. It is
// immutable once established: the offset between the local clock and the
// receiver's UTC time is fixed for the whole run.
type TimeBase struct {
	offset time.Duration
}

// New creates a TimeBase with a fixed local-to-UTC clock offset
func New(offset time.Duration) *TimeBase {
	return &TimeBase{offset: offset}
}

// Now returns the current wall-clock time in UTC
func (tb *TimeBase) Now() time.Time {
	return time.Now().Add(tb.offset).UTC()
}

// At converts a local clock reading into wall-clock time in UTC
func (tb *TimeBase) At(local time.Time) time.Time {
	return local.Add(tb.offset).UTC()
}

// Offset returns the local-to-UTC clock offset
func (tb *TimeBase) Offset() time.Duration {
	return tb.offset
}

// Anchor establishes a TimeBase at most once per run
type Anchor struct {
	mu sync.Mutex
	tb *TimeBase
}

// NewAnchor creates a new, unestablished Anchor
func NewAnchor() *Anchor {
	return &Anchor{}
}

// Await consumes position fixes from the session until the first one of at
// least minQuality, then establishes and returns the TimeBase. It blocks
// indefinitely while waiting; there is nothing useful to do without a time
// reference. If the sensor disconnects first, the error wraps
// sensor.ErrUnavailable and the run cannot proceed.
//
// If the anchor is already established, Await returns it immediately.
func (a *Anchor) Await(ctx context.Context, session sensor.Session, minQuality sensor.FixQuality) (*TimeBase, error) {
	if tb, ok := a.Established(); ok {
		return tb, nil
	}

	for {
		sample, err := session.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("awaiting fix: %w", err)
		}

		if sample.Fix == nil || sample.Fix.Quality < minQuality {
			continue
		}
		if sample.Time.IsZero() {
			continue // qualifying fix without receiver time cannot anchor
		}

		return a.establish(sample.Time), nil
	}
}

// Established returns the TimeBase and true once the anchor has fired
func (a *Anchor) Established() (*TimeBase, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tb, a.tb != nil
}

func (a *Anchor) establish(deviceTime time.Time) *TimeBase {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tb != nil {
		return a.tb // concurrent Await lost the race, keep the first anchor
	}

	a.tb = New(time.Until(deviceTime))
	return a.tb
}
