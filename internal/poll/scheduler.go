// Package poll runs a function repeatedly with a pause between runs.
package poll

import (
	"context"
	"sync/atomic"
	"time"
)

// WaitFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default WaitFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Scheduler calls a function immediately and then again each time the
// interval has elapsed after the previous call returned. Calls never overlap.
type Scheduler struct {
	fn       func(ctx context.Context)
	interval atomic.Int64

	// Wait is used between calls. Defaults to Sleep.
	Wait WaitFunc
}

// New creates a scheduler for fn.
func New(fn func(ctx context.Context), interval time.Duration) *Scheduler {
	s := &Scheduler{fn: fn, Wait: Sleep}
	s.interval.Store(int64(interval))
	return s
}

// Interval returns the current interval.
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetInterval changes the interval. It is read when the next wait starts,
// so a wait already in progress keeps its original length. Non-positive
// values are ignored. Safe to call from any goroutine, including fn.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.interval.Store(int64(d))
}

// Run polls until ctx is done and returns ctx.Err(). fn is expected to
// handle its own errors; Run only stops on cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.fn(ctx)

		if err := s.Wait(ctx, s.Interval()); err != nil {
			return err
		}
	}
}
