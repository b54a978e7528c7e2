// Package scheduler runs node timers. Every timer belongs to one node
// instance, so closing the instance drops all of its timers at once
package scheduler

import (
	"context"
	"time"

	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// Scheduler owns a timer queue and runs due timers on its own goroutine
	Scheduler struct {
		log       *log.Logger
		now       Clock
		makeTimer TimerConstructor
		reqs      chan func(*Queue)
	}

	// TaskFunc is called when its timer comes due
	TaskFunc func(ctx context.Context) error
)

const requestBuffer = 100

// New creates a scheduler using the provided clock and timer constructor
func New(
	logger *log.Logger, now Clock, makeTimer TimerConstructor,
) *Scheduler {
	return &Scheduler{
		log:       logger,
		now:       now,
		makeTimer: makeTimer,
		reqs:      make(chan func(*Queue), requestBuffer),
	}
}

// Now returns the scheduler's current time
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Schedule runs fn once at the given time. A timer already pending under
// the same key is replaced
func (s *Scheduler) Schedule(
	ctx context.Context, key Key, at time.Time, fn TaskFunc,
) {
	e := &Entry{Key: key, At: at, Func: fn}
	s.send(ctx, func(q *Queue) { q.Add(e) })
}

// Every runs fn at first and then once per interval until cancelled
func (s *Scheduler) Every(
	ctx context.Context, key Key, first time.Time,
	interval time.Duration, fn TaskFunc,
) {
	e := &Entry{Key: key, At: first, Func: fn, Interval: interval}
	s.send(ctx, func(q *Queue) { q.Add(e) })
}

// Cancel drops the timer of key
func (s *Scheduler) Cancel(ctx context.Context, key Key) {
	s.send(ctx, func(q *Queue) { q.Remove(key) })
}

// CancelOwner drops every timer of a node instance
func (s *Scheduler) CancelOwner(ctx context.Context, o Owner) {
	s.send(ctx, func(q *Queue) {
		if n := q.RemoveOwner(o); n > 0 {
			s.log.Debug("Timers cancelled",
				log.NodeID(o.Node),
				"count", n)
		}
	})
}

// Run applies requests and fires due timers until ctx is cancelled. Timer
// functions run on this goroutine and must not block
func (s *Scheduler) Run(ctx context.Context) {
	q := NewQueue()
	timer := s.makeTimer(0)
	var fire <-chan time.Time

	rearm := func() {
		next := q.Next()
		if next == nil {
			timer.Stop()
			fire = nil
			return
		}
		timer.Reset(next.At.Sub(s.now()))
		fire = timer.Channel()
	}
	rearm()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case apply := <-s.reqs:
			apply(q)
			rearm()
		case <-fire:
			s.fireDue(ctx, q)
			rearm()
		}
	}
}

// fireDue runs the timer that fired along with any others already due
func (s *Scheduler) fireDue(ctx context.Context, q *Queue) {
	now := s.now()
	for first := true; ; first = false {
		e := q.Next()
		if e == nil || (!first && e.At.After(now)) {
			return
		}
		q.Pop()
		if err := e.Func(ctx); err != nil {
			s.log.Error("Timer failed",
				"timer", e.Key.String(),
				log.Error(err))
		}
		if e.Interval <= 0 {
			continue
		}
		e.At = e.At.Add(e.Interval)
		if !e.At.After(now) {
			e.At = now.Add(e.Interval)
		}
		q.Add(e)
	}
}

func (s *Scheduler) send(ctx context.Context, apply func(*Queue)) {
	select {
	case s.reqs <- apply:
	case <-ctx.Done():
	}
}
