package scheduler_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/engine/scheduler"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// manualTimer reports every Reset and Stop the scheduler makes and
	// only fires when a test says so
	manualTimer struct {
		fire    chan time.Time
		events  chan timerEvent
		stopped atomic.Bool
	}

	timerEvent struct {
		delay time.Duration
		stop  bool
	}

	harness struct {
		*scheduler.Scheduler
		timer *manualTimer
		now   time.Time
	}
)

const harnessTimeout = time.Second

func TestScheduleTask(t *testing.T) {
	h := startScheduler(t)
	done := make(chan struct{}, 1)

	h.Schedule(context.Background(),
		scheduler.TimerKey("inject-1", "1", "once"),
		h.now.Add(40*time.Millisecond),
		signal(done),
	)
	assert.Equal(t, 40*time.Millisecond, h.timer.nextReset(t))
	h.timer.trigger(h.now)
	await(t, done, "scheduled timer did not run")
}

func TestScheduleReplacesSameKey(t *testing.T) {
	h := startScheduler(t)
	var stale atomic.Int32
	done := make(chan struct{}, 1)
	key := scheduler.TimerKey("inject-1", "1", "repeat")
	ctx := context.Background()

	h.Schedule(ctx, key, h.now.Add(300*time.Millisecond),
		func(context.Context) error {
			stale.Add(1)
			return nil
		},
	)
	assert.Equal(t, 300*time.Millisecond, h.timer.nextReset(t))

	h.Schedule(ctx, key, h.now.Add(40*time.Millisecond), signal(done))
	assert.Equal(t, 40*time.Millisecond, h.timer.nextReset(t))
	h.timer.trigger(h.now)

	await(t, done, "replacement timer did not run")
	assert.Zero(t, stale.Load())
}

func TestEveryRepeats(t *testing.T) {
	h := startScheduler(t)
	runs := make(chan struct{}, 4)

	h.Every(context.Background(),
		scheduler.TimerKey("tick", "1", "interval"),
		h.now.Add(time.Second), time.Second,
		func(context.Context) error {
			runs <- struct{}{}
			return errors.New("logged, not fatal")
		},
	)
	assert.Equal(t, time.Second, h.timer.nextReset(t))

	h.timer.trigger(h.now)
	await(t, runs, "first tick did not run")
	assert.Equal(t, 2*time.Second, h.timer.nextReset(t))

	h.timer.trigger(h.now)
	await(t, runs, "second tick did not run")
}

func TestCancelTask(t *testing.T) {
	h := startScheduler(t)
	var ran atomic.Bool
	key := scheduler.TimerKey("inject-2", "1", "once")
	ctx := context.Background()

	h.Schedule(ctx, key, h.now.Add(100*time.Millisecond),
		func(context.Context) error {
			ran.Store(true)
			return nil
		},
	)
	assert.Equal(t, 100*time.Millisecond, h.timer.nextReset(t))

	h.Cancel(ctx, key)
	h.timer.nextStop(t)
	h.timer.trigger(h.now)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestCancelOwnerKeepsOtherInstances(t *testing.T) {
	h := startScheduler(t)
	var cancelled atomic.Int32
	survivors := make(chan struct{}, 2)
	ctx := context.Background()
	at := h.now.Add(100 * time.Millisecond)

	count := func(context.Context) error {
		cancelled.Add(1)
		return nil
	}
	h.Schedule(ctx, scheduler.TimerKey("sf-1", "3", "a"), at, count)
	h.Schedule(ctx, scheduler.TimerKey("sf-1", "3", "b"), at, count)
	survive := signal(survivors)
	h.Schedule(ctx, scheduler.TimerKey("sf-1", "4", "a"), at, survive)
	h.Schedule(ctx, scheduler.TimerKey("sf-10", "3", "a"), at, survive)
	for range 4 {
		assert.Equal(t, 100*time.Millisecond, h.timer.nextReset(t))
	}

	h.CancelOwner(ctx, scheduler.Owner{Node: "sf-1", Gen: "3"})
	assert.Equal(t, 100*time.Millisecond, h.timer.nextReset(t))

	// one due timer runs per wake-up when all share a due time
	h.timer.trigger(h.now)
	await(t, survivors, "first surviving timer did not run")
	assert.Equal(t, 100*time.Millisecond, h.timer.nextReset(t))
	h.timer.trigger(h.now)
	await(t, survivors, "second surviving timer did not run")
	assert.Zero(t, cancelled.Load())
}

func TestKeyString(t *testing.T) {
	key := scheduler.TimerKey(api.NodeID("sf").Child("inner"), "7", "tick")
	assert.Equal(t, "sf/inner@7:tick", key.String())
	assert.Equal(t, api.NodeID("sf/inner"), key.Owner.Node)
}

func TestSystemTimer(t *testing.T) {
	timer := scheduler.NewTimer(time.Hour)
	assert.True(t, timer.Stop())
	timer.Reset(time.Millisecond)
	select {
	case <-timer.Channel():
	case <-time.After(harnessTimeout):
		t.Fatal("system timer did not fire")
	}
}

func startScheduler(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	timers := make(chan *manualTimer, 1)
	logger := log.NewWithOptions("wireflow", "test", "", log.Options{
		Output: io.Discard,
	})
	s := scheduler.New(logger,
		func() time.Time { return now },
		func(time.Duration) scheduler.Timer {
			mt := &manualTimer{
				fire:   make(chan time.Time, 1),
				events: make(chan timerEvent, 16),
			}
			timers <- mt
			return mt
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	var timer *manualTimer
	select {
	case timer = <-timers:
	case <-time.After(harnessTimeout):
		t.Fatal("scheduler timer was not created")
	}
	// the queue starts empty, so the first thing Run does is stop the timer
	timer.nextStop(t)
	return &harness{Scheduler: s, timer: timer, now: now}
}

func (m *manualTimer) Channel() <-chan time.Time {
	return m.fire
}

func (m *manualTimer) Reset(delay time.Duration) bool {
	m.stopped.Store(false)
	m.clear()
	m.events <- timerEvent{delay: delay}
	return true
}

func (m *manualTimer) Stop() bool {
	wasRunning := !m.stopped.Swap(true)
	m.clear()
	m.events <- timerEvent{stop: true}
	return wasRunning
}

func (m *manualTimer) trigger(at time.Time) {
	if m.stopped.Load() {
		return
	}
	select {
	case m.fire <- at:
	default:
	}
}

func (m *manualTimer) clear() {
	select {
	case <-m.fire:
	default:
	}
}

func (m *manualTimer) next(t *testing.T) timerEvent {
	t.Helper()
	select {
	case ev := <-m.events:
		return ev
	case <-time.After(harnessTimeout):
		t.Fatal("scheduler did not touch its timer")
		return timerEvent{}
	}
}

func (m *manualTimer) nextReset(t *testing.T) time.Duration {
	t.Helper()
	ev := m.next(t)
	require.False(t, ev.stop, "expected a reset, got a stop")
	return ev.delay
}

func (m *manualTimer) nextStop(t *testing.T) {
	t.Helper()
	require.True(t, m.next(t).stop, "expected a stop, got a reset")
}

func signal(ch chan<- struct{}) scheduler.TaskFunc {
	return func(context.Context) error {
		ch <- struct{}{}
		return nil
	}
}

func await(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(harnessTimeout):
		t.Fatal(msg)
	}
}
