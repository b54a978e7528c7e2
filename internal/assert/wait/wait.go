package wait

import (
	"testing"
	"time"

	"github.com/kode4food/wireflow/internal/events"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/util"
)

type (
	Wait struct {
		t        *testing.T
		consumer events.Consumer
		timeout  time.Duration
	}

	Predicate[T any] func(T) bool

	EventFilter Predicate[*api.Event]
)

const DefaultTimeout = time.Second * 5

func On(t *testing.T, consumer events.Consumer) *Wait {
	return &Wait{
		t:        t,
		consumer: consumer,
		timeout:  DefaultTimeout,
	}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvents waits for matching events from the consumer and returns them
func (w *Wait) ForEvents(count int, filter EventFilter) []*api.Event {
	w.t.Helper()

	deadline := time.NewTimer(w.timeout)
	defer deadline.Stop()

	res := make([]*api.Event, 0, count)
	for len(res) < count {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf(
					"event consumer closed before receiving %d events", count,
				)
			}
			if !filter(ev) {
				continue
			}
			res = append(res, ev)
		case <-deadline.C:
			w.t.Fatalf("timeout waiting for %d events", count)
		}
	}
	return res
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) *api.Event {
	w.t.Helper()
	return w.ForEvents(1, filter)[0]
}

// And composes event filters and returns true when all match
func And(filters ...EventFilter) EventFilter {
	return func(ev *api.Event) bool {
		for _, filter := range filters {
			if !filter(ev) {
				return false
			}
		}
		return true
	}
}

// Topic creates a filter for events whose topic matches a pattern
func Topic(pattern string) EventFilter {
	return func(ev *api.Event) bool {
		return ev != nil && api.MatchTopic(pattern, ev.Topic)
	}
}

// Debug matches debug events published by the given nodes
func Debug(ids ...api.NodeID) EventFilter {
	lookup := util.SetOf(ids...)
	return And(Topic(api.TopicDebug), Data(func(ev *api.DebugEvent) bool {
		return lookup.Contains(ev.ID)
	}))
}

// Status matches status events of a node
func Status(id api.NodeID) EventFilter {
	return Topic(api.StatusTopic(id))
}

// Deployed matches deploy notifications
func Deployed() EventFilter {
	return Topic(api.TopicDeploy)
}

// NodeError matches node failure notifications for the given nodes
func NodeError(ids ...api.NodeID) EventFilter {
	lookup := util.SetOf(ids...)
	return And(
		Topic(api.TopicNodeError),
		Data(func(ev *api.NodeErrorEvent) bool {
			return lookup.Contains(ev.ID)
		}),
	)
}

// Data creates a filter that type-asserts event data and applies pred
func Data[T any](pred Predicate[T]) EventFilter {
	return func(ev *api.Event) bool {
		if ev == nil {
			return false
		}
		data, ok := ev.Data.(T)
		return ok && pred(data)
	}
}
