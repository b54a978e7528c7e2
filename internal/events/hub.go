// Package events distributes runtime notifications (debug output, node
// status, deploys, runtime state changes) to comms subscribers
package events

import (
	"slices"
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// Hub is a broadcast topic of runtime events. Status events are
	// retained per topic so that late subscribers can be brought up to date
	Hub struct {
		queue    topic.Topic[*api.Event]
		prod     topic.Producer[*api.Event]
		retained map[string]*api.Event
		mu       sync.RWMutex
		closed   bool
	}

	// Consumer receives every event published after its creation
	Consumer = topic.Consumer[*api.Event]

	// Filter selects events
	Filter func(*api.Event) bool
)

// NewHub creates an open Hub
func NewHub() *Hub {
	t := caravan.NewTopic[*api.Event]()
	return &Hub{
		queue:    t,
		prod:     t.NewProducer(),
		retained: map[string]*api.Event{},
	}
}

// Publish broadcasts an event. Events on status topics are also retained
func (h *Hub) Publish(name string, data any) {
	h.publish(name, data, api.MatchTopic(api.TopicStatusPrefix+"#", name))
}

// PublishStatus broadcasts and retains a node status. A nil status clears
// the retained entry
func (h *Hub) PublishStatus(id api.NodeID, st *api.NodeStatus) {
	t := api.StatusTopic(id)
	if st == nil {
		h.Forget(t)
		h.publish(t, &api.StatusEvent{ID: id, Status: &api.NodeStatus{}}, false)
		return
	}
	h.publish(t, &api.StatusEvent{ID: id, Status: st}, true)
}

// Forget drops a retained event
func (h *Hub) Forget(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.retained, name)
}

// Retained returns the retained events matching pattern, ordered by topic
func (h *Hub) Retained(pattern string) []*api.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var res []*api.Event
	for t, ev := range h.retained {
		if api.MatchTopic(pattern, t) {
			res = append(res, ev)
		}
	}
	slices.SortFunc(res, func(a, b *api.Event) int {
		switch {
		case a.Topic < b.Topic:
			return -1
		case a.Topic > b.Topic:
			return 1
		default:
			return 0
		}
	})
	return res
}

// NewConsumer subscribes to events published from now on. Callers must
// Close the consumer when finished
func (h *Hub) NewConsumer() Consumer {
	return h.queue.NewConsumer()
}

// Close stops publishing. Consumers stay valid until closed by their owner
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.prod.Close()
}

func (h *Hub) publish(name string, data any, retain bool) {
	ev := &api.Event{Topic: name, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if retain {
		h.retained[name] = ev
	}
	message.Send(h.prod, ev)
}

// MatchTopics builds a Filter accepting events whose topic matches any of
// the patterns
func MatchTopics(patterns ...string) Filter {
	return func(ev *api.Event) bool {
		for _, p := range patterns {
			if api.MatchTopic(p, ev.Topic) {
				return true
			}
		}
		return false
	}
}
