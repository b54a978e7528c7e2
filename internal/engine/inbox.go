package engine

import (
	"sync"

	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// delivery is a message addressed to one input port of a node
	delivery struct {
		msg  api.Message
		port int
		hops int
	}

	// inbox is an unbounded FIFO of deliveries. Once drained it refuses
	// further deliveries so that none can be stranded in a replaced node
	inbox struct {
		ready  chan struct{}
		items  []*delivery
		mu     sync.Mutex
		closed bool
	}
)

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (b *inbox) push(d *delivery) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.items = append(b.items, d)
	b.notify()
	return true
}

// prepend queues deliveries ahead of anything already pending
func (b *inbox) prepend(ds []*delivery) {
	if len(ds) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(append(make([]*delivery, 0, len(ds)+len(b.items)),
		ds...), b.items...)
	b.notify()
}

func (b *inbox) pop() (*delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil, false
	}
	d := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]
	if len(b.items) != 0 {
		b.notify()
	}
	return d, true
}

// drain closes the inbox and returns whatever was still pending
func (b *inbox) drain() []*delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	res := b.items
	b.items = nil
	return res
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *inbox) signal() <-chan struct{} {
	return b.ready
}

func (b *inbox) notify() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
