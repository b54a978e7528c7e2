package engine

import (
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// emission is a node's output waiting to be routed along its wires
	emission struct {
		out    nodes.Output
		from   api.NodeID
		parent string
		hops   int
	}

	// routed is one message bound for one input port
	routed struct {
		msg api.Message
		ref api.PortRef
	}

	// dispatcher routes the emissions of one flow sequentially
	dispatcher struct {
		queue    topic.Topic[*emission]
		prod     topic.Producer[*emission]
		cons     topic.Consumer[*emission]
		handle   func(*emission)
		log      *log.Logger
		stop     chan struct{}
		flow     api.FlowID
		stopOnce sync.Once
		started  sync.Once
		runWG    sync.WaitGroup
		mu       sync.RWMutex
		closed   bool
	}
)

func newDispatcher(
	flow api.FlowID, logger *log.Logger, handle func(*emission),
) *dispatcher {
	queue := caravan.NewTopic[*emission]()
	return &dispatcher{
		queue:  queue,
		prod:   queue.NewProducer(),
		cons:   queue.NewConsumer(),
		handle: handle,
		log:    logger.With(log.FlowID(flow)),
		stop:   make(chan struct{}),
		flow:   flow,
	}
}

func (d *dispatcher) start() {
	d.started.Do(func() {
		d.runWG.Go(func() {
			for {
				select {
				case <-d.stop:
					return
				case em, ok := <-d.cons.Receive():
					if !ok {
						return
					}
					d.route(em)
				}
			}
		})
	})
}

// send queues an emission. It reports false once the dispatcher is
// stopped
func (d *dispatcher) send(em *emission) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	message.Send(d.prod, em)
	return true
}

// flush stops the dispatcher after routing whatever is already queued
func (d *dispatcher) flush() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.runWG.Wait()
	for {
		select {
		case em, ok := <-d.cons.Receive():
			if !ok {
				d.close()
				return
			}
			d.route(em)
		default:
			d.close()
			return
		}
	}
}

func (d *dispatcher) close() {
	d.prod.Close()
	d.cons.Close()
}

func (d *dispatcher) route(em *emission) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Dispatch panic",
				log.NodeID(em.from),
				"panic", r)
		}
	}()
	d.handle(em)
}
