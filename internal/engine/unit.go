package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// unit is one running node instance with its inbox and worker. A unit
	// survives deploys that do not restart it
	unit struct {
		engine   *Engine
		spec     *unitSpec
		node     nodes.Node
		recv     nodes.Receiver
		inbox    *inbox
		log      *log.Logger
		ctx      context.Context
		cancel   context.CancelFunc
		stop     chan struct{}
		done     chan struct{}
		slots    chan struct{}
		status   atomic.Pointer[api.NodeStatus]
		building atomic.Pointer[topology]
		pending  map[uint64]*slot
		http     []func()
		gen      string
		active   sync.WaitGroup
		running  atomic.Bool
		halted   sync.Once
		mu       sync.Mutex
		nextSeq  uint64
		headSeq  uint64
	}

	// slot holds the outputs of an input that completed out of order
	slot struct {
		input *delivery
		outs  []nodes.Output
		done  bool
	}
)

func (e *Engine) newUnit(spec *unitSpec, next *topology) (*unit, error) {
	ctx, cancel := context.WithCancel(context.Background())
	u := &unit{
		engine:  e,
		spec:    spec,
		inbox:   newInbox(),
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: map[uint64]*slot{},
		gen:     strconv.FormatUint(e.gen.Add(1), 10),
		log: e.log.With(
			log.NodeID(spec.id),
			log.NodeType(spec.def.Type),
			log.FlowID(spec.flow),
		),
	}

	u.building.Store(next)
	n, err := e.deps.Registry.Construct(&env{unit: u}, spec.def)
	u.building.Store(nil)
	if err != nil {
		cancel()
		u.unregisterHTTP()
		return nil, err
	}
	u.node = n
	limit := 1
	if r, ok := n.(nodes.Receiver); ok {
		u.recv = r
	}
	if c, ok := n.(nodes.Concurrent); ok && c.Concurrency() > 1 {
		limit = c.Concurrency()
	}
	u.slots = make(chan struct{}, limit)
	return u, nil
}

// start launches the worker goroutine
func (u *unit) start() {
	if !u.running.CompareAndSwap(false, true) {
		return
	}
	go u.run()
}

func (u *unit) run() {
	defer close(u.done)
	defer u.active.Wait()
	for {
		select {
		case u.slots <- struct{}{}:
		case <-u.stop:
			return
		}
		d, ok := u.next()
		if !ok {
			<-u.slots
			return
		}
		u.process(d)
	}
}

func (u *unit) next() (*delivery, bool) {
	for {
		if d, ok := u.inbox.pop(); ok {
			return d, true
		}
		select {
		case <-u.inbox.signal():
		case <-u.stop:
			return nil, false
		}
	}
}

func (u *unit) process(d *delivery) {
	u.mu.Lock()
	seq := u.nextSeq
	u.nextSeq++
	u.pending[seq] = &slot{input: d}
	u.mu.Unlock()

	in := nodes.NewInput(d.msg, d.port,
		func(out nodes.Output) { u.send(seq, out) },
		func(err error) { u.finish(seq, err) },
	)
	u.active.Add(1)
	if cap(u.slots) > 1 {
		go u.receive(in)
		return
	}
	u.receive(in)
}

func (u *unit) receive(in *nodes.Input) {
	defer func() {
		if r := recover(); r != nil {
			in.Done(fmt.Errorf("panic: %v", r))
		}
	}()
	u.recv.Receive(u.ctx, in)
}

// send releases outputs immediately for the oldest unfinished input and
// holds them for later inputs, so outputs leave in input order
func (u *unit) send(seq uint64, out nodes.Output) {
	u.mu.Lock()
	defer u.mu.Unlock()
	s, ok := u.pending[seq]
	if !ok {
		return
	}
	if seq == u.headSeq {
		u.engine.emit(u, out, s.input)
		return
	}
	s.outs = append(s.outs, out)
}

func (u *unit) finish(seq uint64, err error) {
	u.mu.Lock()
	s := u.pending[seq]
	s.done = true
	for {
		head, ok := u.pending[u.headSeq]
		if !ok || !head.done {
			break
		}
		delete(u.pending, u.headSeq)
		u.headSeq++
		if next, ok := u.pending[u.headSeq]; ok {
			for _, out := range next.outs {
				u.engine.emit(u, out, next.input)
			}
			next.outs = nil
		}
	}
	u.mu.Unlock()

	if err != nil {
		u.engine.nodeFailed(u, s.input, err)
	}
	<-u.slots
	u.engine.addInFlight(-1)
	u.active.Done()
}

// halt stops the worker from taking further deliveries
func (u *unit) halt() {
	u.halted.Do(func() {
		close(u.stop)
	})
}

func (u *unit) unregisterHTTP() {
	u.mu.Lock()
	handlers := u.http
	u.http = nil
	u.mu.Unlock()
	for _, unregister := range handlers {
		unregister()
	}
}

func (u *unit) isSource() bool {
	if _, ok := u.node.(nodes.Catcher); ok {
		return false
	}
	return u.spec.def.Kind == api.KindInput
}

func (u *unit) state() *api.NodeState {
	return &api.NodeState{
		Status:  u.status.Load(),
		ID:      u.spec.id,
		Type:    u.spec.def.Type,
		Name:    u.spec.def.Name,
		Kind:    u.spec.def.Kind,
		Pending: u.inbox.len(),
	}
}
