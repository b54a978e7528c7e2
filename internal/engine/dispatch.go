package engine

import (
	"fmt"
	"reflect"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
	"github.com/kode4food/wireflow/pkg/util"
)

// MaxErrorCount bounds how many times one message may be re-thrown from
// the same node before it is dropped
const MaxErrorCount = 10

// emit hands a unit's output to the dispatcher of its flow. input is the
// delivery being processed, or nil for messages a node sends on its own
func (e *Engine) emit(u *unit, out nodes.Output, input *delivery) {
	if out.Count() == 0 {
		return
	}
	em := &emission{out: out, from: u.spec.id}
	if input != nil {
		em.parent = input.msg.ID()
		em.hops = input.hops
	}

	d := e.topology.Load().dispatchers[u.spec.flow]
	e.addInFlight(1)
	if d == nil || !d.send(em) {
		e.addInFlight(-1)
		u.log.Debug("Output dropped, flow is not running")
	}
}

// dispatch routes one emission along the wires of the current topology.
// A message object reaches at most one target as itself; every other
// target, on any port, gets a clone. All clones are made before the first
// delivery so that no receiver can mutate a message still being copied
func (e *Engine) dispatch(em *emission) {
	defer e.addInFlight(-1)

	t := e.topology.Load()
	routes := t.routes[em.from]
	var out []routed
	sent := util.Set[uintptr]{}
	for port, msgs := range em.out {
		if port >= len(routes) || len(routes[port]) == 0 {
			continue
		}
		for _, msg := range msgs {
			if msg == nil {
				continue
			}
			if msg.ID() == "" {
				if em.parent != "" {
					msg[api.MsgIDKey] = em.parent
				} else {
					msg[api.MsgIDKey] = api.NewMsgID()
				}
			}
			for _, ref := range routes[port] {
				out = append(out, routed{ref: ref, msg: claim(sent, msg)})
			}
		}
	}
	for _, r := range out {
		e.deliver(t, r.ref, r.msg, em.hops+1)
	}
}

// claim returns msg the first time an emission delivers it and a clone
// every time after
func claim(sent util.Set[uintptr], msg api.Message) api.Message {
	p := reflect.ValueOf(msg).Pointer()
	if sent.Contains(p) {
		return msg.Clone()
	}
	sent.Add(p)
	return msg
}

func (e *Engine) deliver(t *topology, ref api.PortRef, msg api.Message, hops int) {
	if hops > e.deps.MaxMessageHops {
		e.log.Warn("Message exceeded hop limit",
			log.MsgID(msg.ID()),
			log.NodeID(ref.Node),
			"hops", hops)
		e.deps.Metrics.recordDrop(dropHopLimit)
		return
	}

	u, ok := t.units[ref.Node]
	if !ok || u.recv == nil {
		e.log.Warn("Message dropped, no receiving node",
			log.MsgID(msg.ID()),
			log.NodeID(ref.Node))
		e.deps.Metrics.recordDrop(dropNoConsumer)
		return
	}

	d := &delivery{msg: msg, port: ref.Port, hops: hops}
	e.addInFlight(1)
	if u.inbox.push(d) {
		e.deps.Metrics.recordDelivery(u.spec.flow)
		return
	}

	// replaced by a deploy since t was loaded
	if nu, ok := e.topology.Load().units[ref.Node]; ok && nu != u &&
		nu.recv != nil && nu.inbox.push(d) {
		e.deps.Metrics.recordDelivery(nu.spec.flow)
		return
	}
	e.addInFlight(-1)
	e.log.Warn("Message dropped, node was removed",
		log.MsgID(msg.ID()),
		log.NodeID(ref.Node))
	e.deps.Metrics.recordDrop(dropRemoved)
}

// nodeFailed logs a processing failure and routes it to catch nodes
func (e *Engine) nodeFailed(u *unit, d *delivery, err error) {
	err = fmt.Errorf("%w: %w", ErrNodeProcessing, err)
	u.log.Error("Node processing failed",
		log.MsgID(d.msg.ID()),
		log.Error(err))
	e.deps.Metrics.recordNodeError(u.spec.flow, u.spec.def.Type)
	e.deps.Hub.Publish(api.TopicNodeError, &api.NodeErrorEvent{
		ID:    u.spec.id,
		Type:  u.spec.def.Type,
		MsgID: d.msg.ID(),
		Error: err.Error(),
	})
	e.routeError(u, d, err)
}

// routeError delivers the failed message to the catch nodes of the
// innermost scope that has any, starting with the failing node's own
func (e *Engine) routeError(u *unit, d *delivery, err error) {
	count := errorCount(d.msg, u.spec.id) + 1
	if count > MaxErrorCount {
		u.log.Warn("Message exceeded maximum number of catches",
			log.MsgID(d.msg.ID()))
		return
	}

	msg := d.msg.Clone()
	msg[api.ErrorKey] = map[string]any{
		"message": err.Error(),
		"source": map[string]any{
			"id":    string(u.spec.id),
			"type":  u.spec.def.Type,
			"name":  u.spec.def.Name,
			"count": count,
		},
	}

	t := e.topology.Load()
	for scope := u.spec.scope; scope != ""; scope = t.parents[scope] {
		var catchers []*unit
		for _, c := range t.catchers[scope] {
			if c.node.(nodes.Catcher).Catches(u.spec.def.ID) {
				catchers = append(catchers, c)
			}
		}
		if len(catchers) == 0 {
			continue
		}
		for i, c := range catchers {
			out := msg
			if i > 0 {
				out = msg.Clone()
			}
			e.emit(c, nodes.Single(out), d)
		}
		return
	}
}

func errorCount(msg api.Message, source api.NodeID) int {
	prev, ok := msg[api.ErrorKey].(map[string]any)
	if !ok {
		return 0
	}
	src, ok := prev["source"].(map[string]any)
	if !ok || src["id"] != string(source) {
		return 0
	}
	switch c := src["count"].(type) {
	case int:
		return c
	case float64:
		return int(c)
	default:
		return 0
	}
}
