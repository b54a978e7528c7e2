package engine

import (
	"context"
	"fmt"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

// Inject asks a running input node to emit a message as if it had been
// triggered. A nil msg makes the node emit what it is configured to
func (e *Engine) Inject(
	ctx context.Context, id api.NodeID, msg api.Message,
) error {
	t := e.topology.Load()
	u, ok := t.units[id]
	if !ok {
		if _, ok := t.def.NodeByID(id); ok {
			return fmt.Errorf("%w: %s", ErrNotStarted, id)
		}
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	inj, ok := u.node.(nodes.Injector)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInjectable, id)
	}
	if err := inj.Inject(ctx, msg); err != nil {
		return err
	}
	e.log.Audit("Node injected",
		log.User(actor(ctx)),
		log.NodeID(id))
	return nil
}

// Deliver places a message directly on the input port of a running node.
// It takes no hops from the message's budget
func (e *Engine) Deliver(msg api.Message, ref api.PortRef) error {
	t := e.topology.Load()
	u, ok := t.units[ref.Node]
	if !ok || u.recv == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, ref.Node)
	}
	if msg.ID() == "" {
		msg[api.MsgIDKey] = api.NewMsgID()
	}
	e.deliver(t, ref, msg, 0)
	return nil
}
