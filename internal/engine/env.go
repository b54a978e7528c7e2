package engine

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/engine/scheduler"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// env is the nodes.Env handed to a unit's node
	env struct {
		unit *unit
	}

	timers struct {
		unit *unit
	}

	unitSurface struct {
		unit *unit
	}
)

var (
	_ nodes.Env         = (*env)(nil)
	_ nodes.Timers      = (*timers)(nil)
	_ nodes.HTTPSurface = (*unitSurface)(nil)
)

func (e *env) ID() api.NodeID {
	return e.unit.spec.id
}

func (e *env) Flow() api.FlowID {
	return e.unit.spec.flow
}

func (e *env) Log() *log.Logger {
	return e.unit.log
}

func (e *env) Send(out nodes.Output) {
	u := e.unit
	if out.Count() == 0 {
		return
	}
	u.engine.emit(u, out, nil)
}

func (e *env) Status(st *api.NodeStatus) {
	u := e.unit
	u.status.Store(st)
	u.engine.deps.Hub.PublishStatus(u.spec.id, st)
}

func (e *env) Publish(topic string, data any) {
	e.unit.engine.deps.Hub.Publish(topic, data)
}

func (e *env) Context() *ctxstore.Scope {
	return e.unit.engine.deps.Contexts.Node(string(e.unit.spec.id))
}

func (e *env) FlowContext() *ctxstore.Scope {
	return e.unit.engine.deps.Contexts.Flow(e.unit.spec.scope)
}

func (e *env) GlobalContext() *ctxstore.Scope {
	return e.unit.engine.deps.Contexts.Global()
}

func (e *env) HTTP() nodes.HTTPSurface {
	return &unitSurface{unit: e.unit}
}

func (e *env) Timers() nodes.Timers {
	return &timers{unit: e.unit}
}

func (e *env) ConfigNode(id api.NodeID) (nodes.Node, bool) {
	t := e.unit.building.Load()
	if t == nil {
		t = e.unit.engine.topology.Load()
	}
	u, ok := t.lookupConfig(e.unit.spec.scope, id)
	if !ok {
		return nil, false
	}
	return u.node, true
}

func (t *timers) After(name string, d time.Duration, fn nodes.TimerFunc) {
	s := t.unit.engine.scheduler
	s.Schedule(t.unit.ctx, t.key(name), s.Now().Add(d), t.wrap(fn))
}

func (t *timers) Every(name string, d time.Duration, fn nodes.TimerFunc) {
	s := t.unit.engine.scheduler
	s.Every(t.unit.ctx, t.key(name), s.Now().Add(d), d, t.wrap(fn))
}

func (t *timers) Cancel(name string) {
	t.unit.engine.scheduler.Cancel(t.unit.ctx, t.key(name))
}

func (t *timers) key(name string) scheduler.Key {
	return scheduler.TimerKey(t.unit.spec.id, t.unit.gen, name)
}

func (t *timers) wrap(fn nodes.TimerFunc) scheduler.TaskFunc {
	u := t.unit
	return func(context.Context) error {
		if u.ctx.Err() != nil {
			return nil
		}
		return fn(u.ctx)
	}
}

func (s *unitSurface) Handle(
	method, path string, h gin.HandlerFunc,
) (func(), error) {
	u := s.unit
	surface := u.engine.deps.HTTP
	if surface == nil {
		return nil, nodes.ErrHTTPDisabled
	}
	unregister, err := surface.Handle(method, path, h)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.http = append(u.http, unregister)
	u.mu.Unlock()
	return unregister, nil
}
