package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/engine/diff"
	"github.com/kode4food/wireflow/internal/engine/scheduler"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
	"github.com/kode4food/wireflow/pkg/util"
)

type (
	// DeployOption adjusts a single deploy transaction
	DeployOption func(*deployOptions)

	deployOptions struct {
		rev string
	}

	// transition moves the running topology to a new definition. restart
	// reports which existing instances must be replaced even though the
	// new definition still has them
	transition struct {
		def     *api.Definition
		active  util.Set[api.FlowID]
		restart func(*unitSpec) bool
	}

	// outcome is what a transition left behind for the caller to finish
	outcome struct {
		prev    *topology
		next    *topology
		fresh   []*unit
		retired []*unit
	}
)

// ExpectRev makes the deploy fail with ErrRevisionMismatch unless the
// running definition has the given revision. An empty rev skips the check
func ExpectRev(rev string) DeployOption {
	return func(o *deployOptions) {
		o.rev = rev
	}
}

// Deploy replaces the running definition. Only one deploy runs at a time;
// a concurrent call fails immediately with ErrDeployInProgress. When the
// new definition cannot be persisted, the deploy stays in effect and the
// returned error wraps ErrPersistFlows
func (e *Engine) Deploy(
	ctx context.Context, def *api.Definition, mode api.DeployMode,
	opts ...DeployOption,
) (*api.DeployResult, error) {
	if !e.deployMu.TryLock() {
		return nil, ErrDeployInProgress
	}
	defer e.deployMu.Unlock()

	o := &deployOptions{}
	for _, opt := range opts {
		opt(o)
	}
	start := e.deps.Clock()
	res, err := e.deploy(ctx, def, mode, o)
	e.deps.Metrics.recordDeploy(mode, err, e.deps.Clock().Sub(start))
	return res, err
}

func (e *Engine) deploy(
	ctx context.Context, def *api.Definition, mode api.DeployMode,
	o *deployOptions,
) (*api.DeployResult, error) {
	if _, err := api.ParseDeployMode(string(mode)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if def == nil {
		def = &api.Definition{}
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := def.Resolve(e.deps.Registry); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	prev := e.topology.Load()
	if o.rev != "" && o.rev != prev.def.Rev() {
		return nil, fmt.Errorf("%w: %s", ErrRevisionMismatch, o.rev)
	}

	d := diff.Compute(prev.def, def)
	res := &api.DeployResult{Diff: d, Rev: def.Rev(), Mode: mode}

	out, err := e.transition(&transition{
		def:     def,
		active:  e.activeFlows(def),
		restart: restartSet(mode, d),
	})
	if err != nil {
		return nil, err
	}

	if err := e.clearContexts(ctx, mode, d, out); err != nil {
		e.log.Warn("Context reset failed", log.Error(err))
	}
	e.finishFlows(out, e.startUnits(out.fresh))
	for id := range e.stopped {
		if _, ok := def.FlowByID(id); !ok {
			e.stopped.Remove(id)
		}
	}

	e.log.Audit("Flows deployed",
		log.User(actor(ctx)),
		"mode", mode,
		"rev", res.Rev,
		"added", len(d.Added),
		"changed", len(d.Changed),
		"removed", len(d.Removed),
		"rewired", len(d.Rewired))
	e.deps.Hub.Publish(api.TopicDeploy, res)

	if e.deps.Store != nil {
		if err := e.deps.Store.Save(ctx, def); err != nil {
			err = fmt.Errorf("%w: %w", ErrPersistFlows, err)
			e.log.Error("Deployed flows were not saved", log.Error(err))
			return res, err
		}
	}
	return res, nil
}

// restartSet decides which instances a deploy replaces. Nodes inside a
// subflow instance follow the instance node they were expanded from
func restartSet(mode api.DeployMode, d *api.DeployDiff) func(*unitSpec) bool {
	switch mode {
	case api.DeployNodes:
		ids := util.SetOf(slices.Concat(d.Added, d.Changed)...)
		return func(s *unitSpec) bool {
			return ids.Contains(s.origin)
		}
	case api.DeployFlows:
		ids := util.SetOf(slices.Concat(d.Added, d.Changed)...)
		flows := util.SetOf(d.ChangedFlows...)
		return func(s *unitSpec) bool {
			return ids.Contains(s.origin) || flows.Contains(s.flow)
		}
	default:
		return func(*unitSpec) bool { return true }
	}
}

// transition constructs every new instance, publishes the new topology,
// hands pending messages over, and closes what was replaced. Nothing
// running is touched when a constructor fails
func (e *Engine) transition(tr *transition) (*outcome, error) {
	p, err := buildPlan(tr.def, tr.active)
	if err != nil {
		return nil, err
	}

	prev := e.topology.Load()
	next := newTopology(p)
	out := &outcome{prev: prev, next: next}
	for _, spec := range p.ordered() {
		if u, ok := prev.units[spec.id]; ok && reusable(u, spec, tr) {
			next.units[spec.id] = u
			continue
		}
		u, err := e.newUnit(spec, next)
		if err != nil {
			e.closeUnits(out.fresh)
			return nil, fmt.Errorf("%w: node %s: %w",
				ErrConfiguration, spec.id, err)
		}
		next.units[spec.id] = u
		out.fresh = append(out.fresh, u)
	}
	next.index()

	var stale []*dispatcher
	for flow, d := range prev.dispatchers {
		if next.active.Contains(flow) {
			next.dispatchers[flow] = d
			continue
		}
		stale = append(stale, d)
	}
	for flow := range next.active {
		if _, ok := next.dispatchers[flow]; !ok {
			d := newDispatcher(flow, e.log, e.dispatch)
			d.start()
			next.dispatchers[flow] = d
		}
	}

	for _, flow := range util.Sorted(next.active) {
		if !prev.active.Contains(flow) {
			e.setFlowStatus(flow, api.FlowStarting, nil)
		}
	}
	e.topology.Store(next)
	e.deps.Metrics.setActive(len(next.active), len(next.units))

	for id, old := range prev.units {
		if nu, ok := next.units[id]; ok && nu == old {
			continue
		}
		out.retired = append(out.retired, old)
		e.transfer(old, next.units[id])
	}
	e.closeUnits(out.retired)
	for _, d := range stale {
		d.flush()
	}
	return out, nil
}

func reusable(u *unit, spec *unitSpec, tr *transition) bool {
	return u.spec.def.Type == spec.def.Type && u.spec.flow == spec.flow &&
		!tr.restart(spec)
}

// transfer moves the pending messages of a replaced instance, in order,
// ahead of anything its replacement already received
func (e *Engine) transfer(old, next *unit) {
	pending := old.inbox.drain()
	if len(pending) == 0 {
		return
	}
	if next != nil && next.recv != nil {
		next.inbox.prepend(pending)
		return
	}
	old.log.Warn("Pending messages dropped, node was removed",
		"count", len(pending))
	for range pending {
		e.deps.Metrics.recordDrop(dropRemoved)
	}
	e.addInFlight(-int64(len(pending)))
}

// closeUnits closes instances concurrently, each bounded by the node
// close timeout
func (e *Engine) closeUnits(units []*unit) {
	var g errgroup.Group
	for _, u := range units {
		g.Go(func() error {
			e.closeUnit(u)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) closeUnit(u *unit) {
	ctx, cancel := context.WithTimeout(
		context.Background(), e.deps.NodeCloseTimeout,
	)
	defer cancel()

	u.halt()
	e.scheduler.CancelOwner(ctx, scheduler.Owner{
		Node: u.spec.id, Gen: u.gen,
	})
	u.unregisterHTTP()

	closed := make(chan error, 1)
	go func() {
		err := u.node.Close(ctx)
		if u.running.Load() {
			<-u.done
		}
		closed <- err
	}()

	select {
	case err := <-closed:
		if err != nil {
			u.log.Warn("Node close failed", log.Error(err))
		}
	case <-ctx.Done():
		e.deps.Metrics.recordCloseTimeout()
		u.log.Warn("Node abandoned",
			log.Error(fmt.Errorf("%w: %s", ErrShutdownTimeout,
				e.deps.NodeCloseTimeout)))
	}
	u.cancel()
	if u.status.Load() != nil {
		e.deps.Hub.PublishStatus(u.spec.id, nil)
	}
}

// startUnits launches the workers of new instances, then their Start
// hooks. Source nodes start last so downstream nodes are ready for them
func (e *Engine) startUnits(units []*unit) map[api.FlowID]error {
	failed := map[api.FlowID]error{}
	for _, u := range units {
		u.start()
	}
	for _, sources := range []bool{false, true} {
		for _, u := range units {
			if u.isSource() != sources {
				continue
			}
			s, ok := u.node.(nodes.Starter)
			if !ok {
				continue
			}
			if err := s.Start(u.ctx); err != nil {
				u.log.Error("Node failed to start", log.Error(err))
				if _, ok := failed[u.spec.flow]; !ok {
					failed[u.spec.flow] = err
				}
			}
		}
	}
	return failed
}

// finishFlows records the status of every flow a transition touched.
// Flows that kept all of their instances keep their status
func (e *Engine) finishFlows(out *outcome, failed map[api.FlowID]error) {
	touched := util.Set[api.FlowID]{}
	for _, u := range out.fresh {
		touched.Add(u.spec.flow)
	}
	for flow := range out.next.active {
		switch err, ok := failed[flow]; {
		case ok:
			e.setFlowStatus(flow, api.FlowErrored, err)
		case touched.Contains(flow) || !out.prev.active.Contains(flow):
			e.setFlowStatus(flow, api.FlowRunning, nil)
		}
	}
	for flow := range out.prev.active {
		if !out.next.active.Contains(flow) {
			e.setFlowStatus(flow, api.FlowStopped, nil)
		}
	}
}

// clearContexts resets the node and flow context scopes a deploy mode
// restarts. The global scope always survives
func (e *Engine) clearContexts(
	ctx context.Context, mode api.DeployMode, d *api.DeployDiff,
	out *outcome,
) error {
	scopes := util.Set[string]{}
	addNode := func(id api.NodeID) {
		scopes.Add(ctxstore.NodeScope(id))
	}
	addFlow := func(scope string) {
		scopes.Add(ctxstore.FlowScope(scope))
	}

	switch mode {
	case api.DeployFull:
		for _, def := range []*api.Definition{out.prev.def, out.next.def} {
			for _, n := range def.Nodes {
				addNode(n.ID)
			}
			for _, f := range def.Flows {
				addFlow(string(f.ID))
			}
		}
		for _, t := range []*topology{out.prev, out.next} {
			for id := range t.units {
				addNode(id)
			}
			for scope := range t.parents {
				addFlow(scope)
			}
		}

	case api.DeployNodes, api.DeployFlows:
		for _, u := range out.retired {
			addNode(u.spec.id)
		}
		for _, id := range slices.Concat(d.Changed, d.Removed) {
			addNode(id)
		}
		for _, id := range d.RemovedFlows {
			addFlow(string(id))
		}
		touched := util.SetOf(slices.Concat(d.Changed, d.Removed)...)
		flows := util.SetOf(d.RemovedFlows...)
		if mode == api.DeployFlows {
			for _, id := range d.ChangedFlows {
				flows.Add(id)
				addFlow(string(id))
			}
		}
		for _, t := range []*topology{out.prev, out.next} {
			for scope := range t.parents {
				if t.parents[scope] == "" {
					continue
				}
				origin, _, _ := strings.Cut(scope, "/")
				if touched.Contains(api.NodeID(origin)) ||
					flows.Contains(t.rootFlow(scope)) {
					addFlow(scope)
				}
			}
		}
	}

	if len(scopes) == 0 {
		return nil
	}
	var errs []error
	for _, scope := range util.Sorted(scopes) {
		if err := e.deps.Contexts.Clear(ctx, scope); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
