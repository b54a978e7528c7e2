package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
	"github.com/kode4food/wireflow/pkg/util"
)

const idlePollInterval = 10 * time.Millisecond

// Start launches the timer scheduler, loads the stored definition, and
// starts its flows. Calling Start on a running engine does nothing
func (e *Engine) Start(ctx context.Context) error {
	e.deployMu.Lock()
	defer e.deployMu.Unlock()

	if e.isRunning() {
		return nil
	}

	def := e.topology.Load().def
	if e.deps.Store != nil {
		loaded, err := e.deps.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrLoadFlows, err)
		}
		def = loaded
	}
	if err := def.Resolve(e.deps.Registry); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Go(func() {
		e.scheduler.Run(runCtx)
	})
	e.setRunning(true, true)

	e.topology.Store(emptyTopology(def))
	if err := e.startFlows(); err != nil {
		e.cancel()
		e.wg.Wait()
		e.setRunning(false, false)
		return err
	}
	e.log.Info("Engine started",
		"flows", len(def.Flows),
		"rev", def.Rev())
	return nil
}

// Stop drains and closes every running node and stops the scheduler.
// Input nodes are closed first, then Stop waits for in-flight messages
// until ctx is done or the stop timeout passes, whichever comes first.
// Calling Stop on a stopped engine does nothing
func (e *Engine) Stop(ctx context.Context) error {
	e.deployMu.Lock()
	defer e.deployMu.Unlock()

	if !e.isRunning() {
		return nil
	}
	err := e.drain(ctx)
	e.cancel()
	e.wg.Wait()
	e.setRunning(false, false)
	e.log.Info("Engine stopped")
	return err
}

// RuntimeState reports whether the flows are started or stopped
func (e *Engine) RuntimeState() api.RuntimeState {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	if e.started {
		return api.RuntimeStarted
	}
	return api.RuntimeStopped
}

// SetRuntimeState starts or stops every flow without touching the
// definition. The engine itself keeps running
func (e *Engine) SetRuntimeState(
	ctx context.Context, state api.RuntimeState,
) error {
	if !e.deployMu.TryLock() {
		return ErrDeployInProgress
	}
	defer e.deployMu.Unlock()

	if !e.isRunning() {
		return ErrNotStarted
	}
	if state == e.RuntimeState() {
		return nil
	}

	var err error
	switch state {
	case api.RuntimeStarted:
		e.setRunning(true, true)
		err = e.startFlows()
	case api.RuntimeStopped:
		err = e.drain(ctx)
		e.setRunning(true, false)
	default:
		return fmt.Errorf("%w: unknown runtime state %q",
			ErrConfiguration, state)
	}

	e.log.Audit("Runtime state changed",
		log.User(actor(ctx)),
		"state", state)
	e.deps.Hub.Publish(api.TopicRuntimeState,
		&api.FlowStateResponse{State: state},
	)
	return err
}

// StartFlow starts one flow that was stopped with StopFlow
func (e *Engine) StartFlow(ctx context.Context, id api.FlowID) error {
	return e.toggleFlow(ctx, id, false)
}

// StopFlow stops one flow. It stays stopped across deploys until
// StartFlow is called or the flow is removed
func (e *Engine) StopFlow(ctx context.Context, id api.FlowID) error {
	return e.toggleFlow(ctx, id, true)
}

func (e *Engine) toggleFlow(
	ctx context.Context, id api.FlowID, stop bool,
) error {
	if !e.deployMu.TryLock() {
		return ErrDeployInProgress
	}
	defer e.deployMu.Unlock()

	def := e.topology.Load().def
	if _, ok := def.FlowByID(id); !ok {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	if stop == e.stopped.Contains(id) {
		return nil
	}
	if stop {
		e.stopped.Add(id)
		e.setFlowStatus(id, api.FlowStopping, nil)
	} else {
		e.stopped.Remove(id)
	}

	if err := e.startFlows(); err != nil {
		return err
	}
	verb := "Flow started"
	if stop {
		verb = "Flow stopped"
	}
	e.log.Audit(verb, log.User(actor(ctx)), log.FlowID(id))
	return nil
}

// startFlows brings the running topology in line with the set of flows
// that should be active, keeping every instance that may keep running
func (e *Engine) startFlows() error {
	def := e.topology.Load().def
	out, err := e.transition(&transition{
		def:     def,
		active:  e.activeFlows(def),
		restart: func(*unitSpec) bool { return false },
	})
	if err != nil {
		for _, f := range def.Flows {
			if !f.Disabled {
				e.setFlowStatus(f.ID, api.FlowErrored, err)
			}
		}
		return err
	}
	e.finishFlows(out, e.startUnits(out.fresh))
	return nil
}

// drain stops every flow. Input nodes close first so no new messages
// enter; then the remaining nodes close once in-flight messages settle,
// ctx is done, or the stop timeout passes
func (e *Engine) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.deps.StopTimeout)
	defer cancel()

	t := e.topology.Load()
	for flow := range t.active {
		e.setFlowStatus(flow, api.FlowStopping, nil)
	}

	var sources, rest []*unit
	for _, u := range t.units {
		if u.isSource() {
			sources = append(sources, u)
			continue
		}
		rest = append(rest, u)
	}
	e.closeUnits(sources)
	err := e.waitIdle(ctx)
	if err != nil {
		e.log.Warn("Stopping with messages in flight",
			"in_flight", e.InFlight(),
			log.Error(err))
	}

	e.topology.Store(emptyTopology(t.def))
	e.deps.Metrics.setActive(0, 0)
	for _, u := range rest {
		e.transfer(u, nil)
	}
	e.closeUnits(rest)
	for _, d := range t.dispatchers {
		d.flush()
	}
	for flow := range t.active {
		e.setFlowStatus(flow, api.FlowStopped, nil)
	}
	return err
}

func (e *Engine) waitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for e.InFlight() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// activeFlows lists the flows of def that should be running
func (e *Engine) activeFlows(def *api.Definition) util.Set[api.FlowID] {
	res := util.Set[api.FlowID]{}
	if e.RuntimeState() != api.RuntimeStarted {
		return res
	}
	for _, f := range def.Flows {
		if !f.Disabled && !e.stopped.Contains(f.ID) {
			res.Add(f.ID)
		}
	}
	return res
}

func (e *Engine) isRunning() bool {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.running
}

func (e *Engine) setRunning(running, started bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if running && !e.running {
		e.startedAt = e.deps.Clock()
	}
	e.running = running
	e.started = started
}

func (e *Engine) setFlowStatus(
	id api.FlowID, status api.FlowStatus, err error,
) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.flows[id] = &flowState{status: status, err: err}
}

func (e *Engine) flowStatus(id api.FlowID) (*flowState, bool) {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	st, ok := e.flows[id]
	return st, ok
}
