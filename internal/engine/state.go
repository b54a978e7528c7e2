package engine

import (
	"time"

	"github.com/kode4food/wireflow/pkg/api"
)

// State reports the status of every flow and running node
func (e *Engine) State() *api.EngineState {
	t := e.topology.Load()

	e.statusMu.RLock()
	res := &api.EngineState{
		StartedAt: e.startedAt,
		Flows:     make(map[api.FlowID]*api.FlowState, len(t.def.Flows)),
		State:     api.RuntimeStopped,
		Rev:       t.def.Rev(),
		InFlight:  e.InFlight(),
	}
	if e.started {
		res.State = api.RuntimeStarted
	}
	if !e.running {
		res.StartedAt = time.Time{}
	}
	for _, f := range t.def.Flows {
		fs := &api.FlowState{
			Nodes:    map[api.NodeID]*api.NodeState{},
			ID:       f.ID,
			Label:    f.Label,
			Status:   api.FlowStopped,
			Disabled: f.Disabled,
		}
		if st, ok := e.flows[f.ID]; ok {
			fs.Status = st.status
			if st.err != nil {
				fs.Error = st.err.Error()
			}
		} else if t.active.Contains(f.ID) {
			fs.Status = api.FlowRunning
		}
		res.Flows[f.ID] = fs
	}
	e.statusMu.RUnlock()

	for _, u := range t.units {
		if fs, ok := res.Flows[u.spec.flow]; ok {
			fs.Nodes[u.spec.id] = u.state()
		}
	}
	return res
}

// FlowState reports the status of one flow
func (e *Engine) FlowState(id api.FlowID) (*api.FlowState, bool) {
	fs, ok := e.State().Flows[id]
	return fs, ok
}
