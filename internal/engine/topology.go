package engine

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/util"
)

type (
	// topology is an immutable snapshot of everything that is running.
	// Deploys build a new one and publish it atomically
	topology struct {
		def         *api.Definition
		units       map[api.NodeID]*unit
		routes      map[api.NodeID][][]api.PortRef
		catchers    map[string][]*unit
		parents     map[string]string
		dispatchers map[api.FlowID]*dispatcher
		active      util.Set[api.FlowID]
	}

	// unitSpec describes one node instance to run. Nodes inside subflow
	// instances get derived ids and are restarted with their instance
	unitSpec struct {
		def    *api.NodeDef
		id     api.NodeID
		origin api.NodeID
		flow   api.FlowID
		scope  string
	}

	// plan is the expansion of a definition into runnable units, with
	// every wire resolved through subflow instance boundaries
	plan struct {
		def       *api.Definition
		specs     []*unitSpec
		routes    map[api.NodeID][][]api.PortRef
		parents   map[string]string
		active    util.Set[api.FlowID]
		graph     map[api.NodeID]*graphNode
		templates map[api.FlowID]*api.SubflowDef
	}

	// graphNode is a unit or subflow instance inside the expanded graph
	graphNode struct {
		def      *api.NodeDef
		template *api.SubflowDef
		wires    [][]api.PortRef
		id       api.NodeID
		owner    api.NodeID
	}
)

func emptyTopology(def *api.Definition) *topology {
	if def == nil {
		def = &api.Definition{}
	}
	return &topology{
		def:         def,
		units:       map[api.NodeID]*unit{},
		routes:      map[api.NodeID][][]api.PortRef{},
		catchers:    map[string][]*unit{},
		parents:     map[string]string{},
		dispatchers: map[api.FlowID]*dispatcher{},
		active:      util.Set[api.FlowID]{},
	}
}

// buildPlan expands the active flows of a resolved definition
func buildPlan(def *api.Definition, active util.Set[api.FlowID]) (
	*plan, error,
) {
	p := &plan{
		def:       def,
		routes:    map[api.NodeID][][]api.PortRef{},
		parents:   map[string]string{},
		active:    active,
		graph:     map[api.NodeID]*graphNode{},
		templates: map[api.FlowID]*api.SubflowDef{},
	}
	for _, s := range def.Subflows {
		p.templates[s.ID] = s
	}

	if !active.IsEmpty() {
		for _, n := range def.FlowNodes(api.GlobalFlow) {
			p.specs = append(p.specs, &unitSpec{
				def: n, id: n.ID, origin: n.ID,
			})
		}
	}
	for _, f := range def.Flows {
		if !active.Contains(f.ID) {
			continue
		}
		p.parents[string(f.ID)] = ""
		err := p.expand(f.ID, "", "", def.FlowNodes(f.ID), nil)
		if err != nil {
			return nil, err
		}
	}
	for _, s := range p.specs {
		if g, ok := p.graph[s.id]; ok {
			p.routes[s.id] = p.outputs(g)
		}
	}
	return p, nil
}

// expand adds the members of one graph. prefix is the enclosing subflow
// instance id, empty at the top level of a flow
func (p *plan) expand(
	flow api.FlowID, prefix, origin api.NodeID, members []*api.NodeDef,
	stack []api.FlowID,
) error {
	scope := string(flow)
	if prefix != "" {
		scope = string(prefix)
	}
	for _, n := range members {
		id, from := n.ID, n.ID
		if prefix != "" {
			id, from = prefix.Child(n.ID), origin
		}
		g := &graphNode{
			def:   n,
			id:    id,
			owner: prefix,
			wires: prefixWires(prefix, n.Wires),
		}
		p.graph[id] = g

		if n.Kind != api.KindSubflow {
			p.specs = append(p.specs, &unitSpec{
				def:    n,
				id:     id,
				origin: from,
				flow:   flow,
				scope:  scope,
			})
			continue
		}

		tplID, _ := api.SubflowTemplate(n.Type)
		if slices.Contains(stack, tplID) {
			return fmt.Errorf("%w: %w: %s", ErrConfiguration,
				api.ErrSubflowRecursion, tplID)
		}
		g.template = p.templates[tplID]
		p.parents[string(id)] = scope
		err := p.expand(flow, id, from, p.def.FlowNodes(tplID),
			append(slices.Clone(stack), tplID),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// outputs resolves every output port of a graph node to the unit input
// ports it ultimately feeds
func (p *plan) outputs(g *graphNode) [][]api.PortRef {
	n := len(g.wires)
	if owner, ok := p.graph[g.owner]; ok && owner.template != nil {
		for _, port := range owner.template.Out {
			for _, ref := range port {
				if ref.Node == g.def.ID {
					n = max(n, ref.Port+1)
				}
			}
		}
	}
	res := make([][]api.PortRef, n)
	for port := range n {
		res[port] = p.portTargets(g, port)
	}
	return res
}

func (p *plan) portTargets(g *graphNode, port int) []api.PortRef {
	var res []api.PortRef
	if port < len(g.wires) {
		for _, ref := range g.wires[port] {
			res = append(res, p.inputs(ref)...)
		}
	}
	owner, ok := p.graph[g.owner]
	if !ok || owner.template == nil {
		return res
	}
	for out, refs := range owner.template.Out {
		for _, ref := range refs {
			if ref.Node == g.def.ID && ref.Port == port {
				res = append(res, p.portTargets(owner, out)...)
			}
		}
	}
	return res
}

// inputs follows a wire into subflow instances until it reaches units
func (p *plan) inputs(ref api.PortRef) []api.PortRef {
	g, ok := p.graph[ref.Node]
	if !ok || g.template == nil {
		return []api.PortRef{ref}
	}
	if ref.Port >= len(g.template.In) {
		return nil
	}
	var res []api.PortRef
	for _, inner := range g.template.In[ref.Port] {
		res = append(res, p.inputs(api.PortRef{
			Node: g.id.Child(inner.Node),
			Port: inner.Port,
		})...)
	}
	return res
}

// ordered returns the specs with config nodes first, so that other
// constructors can look them up
func (p *plan) ordered() []*unitSpec {
	res := slices.Clone(p.specs)
	slices.SortStableFunc(res, func(a, b *unitSpec) int {
		ac := a.def.Kind == api.KindConfig
		bc := b.def.Kind == api.KindConfig
		switch {
		case ac && !bc:
			return -1
		case bc && !ac:
			return 1
		default:
			return 0
		}
	})
	return res
}

// scopes lists the flow context scopes of the plan: flows and subflow
// instances
func (p *plan) scopes() []string {
	res := make([]string, 0, len(p.parents))
	for s := range p.parents {
		res = append(res, s)
	}
	return res
}

func newTopology(p *plan) *topology {
	t := emptyTopology(p.def)
	t.routes = p.routes
	t.parents = p.parents
	t.active = p.active
	return t
}

// index records the catch nodes of every scope once all units exist
func (t *topology) index() {
	for _, u := range t.units {
		if _, ok := u.node.(nodes.Catcher); ok && u.spec.scope != "" {
			t.catchers[u.spec.scope] = append(t.catchers[u.spec.scope], u)
		}
	}
	for _, list := range t.catchers {
		slices.SortFunc(list, func(a, b *unit) int {
			return cmp.Compare(a.spec.id, b.spec.id)
		})
	}
}

// lookupConfig finds a config node visible from a scope, preferring one
// declared inside the same subflow instance
func (t *topology) lookupConfig(scope string, id api.NodeID) (*unit, bool) {
	for s := scope; s != ""; s = t.parents[s] {
		if _, isFlow := t.def.FlowByID(api.FlowID(s)); isFlow {
			break
		}
		if u, ok := t.units[api.NodeID(s).Child(id)]; ok {
			return u, u.spec.def.Kind == api.KindConfig
		}
	}
	u, ok := t.units[id]
	if !ok {
		return nil, false
	}
	return u, u.spec.def.Kind == api.KindConfig
}

// rootFlow returns the flow a context scope belongs to
func (t *topology) rootFlow(scope string) api.FlowID {
	for {
		parent, ok := t.parents[scope]
		if !ok || parent == "" {
			return api.FlowID(scope)
		}
		scope = parent
	}
}

func (t *topology) flowUnits(flow api.FlowID) []*unit {
	var res []*unit
	for _, u := range t.units {
		if u.spec.flow == flow {
			res = append(res, u)
		}
	}
	return res
}

func prefixWires(prefix api.NodeID, wires [][]api.PortRef) [][]api.PortRef {
	if prefix == "" {
		return wires
	}
	res := make([][]api.PortRef, len(wires))
	for i, port := range wires {
		res[i] = make([]api.PortRef, len(port))
		for j, ref := range port {
			res[i][j] = api.PortRef{Node: prefix.Child(ref.Node), Port: ref.Port}
		}
	}
	return res
}
