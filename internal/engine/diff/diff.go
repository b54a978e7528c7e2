// Package diff compares two deployable definitions at node granularity.
// Only nodes that run directly are reported: flow members and config
// nodes. A change inside a subflow template is reported as a change of
// every instance of that template
package diff

import (
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/util"
)

type comparison struct {
	old, next   *api.Definition
	oldNodes    map[api.NodeID]*api.NodeDef
	nextNodes   map[api.NodeID]*api.NodeDef
	added       util.Set[api.NodeID]
	removed     util.Set[api.NodeID]
	changed     util.Set[api.NodeID]
	rewired     util.Set[api.NodeID]
	templates   util.Set[api.FlowID]
	flowChanged util.Set[api.FlowID]
}

// Compute returns the differences between the running definition and
// next. A nil old definition reports every node as added
func Compute(old, next *api.Definition) *api.DeployDiff {
	if old == nil {
		old = &api.Definition{}
	}
	c := &comparison{
		old:         old,
		next:        next,
		oldNodes:    index(old),
		nextNodes:   index(next),
		added:       util.Set[api.NodeID]{},
		removed:     util.Set[api.NodeID]{},
		changed:     util.Set[api.NodeID]{},
		rewired:     util.Set[api.NodeID]{},
		templates:   util.Set[api.FlowID]{},
		flowChanged: util.Set[api.FlowID]{},
	}
	c.compareTemplates()
	c.compareNodes()
	c.propagateConfig()
	c.compareFlows()

	return &api.DeployDiff{
		Added:        util.Sorted(c.added),
		Removed:      util.Sorted(c.removed),
		Changed:      util.Sorted(c.changed),
		Rewired:      util.Sorted(c.rewired),
		ChangedFlows: util.Sorted(c.flowChanged),
		RemovedFlows: removedFlows(old, next),
	}
}

// compareTemplates finds subflow templates whose ports or inner nodes
// differ, including templates that instantiate a changed template
func (c *comparison) compareTemplates() {
	for _, s := range c.next.Subflows {
		prev, ok := c.old.SubflowByID(s.ID)
		if !ok || prev.Fingerprint() != s.Fingerprint() ||
			membersDiffer(c.old, c.next, s.ID) {
			c.templates.Add(s.ID)
		}
	}
	for grew := true; grew; {
		grew = false
		for _, s := range c.next.Subflows {
			if c.templates.Contains(s.ID) {
				continue
			}
			for _, n := range c.next.FlowNodes(s.ID) {
				tpl, ok := api.SubflowTemplate(n.Type)
				if ok && c.templates.Contains(tpl) {
					c.templates.Add(s.ID)
					grew = true
					break
				}
			}
		}
	}
}

func (c *comparison) compareNodes() {
	for id, n := range c.nextNodes {
		prev, ok := c.oldNodes[id]
		switch {
		case !ok:
			c.added.Add(id)
		case prev.Fingerprint() != n.Fingerprint():
			c.changed.Add(id)
		case c.instanceChanged(n):
			c.changed.Add(id)
		case !prev.WiresEqual(n):
			c.rewired.Add(id)
		}
	}
	for id := range c.oldNodes {
		if _, ok := c.nextNodes[id]; !ok {
			c.removed.Add(id)
		}
	}
}

// propagateConfig marks nodes as changed when a config node they
// reference was added, removed, or changed
func (c *comparison) propagateConfig() {
	isConfig := func(id api.NodeID) bool {
		if n, ok := c.nextNodes[id]; ok {
			return n.Kind == api.KindConfig
		}
		if n, ok := c.oldNodes[id]; ok {
			return n.Kind == api.KindConfig
		}
		return false
	}
	dirty := func(id api.NodeID) bool {
		return c.added.Contains(id) || c.removed.Contains(id) ||
			c.changed.Contains(id)
	}

	for grew := true; grew; {
		grew = false
		for id, n := range c.nextNodes {
			if c.added.Contains(id) || c.changed.Contains(id) {
				continue
			}
			refs := referenced(n, c.oldNodes[id], isConfig)
			if tpl, ok := api.SubflowTemplate(n.Type); ok {
				refs = append(refs, c.templateRefs(tpl, isConfig,
					util.Set[api.FlowID]{})...)
			}
			for _, ref := range refs {
				if dirty(ref) {
					c.rewired.Remove(id)
					c.changed.Add(id)
					grew = true
					break
				}
			}
		}
	}
}

func (c *comparison) compareFlows() {
	for _, f := range c.next.Flows {
		prev, ok := c.old.FlowByID(f.ID)
		if !ok || prev.Fingerprint() != f.Fingerprint() {
			c.flowChanged.Add(f.ID)
		}
	}
	mark := func(nodes map[api.NodeID]*api.NodeDef, ids util.Set[api.NodeID]) {
		for id := range ids {
			n, ok := nodes[id]
			if !ok || n.Flow == api.GlobalFlow {
				continue
			}
			if _, ok := c.next.FlowByID(n.Flow); ok {
				c.flowChanged.Add(n.Flow)
			}
		}
	}
	mark(c.nextNodes, c.added)
	mark(c.nextNodes, c.changed)
	mark(c.nextNodes, c.rewired)
	mark(c.oldNodes, c.removed)
}

// templateRefs collects the config nodes referenced from inside a
// subflow template, following nested instances
func (c *comparison) templateRefs(
	tpl api.FlowID, known func(api.NodeID) bool, seen util.Set[api.FlowID],
) []api.NodeID {
	if seen.Contains(tpl) {
		return nil
	}
	seen.Add(tpl)
	var res []api.NodeID
	for _, n := range c.next.FlowNodes(tpl) {
		res = append(res, n.References(known)...)
		if inner, ok := api.SubflowTemplate(n.Type); ok {
			res = append(res, c.templateRefs(inner, known, seen)...)
		}
	}
	return res
}

func (c *comparison) instanceChanged(n *api.NodeDef) bool {
	tpl, ok := api.SubflowTemplate(n.Type)
	return ok && c.templates.Contains(tpl)
}

// index collects the nodes that run directly: members of flows and
// global config nodes
func index(def *api.Definition) map[api.NodeID]*api.NodeDef {
	res := make(map[api.NodeID]*api.NodeDef, len(def.Nodes))
	for _, n := range def.Nodes {
		if _, ok := def.SubflowByID(n.Flow); ok {
			continue
		}
		res[n.ID] = n
	}
	return res
}

func membersDiffer(old, next *api.Definition, id api.FlowID) bool {
	prev := old.FlowNodes(id)
	cur := next.FlowNodes(id)
	if len(prev) != len(cur) {
		return true
	}
	byID := make(map[api.NodeID]*api.NodeDef, len(prev))
	for _, n := range prev {
		byID[n.ID] = n
	}
	for _, n := range cur {
		p, ok := byID[n.ID]
		if !ok || p.Fingerprint() != n.Fingerprint() || !p.WiresEqual(n) {
			return true
		}
	}
	return false
}

func referenced(
	n, prev *api.NodeDef, known func(api.NodeID) bool,
) []api.NodeID {
	res := n.References(known)
	if prev != nil {
		res = append(res, prev.References(known)...)
	}
	return res
}

func removedFlows(old, next *api.Definition) []api.FlowID {
	res := util.Set[api.FlowID]{}
	for _, f := range old.Flows {
		if _, ok := next.FlowByID(f.ID); !ok {
			res.Add(f.ID)
		}
	}
	return util.Sorted(res)
}
