package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

type (
	// FlowDef is a flow (tab): a named, independently runnable wire graph
	FlowDef struct {
		Props    map[string]any `json:"-"`
		ID       FlowID         `json:"id"`
		Label    string         `json:"label,omitempty"`
		Disabled bool           `json:"disabled,omitempty"`
		Info     string         `json:"info,omitempty"`
	}

	// SubflowDef is a reusable wire graph template. In lists the nodes fed
	// by each instance input; Out lists, per instance output, the inner
	// (node, output port) pairs whose messages leave the instance
	SubflowDef struct {
		ID   FlowID      `json:"id"`
		Name string      `json:"name,omitempty"`
		In   [][]PortRef `json:"-"`
		Out  [][]PortRef `json:"-"`
	}

	// Definition is a complete deployable document
	Definition struct {
		Flows    []*FlowDef
		Subflows []*SubflowDef
		Nodes    []*NodeDef
	}

	// FlowDocument is the single-flow view used by the per-flow admin API
	FlowDocument struct {
		ID       FlowID     `json:"id"`
		Label    string     `json:"label,omitempty"`
		Disabled bool       `json:"disabled,omitempty"`
		Info     string     `json:"info,omitempty"`
		Nodes    []*NodeDef `json:"nodes"`
	}

	subflowPort struct {
		Wires []PortRef `json:"wires"`
	}

	typeHeader struct {
		Type string `json:"type"`
	}
)

const (
	FlowType    = "tab"
	SubflowType = "subflow"
)

var (
	ErrInvalidDefinition = errors.New("invalid flow definition")
	ErrDuplicateID       = errors.New("duplicate id")
	ErrMissingID         = errors.New("missing id")
	ErrMissingType       = errors.New("missing type")
	ErrUnknownOwner      = errors.New("node references unknown flow")
	ErrDanglingWire      = errors.New("wire references unknown node")
	ErrCrossFlowWire     = errors.New("wire crosses flow boundary")
	ErrUnknownType       = errors.New("unknown node type")
	ErrUnknownSubflow    = errors.New("unknown subflow template")
	ErrKindWiring        = errors.New("wiring not allowed for node kind")
	ErrSubflowRecursion  = errors.New("subflow instantiates itself")
)

// ParseDefinition decodes a JSON array of flow, subflow, and node objects
// and validates its structure
func ParseDefinition(data []byte) (*Definition, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	def := &Definition{}
	for i, item := range items {
		var head typeHeader
		if err := json.Unmarshal(item, &head); err != nil {
			return nil, fmt.Errorf("%w: item %d: %w",
				ErrInvalidDefinition, i, err)
		}
		switch head.Type {
		case FlowType:
			var f FlowDef
			if err := json.Unmarshal(item, &f); err != nil {
				return nil, fmt.Errorf("%w: item %d: %w",
					ErrInvalidDefinition, i, err)
			}
			def.Flows = append(def.Flows, &f)
		case SubflowType:
			var s SubflowDef
			if err := json.Unmarshal(item, &s); err != nil {
				return nil, fmt.Errorf("%w: item %d: %w",
					ErrInvalidDefinition, i, err)
			}
			def.Subflows = append(def.Subflows, &s)
		default:
			var n NodeDef
			if err := json.Unmarshal(item, &n); err != nil {
				return nil, fmt.Errorf("%w: item %d: %w",
					ErrInvalidDefinition, i, err)
			}
			def.Nodes = append(def.Nodes, &n)
		}
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks ids, ownership, and that every wire stays inside the
// graph that owns its source node
func (d *Definition) Validate() error {
	owners := map[FlowID]bool{}
	ids := map[string]bool{}
	claim := func(id string) error {
		if id == "" {
			return fmt.Errorf("%w: %w", ErrInvalidDefinition, ErrMissingID)
		}
		if ids[id] {
			return fmt.Errorf("%w: %w: %s",
				ErrInvalidDefinition, ErrDuplicateID, id)
		}
		ids[id] = true
		return nil
	}

	for _, f := range d.Flows {
		if err := claim(string(f.ID)); err != nil {
			return err
		}
		owners[f.ID] = true
	}
	for _, s := range d.Subflows {
		if err := claim(string(s.ID)); err != nil {
			return err
		}
		owners[s.ID] = true
	}

	nodes := make(map[NodeID]*NodeDef, len(d.Nodes))
	for _, n := range d.Nodes {
		if err := claim(string(n.ID)); err != nil {
			return err
		}
		if n.Type == "" {
			return fmt.Errorf("%w: %w: %s",
				ErrInvalidDefinition, ErrMissingType, n.ID)
		}
		if n.Flow != GlobalFlow && !owners[n.Flow] {
			return fmt.Errorf("%w: %w: %s -> %s",
				ErrInvalidDefinition, ErrUnknownOwner, n.ID, n.Flow)
		}
		nodes[n.ID] = n
	}

	for _, n := range d.Nodes {
		for _, port := range n.Wires {
			for _, ref := range port {
				if err := checkWire(nodes, n.Flow, n.ID, ref); err != nil {
					return err
				}
			}
		}
	}

	for _, s := range d.Subflows {
		for _, port := range s.In {
			for _, ref := range port {
				if err := checkWire(nodes, s.ID, NodeID(s.ID), ref); err != nil {
					return err
				}
			}
		}
		for _, port := range s.Out {
			for _, ref := range port {
				if err := checkWire(nodes, s.ID, NodeID(s.ID), ref); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Resolve assigns each node its kind and enforces the per-kind wiring
// rules: nodes without an input port cannot be wire targets and nodes
// without output ports cannot carry wires
func (d *Definition) Resolve(types TypeResolver) error {
	templates := map[FlowID]*SubflowDef{}
	for _, s := range d.Subflows {
		templates[s.ID] = s
	}

	byID := make(map[NodeID]*NodeDef, len(d.Nodes))
	for _, n := range d.Nodes {
		byID[n.ID] = n
		if tpl, ok := SubflowTemplate(n.Type); ok {
			if templates[tpl] == nil {
				return fmt.Errorf("%w: %w: %s",
					ErrInvalidDefinition, ErrUnknownSubflow, tpl)
			}
			if tpl == n.Flow {
				return fmt.Errorf("%w: %w: %s",
					ErrInvalidDefinition, ErrSubflowRecursion, n.ID)
			}
			if n.Kind != KindSubflow {
				n.Kind = KindSubflow
			}
			continue
		}
		kind, ok := types.NodeKind(n.Type)
		if !ok {
			return fmt.Errorf("%w: %w: %s (%s)",
				ErrInvalidDefinition, ErrUnknownType, n.Type, n.ID)
		}
		if n.Kind != kind {
			n.Kind = kind
		}
	}

	for _, n := range d.Nodes {
		if n.Flow == GlobalFlow && n.Kind != KindConfig {
			return fmt.Errorf("%w: %w: %s",
				ErrInvalidDefinition, ErrUnknownOwner, n.ID)
		}
		if !n.Kind.HasOutputPorts() && hasWires(n.Wires) {
			return fmt.Errorf("%w: %w: %s node %s has wires",
				ErrInvalidDefinition, ErrKindWiring, n.Kind, n.ID)
		}
		for _, port := range n.Wires {
			for _, ref := range port {
				target := byID[ref.Node]
				if !target.Kind.HasInputPort() {
					return fmt.Errorf("%w: %w: %s node %s is a wire target",
						ErrInvalidDefinition, ErrKindWiring, target.Kind,
						target.ID)
				}
			}
		}
	}
	return nil
}

// Rev returns a content hash of the definition used for optimistic
// concurrency on deploy
func (d *Definition) Rev() string {
	data, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MarshalJSON writes the document form: flows, subflows, then nodes
func (d *Definition) MarshalJSON() ([]byte, error) {
	items := make([]any, 0, len(d.Flows)+len(d.Subflows)+len(d.Nodes))
	for _, f := range d.Flows {
		items = append(items, f)
	}
	for _, s := range d.Subflows {
		items = append(items, s)
	}
	for _, n := range d.Nodes {
		items = append(items, n)
	}
	return json.Marshal(items)
}

// NodeByID finds a node definition
func (d *Definition) NodeByID(id NodeID) (*NodeDef, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// FlowByID finds a flow definition
func (d *Definition) FlowByID(id FlowID) (*FlowDef, bool) {
	for _, f := range d.Flows {
		if f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// SubflowByID finds a subflow template
func (d *Definition) SubflowByID(id FlowID) (*SubflowDef, bool) {
	for _, s := range d.Subflows {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// FlowNodes returns the nodes owned by a flow or subflow template
func (d *Definition) FlowNodes(id FlowID) []*NodeDef {
	var res []*NodeDef
	for _, n := range d.Nodes {
		if n.Flow == id {
			res = append(res, n)
		}
	}
	return res
}

// Document extracts a single flow for the per-flow admin API
func (d *Definition) Document(id FlowID) (*FlowDocument, bool) {
	f, ok := d.FlowByID(id)
	if !ok {
		return nil, false
	}
	return &FlowDocument{
		ID:       f.ID,
		Label:    f.Label,
		Disabled: f.Disabled,
		Info:     f.Info,
		Nodes:    d.FlowNodes(id),
	}, true
}

// WithFlow returns a copy of the definition where the flow named by doc,
// and every node it owns, is replaced by doc's content
func (d *Definition) WithFlow(doc *FlowDocument) *Definition {
	res, _ := d.WithoutFlow(doc.ID)
	flow := &FlowDef{
		ID:       doc.ID,
		Label:    doc.Label,
		Disabled: doc.Disabled,
		Info:     doc.Info,
	}
	if old, ok := d.FlowByID(doc.ID); ok {
		flow.Props = maps.Clone(old.Props)
		idx := slices.Index(d.Flows, old)
		res.Flows = slices.Insert(res.Flows, idx, flow)
	} else {
		res.Flows = append(res.Flows, flow)
	}
	for _, n := range doc.Nodes {
		cp := *n
		cp.Flow = doc.ID
		res.Nodes = append(res.Nodes, &cp)
	}
	return res
}

// WithoutFlow returns a copy of the definition minus one flow and its
// nodes. The boolean reports whether the flow existed
func (d *Definition) WithoutFlow(id FlowID) (*Definition, bool) {
	res := &Definition{
		Subflows: slices.Clone(d.Subflows),
	}
	found := false
	for _, f := range d.Flows {
		if f.ID == id {
			found = true
			continue
		}
		res.Flows = append(res.Flows, f)
	}
	for _, n := range d.Nodes {
		if n.Flow == id {
			continue
		}
		res.Nodes = append(res.Nodes, n)
	}
	return res, found
}

// UnmarshalJSON decodes a flow (tab) object
func (f *FlowDef) UnmarshalJSON(data []byte) error {
	type plain FlowDef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, k := range []string{"id", "type", "label", "disabled", "info"} {
		delete(fields, k)
	}
	*f = FlowDef(p)
	f.Props = fields
	return nil
}

// MarshalJSON writes a flow (tab) object
func (f *FlowDef) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Props)+5)
	maps.Copy(out, f.Props)
	out["id"] = f.ID
	out["type"] = FlowType
	out["label"] = f.Label
	if f.Disabled {
		out["disabled"] = true
	}
	if f.Info != "" {
		out["info"] = f.Info
	}
	return json.Marshal(out)
}

// Fingerprint identifies the behavior-relevant content of a flow
func (f *FlowDef) Fingerprint() string {
	data, _ := json.Marshal(f)
	return string(data)
}

// UnmarshalJSON decodes a subflow template object
func (s *SubflowDef) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   FlowID        `json:"id"`
		Name string        `json:"name"`
		In   []subflowPort `json:"in"`
		Out  []subflowPort `json:"out"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ID = raw.ID
	s.Name = raw.Name
	s.In = make([][]PortRef, len(raw.In))
	for i, p := range raw.In {
		s.In[i] = p.Wires
	}
	s.Out = make([][]PortRef, len(raw.Out))
	for i, p := range raw.Out {
		s.Out[i] = p.Wires
	}
	return nil
}

// MarshalJSON writes a subflow template object
func (s *SubflowDef) MarshalJSON() ([]byte, error) {
	in := make([]subflowPort, len(s.In))
	for i, w := range s.In {
		in[i] = subflowPort{Wires: w}
	}
	out := make([]subflowPort, len(s.Out))
	for i, w := range s.Out {
		out[i] = subflowPort{Wires: w}
	}
	return json.Marshal(map[string]any{
		"id":   s.ID,
		"type": SubflowType,
		"name": s.Name,
		"in":   in,
		"out":  out,
	})
}

// Fingerprint identifies the content of a subflow template's own ports
func (s *SubflowDef) Fingerprint() string {
	data, _ := json.Marshal(s)
	return string(data)
}

func checkWire(
	nodes map[NodeID]*NodeDef, owner FlowID, from NodeID, ref PortRef,
) error {
	target, ok := nodes[ref.Node]
	if !ok {
		return fmt.Errorf("%w: %w: %s -> %s",
			ErrInvalidDefinition, ErrDanglingWire, from, ref.Node)
	}
	if target.Flow != owner {
		return fmt.Errorf("%w: %w: %s -> %s",
			ErrInvalidDefinition, ErrCrossFlowWire, from, ref.Node)
	}
	return nil
}

func hasWires(wires [][]PortRef) bool {
	for _, port := range wires {
		if len(port) > 0 {
			return true
		}
	}
	return false
}

// UnmarshalJSON parses and validates a document array
func (d *Definition) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDefinition(data)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}
