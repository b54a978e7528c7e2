package api

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

type (
	// NodeKind is the closed set of node variants the engine understands
	NodeKind string

	// NodeDef is one node of a deployable definition. Kind is resolved
	// against the node type registry before deploy; Props carries every
	// property the engine does not interpret itself
	NodeDef struct {
		Props map[string]any `json:"-"`
		ID    NodeID         `json:"id"`
		Type  string         `json:"type"`
		Flow  FlowID         `json:"z,omitempty"`
		Name  string         `json:"name,omitempty"`
		Kind  NodeKind       `json:"-"`
		Wires [][]PortRef    `json:"wires,omitempty"`
	}

	// TypeResolver maps registered node types to their kind
	TypeResolver interface {
		NodeKind(typ string) (NodeKind, bool)
	}
)

const (
	KindInput    NodeKind = "input"
	KindOutput   NodeKind = "output"
	KindFunction NodeKind = "function"
	KindConfig   NodeKind = "config"
	KindSubflow  NodeKind = "subflow"
)

// SubflowTypePrefix marks node types that instantiate a subflow template
const SubflowTypePrefix = "subflow:"

// layoutKeys are editor-only properties that never affect behavior
var layoutKeys = []string{"x", "y", "w", "h", "g", "l"}

var reservedNodeKeys = []string{"id", "type", "z", "name", "wires"}

// HasInputPort reports whether nodes of this kind accept wired messages
func (k NodeKind) HasInputPort() bool {
	switch k {
	case KindOutput, KindFunction, KindSubflow:
		return true
	case KindInput, KindConfig:
		return false
	default:
		return false
	}
}

// HasOutputPorts reports whether nodes of this kind may carry wires
func (k NodeKind) HasOutputPorts() bool {
	switch k {
	case KindInput, KindFunction, KindSubflow:
		return true
	case KindOutput, KindConfig:
		return false
	default:
		return false
	}
}

// SubflowTemplate returns the template id of a subflow instance type
func SubflowTemplate(typ string) (FlowID, bool) {
	if !strings.HasPrefix(typ, SubflowTypePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(typ, SubflowTypePrefix)
	return FlowID(id), id != ""
}

// UnmarshalJSON decodes the well-known node fields and keeps every other
// property in Props
func (n *NodeDef) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	type head struct {
		ID    NodeID      `json:"id"`
		Type  string      `json:"type"`
		Flow  FlowID      `json:"z"`
		Name  string      `json:"name"`
		Wires [][]PortRef `json:"wires"`
	}
	var h head
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}

	props := make(map[string]any, len(fields))
	for k, v := range fields {
		if isReserved(k) {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = val
	}

	*n = NodeDef{
		ID:    h.ID,
		Type:  h.Type,
		Flow:  h.Flow,
		Name:  h.Name,
		Wires: h.Wires,
		Props: props,
	}
	return nil
}

// MarshalJSON reproduces the node in its document form
func (n *NodeDef) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Props)+5)
	maps.Copy(out, n.Props)
	out["id"] = n.ID
	out["type"] = n.Type
	if n.Flow != "" {
		out["z"] = n.Flow
	}
	if n.Name != "" {
		out["name"] = n.Name
	}
	if n.Wires != nil {
		out["wires"] = n.Wires
	}
	return json.Marshal(out)
}

// Fingerprint identifies the behavior-relevant content of a node. Two
// definitions with equal fingerprints differ at most in wires and layout
func (n *NodeDef) Fingerprint() string {
	props := make(map[string]any, len(n.Props))
	for k, v := range n.Props {
		if isLayout(k) {
			continue
		}
		props[k] = v
	}
	data, _ := json.Marshal(struct {
		Props map[string]any `json:"props"`
		Type  string         `json:"type"`
		Flow  FlowID         `json:"z"`
		Name  string         `json:"name"`
	}{props, n.Type, n.Flow, n.Name})
	return string(data)
}

// WiresEqual reports whether both nodes carry identical wiring
func (n *NodeDef) WiresEqual(other *NodeDef) bool {
	if len(n.Wires) != len(other.Wires) {
		return false
	}
	for i, port := range n.Wires {
		if len(port) != len(other.Wires[i]) {
			return false
		}
		for j, ref := range port {
			if ref != other.Wires[i][j] {
				return false
			}
		}
	}
	return true
}

// References returns the ids of other nodes named by string properties,
// which is how nodes point at shared configuration nodes
func (n *NodeDef) References(known func(NodeID) bool) []NodeID {
	var res []NodeID
	for k, v := range n.Props {
		if isLayout(k) {
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" || NodeID(s) == n.ID {
			continue
		}
		if known(NodeID(s)) {
			res = append(res, NodeID(s))
		}
	}
	return res
}

func isReserved(key string) bool {
	for _, k := range reservedNodeKeys {
		if k == key {
			return true
		}
	}
	return false
}

func isLayout(key string) bool {
	for _, k := range layoutKeys {
		if k == key {
			return true
		}
	}
	return false
}
