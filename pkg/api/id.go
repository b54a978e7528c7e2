package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type (
	// NodeID is the stable identifier of a node definition
	NodeID string

	// FlowID identifies a flow (tab) or a subflow template
	FlowID string

	// PortRef addresses one input port of a node. Wires use it as their
	// target; the classic JSON form is a bare node id meaning port 0
	PortRef struct {
		Node NodeID `json:"id"`
		Port int    `json:"port,omitempty"`
	}
)

// GlobalFlow is the owner of configuration nodes that are not bound to any
// flow
const GlobalFlow FlowID = ""

var ErrInvalidPortRef = errors.New("invalid wire target")

// UnmarshalJSON accepts either "node-id" or {"id": "node-id", "port": n}
func (p *PortRef) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		if id == "" {
			return ErrInvalidPortRef
		}
		p.Node = NodeID(id)
		p.Port = 0
		return nil
	}

	type raw PortRef
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPortRef, err)
	}
	if r.Node == "" || r.Port < 0 {
		return ErrInvalidPortRef
	}
	*p = PortRef(r)
	return nil
}

// MarshalJSON writes port 0 targets in the bare id form
func (p PortRef) MarshalJSON() ([]byte, error) {
	if p.Port == 0 {
		return json.Marshal(string(p.Node))
	}
	type raw PortRef
	return json.Marshal(raw(p))
}

func (p PortRef) String() string {
	return fmt.Sprintf("%s:%d", p.Node, p.Port)
}

// Child derives the id of a node instantiated inside a subflow instance
func (id NodeID) Child(inner NodeID) NodeID {
	return NodeID(string(id) + "/" + string(inner))
}

// Parent returns the enclosing subflow instance id of a derived id
func (id NodeID) Parent() (NodeID, bool) {
	idx := strings.LastIndexByte(string(id), '/')
	if idx < 0 {
		return "", false
	}
	return id[:idx], true
}
