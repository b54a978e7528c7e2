// Package core provides the node types the runtime ships with: inject
// emits messages on demand or on a timer, debug publishes what it
// receives to the comms stream, and catch receives the failures of other
// nodes in its scope
package core

import (
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
)

const (
	TypeInject = "inject"
	TypeDebug  = "debug"
	TypeCatch  = "catch"
)

// Types returns the core node types
func Types() []*nodes.TypeInfo {
	return []*nodes.TypeInfo{
		{
			Type:    TypeInject,
			Kind:    api.KindInput,
			Outputs: 1,
			New:     NewInject,
		},
		{
			Type:   TypeDebug,
			Kind:   api.KindOutput,
			Inputs: 1,
			New:    NewDebug,
		},
		{
			Type:    TypeCatch,
			Kind:    api.KindInput,
			Outputs: 1,
			New:     NewCatch,
		},
	}
}

// Register adds the core node types to a registry
func Register(r *nodes.Registry) error {
	for _, info := range Types() {
		if err := r.Register(info); err != nil {
			return err
		}
	}
	return nil
}
