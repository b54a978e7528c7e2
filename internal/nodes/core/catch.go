package core

import (
	"context"

	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/util"
)

type (
	// Catch receives the failed messages of nodes in its flow or subflow
	// instance. Without a scope it catches every node there; with one it
	// catches only the listed nodes
	Catch struct {
		scope util.Set[api.NodeID]
	}

	catchConfig struct {
		Scope []api.NodeID `json:"scope"`
	}
)

var _ nodes.Catcher = (*Catch)(nil)

// NewCatch constructs a catch node
func NewCatch(_ nodes.Env, def *api.NodeDef) (nodes.Node, error) {
	cfg := &catchConfig{}
	if err := nodes.Decode(def, cfg); err != nil {
		return nil, err
	}
	n := &Catch{}
	if len(cfg.Scope) != 0 {
		n.scope = util.SetOf(cfg.Scope...)
	}
	return n, nil
}

// Catches reports whether failures of source are routed to this node
func (n *Catch) Catches(source api.NodeID) bool {
	return n.scope == nil || n.scope.Contains(source)
}

func (n *Catch) Close(context.Context) error {
	return nil
}
