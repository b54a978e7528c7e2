package nodes

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// TypeInfo describes a node type and how to construct it
	TypeInfo struct {
		New      Constructor
		Type     string
		Kind     api.NodeKind
		Category string
		Inputs   int
		Outputs  int
	}

	// Registry holds the node types a runtime can deploy
	Registry struct {
		types map[string]*TypeInfo
		mu    sync.RWMutex
	}
)

// DefaultCategory is assigned to types registered without a category
const DefaultCategory = "common"

var (
	ErrTypeExists      = errors.New("node type already registered")
	ErrInvalidNodeType = errors.New("invalid node type")
	ErrTypeNotFound    = errors.New("node type not registered")
)

var _ api.TypeResolver = (*Registry)(nil)

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{types: map[string]*TypeInfo{}}
}

// Register adds a node type
func (r *Registry) Register(info *TypeInfo) error {
	if err := info.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[info.Type]; ok {
		return fmt.Errorf("%w: %s", ErrTypeExists, info.Type)
	}
	res := *info
	if res.Category == "" {
		res.Category = DefaultCategory
	}
	r.types[info.Type] = &res
	return nil
}

// MustRegister adds a node type and panics on failure
func (r *Registry) MustRegister(info *TypeInfo) {
	if err := r.Register(info); err != nil {
		panic(err)
	}
}

// Lookup returns the registration of a node type
func (r *Registry) Lookup(typ string) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[typ]
	return info, ok
}

// NodeKind resolves the kind of a registered type
func (r *Registry) NodeKind(typ string) (api.NodeKind, bool) {
	info, ok := r.Lookup(typ)
	if !ok {
		return "", false
	}
	return info.Kind, true
}

// Construct creates an instance for a node definition
func (r *Registry) Construct(env Env, def *api.NodeDef) (Node, error) {
	info, ok := r.Lookup(def.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, def.Type)
	}
	n, err := info.New(env, def)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", def.Type, def.ID, err)
	}
	return n, nil
}

// Types lists the registered types. Categories named in order come
// first, in that order, followed by the rest alphabetically
func (r *Registry) Types(order []string) []*api.NodeTypeInfo {
	r.mu.RLock()
	res := make([]*api.NodeTypeInfo, 0, len(r.types))
	for _, info := range r.types {
		res = append(res, &api.NodeTypeInfo{
			Type:     info.Type,
			Kind:     info.Kind,
			Category: info.Category,
			Inputs:   info.Inputs,
			Outputs:  info.Outputs,
		})
	}
	r.mu.RUnlock()

	rank := func(category string) int {
		if i := slices.Index(order, category); i >= 0 {
			return i
		}
		return len(order)
	}
	slices.SortFunc(res, func(a, b *api.NodeTypeInfo) int {
		return cmp.Or(
			cmp.Compare(rank(a.Category), rank(b.Category)),
			strings.Compare(a.Category, b.Category),
			strings.Compare(a.Type, b.Type),
		)
	})
	return res
}

func (t *TypeInfo) validate() error {
	switch {
	case t.Type == "":
		return fmt.Errorf("%w: empty type name", ErrInvalidNodeType)
	case strings.HasPrefix(t.Type, api.SubflowTypePrefix):
		return fmt.Errorf("%w: %s is reserved for subflows",
			ErrInvalidNodeType, t.Type)
	case t.Type == api.FlowType || t.Type == api.SubflowType:
		return fmt.Errorf("%w: %s is reserved", ErrInvalidNodeType, t.Type)
	case t.New == nil:
		return fmt.Errorf("%w: %s has no constructor",
			ErrInvalidNodeType, t.Type)
	case t.Inputs < 0 || t.Outputs < 0:
		return fmt.Errorf("%w: %s has negative port count",
			ErrInvalidNodeType, t.Type)
	}

	switch t.Kind {
	case api.KindInput, api.KindOutput, api.KindFunction, api.KindConfig:
	default:
		return fmt.Errorf("%w: %s has kind %q",
			ErrInvalidNodeType, t.Type, t.Kind)
	}
	if !t.Kind.HasInputPort() && t.Inputs != 0 {
		return fmt.Errorf("%w: %s node %s cannot have inputs",
			ErrInvalidNodeType, t.Kind, t.Type)
	}
	if !t.Kind.HasOutputPorts() && t.Outputs != 0 {
		return fmt.Errorf("%w: %s node %s cannot have outputs",
			ErrInvalidNodeType, t.Kind, t.Type)
	}
	return nil
}
