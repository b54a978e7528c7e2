package ctxstore

import (
	"context"
	"maps"
	"slices"
)

type (
	// Manager hands out scoped views of a Store. Values supplied at
	// construction form a read-only layer under the global scope: a global
	// key that is not stored falls back to them
	Manager struct {
		store   Store
		globals map[string]any
	}

	// Scope is one context region bound to its Store
	Scope struct {
		manager *Manager
		name    string
	}
)

// NewManager creates a Manager over store with the provided global values
func NewManager(store Store, globals map[string]any) *Manager {
	return &Manager{
		store:   store,
		globals: maps.Clone(globals),
	}
}

// Store returns the backing Store
func (m *Manager) Store() Store {
	return m.store
}

// Global returns the global scope
func (m *Manager) Global() *Scope {
	return m.Scope(GlobalScope)
}

// Flow returns the scope of a flow
func (m *Manager) Flow(id string) *Scope {
	return m.Scope(FlowScope(id))
}

// Node returns the scope of a node
func (m *Manager) Node(id string) *Scope {
	return m.Scope(NodeScope(id))
}

// Scope returns a named scope
func (m *Manager) Scope(name string) *Scope {
	return &Scope{manager: m, name: name}
}

// Get reads a key from a named scope, consulting the global values when
// the scope is global
func (m *Manager) Get(ctx context.Context, scope, key string) (any, bool, error) {
	v, ok, err := m.store.Get(ctx, scope, key)
	if err != nil || ok || scope != GlobalScope {
		return v, ok, err
	}
	top, rest, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}
	root, ok := m.globals[top]
	if !ok {
		return nil, false, nil
	}
	return lookupPath(root, rest)
}

// Values returns every key and value of a named scope
func (m *Manager) Values(ctx context.Context, scope string) (map[string]any, error) {
	keys, err := m.keys(ctx, scope)
	if err != nil {
		return nil, err
	}
	res := make(map[string]any, len(keys))
	for _, k := range keys {
		v, ok, err := m.Get(ctx, scope, k)
		if err != nil {
			return nil, err
		}
		if ok {
			res[k] = v
		}
	}
	return res, nil
}

// Clear removes every value of the named scopes
func (m *Manager) Clear(ctx context.Context, scopes ...string) error {
	for _, s := range scopes {
		if err := m.store.Clear(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the backing Store
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) keys(ctx context.Context, scope string) ([]string, error) {
	keys, err := m.store.Keys(ctx, scope)
	if err != nil || scope != GlobalScope {
		return keys, err
	}
	for k := range m.globals {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// Name returns the scope name, such as "flow:f1"
func (s *Scope) Name() string {
	return s.name
}

func (s *Scope) Get(ctx context.Context, key string) (any, bool, error) {
	return s.manager.Get(ctx, s.name, key)
}

func (s *Scope) Set(ctx context.Context, key string, value any) error {
	return s.manager.store.Set(ctx, s.name, key, value)
}

func (s *Scope) Keys(ctx context.Context) ([]string, error) {
	return s.manager.keys(ctx, s.name)
}

func (s *Scope) Update(
	ctx context.Context, key string, fn UpdateFunc,
) (any, error) {
	return s.manager.store.Update(ctx, s.name, key, fn)
}

func (s *Scope) Clear(ctx context.Context) error {
	return s.manager.store.Clear(ctx, s.name)
}
