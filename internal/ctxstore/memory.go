package ctxstore

import (
	"context"
	"slices"
	"sync"
)

type (
	// Memory is an in-process Store. Values are held by reference and do
	// not survive a restart
	Memory struct {
		scopes map[string]*memoryScope
		mu     sync.Mutex
		closed bool
	}

	memoryScope struct {
		values map[string]any
		mu     sync.RWMutex
	}
)

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{scopes: map[string]*memoryScope{}}
}

func (m *Memory) Get(_ context.Context, scope, key string) (any, bool, error) {
	top, rest, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}
	s, err := m.scope(scope, false)
	if err != nil || s == nil {
		return nil, false, err
	}
	s.mu.RLock()
	v, ok := s.values[top]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return lookupPath(v, rest)
}

func (m *Memory) Set(ctx context.Context, scope, key string, value any) error {
	_, err := m.Update(ctx, scope, key, func(any, bool) (any, error) {
		return value, nil
	})
	return err
}

func (m *Memory) Keys(_ context.Context, scope string) ([]string, error) {
	s, err := m.scope(scope, false)
	if err != nil || s == nil {
		return []string{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]string, 0, len(s.values))
	for k := range s.values {
		res = append(res, k)
	}
	slices.Sort(res)
	return res, nil
}

func (m *Memory) Update(
	_ context.Context, scope, key string, fn UpdateFunc,
) (any, error) {
	top, rest, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	s, err := m.scope(scope, true)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	root, hasRoot := s.values[top]
	old, ok := root, hasRoot
	if rest != "" && hasRoot {
		if old, ok, err = lookupPath(root, rest); err != nil {
			return nil, err
		}
	}
	next, err := fn(old, ok)
	if err != nil {
		return nil, err
	}

	if rest != "" {
		if root, err = assignPath(root, rest, next); err != nil {
			return nil, err
		}
	} else {
		root = next
	}
	if root == nil {
		delete(s.values, top)
	} else {
		s.values[top] = root
	}
	return next, nil
}

func (m *Memory) Clear(_ context.Context, scope string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scopes, scope)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.scopes = map[string]*memoryScope{}
	return nil
}

func (m *Memory) scope(name string, create bool) (*memoryScope, error) {
	if err := checkScope(name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	s, ok := m.scopes[name]
	if !ok && create {
		s = &memoryScope{values: map[string]any{}}
		m.scopes[name] = s
	}
	return s, nil
}
