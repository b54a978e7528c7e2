// Package ctxstore keeps the key-value state nodes persist between message
// deliveries. Values live in scopes: one global scope, one per flow, and
// one per node. Keys may address nested values with dotted paths such as
// "counts.total"
package ctxstore

import (
	"context"
	"errors"
	"strings"
)

type (
	// Store is a context storage backend. Implementations serialize access
	// per scope so that Update is an atomic read-modify-write
	Store interface {
		Get(ctx context.Context, scope, key string) (any, bool, error)
		Set(ctx context.Context, scope, key string, value any) error
		Keys(ctx context.Context, scope string) ([]string, error)
		Update(
			ctx context.Context, scope, key string, fn UpdateFunc,
		) (any, error)
		Clear(ctx context.Context, scope string) error
		Close() error
	}

	// UpdateFunc computes a new value from the current one. Returning a nil
	// value deletes the key
	UpdateFunc func(old any, ok bool) (any, error)
)

const (
	GlobalScope = "global"

	flowScopePrefix = "flow:"
	nodeScopePrefix = "node:"
)

var (
	ErrInvalidKey   = errors.New("invalid context key")
	ErrInvalidScope = errors.New("invalid context scope")
	ErrNotAMap      = errors.New("context value is not an object")
	ErrStoreClosed  = errors.New("context store closed")
)

// FlowScope names the context scope of a flow
func FlowScope[T ~string](id T) string {
	return flowScopePrefix + string(id)
}

// NodeScope names the context scope of a node
func NodeScope[T ~string](id T) string {
	return nodeScopePrefix + string(id)
}

// IsFlowScope reports whether scope belongs to a flow
func IsFlowScope(scope string) bool {
	return strings.HasPrefix(scope, flowScopePrefix)
}

// IsNodeScope reports whether scope belongs to a node
func IsNodeScope(scope string) bool {
	return strings.HasPrefix(scope, nodeScopePrefix)
}

func checkScope(scope string) error {
	switch {
	case scope == GlobalScope:
		return nil
	case IsFlowScope(scope) && len(scope) > len(flowScopePrefix):
		return nil
	case IsNodeScope(scope) && len(scope) > len(nodeScopePrefix):
		return nil
	default:
		return errors.Join(ErrInvalidScope, errors.New(scope))
	}
}

// splitKey separates the top-level key from a nested path
func splitKey(key string) (string, string, error) {
	if key == "" || strings.HasPrefix(key, ".") ||
		strings.HasSuffix(key, ".") {
		return "", "", errors.Join(ErrInvalidKey, errors.New(key))
	}
	top, rest, _ := strings.Cut(key, ".")
	return top, rest, nil
}
