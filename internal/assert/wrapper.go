package assert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// ContextGetter reads a value from a context scope
	ContextGetter interface {
		Get(ctx context.Context, scope, key string) (any, bool, error)
	}

	// Wrapper wraps testify assertions with runtime-specific helpers
	Wrapper struct {
		*testing.T
		*assert.Assertions
		Require *assert.Assertions
	}
)

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 10 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus runtime-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    assert.New(t),
	}
}

// DefinitionValid asserts that a definition parses and resolves
func (w *Wrapper) DefinitionValid(
	data string, types api.TypeResolver,
) *api.Definition {
	w.Helper()
	def, err := api.ParseDefinition([]byte(data))
	if !w.NoError(err) {
		return nil
	}
	if types != nil && !w.NoError(def.Resolve(types)) {
		return nil
	}
	return def
}

// DefinitionInvalid asserts that a definition fails to parse or resolve
// with the expected error
func (w *Wrapper) DefinitionInvalid(
	data string, types api.TypeResolver, target error,
) {
	w.Helper()
	def, err := api.ParseDefinition([]byte(data))
	if err == nil && types != nil {
		err = def.Resolve(types)
	}
	w.ErrorIs(err, api.ErrInvalidDefinition)
	if target != nil {
		w.ErrorIs(err, target)
	}
}

// FlowStatus asserts the status of a flow
func (w *Wrapper) FlowStatus(flow *api.FlowState, expected api.FlowStatus) {
	w.Helper()
	if w.NotNil(flow) {
		w.Equal(expected, flow.Status)
	}
}

// ContextEquals asserts that a context scope holds the expected value
func (w *Wrapper) ContextEquals(
	ctx context.Context, get ContextGetter, scope, key string, expected any,
) {
	w.Helper()
	val, ok, err := get.Get(ctx, scope, key)
	w.NoError(err, "failed to get context key: %s/%s", scope, key)
	w.True(ok, "scope %s should have key: %s", scope, key)
	w.Equal(expected, val)
}

// ContextMissing asserts that a context scope does not hold key
func (w *Wrapper) ContextMissing(
	ctx context.Context, get ContextGetter, scope, key string,
) {
	w.Helper()
	_, ok, err := get.Get(ctx, scope, key)
	w.NoError(err, "failed to get context key: %s/%s", scope, key)
	w.False(ok, "scope %s should not have key: %s", scope, key)
}

// SettingsValid asserts that settings pass validation
func (w *Wrapper) SettingsValid(s *config.Settings) {
	w.Helper()
	w.NoError(s.Validate())
	w.True(s.UIPort > 0 && s.UIPort <= config.MaxTCPPort)
	w.True(s.Runtime.MaxMessageHops > 0)
}

// SettingsInvalid asserts that settings fail validation and returns the
// validation error
func (w *Wrapper) SettingsInvalid(s *config.Settings, contains string) error {
	w.Helper()
	err := s.Validate()
	w.Error(err)
	if err != nil && contains != "" {
		w.Contains(err.Error(), contains)
	}
	return err
}

// Eventually runs a condition repeatedly until it passes or times out
func (w *Wrapper) Eventually(
	condition func() bool, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(DefaultRetryInterval)
	}
	w.Fail(msg, args...)
}

// EventuallyWithError runs a condition that returns an error until it
// succeeds or times out
func (w *Wrapper) EventuallyWithError(
	condition func() error, timeout time.Duration, msg string, args ...any,
) {
	w.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		err := condition()
		if err == nil {
			return
		}
		lastErr = err
		time.Sleep(DefaultRetryInterval)
	}
	if lastErr != nil {
		w.Fail(msg+": last error: "+lastErr.Error(), args...)
		return
	}
	w.Fail(msg, args...)
}
