package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/engine"
	"github.com/kode4food/wireflow/internal/events"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/internal/nodes/core"
	"github.com/kode4food/wireflow/internal/storage"
	"github.com/kode4food/wireflow/pkg/api"
)

type (
	// TestEngineEnv holds all the components needed for engine testing
	TestEngineEnv struct {
		Engine   *engine.Engine
		Redis    *miniredis.Miniredis
		Nodes    *TestNodes
		Registry *nodes.Registry
		Hub      *events.Hub
		Contexts *ctxstore.Manager
		Store    *storage.FlowStore
		Metrics  *prometheus.Registry
		Cleanup  func()
	}

	// EngineOption adjusts the dependencies of a test engine
	EngineOption func(*engine.Dependencies)
)

const (
	testCloseTimeout = 500 * time.Millisecond
	stopTimeout      = 5 * time.Second
)

// WithMaxHops bounds message hops for a test engine
func WithMaxHops(hops int) EngineOption {
	return func(d *engine.Dependencies) {
		d.MaxMessageHops = hops
	}
}

// WithCloseTimeout bounds node close for a test engine
func WithCloseTimeout(timeout time.Duration) EngineOption {
	return func(d *engine.Dependencies) {
		d.NodeCloseTimeout = timeout
	}
}

// WithStopTimeout bounds how long a test engine's Stop waits for
// in-flight messages
func WithStopTimeout(timeout time.Duration) EngineOption {
	return func(d *engine.Dependencies) {
		d.StopTimeout = timeout
	}
}

// WithHTTP gives a test engine's nodes an HTTP surface
func WithHTTP(surface nodes.HTTPSurface) EngineOption {
	return func(d *engine.Dependencies) {
		d.HTTP = surface
	}
}

// NewTestEngine creates a test engine with in-memory context and flow
// storage, the core node types, and the test node types
func NewTestEngine(t *testing.T, opts ...EngineOption) *TestEngineEnv {
	t.Helper()
	return newTestEngine(t, ctxstore.NewMemory(), nil, opts...)
}

// NewRedisTestEngine creates a test engine whose context lives in an
// in-memory Redis server
func NewRedisTestEngine(t *testing.T, opts ...EngineOption) *TestEngineEnv {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	store := ctxstore.NewRedis(server.Addr(), "", 0,
		ctxstore.WithPrefix("test"),
	)
	return newTestEngine(t, store, server, opts...)
}

func newTestEngine(
	t *testing.T, store ctxstore.Store, server *miniredis.Miniredis,
	opts ...EngineOption,
) *TestEngineEnv {
	t.Helper()

	flows, err := storage.Open(context.Background(), "mem://", "flows.json")
	require.NoError(t, err)

	reg := nodes.NewRegistry()
	require.NoError(t, core.Register(reg))
	tn := NewTestNodes()
	tn.Register(reg)

	prom := prometheus.NewRegistry()
	metrics, err := engine.NewMetrics(prom)
	require.NoError(t, err)

	hub := events.NewHub()
	contexts := ctxstore.NewManager(store, map[string]any{"seed": 42})
	deps := engine.Dependencies{
		Log:              NewTestLogger(),
		Registry:         reg,
		Hub:              hub,
		Contexts:         contexts,
		Store:            flows,
		Metrics:          metrics,
		NodeCloseTimeout: testCloseTimeout,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	eng := engine.New(deps)

	env := &TestEngineEnv{
		Engine:   eng,
		Redis:    server,
		Nodes:    tn,
		Registry: reg,
		Hub:      hub,
		Contexts: contexts,
		Store:    flows,
		Metrics:  prom,
	}
	env.Cleanup = func() {
		tn.Gate.Open()
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = eng.Stop(ctx)
		hub.Close()
		_ = contexts.Close()
		_ = flows.Close()
		if server != nil {
			server.Close()
		}
	}
	return env
}

// Deploy deploys a flow document and fails the test on error
func (e *TestEngineEnv) Deploy(
	t *testing.T, data string, mode api.DeployMode,
) *api.DeployResult {
	t.Helper()
	def, err := api.ParseDefinition([]byte(data))
	require.NoError(t, err)
	res, err := e.Engine.Deploy(context.Background(), def, mode)
	require.NoError(t, err)
	return res
}

// Inject injects a payload at an input node and fails the test on error
func (e *TestEngineEnv) Inject(t *testing.T, id api.NodeID, payload any) {
	t.Helper()
	err := e.Engine.Inject(context.Background(), id, api.NewMessage(payload))
	require.NoError(t, err)
}

// ContextValue reads a context value, failing the test on store errors
func (e *TestEngineEnv) ContextValue(
	t *testing.T, scope, key string,
) (any, bool) {
	t.Helper()
	v, ok, err := e.Contexts.Get(context.Background(), scope, key)
	require.NoError(t, err)
	return v, ok
}

// WaitIdle waits until no messages are in flight
func (e *TestEngineEnv) WaitIdle(t *testing.T) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return e.Engine.InFlight() == 0
	}, 5*time.Second, 5*time.Millisecond)
}

// WithTestEnv creates a test engine environment, executes the provided
// function with it, and ensures cleanup happens automatically
func WithTestEnv(t *testing.T, fn func(*TestEngineEnv)) {
	t.Helper()
	testEnv := NewTestEngine(t)
	defer testEnv.Cleanup()
	fn(testEnv)
}

// WithStartedEnv creates a test engine environment, starts its engine,
// executes the provided function with it, and ensures cleanup happens
// automatically
func WithStartedEnv(
	t *testing.T, fn func(*TestEngineEnv), opts ...EngineOption,
) {
	t.Helper()
	testEnv := NewTestEngine(t, opts...)
	defer testEnv.Cleanup()
	require.NoError(t, testEnv.Engine.Start(context.Background()))
	fn(testEnv)
}
