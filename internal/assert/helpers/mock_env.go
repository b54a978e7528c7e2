package helpers

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// MockEnv is a nodes.Env that records what a node does with it, for
	// testing node types without an engine
	MockEnv struct {
		contexts *ctxstore.Manager
		configs  map[api.NodeID]nodes.Node
		timers   map[string]*MockTimer
		log      *log.Logger
		sent     []nodes.Output
		statuses []*api.NodeStatus
		events   []*api.Event
		id       api.NodeID
		flow     api.FlowID
		mu       sync.Mutex
	}

	// MockTimer is a timer registered through a MockEnv. It only fires
	// when the test calls Fire
	MockTimer struct {
		Func   nodes.TimerFunc
		Delay  time.Duration
		Repeat bool
	}

	mockTimers struct {
		env *MockEnv
	}

	disabledSurface struct{}
)

var _ nodes.Env = (*MockEnv)(nil)

// NewMockEnv creates a MockEnv for a node of the given flow
func NewMockEnv(id api.NodeID, flow api.FlowID) *MockEnv {
	return &MockEnv{
		contexts: ctxstore.NewManager(ctxstore.NewMemory(), nil),
		configs:  map[api.NodeID]nodes.Node{},
		timers:   map[string]*MockTimer{},
		log:      NewTestLogger(),
		id:       id,
		flow:     flow,
	}
}

// WithConfig makes a config node visible to the node under test
func (e *MockEnv) WithConfig(id api.NodeID, n nodes.Node) *MockEnv {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs[id] = n
	return e
}

func (e *MockEnv) ID() api.NodeID {
	return e.id
}

func (e *MockEnv) Flow() api.FlowID {
	return e.flow
}

func (e *MockEnv) Log() *log.Logger {
	return e.log
}

func (e *MockEnv) Send(out nodes.Output) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, out)
}

func (e *MockEnv) Status(st *api.NodeStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.statuses = append(e.statuses, st)
}

func (e *MockEnv) Publish(topic string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, &api.Event{Topic: topic, Data: data})
}

func (e *MockEnv) Context() *ctxstore.Scope {
	return e.contexts.Node(string(e.id))
}

func (e *MockEnv) FlowContext() *ctxstore.Scope {
	return e.contexts.Flow(string(e.flow))
}

func (e *MockEnv) GlobalContext() *ctxstore.Scope {
	return e.contexts.Global()
}

func (e *MockEnv) HTTP() nodes.HTTPSurface {
	return disabledSurface{}
}

func (e *MockEnv) Timers() nodes.Timers {
	return &mockTimers{env: e}
}

func (e *MockEnv) ConfigNode(id api.NodeID) (nodes.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.configs[id]
	return n, ok
}

// Sent returns every output the node has sent
func (e *MockEnv) Sent() []nodes.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]nodes.Output(nil), e.sent...)
}

// Statuses returns every status the node has reported
func (e *MockEnv) Statuses() []*api.NodeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*api.NodeStatus(nil), e.statuses...)
}

// Events returns every comms event the node has published
func (e *MockEnv) Events() []*api.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*api.Event(nil), e.events...)
}

// Timer returns the timer registered under name
func (e *MockEnv) Timer(name string) (*MockTimer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[name]
	return t, ok
}

// Fire runs the timer registered under name. One-shot timers are removed
// before they run
func (e *MockEnv) Fire(ctx context.Context, name string) error {
	e.mu.Lock()
	t, ok := e.timers[name]
	if ok && !t.Repeat {
		delete(e.timers, name)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return t.Func(ctx)
}

func (t *mockTimers) After(name string, d time.Duration, fn nodes.TimerFunc) {
	t.set(name, &MockTimer{Func: fn, Delay: d})
}

func (t *mockTimers) Every(name string, d time.Duration, fn nodes.TimerFunc) {
	t.set(name, &MockTimer{Func: fn, Delay: d, Repeat: true})
}

func (t *mockTimers) Cancel(name string) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	delete(t.env.timers, name)
}

func (t *mockTimers) set(name string, timer *MockTimer) {
	t.env.mu.Lock()
	defer t.env.mu.Unlock()
	t.env.timers[name] = timer
}

func (disabledSurface) Handle(string, string, gin.HandlerFunc) (func(), error) {
	return nil, nodes.ErrHTTPDisabled
}
