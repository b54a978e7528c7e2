// Package engine runs deployed wire graphs. It owns the running node
// instances, routes messages between them along their wires, routes node
// failures to catch nodes, and replaces parts of the running graph when a
// new definition is deployed
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/engine/scheduler"
	"github.com/kode4food/wireflow/internal/events"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
	"github.com/kode4food/wireflow/pkg/util"
)

type (
	// Engine is the flow execution engine
	Engine struct {
		deps      Dependencies
		log       *log.Logger
		scheduler *scheduler.Scheduler
		topology  atomic.Pointer[topology]
		flows     map[api.FlowID]*flowState
		stopped   util.Set[api.FlowID]
		startedAt time.Time
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		inFlight  atomic.Int64
		gen       atomic.Uint64
		deployMu  sync.Mutex
		statusMu  sync.RWMutex
		running   bool
		started   bool
	}

	// Dependencies are the collaborators an Engine is built from. Log,
	// Registry, Hub, Contexts, and Store are required
	Dependencies struct {
		Log              *log.Logger
		Registry         *nodes.Registry
		Hub              *events.Hub
		Contexts         *ctxstore.Manager
		Store            FlowStore
		HTTP             nodes.HTTPSurface
		Metrics          *Metrics
		Clock            scheduler.Clock
		TimerConstructor scheduler.TimerConstructor
		MaxMessageHops   int
		NodeCloseTimeout time.Duration
		StopTimeout      time.Duration
	}

	// FlowStore persists the deployed definition
	FlowStore interface {
		Load(ctx context.Context) (*api.Definition, error)
		Save(ctx context.Context, def *api.Definition) error
	}

	// flowState is the last lifecycle transition recorded for a flow
	flowState struct {
		status api.FlowStatus
		err    error
	}

	actorKey struct{}
)

var (
	ErrConfiguration    = errors.New("configuration error")
	ErrDeployInProgress = errors.New("deploy already in progress")
	ErrRevisionMismatch = errors.New("flows revision mismatch")
	ErrNodeProcessing   = errors.New("node processing error")
	ErrShutdownTimeout  = errors.New("shutdown timeout exceeded")
	ErrPersistFlows     = errors.New("failed to persist flows")
	ErrLoadFlows        = errors.New("failed to load flows")
	ErrNodeNotFound     = errors.New("node not found")
	ErrFlowNotFound     = errors.New("flow not found")
	ErrNotInjectable    = errors.New("node does not accept injected messages")
	ErrNotStarted       = errors.New("engine not started")
)

// New creates an Engine. Optional dependencies left empty get defaults
func New(deps Dependencies) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.TimerConstructor == nil {
		deps.TimerConstructor = scheduler.NewTimer
	}
	if deps.MaxMessageHops <= 0 {
		deps.MaxMessageHops = config.DefaultMaxMessageHops
	}
	if deps.NodeCloseTimeout <= 0 {
		deps.NodeCloseTimeout = config.DefaultNodeCloseTimeout
	}
	if deps.StopTimeout <= 0 {
		deps.StopTimeout = config.DefaultStopTimeout
	}
	e := &Engine{
		deps:    deps,
		log:     deps.Log,
		flows:   map[api.FlowID]*flowState{},
		stopped: util.Set[api.FlowID]{},
		scheduler: scheduler.New(
			deps.Log, deps.Clock, deps.TimerConstructor,
		),
	}
	e.topology.Store(emptyTopology(nil))
	return e
}

// WithActor records the user responsible for the operations performed
// with ctx, for the audit log
func WithActor(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, actorKey{}, username)
}

// Definition returns the current definition, whether or not its flows
// are running
func (e *Engine) Definition() *api.Definition {
	return e.topology.Load().def
}

// Rev returns the revision of the current definition
func (e *Engine) Rev() string {
	return e.Definition().Rev()
}

// Contexts returns the context store manager the engine's nodes use
func (e *Engine) Contexts() *ctxstore.Manager {
	return e.deps.Contexts
}

// Registry returns the node type registry
func (e *Engine) Registry() *nodes.Registry {
	return e.deps.Registry
}

// InFlight returns the number of messages queued or being processed
func (e *Engine) InFlight() int64 {
	return e.inFlight.Load()
}

func (e *Engine) addInFlight(n int64) {
	e.deps.Metrics.setInFlight(e.inFlight.Add(n))
}

func actor(ctx context.Context) string {
	if name, ok := ctx.Value(actorKey{}).(string); ok && name != "" {
		return name
	}
	return "anonymous"
}
