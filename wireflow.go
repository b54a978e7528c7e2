// Package wireflow embeds a flow runtime in a host process. A host creates
// a Runtime, registers its own node types, initializes it against an HTTP
// server and settings, and then starts it
package wireflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kode4food/wireflow/internal/auth"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/engine"
	"github.com/kode4food/wireflow/internal/events"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/internal/nodes/core"
	"github.com/kode4food/wireflow/internal/server"
	"github.com/kode4food/wireflow/internal/storage"
	"github.com/kode4food/wireflow/pkg/log"
	"github.com/kode4food/wireflow/pkg/util/call"
)

// Runtime is an embeddable flow runtime
type Runtime struct {
	log      *log.Logger
	registry *nodes.Registry
	settings *config.Settings
	httpSrv  *http.Server
	hub      *events.Hub
	contexts *ctxstore.Manager
	flows    *storage.FlowStore
	engine   *engine.Engine
	admin    *server.Server
	handler  http.Handler
	routes   *server.NodeRoutes
	mu       sync.Mutex
	closed   bool
}

const (
	// Name identifies the runtime in logs and health responses
	Name = server.ServiceName

	libraryFlows = "flows"
)

// Version is the runtime version. Release builds set it with -ldflags
var Version = "0.1.0"

var (
	ErrNotInitialized     = errors.New("runtime is not initialized")
	ErrAlreadyInitialized = errors.New("runtime is already initialized")
	ErrClosed             = errors.New("runtime is closed")
	ErrCreateFlowStore    = errors.New("failed to create flow store")
	ErrCreateContextStore = errors.New("failed to create context store")
	ErrCreateAuth         = errors.New("failed to create admin auth")
	ErrCreateMetrics      = errors.New("failed to create metrics")
)

// New creates an uninitialized Runtime with the core node types
// registered
func New() *Runtime {
	reg := nodes.NewRegistry()
	if err := core.Register(reg); err != nil {
		panic(err)
	}
	return &Runtime{
		log:      log.New(Name, os.Getenv("ENV"), Version),
		registry: reg,
	}
}

// Init wires the runtime from settings. A nil settings uses the defaults.
// When srv is provided and has no handler, the runtime's handler is
// installed on it; otherwise the host mounts HTTPAdmin and HTTPNode
// itself. Node types must be registered before Start, not before Init
func (r *Runtime) Init(srv *http.Server, st *config.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		return ErrAlreadyInitialized
	}
	if st == nil {
		st = config.NewDefaultSettings()
	}

	ctx := context.Background()
	prom := prometheus.NewRegistry()
	var (
		svc     *auth.Service
		metrics *engine.Metrics
	)

	err := call.Run(
		call.Step{
			Name: "settings",
			Do:   st.Validate,
		},
		call.Step{
			Name: "logging",
			Do: call.Func(func() {
				r.log = log.NewWithOptions(
					Name, os.Getenv("ENV"), Version, st.LogOptions(),
				)
				r.log.Install()
			}),
		},
		call.Step{
			Name: "flow storage",
			Do: func() error {
				flows, err := storage.Open(ctx, st.BucketURL(), st.FlowFile)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrCreateFlowStore, err)
				}
				r.flows = flows
				return nil
			},
			Undo: func() {
				_ = r.flows.Close()
				r.flows = nil
			},
		},
		call.Step{
			Name: "context storage",
			Do: func() error {
				store, err := ctxstore.Open(ctx, st.ContextStorage)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrCreateContextStore, err)
				}
				r.contexts = ctxstore.NewManager(store, st.GlobalContext())
				return nil
			},
			Undo: func() {
				_ = r.contexts.Close()
				r.contexts = nil
			},
		},
		call.Step{
			Name: "admin auth",
			Do: func() error {
				var err error
				if svc, err = auth.NewService(&st.AdminAuth); err != nil {
					return fmt.Errorf("%w: %w", ErrCreateAuth, err)
				}
				return nil
			},
		},
		call.Step{
			Name: "metrics",
			Do: func() error {
				var err error
				if metrics, err = registerMetrics(prom); err != nil {
					return fmt.Errorf("%w: %w", ErrCreateMetrics, err)
				}
				return nil
			},
		},
	)
	if err != nil {
		return err
	}

	r.settings = st
	r.hub = events.NewHub()
	r.routes = server.NewNodeRoutes(st.HTTPNodeRoot, r.log)
	r.engine = engine.New(engine.Dependencies{
		Log:              r.log,
		Registry:         r.registry,
		Hub:              r.hub,
		Contexts:         r.contexts,
		Store:            r.flows,
		HTTP:             r.routes,
		Metrics:          metrics,
		MaxMessageHops:   st.Runtime.MaxMessageHops,
		NodeCloseTimeout: st.Runtime.NodeCloseTimeout,
		StopTimeout:      st.Runtime.StopTimeout,
	})

	r.handler = r.routes
	if st.HTTPAdminRoot.Enabled() {
		r.admin = server.NewServer(server.Dependencies{
			Engine:   r.engine,
			Hub:      r.hub,
			Auth:     svc,
			Settings: st,
			Metrics:  prom,
			Library:  r.flows.Library(libraryFlows),
			Log:      r.log,
			Version:  Version,
			Fallback: r.routes,
		})
		r.handler = r.admin.SetupRoutes()
	}

	if srv != nil {
		r.httpSrv = srv
		if srv.Handler == nil {
			srv.Handler = r.handler
		}
		if r.admin != nil {
			srv.RegisterOnShutdown(r.admin.CloseWebSockets)
		}
	}

	r.log.Info("Runtime initialized",
		"flow_bucket", redactURL(st.BucketURL()),
		"flow_file", st.FlowFile,
		"context_storage", st.ContextStorage.Module,
		"admin_root", st.HTTPAdminRoot.String(),
		"node_root", st.HTTPNodeRoot.String(),
		"admin_auth", svc.Enabled())
	return nil
}

// Start loads the stored flows and starts them. It returns once every
// flow is running. Starting a running runtime does nothing, and a closed
// runtime fails with ErrClosed
func (r *Runtime) Start(ctx context.Context) error {
	eng, err := r.getEngine()
	if err != nil {
		return err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return eng.Start(ctx)
}

// Stop drains in-flight messages until ctx is done and closes every node.
// Stopping a stopped runtime does nothing
func (r *Runtime) Stop(ctx context.Context) error {
	eng, err := r.getEngine()
	if err != nil {
		return err
	}
	if r.admin != nil {
		r.admin.CloseWebSockets()
	}
	return eng.Stop(ctx)
}

// Close stops the runtime and releases its stores. A closed runtime
// cannot be started again
func (r *Runtime) Close(ctx context.Context) error {
	err := r.Stop(ctx)
	if errors.Is(err, ErrNotInitialized) {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return err
	}
	r.closed = true
	r.hub.Close()
	return errors.Join(err, r.contexts.Close(), r.flows.Close())
}

// Version returns the runtime version
func (r *Runtime) Version() string {
	return Version
}

// Log returns the runtime's logger
func (r *Runtime) Log() *log.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.log
}

// Nodes returns the node type registry. Register types before Start
func (r *Runtime) Nodes() *nodes.Registry {
	return r.registry
}

// Settings returns the settings the runtime was initialized with
func (r *Runtime) Settings() *config.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Server returns the HTTP server passed to Init, if any
func (r *Runtime) Server() *http.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.httpSrv
}

// Handler serves both the admin API and the node endpoints
func (r *Runtime) Handler() http.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handler == nil {
		return http.NotFoundHandler()
	}
	return r.handler
}

// HTTPAdmin returns the admin API handler. Requests that match no admin
// route fall through to the node endpoints. A disabled admin root yields
// a handler that answers 404
func (r *Runtime) HTTPAdmin() http.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.admin == nil {
		return http.NotFoundHandler()
	}
	return r.handler
}

// HTTPNode returns the handler of the endpoints nodes register
func (r *Runtime) HTTPNode() http.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.routes == nil {
		return http.NotFoundHandler()
	}
	return r.routes
}

func (r *Runtime) getEngine() (*engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return nil, ErrNotInitialized
	}
	return r.engine, nil
}

func registerMetrics(reg *prometheus.Registry) (*engine.Metrics, error) {
	err := call.Perform(
		call.WithArg(reg.Register, prometheus.Collector(
			collectors.NewGoCollector(),
		)),
		call.WithArg(reg.Register, prometheus.Collector(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)),
	)
	if err != nil {
		return nil, err
	}
	return engine.NewMetrics(reg)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Redacted()
}
