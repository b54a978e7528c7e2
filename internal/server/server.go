// Package server implements the admin API of the runtime and the HTTP
// surface that nodes register their own endpoints on
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/kode4food/wireflow/internal/auth"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/engine"
	"github.com/kode4food/wireflow/internal/events"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
	"github.com/kode4food/wireflow/pkg/util"
)

type (
	// Server implements the admin API
	Server struct {
		deps    Dependencies
		limiter *rate.Limiter
		started time.Time
		sockets util.Set[*Client]
		mu      sync.Mutex
	}

	// Dependencies are what the admin API serves. Engine, Hub, Auth,
	// Settings, and Log are required
	Dependencies struct {
		Engine   *engine.Engine
		Hub      *events.Hub
		Auth     *auth.Service
		Settings *config.Settings
		Metrics  prometheus.Gatherer
		Library  FlowLibrary
		Log      *log.Logger
		Version  string

		// Fallback serves requests that match no admin route, such as
		// node endpoints mounted under the same root
		Fallback http.Handler
	}

	// FlowLibrary keeps saved flow snippets by slash-separated name
	FlowLibrary interface {
		List(ctx context.Context, dir string) (*api.LibraryListing, error)
		Load(ctx context.Context, name string) ([]byte, error)
		Save(ctx context.Context, name string, data []byte) error
	}
)

const (
	// ServiceName identifies the runtime in health responses
	ServiceName = "wireflow"

	// DeploymentTypeHeader selects the deploy mode of POST /flows
	DeploymentTypeHeader = api.DeploymentTypeHeader

	tokenRate  = rate.Limit(5)
	tokenBurst = 10

	userKey = "wireflow.user"
)

// NewServer creates the admin API server
func NewServer(deps Dependencies) *Server {
	if deps.Metrics == nil {
		deps.Metrics = prometheus.NewRegistry()
	}
	return &Server{
		deps:    deps,
		limiter: rate.NewLimiter(tokenRate, tokenBurst),
		started: time.Now(),
		sockets: util.Set[*Client]{},
	}
}

// SetupRoutes configures and returns the router with every admin endpoint
// mounted under the admin root
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(*gin.Context, *slog.Logger) *slog.Logger {
			return s.deps.Log.Slog()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization, "+DeploymentTypeHeader,
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	if s.deps.Fallback != nil {
		router.NoRoute(gin.WrapH(s.deps.Fallback))
	}

	root := router.Group(s.deps.Settings.HTTPAdminRoot.Path())
	{
		if !s.deps.Settings.DisableEditor {
			root.GET("/", s.handleEditor)
		}
		root.GET("/health", s.handleHealth)

		root.GET("/auth/login", s.handleLogin)
		root.POST("/auth/token", s.handleToken)

		read := root.Group("", s.authenticate, s.require(false))
		write := root.Group("", s.authenticate, s.require(true))

		read.POST("/auth/revoke", s.handleRevoke)
		read.GET("/settings", s.handleSettings)

		// Flow endpoints
		read.GET("/flows", s.getFlows)
		write.POST("/flows", s.deployFlows)
		read.GET("/flows/state", s.getRuntimeState)
		write.POST("/flows/state", s.setRuntimeState)
		read.GET("/flow/:id", s.getFlow)
		write.POST("/flow", s.addFlow)
		write.PUT("/flow/:id", s.updateFlow)
		write.DELETE("/flow/:id", s.deleteFlow)
		write.POST("/flow/:id/start", s.startFlow)
		write.POST("/flow/:id/stop", s.stopFlow)

		// Runtime endpoints
		read.GET("/status", s.handleStatus)
		read.GET("/nodes", s.handleNodes)
		write.POST("/inject/:id", s.handleInject)
		read.GET("/context/global", s.globalContext)
		read.GET("/context/flow/:id", s.flowContext)
		read.GET("/context/node/:id", s.nodeContext)
		read.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.deps.Metrics, promhttp.HandlerOpts{}),
		))

		// Flow library
		if s.deps.Library != nil {
			read.GET("/library/flows/*path", s.getLibraryFlow)
			write.POST("/library/flows/*path", s.saveLibraryFlow)
		}

		// WebSocket
		read.GET("/comms", s.handleComms)
	}

	return router
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Add(c)
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets.Remove(c)
}

// CloseWebSockets closes all active comms connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
