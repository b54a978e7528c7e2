package server

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/pkg/log"
)

type (
	// NodeRoutes is the HTTP surface that nodes mount their endpoints on.
	// The router is rebuilt whenever a route changes and swapped in whole,
	// so requests never observe a partially updated table
	NodeRoutes struct {
		log    *log.Logger
		router atomic.Pointer[gin.Engine]
		routes map[routeKey]*nodeRoute
		root   string
		seq    uint64
		mu     sync.Mutex
		off    bool
	}

	routeKey struct {
		method string
		path   string
	}

	nodeRoute struct {
		handler gin.HandlerFunc
		owner   uint64
	}
)

var (
	ErrInvalidRoute  = errors.New("invalid node route")
	ErrRouteConflict = errors.New("node route conflicts with another route")
)

var _ nodes.HTTPSurface = (*NodeRoutes)(nil)

// NewNodeRoutes creates the node HTTP surface mounted at root. A disabled
// root refuses every registration
func NewNodeRoutes(root config.RootPath, logger *log.Logger) *NodeRoutes {
	r := &NodeRoutes{
		log:    logger,
		routes: map[routeKey]*nodeRoute{},
		root:   root.Path(),
		off:    !root.Enabled(),
	}
	r.router.Store(r.build(nil))
	return r
}

// Enabled reports whether nodes may register endpoints
func (r *NodeRoutes) Enabled() bool {
	return !r.off
}

// Handle registers h for method and path beneath the node root, replacing
// any handler already registered there. The returned function removes the
// route unless a later registration has replaced it
func (r *NodeRoutes) Handle(
	method, p string, h gin.HandlerFunc,
) (func(), error) {
	if r.off {
		return nil, nodes.ErrHTTPDisabled
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" || !strings.HasPrefix(p, "/") || h == nil {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidRoute, method, p)
	}

	key := routeKey{method: method, path: r.fullPath(p)}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.routes[key]
	r.seq++
	owner := r.seq
	r.routes[key] = &nodeRoute{handler: h, owner: owner}
	if err := r.rebuild(); err != nil {
		if prev != nil {
			r.routes[key] = prev
		} else {
			delete(r.routes, key)
		}
		return nil, err
	}
	if prev != nil {
		r.log.Debug("Node route replaced",
			"method", method,
			"path", key.path)
	}

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, owner) })
	}, nil
}

// ServeHTTP dispatches a request to the current router
func (r *NodeRoutes) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.Load().ServeHTTP(w, req)
}

// Routes lists the registered routes as "METHOD path"
func (r *NodeRoutes) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]string, 0, len(r.routes))
	for k := range r.routes {
		res = append(res, k.method+" "+k.path)
	}
	slices.Sort(res)
	return res
}

func (r *NodeRoutes) remove(key routeKey, owner uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[key]
	if !ok || rt.owner != owner {
		return
	}
	delete(r.routes, key)
	if err := r.rebuild(); err != nil {
		r.log.Error("Node routes rebuild failed",
			log.Error(err))
	}
}

func (r *NodeRoutes) rebuild() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrRouteConflict, rec)
		}
	}()
	r.router.Store(r.build(r.routes))
	return nil
}

func (r *NodeRoutes) build(routes map[routeKey]*nodeRoute) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	keys := make([]routeKey, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b routeKey) int {
		if c := strings.Compare(a.path, b.path); c != 0 {
			return c
		}
		return strings.Compare(a.method, b.method)
	})
	for _, k := range keys {
		router.Handle(k.method, k.path, routes[k].handler)
	}
	return router
}

func (r *NodeRoutes) fullPath(p string) string {
	if r.root == "/" {
		return p
	}
	res := path.Join(r.root, p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(res, "/") {
		res += "/"
	}
	return res
}
