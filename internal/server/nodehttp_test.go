package server_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/assert/helpers"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/internal/server"
	"github.com/kode4food/wireflow/pkg/api"
)

const endpointFlow = `[
	{"id":"f1","type":"tab"},
	{"id":"ep","type":"endpoint","z":"f1","path":"%s"}
]`

func text(body string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, body)
	}
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestNodeRoutesHandle(t *testing.T) {
	r := server.NewNodeRoutes(config.Root("/api/"), helpers.NewTestLogger())
	assert.True(t, r.Enabled())

	unregister, err := r.Handle("get", "/hello", text("one"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /api/hello"}, r.Routes())

	w := serve(r, "GET", "/api/hello")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "one", w.Body.String())
	assert.Equal(t, http.StatusNotFound, serve(r, "GET", "/hello").Code)

	unregister()
	assert.Empty(t, r.Routes())
	assert.Equal(t, http.StatusNotFound, serve(r, "GET", "/api/hello").Code)
}

func TestNodeRoutesReplace(t *testing.T) {
	r := server.NewNodeRoutes(config.Root("/"), helpers.NewTestLogger())

	first, err := r.Handle("POST", "/hook", text("first"))
	require.NoError(t, err)
	second, err := r.Handle("POST", "/hook", text("second"))
	require.NoError(t, err)

	assert.Equal(t, "second", serve(r, "POST", "/hook").Body.String())

	first()
	first()
	assert.Equal(t, "second", serve(r, "POST", "/hook").Body.String())

	second()
	assert.Equal(t, http.StatusNotFound, serve(r, "POST", "/hook").Code)
}

func TestNodeRoutesParams(t *testing.T) {
	r := server.NewNodeRoutes(config.Root("/"), helpers.NewTestLogger())

	_, err := r.Handle("GET", "/items/:id", func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("id"))
	})
	require.NoError(t, err)
	assert.Equal(t, "42", serve(r, "GET", "/items/42").Body.String())
}

func TestNodeRoutesInvalid(t *testing.T) {
	r := server.NewNodeRoutes(config.Root("/"), helpers.NewTestLogger())

	_, err := r.Handle("GET", "relative", text("x"))
	assert.ErrorIs(t, err, server.ErrInvalidRoute)

	_, err = r.Handle("", "/x", text("x"))
	assert.ErrorIs(t, err, server.ErrInvalidRoute)

	_, err = r.Handle("GET", "/x", nil)
	assert.ErrorIs(t, err, server.ErrInvalidRoute)

	_, err = r.Handle("GET", "/users/:id", text("x"))
	require.NoError(t, err)
	_, err = r.Handle("GET", "/users/:name", text("y"))
	assert.ErrorIs(t, err, server.ErrRouteConflict)
	assert.Equal(t, []string{"GET /users/:id"}, r.Routes())
	assert.Equal(t, "x", serve(r, "GET", "/users/7").Body.String())
}

func TestNodeRoutesDisabled(t *testing.T) {
	r := server.NewNodeRoutes(config.DisabledRoot(), helpers.NewTestLogger())
	assert.False(t, r.Enabled())

	_, err := r.Handle("GET", "/hello", text("x"))
	assert.ErrorIs(t, err, nodes.ErrHTTPDisabled)
	assert.Equal(t, http.StatusNotFound, serve(r, "GET", "/hello").Code)
}

func TestNodeEndpointLifecycle(t *testing.T) {
	env := testServer(t, withNodeRoot(config.Root("/api")))
	defer env.Cleanup()

	env.Deploy(t, fmt.Sprintf(endpointFlow, "/ping"), api.DeployFull)

	w := env.request("GET", "/api/ping", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"node":"ep"}`, w.Body.String())

	env.Deploy(t, fmt.Sprintf(endpointFlow, "/pong"), api.DeployFull)
	assert.Equal(t, http.StatusNotFound,
		env.request("GET", "/api/ping", "").Code,
	)
	assert.Equal(t, http.StatusOK, env.request("GET", "/api/pong", "").Code)

	env.Deploy(t, `[]`, api.DeployFull)
	assert.Empty(t, env.Routes.Routes())
}

func TestNodeEndpointRedeploy(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.Deploy(t, fmt.Sprintf(endpointFlow, "/ping"), api.DeployFull)
	env.Deploy(t, fmt.Sprintf(endpointFlow, "/ping"), api.DeployFull)

	assert.Equal(t, 2, env.Nodes.Instances("ep"))
	assert.Equal(t, http.StatusOK, env.request("GET", "/ping", "").Code)
	assert.Equal(t, []string{"GET /ping"}, env.Routes.Routes())
}

func TestNodeEndpointDisabled(t *testing.T) {
	env := testServer(t, withNodeRoot(config.DisabledRoot()))
	defer env.Cleanup()

	env.Deploy(t, fmt.Sprintf(endpointFlow, "/ping"), api.DeployFull)
	assert.Equal(t, 1, env.Nodes.Instances("ep"))
	assert.Equal(t, http.StatusNotFound, env.request("GET", "/ping", "").Code)
}
