package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/assert/helpers"
	"github.com/kode4food/wireflow/internal/auth"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/server"
	"github.com/kode4food/wireflow/pkg/api"
)

type (
	testServerEnv struct {
		*helpers.TestEngineEnv
		Server   *server.Server
		Routes   *server.NodeRoutes
		Auth     *auth.Service
		Settings *config.Settings
		Router   *gin.Engine
	}

	settingsOption func(*config.Settings)
)

const doubleFlow = `[
	{"id":"f1","type":"tab","label":"double"},
	{"id":"in","type":"inject","z":"f1","wires":[["dbl"]]},
	{"id":"dbl","type":"double","z":"f1","wires":[["out"]]},
	{"id":"out","type":"collect","z":"f1"}
]`

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T, opts ...settingsOption) *testServerEnv {
	t.Helper()

	st := config.NewDefaultSettings()
	for _, opt := range opts {
		opt(st)
	}

	logger := helpers.NewTestLogger()
	routes := server.NewNodeRoutes(st.HTTPNodeRoot, logger)
	env := helpers.NewTestEngine(t, helpers.WithHTTP(routes))
	require.NoError(t, env.Engine.Start(context.Background()))

	svc, err := auth.NewService(&st.AdminAuth)
	require.NoError(t, err)

	srv := server.NewServer(server.Dependencies{
		Engine:   env.Engine,
		Hub:      env.Hub,
		Auth:     svc,
		Settings: st,
		Metrics:  env.Metrics,
		Library:  env.Store.Library("flows"),
		Log:      logger,
		Version:  "1.2.3",
		Fallback: routes,
	})

	return &testServerEnv{
		TestEngineEnv: env,
		Server:        srv,
		Routes:        routes,
		Auth:          svc,
		Settings:      st,
		Router:        srv.SetupRoutes(),
	}
}

func withAdminRoot(root string) settingsOption {
	return func(s *config.Settings) {
		s.HTTPAdminRoot = config.Root(root)
	}
}

func withNodeRoot(root config.RootPath) settingsOption {
	return func(s *config.Settings) {
		s.HTTPNodeRoot = root
	}
}

func (e *testServerEnv) request(
	method, path, body string, headers ...string,
) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var res T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.request("GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	res := decode[api.HealthResponse](t, w)
	assert.Equal(t, server.ServiceName, res.Service)
	assert.Equal(t, "1.2.3", res.Version)
	assert.Equal(t, api.RuntimeStarted, res.State)
}

func TestAdminRoot(t *testing.T) {
	env := testServer(t, withAdminRoot("/admin/"))
	defer env.Cleanup()

	assert.Equal(t, http.StatusOK, env.request("GET", "/admin/health", "").Code)
	assert.Equal(t, http.StatusOK, env.request("GET", "/admin/flows", "").Code)
	assert.Equal(t, http.StatusNotFound, env.request("GET", "/flows", "").Code)
}

func TestEditorPage(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.request("GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	disabled := testServer(t, func(s *config.Settings) {
		s.DisableEditor = true
	})
	defer disabled.Cleanup()
	assert.Equal(t, http.StatusNotFound, disabled.request("GET", "/", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.request("OPTIONS", "/flows", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t,
		w.Header().Get("Access-Control-Allow-Headers"),
		server.DeploymentTypeHeader,
	)
}

func TestSettingsEndpoint(t *testing.T) {
	env := testServer(t, func(s *config.Settings) {
		s.PaletteCategories = []string{"test", "common"}
		s.HTTPNodeRoot = config.Root("/api")
	})
	defer env.Cleanup()

	w := env.request("GET", "/settings", "")
	assert.Equal(t, http.StatusOK, w.Code)

	res := decode[api.SettingsResponse](t, w)
	assert.Equal(t, "1.2.3", res.Version)
	assert.Equal(t, "/api", res.HTTPNodeRoot)
	assert.Equal(t, []string{"test", "common"}, res.PaletteCategories)
	assert.Nil(t, res.User)
}

func TestNodesEndpoint(t *testing.T) {
	env := testServer(t, func(s *config.Settings) {
		s.PaletteCategories = []string{"test"}
	})
	defer env.Cleanup()

	w := env.request("GET", "/nodes", "")
	assert.Equal(t, http.StatusOK, w.Code)

	res := decode[api.NodeTypesResponse](t, w)
	assert.Equal(t, len(res.Types), res.Count)
	require.NotEmpty(t, res.Types)
	assert.Equal(t, "test", res.Types[0].Category)

	var found bool
	for _, typ := range res.Types {
		if typ.Type == "inject" {
			found = true
			assert.Equal(t, api.KindInput, typ.Kind)
		}
	}
	assert.True(t, found)
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.request("POST", "/flows", doubleFlow)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.request("GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wireflow_")
}

func TestFallbackToNodeRoutes(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	_, err := env.Routes.Handle("GET", "/hello", func(c *gin.Context) {
		c.String(http.StatusOK, "hi")
	})
	require.NoError(t, err)

	w := env.request("GET", "/hello", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi", w.Body.String())

	assert.Equal(t, http.StatusNotFound, env.request("GET", "/nope", "").Code)
}
