package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kode4food/wireflow"
	"github.com/kode4food/wireflow/internal/auth"
	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/client"
)

const injectFlow = `[
	{"id":"f1","type":"tab"},
	{"id":"in","type":"inject","z":"f1","wires":[["dbg"]]},
	{"id":"dbg","type":"debug","z":"f1"}
]`

func execute(
	ctx context.Context, in string, args ...string,
) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(in))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

func TestVersion(t *testing.T) {
	out, err := execute(context.Background(), "", "version")
	require.NoError(t, err)
	assert.Equal(t,
		fmt.Sprintf("%s version %s\n", wireflow.Name, wireflow.Version), out,
	)
}

func TestHashPassword(t *testing.T) {
	t.Run("argument", func(t *testing.T) {
		out, err := execute(context.Background(), "", "hash-pw", "secret")
		require.NoError(t, err)
		hash := strings.TrimSpace(out)
		assert.NoError(t,
			bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")),
		)
	})

	t.Run("stdin", func(t *testing.T) {
		out, err := execute(context.Background(), "hunter2\r\nignored\n",
			"hash-pw",
		)
		require.NoError(t, err)
		hash := strings.TrimSpace(out)
		assert.NoError(t,
			bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")),
		)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := execute(context.Background(), "", "hash-pw")
		assert.ErrorIs(t, err, ErrEmptyPassword)
	})
}

func TestValidate(t *testing.T) {
	t.Run("stored flows", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "flows.json", injectFlow)

		out, err := execute(context.Background(), "", "validate", "-u", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "flows.json: 1 flows, 0 subflows, 2 nodes")
	})

	t.Run("named flow file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "other.json", injectFlow)

		out, err := execute(context.Background(), "",
			"validate", "-u", dir, "other.json",
		)
		require.NoError(t, err)
		assert.Contains(t, out, "other.json: 1 flows")
	})

	t.Run("missing flow file is empty", func(t *testing.T) {
		out, err := execute(context.Background(), "",
			"validate", "-u", t.TempDir(),
		)
		require.NoError(t, err)
		assert.Contains(t, out, "0 flows, 0 subflows, 0 nodes")
	})

	t.Run("unknown node type", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "flows.json", `[
			{"id":"f1","type":"tab"},
			{"id":"x","type":"mystery","z":"f1"}
		]`)

		_, err := execute(context.Background(), "", "validate", "-u", dir)
		assert.ErrorIs(t, err, api.ErrUnknownType)
	})

	t.Run("invalid settings", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "settings.yaml", "uiPort: 70000\n")

		_, err := execute(context.Background(), "",
			"validate", "-u", dir, "-s", path,
		)
		assert.ErrorIs(t, err, config.ErrInvalidSettings)
	})

	t.Run("missing settings file", func(t *testing.T) {
		_, err := execute(context.Background(), "",
			"validate", "-s", filepath.Join(t.TempDir(), "nope.yaml"),
		)
		assert.ErrorIs(t, err, config.ErrSettingsFile)
	})
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	port := freePort(t)
	path := writeFile(t, dir, "settings.yaml",
		"uiHost: 127.0.0.1\nlogging:\n  console:\n    level: error\n",
	)
	writeFile(t, dir, "flows.json", injectFlow)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := execute(ctx, "", "run",
			"-s", path, "-u", dir, "-p", fmt.Sprint(port),
			"--shutdown-timeout", "5s",
		)
		done <- err
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/flows", port)
	require.Eventually(t, func() bool {
		res, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	res, err := http.Post(
		fmt.Sprintf("http://127.0.0.1:%d/inject/in", port),
		"application/json", nil,
	)
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not exit")
	}
}

func TestRunInvalidSettings(t *testing.T) {
	_, err := execute(context.Background(), "",
		"run", "-u", t.TempDir(), "-p", "0",
	)
	assert.ErrorIs(t, err, config.ErrInvalidSettings)
}

func adminServer(t *testing.T, users bool) string {
	t.Helper()
	st := config.NewDefaultSettings()
	st.UserDir = t.TempDir()
	st.Logging.Console.Level = "error"
	if users {
		hash, err := auth.HashPassword("secret")
		require.NoError(t, err)
		st.AdminAuth = config.AdminAuth{
			Type: config.AuthTypeCredentials,
			Users: []config.AdminUser{{
				Username:    "admin",
				Password:    hash,
				Permissions: api.PermissionAll,
			}},
		}
	}

	rt := wireflow.New()
	require.NoError(t, rt.Init(nil, st))
	require.NoError(t, rt.Start(context.Background()))
	srv := httptest.NewServer(rt.Handler())
	t.Cleanup(func() {
		srv.Close()
		assert.NoError(t, rt.Close(context.Background()))
	})
	return srv.URL
}

func TestDeployAndInject(t *testing.T) {
	url := adminServer(t, false)
	path := writeFile(t, t.TempDir(), "flows.json", injectFlow)
	ctx := context.Background()

	out, err := execute(ctx, "", "deploy", path, "--url", url)
	require.NoError(t, err)
	assert.Contains(t, out, "(full): 2 added, 0 changed, 0 removed")

	out, err = execute(ctx, "", "deploy", path, "--url", url,
		"--mode", "nodes",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "(nodes): 0 added")

	_, err = execute(ctx, "", "deploy", path, "--url", url, "--rev", "old")
	assert.Equal(t, http.StatusConflict, client.StatusOf(err))

	out, err = execute(ctx, "", "inject", "in", `{"n":1}`, "--url", url)
	require.NoError(t, err)
	assert.Equal(t, "injected in\n", out)

	_, err = execute(ctx, "", "inject", "ghost", "--url", url)
	assert.Equal(t, http.StatusNotFound, client.StatusOf(err))
}

func TestDeployRejectsInput(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	path := writeFile(t, dir, "flows.json", "not json")
	_, err := execute(ctx, "", "deploy", path)
	assert.ErrorIs(t, err, api.ErrInvalidDefinition)

	path = writeFile(t, dir, "ok.json", injectFlow)
	_, err = execute(ctx, "", "deploy", path, "--mode", "sideways")
	assert.ErrorIs(t, err, api.ErrInvalidDeployMode)

	_, err = execute(ctx, "", "deploy", filepath.Join(dir, "none.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRemoteLogin(t *testing.T) {
	url := adminServer(t, true)
	path := writeFile(t, t.TempDir(), "flows.json", injectFlow)
	ctx := context.Background()

	_, err := execute(ctx, "", "deploy", path, "--url", url)
	assert.Equal(t, http.StatusUnauthorized, client.StatusOf(err))

	_, err = execute(ctx, "", "deploy", path, "--url", url,
		"--username", "admin", "--password", "nope",
	)
	assert.ErrorIs(t, err, client.ErrLogin)

	t.Setenv(passwordEnv, "secret")
	_, err = execute(ctx, "", "deploy", path, "--url", url,
		"--username", "admin",
	)
	require.NoError(t, err)
}
