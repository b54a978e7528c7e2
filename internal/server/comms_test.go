package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/pkg/api"
)

const debugFlow = `[
	{"id":"f1","type":"tab"},
	{"id":"in","type":"inject","z":"f1","wires":[["dbg"]]},
	{"id":"dbg","type":"debug","z":"f1"}
]`

type commsEvent struct {
	Data  map[string]any `json:"data"`
	Topic string         `json:"topic"`
}

func dialComms(
	t *testing.T, env *testServerEnv, headers ...string,
) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/comms"
	h := http.Header{}
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return websocket.DefaultDialer.Dial(url, h)
}

func readEvent(t *testing.T, conn *websocket.Conn, topic string) *commsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev commsEvent
		require.NoError(t, conn.ReadJSON(&ev))
		if api.MatchTopic(topic, ev.Topic) {
			return &ev
		}
	}
}

func TestCommsRetainedStatus(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.Hub.PublishStatus("n1", &api.NodeStatus{Text: "connected"})

	conn, _, err := dialComms(t, env)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(api.CommsRequest{
		Subscribe: "status/#",
	}))
	ev := readEvent(t, conn, "status/#")
	assert.Equal(t, "status/n1", ev.Topic)
	assert.Equal(t, "n1", ev.Data["id"])
}

func TestCommsDebugEvents(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	env.Deploy(t, debugFlow, api.DeployFull)
	env.Hub.PublishStatus("marker", &api.NodeStatus{Text: "ready"})

	conn, _, err := dialComms(t, env)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// requests are handled in order, so the retained marker confirms that
	// the debug subscription is active
	require.NoError(t, conn.WriteJSON(api.CommsRequest{Subscribe: "debug"}))
	require.NoError(t, conn.WriteJSON(api.CommsRequest{
		Subscribe: "status/marker",
	}))
	readEvent(t, conn, "status/marker")

	env.Inject(t, "in", "hello")
	ev := readEvent(t, conn, api.TopicDebug)
	assert.Equal(t, "dbg", ev.Data["id"])
	assert.Equal(t, "hello", ev.Data["value"])
}

func TestCommsUnsubscribe(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	conn, _, err := dialComms(t, env)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	env.Hub.PublishStatus("marker", &api.NodeStatus{Text: "ready"})
	require.NoError(t, conn.WriteJSON(api.CommsRequest{
		Subscribe: "notification/#",
	}))
	require.NoError(t, conn.WriteJSON(api.CommsRequest{
		Unsubscribe: "notification/#",
	}))
	require.NoError(t, conn.WriteJSON(api.CommsRequest{
		Subscribe: "status/marker",
	}))
	readEvent(t, conn, "status/marker")

	env.Deploy(t, debugFlow, api.DeployFull)
	env.Hub.PublishStatus("marker", &api.NodeStatus{Text: "done"})

	ev := readEvent(t, conn, "#")
	assert.Equal(t, "status/marker", ev.Topic)
	assert.Equal(t, "done", ev.Data["status"].(map[string]any)["text"])
}

func TestCommsRequiresAuth(t *testing.T) {
	env := testServer(t, withUsers(t))
	defer env.Cleanup()

	_, res, err := dialComms(t, env)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token := env.login(t, "viewer", "looking")
	conn, _, err := dialComms(t, env, "Authorization", token)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestCloseWebSockets(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	conn, _, err := dialComms(t, env)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	env.Hub.PublishStatus("marker", &api.NodeStatus{Text: "ready"})
	require.NoError(t, conn.WriteJSON(api.CommsRequest{
		Subscribe: "status/marker",
	}))
	readEvent(t, conn, "status/marker")

	env.Server.CloseWebSockets()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived))
}
