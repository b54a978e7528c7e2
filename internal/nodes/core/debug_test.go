package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/assert/helpers"
	"github.com/kode4food/wireflow/internal/nodes"
	"github.com/kode4food/wireflow/internal/nodes/core"
	"github.com/kode4food/wireflow/pkg/api"
)

func TestDebugPayload(t *testing.T) {
	env := helpers.NewMockEnv("dbg", "f1")
	n := newDebug(t, env, `"name":"show"`)

	msg := api.NewMessage(map[string]any{"v": 1.0})
	msg[api.TopicKey] = "t1"
	out, err := receive(t, n, msg)
	require.NoError(t, err)
	assert.Empty(t, out)

	ev := debugEvent(t, env)
	assert.Equal(t, api.NodeID("dbg"), ev.ID)
	assert.Equal(t, "show", ev.Name)
	assert.Equal(t, "t1", ev.Topic)
	assert.Equal(t, api.PayloadKey, ev.Property)
	assert.Equal(t, map[string]any{"v": 1.0}, ev.Value)
	assert.Nil(t, ev.Msg)

	msg.Payload().(map[string]any)["v"] = 2.0
	assert.Equal(t, map[string]any{"v": 1.0}, ev.Value)
}

func TestDebugCompleteMessage(t *testing.T) {
	env := helpers.NewMockEnv("dbg", "f1")
	n := newDebug(t, env, `"complete":"true"`)

	msg := api.NewMessage("all")
	_, err := receive(t, n, msg)
	require.NoError(t, err)

	ev := debugEvent(t, env)
	assert.Equal(t, msg, ev.Msg)
	assert.Empty(t, ev.Property)
}

func TestDebugNestedProperty(t *testing.T) {
	env := helpers.NewMockEnv("dbg", "f1")
	n := newDebug(t, env, `"complete":"payload.items.1.name"`)

	msg := api.NewMessage(map[string]any{
		"items": []any{
			map[string]any{"name": "first"},
			map[string]any{"name": "second"},
		},
	})
	_, err := receive(t, n, msg)
	require.NoError(t, err)
	assert.Equal(t, "second", debugEvent(t, env).Value)
}

func TestDebugInactive(t *testing.T) {
	env := helpers.NewMockEnv("dbg", "f1")
	n := newDebug(t, env, `"active":false`)

	_, err := receive(t, n, api.NewMessage(1))
	require.NoError(t, err)
	assert.Empty(t, env.Events())
}

func TestDebugStatus(t *testing.T) {
	env := helpers.NewMockEnv("dbg", "f1")
	n := newDebug(t, env, `"tostatus":true,"console":true`)

	_, err := receive(t, n, api.NewMessage("short"))
	require.NoError(t, err)
	_, err = receive(t, n,
		api.NewMessage("a payload that is far too long to show in full"),
	)
	require.NoError(t, err)
	_, err = receive(t, n, api.NewMessage(map[string]any{"n": 1}))
	require.NoError(t, err)

	st := env.Statuses()
	require.Len(t, st, 3)
	assert.Equal(t, "short", st[0].Text)
	assert.Equal(t, "a payload that is far too long t...", st[1].Text)
	assert.Equal(t, `{"n":1}`, st[2].Text)
	assert.Equal(t, "grey", st[2].Fill)
}

func newDebug(t *testing.T, env nodes.Env, props string) nodes.Receiver {
	t.Helper()
	doc := `{"id":"dbg","type":"debug","z":"f1"}`
	if props != "" {
		doc = `{"id":"dbg","type":"debug","z":"f1",` + props + `}`
	}
	n, err := core.NewDebug(env, nodeDef(t, doc))
	require.NoError(t, err)
	return n.(nodes.Receiver)
}

func debugEvent(t *testing.T, env *helpers.MockEnv) *api.DebugEvent {
	t.Helper()
	events := env.Events()
	require.NotEmpty(t, events)
	ev := events[len(events)-1]
	assert.Equal(t, api.TopicDebug, ev.Topic)
	return ev.Data.(*api.DebugEvent)
}
