package api_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/pkg/api"
)

func TestPortRefJSON(t *testing.T) {
	var wires [][]api.PortRef
	err := json.Unmarshal(
		[]byte(`[["a", {"id":"b","port":2}], []]`), &wires,
	)
	require.NoError(t, err)
	assert.Equal(t, [][]api.PortRef{
		{{Node: "a"}, {Node: "b", Port: 2}},
		{},
	}, wires)

	data, err := json.Marshal(wires)
	require.NoError(t, err)
	assert.JSONEq(t, `[["a", {"id":"b","port":2}], []]`, string(data))
}

func TestPortRefInvalid(t *testing.T) {
	var ref api.PortRef
	assert.ErrorIs(t, json.Unmarshal([]byte(`""`), &ref),
		api.ErrInvalidPortRef)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"port":1}`), &ref),
		api.ErrInvalidPortRef)
	assert.ErrorIs(t, json.Unmarshal([]byte(`{"id":"x","port":-1}`), &ref),
		api.ErrInvalidPortRef)
	assert.ErrorIs(t, json.Unmarshal([]byte(`7`), &ref),
		api.ErrInvalidPortRef)
}

func TestPortRefString(t *testing.T) {
	assert.Equal(t, "n1:3", api.PortRef{Node: "n1", Port: 3}.String())
}

func TestNodeIDChildParent(t *testing.T) {
	id := api.NodeID("sub1").Child("inner")
	assert.Equal(t, api.NodeID("sub1/inner"), id)

	parent, ok := id.Parent()
	assert.True(t, ok)
	assert.Equal(t, api.NodeID("sub1"), parent)

	_, ok = api.NodeID("top").Parent()
	assert.False(t, ok)
}
