package server_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/pkg/api"
)

func TestLibraryFlows(t *testing.T) {
	env := testServer(t)
	defer env.Cleanup()

	w := env.request("GET", "/library/flows/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"folders":[],"entries":[]}`, w.Body.String())

	w = env.request("POST", "/library/flows/samples/double", doubleFlow)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.request("GET", "/library/flows/samples/double", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, doubleFlow, w.Body.String())

	w = env.request("GET", "/library/flows/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"samples"},
		decode[api.LibraryListing](t, w).Folders,
	)

	w = env.request("GET", "/library/flows/samples/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"double"},
		decode[api.LibraryListing](t, w).Entries,
	)

	assert.Equal(t, http.StatusNotFound,
		env.request("GET", "/library/flows/missing", "").Code,
	)
	assert.Equal(t, http.StatusBadRequest,
		env.request("POST", "/library/flows/bad", `{"not":"flows"}`).Code,
	)
	assert.Equal(t, http.StatusBadRequest,
		env.request("POST", "/library/flows/", `[]`).Code,
	)
}

func TestLibraryRequiresWrite(t *testing.T) {
	env := testServer(t, withUsers(t))
	defer env.Cleanup()

	viewer := env.login(t, "viewer", "looking")
	w := env.request("POST", "/library/flows/x", `[]`,
		"Authorization", viewer,
	)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.request("GET", "/library/flows/", "", "Authorization", viewer)
	assert.Equal(t, http.StatusOK, w.Code)
}
