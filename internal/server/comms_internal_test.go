package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/assert/helpers"
	"github.com/kode4food/wireflow/internal/events"
)

func TestClientExitReleasesReader(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	s := NewServer(Dependencies{Hub: hub, Log: helpers.NewTestLogger()})

	clients := make(chan *Client, 1)
	ts := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			clients <- &Client{
				server:   s,
				conn:     conn,
				consumer: hub.NewConsumer(),
				done:     make(chan struct{}),
			}
		},
	))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	c := <-clients
	s.registerWebSocket(c)
	require.NoError(t, peer.Close())

	exited := make(chan struct{})
	go func() {
		defer close(exited)
		c.run()
	}()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not exit")
	}

	select {
	case <-c.done:
	default:
		t.Fatal("client exit left done open")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.sockets)
}
