package server

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kode4food/wireflow/internal/events"
	"github.com/kode4food/wireflow/pkg/api"
	"github.com/kode4food/wireflow/pkg/log"
)

// Client is a comms connection. It receives the runtime events whose
// topics match one of its subscriptions
type Client struct {
	server   *Server
	conn     *websocket.Conn
	consumer events.Consumer
	topics   []string
	done     chan struct{}
	close    sync.Once
}

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleComms(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.deps.Log.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	client := &Client{
		server:   s,
		conn:     conn,
		consumer: s.deps.Hub.NewConsumer(),
		done:     make(chan struct{}),
	}
	s.registerWebSocket(client)
	go client.run()
}

// Close ends the connection. It is safe to call more than once
func (c *Client) Close() {
	c.close.Do(func() {
		close(c.done)
	})
}

func (c *Client) run() {
	defer func() {
		c.Close()
		c.server.unregisterWebSocket(c)
		c.consumer.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			if !c.handleRequest(message) {
				return
			}

		case ev, ok := <-c.consumer.Receive():
			if !ok {
				c.sendClose()
				return
			}
			if !c.sendIfMatched(ev) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}

		case <-c.done:
			c.sendClose()
			return
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	defer close(incoming)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- message:
		case <-c.done:
			return
		}
	}
}

// handleRequest applies a subscription change. A new subscription is
// immediately sent the retained events it matches
func (c *Client) handleRequest(message []byte) bool {
	var req api.CommsRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.server.deps.Log.Warn("Invalid comms message",
			log.Error(err))
		return true
	}

	if req.Unsubscribe != "" {
		c.topics = slices.DeleteFunc(c.topics, func(t string) bool {
			return t == req.Unsubscribe
		})
	}

	if req.Subscribe == "" || slices.Contains(c.topics, req.Subscribe) {
		return true
	}
	c.topics = append(c.topics, req.Subscribe)
	for _, ev := range c.server.deps.Hub.Retained(req.Subscribe) {
		if !c.send(ev) {
			return false
		}
	}
	return true
}

func (c *Client) sendIfMatched(ev *api.Event) bool {
	if !events.MatchTopics(c.topics...)(ev) {
		return true
	}
	return c.send(ev)
}

func (c *Client) send(ev *api.Event) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		c.server.deps.Log.Error("WebSocket write failed",
			"topic", ev.Topic,
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

func (c *Client) sendClose() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
