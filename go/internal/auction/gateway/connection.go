package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Connection represents a WebSocket connection to a viewer
type Connection struct {
	ID     string
	Bidder string

	ws   *websocket.Conn
	send chan []byte
	// signalled after each write so a producer can wait for queue space
	drained chan struct{}
	// items this connection watches; guarded by Hub.mu
	subs map[uuid.UUID]struct{}

	service     *Service
	config      ConnectionConfig
	ConnectedAt time.Time
}

func newConnection(ws *websocket.Conn, bidder string, cfg ConnectionConfig) *Connection {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 1
	}
	return &Connection{
		ID:          uuid.NewString(),
		Bidder:      bidder,
		ws:          ws,
		send:        make(chan []byte, size),
		drained:     make(chan struct{}, 1),
		subs:        make(map[uuid.UUID]struct{}),
		config:      cfg,
		ConnectedAt: time.Now(),
	}
}

func (c *Connection) closeTransport() {
	if c.ws != nil {
		c.ws.Close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		c.service.hub.remove(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if !ok {
				// Queue was closed by the hub
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}
			select {
			case c.drained <- struct{}{}:
			default:
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		if c.service.hub.remove(c) {
			log.Info().
				Str("connection_id", c.ID).
				Str("bidder", c.Bidder).
				Msg("connection closed")
		}
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.service.handleClientMessage(ctx, c, message)
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
