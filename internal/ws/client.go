package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// Client is one websocket connection for one authenticated user. A user may
// hold any number of concurrent clients (tabs, devices).
type Client struct {
	// ID is the connection id, unique per socket.
	ID     string
	UserID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *logger.Logger

	closeOnce sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, connID, userID string, log *logger.Logger) *Client {
	return &Client{
		ID:     connID,
		UserID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		log:    log,
	}
}

// Run registers the client and starts its pumps. It returns when the
// connection is gone and cleanup has finished.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	if d := c.hub.dispatcher; d != nil {
		d.HandleConnect(ctx, c)
	}
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump consumes inbound frames one at a time and hands them to the
// dispatcher. Serial consumption per connection keeps client-side event
// order intact.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		if d := c.hub.dispatcher; d != nil {
			d.HandleDisconnect(ctx, c)
		}
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("bad inbound frame", zap.String("user_id", c.UserID), zap.Error(err))
			continue
		}
		if d := c.hub.dispatcher; d != nil {
			d.HandleEvent(ctx, c, env)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
