// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package hub

import (
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/metrics"
	"github.com/camspan/camspan/internal/protocol"
)

// clientIDCounter hands out monotonic ids so broadcast order over the
// viewer set is deterministic.
var clientIDCounter atomic.Uint64

// ClientOptions carry the per-connection tuning, normally taken from
// config.WebsocketConfig.
type ClientOptions struct {
	// SendQueueSize bounds the per-viewer send queue. When the queue is
	// full the oldest queued event is evicted to make room for the new
	// one; the viewer stays connected.
	SendQueueSize int

	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration

	// PongTimeout is how long to wait for a pong before declaring the
	// peer dead. Pings go out at 90% of this period.
	PongTimeout time.Duration

	// MaxMessageSize caps inbound message size in bytes.
	MaxMessageSize int64
}

func (o *ClientOptions) normalize() {
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4 * 1024 * 1024
	}
}

// Client is one websocket peer with a bounded outbound queue and
// dedicated read/write pumps. The hub uses it for dashboard viewers; the
// API layer reuses it for device connections, which never join the
// broadcast set.
type Client struct {
	id   uint64
	conn *websocket.Conn
	opts ClientOptions

	// send is never closed; writers race with shutdown via done instead,
	// so a late enqueue is a dropped message rather than a panic.
	send chan protocol.Message
	done chan struct{}

	onMessage func(*Client, protocol.Message)
	onClose   func(*Client)

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient wraps an upgraded connection. onMessage is invoked from the
// read pump for every inbound message; onClose fires exactly once when
// either pump exits.
func NewClient(conn *websocket.Conn, opts ClientOptions, onMessage func(*Client, protocol.Message), onClose func(*Client)) *Client {
	opts.normalize()
	return &Client{
		id:        clientIDCounter.Add(1),
		conn:      conn,
		opts:      opts,
		send:      make(chan protocol.Message, opts.SendQueueSize),
		done:      make(chan struct{}),
		onMessage: onMessage,
		onClose:   onClose,
	}
}

// ID returns the monotonic client id.
func (c *Client) ID() uint64 {
	return c.id
}

// Start launches the read and write pumps. It returns immediately.
func (c *Client) Start() {
	c.wg.Add(2)
	go c.writePump()
	go c.readPump()
}

// Send enqueues a message for delivery without ever blocking the caller.
// If the queue is full the oldest queued message is evicted and counted
// as dropped; the connection stays up.
func (c *Client) Send(msg protocol.Message) {
	c.enqueue(msg)
}

func (c *Client) enqueue(msg protocol.Message) {
	for {
		select {
		case <-c.done:
			return
		case c.send <- msg:
			return
		default:
		}
		// Queue full: evict the oldest entry and retry.
		select {
		case <-c.send:
			metrics.ViewerEventsDropped.Inc()
		default:
		}
	}
}

// Close tears the connection down. Safe to call from any goroutine and
// more than once.
func (c *Client) Close() {
	c.shutdown()
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Wait blocks until both pumps have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// readPump reads inbound messages until the connection fails, refreshing
// the read deadline on every pong and every message.
func (c *Client) readPump() {
	defer func() {
		c.shutdown()
		if c.onClose != nil {
			c.onClose(c)
		}
		c.wg.Done()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket read failed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
			logging.Warn().Uint64("client_id", c.id).Msg("malformed websocket message ignored")
			continue
		}
		if c.onMessage != nil {
			c.onMessage(c, msg)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	pingPeriod := c.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
		c.wg.Done()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
