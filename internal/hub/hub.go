// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package hub

import (
	"context"
	"sort"
	"sync"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/metrics"
	"github.com/camspan/camspan/internal/protocol"
)

// Hub maintains the set of subscribed dashboard viewers and fans events
// out to them. Devices are not hub members; their connections are handled
// per-connection by the API layer and only publish into the hub.
//
// Fan-out is fire-and-forget: enqueueing into a viewer's bounded send
// queue never blocks, so one slow or dead viewer cannot stall delivery to
// the others or back-pressure a device.
type Hub struct {
	viewers map[*Client]bool

	broadcast  chan protocol.Message
	register   chan registration
	unregister chan *Client

	mu sync.RWMutex
}

// registration couples a joining viewer with the snapshot it must receive
// before any live event.
type registration struct {
	client   *Client
	snapshot []protocol.Message
}

// New creates a hub.
func New() *Hub {
	return &Hub{
		viewers:    make(map[*Client]bool),
		broadcast:  make(chan protocol.Message, 256),
		register:   make(chan registration),
		unregister: make(chan *Client),
	}
}

// Register subscribes a viewer. The snapshot messages are queued into the
// viewer's send channel before it joins the broadcast set, which
// guarantees a late joiner sees every live device before any live event.
func (h *Hub) Register(client *Client, snapshot []protocol.Message) {
	h.register <- registration{client: client, snapshot: snapshot}
}

// Unregister removes a viewer and releases its send queue.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Broadcast fans one event out to every subscribed viewer. Events are
// delivered to each viewer in arrival order; overflow evicts that
// viewer's oldest queued event.
func (h *Hub) Broadcast(msg protocol.Message) {
	metrics.BroadcastsSent.WithLabelValues(msg.Type).Inc()
	h.broadcast <- msg
}

// ViewerCount returns the number of subscribed viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Serve implements suture.Service. Priority-based selection keeps
// behavior deterministic when multiple channels are ready: shutdown
// first, then viewer lifecycle, then broadcasts.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case reg := <-h.register:
			h.addViewer(reg)
			continue
		case client := <-h.unregister:
			h.removeViewer(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case reg := <-h.register:
			h.addViewer(reg)
		case client := <-h.unregister:
			h.removeViewer(client)
		case msg := <-h.broadcast:
			h.broadcastToViewers(msg)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "dashboard-hub"
}

func (h *Hub) addViewer(reg registration) {
	for _, msg := range reg.snapshot {
		reg.client.enqueue(msg)
	}
	h.mu.Lock()
	h.viewers[reg.client] = true
	total := len(h.viewers)
	h.mu.Unlock()

	metrics.DashboardViewers.Set(float64(total))
	logging.Info().Int("total_viewers", total).Msg("dashboard viewer joined")
}

func (h *Hub) removeViewer(client *Client) {
	h.mu.Lock()
	_, ok := h.viewers[client]
	if ok {
		delete(h.viewers, client)
	}
	total := len(h.viewers)
	h.mu.Unlock()

	if !ok {
		return
	}
	client.shutdown()
	metrics.DashboardViewers.Set(float64(total))
	logging.Info().Int("total_viewers", total).Msg("dashboard viewer left")
}

// broadcastToViewers enqueues the message for every viewer in
// deterministic order (monotonic client ids), so delivery sequencing is
// reproducible in tests.
func (h *Hub) broadcastToViewers(msg protocol.Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.viewers))
	for c := range h.viewers {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, c := range clients {
		c.enqueue(msg)
	}
}

// shutdown closes every viewer connection on hub stop.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	closed := len(h.viewers)
	for c := range h.viewers {
		c.shutdown()
		delete(h.viewers, c)
	}
	h.mu.Unlock()

	metrics.DashboardViewers.Set(0)

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "dashboard-hub").
		Str("reason", reason).
		Int("viewers_closed", closed).
		Msg("dashboard hub stopped")
}
