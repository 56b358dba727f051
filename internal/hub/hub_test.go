// Camspan - Wireless Camera Session Broker
// Copyright 2026 Camspan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/camspan/camspan

package hub

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/camspan/camspan/internal/logging"
	"github.com/camspan/camspan/internal/protocol"
)

//nolint:gochecknoinits // quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "json", Output: io.Discard})
}

type seqPayload struct {
	Seq int `json:"seq"`
}

func seqMsg(seq int) protocol.Message {
	return protocol.MustMessage(protocol.EventFrameUpdate, seqPayload{Seq: seq})
}

func decodeSeq(t *testing.T, msg protocol.Message) int {
	t.Helper()
	var p seqPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode seq payload: %v", err)
	}
	return p.Seq
}

// queuedClient builds a client without pumps so the send queue can be
// inspected directly.
func queuedClient(queueSize int) *Client {
	return NewClient(nil, ClientOptions{SendQueueSize: queueSize}, nil, nil)
}

func receive(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued message")
		return protocol.Message{}
	}
}

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("hub did not stop")
		}
	})
	return h, cancel
}

func waitForViewers(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.ViewerCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("ViewerCount = %d, want %d", h.ViewerCount(), want)
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	c := queuedClient(3)

	for seq := 1; seq <= 5; seq++ {
		c.enqueue(seqMsg(seq))
	}

	// Oldest two evicted; the three newest survive in order.
	for _, want := range []int{3, 4, 5} {
		if got := decodeSeq(t, receive(t, c)); got != want {
			t.Errorf("queued seq = %d, want %d", got, want)
		}
	}
	select {
	case msg := <-c.send:
		t.Errorf("unexpected extra message %s in queue", msg.Type)
	default:
	}
}

func TestEnqueueNeverBlocks(t *testing.T) {
	c := queuedClient(2)

	finished := make(chan struct{})
	go func() {
		for seq := 0; seq < 10_000; seq++ {
			c.enqueue(seqMsg(seq))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestSnapshotDeliveredBeforeLiveEvents(t *testing.T) {
	h, _ := runHub(t)
	c := queuedClient(16)

	snapshot := []protocol.Message{seqMsg(-1), seqMsg(-2)}
	h.Register(c, snapshot)
	waitForViewers(t, h, 1)
	h.Broadcast(seqMsg(100))

	for _, want := range []int{-1, -2, 100} {
		if got := decodeSeq(t, receive(t, c)); got != want {
			t.Errorf("delivery order got %d, want %d", got, want)
		}
	}
}

func TestBroadcastReachesAllViewersInOrder(t *testing.T) {
	h, _ := runHub(t)
	c1 := queuedClient(16)
	c2 := queuedClient(16)
	h.Register(c1, nil)
	h.Register(c2, nil)
	waitForViewers(t, h, 2)

	h.Broadcast(seqMsg(1))
	h.Broadcast(seqMsg(2))

	for _, c := range []*Client{c1, c2} {
		for _, want := range []int{1, 2} {
			if got := decodeSeq(t, receive(t, c)); got != want {
				t.Errorf("viewer %d: delivery order got %d, want %d", c.ID(), got, want)
			}
		}
	}
}

func TestUnregisterRemovesViewer(t *testing.T) {
	h, _ := runHub(t)
	c := queuedClient(16)
	h.Register(c, nil)
	waitForViewers(t, h, 1)

	h.Unregister(c)
	waitForViewers(t, h, 0)

	// Unregistering twice is harmless.
	h.Unregister(c)
	waitForViewers(t, h, 0)
}

func TestServeShutdownClosesViewers(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	c := queuedClient(16)
	h.Register(c, nil)
	waitForViewers(t, h, 1)

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if h.ViewerCount() != 0 {
		t.Errorf("ViewerCount = %d after shutdown, want 0", h.ViewerCount())
	}
	select {
	case <-c.done:
	default:
		t.Error("viewer not closed on hub shutdown")
	}
}
