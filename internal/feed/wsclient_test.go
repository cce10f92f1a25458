package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newEchoServer returns an httptest.Server that upgrades to WebSocket and
// echoes every message back to the client.
func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWSClient_Connect(t *testing.T) {
	srv := newEchoServer(t)
	defer srv.Close()

	cfg := DefaultWSConfig(wsURL(srv))
	client := NewWSClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if client.State() != ConnUp {
		t.Fatalf("expected ConnUp after connect, got %d", client.State())
	}

	// Verify round-trip: subscribe, send, receive.
	sub := client.Subscribe()
	client.Send([]byte("hello"))

	select {
	case msg := <-sub:
		if string(msg) != "hello" {
			t.Fatalf("expected 'hello', got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestWSClient_Reconnect(t *testing.T) {
	srv := newEchoServer(t)

	cfg := DefaultWSConfig(wsURL(srv))
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	cfg.BackoffInitial = 50 * time.Millisecond

	var reconnects atomic.Int32
	client := NewWSClient(cfg, nil)
	client.OnReconnect(func() { reconnects.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	// Kill the server to break the connection.
	srv.Close()

	// Wait for the client to detect the drop.
	time.Sleep(400 * time.Millisecond)
	if client.State() != ConnDown {
		t.Fatal("expected ConnDown after server close")
	}

	// Start a new server and point the client at it so reconnect succeeds.
	srv2 := newEchoServer(t)
	defer srv2.Close()

	client.mu.Lock()
	client.cfg.URL = wsURL(srv2)
	client.mu.Unlock()

	waitFor(t, "reconnect", func() bool { return reconnects.Load() > 0 })

	if client.State() != ConnUp {
		t.Fatal("expected ConnUp after reconnect")
	}
}

func TestWSClient_ConnectWithRetry(t *testing.T) {
	// The endpoint refuses the first two handshakes, then behaves.
	var attempts atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultWSConfig(wsURL(srv))
	cfg.BackoffInitial = 20 * time.Millisecond

	client := NewWSClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.ConnectWithRetry(ctx); err != nil {
		t.Fatalf("ConnectWithRetry: %v", err)
	}
	defer client.Close()

	if attempts.Load() < 3 {
		t.Fatalf("expected at least 3 dial attempts, got %d", attempts.Load())
	}
	if client.State() != ConnUp {
		t.Fatal("expected ConnUp after retried connect")
	}
}

func TestWSClient_ConnectWithRetryStopsOnCancel(t *testing.T) {
	// Nothing listens here; every dial fails.
	cfg := DefaultWSConfig("ws://127.0.0.1:1")
	cfg.BackoffInitial = 10 * time.Millisecond

	client := NewWSClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := client.ConnectWithRetry(ctx); err == nil {
		t.Fatal("expected a cancellation error from an unreachable endpoint")
	}
}

func TestWSClient_CloseDetachesSubscribers(t *testing.T) {
	srv := newEchoServer(t)
	defer srv.Close()

	client := NewWSClient(DefaultWSConfig(wsURL(srv)), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	sub := client.Subscribe()
	client.Close()

	if _, open := <-sub; open {
		t.Fatal("expected subscriber channel closed after Close")
	}

	// A fan-out racing with shutdown must not hit a closed channel.
	client.fanOut([]byte("late"))
}

func TestWSClient_HeartbeatTimeout(t *testing.T) {
	// A server that accepts the connection but never sends anything.
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		select {}
	}))
	defer srv.Close()

	cfg := DefaultWSConfig(wsURL(srv))
	cfg.HeartbeatTimeout = 200 * time.Millisecond
	cfg.BackoffInitial = 50 * time.Millisecond

	client := NewWSClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	// The silent server must trigger a heartbeat timeout and a reconnect
	// attempt, observable as the connection going down.
	waitFor(t, "heartbeat timeout", func() bool { return client.State() == ConnDown })
}
