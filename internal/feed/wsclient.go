package feed

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnState reports the health of a WebSocket connection. Feeds read it to
// decide whether pushed data can be considered live.
type ConnState int32

const (
	ConnUp   ConnState = iota // connected and reading
	ConnDown                  // reconnecting
)

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	URL string

	ReadBufferSize  int
	WriteBufferSize int

	// HeartbeatTimeout is the maximum silence on the connection before the
	// client considers it dead and reconnects.
	HeartbeatTimeout time.Duration

	// Backoff parameters for reconnection.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// Headers sent during the WebSocket handshake.
	Headers http.Header
}

// DefaultWSConfig returns defaults tuned for public market-data streams.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HeartbeatTimeout: 30 * time.Second,
		BackoffInitial:   250 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		BackoffFactor:    2.0,
	}
}

// WSClient is a resilient WebSocket connection manager. It reconnects with
// exponential backoff, monitors heartbeats via read deadlines, and fans out
// inbound messages to subscribers. Exchange transports layer their typed
// decoding on top of the raw subscriber channel.
type WSClient struct {
	cfg WSConfig
	log *zap.Logger

	state atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	subMu sync.RWMutex
	subs  []chan []byte

	outbox chan []byte

	cancel context.CancelFunc
	done   chan struct{}

	// onReconnect is called after each successful reconnection, letting
	// the owning transport resubscribe its channels.
	onReconnect func()
}

// NewWSClient creates a WebSocket client. Call Connect to start.
func NewWSClient(cfg WSConfig, log *zap.Logger) *WSClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSClient{
		cfg:    cfg,
		log:    log,
		outbox: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// State returns the current connection state.
func (ws *WSClient) State() ConnState {
	return ConnState(ws.state.Load())
}

// OnReconnect registers a hook invoked after every successful reconnect.
func (ws *WSClient) OnReconnect(fn func()) {
	ws.onReconnect = fn
}

// Subscribe returns a channel receiving copies of every inbound message.
// The caller must drain it; slow subscribers have messages dropped.
func (ws *WSClient) Subscribe() <-chan []byte {
	ch := make(chan []byte, 512)
	ws.subMu.Lock()
	ws.subs = append(ws.subs, ch)
	ws.subMu.Unlock()
	return ch
}

// Send enqueues a message for delivery over the connection.
func (ws *WSClient) Send(data []byte) {
	select {
	case ws.outbox <- data:
	default:
		ws.log.Warn("ws outbox full, dropping message", zap.Int("bytes", len(data)))
	}
}

// Connect dials the endpoint and starts the read/write loops. It blocks
// until the initial connection succeeds or ctx is cancelled.
func (ws *WSClient) Connect(ctx context.Context) error {
	ctx, ws.cancel = context.WithCancel(ctx)

	if err := ws.dial(ctx); err != nil {
		return err
	}
	ws.state.Store(int32(ConnUp))

	go ws.readLoop(ctx)
	go ws.writeLoop(ctx)

	return nil
}

// ConnectWithRetry dials until the initial connection succeeds, backing off
// between attempts. It returns only on success or when ctx is cancelled; a
// refused endpoint is a cycle failure, not a fatal one.
func (ws *WSClient) ConnectWithRetry(ctx context.Context) error {
	delay := ws.cfg.BackoffInitial
	for {
		err := ws.Connect(ctx)
		if err == nil {
			return nil
		}
		ws.log.Warn("ws connect failed",
			zap.Error(err), zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(math.Min(
			float64(delay)*ws.cfg.BackoffFactor,
			float64(ws.cfg.BackoffMax),
		))
	}
}

// Close shuts down the client, closing the connection and all subscriber
// channels.
func (ws *WSClient) Close() {
	if ws.cancel != nil {
		ws.cancel()
	}
	ws.mu.Lock()
	if ws.conn != nil {
		ws.conn.Close()
	}
	ws.mu.Unlock()

	// Detach subscribers under the write lock so no fan-out can be sending
	// when the channels close.
	ws.subMu.Lock()
	subs := ws.subs
	ws.subs = nil
	ws.subMu.Unlock()
	for _, ch := range subs {
		close(ch)
	}

	close(ws.done)
}

// Done returns a channel closed when the client has fully shut down.
func (ws *WSClient) Done() <-chan struct{} {
	return ws.done
}

func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:  ws.cfg.ReadBufferSize,
		WriteBufferSize: ws.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Headers)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is
// re-established or the context is cancelled.
func (ws *WSClient) reconnect(ctx context.Context) bool {
	ws.state.Store(int32(ConnDown))

	delay := ws.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := ws.dial(ctx); err != nil {
			ws.log.Warn("ws reconnect failed",
				zap.Error(err), zap.Duration("retry_in", delay))
			delay = time.Duration(math.Min(
				float64(delay)*ws.cfg.BackoffFactor,
				float64(ws.cfg.BackoffMax),
			))
			continue
		}

		ws.state.Store(int32(ConnUp))
		if ws.onReconnect != nil {
			ws.onReconnect()
		}
		return true
	}
}

// readLoop reads messages and fans them out. It doubles as the heartbeat
// monitor: silence past HeartbeatTimeout forces a reconnect.
func (ws *WSClient) readLoop(ctx context.Context) {
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		c.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ws.log.Warn("ws read error, reconnecting", zap.Error(err))
			c.Close()
			if !ws.reconnect(ctx) {
				return
			}
			continue
		}

		ws.fanOut(msg)
	}
}

func (ws *WSClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ws.outbox:
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.log.Warn("ws write error", zap.Error(err))
			}
		}
	}
}

// fanOut delivers msg to every subscriber without blocking.
func (ws *WSClient) fanOut(msg []byte) {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	for _, ch := range ws.subs {
		select {
		case ch <- msg:
		default:
			// Slow consumer — drop to avoid head-of-line blocking.
		}
	}
}
