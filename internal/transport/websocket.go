package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtclient/internal/protocol"
)

// WebSocketOptions configures a WebSocket transport
type WebSocketOptions struct {
	AutoReconnect     bool
	ReconnectionDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	HandshakeTimeout  time.Duration
	Header            http.Header
}

func (o WebSocketOptions) withDefaults() WebSocketOptions {
	if o.ReconnectionDelay <= 0 {
		o.ReconnectionDelay = time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	return o
}

// WebSocket is a Transport over a single WebSocket connection.
// Inbound frames are routed to listeners by their "room" field, falling
// back to "requestId".
type WebSocket struct {
	url    string
	opts   WebSocketOptions
	logger zerolog.Logger

	listeners *Listeners

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	running bool
	closed  bool
	stateMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebSocket creates a WebSocket transport for url
func NewWebSocket(url string, opts WebSocketOptions, logger zerolog.Logger) *WebSocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocket{
		url:       url,
		opts:      opts.withDefaults(),
		logger:    logger.With().Str("component", "websocket").Str("url", url).Logger(),
		listeners: NewListeners(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Connect dials in the background. The first successful dial fires
// EventConnect; a failed one fires EventConnectError and Connect may be
// called again.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		return ErrClosed
	}
	if w.running {
		w.stateMu.Unlock()
		return nil
	}
	w.running = true
	w.stateMu.Unlock()

	go w.run(ctx)
	return nil
}

func (w *WebSocket) run(ctx context.Context) {
	w.logger.Info().Msg("WebSocket connecting")
	conn, err := w.dial(ctx)
	if err != nil {
		w.stateMu.Lock()
		w.running = false
		w.stateMu.Unlock()

		if w.ctx.Err() != nil {
			return
		}
		w.logger.Warn().Err(err).Msg("WebSocket connection failed")
		w.listeners.Dispatch(EventConnectError, connectErrorPayload(err))
		return
	}

	w.setConn(conn)
	w.logger.Info().Msg("WebSocket connected")
	w.listeners.Dispatch(EventConnect, nil)

	if w.opts.PingInterval > 0 {
		go w.pingLoop()
	}
	w.readLoop()
}

func (w *WebSocket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.ctx.Done():
			cancel()
		case <-dialCtx.Done():
		}
	}()

	dialer := websocket.Dialer{HandshakeTimeout: w.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(dialCtx, w.url, w.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	readTimeout := w.opts.ReadTimeout
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	return conn, nil
}

func connectErrorPayload(err error) []byte {
	data, mErr := json.Marshal(&protocol.Error{Message: err.Error(), Code: http.StatusServiceUnavailable})
	if mErr != nil {
		return nil
	}
	return data
}

func (w *WebSocket) setConn(conn *websocket.Conn) {
	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()
}

func (w *WebSocket) currentConn() *websocket.Conn {
	w.connMu.RLock()
	defer w.connMu.RUnlock()
	return w.conn
}

func (w *WebSocket) dropConn() {
	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()
}

func (w *WebSocket) pingLoop() {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			conn := w.currentConn()
			if conn == nil {
				continue
			}
			w.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			w.writeMu.Unlock()
			if err != nil {
				w.logger.Debug().Err(err).Msg("ping write failed")
			}
		}
	}
}

func (w *WebSocket) readLoop() {
	for {
		conn := w.currentConn()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(w.opts.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if w.ctx.Err() != nil {
				w.logger.Info().Msg("WebSocket reader stopped (shutdown)")
				return
			}

			w.logger.Warn().Err(err).Msg("WebSocket connection lost")
			w.dropConn()
			w.listeners.Dispatch(EventDisconnect, nil)

			if !w.opts.AutoReconnect || !w.reconnect() {
				w.stateMu.Lock()
				w.running = false
				w.stateMu.Unlock()
				return
			}
			continue
		}

		w.route(data)
	}
}

func (w *WebSocket) route(data []byte) {
	var base struct {
		Room      string `json:"room"`
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		w.logger.Warn().Err(err).Int("len", len(data)).Msg("ws message parse error")
		return
	}

	if base.Room != "" && w.listeners.Dispatch(base.Room, data) {
		return
	}
	if base.RequestID != "" && base.RequestID != base.Room && w.listeners.Dispatch(base.RequestID, data) {
		return
	}
	w.logger.Debug().
		Str("room", base.Room).
		Str("requestId", base.RequestID).
		Msg("message without listener")
}

// reconnect redials every ReconnectionDelay until it succeeds or the
// transport is closed
func (w *WebSocket) reconnect() bool {
	interval := w.opts.ReconnectionDelay
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info().Msg("WebSocket reconnection stopped (shutdown)")
			return false
		case <-time.After(interval):
		}

		w.logger.Info().Dur("interval", interval).Msg("WebSocket reconnection attempt")

		ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
		conn, err := w.dial(ctx)
		cancel()
		if err != nil {
			w.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("WebSocket reconnection failed, will retry")
			continue
		}

		w.setConn(conn)
		w.logger.Info().Msg("WebSocket reconnected successfully")
		w.listeners.Dispatch(EventReconnect, nil)
		return true
	}
}

// Close closes the connection and stops background loops. It does not
// wait for the reader so it is safe to call from a listener.
func (w *WebSocket) Close() error {
	w.stateMu.Lock()
	if w.closed {
		w.stateMu.Unlock()
		return nil
	}
	w.closed = true
	w.stateMu.Unlock()

	w.logger.Info().Msg("WebSocket closing")
	w.cancel()
	w.dropConn()
	w.listeners.Clear()
	return nil
}

// Emit writes payload as a text frame. The name is implied by the payload
// on this transport.
func (w *WebSocket) Emit(name string, payload []byte) error {
	w.stateMu.Lock()
	closed := w.closed
	w.stateMu.Unlock()
	if closed {
		return ErrClosed
	}

	conn := w.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	w.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, payload)
	w.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", name, err)
	}
	return nil
}

// Once registers a one-shot listener
func (w *WebSocket) Once(name string, h Handler) ListenerID {
	return w.listeners.Once(name, h)
}

// On registers a persistent listener
func (w *WebSocket) On(name string, h Handler) ListenerID {
	return w.listeners.On(name, h)
}

// Off removes a listener
func (w *WebSocket) Off(name string, id ListenerID) {
	w.listeners.Off(name, id)
}
