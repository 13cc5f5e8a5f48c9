// Package session implements the client session: the connection state
// machine, request correlation, the offline queue replay and the room
// subscription protocol on top of a transport.Transport.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rtclient/internal/events"
	"rtclient/internal/history"
	"rtclient/internal/protocol"
	"rtclient/internal/queue"
	"rtclient/internal/transport"
)

// ResponseFunc receives either the result of a request or its error
type ResponseFunc func(result json.RawMessage, err error)

// ConnectFunc is invoked once the connection attempt settles
type ConnectFunc func(err error)

// QueryArgs routes a request
type QueryArgs struct {
	Controller string
	Action     string
	Index      string
	Collection string
}

type pendingRequest struct {
	request  *protocol.Request
	callback ResponseFunc
}

type loginCredentials struct {
	strategy    string
	credentials map[string]interface{}
	expiresIn   time.Duration
}

// Session owns a transport and drives queueing, replay and
// resubscription on its state transitions
type Session struct {
	url       string
	opts      Options
	transport transport.Transport
	logger    zerolog.Logger
	metrics   *Metrics

	history *history.Store
	offline *queue.Queue[*pendingRequest]
	events  *events.Registry
	rooms   *registry

	mu          sync.Mutex
	state       State
	queuing     bool
	jwt         string
	headers     map[string]interface{}
	metadata    map[string]interface{}
	credentials *loginCredentials
	connectCb   ConnectFunc
	lifecycle   map[string]transport.ListenerID
	collections map[string]*Collection
	queueFilter func(*protocol.Request) bool
	queueLoader QueueLoader

	replayMu    sync.Mutex
	replaying   bool
	replayTimer *time.Timer
}

// Open creates a session over a WebSocket transport
func Open(url string, opts Options, logger zerolog.Logger) (*Session, error) {
	ws := transport.NewWebSocket(url, transport.WebSocketOptions{
		AutoReconnect:     opts.AutoReconnect || opts.OfflineMode == OfflineAuto,
		ReconnectionDelay: opts.ReconnectionDelay,
		PingInterval:      opts.PingInterval,
	}, logger)
	return New(url, ws, opts, logger)
}

// New creates a session over t. With ConnectAuto the session starts
// connecting immediately, otherwise it stays READY until Connect.
func New(url string, t transport.Transport, opts Options, logger zerolog.Logger) (*Session, error) {
	s, err := newSession(url, t, opts, logger)
	if err != nil {
		return nil, err
	}

	if s.opts.Connect == ConnectManual {
		s.mu.Lock()
		s.setStateLocked(StateReady)
		s.mu.Unlock()
		return s, nil
	}

	if err := s.Connect(context.Background(), nil); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(url string, t transport.Transport, opts Options, logger zerolog.Logger) (*Session, error) {
	if url == "" {
		return nil, ErrURLRequired
	}
	opts = opts.normalized()

	hist, err := history.New(opts.HistorySize, history.DefaultLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to create request history: %w", err)
	}

	s := &Session{
		url:         url,
		opts:        opts,
		transport:   t,
		logger:      logger.With().Str("component", "session").Logger(),
		metrics:     opts.Metrics,
		history:     hist,
		offline:     queue.New[*pendingRequest](),
		events:      events.NewRegistry(),
		rooms:       newRegistry(),
		state:       StateInitializing,
		headers:     opts.Headers,
		metadata:    opts.Metadata,
		collections: make(map[string]*Collection),
		queueFilter: opts.QueueFilter,
		queueLoader: opts.QueueLoader,
	}
	s.metrics.setState(StateInitializing)
	return s, nil
}

// setStateLocked must be called with s.mu held
func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug().
		Str("from", s.state.String()).
		Str("to", st.String()).
		Msg("state transition")
	s.state = st
	s.metrics.setState(st)
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// URL returns the endpoint url
func (s *Session) URL() string {
	return s.url
}

func (s *Session) checkValid() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrInvalidated
	}
	return nil
}

// Connect starts a connection attempt and arms the lifecycle listeners.
// While already connecting or connected it only invokes cb.
func (s *Session) Connect(ctx context.Context, cb ConnectFunc) error {
	s.mu.Lock()
	switch s.state {
	case StateDisconnected:
		s.mu.Unlock()
		return ErrInvalidated
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return nil
	}
	s.connectCb = cb
	s.setStateLocked(StateConnecting)
	previous := s.lifecycle
	s.lifecycle = make(map[string]transport.ListenerID, 4)
	s.mu.Unlock()

	for name, id := range previous {
		s.transport.Off(name, id)
	}
	s.arm(transport.EventConnect, s.onConnect)
	s.arm(transport.EventConnectError, s.onConnectError)
	s.arm(transport.EventDisconnect, s.onDisconnect)
	s.arm(transport.EventReconnect, s.onReconnect)

	s.logger.Info().Str("url", s.url).Msg("connecting")
	if err := s.transport.Connect(ctx); err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.setStateLocked(StateError)
		}
		s.mu.Unlock()
		return fmt.Errorf("failed to start transport: %w", err)
	}
	return nil
}

func (s *Session) arm(name string, h transport.Handler) {
	id := s.transport.Once(name, h)
	s.mu.Lock()
	if s.lifecycle != nil {
		s.lifecycle[name] = id
	}
	s.mu.Unlock()
}

func (s *Session) onConnect([]byte) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateConnected)
	cb := s.connectCb
	creds := s.credentials
	s.mu.Unlock()

	s.logger.Info().Str("url", s.url).Msg("connected")

	if creds != nil {
		s.relogin(creds)
	}
	if cb != nil {
		cb(nil)
	}
	s.renewSubscriptions()
	s.drain()
	s.events.Emit(events.Event{Kind: events.Connected})
}

func (s *Session) onConnectError(payload []byte) {
	perr := &protocol.Error{}
	if err := json.Unmarshal(payload, perr); err != nil || perr.Message == "" {
		perr = &protocol.Error{Message: "connection error: " + string(payload)}
	}

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateError)
	cb := s.connectCb
	s.mu.Unlock()

	s.logger.Warn().Err(perr).Int("code", perr.Code).Msg("connection failed")
	s.events.Emit(events.Event{Kind: events.Error, Err: perr})
	if cb != nil {
		cb(perr)
	}
}

func (s *Session) onDisconnect([]byte) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateOffline)
	if s.opts.AutoQueue {
		s.queuing = true
	}
	s.mu.Unlock()

	s.logger.Warn().Str("url", s.url).Msg("connection lost")
	s.rooms.resetInFlight()
	s.arm(transport.EventDisconnect, s.onDisconnect)
	s.events.Emit(events.Event{Kind: events.Disconnected})

	if !s.opts.AutoReconnect {
		s.Disconnect()
	}
}

func (s *Session) onReconnect([]byte) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateConnected)
	token := s.jwt
	s.mu.Unlock()

	s.logger.Info().Str("url", s.url).Msg("reconnected")
	s.metrics.reconnected()
	s.arm(transport.EventReconnect, s.onReconnect)

	if token == "" {
		s.afterReconnect()
		return
	}

	err := s.CheckToken(token, func(v *TokenValidity, err error) {
		if err != nil || v == nil || !v.Valid {
			s.expireToken(err)
		}
		s.afterReconnect()
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("token check on reconnect failed")
		s.afterReconnect()
	}
}

func (s *Session) afterReconnect() {
	if s.opts.AutoResubscribe {
		s.renewSubscriptions()
	}
	if s.opts.AutoReplay {
		s.cleanQueue()
		s.drain()
	}
	s.events.Emit(events.Event{Kind: events.Reconnected})
}

// Disconnect closes the transport and invalidates the session. Every later
// operation fails with ErrInvalidated. No disconnected event is fired.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateDisconnected)
	s.queuing = false
	s.lifecycle = nil
	s.collections = make(map[string]*Collection)
	s.mu.Unlock()

	s.stopReplay()
	if err := s.transport.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close transport")
	}
	s.events.RemoveAll()
	s.rooms.clear()
	s.metrics.setActiveRooms(0)
	s.logger.Info().Str("url", s.url).Msg("disconnected")
}

// SetHeaders merges content into the headers added to every request.
// With replace the previous headers are dropped.
func (s *Session) SetHeaders(content map[string]interface{}, replace bool) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	s.mu.Lock()
	s.headers = mergeHeaders(s.headers, content, replace)
	s.mu.Unlock()
	return nil
}

// Headers returns a copy of the session headers
func (s *Session) Headers() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.headers)
}

// SetMetadata merges content into the metadata sent with every request
func (s *Session) SetMetadata(content map[string]interface{}, replace bool) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	s.mu.Lock()
	s.metadata = mergeHeaders(s.metadata, content, replace)
	s.mu.Unlock()
	return nil
}

// Metadata returns a copy of the session metadata
func (s *Session) Metadata() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.metadata)
}

// AddListener registers fn for a global event kind
func (s *Session) AddListener(kind events.Kind, fn events.Listener) (events.ListenerID, error) {
	if err := s.checkValid(); err != nil {
		return 0, err
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown event %q", kind)
	}
	return s.events.Add(kind, fn), nil
}

// RemoveListener unregisters a listener added with AddListener
func (s *Session) RemoveListener(kind events.Kind, id events.ListenerID) {
	s.events.Remove(kind, id)
}

// RemoveAllListeners removes the listeners of the given kinds, or all
func (s *Session) RemoveAllListeners(kinds ...events.Kind) {
	s.events.RemoveAll(kinds...)
}

// Subscriptions returns the rooms actively subscribed to roomID
func (s *Session) Subscriptions(roomID string) []*Room {
	return s.rooms.rooms(roomID)
}

// PendingSubscriptions returns the number of rooms awaiting confirmation
func (s *Session) PendingSubscriptions() int {
	return s.rooms.pendingCount()
}
