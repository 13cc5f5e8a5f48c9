package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"rtclient/internal/events"
	"rtclient/internal/protocol"
	"rtclient/internal/transport/transporttest"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.ReplayInterval = time.Millisecond
	return opts
}

func newTestSession(t *testing.T, opts Options) (*Session, *transporttest.Transport) {
	t.Helper()
	ft := transporttest.New()
	s, err := New("ws://localhost:7512", ft, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, ft
}

func connectedSession(t *testing.T, opts Options) (*Session, *transporttest.Transport) {
	t.Helper()
	s, ft := newTestSession(t, opts)
	ft.FireConnect()
	if s.State() != StateConnected {
		t.Fatalf("state = %s, want connected", s.State())
	}
	return s, ft
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// responder answers requests emitted on a fake transport the way a server
// would. Subscribe answers hand out room-N/chan-N unless sharedRoom is set.
type responder struct {
	ft         *transporttest.Transport
	subscribes int32
	holdSub    int32
	sharedRoom string
	valid      bool

	mu   sync.Mutex
	held []*protocol.Request
}

func respond(ft *transporttest.Transport) *responder {
	r := &responder{ft: ft, valid: true}
	ft.OnRequest(r.handle)
	return r
}

func (r *responder) hold(on bool) {
	if on {
		atomic.StoreInt32(&r.holdSub, 1)
	} else {
		atomic.StoreInt32(&r.holdSub, 0)
	}
}

func (r *responder) handle(req *protocol.Request) {
	switch {
	case req.Controller == "realtime" && req.Action == "subscribe":
		n := atomic.AddInt32(&r.subscribes, 1)
		if atomic.LoadInt32(&r.holdSub) == 1 {
			r.mu.Lock()
			r.held = append(r.held, req)
			r.mu.Unlock()
			return
		}
		r.ft.Respond(req.RequestID, r.subscribeResult(n))
	case req.Controller == "realtime" && req.Action == "count":
		r.ft.Respond(req.RequestID, map[string]int{"count": 3})
	case req.Controller == "auth" && req.Action == "login":
		r.ft.Respond(req.RequestID, map[string]string{"_id": "user", "jwt": "token-from-login"})
	case req.Controller == "auth" && req.Action == "checkToken":
		r.ft.Respond(req.RequestID, map[string]bool{"valid": r.valid})
	default:
		r.ft.Respond(req.RequestID, map[string]bool{"acknowledged": true})
	}
}

func (r *responder) subscribeResult(n int32) map[string]string {
	if r.sharedRoom != "" {
		return map[string]string{"roomId": r.sharedRoom, "channel": "chan-" + r.sharedRoom}
	}
	return map[string]string{
		"roomId":  fmt.Sprintf("room-%d", n),
		"channel": fmt.Sprintf("chan-%d", n),
	}
}

// release answers every held subscribe request
func (r *responder) release() {
	r.mu.Lock()
	held := r.held
	r.held = nil
	r.mu.Unlock()
	for i, req := range held {
		r.ft.Respond(req.RequestID, r.subscribeResult(int32(100+i)))
	}
}

func (r *responder) subscribeCount() int {
	return int(atomic.LoadInt32(&r.subscribes))
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New("", transporttest.New(), DefaultOptions(), zerolog.Nop())
	if !errors.Is(err, ErrURLRequired) {
		t.Errorf("err = %v, want ErrURLRequired", err)
	}
}

func TestNew_ConnectModes(t *testing.T) {
	s, ft := newTestSession(t, testOptions())
	if s.State() != StateConnecting {
		t.Errorf("auto connect state = %s, want connecting", s.State())
	}
	if ft.Connects() != 1 {
		t.Errorf("Connects = %d, want 1", ft.Connects())
	}

	opts := testOptions()
	opts.Connect = ConnectManual
	s, ft = newTestSession(t, opts)
	if s.State() != StateReady {
		t.Errorf("manual connect state = %s, want ready", s.State())
	}
	if ft.Connects() != 0 {
		t.Errorf("Connects = %d, want 0", ft.Connects())
	}
}

func TestOptions_OfflineModeAuto(t *testing.T) {
	opts := Options{OfflineMode: OfflineAuto}.normalized()
	if !opts.AutoQueue || !opts.AutoReconnect || !opts.AutoReplay || !opts.AutoResubscribe {
		t.Errorf("offline auto did not enable every flag: %+v", opts)
	}
}

func TestSession_ConnectFiresConnected(t *testing.T) {
	opts := testOptions()
	opts.Connect = ConnectManual
	s, ft := newTestSession(t, opts)

	var connected, cbCalls int
	s.AddListener(events.Connected, func(events.Event) { connected++ })

	err := s.Connect(context.Background(), func(err error) {
		if err != nil {
			t.Errorf("connect callback err = %v", err)
		}
		cbCalls++
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if s.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", s.State())
	}

	ft.FireConnect()
	if s.State() != StateConnected {
		t.Errorf("state = %s, want connected", s.State())
	}
	if connected != 1 || cbCalls != 1 {
		t.Errorf("connected=%d cb=%d, want 1/1", connected, cbCalls)
	}
}

func TestSession_ConnectWhileConnectedOnlyCallsBack(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	before := ft.ListenerCount("connect")

	called := false
	if err := s.Connect(context.Background(), func(err error) { called = err == nil }); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !called {
		t.Error("callback not invoked")
	}
	if ft.Connects() != 1 {
		t.Errorf("Connects = %d, want 1", ft.Connects())
	}
	if ft.ListenerCount("connect") != before {
		t.Error("listeners were re-attached")
	}
}

func TestSession_ConnectError(t *testing.T) {
	opts := testOptions()
	opts.Connect = ConnectManual
	s, ft := newTestSession(t, opts)

	var eventErr, cbErr error
	s.AddListener(events.Error, func(ev events.Event) { eventErr = ev.Err })
	s.Connect(context.Background(), func(err error) { cbErr = err })

	ft.FireConnectError("connection refused")

	if s.State() != StateError {
		t.Errorf("state = %s, want error", s.State())
	}
	var perr *protocol.Error
	if !errors.As(cbErr, &perr) {
		t.Fatalf("callback err = %v, want *protocol.Error", cbErr)
	}
	if perr.Message != "connection refused" || perr.Code != 503 {
		t.Errorf("callback err = %+v", perr)
	}
	if eventErr == nil {
		t.Error("error event not fired")
	}

	// ERROR allows a new attempt
	if err := s.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect after error: %v", err)
	}
	ft.FireConnect()
	if s.State() != StateConnected {
		t.Errorf("state = %s, want connected", s.State())
	}
}

func TestSession_DisconnectAndReconnectEvents(t *testing.T) {
	s, ft := connectedSession(t, testOptions())

	var disconnected, reconnected int
	s.AddListener(events.Disconnected, func(events.Event) { disconnected++ })
	s.AddListener(events.Reconnected, func(events.Event) { reconnected++ })

	for i := 0; i < 2; i++ {
		ft.FireDisconnect()
		if s.State() != StateOffline {
			t.Fatalf("state = %s, want offline", s.State())
		}
		ft.FireReconnect()
		if s.State() != StateConnected {
			t.Fatalf("state = %s, want connected", s.State())
		}
	}
	if disconnected != 2 || reconnected != 2 {
		t.Errorf("disconnected=%d reconnected=%d, want 2/2", disconnected, reconnected)
	}
}

func TestSession_DropWithoutAutoReconnectInvalidates(t *testing.T) {
	opts := testOptions()
	opts.AutoReconnect = false
	s, ft := connectedSession(t, opts)

	disconnected := 0
	s.AddListener(events.Disconnected, func(events.Event) { disconnected++ })

	ft.FireDisconnect()
	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
	if disconnected != 1 {
		t.Errorf("disconnected events = %d, want 1", disconnected)
	}
	if !ft.Closed() {
		t.Error("transport not closed")
	}
}

func TestSession_DisconnectInvalidates(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	if _, err := s.Collection("idx", "col"); err != nil {
		t.Fatalf("Collection: %v", err)
	}

	disconnected := 0
	s.AddListener(events.Disconnected, func(events.Event) { disconnected++ })

	s.Disconnect()
	s.Disconnect()

	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", s.State())
	}
	if disconnected != 0 {
		t.Error("explicit Disconnect fired a disconnected event")
	}
	if !ft.Closed() {
		t.Error("transport not closed")
	}
	if len(s.collections) != 0 {
		t.Error("collection handles not cleared")
	}

	if err := s.Query(QueryArgs{Controller: "server", Action: "now"}, nil, nil, nil); !errors.Is(err, ErrInvalidated) {
		t.Errorf("Query err = %v, want ErrInvalidated", err)
	}
	if err := s.Connect(context.Background(), nil); !errors.Is(err, ErrInvalidated) {
		t.Errorf("Connect err = %v, want ErrInvalidated", err)
	}
	if _, err := s.Collection("idx", "col"); !errors.Is(err, ErrInvalidated) {
		t.Errorf("Collection err = %v, want ErrInvalidated", err)
	}
	if err := s.SetHeaders(map[string]interface{}{"a": 1}, false); !errors.Is(err, ErrInvalidated) {
		t.Errorf("SetHeaders err = %v, want ErrInvalidated", err)
	}
	if _, err := s.AddListener(events.Connected, func(events.Event) {}); !errors.Is(err, ErrInvalidated) {
		t.Errorf("AddListener err = %v, want ErrInvalidated", err)
	}

	// late transport events are ignored
	ft.FireReconnect()
	if s.State() != StateDisconnected {
		t.Errorf("state = %s after late event", s.State())
	}
}

func TestSession_AddListenerRejectsUnknownKind(t *testing.T) {
	s, _ := newTestSession(t, testOptions())
	if _, err := s.AddListener(events.Kind("nope"), func(events.Event) {}); err == nil {
		t.Error("expected error for unknown event kind")
	}
}

func TestSession_RemoveListener(t *testing.T) {
	s, ft := newTestSession(t, testOptions())
	calls := 0
	id, _ := s.AddListener(events.Connected, func(events.Event) { calls++ })
	s.RemoveListener(events.Connected, id)
	ft.FireConnect()
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestSession_CollectionCache(t *testing.T) {
	opts := testOptions()
	opts.DefaultIndex = "main"
	s, _ := newTestSession(t, opts)

	a, err := s.Collection("", "users")
	if err != nil {
		t.Fatalf("Collection: %v", err)
	}
	b, _ := s.Collection("main", "users")
	if a != b {
		t.Error("collection handle not cached")
	}
	if a.Index() != "main" || a.Name() != "users" {
		t.Errorf("collection = %s/%s", a.Index(), a.Name())
	}

	s2, _ := newTestSession(t, testOptions())
	if _, err := s2.Collection("", "users"); !errors.Is(err, ErrIndexRequired) {
		t.Errorf("err = %v, want ErrIndexRequired", err)
	}
}

func TestSession_ServerHelpers(t *testing.T) {
	s, ft := connectedSession(t, testOptions())
	ft.OnRequest(func(req *protocol.Request) {
		switch req.Action {
		case "now":
			ft.Respond(req.RequestID, map[string]int64{"now": 1700000000000})
		case "info":
			ft.Respond(req.RequestID, map[string]string{"version": "1"})
		}
	})

	if err := s.Now(nil); !errors.Is(err, ErrCallbackRequired) {
		t.Errorf("Now(nil) err = %v, want ErrCallbackRequired", err)
	}
	if len(ft.Requests()) != 0 {
		t.Fatal("request sent without a callback")
	}

	var now int64
	if err := s.Now(func(ms int64, err error) { now = ms }); err != nil {
		t.Fatalf("Now: %v", err)
	}
	if now != 1700000000000 {
		t.Errorf("now = %d", now)
	}

	var info json.RawMessage
	s.GetServerInfo(func(result json.RawMessage, err error) { info = result })
	if len(info) == 0 {
		t.Error("server info not delivered")
	}
}
