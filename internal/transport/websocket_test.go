package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtclient/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// echoServer answers every request frame with a success response routed by
// requestId. dropFirst closes the first connection after accepting it.
func echoServer(t *testing.T, dropFirst bool) *httptest.Server {
	t.Helper()
	var conns int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if atomic.AddInt32(&conns, 1) == 1 && dropFirst {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := protocol.ParseRequest(data)
			if err != nil {
				return
			}
			resp, _ := protocol.NewResponse(req.RequestID, map[string]string{"echo": req.Action})
			resp.Room = req.RequestID
			out, _ := resp.Bytes()
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocket_ConnectEmitAndRoute(t *testing.T) {
	srv := echoServer(t, false)
	defer srv.Close()

	ws := NewWebSocket(wsURL(srv), WebSocketOptions{}, zerolog.Nop())
	defer ws.Close()

	connected := make(chan struct{}, 1)
	ws.Once(EventConnect, func([]byte) { connected <- struct{}{} })
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect event not fired")
	}

	got := make(chan *protocol.Response, 1)
	ws.Once("req-1", func(payload []byte) {
		resp, err := protocol.ParseResponse(payload)
		if err != nil {
			t.Errorf("ParseResponse: %v", err)
			return
		}
		got <- resp
	})

	req := protocol.Request{RequestID: "req-1", Controller: "server", Action: "now"}
	data, _ := req.Bytes()
	if err := ws.Emit(EventRequest, data); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	select {
	case resp := <-got:
		var result map[string]string
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if result["echo"] != "now" {
			t.Errorf("echo = %s, want now", result["echo"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response routed")
	}
}

func TestWebSocket_ConnectErrorEvent(t *testing.T) {
	srv := echoServer(t, false)
	url := wsURL(srv)
	srv.Close()

	ws := NewWebSocket(url, WebSocketOptions{HandshakeTimeout: time.Second}, zerolog.Nop())
	defer ws.Close()

	failed := make(chan *protocol.Error, 1)
	ws.Once(EventConnectError, func(payload []byte) {
		var e protocol.Error
		_ = json.Unmarshal(payload, &e)
		failed <- &e
	})
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case e := <-failed:
		if e.Message == "" {
			t.Error("connect_error payload has no message")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("connect_error not fired")
	}
}

func TestWebSocket_DisconnectThenReconnect(t *testing.T) {
	srv := echoServer(t, true)
	defer srv.Close()

	ws := NewWebSocket(wsURL(srv), WebSocketOptions{
		AutoReconnect:     true,
		ReconnectionDelay: 20 * time.Millisecond,
	}, zerolog.Nop())
	defer ws.Close()

	disconnected := make(chan struct{}, 1)
	reconnected := make(chan struct{}, 1)
	ws.Once(EventDisconnect, func([]byte) { disconnected <- struct{}{} })
	ws.Once(EventReconnect, func([]byte) { reconnected <- struct{}{} })

	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect event not fired")
	}
	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect event not fired")
	}
}

func TestWebSocket_EmitAfterClose(t *testing.T) {
	ws := NewWebSocket("ws://127.0.0.1:1", WebSocketOptions{}, zerolog.Nop())
	ws.Close()
	if err := ws.Emit(EventRequest, []byte("{}")); err != ErrClosed {
		t.Errorf("Emit err = %v, want ErrClosed", err)
	}
	if err := ws.Connect(context.Background()); err != ErrClosed {
		t.Errorf("Connect err = %v, want ErrClosed", err)
	}
}
