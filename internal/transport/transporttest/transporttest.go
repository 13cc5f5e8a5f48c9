// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"sync"

	"rtclient/internal/protocol"
	"rtclient/internal/transport"
)

// Transport records emitted requests and lets tests fire inbound messages
type Transport struct {
	listeners *transport.Listeners

	mu        sync.Mutex
	requests  []*protocol.Request
	connects  int
	closed    bool
	emitErr   error
	onRequest func(req *protocol.Request)
}

var _ transport.Transport = (*Transport)(nil)

// New creates an idle fake transport
func New() *Transport {
	return &Transport{
		listeners: transport.NewListeners(),
	}
}

// Connect only counts calls; tests fire lifecycle events explicitly
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	t.connects++
	return nil
}

// Close marks the transport closed and removes every listener
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.listeners.Clear()
	return nil
}

// Emit records the request. The hook set with OnRequest runs after recording.
func (t *Transport) Emit(name string, payload []byte) error {
	t.mu.Lock()
	if t.emitErr != nil {
		err := t.emitErr
		t.mu.Unlock()
		return err
	}
	req, err := protocol.ParseRequest(payload)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.requests = append(t.requests, req)
	hook := t.onRequest
	t.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return nil
}

// Once registers a one-shot listener
func (t *Transport) Once(name string, h transport.Handler) transport.ListenerID {
	return t.listeners.Once(name, h)
}

// On registers a persistent listener
func (t *Transport) On(name string, h transport.Handler) transport.ListenerID {
	return t.listeners.On(name, h)
}

// Off removes a listener
func (t *Transport) Off(name string, id transport.ListenerID) {
	t.listeners.Off(name, id)
}

// Fire delivers payload to the listeners of name
func (t *Transport) Fire(name string, payload []byte) bool {
	return t.listeners.Dispatch(name, payload)
}

// FireConnect fires the connect lifecycle event
func (t *Transport) FireConnect() { t.Fire(transport.EventConnect, nil) }

// FireDisconnect fires the disconnect lifecycle event
func (t *Transport) FireDisconnect() { t.Fire(transport.EventDisconnect, nil) }

// FireReconnect fires the reconnect lifecycle event
func (t *Transport) FireReconnect() { t.Fire(transport.EventReconnect, nil) }

// FireConnectError fires connect_error with a transport error payload
func (t *Transport) FireConnectError(message string) {
	data, _ := json.Marshal(&protocol.Error{Message: message, Code: 503})
	t.Fire(transport.EventConnectError, data)
}

// Respond delivers a success response for requestID
func (t *Transport) Respond(requestID string, result interface{}) bool {
	resp, err := protocol.NewResponse(requestID, result)
	if err != nil {
		return false
	}
	data, _ := resp.Bytes()
	return t.Fire(requestID, data)
}

// RespondError delivers an error response for requestID
func (t *Transport) RespondError(requestID string, e *protocol.Error) bool {
	data, _ := protocol.NewErrorResponse(requestID, e).Bytes()
	return t.Fire(requestID, data)
}

// Push delivers a notification on channel
func (t *Transport) Push(channel string, n *protocol.Notification) bool {
	data, _ := json.Marshal(n)
	return t.Fire(channel, data)
}

// OnRequest sets a hook run for every emitted request
func (t *Transport) OnRequest(hook func(req *protocol.Request)) {
	t.mu.Lock()
	t.onRequest = hook
	t.mu.Unlock()
}

// FailEmits makes every Emit return err until reset with nil
func (t *Transport) FailEmits(err error) {
	t.mu.Lock()
	t.emitErr = err
	t.mu.Unlock()
}

// Requests returns a copy of every emitted request in order
func (t *Transport) Requests() []*protocol.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*protocol.Request, len(t.requests))
	copy(out, t.requests)
	return out
}

// Find returns emitted requests matching controller and action
func (t *Transport) Find(controller, action string) []*protocol.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*protocol.Request
	for _, r := range t.requests {
		if r.Controller == controller && r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// Last returns the last request matching controller and action
func (t *Transport) Last(controller, action string) *protocol.Request {
	found := t.Find(controller, action)
	if len(found) == 0 {
		return nil
	}
	return found[len(found)-1]
}

// Connects returns the number of Connect calls
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// Closed reports whether Close was called
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// ListenerCount returns the number of listeners registered under name
func (t *Transport) ListenerCount(name string) int {
	return t.listeners.Count(name)
}
