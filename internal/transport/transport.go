// Package transport defines the persistent duplex channel the session runs
// on, and provides a WebSocket implementation of it.
//
// Every inbound message is delivered to the listeners registered under its
// name: lifecycle events use the Event* names below, responses use the
// request id, and subscription pushes use the channel name.
package transport

import (
	"context"
	"errors"
)

// Lifecycle event names
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
	EventReconnect    = "reconnect"
)

// EventRequest is the message name requests are emitted under
const EventRequest = "request"

// ErrClosed is returned when using a transport after Close
var ErrClosed = errors.New("transport closed")

// ErrNotConnected is returned by Emit while no connection is established
var ErrNotConnected = errors.New("transport not connected")

// Handler receives the payload of a message
type Handler func(payload []byte)

// ListenerID identifies a registered listener so it can be removed
type ListenerID uint64

// Transport is a persistent bidirectional message channel
type Transport interface {
	// Connect starts connecting. Outcome is reported through the lifecycle
	// events; the call itself only fails if the transport cannot start.
	Connect(ctx context.Context) error

	// Close tears the channel down. No lifecycle event is fired.
	Close() error

	// Emit sends a payload under the given message name
	Emit(name string, payload []byte) error

	// Once registers a listener removed after its first invocation
	Once(name string, h Handler) ListenerID

	// On registers a persistent listener
	On(name string, h Handler) ListenerID

	// Off removes a listener registered with Once or On
	Off(name string, id ListenerID)
}
