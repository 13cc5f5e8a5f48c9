package session

import (
	"errors"
)

var (
	// ErrInvalidated is returned by every operation once Disconnect was called
	ErrInvalidated = errors.New("this session has been invalidated, did you call Disconnect() before?")

	// ErrURLRequired is returned by New when the endpoint url is empty
	ErrURLRequired = errors.New("session: endpoint url is required")

	// ErrIndexRequired is returned when no index is given and no default index is set
	ErrIndexRequired = errors.New("session: no index specified")

	// ErrRoomInactive is returned by Room.Count before the room is subscribed
	ErrRoomInactive = errors.New("room: cannot count subscriptions on an inactive room")

	// ErrListenerRequired is returned when a notification listener is missing
	ErrListenerRequired = errors.New("room: a notification listener is required")

	// ErrCallbackRequired is returned by operations whose only output is
	// their callback
	ErrCallbackRequired = errors.New("session: a callback is required")
)
