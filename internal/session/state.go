package session

// State is the connection state of a Session
type State int

const (
	StateInitializing State = iota
	StateConnecting
	StateConnected
	StateOffline
	StateError
	StateReady
	StateDisconnected
)

var stateNames = map[State]string{
	StateInitializing: "initializing",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateOffline:      "offline",
	StateError:        "error",
	StateReady:        "ready",
	StateDisconnected: "disconnected",
}

// String returns the lowercase state name
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// queues reports whether requests issued in this state are buffered
// regardless of the queuing flag
func (s State) queues() bool {
	return s == StateInitializing || s == StateConnecting
}
