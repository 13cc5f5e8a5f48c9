package session

import (
	"time"

	"rtclient/internal/protocol"
)

// Version is sent as metadata.sdkVersion with every request
const Version = "1.0.0"

// ConnectMode selects whether New connects right away
type ConnectMode string

const (
	ConnectAuto   ConnectMode = "auto"
	ConnectManual ConnectMode = "manual"
)

// OfflineMode auto turns on every auto* flag
type OfflineMode string

const (
	OfflineManual OfflineMode = "manual"
	OfflineAuto   OfflineMode = "auto"
)

// QueueLoader returns requests to merge into the offline queue before a
// replay drain
type QueueLoader func() []*protocol.Request

// Options configures a Session
type Options struct {
	Connect     ConnectMode
	OfflineMode OfflineMode

	AutoQueue       bool
	AutoReconnect   bool
	AutoReplay      bool
	AutoResubscribe bool

	// Queuable is the default for requests that do not set it
	Queuable bool

	ReconnectionDelay time.Duration
	PingInterval      time.Duration
	QueueTTL          time.Duration
	QueueMaxSize      int
	ReplayInterval    time.Duration
	HistorySize       int

	DefaultIndex string
	Headers      map[string]interface{}
	Metadata     map[string]interface{}

	QueueFilter func(*protocol.Request) bool
	QueueLoader QueueLoader

	Metrics *Metrics
}

// DefaultOptions returns the default session options
func DefaultOptions() Options {
	return Options{
		Connect:           ConnectAuto,
		OfflineMode:       OfflineManual,
		AutoQueue:         false,
		AutoReconnect:     true,
		AutoReplay:        false,
		AutoResubscribe:   true,
		Queuable:          true,
		ReconnectionDelay: 1000 * time.Millisecond,
		QueueTTL:          120000 * time.Millisecond,
		QueueMaxSize:      500,
		ReplayInterval:    10 * time.Millisecond,
	}
}

func (o Options) normalized() Options {
	if o.OfflineMode == OfflineAuto {
		o.AutoQueue = true
		o.AutoReconnect = true
		o.AutoReplay = true
		o.AutoResubscribe = true
	}
	if o.Connect == "" {
		o.Connect = ConnectAuto
	}
	o.Headers = copyMap(o.Headers)
	o.Metadata = copyMap(o.Metadata)
	return o
}

// QueryOptions are per-request options
type QueryOptions struct {
	// Queuable overrides the session default when set
	Queuable *bool

	RequestID string
	Metadata  map[string]interface{}
	Headers   map[string]interface{}

	Refresh  string
	From     *int
	Size     *int
	Scroll   string
	ScrollID string
}

// Bool returns a pointer to b
func Bool(b bool) *bool {
	return &b
}

// Int returns a pointer to n
func Int(n int) *int {
	return &n
}

func (o *QueryOptions) queuable(def bool) bool {
	if o == nil || o.Queuable == nil {
		return def
	}
	return *o.Queuable
}

// Room subscription scopes, states and user notification modes
const (
	ScopeAll  = "all"
	ScopeIn   = "in"
	ScopeOut  = "out"
	ScopeNone = "none"

	DocStateAll     = "all"
	DocStatePending = "pending"
	DocStateDone    = "done"

	UsersAll  = "all"
	UsersIn   = "in"
	UsersOut  = "out"
	UsersNone = "none"
)

// DefaultRenewalDelay is the window during which Renew is a no-op after a
// successful renewal
const DefaultRenewalDelay = 500 * time.Millisecond

// RoomOptions configures a Room
type RoomOptions struct {
	Scope string
	State string
	Users string

	// SubscribeToSelf defaults to true
	SubscribeToSelf *bool

	Metadata     map[string]interface{}
	RenewalDelay time.Duration
}

func (o RoomOptions) withDefaults() RoomOptions {
	if o.Scope == "" {
		o.Scope = ScopeAll
	}
	if o.State == "" {
		o.State = DocStateDone
	}
	if o.Users == "" {
		o.Users = UsersNone
	}
	if o.SubscribeToSelf == nil {
		o.SubscribeToSelf = Bool(true)
	}
	if o.RenewalDelay <= 0 {
		o.RenewalDelay = DefaultRenewalDelay
	}
	o.Metadata = copyMap(o.Metadata)
	return o
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeHeaders applies content to dst. With replace, dst is emptied first.
func mergeHeaders(dst map[string]interface{}, content map[string]interface{}, replace bool) map[string]interface{} {
	if replace || dst == nil {
		dst = make(map[string]interface{}, len(content))
	}
	for k, v := range content {
		dst[k] = v
	}
	return dst
}
