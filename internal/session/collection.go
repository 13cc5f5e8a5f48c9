package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"rtclient/internal/protocol"
)

// Collection is a handle on index/collection used to build rooms and
// collection scoped requests. Handles are cached by the session.
type Collection struct {
	session *Session
	index   string
	name    string

	mu      sync.Mutex
	headers map[string]interface{}
}

// Collection returns the cached handle for index/name. An empty index
// uses Options.DefaultIndex.
func (s *Session) Collection(index, name string) (*Collection, error) {
	if err := s.checkValid(); err != nil {
		return nil, err
	}
	if index == "" {
		index = s.opts.DefaultIndex
	}
	if index == "" {
		return nil, ErrIndexRequired
	}
	if name == "" {
		return nil, fmt.Errorf("session: collection name is required")
	}

	key := index + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[key]; ok {
		return c, nil
	}
	c := &Collection{
		session: s,
		index:   index,
		name:    name,
		headers: copyMap(s.headers),
	}
	s.collections[key] = c
	return c, nil
}

// Index returns the index name
func (c *Collection) Index() string {
	return c.index
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Headers returns a copy of the collection headers
func (c *Collection) Headers() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyMap(c.headers)
}

// SetHeaders merges content into the collection headers, or replaces them
func (c *Collection) SetHeaders(content map[string]interface{}, replace bool) {
	c.mu.Lock()
	c.headers = mergeHeaders(c.headers, content, replace)
	c.mu.Unlock()
}

// Query sends controller/action scoped to this collection. Collection
// headers fill keys missing from the envelope and from opts.Headers.
func (c *Collection) Query(controller, action string, body interface{}, opts *QueryOptions, cb ResponseFunc) error {
	var merged QueryOptions
	if opts != nil {
		merged = *opts
	}
	headers := c.Headers()
	for k, v := range merged.Headers {
		headers[k] = v
	}
	merged.Headers = headers

	args := QueryArgs{
		Controller: controller,
		Action:     action,
		Index:      c.index,
		Collection: c.name,
	}
	return c.session.Query(args, body, &merged, cb)
}

// NewRoom creates an unsubscribed room on this collection
func (c *Collection) NewRoom(opts RoomOptions) *Room {
	return newRoom(c, opts)
}

// Subscribe creates a room and renews it with filters
func (c *Collection) Subscribe(filters interface{}, opts RoomOptions, listener NotificationFunc, done SubscribeFunc) (*Room, error) {
	if err := c.session.checkValid(); err != nil {
		return nil, err
	}
	room := newRoom(c, opts)
	if err := room.Renew(filters, listener, done); err != nil {
		return nil, err
	}
	return room, nil
}

// PublishMessage sends a realtime message to the subscribers of this
// collection without storing it
func (c *Collection) PublishMessage(body interface{}, opts *QueryOptions, cb ResponseFunc) error {
	return c.Query("realtime", "publish", body, opts, cb)
}

// Count returns the number of documents matching filters
func (c *Collection) Count(filters interface{}, opts *QueryOptions, cb func(count int, err error)) error {
	if err := c.session.checkValid(); err != nil {
		return err
	}
	if cb == nil {
		return ErrCallbackRequired
	}
	return c.Query("document", "count", filters, opts, func(result json.RawMessage, err error) {
		if err != nil {
			cb(0, err)
			return
		}
		var res struct {
			Count *int `json:"count"`
		}
		if uerr := json.Unmarshal(result, &res); uerr != nil {
			cb(0, fmt.Errorf("failed to parse count result: %w", uerr))
			return
		}
		if res.Count == nil {
			cb(0, fmt.Errorf("count result: missing count: %w", protocol.ErrMalformed))
			return
		}
		cb(*res.Count, nil)
	})
}
