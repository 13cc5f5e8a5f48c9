package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rtclient/internal/events"
	"rtclient/internal/protocol"
	"rtclient/internal/transport"
)

// NotificationFunc receives a push, or the error it carried
type NotificationFunc func(n *protocol.Notification, err error)

// SubscribeFunc is invoked when a subscription attempt settles
type SubscribeFunc func(r *Room, err error)

const unsubscribePollInterval = 100 * time.Millisecond

// Room is one filter based subscription. At most one subscribe or
// unsubscribe is in flight per room; calls arriving meanwhile are deferred
// and run in order once it settles.
type Room struct {
	id           string
	session      *Session
	index        string
	collection   string
	scope        string
	docState     string
	users        string
	renewalDelay time.Duration
	logger       zerolog.Logger

	mu              sync.Mutex
	filters         json.RawMessage
	subscribeToSelf bool
	metadata        map[string]interface{}
	headers         map[string]interface{}
	roomID          string
	channel         string
	channelListener transport.ListenerID
	subscribing     bool
	attempt         uint64
	lastRenewal     time.Time
	deferred        []func()
	listener        NotificationFunc
	done            SubscribeFunc
}

func newRoom(c *Collection, opts RoomOptions) *Room {
	opts = opts.withDefaults()
	id := uuid.NewString()
	return &Room{
		id:              id,
		session:         c.session,
		index:           c.index,
		collection:      c.name,
		scope:           opts.Scope,
		docState:        opts.State,
		users:           opts.Users,
		renewalDelay:    opts.RenewalDelay,
		logger:          c.session.logger.With().Str("room", id).Str("collection", c.name).Logger(),
		filters:         json.RawMessage(`{}`),
		subscribeToSelf: *opts.SubscribeToSelf,
		metadata:        opts.Metadata,
		headers:         c.Headers(),
	}
}

func encodeFilters(v interface{}) (json.RawMessage, error) {
	switch f := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return f, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filters: %w", err)
	}
	return data, nil
}

func (r *Room) args(action string) QueryArgs {
	return QueryArgs{
		Controller: "realtime",
		Action:     action,
		Index:      r.index,
		Collection: r.collection,
	}
}

// readyLocked must be called with r.mu held
func (r *Room) readyLocked() bool {
	return !r.subscribing && r.session.State() == StateConnected
}

// detachLocked clears the server registration and returns it
func (r *Room) detachLocked() (roomID, channel string, listener transport.ListenerID) {
	roomID, channel, listener = r.roomID, r.channel, r.channelListener
	r.roomID = ""
	r.channel = ""
	r.channelListener = 0
	return roomID, channel, listener
}

// Renew subscribes with filters (the stored ones when nil), replacing any
// previous registration. Within the renewal delay of the last successful
// renewal it only invokes done. While the session is not connected the
// room waits in the pending registry and is subscribed on (re)connection.
func (r *Room) Renew(filters interface{}, listener NotificationFunc, done SubscribeFunc) error {
	if err := r.session.checkValid(); err != nil {
		return err
	}
	encoded, err := encodeFilters(filters)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if listener == nil {
		listener = r.listener
	}
	if listener == nil {
		r.mu.Unlock()
		return ErrListenerRequired
	}

	if !r.lastRenewal.IsZero() && time.Since(r.lastRenewal) <= r.renewalDelay {
		r.mu.Unlock()
		if done != nil {
			done(r, nil)
		}
		return nil
	}

	if encoded != nil {
		r.filters = encoded
	}

	if r.session.State() != StateConnected {
		r.listener = listener
		if done != nil {
			r.done = done
		}
		r.mu.Unlock()
		r.session.rooms.addPending(r)
		r.logger.Debug().Msg("subscription pending until connected")
		return nil
	}

	if r.subscribing {
		r.deferred = append(r.deferred, func() { r.renewDeferred(filters, listener, done) })
		r.mu.Unlock()
		return nil
	}

	prevRoomID, prevChannel, prevListener := r.detachLocked()
	r.subscribing = true
	r.attempt++
	attempt := r.attempt
	r.listener = listener
	if done != nil {
		r.done = done
	}
	body := r.filters
	opts := &QueryOptions{
		Metadata: copyMap(r.metadata),
		Headers:  copyMap(r.headers),
	}
	r.mu.Unlock()

	if prevRoomID != "" {
		r.session.release(r, prevRoomID, prevChannel, prevListener, nil)
	}
	r.session.rooms.addPending(r)

	fields := map[string]interface{}{
		"scope": r.scope,
		"state": r.docState,
		"users": r.users,
	}
	err = r.session.send(r.args("subscribe"), body, opts, fields, func(result json.RawMessage, err error) {
		r.onSubscribed(attempt, result, err)
	})
	if err != nil {
		r.abort(attempt)
		return err
	}
	return nil
}

func (r *Room) renewDeferred(filters interface{}, listener NotificationFunc, done SubscribeFunc) {
	if err := r.Renew(filters, listener, done); err != nil && done != nil {
		done(nil, err)
	}
}

// resubscribe forces a fresh registration with the stored filters and
// listener. A done callback not yet invoked stays armed for it.
func (r *Room) resubscribe() {
	r.mu.Lock()
	if r.subscribing || r.listener == nil {
		r.mu.Unlock()
		return
	}
	listener := r.listener
	r.lastRenewal = time.Time{}
	r.mu.Unlock()

	if err := r.Renew(nil, listener, nil); err != nil {
		r.logger.Warn().Err(err).Msg("resubscription failed")
	}
}

// abandonInFlight drops the in-flight subscription so a later renewal can
// start. A late confirmation for it is ignored.
func (r *Room) abandonInFlight() {
	r.mu.Lock()
	if r.subscribing {
		r.subscribing = false
		r.attempt++
	}
	r.mu.Unlock()
}

func (r *Room) abort(attempt uint64) {
	r.mu.Lock()
	if attempt == r.attempt {
		r.subscribing = false
		r.deferred = nil
		r.done = nil
	}
	r.mu.Unlock()
	r.session.rooms.deletePending(r.id)
}

type subscribeResult struct {
	RoomID  string `json:"roomId"`
	Channel string `json:"channel"`
}

func (r *Room) onSubscribed(attempt uint64, result json.RawMessage, err error) {
	r.mu.Lock()
	if attempt != r.attempt || !r.subscribing {
		r.mu.Unlock()
		return
	}
	r.subscribing = false
	done := r.done
	r.done = nil

	var res subscribeResult
	if err == nil {
		if uerr := json.Unmarshal(result, &res); uerr != nil {
			err = fmt.Errorf("failed to parse subscription result: %w", uerr)
		} else if res.RoomID == "" || res.Channel == "" {
			err = fmt.Errorf("subscription result: missing roomId or channel: %w", protocol.ErrMalformed)
		}
	}

	if err != nil {
		r.deferred = nil
		r.mu.Unlock()
		r.session.rooms.deletePending(r.id)
		r.logger.Warn().Err(err).Msg("subscription failed")
		if done != nil {
			done(nil, err)
		}
		return
	}

	r.lastRenewal = time.Now()
	r.roomID = res.RoomID
	r.channel = res.Channel
	r.channelListener = r.session.transport.On(res.Channel, r.onPush)
	deferred := r.deferred
	r.deferred = nil
	r.mu.Unlock()

	r.session.rooms.deletePending(r.id)
	active := r.session.rooms.addActive(res.RoomID, r)
	r.session.metrics.setActiveRooms(active)

	r.logger.Info().
		Str("roomId", res.RoomID).
		Str("channel", res.Channel).
		Msg("subscribed")
	r.session.events.Emit(events.Event{Kind: events.Subscribed, Data: r})

	if done != nil {
		done(r, nil)
	}
	for _, fn := range deferred {
		fn()
	}
}

// onPush dispatches a notification received on the room channel. Pushes
// caused by this session's own requests are delivered only with
// subscribeToSelf, and their history entry is consumed.
func (r *Room) onPush(payload []byte) {
	n, err := protocol.ParseNotification(payload)

	r.mu.Lock()
	listener := r.listener
	self := r.subscribeToSelf
	r.mu.Unlock()

	if err != nil {
		r.logger.Error().Err(err).Msg("malformed notification")
		if listener != nil {
			listener(nil, err)
		}
		return
	}

	if n.Type == protocol.TokenExpiredType {
		r.session.expireToken(nil)
	}
	if listener == nil {
		return
	}
	if n.Error != nil {
		listener(nil, n.Error)
		return
	}

	if n.RequestID != "" && r.session.history.Consume(n.RequestID) {
		r.session.metrics.notification(self)
		if self {
			listener(n, nil)
		}
		return
	}
	r.session.metrics.notification(true)
	listener(n, nil)
}

// Unsubscribe stops listening right away. The server registration is
// removed once no other local room shares it and no subscription is
// pending. A no-op when the room is not subscribed.
func (r *Room) Unsubscribe(cb func(err error)) error {
	if err := r.session.checkValid(); err != nil {
		return err
	}

	r.mu.Lock()
	if !r.readyLocked() {
		r.deferred = append(r.deferred, func() { r.unsubscribeDeferred(cb) })
		r.mu.Unlock()
		return nil
	}
	roomID, channel, listener := r.detachLocked()
	r.mu.Unlock()

	if roomID == "" {
		if cb != nil {
			cb(nil)
		}
		return nil
	}
	r.session.release(r, roomID, channel, listener, cb)
	return nil
}

func (r *Room) unsubscribeDeferred(cb func(err error)) {
	if err := r.Unsubscribe(cb); err != nil && cb != nil {
		cb(err)
	}
}

// release detaches a room from roomID and sends the unsubscribe request
// once nothing else needs the registration
func (s *Session) release(r *Room, roomID, channel string, listener transport.ListenerID, cb func(err error)) {
	if channel != "" {
		s.transport.Off(channel, listener)
	}
	active := s.rooms.deleteActive(roomID, r.id)
	s.metrics.setActiveRooms(active)
	s.events.Emit(events.Event{Kind: events.Unsubscribed, Data: roomID})

	if s.rooms.shared(roomID) {
		if cb != nil {
			cb(nil)
		}
		return
	}
	if s.rooms.pendingCount() == 0 {
		r.sendUnsubscribe(roomID, cb)
		return
	}
	r.pollUnsubscribe(roomID, cb)
}

// pollUnsubscribe checks the pending registry every 100ms and sends the
// unsubscribe request once it is empty
func (r *Room) pollUnsubscribe(roomID string, cb func(err error)) {
	time.AfterFunc(unsubscribePollInterval, func() {
		if err := r.session.checkValid(); err != nil {
			if cb != nil {
				cb(err)
			}
			return
		}
		if r.session.rooms.pendingCount() > 0 {
			r.pollUnsubscribe(roomID, cb)
			return
		}
		if r.session.rooms.shared(roomID) {
			if cb != nil {
				cb(nil)
			}
			return
		}
		r.sendUnsubscribe(roomID, cb)
	})
}

func (r *Room) sendUnsubscribe(roomID string, cb func(err error)) {
	r.mu.Lock()
	opts := &QueryOptions{Headers: copyMap(r.headers)}
	r.mu.Unlock()

	var respond ResponseFunc
	if cb != nil {
		respond = func(_ json.RawMessage, err error) { cb(err) }
	}
	body := map[string]string{"roomId": roomID}
	if err := r.session.send(r.args("unsubscribe"), body, opts, nil, respond); err != nil {
		r.logger.Warn().Err(err).Str("roomId", roomID).Msg("unsubscribe not sent")
		if cb != nil {
			cb(err)
		}
		return
	}
	r.logger.Info().Str("roomId", roomID).Msg("unsubscribed")
}

// Count returns the number of subscriptions sharing this room
func (r *Room) Count(cb func(count int, err error)) error {
	if err := r.session.checkValid(); err != nil {
		return err
	}
	if cb == nil {
		return ErrCallbackRequired
	}

	r.mu.Lock()
	if !r.readyLocked() {
		r.deferred = append(r.deferred, func() {
			if err := r.Count(cb); err != nil {
				cb(0, err)
			}
		})
		r.mu.Unlock()
		return nil
	}
	roomID := r.roomID
	opts := &QueryOptions{Headers: copyMap(r.headers)}
	r.mu.Unlock()

	if roomID == "" {
		return ErrRoomInactive
	}

	body := map[string]string{"roomId": roomID}
	return r.session.send(r.args("count"), body, opts, nil, func(result json.RawMessage, err error) {
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

// ID returns the local room id
func (r *Room) ID() string {
	return r.id
}

// RoomID returns the server assigned room id, empty until subscribed
func (r *Room) RoomID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomID
}

// Channel returns the push channel, empty until subscribed
func (r *Room) Channel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel
}

// Subscribing reports whether a subscription is in flight
func (r *Room) Subscribing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribing
}

// Filters returns the stored filters
func (r *Room) Filters() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filters
}

// SetFilters replaces the stored filters. Renew applies them.
func (r *Room) SetFilters(filters interface{}) error {
	encoded, err := encodeFilters(filters)
	if err != nil {
		return err
	}
	if encoded == nil {
		encoded = json.RawMessage(`{}`)
	}
	r.mu.Lock()
	r.filters = encoded
	r.mu.Unlock()
	return nil
}

// SubscribeToSelf reports whether pushes caused by this session are delivered
func (r *Room) SubscribeToSelf() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subscribeToSelf
}

// SetSubscribeToSelf changes delivery of pushes caused by this session
func (r *Room) SetSubscribeToSelf(v bool) {
	r.mu.Lock()
	r.subscribeToSelf = v
	r.mu.Unlock()
}

// Metadata returns a copy of the metadata sent with subscribe requests
func (r *Room) Metadata() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMap(r.metadata)
}

// SetMetadata replaces the metadata sent with subscribe requests
func (r *Room) SetMetadata(m map[string]interface{}) {
	r.mu.Lock()
	r.metadata = copyMap(m)
	r.mu.Unlock()
}

// Headers returns a copy of the room headers
func (r *Room) Headers() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyMap(r.headers)
}

// SetHeaders merges content into the room headers, or replaces them
func (r *Room) SetHeaders(content map[string]interface{}, replace bool) {
	r.mu.Lock()
	r.headers = mergeHeaders(r.headers, content, replace)
	r.mu.Unlock()
}

// renewSubscriptions renews every active room and every pending room
// with its stored filters and listener
func (s *Session) renewSubscriptions() {
	rooms := s.rooms.renewable()
	if len(rooms) == 0 {
		return
	}
	s.logger.Info().Int("rooms", len(rooms)).Msg("renewing subscriptions")
	for _, r := range rooms {
		r.resubscribe()
	}
}
