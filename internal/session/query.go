package session

import (
	"fmt"
	"time"

	"rtclient/internal/events"
	"rtclient/internal/protocol"
	"rtclient/internal/transport"
)

// Query builds a request envelope and emits, queues or drops it depending
// on the connection state. cb receives exactly one of result or error.
// Requests dropped while offline are not reported to cb.
func (s *Session) Query(args QueryArgs, body interface{}, opts *QueryOptions, cb ResponseFunc) error {
	return s.send(args, body, opts, nil, cb)
}

// send is Query with extra top-level envelope keys
func (s *Session) send(args QueryArgs, body interface{}, opts *QueryOptions, fields map[string]interface{}, cb ResponseFunc) error {
	if err := s.checkValid(); err != nil {
		return err
	}
	req, err := s.buildRequest(args, body, opts, fields)
	if err != nil {
		return err
	}
	s.dispatch(req, opts.queuable(s.opts.Queuable), cb)
	return nil
}

func (s *Session) buildRequest(args QueryArgs, body interface{}, opts *QueryOptions, fields map[string]interface{}) (*protocol.Request, error) {
	req := &protocol.Request{
		Controller: args.Controller,
		Action:     args.Action,
		Index:      args.Index,
		Collection: args.Collection,
	}
	if opts != nil {
		req.RequestID = opts.RequestID
	}
	if req.RequestID == "" {
		req.RequestID = protocol.NewRequestID()
	}
	if err := req.SetBody(body); err != nil {
		return nil, err
	}

	s.mu.Lock()
	metadata := copyMap(s.metadata)
	headers := copyMap(s.headers)
	s.mu.Unlock()

	if opts != nil {
		for k, v := range opts.Metadata {
			metadata[k] = v
		}
		if opts.Refresh != "" {
			req.Set("refresh", opts.Refresh)
		}
		if opts.From != nil {
			req.Set("from", *opts.From)
		}
		if opts.Size != nil {
			req.Set("size", *opts.Size)
		}
		if opts.Scroll != "" {
			req.Set("scroll", opts.Scroll)
		}
		if opts.ScrollID != "" {
			req.Set("scrollId", opts.ScrollID)
		}
	}
	metadata["sdkVersion"] = Version
	req.Metadata = metadata

	for k, v := range fields {
		req.Set(k, v)
	}
	if opts != nil {
		req.AddHeaders(opts.Headers)
	}
	req.AddHeaders(headers)
	return req, nil
}

func (s *Session) dispatch(req *protocol.Request, queuable bool, cb ResponseFunc) {
	s.mu.Lock()
	state := s.state
	queuing := s.queuing
	filter := s.queueFilter
	s.mu.Unlock()

	switch {
	case state == StateConnected:
		s.emitRequest(req, cb)
	case !queuable:
		s.discard(req, state, "request is not queuable")
	case queuing || state.queues():
		s.enqueue(req, cb, filter)
	default:
		s.discard(req, state, "not connected and not queuing")
	}
}

// discard drops a request without notifying its callback
func (s *Session) discard(req *protocol.Request, state State, reason string) {
	s.metrics.dropped()
	s.logger.Debug().
		Str("requestId", req.RequestID).
		Str("controller", req.Controller).
		Str("action", req.Action).
		Str("state", state.String()).
		Str("reason", reason).
		Msg("request discarded")
}

func (s *Session) enqueue(req *protocol.Request, cb ResponseFunc, filter func(*protocol.Request) bool) {
	s.cleanQueue()
	if filter != nil && !filter(req) {
		s.logger.Debug().
			Str("requestId", req.RequestID).
			Msg("request rejected by queue filter")
		return
	}

	s.offline.Push(&pendingRequest{request: req, callback: cb}, time.Now())
	s.cleanQueue()
	s.metrics.queued(s.offline.Len())
	s.logger.Debug().
		Str("requestId", req.RequestID).
		Int("depth", s.offline.Len()).
		Msg("request queued")
	s.events.Emit(events.Event{Kind: events.OfflineQueuePush, Request: req})
}

// cleanQueue runs the age and size eviction passes
func (s *Session) cleanQueue() {
	evicted := s.offline.Evict(time.Now(), s.opts.QueueTTL, s.opts.QueueMaxSize)
	if len(evicted) == 0 {
		return
	}
	s.metrics.setQueueDepth(s.offline.Len())
	s.logger.Debug().
		Int("evicted", len(evicted)).
		Int("depth", s.offline.Len()).
		Msg("offline queue evicted requests")
}

func skipsToken(req *protocol.Request) bool {
	return req.Controller == "auth" && req.Action == "checkToken"
}

func (s *Session) emitRequest(req *protocol.Request, cb ResponseFunc) {
	token := s.JWT()
	if token != "" && req.JWT == "" && !skipsToken(req) {
		req.JWT = token
	}

	data, err := req.Bytes()
	if err != nil {
		err = fmt.Errorf("failed to encode request: %w", err)
		s.logger.Error().Err(err).Str("requestId", req.RequestID).Msg("request not sent")
		if cb != nil {
			cb(nil, err)
		}
		return
	}

	var listenerID transport.ListenerID
	listening := cb != nil || token != ""
	if listening {
		listenerID = s.transport.Once(req.RequestID, func(payload []byte) {
			s.handleResponse(req, cb, payload)
		})
	}

	// Recorded before writing so a push caused by this request is matched
	if s.history.Record(req.RequestID, time.Now()) {
		s.logger.Debug().Int("historySize", s.opts.HistorySize).Msg("request history full, evicted an id inside the lookback")
	}
	if err := s.transport.Emit(transport.EventRequest, data); err != nil {
		s.history.Consume(req.RequestID)
		if listening {
			s.transport.Off(req.RequestID, listenerID)
		}
		s.logger.Warn().
			Err(err).
			Str("requestId", req.RequestID).
			Msg("failed to emit request")
		if cb != nil {
			cb(nil, err)
		}
		return
	}
	s.metrics.emitted()
}

func (s *Session) handleResponse(req *protocol.Request, cb ResponseFunc, payload []byte) {
	resp, err := protocol.ParseResponse(payload)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("requestId", req.RequestID).
			Msg("malformed response")
		if cb != nil {
			cb(nil, err)
		}
		return
	}

	if resp.Error != nil {
		if resp.Error.IsTokenExpired() && req.Action != "logout" {
			s.events.Emit(events.Event{
				Kind:    events.JWTTokenExpired,
				Err:     resp.Error,
				Request: req,
				Retry:   s.retry(req, cb),
			})
		}
		if cb != nil {
			cb(nil, resp.Error)
		}
		return
	}

	if cb != nil {
		cb(resp.Result, nil)
	}
}

// retry returns a closure re-sending req with its callback, using the
// token held at the time of the call
func (s *Session) retry(req *protocol.Request, cb ResponseFunc) func() error {
	return func() error {
		if err := s.checkValid(); err != nil {
			return err
		}
		clone := req.Clone()
		clone.JWT = ""
		clone.RequestID = protocol.NewRequestID()
		s.dispatch(&clone, true, cb)
		return nil
	}
}
