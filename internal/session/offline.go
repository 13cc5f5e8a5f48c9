package session

import (
	"time"

	"rtclient/internal/events"
	"rtclient/internal/protocol"
)

// drain replays the offline queue one request per ReplayInterval. A drain
// already in progress is left alone.
func (s *Session) drain() {
	s.replayMu.Lock()
	if s.replaying {
		s.replayMu.Unlock()
		return
	}
	s.replaying = true
	s.replayMu.Unlock()

	s.mu.Lock()
	loader := s.queueLoader
	s.mu.Unlock()
	if loader != nil {
		s.mergeLoaded(loader())
	}

	s.replayStep()
}

func (s *Session) replayStep() {
	state := s.State()
	if state == StateOffline || state == StateDisconnected {
		s.finishReplay()
		return
	}

	s.cleanQueue()
	item, ok := s.offline.Pop()
	if !ok {
		s.clearQueuing()
		s.finishReplay()
		return
	}
	s.metrics.setQueueDepth(s.offline.Len())

	s.logger.Debug().
		Str("requestId", item.Value.request.RequestID).
		Int("remaining", s.offline.Len()).
		Msg("replaying queued request")
	s.emitRequest(item.Value.request, item.Value.callback)
	s.events.Emit(events.Event{Kind: events.OfflineQueuePop, Request: item.Value.request})

	if s.offline.Len() == 0 {
		s.clearQueuing()
		s.finishReplay()
		return
	}

	s.replayMu.Lock()
	defer s.replayMu.Unlock()
	if !s.replaying {
		return
	}
	s.replayTimer = time.AfterFunc(s.opts.ReplayInterval, s.replayStep)
}

func (s *Session) clearQueuing() {
	s.mu.Lock()
	s.queuing = false
	s.mu.Unlock()
}

func (s *Session) finishReplay() {
	s.replayMu.Lock()
	s.replaying = false
	s.replayTimer = nil
	s.replayMu.Unlock()
}

func (s *Session) stopReplay() {
	s.replayMu.Lock()
	s.replaying = false
	if s.replayTimer != nil {
		s.replayTimer.Stop()
		s.replayTimer = nil
	}
	s.replayMu.Unlock()
}

// mergeLoaded appends loader entries that are not queued yet. Entries
// missing requestId, controller or action are rejected.
func (s *Session) mergeLoaded(loaded []*protocol.Request) {
	added := 0
	for _, req := range loaded {
		if req == nil {
			continue
		}
		if err := req.Validate(); err != nil {
			s.logger.Error().Err(err).Msg("invalid offline queue request")
			s.events.Emit(events.Event{Kind: events.Error, Err: err, Request: req})
			continue
		}
		id := req.RequestID
		if s.offline.Contains(func(p *pendingRequest) bool { return p.request.RequestID == id }) {
			continue
		}
		s.offline.Push(&pendingRequest{request: req}, time.Now())
		added++
	}
	if added > 0 {
		s.metrics.setQueueDepth(s.offline.Len())
		s.logger.Debug().Int("added", added).Msg("merged loaded requests into offline queue")
	}
}

// StartQueuing buffers requests while offline. Only effective in OFFLINE
// state with AutoQueue off.
func (s *Session) StartQueuing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrInvalidated
	}
	if s.state == StateOffline && !s.opts.AutoQueue {
		s.queuing = true
	}
	return nil
}

// StopQueuing stops buffering requests. Only effective in OFFLINE state
// with AutoQueue off.
func (s *Session) StopQueuing() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrInvalidated
	}
	if s.state == StateOffline && !s.opts.AutoQueue {
		s.queuing = false
	}
	return nil
}

// IsQueuing reports whether requests are currently buffered
func (s *Session) IsQueuing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuing
}

// FlushQueue discards every queued request without replaying it
func (s *Session) FlushQueue() error {
	if err := s.checkValid(); err != nil {
		return err
	}
	n := s.offline.Flush()
	s.metrics.setQueueDepth(0)
	if n > 0 {
		s.logger.Debug().Int("flushed", n).Msg("offline queue flushed")
	}
	return nil
}

// ReplayQueue drains the offline queue now. Only effective when not
// OFFLINE and AutoReplay is off.
func (s *Session) ReplayQueue() error {
	state := s.State()
	if state == StateDisconnected {
		return ErrInvalidated
	}
	if state != StateOffline && !s.opts.AutoReplay {
		s.cleanQueue()
		s.drain()
	}
	return nil
}

// QueueLen returns the number of queued requests
func (s *Session) QueueLen() int {
	return s.offline.Len()
}

// QueuedRequests returns the queued envelopes in replay order
func (s *Session) QueuedRequests() []*protocol.Request {
	items := s.offline.Items()
	out := make([]*protocol.Request, len(items))
	for i, it := range items {
		out[i] = it.Value.request
	}
	return out
}

// SetQueueFilter sets the predicate a request must pass to be queued
func (s *Session) SetQueueFilter(fn func(*protocol.Request) bool) {
	s.mu.Lock()
	s.queueFilter = fn
	s.mu.Unlock()
}

// SetQueueLoader sets the source merged into the queue before each drain
func (s *Session) SetQueueLoader(fn QueueLoader) {
	s.mu.Lock()
	s.queueLoader = fn
	s.mu.Unlock()
}
