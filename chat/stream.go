package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/models"
)

// Stream is the ordered, deduplicated message history for the ACTIVE
// conversation only. Switching conversations clears and reloads it; there
// is no cross-conversation cache.
//
// Ordering is always models.SortMessages — ascending creation time, ties
// broken by ID — re-applied after every mutation. Append order is never
// trusted: the transport redelivers slightly out of order around
// reconnects, and a buffer that assumes arrival order equals chronology
// shows users scrambled conversations.
type Stream struct {
	svc    Service
	logger *zap.Logger

	mu     sync.Mutex
	active string
	msgs   []models.Message
}

func NewStream(svc Service, logger *zap.Logger) *Stream {
	return &Stream{svc: svc, logger: logger}
}

// SetActive makes key the active conversation and clears the buffer. It is
// synchronous and cheap: callers set the key the moment the user selects,
// so appends (pushed or optimistic) land in the right buffer even while the
// history fetch is still in flight.
func (s *Stream) SetActive(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = key
	s.msgs = nil
}

// Load makes key the active conversation and fills the buffer with its
// fetched history. An empty history is an empty buffer, not an error.
func (s *Stream) Load(ctx context.Context, key string) error {
	s.SetActive(key)
	return s.fetch(ctx, key)
}

// fetch retrieves key's history and installs it. Relevance is re-validated
// at completion: if the user switched to another conversation while the
// fetch was in flight, the stale result is discarded rather than clobbering
// the new conversation's buffer. Messages that arrived in the buffer during
// the fetch (pushes, optimistic sends) are kept and merged.
func (s *Stream) fetch(ctx context.Context, key string) error {
	history, err := s.svc.History(ctx, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != key {
		// Superseded while fetching. Discard, don't error — the newer
		// load owns the buffer now.
		s.logger.Debug("discarding stale history", zap.String("key", key))
		return nil
	}
	seen := make(map[string]struct{}, len(history))
	for i := range history {
		seen[history[i].ID] = struct{}{}
	}
	for _, m := range s.msgs {
		if _, ok := seen[m.ID]; !ok {
			history = append(history, m)
		}
	}
	models.SortMessages(history)
	s.msgs = history
	return nil
}

// AppendIfRelevant adds one pushed message to the buffer, returning whether
// it was kept. Three gates, in order:
//
//  1. conversation key must match the active one,
//  2. the ID must not already be present (duplicate delivery collapses),
//  3. after appending, the buffer is re-sorted.
func (s *Stream) AppendIfRelevant(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ConversationKey != s.active {
		return false
	}
	for i := range s.msgs {
		if s.msgs[i].ID == msg.ID {
			return false
		}
	}
	s.msgs = append(s.msgs, msg)
	models.SortMessages(s.msgs)
	return true
}

// Resolve replaces the optimistic pending copy (tempID) with the
// authoritative server message. If the push channel already delivered the
// server copy, the pending one is simply dropped.
func (s *Stream) Resolve(tempID string, server models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.msgs[:0]
	haveServer := false
	for _, m := range s.msgs {
		if m.ID == tempID {
			continue
		}
		if m.ID == server.ID {
			haveServer = true
		}
		kept = append(kept, m)
	}
	s.msgs = kept
	if !haveServer && server.ConversationKey == s.active {
		s.msgs = append(s.msgs, server)
	}
	models.SortMessages(s.msgs)
}

// MarkFailed flags a pending optimistic message as failed so the surface
// can offer a retry. No-op if the message is gone (conversation switched).
func (s *Stream) MarkFailed(tempID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == tempID {
			s.msgs[i].Pending = false
			s.msgs[i].Failed = true
			return
		}
	}
}

// Take removes and returns a message by ID (used by send-retry). Second
// return is false when absent.
func (s *Stream) Take(id string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			msg := s.msgs[i]
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return msg, true
		}
	}
	return models.Message{}, false
}

// Active returns the active conversation key.
func (s *Stream) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Messages returns a copy of the buffer in presentation order.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
