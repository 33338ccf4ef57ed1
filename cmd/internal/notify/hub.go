package notify

import (
	"log/slog"
	"sync"
)

// Subscriber is one live notification stream (one websocket session).
//
// Send is never closed by the hub, so Publish cannot panic on a departing subscriber;
// done signals shutdown instead. Close is idempotent.
type Subscriber struct {
	SessionID string
	UserID    string
	Send      chan Record

	done      chan struct{}
	closeOnce sync.Once
}

// NewSubscriber constructs a Subscriber with a bounded send queue.
func NewSubscriber(userID, sessionID string, queueSize int) *Subscriber {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Subscriber{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan Record, queueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the subscriber is shutting down.
func (s *Subscriber) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals shutdown (idempotent). It does not close Send.
func (s *Subscriber) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub fans out persisted records to the recipient's live sessions.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]*Subscriber // user id -> session id -> subscriber
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, users: make(map[string]map[string]*Subscriber)}
}

// Subscribe registers sub for its user.
func (h *Hub) Subscribe(sub *Subscriber) {
	if h == nil || sub == nil || sub.UserID == "" || sub.SessionID == "" {
		return
	}
	h.mu.Lock()
	sessions := h.users[sub.UserID]
	if sessions == nil {
		sessions = make(map[string]*Subscriber)
		h.users[sub.UserID] = sessions
	}
	sessions[sub.SessionID] = sub
	h.mu.Unlock()

	h.log.Debug("notify.hub.subscribe", "user_id", sub.UserID, "session_id", sub.SessionID)
}

// Unsubscribe removes the session and then closes it.
func (h *Hub) Unsubscribe(userID, sessionID string) {
	if h == nil {
		return
	}
	var sub *Subscriber

	h.mu.Lock()
	if sessions := h.users[userID]; sessions != nil {
		sub = sessions[sessionID]
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(h.users, userID)
		}
	}
	h.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	h.log.Debug("notify.hub.unsubscribe", "user_id", userID, "session_id", sessionID)
}

// Publish delivers rec to the recipient's sessions and returns how many accepted it.
// It never blocks: full queues and closing sessions are skipped.
func (h *Hub) Publish(rec Record) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.users[rec.RecipientID] {
		select {
		case <-sub.Done():
			continue
		default:
		}
		select {
		case sub.Send <- rec:
			delivered++
		default:
		}
	}
	return delivered
}

// Sessions returns the number of live sessions for userID.
func (h *Hub) Sessions(userID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
