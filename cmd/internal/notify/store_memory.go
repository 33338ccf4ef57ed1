package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements RecordStore, PreferenceStore and TokenStore in memory.
// It is the dev-mode fallback when no database is configured.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	prefs   map[string]Preferences
	tokens  map[string]map[string]bool // user -> token -> active
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		prefs:   make(map[string]Preferences),
		tokens:  make(map[string]map[string]bool),
	}
}

// Create stores rec.
func (s *MemoryStore) Create(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.RecipientID) == "" {
		return Record{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return Record{}, ErrInvalidInput
	}
	rec.Data = cloneData(rec.Data)
	s.records[rec.ID] = rec
	return rec, nil
}

// MarkPushed sets is_pushed and pushed_at.
func (s *MemoryStore) MarkPushed(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.IsPushed = true
	rec.PushedAt = &at
	s.records[id] = rec
	return nil
}

// Get returns one record.
func (s *MemoryStore) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

// List returns the recipient's latest records first.
func (s *MemoryStore) List(ctx context.Context, recipientID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]Record, 0)
	for _, rec := range s.records {
		if rec.RecipientID == recipientID {
			out = append(out, rec)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkAllRead marks every unread record of the recipient as read.
func (s *MemoryStore) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if rec.RecipientID != recipientID || rec.IsRead {
			continue
		}
		rec.IsRead = true
		s.records[id] = rec
		n++
	}
	return n, nil
}

// SetPreferences stores preferences for userID.
func (s *MemoryStore) SetPreferences(userID string, p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags := make(map[Flag]bool, len(p.Flags))
	for k, v := range p.Flags {
		flags[k] = v
	}
	p.Flags = flags
	s.prefs[userID] = p
}

// GetPreferences returns stored preferences, if any.
func (s *MemoryStore) GetPreferences(ctx context.Context, userID string) (Preferences, bool, error) {
	if err := ctx.Err(); err != nil {
		return Preferences{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[userID]
	return p, ok, nil
}

// RegisterToken adds an active device token.
func (s *MemoryStore) RegisterToken(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.tokens[userID]
	if m == nil {
		m = make(map[string]bool)
		s.tokens[userID] = m
	}
	m[token] = true
}

// ActiveTokens lists active tokens in sorted order.
func (s *MemoryStore) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]string, 0, len(s.tokens[userID]))
	for tok, active := range s.tokens[userID] {
		if active {
			out = append(out, tok)
		}
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

func cloneData(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
