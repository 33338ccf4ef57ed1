package directory

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is the in-memory profile store used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// Put inserts or replaces a profile.
func (s *MemoryStore) Put(p Profile) error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrInvalidInput
	}
	p.Languages = append(p.Languages[:0:0], p.Languages...)

	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
	return nil
}

// GetProfile returns the profile for userID.
func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrInvalidInput
	}

	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}
