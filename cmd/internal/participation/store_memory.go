package participation

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"acteezer/cmd/internal/activity"
)

// MemoryStore is the dev-mode Store used when no database is configured.
//
// Concurrency model:
//   - mu guards only the activity map.
//   - each activity has its own mutex, so transitions on one activity are serialized
//     while different activities never contend.
type MemoryStore struct {
	mu         sync.RWMutex
	activities map[string]*memActivity
}

type memActivity struct {
	mu           sync.Mutex
	activity     activity.Activity
	participants map[string]activity.Participant // participant id -> row
	byUser       map[string]string               // user id -> participant id
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{activities: make(map[string]*memActivity)}
}

// PutActivity inserts or updates an activity. Existing participants are kept.
func (s *MemoryStore) PutActivity(a activity.Activity) error {
	if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.OrganizerID) == "" || a.MaxParticipants < 1 {
		return ErrInvalidInput
	}

	s.mu.Lock()
	ma := s.activities[a.ID]
	if ma == nil {
		ma = &memActivity{
			participants: make(map[string]activity.Participant),
			byUser:       make(map[string]string),
		}
		s.activities[a.ID] = ma
	}
	s.mu.Unlock()

	ma.mu.Lock()
	ma.activity = a
	ma.mu.Unlock()
	return nil
}

func (s *MemoryStore) lookup(activityID string) (*memActivity, error) {
	s.mu.RLock()
	ma := s.activities[activityID]
	s.mu.RUnlock()
	if ma == nil {
		return nil, ErrNotFound
	}
	return ma, nil
}

// GetActivity returns the current activity values.
func (s *MemoryStore) GetActivity(ctx context.Context, activityID string) (activity.Activity, error) {
	if err := ctx.Err(); err != nil {
		return activity.Activity{}, err
	}
	ma, err := s.lookup(activityID)
	if err != nil {
		return activity.Activity{}, err
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.activity, nil
}

// GetParticipant returns a participant row of the activity.
func (s *MemoryStore) GetParticipant(ctx context.Context, activityID, participantID string) (activity.Participant, error) {
	if err := ctx.Err(); err != nil {
		return activity.Participant{}, err
	}
	ma, err := s.lookup(activityID)
	if err != nil {
		return activity.Participant{}, err
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	p, ok := ma.participants[participantID]
	if !ok {
		return activity.Participant{}, ErrNotFound
	}
	return p, nil
}

// FindParticipant returns the user's row for the activity, or nil.
func (s *MemoryStore) FindParticipant(ctx context.Context, activityID, userID string) (*activity.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ma, err := s.lookup(activityID)
	if err != nil {
		return nil, err
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	id, ok := ma.byUser[userID]
	if !ok {
		return nil, nil
	}
	p := ma.participants[id]
	return &p, nil
}

// CountApproved counts approved rows of the activity.
func (s *MemoryStore) CountApproved(ctx context.Context, activityID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ma, err := s.lookup(activityID)
	if err != nil {
		return 0, err
	}
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.approvedLocked(), nil
}

func (ma *memActivity) approvedLocked() int {
	n := 0
	for _, p := range ma.participants {
		if p.Status == activity.StatusApproved {
			n++
		}
	}
	return n
}

// ListParticipants lists rows ordered by request time. No statuses means all.
func (s *MemoryStore) ListParticipants(ctx context.Context, activityID string, statuses ...activity.Status) ([]activity.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ma, err := s.lookup(activityID)
	if err != nil {
		return nil, err
	}

	want := make(map[activity.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	ma.mu.Lock()
	out := make([]activity.Participant, 0, len(ma.participants))
	for _, p := range ma.participants {
		if len(want) > 0 && !want[p.Status] {
			continue
		}
		out = append(out, p)
	}
	ma.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// InsertPending creates a pending row; ErrConflict if the pair already has one.
func (s *MemoryStore) InsertPending(ctx context.Context, p activity.Participant) (activity.Participant, error) {
	if err := ctx.Err(); err != nil {
		return activity.Participant{}, err
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.UserID) == "" {
		return activity.Participant{}, ErrInvalidInput
	}
	ma, err := s.lookup(p.ActivityID)
	if err != nil {
		return activity.Participant{}, err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	if _, exists := ma.byUser[p.UserID]; exists {
		return activity.Participant{}, ErrConflict
	}
	if _, exists := ma.participants[p.ID]; exists {
		return activity.Participant{}, ErrConflict
	}

	p.Status = activity.StatusPending
	ma.participants[p.ID] = p
	ma.byUser[p.UserID] = p.ID
	return p, nil
}

// Approve is the capacity compare-and-swap: the count, the comparison and the write
// happen under the activity mutex.
func (s *MemoryStore) Approve(ctx context.Context, in TransitionRecord) (activity.Participant, error) {
	return s.transition(ctx, in, activity.StatusApproved, func(ma *memActivity) error {
		if ma.approvedLocked() >= ma.activity.MaxParticipants {
			return ErrCapacityExceeded
		}
		return nil
	})
}

// Reject moves pending -> rejected.
func (s *MemoryStore) Reject(ctx context.Context, in TransitionRecord) (activity.Participant, error) {
	return s.transition(ctx, in, activity.StatusRejected, nil)
}

func (s *MemoryStore) transition(ctx context.Context, in TransitionRecord, to activity.Status, guard func(*memActivity) error) (activity.Participant, error) {
	if err := ctx.Err(); err != nil {
		return activity.Participant{}, err
	}
	ma, err := s.lookup(in.ActivityID)
	if err != nil {
		return activity.Participant{}, err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	p, ok := ma.participants[in.ParticipantID]
	if !ok {
		return activity.Participant{}, ErrNotFound
	}
	if !activity.CanTransition(p.Status, to) {
		return activity.Participant{}, ErrInvalidState
	}
	if guard != nil {
		if err := guard(ma); err != nil {
			return activity.Participant{}, err
		}
	}

	p.Status = to
	p.OrganizerResponse = in.Response
	p.StatusUpdatedAt = nowOr(in.Now)
	ma.participants[p.ID] = p
	return p, nil
}

// Cancel deletes a pending or approved row owned by in.UserID.
func (s *MemoryStore) Cancel(ctx context.Context, in TransitionRecord) (activity.Participant, error) {
	if err := ctx.Err(); err != nil {
		return activity.Participant{}, err
	}
	ma, err := s.lookup(in.ActivityID)
	if err != nil {
		return activity.Participant{}, err
	}

	ma.mu.Lock()
	defer ma.mu.Unlock()

	p, ok := ma.participants[in.ParticipantID]
	if !ok {
		return activity.Participant{}, ErrNotFound
	}
	if in.UserID != "" && p.UserID != in.UserID {
		return activity.Participant{}, ErrForbidden
	}
	if !activity.CanTransition(p.Status, activity.StatusCancelled) {
		return activity.Participant{}, ErrInvalidState
	}

	delete(ma.participants, p.ID)
	delete(ma.byUser, p.UserID)
	return p, nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
