package participation

import (
	"context"
	"time"

	"acteezer/cmd/internal/activity"
)

// TransitionRecord describes one organizer or requester transition.
type TransitionRecord struct {
	ActivityID    string
	ParticipantID string
	// UserID, when set, must match the participant's user (cancel by owner).
	UserID   string
	Response string
	Now      time.Time
}

// Store is the persistence boundary for activities and participants.
//
// Uniqueness of (activity, user) and the capacity bound are enforced here, not by callers:
//   - InsertPending fails with ErrConflict when a row for the pair exists.
//   - Approve moves pending -> approved only while approved < max_participants, as one
//     atomic step per activity; otherwise ErrCapacityExceeded and no mutation.
type Store interface {
	GetActivity(ctx context.Context, activityID string) (activity.Activity, error)
	GetParticipant(ctx context.Context, activityID, participantID string) (activity.Participant, error)
	// FindParticipant returns nil, nil when the user has no row for the activity.
	FindParticipant(ctx context.Context, activityID, userID string) (*activity.Participant, error)
	CountApproved(ctx context.Context, activityID string) (int, error)
	ListParticipants(ctx context.Context, activityID string, statuses ...activity.Status) ([]activity.Participant, error)

	InsertPending(ctx context.Context, p activity.Participant) (activity.Participant, error)
	Approve(ctx context.Context, in TransitionRecord) (activity.Participant, error)
	Reject(ctx context.Context, in TransitionRecord) (activity.Participant, error)
	// Cancel removes a pending or approved row and returns it as it was before removal.
	Cancel(ctx context.Context, in TransitionRecord) (activity.Participant, error)
}
