package activity

import "time"

// Status is the lifecycle state of a participant row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine permits from -> to.
//
//	pending  -> approved | rejected | cancelled
//	approved -> cancelled
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected || to == StatusCancelled
	case StatusApproved:
		return to == StatusCancelled
	default:
		return false
	}
}

// Participant is one user's relationship to one activity.
// At most one row exists per (ActivityID, UserID).
type Participant struct {
	ID                string
	ActivityID        string
	UserID            string
	Status            Status
	RequestedMessage  string
	OrganizerResponse string
	RequestedAt       time.Time
	StatusUpdatedAt   time.Time
}
