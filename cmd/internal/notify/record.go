package notify

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("notification not found")
)

// Event is one notification-worthy occurrence addressed to one recipient.
type Event struct {
	Kind          Kind
	RecipientID   string
	ActorID       string
	ActorName     string
	ActivityID    string
	ActivityTitle string
	ParticipantID string

	// Title and Body are used for kinds without built-in copy.
	Title string
	Body  string

	// Data is merged into the stored record and the push payload.
	Data map[string]string
}

// Record is a persisted in-app notification.
type Record struct {
	ID                string            `json:"id"`
	RecipientID       string            `json:"recipient_id"`
	Kind              Kind              `json:"kind"`
	Title             string            `json:"title"`
	Body              string            `json:"body"`
	RelatedActivityID string            `json:"related_activity_id,omitempty"`
	RelatedUserID     string            `json:"related_user_id,omitempty"`
	Data              map[string]string `json:"data,omitempty"`
	IsRead            bool              `json:"is_read"`
	IsPushed          bool              `json:"is_pushed"`
	PushedAt          *time.Time        `json:"pushed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}
