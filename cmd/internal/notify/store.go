package notify

import (
	"context"
	"time"
)

// RecordStore persists notification records.
type RecordStore interface {
	Create(ctx context.Context, rec Record) (Record, error)
	MarkPushed(ctx context.Context, id string, at time.Time) error
	// List returns the latest records first.
	List(ctx context.Context, recipientID string, limit int) ([]Record, error)
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
}

// PreferenceStore reads delivery preferences. ok is false when the user has none.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (prefs Preferences, ok bool, err error)
}

// TokenStore lists a user's active device push tokens.
type TokenStore interface {
	ActiveTokens(ctx context.Context, userID string) ([]string, error)
}
