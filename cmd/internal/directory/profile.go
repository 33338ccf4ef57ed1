// Package directory exposes read-only user profile data to the participation engine.
package directory

import (
	"context"
	"errors"
	"time"

	"acteezer/cmd/internal/activity"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("profile not found")
)

// Profile is the read-only view of a user the engine consumes.
type Profile struct {
	ID          string
	DisplayName string
	Birthday    *time.Time
	Gender      *activity.Gender
	Languages   []activity.Language
}

// Age returns the age in whole years at now, or nil when no birthday is set.
func (p Profile) Age(now time.Time) *int {
	if p.Birthday == nil {
		return nil
	}
	age := AgeAt(*p.Birthday, now)
	return &age
}

// LanguageCodes returns the codes of the languages the user knows.
func (p Profile) LanguageCodes() []string {
	out := make([]string, 0, len(p.Languages))
	for _, l := range p.Languages {
		out = append(out, l.Code)
	}
	return out
}

// Name returns a display name, falling back to the id.
func (p Profile) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// AgeAt counts completed years between birthday and now.
func AgeAt(birthday, now time.Time) int {
	by, bm, bd := birthday.Date()
	ny, nm, nd := now.Date()
	age := ny - by
	if nm < bm || (nm == bm && nd < bd) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

// Store is the profile lookup boundary.
type Store interface {
	GetProfile(ctx context.Context, userID string) (Profile, error)
}
