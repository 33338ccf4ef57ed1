// Package activity holds the shared domain types of the participation engine:
// activities with their requirement set, and participant rows.
package activity

import (
	"strings"
	"time"
)

// Gender is a profile gender value.
type Gender string

const (
	GenderMale           Gender = "male"
	GenderFemale         Gender = "female"
	GenderOther          Gender = "other"
	GenderPreferNotToSay Gender = "prefer_not_to_say"
)

// Valid reports whether g is a known gender value.
func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderPreferNotToSay:
		return true
	default:
		return false
	}
}

// ParseGender normalizes raw input into a Gender.
func ParseGender(raw string) (Gender, bool) {
	g := Gender(strings.ToLower(strings.TrimSpace(raw)))
	return g, g.Valid()
}

// Language is a language reference. Code is the stable identifier; Name is used in user-facing text.
type Language struct {
	Code string
	Name string
}

// Requirements is the eligibility requirement set of an activity.
// Nil bounds and empty sets mean "unrestricted".
type Requirements struct {
	MinAge            *int
	MaxAge            *int
	AllowedGenders    []Gender
	RequiredLanguages []Language
}

// HasAgeBound reports whether either age bound is set.
func (r Requirements) HasAgeBound() bool {
	return r.MinAge != nil || r.MaxAge != nil
}

// Activity is the subset of an activity the engine reads.
// Values are always read fresh from the store because the organizer may edit them until start time.
type Activity struct {
	ID              string
	Title           string
	OrganizerID     string
	StartsAt        time.Time
	EndsAt          time.Time
	MaxParticipants int
	MinParticipants *int
	Requirements    Requirements
}

// IsOrganizer reports whether userID owns the activity.
func (a Activity) IsOrganizer(userID string) bool {
	return a.OrganizerID != "" && a.OrganizerID == userID
}

// Ended reports whether the activity window closed before now.
func (a Activity) Ended(now time.Time) bool {
	return !a.EndsAt.IsZero() && a.EndsAt.Before(now)
}
