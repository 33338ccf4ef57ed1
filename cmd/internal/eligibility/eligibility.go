// Package eligibility decides whether a user may request to join an activity.
//
// Evaluate is pure: it reads only its Input and never touches storage, so it backs both the
// live "can I join?" pre-check and the admission check inside a join request.
package eligibility

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"acteezer/cmd/internal/activity"
)

// Code is a stable, machine-readable denial reason.
type Code string

const (
	CodeOK               Code = ""
	CodeOwnActivity      Code = "own_activity"
	CodeAlreadyJoined    Code = "already_joined"
	CodeRequestPending   Code = "request_pending"
	CodeRequestRejected  Code = "request_rejected"
	CodeRequestCancelled Code = "request_cancelled"
	CodeActivityFull     Code = "activity_full"
	CodeActivityOver     Code = "activity_over"
	CodeAgeUnknown       Code = "age_unknown"
	CodeTooYoung         Code = "age_too_young"
	CodeTooOld           Code = "age_too_old"
	CodeGenderUnknown    Code = "gender_unknown"
	CodeGenderNotAllowed Code = "gender_not_allowed"
	CodeLanguagesMissing Code = "languages_missing"
)

// Candidate is the profile data the evaluator needs about the requesting user.
// Nil Age and Gender mean the profile does not carry that value.
type Candidate struct {
	UserID    string
	Age       *int
	Gender    *activity.Gender
	Languages []string // language codes
}

// Input bundles everything one evaluation reads.
type Input struct {
	Activity      activity.Activity
	Candidate     Candidate
	Existing      *activity.Participant
	ApprovedCount int
	Now           time.Time
}

// Decision is the evaluation result. Only the first failing check is reported.
type Decision struct {
	Allowed bool
	Code    Code
	Reason  string
	// Missing lists the names of required languages the candidate lacks (CodeLanguagesMissing only).
	Missing []string
}

// Admit is the successful decision.
func Admit() Decision { return Decision{Allowed: true} }

func deny(code Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

type check func(Input) (Decision, bool)

// checks run in this order; the order fixes which reason a user sees.
var checks = []check{
	checkOrganizer,
	checkExisting,
	checkCapacity,
	checkEnded,
	checkAge,
	checkGender,
	checkLanguages,
}

// Evaluate runs every check in order and returns the first denial, or Admit.
func Evaluate(in Input) Decision {
	for _, c := range checks {
		if d, failed := c(in); failed {
			return d
		}
	}
	return Admit()
}

func checkOrganizer(in Input) (Decision, bool) {
	if in.Activity.IsOrganizer(in.Candidate.UserID) {
		return deny(CodeOwnActivity, "You cannot join your own activity"), true
	}
	return Decision{}, false
}

func checkExisting(in Input) (Decision, bool) {
	if in.Existing == nil {
		return Decision{}, false
	}
	return ExistingDenial(in.Existing.Status), true
}

// ExistingDenial is the denial for a user who already has a row in any status.
func ExistingDenial(status activity.Status) Decision {
	switch status {
	case activity.StatusApproved:
		return deny(CodeAlreadyJoined, "You have already joined this activity")
	case activity.StatusPending:
		return deny(CodeRequestPending, "Your join request is pending")
	case activity.StatusRejected:
		return deny(CodeRequestRejected, "Your join request was rejected")
	default:
		return deny(CodeRequestCancelled, "Your previous request was cancelled")
	}
}

// checkCapacity is advisory. Approval re-checks capacity atomically.
func checkCapacity(in Input) (Decision, bool) {
	if in.ApprovedCount >= in.Activity.MaxParticipants {
		return deny(CodeActivityFull, "Activity is full"), true
	}
	return Decision{}, false
}

func checkEnded(in Input) (Decision, bool) {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if in.Activity.Ended(now) {
		return deny(CodeActivityOver, "Activity is already over"), true
	}
	return Decision{}, false
}

func checkAge(in Input) (Decision, bool) {
	req := in.Activity.Requirements
	if !req.HasAgeBound() {
		return Decision{}, false
	}
	if in.Candidate.Age == nil {
		return deny(CodeAgeUnknown, "Your profile has no birth date; it is required for this activity's age limits"), true
	}
	age := *in.Candidate.Age
	if req.MinAge != nil && age < *req.MinAge {
		return deny(CodeTooYoung, fmt.Sprintf("You must be at least %d years old", *req.MinAge)), true
	}
	if req.MaxAge != nil && age > *req.MaxAge {
		return deny(CodeTooOld, fmt.Sprintf("You must be at most %d years old", *req.MaxAge)), true
	}
	return Decision{}, false
}

func checkGender(in Input) (Decision, bool) {
	allowed := in.Activity.Requirements.AllowedGenders
	if len(allowed) == 0 {
		return Decision{}, false
	}
	if in.Candidate.Gender == nil {
		return deny(CodeGenderUnknown, "Your profile has no gender; this activity is restricted by gender"), true
	}
	for _, g := range allowed {
		if g == *in.Candidate.Gender {
			return Decision{}, false
		}
	}
	return deny(CodeGenderNotAllowed, "This activity is not open to your gender"), true
}

func checkLanguages(in Input) (Decision, bool) {
	required := in.Activity.Requirements.RequiredLanguages
	if len(required) == 0 {
		return Decision{}, false
	}

	known := make(map[string]struct{}, len(in.Candidate.Languages))
	for _, code := range in.Candidate.Languages {
		known[normalizeCode(code)] = struct{}{}
	}

	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, lang := range required {
		code := normalizeCode(lang.Code)
		if _, ok := known[code]; ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		name := strings.TrimSpace(lang.Name)
		if name == "" {
			name = code
		}
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return Decision{}, false
	}

	sort.Strings(missing)
	d := deny(CodeLanguagesMissing, "Required languages missing: "+strings.Join(missing, ", "))
	d.Missing = missing
	return d, true
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
