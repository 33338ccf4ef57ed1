// Package participation drives a participant through its lifecycle:
//
//	RequestJoin: eligibility check, then a pending row (unique per activity and user).
//	Approve:     organizer only; pending -> approved under the capacity bound.
//	Reject:      organizer only; pending -> rejected.
//	CancelJoin:  requester only; pending|approved -> removed.
//
// Every successful transition hands exactly one event to the Notifier, after the
// transition is durable. Notification failures never fail the transition.
package participation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"acteezer/cmd/internal/activity"
	"acteezer/cmd/internal/directory"
	"acteezer/cmd/internal/eligibility"
	"acteezer/cmd/internal/ids"
	"acteezer/cmd/internal/notify"
)

const (
	maxMessageChars  = 1000
	maxResponseChars = 1000
)

// ProfileSource is the read-only user profile collaborator.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (directory.Profile, error)
}

// Notifier receives one event per successful transition.
type Notifier interface {
	Dispatch(ctx context.Context, ev notify.Event) (notify.Record, error)
}

// Observer receives outcome counters. Implementations must be cheap and non-blocking.
type Observer interface {
	ObserveJoin(outcome string)
	ObserveTransition(op, result string)
}

// NoopObserver discards observations.
type NoopObserver struct{}

func (NoopObserver) ObserveJoin(string)               {}
func (NoopObserver) ObserveTransition(string, string) {}

// NoopNotifier drops events.
type NoopNotifier struct{}

// Dispatch implements Notifier.
func (NoopNotifier) Dispatch(context.Context, notify.Event) (notify.Record, error) {
	return notify.Record{}, nil
}

// Service implements the participation state machine.
type Service struct {
	store    Store
	profiles ProfileSource
	notifier Notifier
	observer Observer
	log      *slog.Logger
	now      func() time.Time

	notifyOnCancel bool
}

// Option configures the Service.
type Option func(*Service) error

// WithNotifier sets the event sink (default: NoopNotifier).
func WithNotifier(n Notifier) Option {
	return func(s *Service) error {
		if n == nil {
			return ErrInvalidInput
		}
		s.notifier = n
		return nil
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) error {
		if o == nil {
			return ErrInvalidInput
		}
		s.observer = o
		return nil
	}
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return ErrInvalidInput
		}
		s.now = now
		return nil
	}
}

// WithCancelNotifications toggles the organizer notification on CancelJoin (default: on).
func WithCancelNotifications(enabled bool) Option {
	return func(s *Service) error {
		s.notifyOnCancel = enabled
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(store Store, profiles ProfileSource, opts ...Option) (*Service, error) {
	if store == nil || profiles == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:          store,
		profiles:       profiles,
		notifier:       NoopNotifier{},
		observer:       NoopObserver{},
		log:            slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
		notifyOnCancel: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RequestJoinInput describes a join request.
type RequestJoinInput struct {
	ActivityID string
	UserID     string
	Message    string
}

// DecisionInput describes an organizer approve/reject.
type DecisionInput struct {
	ActivityID    string
	ParticipantID string
	OrganizerID   string
	Response      string
}

// CancelInput describes a requester withdrawal.
type CancelInput struct {
	ActivityID    string
	ParticipantID string
	UserID        string
}

// CanJoin evaluates eligibility without mutating anything.
func (s *Service) CanJoin(ctx context.Context, activityID, userID string) (eligibility.Decision, error) {
	const op = "participation.CanJoin"

	activityID, userID = strings.TrimSpace(activityID), strings.TrimSpace(userID)
	if activityID == "" || userID == "" {
		return eligibility.Decision{}, opErr(op, ErrInvalidInput, "activity_id and user_id are required")
	}

	d, _, _, err := s.evaluate(ctx, op, activityID, userID)
	return d, err
}

// RequestJoin creates a pending participant when the user is eligible.
// A denial is returned as DeniedError (errors.Is(err, ErrNotEligible)).
func (s *Service) RequestJoin(ctx context.Context, in RequestJoinInput) (activity.Participant, error) {
	const op = "participation.RequestJoin"

	in.ActivityID, in.UserID = strings.TrimSpace(in.ActivityID), strings.TrimSpace(in.UserID)
	in.Message = strings.TrimSpace(in.Message)
	if in.ActivityID == "" || in.UserID == "" {
		return activity.Participant{}, opErr(op, ErrInvalidInput, "activity_id and user_id are required")
	}
	if len([]rune(in.Message)) > maxMessageChars {
		return activity.Participant{}, opErr(op, ErrInvalidInput, "message too long")
	}

	d, act, profile, err := s.evaluate(ctx, op, in.ActivityID, in.UserID)
	if err != nil {
		s.observer.ObserveJoin("error")
		return activity.Participant{}, err
	}
	if !d.Allowed {
		s.observer.ObserveJoin("denied")
		s.log.Debug("participation.join.denied", "activity_id", in.ActivityID, "user_id", in.UserID, "code", string(d.Code))
		return activity.Participant{}, DeniedError{Decision: d}
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return activity.Participant{}, err
	}

	p, err := s.store.InsertPending(ctx, activity.Participant{
		ID:               id,
		ActivityID:       in.ActivityID,
		UserID:           in.UserID,
		Status:           activity.StatusPending,
		RequestedMessage: in.Message,
		RequestedAt:      now,
		StatusUpdatedAt:  now,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race against another request for the same pair.
			s.observer.ObserveJoin("denied")
			return activity.Participant{}, s.conflictDenial(ctx, op, in.ActivityID, in.UserID)
		}
		s.observer.ObserveJoin("error")
		s.log.Error("participation.join.store_fail", "activity_id", in.ActivityID, "user_id", in.UserID, "err", err)
		return activity.Participant{}, wrapStoreErr(op, err)
	}

	s.observer.ObserveJoin("created")
	s.log.Info("participation.join.created", "activity_id", p.ActivityID, "participant_id", p.ID, "user_id", p.UserID)

	s.notify(ctx, notify.Event{
		Kind:          notify.KindActivityJoinRequest,
		RecipientID:   act.OrganizerID,
		ActorID:       in.UserID,
		ActorName:     profile.Name(),
		ActivityID:    act.ID,
		ActivityTitle: act.Title,
		ParticipantID: p.ID,
	})
	return p, nil
}

// Approve admits a pending participant if capacity allows.
// Losing the capacity race returns ErrCapacityExceeded and leaves the row pending.
func (s *Service) Approve(ctx context.Context, in DecisionInput) (activity.Participant, error) {
	const op = "participation.Approve"

	act, err := s.authorizeOrganizer(ctx, op, &in)
	if err != nil {
		s.observer.ObserveTransition("approve", resultOf(err))
		return activity.Participant{}, err
	}

	p, err := s.store.Approve(ctx, TransitionRecord{
		ActivityID:    in.ActivityID,
		ParticipantID: in.ParticipantID,
		Response:      in.Response,
		Now:           s.now(),
	})
	if err != nil {
		err = wrapStoreErr(op, err)
		s.observer.ObserveTransition("approve", resultOf(err))
		s.logTransitionErr("approve", in.ActivityID, in.ParticipantID, err)
		return activity.Participant{}, err
	}

	s.observer.ObserveTransition("approve", "ok")
	s.log.Info("participation.approve.ok", "activity_id", p.ActivityID, "participant_id", p.ID, "user_id", p.UserID)

	s.notify(ctx, notify.Event{
		Kind:          notify.KindActivityJoinApproved,
		RecipientID:   p.UserID,
		ActorID:       act.OrganizerID,
		ActorName:     s.displayName(ctx, act.OrganizerID),
		ActivityID:    act.ID,
		ActivityTitle: act.Title,
		ParticipantID: p.ID,
	})
	return p, nil
}

// Reject declines a pending participant.
func (s *Service) Reject(ctx context.Context, in DecisionInput) (activity.Participant, error) {
	const op = "participation.Reject"

	act, err := s.authorizeOrganizer(ctx, op, &in)
	if err != nil {
		s.observer.ObserveTransition("reject", resultOf(err))
		return activity.Participant{}, err
	}

	p, err := s.store.Reject(ctx, TransitionRecord{
		ActivityID:    in.ActivityID,
		ParticipantID: in.ParticipantID,
		Response:      in.Response,
		Now:           s.now(),
	})
	if err != nil {
		err = wrapStoreErr(op, err)
		s.observer.ObserveTransition("reject", resultOf(err))
		s.logTransitionErr("reject", in.ActivityID, in.ParticipantID, err)
		return activity.Participant{}, err
	}

	s.observer.ObserveTransition("reject", "ok")
	s.log.Info("participation.reject.ok", "activity_id", p.ActivityID, "participant_id", p.ID, "user_id", p.UserID)

	s.notify(ctx, notify.Event{
		Kind:          notify.KindActivityJoinRejected,
		RecipientID:   p.UserID,
		ActorID:       act.OrganizerID,
		ActorName:     s.displayName(ctx, act.OrganizerID),
		ActivityID:    act.ID,
		ActivityTitle: act.Title,
		ParticipantID: p.ID,
	})
	return p, nil
}

// CancelJoin withdraws the caller's own pending or approved participation.
// The row is removed so the user may submit a fresh request later; an approved seat is freed.
// The returned snapshot carries StatusCancelled.
func (s *Service) CancelJoin(ctx context.Context, in CancelInput) (activity.Participant, error) {
	const op = "participation.CancelJoin"

	in.ActivityID = strings.TrimSpace(in.ActivityID)
	in.ParticipantID = strings.TrimSpace(in.ParticipantID)
	in.UserID = strings.TrimSpace(in.UserID)
	if in.ActivityID == "" || in.ParticipantID == "" || in.UserID == "" {
		s.observer.ObserveTransition("cancel", "invalid_input")
		return activity.Participant{}, opErr(op, ErrInvalidInput, "activity_id, participant_id and user_id are required")
	}

	current, err := s.store.GetParticipant(ctx, in.ActivityID, in.ParticipantID)
	if err != nil {
		err = wrapStoreErr(op, err)
		s.observer.ObserveTransition("cancel", resultOf(err))
		return activity.Participant{}, err
	}
	if current.UserID != in.UserID {
		s.observer.ObserveTransition("cancel", "forbidden")
		return activity.Participant{}, opErr(op, ErrForbidden, "only the requester may cancel")
	}
	if !activity.CanTransition(current.Status, activity.StatusCancelled) {
		s.observer.ObserveTransition("cancel", "invalid_state")
		return activity.Participant{}, opErr(op, ErrInvalidState, "cannot cancel a "+string(current.Status)+" request")
	}

	now := s.now()
	prev, err := s.store.Cancel(ctx, TransitionRecord{
		ActivityID:    in.ActivityID,
		ParticipantID: in.ParticipantID,
		UserID:        in.UserID,
		Now:           now,
	})
	if err != nil {
		err = wrapStoreErr(op, err)
		s.observer.ObserveTransition("cancel", resultOf(err))
		s.logTransitionErr("cancel", in.ActivityID, in.ParticipantID, err)
		return activity.Participant{}, err
	}

	s.observer.ObserveTransition("cancel", "ok")
	s.log.Info("participation.cancel.ok",
		"activity_id", prev.ActivityID,
		"participant_id", prev.ID,
		"user_id", prev.UserID,
		"from", string(prev.Status),
	)

	out := prev
	out.Status = activity.StatusCancelled
	out.StatusUpdatedAt = now

	if s.notifyOnCancel {
		act, err := s.store.GetActivity(context.WithoutCancel(ctx), in.ActivityID)
		if err != nil {
			s.log.Warn("participation.cancel.notify_skip", "activity_id", in.ActivityID, "err", err)
			return out, nil
		}
		s.notify(ctx, notify.Event{
			Kind:          notify.KindActivityParticipantLeft,
			RecipientID:   act.OrganizerID,
			ActorID:       in.UserID,
			ActorName:     s.displayName(ctx, in.UserID),
			ActivityID:    act.ID,
			ActivityTitle: act.Title,
			ParticipantID: prev.ID,
		})
	}
	return out, nil
}

// ListParticipants returns every row to the organizer and only approved rows to anyone else.
func (s *Service) ListParticipants(ctx context.Context, activityID, viewerID string) ([]activity.Participant, error) {
	const op = "participation.ListParticipants"

	activityID, viewerID = strings.TrimSpace(activityID), strings.TrimSpace(viewerID)
	if activityID == "" {
		return nil, opErr(op, ErrInvalidInput, "activity_id is required")
	}

	act, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}

	var list []activity.Participant
	if act.IsOrganizer(viewerID) {
		list, err = s.store.ListParticipants(ctx, activityID)
	} else {
		list, err = s.store.ListParticipants(ctx, activityID, activity.StatusApproved)
	}
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}
	return list, nil
}

// ---- internals ----

func (s *Service) evaluate(ctx context.Context, op, activityID, userID string) (eligibility.Decision, activity.Activity, directory.Profile, error) {
	act, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return eligibility.Decision{}, activity.Activity{}, directory.Profile{}, wrapStoreErr(op, err)
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return eligibility.Decision{}, activity.Activity{}, directory.Profile{}, opErr(op, ErrNotFound, "user profile")
		}
		return eligibility.Decision{}, activity.Activity{}, directory.Profile{}, wrapStoreErr(op, err)
	}

	existing, err := s.store.FindParticipant(ctx, activityID, userID)
	if err != nil {
		return eligibility.Decision{}, activity.Activity{}, directory.Profile{}, wrapStoreErr(op, err)
	}

	approved, err := s.store.CountApproved(ctx, activityID)
	if err != nil {
		return eligibility.Decision{}, activity.Activity{}, directory.Profile{}, wrapStoreErr(op, err)
	}

	now := s.now()
	candidate := candidateOf(profile, now)
	candidate.UserID = userID
	d := eligibility.Evaluate(eligibility.Input{
		Activity:      act,
		Candidate:     candidate,
		Existing:      existing,
		ApprovedCount: approved,
		Now:           now,
	})
	return d, act, profile, nil
}

func (s *Service) conflictDenial(ctx context.Context, op, activityID, userID string) error {
	existing, err := s.store.FindParticipant(ctx, activityID, userID)
	if err != nil {
		return wrapStoreErr(op, err)
	}
	if existing == nil {
		return opErr(op, ErrConflict, "concurrent join request")
	}
	return DeniedError{Decision: eligibility.ExistingDenial(existing.Status)}
}

func (s *Service) authorizeOrganizer(ctx context.Context, op string, in *DecisionInput) (activity.Activity, error) {
	in.ActivityID = strings.TrimSpace(in.ActivityID)
	in.ParticipantID = strings.TrimSpace(in.ParticipantID)
	in.OrganizerID = strings.TrimSpace(in.OrganizerID)
	in.Response = strings.TrimSpace(in.Response)
	if in.ActivityID == "" || in.ParticipantID == "" || in.OrganizerID == "" {
		return activity.Activity{}, opErr(op, ErrInvalidInput, "activity_id, participant_id and organizer_id are required")
	}
	if len([]rune(in.Response)) > maxResponseChars {
		return activity.Activity{}, opErr(op, ErrInvalidInput, "response too long")
	}

	act, err := s.store.GetActivity(ctx, in.ActivityID)
	if err != nil {
		return activity.Activity{}, wrapStoreErr(op, err)
	}
	if !act.IsOrganizer(in.OrganizerID) {
		return activity.Activity{}, opErr(op, ErrForbidden, "only the organizer may decide on requests")
	}
	return act, nil
}

// notify runs after the transition is durable, so it must outlive the caller's context.
func (s *Service) notify(ctx context.Context, ev notify.Event) {
	if _, err := s.notifier.Dispatch(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Error("participation.notify.fail",
			"kind", string(ev.Kind),
			"recipient_id", ev.RecipientID,
			"activity_id", ev.ActivityID,
			"err", err,
		)
	}
}

func (s *Service) displayName(ctx context.Context, userID string) string {
	p, err := s.profiles.GetProfile(context.WithoutCancel(ctx), userID)
	if err != nil {
		return userID
	}
	return p.Name()
}

func (s *Service) logTransitionErr(op, activityID, participantID string, err error) {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		s.log.Info("participation."+op+".full", "activity_id", activityID, "participant_id", participantID)
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		s.log.Info("participation."+op+".rejected", "activity_id", activityID, "participant_id", participantID, "err", err)
	default:
		s.log.Error("participation."+op+".fail", "activity_id", activityID, "participant_id", participantID, "err", err)
	}
}

func candidateOf(p directory.Profile, now time.Time) eligibility.Candidate {
	return eligibility.Candidate{
		UserID:    p.ID,
		Age:       p.Age(now),
		Gender:    p.Gender,
		Languages: p.LanguageCodes(),
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCapacityExceeded):
		return "full"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}
