package participation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"acteezer/cmd/internal/activity"
	"acteezer/cmd/internal/directory"
	"acteezer/cmd/internal/eligibility"
	"acteezer/cmd/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (n *recordingNotifier) Dispatch(_ context.Context, ev notify.Event) (notify.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	if n.err != nil {
		return notify.Record{}, n.err
	}
	return notify.Record{ID: fmt.Sprintf("n-%d", len(n.events)), RecipientID: ev.RecipientID, Kind: ev.Kind}, nil
}

func (n *recordingNotifier) snapshot() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

type fixture struct {
	store    *MemoryStore
	profiles *directory.MemoryStore
	notifier *recordingNotifier
	service  *Service
	now      time.Time
}

func newFixture(t *testing.T, act activity.Activity, users ...directory.Profile) *fixture {
	t.Helper()

	f := &fixture{
		store:    NewMemoryStore(),
		profiles: directory.NewMemoryStore(),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := f.store.PutActivity(act); err != nil {
		t.Fatalf("put activity: %v", err)
	}
	if err := f.profiles.Put(directory.Profile{ID: act.OrganizerID, DisplayName: "Organizer"}); err != nil {
		t.Fatalf("put organizer: %v", err)
	}
	for _, u := range users {
		if err := f.profiles.Put(u); err != nil {
			t.Fatalf("put profile: %v", err)
		}
	}

	svc, err := NewService(f.store, f.profiles,
		WithNotifier(f.notifier),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return f.now }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.service = svc
	return f
}

func testActivity(capacity int) activity.Activity {
	return activity.Activity{
		ID:              "act-1",
		Title:           "Board games",
		OrganizerID:     "org",
		StartsAt:        time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC),
		MaxParticipants: capacity,
	}
}

func user(id string) directory.Profile {
	return directory.Profile{ID: id, DisplayName: "User " + id}
}

func (f *fixture) mustJoin(t *testing.T, userID string) activity.Participant {
	t.Helper()
	p, err := f.service.RequestJoin(context.Background(), RequestJoinInput{ActivityID: "act-1", UserID: userID, Message: "hi"})
	if err != nil {
		t.Fatalf("request join %s: %v", userID, err)
	}
	return p
}

func TestService_JoinApproveFillsCapacity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(1), user("u1"), user("u2"))
	ctx := context.Background()

	p1 := f.mustJoin(t, "u1")
	if p1.Status != activity.StatusPending || p1.RequestedMessage != "hi" {
		t.Fatalf("unexpected participant: %+v", p1)
	}

	approved, err := f.service.Approve(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p1.ID, OrganizerID: "org", Response: "welcome"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != activity.StatusApproved || approved.OrganizerResponse != "welcome" {
		t.Fatalf("unexpected approved row: %+v", approved)
	}

	d, err := f.service.CanJoin(ctx, "act-1", "u2")
	if err != nil {
		t.Fatalf("can join: %v", err)
	}
	if d.Allowed || d.Code != eligibility.CodeActivityFull {
		t.Fatalf("expected activity_full, got %+v", d)
	}

	_, err = f.service.RequestJoin(ctx, RequestJoinInput{ActivityID: "act-1", UserID: "u2"})
	if dec, ok := AsDenied(err); !ok || dec.Code != eligibility.CodeActivityFull {
		t.Fatalf("expected denied activity_full, got %v", err)
	}

	events := f.notifier.snapshot()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != notify.KindActivityJoinRequest || events[0].RecipientID != "org" || events[0].ActorName != "User u1" {
		t.Fatalf("unexpected join event: %+v", events[0])
	}
	if events[1].Kind != notify.KindActivityJoinApproved || events[1].RecipientID != "u1" || events[1].ActorName != "Organizer" {
		t.Fatalf("unexpected approve event: %+v", events[1])
	}
}

func TestService_ConcurrentApprovalsRespectCapacity(t *testing.T) {
	t.Parallel()

	const (
		capacity = 3
		requests = 10
	)
	var users []directory.Profile
	for i := 0; i < requests; i++ {
		users = append(users, user(fmt.Sprintf("u%d", i)))
	}
	f := newFixture(t, testActivity(capacity), users...)

	pending := make([]activity.Participant, 0, requests)
	for _, u := range users {
		pending = append(pending, f.mustJoin(t, u.ID))
	}

	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for _, p := range pending {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Approve(context.Background(), DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "org"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != capacity {
		t.Fatalf("expected %d approvals, got %d", capacity, success)
	}

	n, err := f.store.CountApproved(context.Background(), "act-1")
	if err != nil || n != capacity {
		t.Fatalf("approved count=%d err=%v", n, err)
	}
	list, err := f.store.ListParticipants(context.Background(), "act-1", activity.StatusPending)
	if err != nil || len(list) != requests-capacity {
		t.Fatalf("losers must stay pending: got %d err=%v", len(list), err)
	}
}

func TestService_ConcurrentDuplicateJoinCreatesOneRow(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(5), user("u1"))

	const attempts = 8
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.RequestJoin(context.Background(), RequestJoinInput{ActivityID: "act-1", UserID: "u1"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		d, ok := AsDenied(err)
		if !ok || d.Code != eligibility.CodeRequestPending {
			t.Fatalf("expected request_pending denial, got %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one created request, got %d", success)
	}
	list, _ := f.store.ListParticipants(context.Background(), "act-1")
	if len(list) != 1 {
		t.Fatalf("expected one row, got %d", len(list))
	}
}

func TestService_ExistingRowDenials(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(5), user("u1"), user("u2"))
	ctx := context.Background()

	p1 := f.mustJoin(t, "u1")
	_, err := f.service.RequestJoin(ctx, RequestJoinInput{ActivityID: "act-1", UserID: "u1"})
	if d, ok := AsDenied(err); !ok || d.Code != eligibility.CodeRequestPending {
		t.Fatalf("expected request_pending, got %v", err)
	}
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("denial must match ErrNotEligible")
	}

	if _, err := f.service.Approve(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p1.ID, OrganizerID: "org"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err = f.service.RequestJoin(ctx, RequestJoinInput{ActivityID: "act-1", UserID: "u1"})
	if d, ok := AsDenied(err); !ok || d.Code != eligibility.CodeAlreadyJoined {
		t.Fatalf("expected already_joined, got %v", err)
	}

	p2 := f.mustJoin(t, "u2")
	if _, err := f.service.Reject(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p2.ID, OrganizerID: "org", Response: "sorry"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	_, err = f.service.RequestJoin(ctx, RequestJoinInput{ActivityID: "act-1", UserID: "u2"})
	if d, ok := AsDenied(err); !ok || d.Code != eligibility.CodeRequestRejected {
		t.Fatalf("expected request_rejected, got %v", err)
	}

	_, err = f.service.RequestJoin(ctx, RequestJoinInput{ActivityID: "act-1", UserID: "org"})
	if d, ok := AsDenied(err); !ok || d.Code != eligibility.CodeOwnActivity {
		t.Fatalf("expected own_activity, got %v", err)
	}
}

func TestService_OrganizerOnlyDecisions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(5), user("u1"), user("u2"))
	ctx := context.Background()
	p := f.mustJoin(t, "u1")

	for _, call := range []func(context.Context, DecisionInput) (activity.Participant, error){f.service.Approve, f.service.Reject} {
		_, err := call(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "u2"})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	}

	got, err := f.store.GetParticipant(ctx, "act-1", p.ID)
	if err != nil || got.Status != activity.StatusPending {
		t.Fatalf("forbidden calls must not mutate: %+v err=%v", got, err)
	}
}

func TestService_InvalidTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(5), user("u1"))
	ctx := context.Background()
	p := f.mustJoin(t, "u1")

	if _, err := f.service.Reject(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "org"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := f.service.Approve(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "org"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("approve rejected: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.service.Reject(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "org"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reject twice: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.service.CancelJoin(ctx, CancelInput{ActivityID: "act-1", ParticipantID: p.ID, UserID: "u1"}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cancel rejected: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.service.Approve(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: "missing", OrganizerID: "org"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_CancelFreesSeatAndNotifiesOrganizer(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(1), user("u1"), user("u2"))
	ctx := context.Background()

	p := f.mustJoin(t, "u1")
	if _, err := f.service.Approve(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "org"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := f.service.CancelJoin(ctx, CancelInput{ActivityID: "act-1", ParticipantID: p.ID, UserID: "u2"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cancel by other user: expected ErrForbidden, got %v", err)
	}

	out, err := f.service.CancelJoin(ctx, CancelInput{ActivityID: "act-1", ParticipantID: p.ID, UserID: "u1"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Status != activity.StatusCancelled {
		t.Fatalf("expected cancelled snapshot, got %s", out.Status)
	}

	events := f.notifier.snapshot()
	last := events[len(events)-1]
	if last.Kind != notify.KindActivityParticipantLeft || last.RecipientID != "org" || last.ActorID != "u1" {
		t.Fatalf("unexpected cancel event: %+v", last)
	}

	// The seat is free and the user may ask again.
	if d, err := f.service.CanJoin(ctx, "act-1", "u2"); err != nil || !d.Allowed {
		t.Fatalf("expected u2 eligible after cancel, got %+v err=%v", d, err)
	}
	f.mustJoin(t, "u1")
}

func TestService_CancelNotificationsDisabled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(2), user("u1"))
	if err := WithCancelNotifications(false)(f.service); err != nil {
		t.Fatalf("option: %v", err)
	}
	p := f.mustJoin(t, "u1")
	if _, err := f.service.CancelJoin(context.Background(), CancelInput{ActivityID: "act-1", ParticipantID: p.ID, UserID: "u1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n := len(f.notifier.snapshot()); n != 1 {
		t.Fatalf("expected only the join event, got %d", n)
	}
}

func TestService_NotifierFailureDoesNotFailTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(2), user("u1"))
	f.notifier.err = errors.New("store down")

	p := f.mustJoin(t, "u1")
	if _, err := f.service.Approve(context.Background(), DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "org"}); err != nil {
		t.Fatalf("approve must succeed: %v", err)
	}
}

func TestService_ListVisibility(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(5), user("u1"), user("u2"), user("u3"))
	ctx := context.Background()

	p1 := f.mustJoin(t, "u1")
	f.mustJoin(t, "u2")
	if _, err := f.service.Approve(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p1.ID, OrganizerID: "org"}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	all, err := f.service.ListParticipants(ctx, "act-1", "org")
	if err != nil || len(all) != 2 {
		t.Fatalf("organizer sees all rows: got %d err=%v", len(all), err)
	}
	public, err := f.service.ListParticipants(ctx, "act-1", "u3")
	if err != nil || len(public) != 1 || public[0].ID != p1.ID {
		t.Fatalf("others see approved only: got %+v err=%v", public, err)
	}
}

func TestService_AgeGate(t *testing.T) {
	t.Parallel()

	act := testActivity(5)
	minAge := 18
	act.Requirements.MinAge = &minAge

	adult := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	minor := time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, act,
		directory.Profile{ID: "adult", Birthday: &adult},
		directory.Profile{ID: "minor", Birthday: &minor},
		directory.Profile{ID: "nobday"},
	)
	ctx := context.Background()

	cases := []struct {
		user string
		want eligibility.Code
	}{
		{user: "adult", want: eligibility.CodeOK},
		{user: "minor", want: eligibility.CodeTooYoung},
		{user: "nobday", want: eligibility.CodeAgeUnknown},
	}
	for _, tc := range cases {
		d, err := f.service.CanJoin(ctx, "act-1", tc.user)
		if err != nil {
			t.Fatalf("can join %s: %v", tc.user, err)
		}
		if d.Code != tc.want || d.Allowed != (tc.want == eligibility.CodeOK) {
			t.Fatalf("%s: got %+v want %q", tc.user, d, tc.want)
		}
	}
}

func TestService_InputValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testActivity(5), user("u1"))
	ctx := context.Background()

	long := make([]rune, maxMessageChars+1)
	for i := range long {
		long[i] = 'x'
	}
	cases := []struct {
		name string
		in   RequestJoinInput
		want error
	}{
		{name: "missing user", in: RequestJoinInput{ActivityID: "act-1"}, want: ErrInvalidInput},
		{name: "message too long", in: RequestJoinInput{ActivityID: "act-1", UserID: "u1", Message: string(long)}, want: ErrInvalidInput},
		{name: "unknown activity", in: RequestJoinInput{ActivityID: "nope", UserID: "u1"}, want: ErrNotFound},
		{name: "unknown user", in: RequestJoinInput{ActivityID: "act-1", UserID: "ghost"}, want: ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := f.service.RequestJoin(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

// cancelAfterCommit cancels the caller's context as soon as a transition is durable,
// the way a client disconnect would.
type cancelAfterCommit struct {
	*MemoryStore
	cancel context.CancelFunc
}

func (s *cancelAfterCommit) Approve(ctx context.Context, rec TransitionRecord) (activity.Participant, error) {
	p, err := s.MemoryStore.Approve(ctx, rec)
	s.cancel()
	return p, err
}

func (s *cancelAfterCommit) Cancel(ctx context.Context, rec TransitionRecord) (activity.Participant, error) {
	p, err := s.MemoryStore.Cancel(ctx, rec)
	s.cancel()
	return p, err
}

func TestService_NotificationSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newFixture(t, testActivity(2), user("u1"))
	p := f.mustJoin(t, "u1")

	notes := notify.NewMemoryStore()
	dispatcher, err := notify.NewDispatcher(notes, notes, notes, notify.LogGateway{Log: discard}, notify.WithLogger(discard))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc, err := NewService(&cancelAfterCommit{MemoryStore: f.store, cancel: cancel}, f.profiles,
		WithNotifier(dispatcher),
		WithLogger(discard),
		WithClock(func() time.Time { return f.now }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	got, err := svc.Approve(ctx, DecisionInput{ActivityID: "act-1", ParticipantID: p.ID, OrganizerID: "org"})
	if err != nil || got.Status != activity.StatusApproved {
		t.Fatalf("approve: status=%v err=%v", got.Status, err)
	}
	recs, err := notes.List(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != notify.KindActivityJoinApproved {
		t.Fatalf("requester records=%+v, want one activity_join_approved", recs)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	svc2, err := NewService(&cancelAfterCommit{MemoryStore: f.store, cancel: cancel2}, f.profiles,
		WithNotifier(dispatcher),
		WithLogger(discard),
		WithClock(func() time.Time { return f.now }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc2.CancelJoin(ctx2, CancelInput{ActivityID: "act-1", ParticipantID: p.ID, UserID: "u1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	recs, err = notes.List(context.Background(), "org", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	left := 0
	for _, r := range recs {
		if r.Kind == notify.KindActivityParticipantLeft {
			left++
		}
	}
	if left != 1 {
		t.Fatalf("organizer participant_left records=%d, want 1", left)
	}
}
