package participation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"acteezer/cmd/internal/activity"
	"acteezer/cmd/internal/directory"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when ACTEEZER_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_JoinApproveCancel(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	service, store := mustNewPostgresService(t, pool, schema)
	ctx := context.Background()

	organizer := newTestULID(t)
	requester := newTestULID(t)
	mustInsertUser(t, pool, schema, organizer)
	mustInsertUser(t, pool, schema, requester)
	activityID := mustInsertActivity(t, pool, schema, organizer, 2)

	p, err := service.RequestJoin(ctx, RequestJoinInput{ActivityID: activityID, UserID: requester, Message: "count me in"})
	if err != nil {
		t.Fatalf("request join: %v", err)
	}
	if p.Status != activity.StatusPending {
		t.Fatalf("expected pending, got %s", p.Status)
	}

	if _, err := service.RequestJoin(ctx, RequestJoinInput{ActivityID: activityID, UserID: requester}); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected duplicate request to be denied, got %v", err)
	}
	if _, err := store.InsertPending(ctx, activity.Participant{ID: newTestULID(t), ActivityID: activityID, UserID: requester}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected unique violation as ErrConflict, got %v", err)
	}

	approved, err := service.Approve(ctx, DecisionInput{ActivityID: activityID, ParticipantID: p.ID, OrganizerID: organizer, Response: "see you"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != activity.StatusApproved || approved.OrganizerResponse != "see you" {
		t.Fatalf("unexpected approved row: %+v", approved)
	}
	if _, err := service.Approve(ctx, DecisionInput{ActivityID: activityID, ParticipantID: p.ID, OrganizerID: organizer}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on re-approve, got %v", err)
	}

	if _, err := service.CancelJoin(ctx, CancelInput{ActivityID: activityID, ParticipantID: p.ID, UserID: organizer}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := service.CancelJoin(ctx, CancelInput{ActivityID: activityID, ParticipantID: p.ID, UserID: requester}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	n, err := store.CountApproved(ctx, activityID)
	if err != nil || n != 0 {
		t.Fatalf("expected seat freed, got %d err=%v", n, err)
	}
	existing, err := store.FindParticipant(ctx, activityID, requester)
	if err != nil || existing != nil {
		t.Fatalf("expected row removed, got %+v err=%v", existing, err)
	}
}

func TestPostgresStore_ConcurrentApprove_MaxParticipants(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	service, store := mustNewPostgresService(t, pool, schema)
	ctx := context.Background()

	organizer := newTestULID(t)
	mustInsertUser(t, pool, schema, organizer)
	const capacity = 2
	activityID := mustInsertActivity(t, pool, schema, organizer, capacity)

	const attempts = 6
	pending := make([]activity.Participant, 0, attempts)
	for i := 0; i < attempts; i++ {
		userID := newTestULID(t)
		mustInsertUser(t, pool, schema, userID)
		p, err := service.RequestJoin(ctx, RequestJoinInput{ActivityID: activityID, UserID: userID})
		if err != nil {
			t.Fatalf("request join: %v", err)
		}
		pending = append(pending, p)
	}

	var wg sync.WaitGroup
	wg.Add(attempts)
	errs := make(chan error, attempts)
	for _, p := range pending {
		go func(p activity.Participant) {
			defer wg.Done()
			_, err := service.Approve(ctx, DecisionInput{ActivityID: activityID, ParticipantID: p.ID, OrganizerID: organizer})
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrCapacityExceeded) {
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if success != capacity {
		t.Fatalf("expected %d successes, got %d", capacity, success)
	}

	n, err := store.CountApproved(ctx, activityID)
	if err != nil || n != capacity {
		t.Fatalf("approved=%d err=%v", n, err)
	}
}

func TestPostgresStore_GetActivityEndsAt(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	_, store := mustNewPostgresService(t, pool, schema)
	ctx := context.Background()

	organizer := newTestULID(t)
	mustInsertUser(t, pool, schema, organizer)
	openEnded := mustInsertActivity(t, pool, schema, organizer, 3)
	bounded := mustInsertActivity(t, pool, schema, organizer, 3)

	endsAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	if _, err := pool.Exec(ctx, `UPDATE `+pgIdent(schema, "activities")+` SET ends_at = $2 WHERE id = $1`, bounded, endsAt); err != nil {
		t.Fatalf("set ends_at: %v", err)
	}

	cases := []struct {
		name      string
		id        string
		wantEnds  time.Time
		wantEnded bool
	}{
		{name: "null ends_at", id: openEnded},
		{name: "past ends_at", id: bounded, wantEnds: endsAt, wantEnded: true},
	}
	for _, tc := range cases {
		a, err := store.GetActivity(ctx, tc.id)
		if err != nil {
			t.Fatalf("%s: get activity: %v", tc.name, err)
		}
		if !a.EndsAt.Equal(tc.wantEnds) {
			t.Fatalf("%s: ends_at=%v want=%v", tc.name, a.EndsAt, tc.wantEnds)
		}
		if got := a.Ended(time.Now()); got != tc.wantEnded {
			t.Fatalf("%s: ended=%v want=%v", tc.name, got, tc.wantEnded)
		}
	}
}

func TestPostgresStore_ListParticipantsFilter(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplySchema(t, pool, schema)

	service, _ := mustNewPostgresService(t, pool, schema)
	ctx := context.Background()

	organizer := newTestULID(t)
	mustInsertUser(t, pool, schema, organizer)
	activityID := mustInsertActivity(t, pool, schema, organizer, 5)

	var first activity.Participant
	for i := 0; i < 3; i++ {
		userID := newTestULID(t)
		mustInsertUser(t, pool, schema, userID)
		p, err := service.RequestJoin(ctx, RequestJoinInput{ActivityID: activityID, UserID: userID})
		if err != nil {
			t.Fatalf("request join: %v", err)
		}
		if i == 0 {
			first = p
		}
	}
	if _, err := service.Approve(ctx, DecisionInput{ActivityID: activityID, ParticipantID: first.ID, OrganizerID: organizer}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	all, err := service.ListParticipants(ctx, activityID, organizer)
	if err != nil || len(all) != 3 {
		t.Fatalf("organizer list: got %d err=%v", len(all), err)
	}
	public, err := service.ListParticipants(ctx, activityID, "")
	if err != nil || len(public) != 1 || public[0].ID != first.ID {
		t.Fatalf("public list: got %+v err=%v", public, err)
	}
}

// ---- helpers ----

func mustNewPostgresService(t *testing.T, pool *pgxpool.Pool, schema string) (*Service, *PostgresStore) {
	t.Helper()

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	profiles, err := directory.NewPostgresStore(pool, directory.WithSchema(schema))
	if err != nil {
		t.Fatalf("new profile store: %v", err)
	}
	service, err := NewService(store, profiles, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, store
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("ACTEEZER_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: ACTEEZER_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse ACTEEZER_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (ACTEEZER_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "acteezer_participation_it_" + strings.ToLower(newTestULID(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	languages := pgIdent(schema, "languages")
	userLanguages := pgIdent(schema, "user_languages")
	activities := pgIdent(schema, "activities")
	required := pgIdent(schema, "activity_required_languages")
	participants := pgIdent(schema, "participants")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE %[1]s (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL DEFAULT '',
  birthday DATE NULL,
  gender TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %[2]s (
  code TEXT PRIMARY KEY,
  name TEXT NOT NULL
);

CREATE TABLE %[3]s (
  user_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  language_code TEXT NOT NULL REFERENCES %[2]s(code),
  PRIMARY KEY (user_id, language_code)
);

CREATE TABLE %[4]s (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  organizer_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  starts_at TIMESTAMPTZ NOT NULL,
  ends_at TIMESTAMPTZ NULL,
  max_participants INT NOT NULL,
  min_participants INT NULL,
  min_age INT NULL,
  max_age INT NULL,
  allowed_genders TEXT[] NOT NULL DEFAULT '{}',
  CONSTRAINT chk_activities_max_participants CHECK (max_participants >= 1)
);

CREATE TABLE %[5]s (
  activity_id TEXT NOT NULL REFERENCES %[4]s(id) ON DELETE CASCADE,
  language_code TEXT NOT NULL REFERENCES %[2]s(code),
  PRIMARY KEY (activity_id, language_code)
);

CREATE TABLE %[6]s (
  id TEXT PRIMARY KEY,
  activity_id TEXT NOT NULL REFERENCES %[4]s(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  requested_message TEXT NOT NULL DEFAULT '',
  organizer_response TEXT NOT NULL DEFAULT '',
  requested_at TIMESTAMPTZ NOT NULL,
  status_updated_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT uq_participants_activity_user UNIQUE (activity_id, user_id),
  CONSTRAINT chk_participants_status CHECK (status IN ('pending', 'approved', 'rejected'))
);
`, users, languages, userLanguages, activities, required, participants)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustInsertUser(t *testing.T, pool *pgxpool.Pool, schema, userID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	users := pgIdent(schema, "users")
	if _, err := pool.Exec(ctx, `INSERT INTO `+users+` (id, display_name) VALUES ($1, $2)`, userID, "user "+userID[:6]); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func mustInsertActivity(t *testing.T, pool *pgxpool.Pool, schema, organizerID string, maxParticipants int) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id := newTestULID(t)
	activities := pgIdent(schema, "activities")
	_, err := pool.Exec(ctx,
		`INSERT INTO `+activities+` (id, title, organizer_id, starts_at, max_participants)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, "Evening run", organizerID, time.Now().UTC().Add(48*time.Hour), maxParticipants,
	)
	if err != nil {
		t.Fatalf("insert activity: %v", err)
	}
	return id
}

func newTestULID(t *testing.T) string {
	t.Helper()
	id := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), ulid.Monotonic(rand.Reader, 0)).String()
	if len(id) != 26 {
		t.Fatalf("expected ULID length 26, got %d", len(id))
	}
	return id
}
