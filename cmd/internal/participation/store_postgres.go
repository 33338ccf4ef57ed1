package participation

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"acteezer/cmd/internal/activity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const participantColumns = `id, activity_id, user_id, status, requested_message, organizer_response, requested_at, status_updated_at`

// PostgresStore persists participants in PostgreSQL.
//
// Concurrency model:
//   - (activity_id, user_id) is covered by uq_participants_activity_user, so duplicate
//     concurrent join requests fail at insert time.
//   - Approve locks the activity row (FOR UPDATE) and issues one conditional UPDATE guarded
//     by the approved count. Approvals on one activity are serialized; other activities
//     are unaffected.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "acteezer").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !isValidPGIdent(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "acteezer"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// GetActivity loads an activity with its requirement set.
func (s *PostgresStore) GetActivity(ctx context.Context, activityID string) (activity.Activity, error) {
	if s == nil || s.pool == nil {
		return activity.Activity{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return activity.Activity{}, err
	}

	activities := pgIdent(s.schema, "activities")
	required := pgIdent(s.schema, "activity_required_languages")
	languages := pgIdent(s.schema, "languages")

	var (
		a       activity.Activity
		endsAt  pgtype.Timestamptz
		genders []string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, organizer_id, starts_at, ends_at, max_participants, min_participants,
		        min_age, max_age, allowed_genders
		   FROM `+activities+`
		  WHERE id = $1`,
		activityID,
	).Scan(
		&a.ID,
		&a.Title,
		&a.OrganizerID,
		&a.StartsAt,
		&endsAt,
		&a.MaxParticipants,
		&a.MinParticipants,
		&a.Requirements.MinAge,
		&a.Requirements.MaxAge,
		&genders,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return activity.Activity{}, ErrNotFound
		}
		return activity.Activity{}, err
	}
	// NULL ends_at leaves EndsAt zero, which Ended treats as open-ended.
	if endsAt.Valid {
		a.EndsAt = endsAt.Time
	}
	for _, raw := range genders {
		if g, ok := activity.ParseGender(raw); ok {
			a.Requirements.AllowedGenders = append(a.Requirements.AllowedGenders, g)
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT l.code, l.name
		   FROM `+required+` r
		   JOIN `+languages+` l ON l.code = r.language_code
		  WHERE r.activity_id = $1
		  ORDER BY l.code`,
		activityID,
	)
	if err != nil {
		return activity.Activity{}, err
	}
	langs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (activity.Language, error) {
		var l activity.Language
		err := row.Scan(&l.Code, &l.Name)
		return l, err
	})
	if err != nil {
		return activity.Activity{}, err
	}
	a.Requirements.RequiredLanguages = langs
	return a, nil
}

// GetParticipant fetches one participant row of an activity.
func (s *PostgresStore) GetParticipant(ctx context.Context, activityID, participantID string) (activity.Participant, error) {
	if s == nil || s.pool == nil {
		return activity.Participant{}, ErrInvalidInput
	}
	participants := pgIdent(s.schema, "participants")
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+`
		   FROM `+participants+`
		  WHERE id = $1 AND activity_id = $2`,
		participantID, activityID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return activity.Participant{}, ErrNotFound
	}
	return p, err
}

// FindParticipant fetches the user's row for the activity, or nil.
func (s *PostgresStore) FindParticipant(ctx context.Context, activityID, userID string) (*activity.Participant, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	participants := pgIdent(s.schema, "participants")
	p, err := scanParticipant(s.pool.QueryRow(ctx,
		`SELECT `+participantColumns+`
		   FROM `+participants+`
		  WHERE activity_id = $1 AND user_id = $2`,
		activityID, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountApproved counts approved rows of the activity.
func (s *PostgresStore) CountApproved(ctx context.Context, activityID string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	participants := pgIdent(s.schema, "participants")
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+participants+` WHERE activity_id = $1 AND status = 'approved'`,
		activityID,
	).Scan(&n)
	return n, err
}

// ListParticipants lists rows ordered by request time. No statuses means all.
func (s *PostgresStore) ListParticipants(ctx context.Context, activityID string, statuses ...activity.Status) ([]activity.Participant, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	participants := pgIdent(s.schema, "participants")

	filter := make([]string, 0, len(statuses))
	for _, st := range statuses {
		filter = append(filter, string(st))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+participantColumns+`
		   FROM `+participants+`
		  WHERE activity_id = $1
		    AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		  ORDER BY requested_at, id`,
		activityID, filter,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (activity.Participant, error) {
		return scanParticipant(row)
	})
}

// InsertPending creates a pending row. A unique violation on the (activity, user) pair is ErrConflict.
func (s *PostgresStore) InsertPending(ctx context.Context, p activity.Participant) (activity.Participant, error) {
	if s == nil || s.pool == nil {
		return activity.Participant{}, ErrInvalidInput
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.ActivityID) == "" {
		return activity.Participant{}, ErrInvalidInput
	}
	participants := pgIdent(s.schema, "participants")

	out, err := scanParticipant(s.pool.QueryRow(ctx,
		`INSERT INTO `+participants+` (`+participantColumns+`)
		 VALUES ($1, $2, $3, 'pending', $4, '', $5, $5)
		 RETURNING `+participantColumns,
		p.ID, p.ActivityID, p.UserID, p.RequestedMessage, nowOr(p.RequestedAt),
	))
	if err != nil {
		switch {
		case pgIsUniqueViolation(err):
			return activity.Participant{}, ErrConflict
		case pgIsForeignKeyViolation(err):
			return activity.Participant{}, ErrNotFound
		}
		return activity.Participant{}, err
	}
	return out, nil
}

// Approve performs the capacity compare-and-swap inside one transaction.
func (s *PostgresStore) Approve(ctx context.Context, in TransitionRecord) (activity.Participant, error) {
	if s == nil || s.pool == nil {
		return activity.Participant{}, ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return activity.Participant{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	activities := pgIdent(s.schema, "activities")
	participants := pgIdent(s.schema, "participants")

	var maxParticipants int
	err = tx.QueryRow(ctx,
		`SELECT max_participants FROM `+activities+` WHERE id = $1 FOR UPDATE`,
		in.ActivityID,
	).Scan(&maxParticipants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return activity.Participant{}, ErrNotFound
		}
		return activity.Participant{}, err
	}

	out, err := scanParticipant(tx.QueryRow(ctx,
		`UPDATE `+participants+`
		    SET status = 'approved',
		        organizer_response = $3,
		        status_updated_at = $4
		  WHERE id = $1
		    AND activity_id = $2
		    AND status = 'pending'
		    AND (SELECT count(*) FROM `+participants+`
		          WHERE activity_id = $2 AND status = 'approved') < $5
		RETURNING `+participantColumns,
		in.ParticipantID, in.ActivityID, in.Response, nowOr(in.Now), maxParticipants,
	))
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return activity.Participant{}, err
		}
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return activity.Participant{}, err
	}

	// Distinguish not-found vs invalid-state vs full.
	status, err := participantStatusTx(ctx, tx, participants, in)
	if err != nil {
		return activity.Participant{}, err
	}
	if status != activity.StatusPending {
		return activity.Participant{}, ErrInvalidState
	}
	return activity.Participant{}, ErrCapacityExceeded
}

// Reject moves pending -> rejected.
func (s *PostgresStore) Reject(ctx context.Context, in TransitionRecord) (activity.Participant, error) {
	if s == nil || s.pool == nil {
		return activity.Participant{}, ErrInvalidInput
	}
	participants := pgIdent(s.schema, "participants")

	out, err := scanParticipant(s.pool.QueryRow(ctx,
		`UPDATE `+participants+`
		    SET status = 'rejected',
		        organizer_response = $3,
		        status_updated_at = $4
		  WHERE id = $1
		    AND activity_id = $2
		    AND status = 'pending'
		RETURNING `+participantColumns,
		in.ParticipantID, in.ActivityID, in.Response, nowOr(in.Now),
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return activity.Participant{}, err
	}
	if _, err := participantStatusTx(ctx, s.pool, participants, in); err != nil {
		return activity.Participant{}, err
	}
	return activity.Participant{}, ErrInvalidState
}

// Cancel deletes a pending or approved row owned by in.UserID.
func (s *PostgresStore) Cancel(ctx context.Context, in TransitionRecord) (activity.Participant, error) {
	if s == nil || s.pool == nil {
		return activity.Participant{}, ErrInvalidInput
	}
	participants := pgIdent(s.schema, "participants")

	out, err := scanParticipant(s.pool.QueryRow(ctx,
		`DELETE FROM `+participants+`
		  WHERE id = $1
		    AND activity_id = $2
		    AND ($3 = '' OR user_id = $3)
		    AND status IN ('pending', 'approved')
		RETURNING `+participantColumns,
		in.ParticipantID, in.ActivityID, in.UserID,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return activity.Participant{}, err
	}

	p, err := s.GetParticipant(ctx, in.ActivityID, in.ParticipantID)
	if err != nil {
		return activity.Participant{}, err
	}
	if in.UserID != "" && p.UserID != in.UserID {
		return activity.Participant{}, ErrForbidden
	}
	return activity.Participant{}, ErrInvalidState
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func participantStatusTx(ctx context.Context, q queryRower, participants string, in TransitionRecord) (activity.Status, error) {
	var status string
	err := q.QueryRow(ctx,
		`SELECT status FROM `+participants+` WHERE id = $1 AND activity_id = $2`,
		in.ParticipantID, in.ActivityID,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return activity.Status(status), nil
}

func scanParticipant(row pgx.Row) (activity.Participant, error) {
	var (
		p      activity.Participant
		status string
	)
	err := row.Scan(
		&p.ID,
		&p.ActivityID,
		&p.UserID,
		&status,
		&p.RequestedMessage,
		&p.OrganizerResponse,
		&p.RequestedAt,
		&p.StatusUpdatedAt,
	)
	if err != nil {
		return activity.Participant{}, err
	}
	p.Status = activity.Status(status)
	return p, nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
