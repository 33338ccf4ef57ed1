package notify

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, recipient_id, kind, title, body, related_activity_id, related_user_id, data, is_read, is_pushed, pushed_at, created_at`

// PostgresStore implements RecordStore, PreferenceStore and TokenStore on PostgreSQL.
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

// Create inserts a record with is_pushed=false.
func (s *PostgresStore) Create(ctx context.Context, rec Record) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrInvalidInput
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.RecipientID) == "" {
		return Record{}, ErrInvalidInput
	}
	notifications := pgIdent(s.schema, "notifications")

	data := rec.Data
	if data == nil {
		data = map[string]string{}
	}
	return scanRecord(s.pool.QueryRow(ctx,
		`INSERT INTO `+notifications+` (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, NULL, $9)
		 RETURNING `+recordColumns,
		rec.ID,
		rec.RecipientID,
		string(rec.Kind),
		rec.Title,
		rec.Body,
		nullIfEmpty(rec.RelatedActivityID),
		nullIfEmpty(rec.RelatedUserID),
		data,
		rec.CreatedAt,
	))
}

// MarkPushed sets is_pushed and pushed_at.
func (s *PostgresStore) MarkPushed(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	notifications := pgIdent(s.schema, "notifications")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+notifications+` SET is_pushed = true, pushed_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the recipient's latest records first.
func (s *PostgresStore) List(ctx context.Context, recipientID string, limit int) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 50
	}
	notifications := pgIdent(s.schema, "notifications")
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+`
		   FROM `+notifications+`
		  WHERE recipient_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		recipientID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		return scanRecord(row)
	})
}

// MarkAllRead marks every unread record of the recipient as read.
func (s *PostgresStore) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	notifications := pgIdent(s.schema, "notifications")
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+notifications+` SET is_read = true WHERE recipient_id = $1 AND is_read = false`,
		recipientID,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// GetPreferences reads notification_preferences. ok is false when no row exists.
func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) (Preferences, bool, error) {
	if s == nil || s.pool == nil {
		return Preferences{}, false, ErrInvalidInput
	}
	prefsTable := pgIdent(s.schema, "notification_preferences")

	cols := make([]string, 0, len(AllFlags))
	for _, f := range AllFlags {
		cols = append(cols, pgx.Identifier{string(f)}.Sanitize())
	}

	var (
		p          Preferences
		start, end pgtype.Time
		tz, lang   string
	)
	flagValues := make([]bool, len(AllFlags))
	dest := []any{&p.PushEnabled, &p.QuietHoursEnabled, &start, &end, &tz, &lang}
	for i := range flagValues {
		dest = append(dest, &flagValues[i])
	}

	err := s.pool.QueryRow(ctx,
		`SELECT push_enabled, quiet_hours_enabled, quiet_hours_start, quiet_hours_end, time_zone, language, `+
			strings.Join(cols, ", ")+`
		   FROM `+prefsTable+`
		  WHERE user_id = $1`,
		userID,
	).Scan(dest...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Preferences{}, false, nil
		}
		return Preferences{}, false, err
	}

	defaults := DefaultPreferences()
	p.QuietStart = timeOfDayOr(start, defaults.QuietStart)
	p.QuietEnd = timeOfDayOr(end, defaults.QuietEnd)
	p.TimeZone = tz
	p.Language = lang
	p.Flags = make(map[Flag]bool, len(AllFlags))
	for i, f := range AllFlags {
		p.Flags[f] = flagValues[i]
	}
	return p, true, nil
}

// ActiveTokens lists the user's active push tokens.
func (s *PostgresStore) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	tokens := pgIdent(s.schema, "push_tokens")
	rows, err := s.pool.Query(ctx,
		`SELECT token FROM `+tokens+` WHERE user_id = $1 AND is_active ORDER BY token`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec           Record
		kind          string
		activityID    *string
		relatedUserID *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.RecipientID,
		&kind,
		&rec.Title,
		&rec.Body,
		&activityID,
		&relatedUserID,
		&rec.Data,
		&rec.IsRead,
		&rec.IsPushed,
		&rec.PushedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	if activityID != nil {
		rec.RelatedActivityID = *activityID
	}
	if relatedUserID != nil {
		rec.RelatedUserID = *relatedUserID
	}
	return rec, nil
}

func timeOfDayOr(t pgtype.Time, def TimeOfDay) TimeOfDay {
	if !t.Valid {
		return def
	}
	return TimeOfDay(t.Microseconds / 1_000_000)
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
