package directory

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"acteezer/cmd/internal/activity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads profiles from the users / user_languages / languages tables.
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

// GetProfile loads a user with their known languages.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (Profile, error) {
	if s == nil || s.pool == nil {
		return Profile{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrInvalidInput
	}

	users := pgIdent(s.schema, "users")
	userLanguages := pgIdent(s.schema, "user_languages")
	languages := pgIdent(s.schema, "languages")

	var (
		p        Profile
		birthday *time.Time
		gender   *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, display_name, birthday, gender
		   FROM `+users+`
		  WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.DisplayName, &birthday, &gender)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	p.Birthday = birthday
	if gender != nil {
		if g, ok := activity.ParseGender(*gender); ok {
			p.Gender = &g
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT l.code, l.name
		   FROM `+userLanguages+` ul
		   JOIN `+languages+` l ON l.code = ul.language_code
		  WHERE ul.user_id = $1
		  ORDER BY l.code`,
		userID,
	)
	if err != nil {
		return Profile{}, err
	}
	langs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (activity.Language, error) {
		var l activity.Language
		err := row.Scan(&l.Code, &l.Name)
		return l, err
	})
	if err != nil {
		return Profile{}, err
	}
	p.Languages = langs
	return p, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
