package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbSchema          = "acteezer"
	dbApplicationName = "acteezer"
)

// NewDBPool opens the acteezer pool and fails fast if no connection can be acquired.
// Migrations are applied separately by Migrate when ACTEEZER_DB_MIGRATE is set.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := dbPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// dbPoolConfig resolves the DSN. Settings already present in the DSN win.
func dbPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}
	if pcfg.MinConns > pcfg.MaxConns {
		pcfg.MinConns = pcfg.MaxConns
	}

	params := pcfg.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = dbApplicationName
	}
	// Stores qualify every table, so search_path only matters for ad-hoc sessions.
	if params["search_path"] == "" {
		params["search_path"] = dbSchema + ", public"
	}
	return pcfg, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
