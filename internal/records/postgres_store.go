package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fenglin-dev/voicegate/config"
)

// PostgresStore persists finalized transcripts to a single table,
// grounded on original_source/backend/app/database.py +
// models/transcription.py and adapted from the teacher's
// db.NewPostgresPool dial/ping pattern, generalized to accept pool
// tuning knobs (spec.md §12's supplemented persistence feature).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore dials the record store's pool. Returns
// (nil, nil) when cfg.DSN is empty — callers should treat a nil store
// as "persistence disabled" rather than an error.
func OpenPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("records: parse postgres config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("records: connect to postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("records: ping postgres: %w", err)
	}

	if err := ensureSchema(dialCtx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `CREATE TABLE IF NOT EXISTS transcripts (
		id SERIAL PRIMARY KEY,
		text TEXT NOT NULL,
		engine TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("records: ensure schema: %w", err)
	}
	return nil
}

// Append inserts rec. A zero CreatedAt is stamped with now() by the
// database default.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	if s == nil || s.pool == nil {
		return errors.New("records: store is not open")
	}
	if rec.CreatedAt.IsZero() {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO transcripts (text, engine) VALUES ($1, $2)`,
			rec.Text, rec.Engine)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transcripts (text, engine, created_at) VALUES ($1, $2, $3)`,
		rec.Text, rec.Engine, rec.CreatedAt)
	return err
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
