package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beacon/pkg/requestcontext"
)

// Schema creates the table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS kv_entries_expires_at_idx ON kv_entries (expires_at) WHERE expires_at IS NOT NULL;
`

// PostgresStore persists entries in a single key/value table.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgres constructs a PostgreSQL-backed store. The schema is applied by Migrate.
func NewPostgres(db *sql.DB, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{db: db, ttl: o.ttl}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply kv schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	query := `
		SELECT value FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)
	`
	var value string
	err := s.db.QueryRowContext(ctx, query, key, requestcontext.Now(ctx)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get kv entry: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	now := requestcontext.Now(ctx)
	var expiresAt sql.NullTime
	if s.ttl > 0 {
		expiresAt = sql.NullTime{Time: now.Add(s.ttl), Valid: true}
	}
	query := `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt, now); err != nil {
		return fmt.Errorf("set kv entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

// PurgeExpired removes expired rows. Run it periodically; reads already ignore them.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("purge kv entries: %w", err)
	}
	return res.RowsAffected()
}

// Update locks the row for the duration of a transaction. A missing key is first
// inserted as an already expired placeholder so there is a row to lock.
func (s *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) (err error) {
	now := requestcontext.Now(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin kv update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, expires_at, updated_at)
		VALUES ($1, '', $2, $2)
		ON CONFLICT (key) DO NOTHING
	`, key, now); err != nil {
		return fmt.Errorf("reserve kv entry: %w", err)
	}

	var (
		current   string
		expiresAt sql.NullTime
	)
	if err = tx.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv_entries WHERE key = $1 FOR UPDATE`, key,
	).Scan(&current, &expiresAt); err != nil {
		return fmt.Errorf("lock kv entry: %w", err)
	}
	found := !expiresAt.Valid || expiresAt.Time.After(now)
	if !found {
		current = ""
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}
	var nextExpiry sql.NullTime
	if s.ttl > 0 {
		nextExpiry = sql.NullTime{Time: now.Add(s.ttl), Valid: true}
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE kv_entries SET value = $2, expires_at = $3, updated_at = $4 WHERE key = $1`,
		key, next, nextExpiry, now,
	); err != nil {
		return fmt.Errorf("update kv entry: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit kv update: %w", err)
	}
	return nil
}
