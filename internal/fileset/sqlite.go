package fileset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists collections in a local SQLite database. Intended
// for single-node deployments without Redis.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fileset_records (
	context_id TEXT NOT NULL,
	hash       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (context_id, hash)
)`

// NewSQLiteStore opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, contextID, hash, payload string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fileset_records (context_id, hash, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (context_id, hash) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		contextID, hash, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, contextID, hash string) (string, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM fileset_records WHERE context_id = ? AND hash = ?`,
		contextID, hash,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get record: %w", err)
	}
	return payload, nil
}

func (s *SQLiteStore) List(ctx context.Context, contextID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, payload FROM fileset_records WHERE context_id = ?`, contextID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]string)
	for rows.Next() {
		var hash, payload string
		if err := rows.Scan(&hash, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records[hash] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, contextID, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fileset_records WHERE context_id = ? AND hash = ?`, contextID, hash)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
