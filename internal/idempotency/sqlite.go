package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used by SQLiteStore.
const DriverName = "sqlite3"

// SQLiteStore keeps entries in a SQLite database so replays survive restarts.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLite opens (or creates) the database at path and runs migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open idempotency database: %w", err)
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: sqlx.NewDb(db, DriverName)}
	if err := s.RunMigrations(); err != nil {
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return s, nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type row struct {
	Scope     string `db:"scope"`
	Key       string `db:"hash"`
	Payload   []byte `db:"payload"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (r row) entry() Entry {
	return Entry{
		Scope:     r.Scope,
		Key:       r.Key,
		Payload:   r.Payload,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		ExpiresAt: time.Unix(0, r.ExpiresAt).UTC(),
	}
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, scope, key string, now time.Time) (Entry, bool, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `
		SELECT scope, hash, payload, created_at, expires_at
		FROM idempotency_entries
		WHERE scope = ? AND hash = ? AND expires_at > ?
	`, scope, key, now.UnixNano())
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return r.entry(), true, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_entries (scope, hash, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope, hash) DO UPDATE
			SET payload = excluded.payload,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at
	`, e.Scope, e.Key, e.Payload, e.CreatedAt.UnixNano(), e.ExpiresAt.UnixNano())
	return err
}

// DeleteExpired implements Store.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_entries WHERE expires_at <= ?
	`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
