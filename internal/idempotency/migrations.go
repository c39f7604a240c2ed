package idempotency

// RunMigrations creates the schema if it does not exist yet.
func (s *SQLiteStore) RunMigrations() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS idempotency_entries (
		scope VARCHAR NOT NULL,
		hash VARCHAR NOT NULL,
		payload BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (scope, hash)
	)`,
	`CREATE INDEX IF NOT EXISTS idempotency_entries_expires_at
		ON idempotency_entries (expires_at)`,
}
