package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the SQLite file at path with WAL journaling and a busy timeout,
// so a second client process waits for the lock instead of failing.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyDSN
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("db: create sqlite directory: %w", err)
		}
	}
	conn, err := open(ctx, "sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// One writer at a time; SQLite serialises anyway and this avoids SQLITE_BUSY churn.
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// SQLiteURL returns the golang-migrate database URL for a SQLite file path.
func SQLiteURL(path string) string {
	return "sqlite://" + path
}
