package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"jobs-admin/client/internal/credential/domain"
)

// Dialect names the SQL flavour of a SQLStore; it only affects placeholders.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore keeps the credential as rows of the client_credentials key/value table.
// Save and Clear run in a transaction so readers never see a partial credential.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore returns a SQLStore over db. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) insertQuery() string {
	if s.dialect == DialectPostgres {
		return `INSERT INTO client_credentials (key, value) VALUES ($1, $2)`
	}
	return `INSERT INTO client_credentials (key, value) VALUES (?, ?)`
}

// Save replaces every stored key with cred's.
func (s *SQLStore) Save(ctx context.Context, cred domain.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	rec := encode(cred)
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM client_credentials`); err != nil {
		return fmt.Errorf("store: clear rows: %w", err)
	}
	insert := s.insertQuery()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, insert, k, rec[k]); err != nil {
			return fmt.Errorf("store: insert %s: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Load reads the stored keys. Unknown keys are ignored.
func (s *SQLStore) Load(ctx context.Context) (*domain.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM client_credentials`)
	if err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}
	defer rows.Close()

	rec := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		rec[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	cred, ok := decode(string(s.dialect), rec)
	if !ok {
		return nil, nil
	}
	return cred, nil
}

// Clear deletes every stored key.
func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_credentials`); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}
