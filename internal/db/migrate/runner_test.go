package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"jobs-admin/client/internal/db"
)

func TestRun_EmptyURL(t *testing.T) {
	for _, url := range []string{"", "   "} {
		if err := Run(url, "up"); !errors.Is(err, ErrNoDatabase) {
			t.Errorf("Run(%q) err = %v, want ErrNoDatabase", url, err)
		}
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	testCases := []string{"", "invalid", "UP", "Up", "both"}
	for _, direction := range testCases {
		t.Run(direction, func(t *testing.T) {
			err := Run("postgres://localhost/test", direction)
			if err == nil {
				t.Fatalf("Run with direction %q should return error", direction)
			}
		})
	}
}

func TestRun_InvalidURL(t *testing.T) {
	testCases := []struct {
		name string
		url  string
	}{
		{"no scheme", "invalid-dsn"},
		{"missing driver", "://localhost/test"},
		{"unknown driver", "mysql://localhost/test"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Run(tc.url, "up"); err == nil {
				t.Errorf("Run with invalid URL %q should return error", tc.url)
			}
		})
	}
}

func TestRun_SQLiteUpDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	url := db.SQLiteURL(path)

	if err := Run(url, "up"); err != nil {
		t.Fatalf("Run up: %v", err)
	}
	// Second run has nothing to apply and still succeeds.
	if err := Run(url, "up"); err != nil {
		t.Fatalf("Run up again: %v", err)
	}

	conn, err := db.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO client_credentials (key, value) VALUES ('k', 'v')`); err != nil {
		t.Fatalf("table should exist after up: %v", err)
	}
	conn.Close()

	if err := Run(url, "down"); err != nil {
		t.Fatalf("Run down: %v", err)
	}
	conn, err = db.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Exec(`SELECT 1 FROM client_credentials`); err == nil {
		t.Error("table should be dropped after down")
	}
}

func TestErrNoChange(t *testing.T) {
	if ErrNoChange == nil {
		t.Fatal("ErrNoChange should not be nil")
	}
}
