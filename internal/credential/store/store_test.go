package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jobs-admin/client/internal/config"
	"jobs-admin/client/internal/credential/domain"
	"jobs-admin/client/internal/db"
	"jobs-admin/client/internal/db/migrate"
)

func sampleCredential() domain.Credential {
	return domain.Credential{
		AccessToken:     "access-1",
		RefreshToken:    "refresh-1",
		AccessExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		IssuedAt:        time.Date(2026, 3, 1, 11, 55, 0, 0, time.UTC),
	}
}

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if got != nil {
		t.Fatalf("Load empty = %+v, want nil", got)
	}

	want := sampleCredential()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil after Save")
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("tokens = %q/%q, want %q/%q", got.AccessToken, got.RefreshToken, want.AccessToken, want.RefreshToken)
	}
	if !got.AccessExpiresAt.Equal(want.AccessExpiresAt) {
		t.Errorf("AccessExpiresAt = %v, want %v", got.AccessExpiresAt, want.AccessExpiresAt)
	}
	if !got.IssuedAt.Equal(want.IssuedAt) {
		t.Errorf("IssuedAt = %v, want %v", got.IssuedAt, want.IssuedAt)
	}

	// Overwrite drops the previous issued_at.
	next := domain.Credential{AccessToken: "access-2", RefreshToken: "refresh-2", AccessExpiresAt: want.AccessExpiresAt.Add(time.Hour)}
	if err := s.Save(ctx, next); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	got, _ = s.Load(ctx)
	if got == nil || got.AccessToken != "access-2" || !got.IssuedAt.IsZero() {
		t.Errorf("after overwrite = %+v, want access-2 without issued_at", got)
	}

	if err := s.Save(ctx, domain.Credential{AccessToken: "orphan"}); err == nil {
		t.Error("Save of access token without refresh token should fail")
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil || got != nil {
		t.Errorf("Load after Clear = %+v, %v; want nil, nil", got, err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear twice: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_LoadReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Save(context.Background(), sampleCredential())
	got, _ := s.Load(context.Background())
	got.AccessToken = "mutated"
	again, _ := s.Load(context.Background())
	if again.AccessToken != "access-1" {
		t.Errorf("AccessToken = %q, stored value was mutated through Load", again.AccessToken)
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "creds", "credentials.enc"), "correct horse")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	exerciseStore(t, s)
}

func TestNewFileStore_RequiresPassphrase(t *testing.T) {
	if _, err := NewFileStore("x", ""); err != ErrNoPassphrase {
		t.Errorf("err = %v, want ErrNoPassphrase", err)
	}
}

func TestFileStore_EncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	s, _ := NewFileStore(path, "pw")
	if err := s.Save(context.Background(), sampleCredential()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, secret := range []string{"access-1", "refresh-1"} {
		if bytes.Contains(raw, []byte(secret)) {
			t.Errorf("credential file contains %q in clear text", secret)
		}
	}
	info, _ := os.Stat(path)
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("file mode = %o, want 600", perm)
	}
}

func TestFileStore_WrongPassphraseLoadsNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	s, _ := NewFileStore(path, "right")
	_ = s.Save(context.Background(), sampleCredential())

	other, _ := NewFileStore(path, "wrong")
	got, err := other.Load(context.Background())
	if err != nil || got != nil {
		t.Errorf("Load with wrong passphrase = %+v, %v; want nil, nil", got, err)
	}
}

func TestFileStore_CorruptFileLoadsNothing(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"not json", "{{{"},
		{"truncated", `{"v":1,"salt":"AAAA`},
		{"wrong version", `{"v":9,"salt":"AAAAAAAAAAAAAAAAAAAAAA==","nonce":"","data":""}`},
		{"empty", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "credentials.enc")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			s, _ := NewFileStore(path, "pw")
			got, err := s.Load(context.Background())
			if err != nil || got != nil {
				t.Errorf("Load = %+v, %v; want nil, nil", got, err)
			}
		})
	}
}

func newSQLiteStore(t *testing.T) (*SQLStore, func()) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.db")
	if err := migrate.Run(db.SQLiteURL(path), "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return NewSQLStore(conn, DialectSQLite), func() { conn.Close() }
}

func TestSQLStore_SQLite(t *testing.T) {
	s, done := newSQLiteStore(t)
	defer done()
	exerciseStore(t, s)
}

func TestSQLStore_CorruptRowsLoadNothing(t *testing.T) {
	testCases := []struct {
		name string
		rows map[string]string
	}{
		{"missing refresh token", map[string]string{KeyAccessToken: "a", KeyAccessExpiresAt: "2026-03-01T12:00:00Z"}},
		{"bad expiry", map[string]string{KeyAccessToken: "a", KeyRefreshToken: "r", KeyAccessExpiresAt: "tomorrow"}},
		{"bad issued_at", map[string]string{KeyAccessToken: "a", KeyRefreshToken: "r", KeyIssuedAt: "?"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, done := newSQLiteStore(t)
			defer done()
			for k, v := range tc.rows {
				if _, err := s.db.Exec(`INSERT INTO client_credentials (key, value) VALUES (?, ?)`, k, v); err != nil {
					t.Fatal(err)
				}
			}
			got, err := s.Load(context.Background())
			if err != nil || got != nil {
				t.Errorf("Load = %+v, %v; want nil, nil", got, err)
			}
		})
	}
}

func TestSQLStore_Postgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Skipf("migrate failed (expected without a database): %v", err)
	}
	conn, err := db.OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Skipf("Database connection failed: %v", err)
	}
	defer conn.Close()
	exerciseStore(t, NewSQLStore(conn, DialectPostgres))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		t.Skip("REDIS_URL not set, skipping integration test")
	}
	client, err := newRedisClient(addr, os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		t.Fatalf("newRedisClient: %v", err)
	}
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis unavailable: %v", err)
	}
	exerciseStore(t, NewRedisStore(client, "jobsadmin:test:"+t.Name()))
}

func TestNewRedisClient_ParsesURL(t *testing.T) {
	client, err := newRedisClient("redis://:secret@cache.internal:6380/2", "")
	if err != nil {
		t.Fatalf("newRedisClient: %v", err)
	}
	defer client.Close()
	opts := client.Options()
	if opts.Addr != "cache.internal:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Errorf("options = %s db=%d pw=%q", opts.Addr, opts.DB, opts.Password)
	}

	bare, err := newRedisClient("localhost:6379", "pw")
	if err != nil {
		t.Fatalf("newRedisClient bare: %v", err)
	}
	defer bare.Close()
	if bare.Options().Addr != "localhost:6379" || bare.Options().Password != "pw" {
		t.Errorf("bare options = %+v", bare.Options())
	}

	if _, err := newRedisClient("redis://%zz", ""); err == nil {
		t.Error("invalid URL should fail")
	}
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	testCases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"memory", config.Config{CredentialStore: config.StoreMemory}, "*store.MemoryStore"},
		{"file", config.Config{CredentialStore: config.StoreFile, CredentialFile: filepath.Join(dir, "c.enc"), CredentialPassphrase: "pw"}, "*store.FileStore"},
		{"sqlite", config.Config{CredentialStore: config.StoreSQLite, SQLitePath: filepath.Join(dir, "c.db")}, "*store.SQLStore"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			s, closeFn, err := Open(context.Background(), &cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer closeFn()
			if got := typeName(s); got != tc.want {
				t.Errorf("store = %s, want %s", got, tc.want)
			}
			exerciseStore(t, s)
		})
	}

	if _, closeFn, err := Open(context.Background(), &config.Config{CredentialStore: "keychain"}); err == nil {
		t.Error("unknown backend should fail")
	} else if closeFn == nil {
		t.Error("close function should never be nil")
	}
}

func typeName(s Store) string {
	switch s.(type) {
	case *MemoryStore:
		return "*store.MemoryStore"
	case *FileStore:
		return "*store.FileStore"
	case *SQLStore:
		return "*store.SQLStore"
	case *RedisStore:
		return "*store.RedisStore"
	}
	return "unknown"
}

