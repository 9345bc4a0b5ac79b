package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/config"
	"jobs-admin/client/internal/db"
	"jobs-admin/client/internal/db/migrate"
)

// Open builds the Store selected by cfg.CredentialStore. SQL backends are migrated before use.
// The returned close function releases the backend's connections and is never nil.
func Open(ctx context.Context, cfg *config.Config) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.CredentialStore {
	case config.StoreMemory:
		log.Warn().Msg("credential store is in memory; the session will not survive a restart")
		return NewMemoryStore(), noop, nil

	case config.StoreFile:
		s, err := NewFileStore(cfg.CredentialFile, cfg.CredentialPassphrase)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case config.StoreSQLite:
		if err := migrate.Run(db.SQLiteURL(cfg.SQLitePath), "up"); err != nil {
			return nil, noop, fmt.Errorf("store: migrate sqlite: %w", err)
		}
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("store: open sqlite: %w", err)
		}
		return NewSQLStore(conn, DialectSQLite), conn.Close, nil

	case config.StorePostgres:
		if err := migrate.Run(cfg.DatabaseURL, "up"); err != nil {
			return nil, noop, fmt.Errorf("store: migrate postgres: %w", err)
		}
		conn, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("store: open postgres: %w", err)
		}
		return NewSQLStore(conn, DialectPostgres), conn.Close, nil

	case config.StoreRedis:
		client, err := newRedisClient(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return nil, noop, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("store: redis ping: %w", err)
		}
		return NewRedisStore(client, cfg.RedisKey), client.Close, nil
	}
	return nil, noop, fmt.Errorf("store: unknown backend %q", cfg.CredentialStore)
}

// newRedisClient accepts either a redis:// URL or a bare host:port address.
func newRedisClient(url, password string) (*redis.Client, error) {
	if strings.Contains(url, "://") {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("store: redis url: %w", err)
		}
		if password != "" {
			opts.Password = password
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: url, Password: password}), nil
}
