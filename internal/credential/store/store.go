// Package store persists the client credential. Every backend writes the same fixed keys
// and treats unreadable data as "no credential" rather than failing the caller.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"jobs-admin/client/internal/credential/domain"
)

// Fixed storage keys shared by all backends.
const (
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyAccessExpiresAt = "access_expires_at"
	KeyIssuedAt        = "issued_at"
)

// Store is durable credential storage. Load returns (nil, nil) when nothing usable is stored,
// including when the stored data is corrupt.
type Store interface {
	Save(ctx context.Context, cred domain.Credential) error
	Load(ctx context.Context) (*domain.Credential, error)
	Clear(ctx context.Context) error
}

// encode flattens a credential into the fixed key/value layout.
func encode(cred domain.Credential) map[string]string {
	rec := map[string]string{
		KeyAccessToken:     cred.AccessToken,
		KeyRefreshToken:    cred.RefreshToken,
		KeyAccessExpiresAt: formatTime(cred.AccessExpiresAt),
	}
	if !cred.IssuedAt.IsZero() {
		rec[KeyIssuedAt] = formatTime(cred.IssuedAt)
	}
	return rec
}

// decode rebuilds a credential from the fixed key/value layout. ok is false when the record
// is empty; a non-empty record that does not form a valid credential is logged and dropped.
func decode(backend string, rec map[string]string) (*domain.Credential, bool) {
	if len(rec) == 0 {
		return nil, false
	}
	cred := &domain.Credential{
		AccessToken:  rec[KeyAccessToken],
		RefreshToken: rec[KeyRefreshToken],
	}
	var err error
	if cred.AccessExpiresAt, err = parseTime(rec[KeyAccessExpiresAt]); err != nil {
		corrupt(backend, "access_expires_at unreadable")
		return nil, false
	}
	if cred.IssuedAt, err = parseTime(rec[KeyIssuedAt]); err != nil {
		corrupt(backend, "issued_at unreadable")
		return nil, false
	}
	if err := cred.Validate(); err != nil {
		corrupt(backend, err.Error())
		return nil, false
	}
	return cred, true
}

func corrupt(backend, reason string) {
	log.Warn().Str("store", backend).Str("reason", reason).Msg("stored credential is corrupt, treating as logged out")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
