package db

import "embed"

// MigrationFS embeds the credential schema. The statements are portable between
// Postgres and SQLite so both SQL backends share one migration history.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
