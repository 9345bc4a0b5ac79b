// migrate applies the credential schema to the configured SQL store (postgres or sqlite).
package main

import (
	"flag"
	"fmt"
	"os"

	"jobs-admin/client/internal/config"
	"jobs-admin/client/internal/db"
	"jobs-admin/client/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	var url string
	switch cfg.CredentialStore {
	case config.StorePostgres:
		url = cfg.DatabaseURL
	case config.StoreSQLite:
		url = db.SQLiteURL(cfg.SQLitePath)
	default:
		fmt.Fprintf(os.Stderr, "CREDENTIAL_STORE=%s has no schema to migrate\n", cfg.CredentialStore)
		os.Exit(1)
	}

	if err := migrate.Run(url, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
