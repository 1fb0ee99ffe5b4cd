package accounts

import (
	"embed"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for this package. Each
// dialect lives in its own directory: sqlite and postgres.
func GetMigrationsFS() embed.FS {
	return migrationsFS
}
