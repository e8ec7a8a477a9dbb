package persistence

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed migrations
var migrationsFS embed.FS

// GetMigrationsFS returns the migration files for the given dialect
func GetMigrationsFS(dialect string) (fs.FS, error) {
	switch dialect {
	case DriverSQLite, DriverPostgres:
		return fs.Sub(migrationsFS, "migrations/"+dialect)
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}
