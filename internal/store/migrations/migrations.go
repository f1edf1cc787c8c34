package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/lockwatch/lockwatch/internal/db"
	"github.com/lockwatch/lockwatch/internal/logger"
)

//go:embed 001_initial.sql
var mig0001 string

// RunMigrations runs all migrations for the store database.
func RunMigrations(dbPath string) error {
	migrations := []db.Migration{
		{
			ID:  "001_initial.sql",
			SQL: mig0001,
		},
	}

	return db.RunMigrations(dbPath, migrations)
}

// RunMigrationsDB runs all store migrations on an open database handle.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	migrations := []db.Migration{
		{
			ID:  "001_initial.sql",
			SQL: mig0001,
		},
	}

	return db.RunMigrationsDB(log, database, migrations)
}
