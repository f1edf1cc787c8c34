package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lockwatch/lockwatch/internal/config"
	_ "github.com/mattn/go-sqlite3"
)

const dbFolderPerm = 0755

// ensureDBFolder ensures the directory that contains dbPath exists.
// Example dbPath: "./data/lockwatch.sqlite"
func ensureDBFolder(dbPath string) error {
	dir := filepath.Dir(dbPath)
	return os.MkdirAll(dir, dbFolderPerm)
}

// NewSQLiteDBFromConfig creates a new SQLite DB with the given configuration.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	if err := ensureDBFolder(cfg.Path); err != nil {
		return nil, fmt.Errorf("failed to ensure DB folder: %w", err)
	}

	foreignKeys := "off"
	if cfg.ForeignKeysEnabled() {
		foreignKeys = "on"
	}

	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=%s&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		foreignKeys,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return db, nil
}

// NewSQLiteDB opens a SQLite DB at path with default settings.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	cfg := config.DatabaseConfig{Path: dbPath}
	cfg.ApplyDefaults()
	return NewSQLiteDBFromConfig(cfg)
}
