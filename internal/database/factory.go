package database

import (
	"fmt"
	"os"
	"path/filepath"

	"torrentsready/internal/config"
	"torrentsready/internal/trd"
)

// NewDatabaseFromConfig creates a Database implementation based on the database config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, instanceID string) (trd.Database, error) {
	var (
		db  *SQLDatabase
		err error
	)
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		db, err = NewSQLiteDatabase(filepath.Join(cfg.DataDir, instanceID+".db"))
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("dsn required for postgres database")
		}
		db, err = NewPostgresDatabase(cfg.DSN)
	case "memory":
		db, err = NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}
