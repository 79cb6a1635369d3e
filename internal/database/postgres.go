package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver

	"torrentsready/internal/database/migrations"
)

// NewPostgresDatabase connects to PostgreSQL and migrates it to the latest
// schema.
func NewPostgresDatabase(dsn string) (*SQLDatabase, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.MigrateUp(db, migrations.Postgres); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDatabase{
		db:      db,
		queries: New(db),
		dialect: migrations.Postgres,
	}, nil
}
