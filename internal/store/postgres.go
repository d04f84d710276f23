package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// The Postgres schema mirrors the SQLite one; only the integer column
// type differs.
func postgresSchema() string {
	return strings.ReplaceAll(sqliteSchema, "INTEGER", "BIGINT")
}

// OpenPostgres connects with the given DSN and runs the schema
// bootstrap.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema()); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return newSQLStore(db, true), nil
}
