package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	sqlStore
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	// every connection to ":memory:" is a separate database, and SQLite
	// serializes writers anyway
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		sqlStore: sqlStore{
			db: db,
			q: queries{
				insert:     "INSERT INTO entries (text, image_filename) VALUES (?, ?) RETURNING id",
				listRecent: "SELECT id, text, image_filename FROM entries ORDER BY id DESC LIMIT ?",
				count:      "SELECT COUNT(*) FROM entries",
			},
		},
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase(ctx context.Context) error {
	return runMigrations(ctx, s.db, "sqlite3", "migrations/sqlite")
}
