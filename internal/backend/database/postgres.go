package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresDatabase struct {
	sqlStore
}

func NewPostgresDatabase(dsn string) (DatabaseService, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	return &PostgresDatabase{
		sqlStore: sqlStore{
			db: db,
			q: queries{
				insert:     "INSERT INTO entries (text, image_filename) VALUES ($1, $2) RETURNING id",
				listRecent: "SELECT id, text, image_filename FROM entries ORDER BY id DESC LIMIT $1",
				count:      "SELECT COUNT(*) FROM entries",
			},
		},
	}, nil
}

func (p *PostgresDatabase) CreateDatabase(ctx context.Context) error {
	return runMigrations(ctx, p.db, "pgx", "migrations/postgres")
}
