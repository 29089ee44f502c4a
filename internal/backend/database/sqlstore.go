package database

import (
	"context"
	"database/sql"
	"fmt"
)

// queries holds the dialect specific statements of a sqlStore.
type queries struct {
	insert     string
	listRecent string
	count      string
}

// sqlStore implements the entry operations shared by all database/sql backends.
type sqlStore struct {
	db *sql.DB
	q  queries
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *sqlStore) DoesDatabaseExist() bool {
	err := s.db.Ping()
	return err == nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertEntry writes a single entry inside its own transaction. Any failure
// rolls the whole insert back so no partial row is ever visible.
func (s *sqlStore) InsertEntry(ctx context.Context, entry NewEntry) (id int64, err error) {
	if err := entry.validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback() // the insert error is the one worth reporting
		}
	}()

	row := tx.QueryRowContext(ctx, s.q.insert, nullable(entry.Text), nullable(entry.ImageFilename))
	if err = row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert entry: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit entry: %w", err)
	}
	return id, nil
}

func (s *sqlStore) ListRecentEntries(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return []*Entry{}, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q.listRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	entries := make([]*Entry, 0, limit)
	for rows.Next() {
		var (
			entry Entry
			text  sql.NullString
			image sql.NullString
		)
		if err := rows.Scan(&entry.ID, &text, &image); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entry.Text = text.String
		entry.ImageFilename = image.String
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

func (s *sqlStore) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, s.q.count).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}
