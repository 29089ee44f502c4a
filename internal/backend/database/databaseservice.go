package database

import (
	"context"
	"errors"
)

// ErrEmptyEntry is returned when an entry carries neither text nor an image reference.
var ErrEmptyEntry = errors.New("entry has neither text nor image")

// DatabaseService is the append-only entry store. There is intentionally no
// update or delete: entries are immutable once written.
type DatabaseService interface {
	// CreateDatabase applies all pending schema migrations (idempotent).
	CreateDatabase(ctx context.Context) error
	DoesDatabaseExist() bool
	Close() error

	// InsertEntry persists one entry in its own transaction and returns the assigned id.
	InsertEntry(ctx context.Context, entry NewEntry) (int64, error)
	// ListRecentEntries returns at most limit entries, newest id first.
	ListRecentEntries(ctx context.Context, limit int) ([]*Entry, error)
	CountEntries(ctx context.Context) (int64, error)
}
