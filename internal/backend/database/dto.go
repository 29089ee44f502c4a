package database

// Entry is one persisted guestbook submission. Empty strings represent NULL columns.
type Entry struct {
	ID            int64  `db:"id"`
	Text          string `db:"text"`
	ImageFilename string `db:"image_filename"`
}

// NewEntry is the insert payload; the id is assigned by the database.
type NewEntry struct {
	Text          string
	ImageFilename string
}

func (e NewEntry) validate() error {
	if e.Text == "" && e.ImageFilename == "" {
		return ErrEmptyEntry
	}
	return nil
}
