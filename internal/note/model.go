// Package note provides the note domain model and data access. Notes are
// the entities comments are attached to.
package note

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a note does not exist.
var ErrNotFound = errors.New("note not found")

// Note is a shared study note.
type Note struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// scanNote scans a note from a database row.
func scanNote(row interface{ Scan(...interface{}) error }) (*Note, error) {
	var n Note
	if err := row.Scan(
		&n.ID, &n.AuthorID, &n.Title, &n.Body, &n.CommentCount, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &n, nil
}
