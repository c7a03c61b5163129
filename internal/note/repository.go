package note

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Repository provides CRUD operations for notes.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a note repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectColumns = `id, author_id, title, body, comment_count, created_at, updated_at`

// Insert adds a new note and returns it with its generated ID.
func (r *Repository) Insert(ctx context.Context, authorID, title, body string) (*Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("note title is required")
	}
	if authorID == "" {
		return nil, fmt.Errorf("note author is required")
	}

	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO notes (id, author_id, title, body) VALUES (?, ?, ?, ?)",
		id, authorID, title, strings.TrimSpace(body),
	); err != nil {
		return nil, fmt.Errorf("inserting note: %w", err)
	}

	return r.GetByID(ctx, id)
}

// GetByID returns a note by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Note, error) {
	query := fmt.Sprintf("SELECT %s FROM notes WHERE id = ?", selectColumns)
	n, err := scanNote(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying note %s: %w", id, err)
	}
	return n, nil
}

// List returns all notes, newest first.
func (r *Repository) List(ctx context.Context) (notes []*Note, err error) {
	query := fmt.Sprintf("SELECT %s FROM notes ORDER BY created_at DESC, rowid DESC", selectColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning note: %w", err)
		}
		notes = append(notes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notes: %w", err)
	}

	return notes, nil
}

// AdjustCommentCount adds delta to the note's comment counter. The counter
// never drops below zero.
func (r *Repository) AdjustCommentCount(ctx context.Context, id string, delta int) error {
	return r.updateCount(ctx, id,
		"UPDATE notes SET comment_count = MAX(comment_count + ?, 0), updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		delta)
}

// AdjustCommentCountWithin is AdjustCommentCount with the result also
// held at or below limit.
func (r *Repository) AdjustCommentCountWithin(ctx context.Context, id string, delta, limit int) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE notes SET comment_count = MIN(MAX(comment_count + ?, 0), ?), updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		delta, max(limit, 0), id)
	if err != nil {
		return fmt.Errorf("updating comment count: %w", err)
	}
	return checkUpdated(result, id)
}

// SyncCommentCount overwrites the note's comment counter with n.
func (r *Repository) SyncCommentCount(ctx context.Context, id string, n int) error {
	if n < 0 {
		return fmt.Errorf("comment count must not be negative, got %d", n)
	}
	return r.updateCount(ctx, id,
		"UPDATE notes SET comment_count = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		n)
}

func (r *Repository) updateCount(ctx context.Context, id, query string, value int) error {
	result, err := r.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("updating comment count: %w", err)
	}
	return checkUpdated(result, id)
}

func checkUpdated(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}

	return nil
}

// Delete removes a note by ID. Comments cascade.
func (r *Repository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("note %s: %w", id, ErrNotFound)
	}

	return nil
}
