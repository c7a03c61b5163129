package comment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is the comment store backed by SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a comment repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectJoined = `SELECT c.id, c.note_id, COALESCE(c.parent_comment_id, ''), c.author_id,
	COALESCE(u.name, ''), COALESCE(u.avatar_url, ''), c.text, c.created_at
	FROM comments c LEFT JOIN users u ON u.id = c.author_id`

func scanComment(row interface{ Scan(...interface{}) error }) (*Comment, error) {
	var c Comment
	if err := row.Scan(
		&c.ID, &c.NoteID, &c.ParentCommentID, &c.AuthorID,
		&c.AuthorName, &c.AuthorAvatar, &c.Text, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// Add inserts a comment or reply and returns the stored row with author
// display fields resolved.
func (r *Repository) Add(ctx context.Context, in NewComment) (*Comment, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if in.AuthorID == "" {
		return nil, fmt.Errorf("comment author is required")
	}
	if in.NoteID == "" {
		return nil, fmt.Errorf("comment note is required")
	}

	if in.ParentCommentID != "" {
		if err := r.checkReplyTarget(ctx, in.NoteID, in.ParentCommentID); err != nil {
			return nil, err
		}
	}

	var parent interface{}
	if in.ParentCommentID != "" {
		parent = in.ParentCommentID
	}

	id := uuid.NewString()
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, note_id, parent_comment_id, author_id, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, in.NoteID, parent, in.AuthorID, text, time.Now().UTC(),
	); err != nil {
		return nil, fmt.Errorf("inserting comment: %w", err)
	}

	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading back comment: %w", err)
	}
	return c, nil
}

// checkReplyTarget verifies that parentID is a top-level comment on noteID.
func (r *Repository) checkReplyTarget(ctx context.Context, noteID, parentID string) error {
	var parentNote string
	var grandparent sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT note_id, parent_comment_id FROM comments WHERE id = ?", parentID,
	).Scan(&parentNote, &grandparent)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidReplyTarget
	}
	if err != nil {
		return fmt.Errorf("looking up reply target: %w", err)
	}
	if parentNote != noteID || grandparent.Valid {
		return ErrInvalidReplyTarget
	}
	return nil
}

// GetByID returns a single comment.
func (r *Repository) GetByID(ctx context.Context, id string) (*Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx, selectJoined+" WHERE c.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying comment %s: %w", id, err)
	}
	return c, nil
}

// ListByNoteID returns all comments for a note, newest first.
func (r *Repository) ListByNoteID(ctx context.Context, noteID string) (comments []*Comment, err error) {
	rows, err := r.db.QueryContext(ctx,
		selectJoined+" WHERE c.note_id = ? ORDER BY c.created_at DESC, c.rowid DESC",
		noteID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		comments = append(comments, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating comments: %w", err)
	}

	return comments, nil
}

// CountByNoteID returns how many comments are stored for a note.
func (r *Repository) CountByNoteID(ctx context.Context, noteID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM comments WHERE note_id = ?", noteID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting comments: %w", err)
	}
	return n, nil
}

// DeleteSecure removes a comment on behalf of userID. Only the author may
// delete; a top-level comment takes its replies with it in the same
// transaction. It reports false, with no change, when the comment is
// missing or userID is not its author.
func (r *Repository) DeleteSecure(ctx context.Context, commentID, userID string) (deleted bool, err error) {
	if userID == "" {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting delete: %w", err)
	}
	defer func() {
		if err != nil || !deleted {
			_ = tx.Rollback()
		}
	}()

	var authorID string
	err = tx.QueryRowContext(ctx, "SELECT author_id FROM comments WHERE id = ?", commentID).Scan(&authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("looking up comment: %w", err)
	}
	if authorID != userID {
		return false, nil
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM comments WHERE parent_comment_id = ?", commentID); err != nil {
		return false, fmt.Errorf("deleting replies: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM comments WHERE id = ?", commentID); err != nil {
		return false, fmt.Errorf("deleting comment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("committing delete: %w", err)
	}
	return true, nil
}
