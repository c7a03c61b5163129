// Package comment provides the comment domain model, the reply tree
// builder and data access.
package comment

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a comment does not exist.
	ErrNotFound = errors.New("comment not found")
	// ErrEmptyText is returned when a comment body is blank.
	ErrEmptyText = errors.New("comment text is required")
	// ErrInvalidReplyTarget is returned when a reply points at a comment that
	// is missing, belongs to another note, or is itself a reply.
	ErrInvalidReplyTarget = errors.New("reply target must be a top-level comment on the same note")
)

// Comment is a single comment row on a note. An empty ParentCommentID marks
// a top-level comment; otherwise the comment is a reply.
type Comment struct {
	ID              string    `json:"id"`
	NoteID          string    `json:"note_id"`
	ParentCommentID string    `json:"parent_comment_id,omitempty"`
	AuthorID        string    `json:"author_id"`
	AuthorName      string    `json:"author_name"`
	AuthorAvatar    string    `json:"author_avatar,omitempty"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
}

// IsReply reports whether the comment answers another comment.
func (c *Comment) IsReply() bool {
	return c.ParentCommentID != ""
}

// NewComment holds the caller-supplied fields of a comment to insert.
type NewComment struct {
	NoteID          string `json:"note_id"`
	AuthorID        string `json:"author_id"`
	ParentCommentID string `json:"parent_comment_id,omitempty"`
	Text            string `json:"text"`
}
