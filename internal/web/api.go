package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evcraddock/pen/internal/auth"
	"github.com/evcraddock/pen/internal/comment"
	"github.com/evcraddock/pen/internal/events"
	"github.com/evcraddock/pen/internal/note"
)

// publishTimeout bounds how long a request waits on the event sink.
const publishTimeout = 5 * time.Second

// apiError writes a JSON error response.
func apiError(w http.ResponseWriter, msg string, code int) {
	apiJSON(w, map[string]string{"error": msg}, code)
}

// apiJSON writes a JSON response with the given status code.
func apiJSON(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apiError(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// internalError logs err and answers with a generic 500.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.log.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
	apiError(w, msg, http.StatusInternalServerError)
}

// notFoundOr answers 404 for missing rows and 500 otherwise.
func (s *Server) notFoundOr(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, note.ErrNotFound) || errors.Is(err, comment.ErrNotFound) {
		apiError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.internalError(w, r, msg, err)
}

// publish sends an event without failing the request.
func (s *Server) publish(r *http.Request, e events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, e); err != nil {
		s.log.Warn("publishing event",
			zap.String("type", e.Type), zap.String("comment_id", e.CommentID), zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apiJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// handleMe returns the caller's user record.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.GetByID(r.Context(), auth.UserIDFromContext(r.Context()))
	if errors.Is(err, auth.ErrUserNotFound) {
		apiError(w, "user not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.internalError(w, r, "loading user", err)
		return
	}
	apiJSON(w, u, http.StatusOK)
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.notes.List(r.Context())
	if err != nil {
		s.internalError(w, r, "listing notes", err)
		return
	}
	if notes == nil {
		notes = make([]*note.Note, 0)
	}
	apiJSON(w, notes, http.StatusOK)
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		apiError(w, "title is required", http.StatusBadRequest)
		return
	}

	n, err := s.notes.Insert(r.Context(), auth.UserIDFromContext(r.Context()), req.Title, req.Body)
	if err != nil {
		s.internalError(w, r, "adding note", err)
		return
	}
	apiJSON(w, n, http.StatusCreated)
}

// handleGetNote returns a note with its comment thread. The note and its
// comments are read concurrently.
func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var (
		n    *note.Note
		rows []*comment.Comment
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		n, err = s.notes.GetByID(ctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = s.comments.ListByNoteID(ctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		s.notFoundOr(w, r, "loading note", err)
		return
	}

	type response struct {
		Note     *note.Note      `json:"note"`
		Comments []*comment.Node `json:"comments"`
	}
	apiJSON(w, response{Note: n, Comments: comment.BuildTree(rows)}, http.StatusOK)
}

// handleDeleteNote removes a note the caller wrote, with its comments.
func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	n, err := s.notes.GetByID(r.Context(), id)
	if err != nil {
		s.notFoundOr(w, r, "loading note", err)
		return
	}
	if n.AuthorID != auth.UserIDFromContext(r.Context()) {
		apiError(w, "only the author can delete a note", http.StatusForbidden)
		return
	}

	if err := s.notes.Delete(r.Context(), id); err != nil {
		s.notFoundOr(w, r, "deleting note", err)
		return
	}
	apiJSON(w, map[string]interface{}{"id": id, "removed": true}, http.StatusOK)
}

// handleListComments returns a note's comment rows, newest first.
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	rows, err := s.comments.ListByNoteID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.internalError(w, r, "loading comments", err)
		return
	}
	if rows == nil {
		rows = make([]*comment.Comment, 0)
	}
	apiJSON(w, rows, http.StatusOK)
}

// handleThread returns a note's comments assembled into a reply tree.
func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	rows, err := s.comments.ListByNoteID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.internalError(w, r, "loading comments", err)
		return
	}
	apiJSON(w, comment.BuildTree(rows), http.StatusOK)
}

// handleAddComment inserts a comment or reply written by the caller.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	noteID := mux.Vars(r)["id"]

	var req struct {
		Text            string `json:"text"`
		ParentCommentID string `json:"parent_comment_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		apiError(w, "text is required", http.StatusBadRequest)
		return
	}

	if _, err := s.notes.GetByID(r.Context(), noteID); err != nil {
		s.notFoundOr(w, r, "loading note", err)
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	c, err := s.comments.Add(r.Context(), comment.NewComment{
		NoteID:          noteID,
		AuthorID:        userID,
		ParentCommentID: req.ParentCommentID,
		Text:            req.Text,
	})
	switch {
	case errors.Is(err, comment.ErrEmptyText), errors.Is(err, comment.ErrInvalidReplyTarget):
		apiError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		s.internalError(w, r, "adding comment", err)
		return
	}

	s.publish(r, events.Event{
		Type:            events.CommentCreated,
		NoteID:          noteID,
		CommentID:       c.ID,
		ParentCommentID: c.ParentCommentID,
		UserID:          userID,
	})

	apiJSON(w, c, http.StatusCreated)
}

// handleAdjustCount applies a delta to a note's stored comment count.
func (s *Server) handleAdjustCount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req struct {
		Delta int `json:"delta"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	// Posts add one comment at a time. Removals can take a whole reply
	// group, so only the stored comment count bounds them; the sync
	// endpoint repairs a counter pushed too low.
	if req.Delta == 0 || req.Delta > 1 {
		apiError(w, "delta must be 1 or negative", http.StatusBadRequest)
		return
	}

	stored, err := s.comments.CountByNoteID(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "counting comments", err)
		return
	}
	if err := s.notes.AdjustCommentCountWithin(r.Context(), id, req.Delta, stored); err != nil {
		s.notFoundOr(w, r, "updating comment count", err)
		return
	}
	s.writeCount(w, r, id)
}

// handleSyncCount recomputes a note's comment count from its rows.
func (s *Server) handleSyncCount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	n, err := s.comments.CountByNoteID(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "counting comments", err)
		return
	}
	if err := s.notes.SyncCommentCount(r.Context(), id, n); err != nil {
		s.notFoundOr(w, r, "updating comment count", err)
		return
	}
	s.writeCount(w, r, id)
}

func (s *Server) writeCount(w http.ResponseWriter, r *http.Request, id string) {
	n, err := s.notes.GetByID(r.Context(), id)
	if err != nil {
		s.notFoundOr(w, r, "loading note", err)
		return
	}
	apiJSON(w, map[string]interface{}{"id": id, "comment_count": n.CommentCount}, http.StatusOK)
}

// handleDeleteCommentSecure deletes a comment on behalf of user_id. The
// caller may only act as themselves; anything else is reported as not
// deleted, the same as a missing comment or a comment by someone else.
func (s *Server) handleDeleteCommentSecure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CommentID string `json:"comment_id"`
		UserID    string `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CommentID == "" {
		apiError(w, "comment_id is required", http.StatusBadRequest)
		return
	}

	caller := auth.UserIDFromContext(r.Context())
	if req.UserID != caller {
		s.log.Info("refusing delete on behalf of another user",
			zap.String("caller", caller), zap.String("user_id", req.UserID))
		apiJSON(w, map[string]bool{"deleted": false}, http.StatusOK)
		return
	}

	// Read first so the event can name the note.
	target, err := s.comments.GetByID(r.Context(), req.CommentID)
	if err != nil && !errors.Is(err, comment.ErrNotFound) {
		s.internalError(w, r, "loading comment", err)
		return
	}

	deleted, err := s.comments.DeleteSecure(r.Context(), req.CommentID, caller)
	if err != nil {
		s.internalError(w, r, "deleting comment", fmt.Errorf("comment %s: %w", req.CommentID, err))
		return
	}

	if deleted && target != nil {
		s.publish(r, events.Event{
			Type:            events.CommentDeleted,
			NoteID:          target.NoteID,
			CommentID:       target.ID,
			ParentCommentID: target.ParentCommentID,
			UserID:          caller,
		})
	}

	apiJSON(w, map[string]bool{"deleted": deleted}, http.StatusOK)
}
