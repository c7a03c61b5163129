// Package client provides an HTTP client for the pen REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/evcraddock/pen/internal/auth"
	"github.com/evcraddock/pen/internal/comment"
	"github.com/evcraddock/pen/internal/note"
)

// Client is an HTTP client for the pen API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	mu     sync.Mutex
	userID string
}

// New creates a new API client. An empty apiKey makes every call
// anonymous.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Error is a non-2xx answer from the server.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return e.Message
}

// IsStatus reports whether err is a server answer with the given code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// NoteResponse is the response from GET /api/notes/{id}.
type NoteResponse struct {
	Note     *note.Note      `json:"note"`
	Comments []*comment.Node `json:"comments"`
}

// Me returns the user the API key belongs to.
func (c *Client) Me(ctx context.Context) (*auth.User, error) {
	var u auth.User
	if err := c.get(ctx, "/api/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// CurrentUserID returns the signed-in user's ID, or "" when the client has
// no key or the server does not accept it.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	if c.apiKey == "" {
		return "", nil
	}

	c.mu.Lock()
	id := c.userID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	u, err := c.Me(ctx)
	if IsStatus(err, http.StatusUnauthorized) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.userID = u.ID
	c.mu.Unlock()
	return u.ID, nil
}

// ListNotes returns all notes, newest first.
func (c *Client) ListNotes(ctx context.Context) ([]*note.Note, error) {
	var notes []*note.Note
	if err := c.get(ctx, "/api/notes", &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetNote returns a note with its comment thread.
func (c *Client) GetNote(ctx context.Context, id string) (*NoteResponse, error) {
	var resp NoteResponse
	if err := c.get(ctx, "/api/notes/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddNote creates a note.
func (c *Client) AddNote(ctx context.Context, title, body string) (*note.Note, error) {
	var n note.Note
	req := map[string]string{"title": title, "body": body}
	if err := c.post(ctx, "/api/notes", req, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// DeleteNote removes a note and its comments.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.doDelete(ctx, "/api/notes/"+url.PathEscape(id))
}

// ListComments returns a note's comment rows, newest first.
func (c *Client) ListComments(ctx context.Context, noteID string) ([]*comment.Comment, error) {
	var rows []*comment.Comment
	if err := c.get(ctx, notePath(noteID, "/comments"), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Thread returns a note's comments as assembled by the server.
func (c *Client) Thread(ctx context.Context, noteID string) ([]*comment.Node, error) {
	var nodes []*comment.Node
	if err := c.get(ctx, notePath(noteID, "/thread"), &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// AddComment posts a comment, or a reply when parentCommentID is set.
func (c *Client) AddComment(ctx context.Context, noteID, text, parentCommentID string) (*comment.Comment, error) {
	req := map[string]string{"text": text}
	if parentCommentID != "" {
		req["parent_comment_id"] = parentCommentID
	}
	var created comment.Comment
	if err := c.post(ctx, notePath(noteID, "/comments"), req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteCommentSecure asks the server to delete a comment on behalf of
// userID. It reports whether anything was deleted.
func (c *Client) DeleteCommentSecure(ctx context.Context, commentID, userID string) (bool, error) {
	req := map[string]string{"comment_id": commentID, "user_id": userID}
	var resp struct {
		Deleted bool `json:"deleted"`
	}
	if err := c.post(ctx, "/api/rpc/delete_comment_secure", req, &resp); err != nil {
		return false, err
	}
	return resp.Deleted, nil
}

// AdjustCommentCount adds delta to a note's stored comment count.
func (c *Client) AdjustCommentCount(ctx context.Context, noteID string, delta int) error {
	return c.post(ctx, notePath(noteID, "/comment_count"), map[string]int{"delta": delta}, nil)
}

// SyncCommentCount recomputes a note's stored comment count and returns it.
func (c *Client) SyncCommentCount(ctx context.Context, noteID string) (int, error) {
	var resp struct {
		CommentCount int `json:"comment_count"`
	}
	if err := c.post(ctx, notePath(noteID, "/comment_count/sync"), struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.CommentCount, nil
}

func notePath(noteID, suffix string) string {
	return "/api/notes/" + url.PathEscape(noteID) + suffix
}

// get performs a GET request and decodes the response.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

// post performs a POST request with a JSON body and decodes the response.
func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

// doDelete performs a DELETE request.
func (c *Client) doDelete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, nil)
}

// do executes an HTTP request with auth header and handles errors.
func (c *Client) do(req *http.Request, result interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var errResp struct {
			Error string `json:"error"`
		}
		switch {
		case json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "":
			apiErr.Message = errResp.Error
		case len(bytes.TrimSpace(respBody)) > 0 && len(respBody) < 200:
			apiErr.Message = strings.TrimSpace(string(respBody))
		default:
			apiErr.Message = "server error: " + http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
