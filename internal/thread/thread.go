// Package thread drives one note's comment thread on the client side:
// it loads rows from the comment store, builds the reply tree, and keeps
// the displayed tree in step with posts and deletes.
package thread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/evcraddock/pen/internal/comment"
)

var (
	// ErrEmptyText is returned when a post has no text after trimming.
	ErrEmptyText = errors.New("comment text is required")
	// ErrNotAuthenticated is returned when no user is signed in.
	ErrNotAuthenticated = errors.New("not signed in")
	// ErrPermissionDenied is returned when the store refuses a delete.
	ErrPermissionDenied = errors.New("you do not have permission to delete this comment")
	// ErrNoThread is returned by mutations before any thread was loaded.
	ErrNoThread = errors.New("no thread loaded")
	// ErrClosed is returned once the controller has been closed.
	ErrClosed = errors.New("thread controller closed")
)

// Store is the comment store as seen by the client.
type Store interface {
	ListComments(ctx context.Context, noteID string) ([]*comment.Comment, error)
	AddComment(ctx context.Context, noteID, text, parentCommentID string) (*comment.Comment, error)
	DeleteCommentSecure(ctx context.Context, commentID, userID string) (bool, error)
}

// Counter maintains the denormalized comment count on a note.
type Counter interface {
	AdjustCommentCount(ctx context.Context, noteID string, delta int) error
}

// Identity resolves the signed-in user. An empty ID means nobody is
// signed in.
type Identity interface {
	CurrentUserID(ctx context.Context) (string, error)
}

// Alerter shows a blocking message to the user.
type Alerter interface {
	Alert(title, message string)
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Store    Store
	Counter  Counter
	Identity Identity
	Alerts   Alerter
	Logger   *zap.Logger

	// Reconcile re-fetches the thread after every successful post or
	// delete instead of trusting the local patch alone.
	Reconcile bool
}

type nopAlerter struct{}

func (nopAlerter) Alert(string, string) {}

// Controller holds the displayed thread of one note. It is safe for
// concurrent use; operations are not serialized against each other.
type Controller struct {
	store     Store
	counter   Counter
	identity  Identity
	alerts    Alerter
	log       *zap.Logger
	reconcile bool

	// ctx bounds every operation; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	noteID  string
	nodes   []*comment.Node
	loadSeq uint64
	version uint64
}

// New creates a controller.
func New(d Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:     d.Store,
		counter:   d.Counter,
		identity:  d.Identity,
		alerts:    d.Alerts,
		log:       d.Logger,
		reconcile: d.Reconcile,
		ctx:       ctx,
		cancel:    cancel,
	}
	if c.alerts == nil {
		c.alerts = nopAlerter{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Close cancels in-flight operations. Results that arrive afterwards are
// not applied.
func (c *Controller) Close() {
	c.cancel()
}

// scope derives a context that ends with either ctx or the controller.
func (c *Controller) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// NoteID returns the note whose thread is displayed.
func (c *Controller) NoteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.noteID
}

// Version increases every time the displayed thread changes.
func (c *Controller) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Thread returns a copy of the displayed thread.
func (c *Controller) Thread() []*comment.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return comment.Clone(c.nodes)
}

// Load fetches the note's comments and replaces the displayed thread.
// On failure the previous thread stays. A load overtaken by a newer load,
// or by a local change to the same thread, is dropped without error.
func (c *Controller) Load(ctx context.Context, noteID string) error {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.loadSeq++
	seq := c.loadSeq
	startVersion := c.version
	c.mu.Unlock()

	ctx, done := c.scope(ctx)
	defer done()

	rows, err := c.store.ListComments(ctx, noteID)
	if err != nil {
		c.log.Error("loading comments", zap.String("note_id", noteID), zap.Error(err))
		return fmt.Errorf("loading comments for note %s: %w", noteID, err)
	}
	nodes := comment.BuildTree(rows)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if seq != c.loadSeq || (c.noteID == noteID && c.version != startVersion) {
		c.log.Debug("dropping stale thread load", zap.String("note_id", noteID))
		return nil
	}

	c.noteID = noteID
	c.nodes = nodes
	c.version++
	return nil
}

// Post adds a comment to the displayed note, or a reply when replyTo is a
// top-level comment ID. The new comment is spliced into the displayed
// thread and the note's comment count is incremented.
func (c *Controller) Post(ctx context.Context, text, replyTo string) (*comment.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	noteID, err := c.current()
	if err != nil {
		return nil, err
	}

	ctx, done := c.scope(ctx)
	defer done()

	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		c.log.Error("resolving current user", zap.Error(err))
		return nil, fmt.Errorf("resolving current user: %w", err)
	}
	if userID == "" {
		c.log.Debug("ignoring post without a signed-in user", zap.String("note_id", noteID))
		return nil, ErrNotAuthenticated
	}

	created, err := c.store.AddComment(ctx, noteID, text, replyTo)
	if err != nil {
		c.log.Error("posting comment",
			zap.String("note_id", noteID), zap.String("reply_to", replyTo), zap.Error(err))
		return nil, fmt.Errorf("posting comment: %w", err)
	}

	c.mu.Lock()
	if c.ctx.Err() == nil && c.noteID == noteID {
		c.insertLocked(created)
	}
	c.mu.Unlock()

	c.adjustCount(ctx, noteID, 1)
	c.reconcileAfter(ctx, noteID)

	return created, nil
}

// Delete removes a comment the signed-in user wrote. Deleting a top-level
// comment also removes its replies. Refusals and failures are shown to the
// user and leave the displayed thread unchanged.
func (c *Controller) Delete(ctx context.Context, commentID string, isReply bool) error {
	noteID, err := c.current()
	if err != nil {
		return err
	}

	ctx, done := c.scope(ctx)
	defer done()

	userID, err := c.identity.CurrentUserID(ctx)
	if err != nil {
		c.log.Error("resolving current user", zap.Error(err))
		c.alerts.Alert("Delete failed", "Could not verify who is signed in. Please try again.")
		return fmt.Errorf("resolving current user: %w", err)
	}
	if userID == "" {
		c.alerts.Alert("Not signed in", "Sign in to delete comments.")
		return ErrNotAuthenticated
	}

	shown := 0
	c.mu.Lock()
	if c.noteID == noteID {
		shown = c.displayedLocked(commentID, isReply)
	}
	c.mu.Unlock()

	ok, err := c.store.DeleteCommentSecure(ctx, commentID, userID)
	if err != nil {
		c.log.Error("deleting comment", zap.String("comment_id", commentID), zap.Error(err))
		c.alerts.Alert("Delete failed", "Could not delete the comment. Please try again.")
		return fmt.Errorf("deleting comment %s: %w", commentID, err)
	}
	if !ok {
		c.log.Info("comment delete refused",
			zap.String("comment_id", commentID), zap.String("user_id", userID))
		c.alerts.Alert("Delete failed", "You do not have permission to delete this comment.")
		return ErrPermissionDenied
	}

	removed := 0
	c.mu.Lock()
	if c.ctx.Err() == nil && c.noteID == noteID {
		removed = c.removeLocked(commentID, isReply)
	}
	c.mu.Unlock()

	// A reload can drop the comment before the splice. The store removed
	// at least the comment itself even when it was not on screen.
	c.adjustCount(ctx, noteID, -max(shown, removed, 1))
	c.reconcileAfter(ctx, noteID)

	return nil
}

// current returns the displayed note, or an error if there is none.
func (c *Controller) current() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return "", ErrClosed
	}
	if c.noteID == "" {
		return "", ErrNoThread
	}
	return c.noteID, nil
}

// insertLocked splices a new comment into the thread unless a reload
// already brought it in. Callers hold mu.
func (c *Controller) insertLocked(created *comment.Comment) {
	n := &comment.Node{Comment: *created, Replies: []*comment.Node{}}

	if !created.IsReply() {
		if indexOf(c.nodes, created.ID) >= 0 {
			return
		}
		c.nodes = append([]*comment.Node{n}, c.nodes...)
		c.version++
		return
	}

	for _, parent := range c.nodes {
		if parent.ID == created.ParentCommentID {
			if indexOf(parent.Replies, created.ID) >= 0 {
				return
			}
			parent.Replies = append(parent.Replies, n)
			c.version++
			return
		}
	}
	c.log.Debug("reply target not displayed",
		zap.String("comment_id", created.ID), zap.String("parent_id", created.ParentCommentID))
}

// displayedLocked returns how many comments deleting commentID would take
// off the screen. Callers hold mu.
func (c *Controller) displayedLocked(commentID string, isReply bool) int {
	if isReply {
		for _, parent := range c.nodes {
			if indexOf(parent.Replies, commentID) >= 0 {
				return 1
			}
		}
		return 0
	}
	if i := indexOf(c.nodes, commentID); i >= 0 {
		return 1 + len(c.nodes[i].Replies)
	}
	return 0
}

func indexOf(nodes []*comment.Node, id string) int {
	for i, n := range nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// removeLocked drops a comment from the thread and returns how many
// comments went with it. Callers hold mu.
func (c *Controller) removeLocked(commentID string, isReply bool) int {
	if isReply {
		for _, parent := range c.nodes {
			for i, r := range parent.Replies {
				if r.ID == commentID {
					parent.Replies = append(parent.Replies[:i:i], parent.Replies[i+1:]...)
					c.version++
					return 1
				}
			}
		}
		return 0
	}

	for i, n := range c.nodes {
		if n.ID == commentID {
			c.nodes = append(c.nodes[:i:i], c.nodes[i+1:]...)
			c.version++
			return 1 + len(n.Replies)
		}
	}
	return 0
}

func (c *Controller) adjustCount(ctx context.Context, noteID string, delta int) {
	if c.counter == nil {
		return
	}
	if err := c.counter.AdjustCommentCount(ctx, noteID, delta); err != nil {
		c.log.Warn("updating comment count",
			zap.String("note_id", noteID), zap.Int("delta", delta), zap.Error(err))
	}
}

func (c *Controller) reconcileAfter(ctx context.Context, noteID string) {
	if !c.reconcile {
		return
	}
	if err := c.Load(ctx, noteID); err != nil {
		c.log.Warn("reconciling thread", zap.String("note_id", noteID), zap.Error(err))
	}
}
