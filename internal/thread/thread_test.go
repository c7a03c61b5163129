package thread

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/evcraddock/pen/internal/comment"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeStore keeps comments in memory with the same rules as the server.
type fakeStore struct {
	mu     sync.Mutex
	rows   []*comment.Comment
	userID string
	seq    int

	listErr   error
	addErr    error
	deleteErr error

	// listHook runs inside ListComments before rows are returned.
	listHook func(ctx context.Context, noteID string) error
}

func (s *fakeStore) ListComments(ctx context.Context, noteID string) ([]*comment.Comment, error) {
	if s.listHook != nil {
		if err := s.listHook(ctx, noteID); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*comment.Comment
	// Newest first.
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].NoteID == noteID {
			c := *s.rows[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeStore) AddComment(_ context.Context, noteID, text, parentID string) (*comment.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return nil, s.addErr
	}
	s.seq++
	c := &comment.Comment{
		ID:              fmt.Sprintf("new-%d", s.seq),
		NoteID:          noteID,
		ParentCommentID: parentID,
		AuthorID:        s.userID,
		Text:            text,
		CreatedAt:       time.Date(2026, 1, 1, 0, 0, s.seq, 0, time.UTC),
	}
	s.rows = append(s.rows, c)
	out := *c
	return &out, nil
}

func (s *fakeStore) DeleteCommentSecure(_ context.Context, commentID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return false, s.deleteErr
	}

	var target *comment.Comment
	for _, r := range s.rows {
		if r.ID == commentID {
			target = r
		}
	}
	if target == nil || userID == "" || target.AuthorID != userID {
		return false, nil
	}

	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.ID != commentID && r.ParentCommentID != commentID {
			kept = append(kept, r)
		}
	}
	s.rows = kept
	return true, nil
}

type fakeCounter struct {
	mu     sync.Mutex
	deltas []int
	err    error
}

func (f *fakeCounter) AdjustCommentCount(_ context.Context, _ string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, delta)
	return f.err
}

func (f *fakeCounter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.deltas {
		n += d
	}
	return n
}

type fakeIdentity struct {
	userID string
	err    error
}

func (f fakeIdentity) CurrentUserID(context.Context) (string, error) {
	return f.userID, f.err
}

type fakeAlerts struct {
	mu     sync.Mutex
	titles []string
	msgs   []string
}

func (f *fakeAlerts) Alert(title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	f.msgs = append(f.msgs, message)
}

type fixture struct {
	store   *fakeStore
	counter *fakeCounter
	alerts  *fakeAlerts
	ctrl    *Controller
}

func at(sec int) time.Time {
	return time.Date(2025, 6, 1, 12, 0, sec, 0, time.UTC)
}

// seedRows is the thread
//
//	c3 (me)
//	c1 (other)
//	  r2 (other)
//	  r1 (me)
func seedRows() []*comment.Comment {
	return []*comment.Comment{
		{ID: "c1", NoteID: "n1", AuthorID: "other", Text: "first", CreatedAt: at(1)},
		{ID: "r1", NoteID: "n1", ParentCommentID: "c1", AuthorID: "me", Text: "reply one", CreatedAt: at(2)},
		{ID: "r2", NoteID: "n1", ParentCommentID: "c1", AuthorID: "other", Text: "reply two", CreatedAt: at(3)},
		{ID: "c3", NoteID: "n1", AuthorID: "me", Text: "third", CreatedAt: at(4)},
		{ID: "x1", NoteID: "n2", AuthorID: "me", Text: "elsewhere", CreatedAt: at(5)},
	}
}

func newFixture(t *testing.T, userID string, opts ...func(*Deps)) *fixture {
	t.Helper()
	f := &fixture{
		store:   &fakeStore{rows: seedRows(), userID: userID},
		counter: &fakeCounter{},
		alerts:  &fakeAlerts{},
	}
	d := Deps{
		Store:    f.store,
		Counter:  f.counter,
		Identity: fakeIdentity{userID: userID},
		Alerts:   f.alerts,
	}
	for _, o := range opts {
		o(&d)
	}
	f.ctrl = New(d)
	t.Cleanup(f.ctrl.Close)
	return f
}

func shape(nodes []*comment.Node) []string {
	var out []string
	for _, n := range nodes {
		s := n.ID
		for _, r := range n.Replies {
			s += ">" + r.ID
		}
		out = append(out, s)
	}
	return out
}

func TestLoad(t *testing.T) {
	f := newFixture(t, "me")

	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	assert.Equal(t, "n1", f.ctrl.NoteID())
	assert.Equal(t, []string{"c3", "c1>r2>r1"}, shape(f.ctrl.Thread()))
}

func TestLoadEmpty(t *testing.T) {
	f := newFixture(t, "me")

	require.NoError(t, f.ctrl.Load(context.Background(), "no-comments"))

	thread := f.ctrl.Thread()
	assert.NotNil(t, thread)
	assert.Empty(t, thread)
}

func TestLoadFailureKeepsThread(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newFixture(t, "me", func(d *Deps) { d.Logger = zap.New(core) })
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
	before := f.ctrl.Version()

	f.store.listErr = errors.New("network down")
	err := f.ctrl.Load(context.Background(), "n1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.Equal(t, []string{"c3", "c1>r2>r1"}, shape(f.ctrl.Thread()))
	assert.Equal(t, before, f.ctrl.Version())
	assert.Equal(t, 1, logs.FilterMessage("loading comments").Len())
}

func TestThreadReturnsCopy(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	got := f.ctrl.Thread()
	got[0].Text = "changed"
	got[1].Replies = nil

	again := f.ctrl.Thread()
	assert.Equal(t, "third", again[0].Text)
	assert.Len(t, again[1].Replies, 2)
}

func TestPostTopLevel(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	created, err := f.ctrl.Post(context.Background(), "  hello  ", "")
	require.NoError(t, err)

	assert.Equal(t, "hello", created.Text)
	assert.Equal(t, "me", created.AuthorID)
	thread := f.ctrl.Thread()
	assert.Equal(t, []string{created.ID, "c3", "c1>r2>r1"}, shape(thread))
	assert.NotNil(t, thread[0].Replies)
	assert.Equal(t, []int{1}, f.counter.deltas)
}

func TestPostReply(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	created, err := f.ctrl.Post(context.Background(), "late reply", "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", created.ParentCommentID)
	assert.Equal(t, []string{"c3", "c1>r2>r1>" + created.ID}, shape(f.ctrl.Thread()))
	assert.Equal(t, []int{1}, f.counter.deltas)
}

func TestPostEmptyText(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
	before := f.ctrl.Version()

	_, err := f.ctrl.Post(context.Background(), " \n\t ", "")

	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, before, f.ctrl.Version())
	assert.Empty(t, f.counter.deltas)
	assert.Len(t, f.store.rows, 5)
}

func TestPostNotAuthenticated(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	f := newFixture(t, "", func(d *Deps) { d.Logger = zap.New(core) })
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	_, err := f.ctrl.Post(context.Background(), "hi", "")

	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Len(t, f.store.rows, 5)
	assert.Empty(t, f.counter.deltas)
	assert.Empty(t, f.alerts.titles, "no alert for a silent post refusal")
	assert.Equal(t, 1, logs.FilterMessage("ignoring post without a signed-in user").Len())
}

func TestPostStoreFailure(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
	f.store.addErr = errors.New("insert failed")

	_, err := f.ctrl.Post(context.Background(), "hi", "")

	require.Error(t, err)
	assert.Equal(t, []string{"c3", "c1>r2>r1"}, shape(f.ctrl.Thread()))
	assert.Empty(t, f.counter.deltas)
}

func TestPostCounterFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	f := newFixture(t, "me", func(d *Deps) { d.Logger = zap.New(core) })
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
	f.counter.err = errors.New("counter unavailable")

	_, err := f.ctrl.Post(context.Background(), "hi", "")

	require.NoError(t, err)
	assert.Len(t, f.ctrl.Thread(), 3)
	assert.Equal(t, 1, logs.FilterMessage("updating comment count").Len())
}

func TestMutationsBeforeLoad(t *testing.T) {
	f := newFixture(t, "me")

	_, err := f.ctrl.Post(context.Background(), "hi", "")
	assert.ErrorIs(t, err, ErrNoThread)

	err = f.ctrl.Delete(context.Background(), "c3", false)
	assert.ErrorIs(t, err, ErrNoThread)
}

func TestDeleteTopLevelRemovesReplies(t *testing.T) {
	f := newFixture(t, "other")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	require.NoError(t, f.ctrl.Delete(context.Background(), "c1", false))

	assert.Equal(t, []string{"c3"}, shape(f.ctrl.Thread()))
	assert.Equal(t, []int{-3}, f.counter.deltas)
	assert.Empty(t, f.alerts.titles)
	assert.Len(t, f.store.rows, 2)
}

func TestDeleteReply(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	require.NoError(t, f.ctrl.Delete(context.Background(), "r1", true))

	assert.Equal(t, []string{"c3", "c1>r2"}, shape(f.ctrl.Thread()))
	assert.Equal(t, []int{-1}, f.counter.deltas)
}

func TestDeleteDenied(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
	before := f.ctrl.Version()

	err := f.ctrl.Delete(context.Background(), "c1", false)

	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, []string{"c3", "c1>r2>r1"}, shape(f.ctrl.Thread()))
	assert.Equal(t, before, f.ctrl.Version())
	assert.Empty(t, f.counter.deltas)
	require.Len(t, f.alerts.msgs, 1)
	assert.Equal(t, "You do not have permission to delete this comment.", f.alerts.msgs[0])
}

func TestDeleteStoreFailureAlerts(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
	f.store.deleteErr = errors.New("rpc failed")

	err := f.ctrl.Delete(context.Background(), "c3", false)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
	assert.Len(t, f.alerts.titles, 1)
	assert.Len(t, f.ctrl.Thread(), 2)
	assert.Empty(t, f.counter.deltas)
}

func TestDeleteNotAuthenticated(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	err := f.ctrl.Delete(context.Background(), "c3", false)

	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Len(t, f.alerts.titles, 1)
	assert.Len(t, f.store.rows, 5)
}

func TestDeleteIdentityFailure(t *testing.T) {
	f := newFixture(t, "me", func(d *Deps) {
		d.Identity = fakeIdentity{err: errors.New("session expired")}
	})
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	err := f.ctrl.Delete(context.Background(), "c3", false)

	require.Error(t, err)
	assert.Len(t, f.alerts.titles, 1)
	assert.Len(t, f.store.rows, 5)
}

func TestDeleteNotDisplayedStillCounts(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	// Posted elsewhere after the load.
	f.store.rows = append(f.store.rows, &comment.Comment{ID: "late", NoteID: "n1", AuthorID: "me", Text: "late"})

	require.NoError(t, f.ctrl.Delete(context.Background(), "late", false))
	assert.Equal(t, []int{-1}, f.counter.deltas)
	assert.Len(t, f.ctrl.Thread(), 2)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t, "me", func(d *Deps) { d.Reconcile = true })
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	// A comment from someone else arrives out of band.
	f.store.rows = append(f.store.rows, &comment.Comment{
		ID: "c9", NoteID: "n1", AuthorID: "other", Text: "meanwhile", CreatedAt: at(9),
	})

	created, err := f.ctrl.Post(context.Background(), "mine", "")
	require.NoError(t, err)

	// The fake store lists by insertion order, newest first.
	assert.Equal(t, []string{created.ID, "c9", "c3", "c1>r2>r1"}, shape(f.ctrl.Thread()))
}

func TestStaleLoadDropped(t *testing.T) {
	f := newFixture(t, "me")

	slowStarted := make(chan struct{})
	releaseSlow := make(chan struct{})
	f.store.listHook = func(_ context.Context, noteID string) error {
		if noteID == "n1" {
			close(slowStarted)
			<-releaseSlow
		}
		return nil
	}

	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.Load(context.Background(), "n1") }()
	<-slowStarted

	require.NoError(t, f.ctrl.Load(context.Background(), "n2"))
	close(releaseSlow)
	require.NoError(t, <-errc)

	assert.Equal(t, "n2", f.ctrl.NoteID())
	assert.Equal(t, []string{"x1"}, shape(f.ctrl.Thread()))
}

func TestLoadOvertakenByPost(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.store.listHook = func(context.Context, string) error {
		once.Do(func() {
			close(started)
			<-release
		})
		return nil
	}

	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.Load(context.Background(), "n1") }()
	<-started

	// The reload has read nothing yet; the post lands locally first.
	created, err := f.ctrl.Post(context.Background(), "quick", "")
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-errc)

	assert.Equal(t, []string{created.ID, "c3", "c1>r2>r1"}, shape(f.ctrl.Thread()))
}

func TestCloseCancelsLoad(t *testing.T) {
	f := newFixture(t, "me")

	started := make(chan struct{})
	f.store.listHook = func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	errc := make(chan error, 1)
	go func() { errc <- f.ctrl.Load(context.Background(), "n1") }()
	<-started
	f.ctrl.Close()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.ctrl.NoteID())
	assert.Empty(t, f.ctrl.Thread())

	assert.ErrorIs(t, f.ctrl.Load(context.Background(), "n1"), ErrClosed)
}

func TestCallerContextCancel(t *testing.T) {
	f := newFixture(t, "me")
	f.store.listHook = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.ctrl.Load(ctx, "n1")
	assert.ErrorIs(t, err, context.Canceled)

	// The controller itself is still usable.
	f.store.listHook = nil
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
}

func TestConcurrentPosts(t *testing.T) {
	f := newFixture(t, "me")
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ctrl.Post(context.Background(), fmt.Sprintf("post %d", i), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.ctrl.Thread(), 12)
	assert.Equal(t, 10, f.counter.total())
}

// reloadingStore reloads the controller right after each successful write,
// before the controller applies its own change.
type reloadingStore struct {
	*fakeStore
	ctrl *Controller
}

func (s *reloadingStore) AddComment(ctx context.Context, noteID, text, parentID string) (*comment.Comment, error) {
	c, err := s.fakeStore.AddComment(ctx, noteID, text, parentID)
	if err == nil {
		err = s.ctrl.Load(ctx, noteID)
	}
	return c, err
}

func (s *reloadingStore) DeleteCommentSecure(ctx context.Context, commentID, userID string) (bool, error) {
	ok, err := s.fakeStore.DeleteCommentSecure(ctx, commentID, userID)
	if err == nil && ok {
		err = s.ctrl.Load(ctx, "n1")
	}
	return ok, err
}

func newReloadingFixture(t *testing.T, userID string) *fixture {
	t.Helper()
	rs := &reloadingStore{}
	f := newFixture(t, userID, func(d *Deps) {
		rs.fakeStore = d.Store.(*fakeStore)
		d.Store = rs
	})
	rs.ctrl = f.ctrl
	require.NoError(t, f.ctrl.Load(context.Background(), "n1"))
	return f
}

func TestPostAfterReloadNotDuplicated(t *testing.T) {
	tests := []struct {
		name    string
		replyTo string
		want    []string
	}{
		{"top-level", "", []string{"new-1", "c3", "c1>r2>r1"}},
		{"reply", "c1", []string{"c3", "c1>new-1>r2>r1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReloadingFixture(t, "me")

			created, err := f.ctrl.Post(context.Background(), "hi", tt.replyTo)
			require.NoError(t, err)

			assert.Equal(t, "new-1", created.ID)
			assert.Equal(t, tt.want, shape(f.ctrl.Thread()))
			assert.Equal(t, []int{1}, f.counter.deltas)
		})
	}
}

func TestDeleteAfterReloadCountsShownReplies(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		id      string
		isReply bool
		want    []string
		delta   int
	}{
		{"top-level with replies", "other", "c1", false, []string{"c3"}, -3},
		{"reply", "me", "r1", true, []string{"c3", "c1>r2"}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReloadingFixture(t, tt.userID)

			require.NoError(t, f.ctrl.Delete(context.Background(), tt.id, tt.isReply))

			assert.Equal(t, tt.want, shape(f.ctrl.Thread()))
			assert.Equal(t, []int{tt.delta}, f.counter.deltas)
		})
	}
}
