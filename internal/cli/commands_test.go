package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evcraddock/pen/internal/auth"
	"github.com/evcraddock/pen/internal/comment"
	"github.com/evcraddock/pen/internal/db"
	"github.com/evcraddock/pen/internal/note"
	"github.com/evcraddock/pen/internal/web"
)

type liveEnv struct {
	url      string
	dbPath   string
	aliceKey string
	bobKey   string
}

// startLive runs the API over a fresh database and points the CLI at it.
func startLive(t *testing.T) *liveEnv {
	t.Helper()
	env := &liveEnv{dbPath: filepath.Join(t.TempDir(), "pen.db")}

	d, err := db.Open(env.dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	srv := httptest.NewServer(web.NewServer(d, nil, nil))
	t.Cleanup(srv.Close)
	env.url = srv.URL

	users := auth.NewUserStore(d)
	keys := auth.NewAPIKeyStore(d)
	for _, u := range []struct {
		email, name string
		key         *string
	}{
		{"alice@example.com", "Alice", &env.aliceKey},
		{"bob@example.com", "Bob", &env.bobKey},
	} {
		created, err := users.Add(context.Background(), u.email, u.name, "")
		require.NoError(t, err)
		*u.key, _, err = keys.Create(context.Background(), "test", created.ID)
		require.NoError(t, err)
	}

	t.Setenv("HOME", t.TempDir())
	t.Setenv("PEN_SERVER_URL", env.url)
	return env
}

func runJSON(t *testing.T, v interface{}, args ...string) {
	t.Helper()
	out, err := executeCommand(append(args, "--format", "json")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestCommentWorkflow(t *testing.T) {
	env := startLive(t)
	t.Setenv("PEN_API_KEY", env.aliceKey)

	var n note.Note
	runJSON(t, &n, "note", "add", "Reading", "list", "--body", "books for spring")
	assert.Equal(t, "Reading list", n.Title)

	var top comment.Comment
	runJSON(t, &top, "comment", n.ID, "Start", "with", "Dune")
	assert.Equal(t, "Start with Dune", top.Text)

	t.Setenv("PEN_API_KEY", env.bobKey)
	var reply comment.Comment
	runJSON(t, &reply, "comment", n.ID, "agreed", "--reply-to", top.ID)
	assert.Equal(t, top.ID, reply.ParentCommentID)

	out, err := executeCommand("comments", n.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Comments on "+n.ID+" (2):")
	assert.Contains(t, out, "Alice ("+top.ID+")")
	assert.Contains(t, out, "↳ ")
	assert.Contains(t, out, "Bob ("+reply.ID+")")

	// Bob cannot remove Alice's comment.
	out, err = executeCommand("uncomment", n.ID, top.ID)
	require.Error(t, err)
	assert.Contains(t, out, "You do not have permission to delete this comment.")

	var recount map[string]interface{}
	runJSON(t, &recount, "recount", n.ID)
	assert.EqualValues(t, 2, recount["comment_count"])

	t.Setenv("PEN_API_KEY", env.aliceKey)
	out, err = executeCommand("uncomment", n.ID, top.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Comment "+top.ID+" deleted.")

	var nodes []comment.Node
	runJSON(t, &nodes, "comments", n.ID)
	assert.Empty(t, nodes)

	out, err = executeCommand("note", "show", n.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "books for spring")
	assert.Contains(t, out, "No comments.")

	var notes []note.Note
	runJSON(t, &notes, "notes")
	require.Len(t, notes, 1)

	_, err = executeCommand("note", "rm", n.ID)
	require.NoError(t, err)
	out, err = executeCommand("notes")
	require.NoError(t, err)
	assert.Contains(t, out, "No notes yet.")
}

func TestCommentWithoutLogin(t *testing.T) {
	env := startLive(t)
	t.Setenv("PEN_API_KEY", env.aliceKey)
	var n note.Note
	runJSON(t, &n, "note", "add", "Trip")

	// Without a key the API refuses to load the thread at all.
	t.Setenv("PEN_API_KEY", "")
	_, err := executeCommand("comment", n.ID, "hello")
	require.Error(t, err)
}

func TestAdminCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dbPath := filepath.Join(t.TempDir(), "admin.db")

	var u auth.User
	runJSON(t, &u, "users", "add", "Carol@Example.com", "--name", "Carol", "--db", dbPath)
	assert.Equal(t, "carol@example.com", u.Email)

	out, err := executeCommand("users", "list", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "carol@example.com")

	var created struct {
		Key    string `json:"key"`
		ID     int64  `json:"id"`
		UserID string `json:"user_id"`
	}
	runJSON(t, &created, "keys", "create", "carol@example.com", "--db", dbPath)
	assert.True(t, strings.HasPrefix(created.Key, auth.KeyPrefix))
	assert.Equal(t, u.ID, created.UserID)

	out, err = executeCommand("keys", "list", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, created.Key[:8])
	assert.Contains(t, out, "never")

	_, err = executeCommand("keys", "create", "nobody@example.com", "--db", dbPath)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)

	_, err = executeCommand("keys", "rm", "999", "--db", dbPath)
	assert.Error(t, err)

	_, err = executeCommand("users", "rm", u.ID, "--db", dbPath)
	require.NoError(t, err)
	out, err = executeCommand("keys", "list", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No API keys.", "keys cascade with their user")
}

func TestLogin(t *testing.T) {
	env := startLive(t)

	var out bytes.Buffer
	err := runLogin(context.Background(), strings.NewReader(env.bobKey+"\n"), &out, "")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Logged in as Bob <bob@example.com>")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, env.bobKey, cfg.APIKey)
	assert.Empty(t, cfg.ServerURL, "server comes from the environment")
}

func TestLoginRejectsUnknownKey(t *testing.T) {
	startLive(t)

	var out bytes.Buffer
	err := runLogin(context.Background(), strings.NewReader("pen_0000\n"), &out, "")
	require.Error(t, err)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.APIKey)
}

func TestLoginServerFlagSaved(t *testing.T) {
	env := startLive(t)
	t.Setenv("PEN_SERVER_URL", "")

	var out bytes.Buffer
	require.NoError(t, runLogin(context.Background(), strings.NewReader(env.aliceKey), &out, env.url))

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, env.url, cfg.ServerURL)
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "pen_abc123def456", false},
		{"empty key", "", true},
		{"missing prefix", "abc123def456", true},
		{"old prefix", "hf_abc123", true},
		{"just prefix", "pen_", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAPIKey(%q) err = %v, wantErr = %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	env := startLive(t)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"no key", "", "Run 'pen login' to authenticate."},
		{"valid key", env.aliceKey, "✓ connected and authenticated"},
		{"short invalid key", "pen_ab", "✗ invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PEN_API_KEY", tt.key)
			var out bytes.Buffer
			require.NoError(t, runStatus(context.Background(), &out))
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestStatusUnreachable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PEN_SERVER_URL", "http://127.0.0.1:1")
	t.Setenv("PEN_API_KEY", "pen_whatever1234")

	var out bytes.Buffer
	require.NoError(t, runStatus(context.Background(), &out))
	assert.Contains(t, out.String(), "Status:  ✗")
}

func TestLogout(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	var out bytes.Buffer
	require.NoError(t, runLogout(&out))
	assert.Equal(t, "Not logged in.\n", out.String())

	require.NoError(t, saveConfig(CLIConfig{APIKey: "pen_testkey123", ServerURL: "http://notes.local:9090"}))
	out.Reset()
	require.NoError(t, runLogout(&out))

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Empty(t, loaded.APIKey)
	assert.Equal(t, "http://notes.local:9090", loaded.ServerURL, "server kept after logout")
}
