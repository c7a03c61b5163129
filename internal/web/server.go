// Package web provides the pen HTTP API.
package web

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/evcraddock/pen/internal/auth"
	"github.com/evcraddock/pen/internal/comment"
	"github.com/evcraddock/pen/internal/events"
	"github.com/evcraddock/pen/internal/logging"
	"github.com/evcraddock/pen/internal/note"
)

// Server is the API HTTP server.
type Server struct {
	notes    *note.Repository
	comments *comment.Repository
	users    *auth.UserStore
	apiKeys  *auth.APIKeyStore
	events   events.Publisher
	log      *zap.Logger

	trustProxy bool

	router  *mux.Router
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// TrustProxy makes the key limiter read client addresses from
// X-Forwarded-For. Enable only behind a proxy that sets the header.
func TrustProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

// NewServer creates an API server backed by db. A nil publisher disables
// comment events.
func NewServer(db *sql.DB, logger *zap.Logger, pub events.Publisher, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = events.Nop{}
	}

	s := &Server{
		notes:    note.NewRepository(db),
		comments: comment.NewRepository(db),
		users:    auth.NewUserStore(db),
		apiKeys:  auth.NewAPIKeyStore(db),
		events:   pub,
		log:      logger,
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints()

	s.handler = logging.RequestLogger(logger)(auth.RequireAPIKey(s.apiKeys, s.trustProxy, s.router))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) endpoints() {
	r := s.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apiError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apiError(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/notes", s.handleListNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes", s.handleCreateNote).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}", s.handleGetNote).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", s.handleDeleteNote).Methods(http.MethodDelete)
	api.HandleFunc("/notes/{id}/comments", s.handleListComments).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}/comments", s.handleAddComment).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}/thread", s.handleThread).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}/comment_count", s.handleAdjustCount).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}/comment_count/sync", s.handleSyncCount).Methods(http.MethodPost)
	api.HandleFunc("/rpc/delete_comment_secure", s.handleDeleteCommentSecure).Methods(http.MethodPost)
}
