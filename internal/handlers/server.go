// internal/handlers/server.go
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jason-s-yu/teamlobby/internal/auth"
	"github.com/jason-s-yu/teamlobby/internal/broadcast"
	"github.com/jason-s-yu/teamlobby/internal/identity"
	"github.com/jason-s-yu/teamlobby/internal/lobby"
	"github.com/jason-s-yu/teamlobby/internal/middleware"
	"github.com/jason-s-yu/teamlobby/internal/models"
	"github.com/jason-s-yu/teamlobby/internal/session"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Lobbies    *lobby.Service
	Sessions   *session.Manager
	Resolver   *identity.Resolver
	Authorizer *broadcast.Authorizer
	Hub        *broadcast.Hub
	Logger     *logrus.Logger

	// PublicURL is the externally visible base URL, used for share links.
	PublicURL string
	// RateLimitPerMinute throttles mutating routes per client address; 0 disables it.
	RateLimitPerMinute int
	// OriginPatterns are accepted websocket origins; empty means same-origin only.
	OriginPatterns []string
}

// Server owns the router and the handler dependencies.
type Server struct {
	router     *mux.Router
	lobbies    *lobby.Service
	sessions   *session.Manager
	resolver   *identity.Resolver
	authorizer *broadcast.Authorizer
	hub        *broadcast.Hub
	logger     *logrus.Logger
	publicURL  string
	origins    []string
}

// NewServer builds the router. Background work started here stops with ctx.
func NewServer(ctx context.Context, d Deps) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		lobbies:    d.Lobbies,
		sessions:   d.Sessions,
		resolver:   d.Resolver,
		authorizer: d.Authorizer,
		hub:        d.Hub,
		logger:     d.Logger,
		publicURL:  strings.TrimRight(d.PublicURL, "/"),
		origins:    d.OriginPatterns,
	}
	s.setupRoutes(ctx, d.RateLimitPerMinute)
	return s
}

func (s *Server) setupRoutes(ctx context.Context, perMinute int) {
	s.router.Use(middleware.LogMiddleware(s.logger))

	limit := func(h http.HandlerFunc) http.Handler { return h }
	if perMinute > 0 {
		rl := middleware.NewRateLimiter(ctx, perMinute)
		limit = func(h http.HandlerFunc) http.Handler { return rl.Middleware(h) }
	}

	s.router.HandleFunc("/", s.Dashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", s.Dashboard).Methods(http.MethodGet)

	s.router.Handle("/lobby", limit(s.CreateLobby)).Methods(http.MethodPost)
	s.router.HandleFunc("/lobby/{code}", s.ShowLobby).Methods(http.MethodGet)
	s.router.Handle("/lobby/{code}/join", limit(s.JoinTeam)).Methods(http.MethodPost)
	s.router.Handle("/lobby/{code}/teams", limit(s.AddTeam)).Methods(http.MethodPost)
	s.router.Handle("/lobby/{code}/players", limit(s.RemovePlayer)).Methods(http.MethodDelete)
	s.router.Handle("/lobby/{code}/start", limit(s.StartLobby)).Methods(http.MethodPost)
	s.router.HandleFunc("/lobby/{code}/games/{game}", s.ShowGame).Methods(http.MethodGet)
	s.router.HandleFunc("/lobby/{code}/qr.png", s.LobbyQR).Methods(http.MethodGet)

	s.router.Handle("/broadcasting/auth", limit(s.BroadcastAuth)).Methods(http.MethodPost)
	s.router.HandleFunc("/ws", s.BroadcastWS).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "not found"})
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer wraps the router in an http.Server with sane timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// requestContext is who is calling and with which session.
type requestContext struct {
	caller    models.Identity
	accountID string
	sess      session.Session
}

// identify loads the session and resolves the caller's identity for lobbyCode.
func (s *Server) identify(w http.ResponseWriter, r *http.Request, lobbyCode string) (*requestContext, error) {
	sess, err := s.sessions.Load(w, r)
	if err != nil {
		return nil, err
	}
	accountID, _ := auth.AccountFromRequest(r)
	return &requestContext{
		caller:    s.resolver.Resolve(r.Context(), accountID, sess, lobbyCode),
		accountID: accountID,
		sess:      sess,
	}, nil
}

func (s *Server) lobbyURL(code string) string {
	return s.publicURL + "/lobby/" + code
}
