// Package api exposes the OTAI core operations over HTTP with the JSON
// envelope {status, message, result}.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/OTAI/internal/account"
	"github.com/BTreeMap/OTAI/internal/escalation"
	"github.com/BTreeMap/OTAI/internal/flow"
	"github.com/BTreeMap/OTAI/internal/metrics"
	"github.com/BTreeMap/OTAI/internal/models"
	"github.com/BTreeMap/OTAI/internal/referral"
	"github.com/BTreeMap/OTAI/internal/repository"
	"github.com/BTreeMap/OTAI/internal/session"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

const defaultShutdownTimeout = 10 * time.Second

// Deps are the services the server exposes.
type Deps struct {
	Repo         *repository.Repository
	Accounts     *account.Service
	Sessions     *session.Manager
	Flow         *flow.ConversationFlow
	Tracker      *escalation.Tracker
	Referrals    *referral.Service
	Metrics      *metrics.Metrics
	AIConfigured bool
}

// Server is the HTTP shell around the OTAI services.
type Server struct {
	Deps
	addr            string
	shutdownTimeout time.Duration
	mux             *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer creates a server and registers its routes.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{
		Deps:            deps,
		addr:            DefaultAddr,
		shutdownTimeout: defaultShutdownTimeout,
		mux:             http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /users", s.signUpHandler)
	s.mux.HandleFunc("GET /users", s.listUsersHandler)
	s.mux.HandleFunc("POST /signin", s.signInHandler)
	s.mux.HandleFunc("POST /signout", s.signOutHandler)
	s.mux.HandleFunc("GET /status", s.statusHandler)

	s.mux.HandleFunc("GET /users/{userID}/session", s.activeSessionHandler)
	s.mux.HandleFunc("POST /users/{userID}/messages", s.sendMessageHandler)
	s.mux.HandleFunc("POST /users/{userID}/conversations", s.newConversationHandler)
	s.mux.HandleFunc("GET /users/{userID}/archive", s.archiveHandler)
	s.mux.HandleFunc("GET /users/{userID}/archive/{sessionID}", s.archivedSessionHandler)
	s.mux.HandleFunc("DELETE /users/{userID}/archive/{sessionID}", s.deleteArchivedSessionHandler)
	s.mux.HandleFunc("POST /users/{userID}/archive/{sessionID}/resume", s.resumeSessionHandler)

	s.mux.HandleFunc("GET /users/{userID}/escalation", s.escalationHandler)
	s.mux.HandleFunc("POST /users/{userID}/referrals/open", s.openReferralHandler)
	s.mux.HandleFunc("POST /users/{userID}/referrals", s.submitReferralHandler)
	s.mux.HandleFunc("GET /users/{userID}/referrals", s.listReferralsHandler)
	s.mux.HandleFunc("POST /users/{userID}/referrals/{referralID}/retry", s.retryReferralHandler)
	s.mux.HandleFunc("DELETE /users/{userID}/referrals/{referralID}", s.deleteReferralHandler)

	s.mux.Handle("GET /metrics", s.Metrics.Handler())
}

// Handler returns the root handler with request metrics applied.
func (s *Server) Handler() http.Handler {
	return s.instrument(s.mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: OTAI API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	return nil
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Metrics.RecordHTTPRequest(r.Method, rec.status, time.Since(start))
	})
}

// userFromPath resolves the {userID} path value, writing a 404 when the
// user does not exist.
func (s *Server) userFromPath(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	userID := r.PathValue("userID")
	u, err := s.Repo.UserByID(r.Context(), userID)
	if err != nil {
		writeError(w, "Server.userFromPath", err)
		return nil, false
	}
	if u == nil {
		writeError(w, "Server.userFromPath", fmt.Errorf("%w: %s", models.ErrUserNotFound, userID))
		return nil, false
	}
	return u, true
}
