// Package server contains the client-facing Dalang server: the WebSocket
// endpoint clients connect to and the per-connection sessions that speak
// the packet protocol.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dalang-app/dalang/internal/auth"
	"github.com/dalang-app/dalang/internal/core"
	"github.com/dalang-app/dalang/internal/server/project"
)

// Server accepts WebSocket connections and tracks the sessions spawned
// for them. All shared state is owned here; sessions reach it through
// their back-reference, never through package globals.
type Server struct {
	config        *core.Config
	logger        *logrus.Logger
	authenticator auth.Authenticator
	db            *gorm.DB

	upgrader websocket.Upgrader
	registry *prometheus.Registry
	metrics  *metrics

	mu       sync.Mutex
	sessions map[string]*Session
	// Sessions that have opened a project for editing, by session id.
	editing map[string]struct{}
}

// New builds a Server from its dependencies and runs the project-store
// migrations on the provided database handle.
func New(config *core.Config, logger *logrus.Logger, authenticator auth.Authenticator, db *gorm.DB) (*Server, error) {
	if err := project.Migrate(db); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	return &Server{
		config:        config,
		logger:        logger,
		authenticator: authenticator,
		db:            db,
		upgrader: websocket.Upgrader{
			// Editor clients connect from arbitrary origins; the protocol
			// handles authentication itself.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry: registry,
		metrics:  newMetrics(registry),
		sessions: make(map[string]*Session),
		editing:  make(map[string]struct{}),
	}, nil
}

// MetricsRegistry exposes the server's Prometheus registry so the debug
// server can serve it.
func (s *Server) MetricsRegistry() *prometheus.Registry {
	return s.registry
}

// Handler returns the HTTP handler exposing the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.config.ListenAddress(),
		Handler: s.Handler(),
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Infof("waiting for connections on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.openSessions() >= s.config.MaxConnections {
		s.logger.Warnf("rejecting connection from %s: server full", r.RemoteAddr)
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Warnf("error upgrading connection from %s: %v", r.RemoteAddr, err)
		return
	}

	session := newSession(s, conn)
	s.addSession(session)
	defer s.removeSession(session)

	session.run()
}

func (s *Server) openSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) addSession(session *Session) {
	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()
	s.metrics.openSessions.Inc()
}

func (s *Server) removeSession(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session.id)
	_, wasEditing := s.editing[session.id]
	delete(s.editing, session.id)
	s.mu.Unlock()

	s.metrics.openSessions.Dec()
	if wasEditing {
		s.metrics.editingSessions.Dec()
	}
}

// markEditing records that a session has opened a project. Reopening is
// idempotent.
func (s *Server) markEditing(session *Session) {
	s.mu.Lock()
	_, already := s.editing[session.id]
	if !already {
		s.editing[session.id] = struct{}{}
	}
	s.mu.Unlock()

	if !already {
		s.metrics.editingSessions.Inc()
	}
}

func newSessionID() string {
	return uuid.NewString()
}
