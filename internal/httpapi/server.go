// Package httpapi serves the admin HTTP API of a meshrouter node: login, health, the
// routing table, multicast receivers, message injection and prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/internal/auth"
)

const routesPrefix = "/api/v1/routes/"

// Config holds server configuration
type Config struct {
	// Listen is host:port
	Listen    string
	SecretKey string
	// NoAuth disables authentication; meant for development
	NoAuth bool
	// Metrics serves /metrics when set
	Metrics http.Handler
	Logger  *zap.Logger
}

// Server represents the admin HTTP server
type Server struct {
	handlers   *Handlers
	middleware *Middleware
	metrics    http.Handler
	server     *http.Server
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a new admin server for backend
func NewServer(backend Backend, config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("httpapi")

	jwtAuth := auth.NewJWTAuth(config.SecretKey)
	s := &Server{
		handlers:   NewHandlers(backend, jwtAuth, config.SecretKey, logger),
		middleware: NewMiddleware(jwtAuth, config.NoAuth, logger),
		metrics:    config.Metrics,
		logger:     logger,
	}

	s.server = &http.Server{
		Addr:           config.Listen,
		Handler:        s.Handler(),
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("admin API listening", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin API stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(handler)))
	}

	// no auth
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	mux.Handle("/api/v1/routes", withMiddleware(s.middleware.AdminRequired(s.handleRoutes)))
	mux.Handle(routesPrefix, withMiddleware(s.middleware.AdminRequired(s.handleRouteByID)))
	mux.Handle("/api/v1/multicast", withMiddleware(s.middleware.AdminRequired(s.handleMulticast)))
	mux.Handle("/api/v1/messages", withMiddleware(s.middleware.AdminRequired(s.handleMessages)))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return mux
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handlers.ListRoutes(w, r)
}

func (s *Server) handleRouteByID(w http.ResponseWriter, r *http.Request) {
	participantID := strings.TrimPrefix(r.URL.Path, routesPrefix)
	if participantID == "" {
		writeError(w, "Participant ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handlers.GetRoute(w, r, participantID)
	case http.MethodPut:
		s.handlers.PutRoute(w, r, participantID)
	case http.MethodDelete:
		s.handlers.DeleteRoute(w, r, participantID)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleMulticast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handlers.ListMulticast(w, r)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handlers.SendMessage(w, r)
}
