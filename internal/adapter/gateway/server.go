package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"metasearch/internal/infra/config"
	"metasearch/internal/infra/middleware"
)

// shutdownTimeout bounds a graceful Stop.
const shutdownTimeout = 5 * time.Second

// Server serves the search API over HTTP.
type Server struct {
	handler *Handler
	cfg     config.ServerConfig
	logger  *slog.Logger

	mu         sync.Mutex
	httpSrv    *http.Server
	boundAddr  string
	httpRoutes []httpRoute
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates an API server for handler.
func NewServer(handler *Handler, cfg config.ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		handler: handler,
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
	}
}

// RegisterHTTPRoute adds a route next to the built-in ones. Call before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Routes returns the full handler chain: routes, rate limiting and security
// headers. The rate limiter's cleanup stops with ctx.
func (s *Server) Routes(ctx context.Context) http.Handler {
	mux := s.handler.Mux()
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	var h http.Handler = mux
	h = middleware.RateLimit(ctx, s.cfg.RateLimit)(h)
	return middleware.SecurityHeaders(h)
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:      s.Routes(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
