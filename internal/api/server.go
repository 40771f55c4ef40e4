// Package api serves captured messages over HTTP in the JSON shape of the
// MailHog v1 and v2 APIs, plus a minimal web UI and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/busybox42/mailfixture/internal/store"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents API server configuration
type Config struct {
	ListenAddr   string          `toml:"listen_addr" json:"listen_addr"`
	ReadTimeout  time.Duration   `toml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration   `toml:"write_timeout" json:"write_timeout"`
	CORS         CORSConfig      `toml:"cors" json:"cors"`
	RateLimit    RateLimitConfig `toml:"rate_limit" json:"rate_limit"`
	// SMTPAddr is reported by the health endpoint
	SMTPAddr string `toml:"-" json:"smtp_addr"`
	Version  string `toml:"-" json:"version"`
}

// DefaultConfig returns the API defaults, where MailHog serves its UI
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:   "127.0.0.1:8025",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Server represents the capture API server
type Server struct {
	config     *Config
	store      store.Store
	logger     *slog.Logger
	startedAt  time.Time
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
}

// NewServer creates a new API server reading from st
func NewServer(config *Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultConfig()
	cfg := *config
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaults.ListenAddr
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	s := &Server{
		config:    &cfg,
		store:     st,
		logger:    logger.With("component", "capture-api"),
		startedAt: time.Now(),
	}
	// CORS wraps the router so preflight requests never need a matching route
	limiter := NewRateLimitMiddleware(cfg.RateLimit)
	s.handler = NewCORSMiddleware(cfg.CORS).Handler(limiter.Limit(s.routes()))
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware(s.logger))

	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	v2 := api.PathPrefix("/v2").Subrouter()
	v2.HandleFunc("/messages", s.handleListMessages).Methods("GET")

	v1 := api.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/messages", s.handleDeleteAll).Methods("DELETE")
	v1.HandleFunc("/messages/{id}", s.handleGetMessage).Methods("GET")
	v1.HandleFunc("/messages/{id}", s.handleDeleteMessage).Methods("DELETE")
	v1.HandleFunc("/messages/{id}/download", s.handleDownload).Methods("GET")
	v1.HandleFunc("/messages/{id}/html", s.handleHTML).Methods("GET")
	v1.HandleFunc("/messages/{id}/preview", s.handlePreview).Methods("GET")

	// mux only answers 405 from the router whose route matched the path
	for _, router := range []*mux.Router{r, api, v1, v2} {
		router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	}

	return r
}

// Handler returns the HTTP handler, for use with httptest
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Listen binds the HTTP listener without serving requests yet
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.listener = listener

	s.logger.Info("Capture API listening", "addr", listener.Addr().String())
	return nil
}

// Start binds the listener if needed and serves until Shutdown is called
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run serves until ctx is cancelled, then shuts the server down
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the API server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Capture API shutting down")
	err := s.httpServer.Shutdown(ctx)

	// Covers a listener that was bound but never served
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	return err
}

// Addr returns the bound listener address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
