// Package smtp implements the local mail-capture server. It accepts any
// sender and recipient, optionally upgrades sessions with STARTTLS, and
// keeps every message in a store instead of delivering it.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/busybox42/mailfixture/internal/store"
	gosmtp "github.com/emersion/go-smtp"
)

// Server represents the capture SMTP server
type Server struct {
	config   *Config
	store    store.Store
	metrics  *Metrics
	logger   *slog.Logger
	smtp     *gosmtp.Server
	listener net.Listener
	received atomic.Int64
	closed   atomic.Bool
	mu       sync.Mutex
}

// NewServer creates a new capture server writing into st
func NewServer(config *Config, st store.Store, logger *slog.Logger) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = config.withDefaults()
	logger = logger.With("component", "capture-smtp", "hostname", config.Hostname)

	s := &Server{
		config:  config,
		store:   st,
		metrics: GetMetrics(),
		logger:  logger,
	}

	srv := gosmtp.NewServer(&backend{server: s})
	srv.Addr = config.ListenAddr
	srv.Domain = config.Hostname
	srv.MaxMessageBytes = config.MaxMessageBytes
	srv.MaxRecipients = config.MaxRecipients
	srv.ReadTimeout = config.ReadTimeout
	srv.WriteTimeout = config.WriteTimeout
	srv.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)

	if config.StartTLS {
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tlsConfig
	}

	s.smtp = srv
	return s, nil
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.config.CertFile != "" && s.config.KeyFile != "" {
		return LoadTLSConfig(s.config.CertFile, s.config.KeyFile)
	}
	return SelfSignedTLSConfig(s.config.Hostname)
}

// Listen binds the SMTP listener without serving connections yet
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

	s.logger.Info("Capture server listening",
		"addr", listener.Addr().String(),
		"starttls", s.smtp.TLSConfig != nil,
		"max_message_bytes", s.config.MaxMessageBytes)
	return nil
}

// Start binds the listener if needed and serves until Close is called
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	err := s.smtp.Serve(listener)
	if s.closed.Load() {
		return nil
	}
	return err
}

// Run serves until ctx is cancelled, then closes the server
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case <-ctx.Done():
		_ = s.Close()
		return <-errCh
	case err := <-errCh:
		return err
	}
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

// Received returns the number of messages captured since start
func (s *Server) Received() int64 {
	return s.received.Load()
}

// Close stops accepting connections and closes open sessions
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.logger.Info("Capture server shutting down", "received", s.received.Load())

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener == nil {
		return nil
	}

	err := s.smtp.Close()
	// Also covers a Serve that has not registered the listener yet
	_ = listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
