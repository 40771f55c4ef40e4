package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/busybox42/mailfixture/internal/message"
	"github.com/emersion/go-smtp"
)

// TLSMode controls how the sender upgrades the connection
type TLSMode string

const (
	// TLSRequired issues STARTTLS and fails when the server cannot upgrade
	TLSRequired TLSMode = "required"
	// TLSOpportunistic upgrades only when the server advertises STARTTLS
	TLSOpportunistic TLSMode = "opportunistic"
	// TLSNone never upgrades
	TLSNone TLSMode = "none"
)

// ErrStartTLSNotSupported is returned in TLSRequired mode when the server
// does not advertise the STARTTLS extension
var ErrStartTLSNotSupported = errors.New("STARTTLS extension not supported by server")

// ParseTLSMode converts a configuration string to a TLSMode
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(strings.ToLower(strings.TrimSpace(s))) {
	case TLSRequired, "":
		return TLSRequired, nil
	case TLSOpportunistic:
		return TLSOpportunistic, nil
	case TLSNone:
		return TLSNone, nil
	default:
		return "", fmt.Errorf("invalid TLS mode %q (want required, opportunistic or none)", s)
	}
}

// Config holds configuration for the sender
type Config struct {
	Addr               string        // host:port of the submission server
	HeloName           string        // name sent with EHLO
	TLSMode            TLSMode       // STARTTLS behavior
	InsecureSkipVerify bool          // skip certificate verification after STARTTLS
	DialTimeout        time.Duration // TCP connect timeout
	CommandTimeout     time.Duration // per-command timeout, 0 keeps the client default
}

// DefaultConfig returns the configuration for the local capture server
func DefaultConfig() Config {
	return Config{
		Addr:               "localhost:1025",
		HeloName:           "localhost",
		TLSMode:            TLSRequired,
		InsecureSkipVerify: true,
		DialTimeout:        10 * time.Second,
	}
}

// Sender submits messages to a single SMTP server over one connection
type Sender struct {
	config Config
	logger *slog.Logger
	dialer *net.Dialer
}

// NewSender creates a new sender
func NewSender(config Config, logger *slog.Logger) *Sender {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.HeloName == "" {
		config.HeloName = defaults.HeloName
	}
	if config.TLSMode == "" {
		config.TLSMode = defaults.TLSMode
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		config: config,
		logger: logger.With("component", "sender", "addr", config.Addr),
		dialer: &net.Dialer{Timeout: config.DialTimeout},
	}
}

// Send opens a connection, upgrades it according to the TLS mode, submits
// msg and closes the connection. The connection is released on every path.
func (s *Sender) Send(ctx context.Context, msg *message.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	client, release, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := client.Mail(msg.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	for _, recipient := range msg.To {
		if err := client.Rcpt(recipient, nil); err != nil {
			return fmt.Errorf("RCPT TO failed for %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}

	if _, err := writer.Write(msg.Data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		s.logger.Warn("QUIT command failed", "error", err)
	}

	s.logger.Info("Message submitted",
		"message_id", msg.ID,
		"from", msg.From,
		"recipients", len(msg.To),
		"size", msg.Size())

	return nil
}

// connect returns a client that has completed EHLO as HeloName, upgraded
// according to the TLS mode. go-smtp sends the pre-TLS EHLO as localhost;
// HeloName is used for the EHLO that follows the upgrade.
func (s *Sender) connect(ctx context.Context) (*smtp.Client, func(), error) {
	conn, stop, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	if s.config.TLSMode == TLSNone {
		return s.hello(smtp.NewClient(conn), stop)
	}

	// NewClientStartTLS closes conn when it fails
	client, err := smtp.NewClientStartTLS(conn, s.tlsConfig())
	if err == nil {
		s.logger.Debug("STARTTLS successful")
		return s.hello(client, stop)
	}
	stop()

	if !isStartTLSUnsupported(err) {
		return nil, nil, fmt.Errorf("STARTTLS failed: %w", err)
	}
	if s.config.TLSMode == TLSRequired {
		return nil, nil, fmt.Errorf("STARTTLS failed: %w", ErrStartTLSNotSupported)
	}

	s.logger.Debug("STARTTLS not advertised, reconnecting without TLS")
	conn, stop, err = s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s.hello(smtp.NewClient(conn), stop)
}

// dial connects to the server. Blocking reads and writes are aborted when
// ctx is cancelled until stop is called.
func (s *Sender) dial(ctx context.Context) (net.Conn, func(), error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.config.Addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", s.config.Addr, err)
	}

	after := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return conn, func() { after() }, nil
}

func (s *Sender) hello(client *smtp.Client, stop func()) (*smtp.Client, func(), error) {
	release := func() {
		_ = client.Close()
		stop()
	}

	if s.config.CommandTimeout > 0 {
		client.CommandTimeout = s.config.CommandTimeout
	}

	if err := client.Hello(s.config.HeloName); err != nil {
		release()
		return nil, nil, fmt.Errorf("EHLO failed: %w", err)
	}
	return client, release, nil
}

// isStartTLSUnsupported reports whether err is go-smtp's refusal to upgrade
// because the server did not advertise STARTTLS, as opposed to a server reply
// or a failed handshake
func isStartTLSUnsupported(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return false
	}
	return strings.Contains(err.Error(), "doesn't support STARTTLS")
}

func (s *Sender) tlsConfig() *tls.Config {
	host, _, err := net.SplitHostPort(s.config.Addr)
	if err != nil {
		host = s.config.Addr
	}

	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: s.config.InsecureSkipVerify, //nolint:gosec // local capture servers use self-signed certificates
		MinVersion:         tls.VersionTLS12,
	}
}
