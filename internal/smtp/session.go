package smtp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/busybox42/mailfixture/internal/logging"
	"github.com/busybox42/mailfixture/internal/store"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// saveTimeout bounds a single store write
const saveTimeout = 10 * time.Second

// backend creates a session per accepted connection
type backend struct {
	server *Server
}

// NewSession implements gosmtp.Backend
func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	sessionID := uuid.New().String()
	remoteAddr := ""
	if conn := c.Conn(); conn != nil {
		remoteAddr = conn.RemoteAddr().String()
	}

	b.server.metrics.SessionsTotal.Inc()
	b.server.metrics.SessionsActive.Inc()

	logger := b.server.logger.With(
		"session_id", sessionID,
		"remote_addr", remoteAddr,
	)
	logger.Debug("New SMTP session", "helo", logging.SanitizeMessage(c.Hostname()))

	return &session{
		server:    b.server,
		conn:      c,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// session holds one SMTP transaction at a time
type session struct {
	server    *Server
	conn      *gosmtp.Conn
	logger    *slog.Logger
	startTime time.Time

	from string
	to   []string
}

// Mail accepts any sender
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	s.logger.Debug("MAIL FROM accepted", "from", logging.SanitizeMessage(from))
	return nil
}

// Rcpt accepts any recipient
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.to = append(s.to, to)
	s.logger.Debug("RCPT TO accepted", "to", logging.SanitizeMessage(to))
	return nil
}

// Data captures the message
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.server.metrics.MessagesRejected.Inc()
		s.logger.Warn("Failed to read message data", "error", err)
		return err
	}

	msg, err := store.Parse(raw, store.Envelope{
		From: s.from,
		To:   s.to,
		Helo: s.conn.Hostname(),
	})
	if err != nil {
		s.server.metrics.MessagesRejected.Inc()
		s.logger.Warn("Rejected unparseable message", "error", err, "size", len(raw))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.server.store.Save(ctx, msg); err != nil {
		s.server.metrics.MessagesRejected.Inc()
		s.logger.Error("Failed to store message", "error", err, "message_id", msg.ID)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      fmt.Sprintf("Failed to store message: %v", err),
		}
	}

	if _, isTLS := s.conn.TLSConnectionState(); isTLS {
		s.server.metrics.TLSSessions.Inc()
	}
	s.server.metrics.MessagesReceived.Inc()
	s.server.metrics.MessageSize.Observe(float64(len(raw)))
	s.server.metrics.Recipients.Observe(float64(len(s.to)))
	s.server.received.Add(1)

	s.logger.Info("Message captured",
		"message_id", msg.ID,
		"from", logging.SanitizeMessage(s.from),
		"recipients", len(s.to),
		"subject", logging.SanitizeMessage(msg.Subject()),
		"size", len(raw))

	return nil
}

// Reset clears the current transaction
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout ends the session
func (s *session) Logout() error {
	s.server.metrics.SessionsActive.Dec()
	s.logger.Debug("SMTP session closed", "duration", time.Since(s.startTime).String())
	return nil
}
