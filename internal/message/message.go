// Package message composes outgoing fixture emails as RFC 5322 messages
package message

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/google/uuid"
)

// maxLineLength is the RFC 5322 limit on a line, excluding CRLF
const maxLineLength = 998

// Message represents an email message ready for submission
type Message struct {
	ID        string            // Unique identifier, also used in Message-ID
	From      string            // Envelope sender
	To        []string          // Envelope recipients
	Subject   string            // Decoded subject line
	Data      []byte            // Raw message data with CRLF line endings
	CreatedAt time.Time         // Creation timestamp
	Headers   map[string]string // Top-level message headers
}

// ErrInvalidHeader is returned by Compose when From, To or Subject contains
// a line break
var ErrInvalidHeader = errors.New("header value contains a line break")

// headerOrder is the order top-level headers are written in
var headerOrder = []string{
	"Content-Type",
	"MIME-Version",
	"From",
	"To",
	"Subject",
	"Date",
	"Message-ID",
}

// Compose wraps a fixture in a multipart/alternative message. The HTML part
// is always present; a text/plain part precedes it only when f.Text is set.
// hostname is used in the Message-ID and defaults to localhost.
func Compose(f fixture.Fixture, hostname string) (*Message, error) {
	if hostname == "" {
		hostname = "localhost"
	}

	for _, h := range []struct{ name, value string }{
		{"From", f.From},
		{"To", f.To},
		{"Subject", f.Subject},
	} {
		if strings.ContainsAny(h.value, "\r\n") {
			return nil, fmt.Errorf("%s: %w", h.name, ErrInvalidHeader)
		}
	}

	msg := &Message{
		ID:        uuid.New().String(),
		From:      addrSpec(f.From),
		To:        []string{addrSpec(f.To)},
		Subject:   f.Subject,
		CreatedAt: time.Now(),
		Headers:   make(map[string]string),
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if f.Text != "" {
		if err := writePart(mw, "text/plain", f.Text); err != nil {
			return nil, fmt.Errorf("failed to write text part: %w", err)
		}
	}
	if err := writePart(mw, "text/html", f.HTML); err != nil {
		return nil, fmt.Errorf("failed to write html part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	msg.AddHeader("Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{
		"boundary": mw.Boundary(),
	}))
	msg.AddHeader("MIME-Version", "1.0")
	msg.AddHeader("From", f.From)
	msg.AddHeader("To", f.To)
	msg.AddHeader("Subject", encodeHeader(f.Subject))
	msg.AddHeader("Date", msg.CreatedAt.Format(time.RFC1123Z))
	msg.AddHeader("Message-ID", fmt.Sprintf("<%s@%s>", msg.ID, hostname))

	var data bytes.Buffer
	for _, name := range headerOrder {
		fmt.Fprintf(&data, "%s: %s\r\n", name, msg.Headers[name])
	}
	data.WriteString("\r\n")
	data.Write(body.Bytes())
	msg.Data = data.Bytes()

	return msg, nil
}

// AddHeader adds a header to the message
func (m *Message) AddHeader(name, value string) {
	m.Headers[name] = value
}

// GetHeader retrieves a header from the message
func (m *Message) GetHeader(name string) string {
	return m.Headers[name]
}

// Size returns the size of the raw message in bytes
func (m *Message) Size() int {
	return len(m.Data)
}

func writePart(mw *multipart.Writer, mediaType, content string) error {
	content = toCRLF(content)
	encoding := transferEncoding(content)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", mime.FormatMediaType(mediaType, map[string]string{"charset": "utf-8"}))
	h.Set("Content-Transfer-Encoding", encoding)

	pw, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	if encoding == "7bit" {
		_, err = pw.Write([]byte(content))
		return err
	}

	qw := quotedprintable.NewWriter(pw)
	if _, err := qw.Write([]byte(content)); err != nil {
		return err
	}
	return qw.Close()
}

// transferEncoding picks 7bit for plain ASCII with short lines and
// quoted-printable for anything else.
func transferEncoding(content string) string {
	for _, line := range strings.Split(content, "\r\n") {
		if len(line) > maxLineLength {
			return "quoted-printable"
		}
	}
	for i := 0; i < len(content); i++ {
		if content[i] >= 0x80 || content[i] == 0 {
			return "quoted-printable"
		}
	}
	return "7bit"
}

func toCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func encodeHeader(value string) string {
	for i := 0; i < len(value); i++ {
		if value[i] >= 0x80 {
			return mime.QEncoding.Encode("utf-8", value)
		}
	}
	return value
}

// addrSpec extracts the bare address from a header value such as
// "Name <user@example.com>". Unparseable values are returned unchanged.
func addrSpec(value string) string {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return addr.Address
}
