package store

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxMIMEDepth bounds recursion into nested multipart bodies
const maxMIMEDepth = 5

// Path is an envelope address split the way MailHog reports it
type Path struct {
	Relays  []string `json:"Relays"`
	Mailbox string   `json:"Mailbox"`
	Domain  string   `json:"Domain"`
	Params  string   `json:"Params"`
}

// Address returns the path as mailbox@domain
func (p *Path) Address() string {
	if p.Domain == "" {
		return p.Mailbox
	}
	return p.Mailbox + "@" + p.Domain
}

// Content holds the headers and body of a message or MIME part
type Content struct {
	Headers map[string][]string `json:"Headers"`
	Body    string              `json:"Body"`
	Size    int                 `json:"Size"`
	MIME    *MIMEBody           `json:"MIME"`
}

// MIMEBody lists the parts of a multipart body
type MIMEBody struct {
	Parts []*Content `json:"Parts"`
}

// Raw is the message as it arrived on the wire
type Raw struct {
	From string   `json:"From"`
	To   []string `json:"To"`
	Data string   `json:"Data"`
	Helo string   `json:"Helo"`
}

// Message is a captured email
type Message struct {
	ID      string    `json:"ID"`
	From    *Path     `json:"From"`
	To      []*Path   `json:"To"`
	Content *Content  `json:"Content"`
	Created time.Time `json:"Created"`
	MIME    *MIMEBody `json:"MIME"`
	Raw     *Raw      `json:"Raw"`
}

// Page is one window of the message list, newest first
type Page struct {
	Total int        `json:"total"`
	Count int        `json:"count"`
	Start int        `json:"start"`
	Items []*Message `json:"items"`
}

// Envelope is the SMTP transaction a message arrived with
type Envelope struct {
	From string
	To   []string
	Helo string
}

// Parse builds a captured message from raw DATA bytes. A new ID and the
// current time are assigned.
func Parse(raw []byte, env Envelope) (*Message, error) {
	return parseWith(uuid.New().String(), time.Now(), raw, env)
}

func parseWith(id string, created time.Time, raw []byte, env Envelope) (*Message, error) {
	content, err := parseContent(raw, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	msg := &Message{
		ID:      id,
		From:    parsePath(env.From),
		To:      make([]*Path, 0, len(env.To)),
		Content: content,
		Created: created,
		MIME:    content.MIME,
		Raw: &Raw{
			From: env.From,
			To:   append([]string(nil), env.To...),
			Data: string(raw),
			Helo: env.Helo,
		},
	}
	for _, to := range env.To {
		msg.To = append(msg.To, parsePath(to))
	}

	return msg, nil
}

// Header returns the first value of a top-level header
func (m *Message) Header(name string) string {
	if m.Content == nil {
		return ""
	}
	if values := m.Content.Headers[name]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// Subject returns the decoded Subject header
func (m *Message) Subject() string {
	subject := m.Header("Subject")
	dec := new(mime.WordDecoder)
	if decoded, err := dec.DecodeHeader(subject); err == nil {
		return decoded
	}
	return subject
}

// Size returns the raw size of the message
func (m *Message) Size() int {
	if m.Raw == nil {
		return 0
	}
	return len(m.Raw.Data)
}

func parseContent(raw []byte, depth int) (*Content, error) {
	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		return nil, err
	}

	content := &Content{
		Headers: map[string][]string(parsed.Header),
		Body:    string(body),
		Size:    len(raw),
	}

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || depth >= maxMIMEDepth {
		return content, nil
	}

	parts, err := parseParts(body, params["boundary"], depth)
	if err != nil {
		// Keep the message even when its MIME structure is broken
		return content, nil
	}
	content.MIME = &MIMEBody{Parts: parts}

	return content, nil
}

func parseParts(body []byte, boundary string, depth int) ([]*Content, error) {
	if boundary == "" {
		return nil, fmt.Errorf("multipart body without boundary")
	}

	var parts []*Content
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return parts, nil
		}
		if err != nil {
			return nil, err
		}

		data, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}

		// NextPart already decodes quoted-printable and drops the header
		if strings.EqualFold(part.Header.Get("Content-Transfer-Encoding"), "base64") {
			decoded, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(string(data)), ""))
			if err == nil {
				data = decoded
				part.Header.Del("Content-Transfer-Encoding")
			}
		}

		content := &Content{
			Headers: map[string][]string(part.Header),
			Body:    string(data),
			Size:    len(data),
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err == nil && strings.HasPrefix(mediaType, "multipart/") && depth+1 < maxMIMEDepth {
			if nested, err := parseParts(data, params["boundary"], depth+1); err == nil {
				content.MIME = &MIMEBody{Parts: nested}
			}
		}

		parts = append(parts, content)
	}
}

func parsePath(addr string) *Path {
	addr = strings.Trim(strings.TrimSpace(addr), "<>")
	path := &Path{Relays: []string{}}
	if at := strings.LastIndex(addr, "@"); at >= 0 {
		path.Mailbox = addr[:at]
		path.Domain = addr[at+1:]
	} else {
		path.Mailbox = addr
	}
	return path
}
