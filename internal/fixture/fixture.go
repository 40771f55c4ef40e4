// Package fixture holds the HTML test email used to exercise accessibility
// scanners, together with the literal addresses it is sent with.
package fixture

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultFrom is the sender address of the fixture email
	DefaultFrom = "test@example.com"
	// DefaultTo is the recipient the scanner watches for
	DefaultTo = "test@local.test"
	// DefaultSubject is the subject line of the fixture email
	DefaultSubject = "Test HTML Email for Accessibility Scanner"
	// DefaultSMTPAddr is the submission address of the local capture server
	DefaultSMTPAddr = "localhost:1025"
	// DefaultWebUI is where the capture server shows received messages
	DefaultWebUI = "http://localhost:8025"

	// MaxHTMLSize is the largest HTML body accepted from files and samples
	MaxHTMLSize = 1024 * 1024
)

var (
	// ErrEmptyHTML is returned for HTML content that is empty or whitespace
	ErrEmptyHTML = errors.New("HTML content cannot be empty")
	// ErrHTMLTooLarge is returned for HTML content larger than MaxHTMLSize
	ErrHTMLTooLarge = errors.New("HTML content exceeds 1MB limit")
)

// HTML is the fixture document. It deliberately contains accessibility
// problems: an image without alt text, unlabeled inputs, vague link text,
// an empty button and a skipped heading level.
const HTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Simple Test Email</title>,
</head>
<body>
    <h1>Welcome to Our Newsletter</h1>

    <img src="https://via.placeholder.com/150" />

    <form>
        <input type="text" placeholder="Your name" />
        <input type="email" placeholder="Your email" />
        <button type="submit">Subscribe</button>
    </form>

    <p>
        <a href="#">Click here</a> to read our latest articles.
        <a href="#">Learn more</a> about our services.
    </p>

    <button></button>
    <button><span>Save</span></button>

    <h1>Main Title</h1>
    <h4>Jumped heading!</h4>

</body>
</html>
    `

// Fixture is a single outgoing test message
type Fixture struct {
	From    string
	To      string
	Subject string
	HTML    string
	// Text is an optional plain-text alternative. Empty means HTML only.
	Text string
}

// Default returns the fixture email with its literal addresses
func Default() Fixture {
	return Fixture{
		From:    DefaultFrom,
		To:      DefaultTo,
		Subject: DefaultSubject,
		HTML:    HTML,
	}
}

// ValidateHTML checks that HTML content is non-empty and within MaxHTMLSize
func ValidateHTML(html string) error {
	if strings.TrimSpace(html) == "" {
		return ErrEmptyHTML
	}
	if len(html) > MaxHTMLSize {
		return fmt.Errorf("%w: %d bytes", ErrHTMLTooLarge, len(html))
	}
	return nil
}
