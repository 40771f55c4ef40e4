// Package mailhog is a client for the MailHog HTTP API, served both by
// MailHog itself and by the built-in capture server.
package mailhog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/busybox42/mailfixture/internal/store"
	"github.com/sony/gobreaker"
)

// DefaultURL is where MailHog serves its API and web UI
const DefaultURL = "http://localhost:8025"

// maxResponseBytes bounds a decoded API response
const maxResponseBytes = 64 * 1024 * 1024

var (
	// ErrNoMessages is returned by Latest when the mailbox is empty
	ErrNoMessages = errors.New("no messages captured")
	// ErrNotFound is returned for unknown message IDs
	ErrNotFound = errors.New("message not found")
)

// Config holds configuration for the client
type Config struct {
	URL     string        // base URL; a trailing /api/v1 or /api/v2 is accepted
	Timeout time.Duration // per-request timeout
	// Circuit breaker settings
	MaxFailures  uint32        // consecutive failures before the breaker opens
	OpenInterval time.Duration // how long the breaker stays open
}

// DefaultConfig returns the configuration for a local MailHog
func DefaultConfig() Config {
	return Config{
		URL:          DefaultURL,
		Timeout:      5 * time.Second,
		MaxFailures:  3,
		OpenInterval: 10 * time.Second,
	}
}

// Client talks to a MailHog-compatible API
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Status summarizes the mailbox
type Status struct {
	Status       string   `json:"status"`
	MessageCount int      `json:"messageCount"`
	URL          string   `json:"mailhogUrl"`
	Latest       *Summary `json:"latestMessage"`
}

// Summary describes one message
type Summary struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	To       []string  `json:"to"`
	Subject  string    `json:"subject"`
	Received time.Time `json:"received"`
}

// NewClient creates a new client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	defaults := DefaultConfig()
	if config.URL == "" {
		config.URL = defaults.URL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = defaults.MaxFailures
	}
	if config.OpenInterval <= 0 {
		config.OpenInterval = defaults.OpenInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL, err := normalizeURL(config.URL)
	if err != nil {
		return nil, err
	}

	logger = logger.With("component", "mailhog-client", "url", baseURL)

	maxFailures := config.MaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "mailhog-api",
		Timeout: config.OpenInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	})

	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// URL returns the normalized base URL
func (c *Client) URL() string {
	return c.baseURL
}

// Messages returns up to limit messages starting at start, newest first.
// limit <= 0 lets the server choose.
func (c *Client) Messages(ctx context.Context, start, limit int) (*store.Page, error) {
	query := url.Values{}
	if start > 0 {
		query.Set("start", strconv.Itoa(start))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/v2/messages"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page store.Page
	if err := c.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Message returns a single message by ID
func (c *Client) Message(ctx context.Context, id string) (*store.Message, error) {
	var msg store.Message
	if err := c.getJSON(ctx, "/api/v1/messages/"+url.PathEscape(id), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Latest returns the newest captured message
func (c *Client) Latest(ctx context.Context) (*store.Message, error) {
	page, err := c.Messages(ctx, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, ErrNoMessages
	}
	return page.Items[0], nil
}

// Status returns the message count and a summary of the newest message
func (c *Client) Status(ctx context.Context) (*Status, error) {
	page, err := c.Messages(ctx, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to MailHog: %w", err)
	}

	status := &Status{
		Status:       "ok",
		MessageCount: page.Total,
		URL:          c.baseURL,
	}
	if len(page.Items) > 0 {
		status.Latest = Summarize(page.Items[0])
	}
	return status, nil
}

// Summarize extracts the fields printed for a message
func Summarize(msg *store.Message) *Summary {
	summary := &Summary{
		ID:       msg.ID,
		Subject:  msg.Subject(),
		Received: msg.Created,
		To:       make([]string, 0, len(msg.To)),
	}
	if summary.Subject == "" {
		summary.Subject = "No subject"
	}
	if msg.From != nil {
		summary.From = msg.From.Address()
	}
	for _, to := range msg.To {
		summary.To = append(summary.To, to.Address())
	}
	return summary
}

type response struct {
	status int
	body   []byte
}

// getJSON fetches path through the circuit breaker and decodes the body.
// Only transport errors and 5xx answers count as breaker failures.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server returned %s", resp.Status)
		}
		return &response{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		c.logger.Debug("API request failed", "path", path, "error", err)
		return fmt.Errorf("GET %s: %w", path, err)
	}

	resp := result.(*response)
	switch {
	case resp.status == http.StatusNotFound:
		return ErrNotFound
	case resp.status < 200 || resp.status > 299:
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.status)
	}

	if err := json.Unmarshal(resp.body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// normalizeURL strips a trailing API version path so both
// http://host:8025 and http://host:8025/api/v2 are accepted
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid API URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid API URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid API URL %q: missing host", raw)
	}

	path := strings.TrimRight(u.Path, "/")
	for _, suffix := range []string{"/api/v2", "/api/v1", "/api"} {
		if strings.HasSuffix(path, suffix) {
			path = strings.TrimSuffix(path, suffix)
			break
		}
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}
