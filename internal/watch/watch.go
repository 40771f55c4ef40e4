// Package watch polls a capture API on a schedule and runs the HTML census
// on each new message sent to the test recipient.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/busybox42/mailfixture/internal/fixture"
	"github.com/busybox42/mailfixture/internal/inspect"
	"github.com/busybox42/mailfixture/internal/mailhog"
	"github.com/busybox42/mailfixture/internal/store"
	"github.com/robfig/cron/v3"
)

// Source returns the newest captured message
type Source interface {
	Latest(ctx context.Context) (*store.Message, error)
}

// Kind classifies the outcome of one poll
type Kind string

const (
	// KindNew is a new message for the recipient, with its census
	KindNew Kind = "new"
	// KindSkipped is a new message that was not inspected
	KindSkipped Kind = "skipped"
	// KindUnchanged means the newest message was already seen
	KindUnchanged Kind = "unchanged"
	// KindEmpty means the mailbox holds no messages
	KindEmpty Kind = "empty"
	// KindError means the poll failed
	KindError Kind = "error"
)

// Event is the outcome of one poll
type Event struct {
	Kind    Kind
	Message *store.Message
	Census  *inspect.Census
	Reason  string
	Err     error
}

// Handler receives poll outcomes. Calls are serialized.
type Handler func(Event)

// Config holds configuration for the watcher
type Config struct {
	Interval  time.Duration // time between polls
	Recipient string        // only messages to this address are inspected
	Timeout   time.Duration // per-poll timeout
	// IncludeExisting reports the message that is newest at start instead
	// of treating it as already seen
	IncludeExisting bool
}

// DefaultConfig returns the watcher defaults
func DefaultConfig() Config {
	return Config{
		Interval:  2 * time.Second,
		Recipient: fixture.DefaultTo,
		Timeout:   5 * time.Second,
	}
}

// Watcher polls a Source and reports new messages
type Watcher struct {
	config  Config
	source  Source
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	lastID  string
	primed  bool
	running bool
}

// New creates a new watcher
func New(config Config, source Source, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.Recipient == "" {
		config.Recipient = defaults.Recipient
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		config:  config,
		source:  source,
		handler: handler,
		logger:  logger.With("component", "watch", "recipient", config.Recipient),
		primed:  config.IncludeExisting,
	}, nil
}

// Schedule returns the cron spec the watcher runs on
func (w *Watcher) Schedule() string {
	return "@every " + w.config.Interval.String()
}

// Poll checks the source once and hands the outcome to the handler
func (w *Watcher) Poll(ctx context.Context) Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	event := w.poll(ctx)
	w.handler(event)
	return event
}

func (w *Watcher) poll(ctx context.Context) Event {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	msg, err := w.source.Latest(ctx)
	if errors.Is(err, mailhog.ErrNoMessages) {
		w.primed = true
		return Event{Kind: KindEmpty}
	}
	if err != nil {
		w.logger.Warn("Poll failed", "error", err)
		return Event{Kind: KindError, Err: err}
	}

	if msg.ID == w.lastID {
		return Event{Kind: KindUnchanged, Message: msg}
	}
	w.lastID = msg.ID

	if !w.primed {
		// The newest message at start is the baseline
		w.primed = true
		return Event{Kind: KindUnchanged, Message: msg}
	}

	if !mailhog.IsAddressedTo(msg, w.config.Recipient) {
		return Event{
			Kind:    KindSkipped,
			Message: msg,
			Reason:  fmt.Sprintf("not addressed to %s", w.config.Recipient),
		}
	}

	html := mailhog.HTMLBody(msg)
	if strings.TrimSpace(html) == "" {
		return Event{Kind: KindSkipped, Message: msg, Reason: "no HTML content"}
	}

	census, err := inspect.AnalyzeString(html)
	if err != nil {
		return Event{Kind: KindError, Message: msg, Err: err}
	}

	w.logger.Info("New message inspected", "message_id", msg.ID, "issues", len(census.Issues()))
	return Event{Kind: KindNew, Message: msg, Census: census}
}

// Run polls on the configured interval until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	job := func() {
		if ctx.Err() == nil {
			w.Poll(ctx)
		}
	}
	if _, err := c.AddFunc(w.Schedule(), job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", w.Schedule(), err)
	}

	w.logger.Info("Watching for messages", "schedule", w.Schedule())

	// First poll right away so the baseline is taken before any send
	w.Poll(ctx)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	w.logger.Info("Watcher stopped")
	return nil
}
