// Package store keeps messages received by the capture server and renders
// them in the JSON shape of the MailHog API.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a message ID is not in the store
var ErrNotFound = errors.New("message not found")

// Store defines the interface that all message stores must satisfy
type Store interface {
	// Save adds a message to the store
	Save(ctx context.Context, msg *Message) error

	// List returns up to limit messages starting at start, newest first,
	// together with the total number of stored messages. limit <= 0 means all.
	List(ctx context.Context, start, limit int) ([]*Message, int, error)

	// Get returns a single message
	Get(ctx context.Context, id string) (*Message, error)

	// Delete removes a single message
	Delete(ctx context.Context, id string) error

	// DeleteAll removes every message
	DeleteAll(ctx context.Context) error

	// Count returns the number of stored messages
	Count(ctx context.Context) (int, error)

	// Close releases resources held by the store
	Close() error
}

// Config selects and configures a store backend
type Config struct {
	Type string // "memory" or "sqlite"
	Path string // database file for sqlite
}

// New creates a store from configuration
func New(config Config) (Store, error) {
	switch strings.ToLower(config.Type) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(config.Path)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// window returns the bounds of the [start, start+limit) slice of n items
func window(n, start, limit int) (int, int) {
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := n
	if limit > 0 && start+limit < n {
		end = start + limit
	}
	return start, end
}
