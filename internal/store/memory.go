package store

import (
	"context"
	"sync"
)

// Memory is an in-process message store. Messages are lost on exit.
type Memory struct {
	mu       sync.RWMutex
	messages []*Message // newest first
	index    map[string]*Message
}

// NewMemory creates an empty memory store
func NewMemory() *Memory {
	return &Memory{
		index: make(map[string]*Message),
	}
}

// Save adds a message to the store
func (m *Memory) Save(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append([]*Message{msg}, m.messages...)
	m.index[msg.ID] = msg
	return nil
}

// List returns a page of messages, newest first
func (m *Memory) List(_ context.Context, start, limit int) ([]*Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := len(m.messages)
	from, to := window(total, start, limit)
	page := make([]*Message, to-from)
	copy(page, m.messages[from:to])
	return page, total, nil
}

// Get returns a single message
func (m *Memory) Get(_ context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg, nil
}

// Delete removes a single message
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.index[id]; !ok {
		return ErrNotFound
	}
	delete(m.index, id)

	for i, msg := range m.messages {
		if msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			break
		}
	}
	return nil
}

// DeleteAll removes every message
func (m *Memory) DeleteAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = nil
	m.index = make(map[string]*Message)
	return nil
}

// Count returns the number of stored messages
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages), nil
}

// Close is a no-op for the memory store
func (m *Memory) Close() error {
	return nil
}
