package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id            TEXT PRIMARY KEY,
	created_at    INTEGER NOT NULL,
	envelope_from TEXT NOT NULL,
	envelope_to   TEXT NOT NULL,
	helo          TEXT NOT NULL DEFAULT '',
	raw           BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
`

// SQLite persists captured messages in a SQLite database. Only the raw
// message and its envelope are stored; the MailHog view is rebuilt on read.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// NewSQLite opens (and if needed creates) a SQLite store at dbPath
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		dbPath = "mailfixture.db"
	}

	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory for SQLite database: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize SQLite schema: %w", err)
	}

	return &SQLite{db: db, dbPath: dbPath}, nil
}

// Save adds a message to the store
func (s *SQLite) Save(ctx context.Context, msg *Message) error {
	if msg.Raw == nil {
		return fmt.Errorf("message %s has no raw data", msg.ID)
	}

	to, err := json.Marshal(msg.Raw.To)
	if err != nil {
		return fmt.Errorf("failed to encode recipients: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, created_at, envelope_from, envelope_to, helo, raw) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Created.UnixNano(), msg.Raw.From, string(to), msg.Raw.Helo, []byte(msg.Raw.Data))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// List returns a page of messages, newest first
func (s *SQLite) List(ctx context.Context, start, limit int) ([]*Message, int, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, 0, err
	}

	if start < 0 {
		start = 0
	}
	if limit <= 0 {
		// SQLite treats a negative LIMIT as no limit
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, envelope_from, envelope_to, helo, raw FROM messages ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, start)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read messages: %w", err)
	}

	return messages, total, nil
}

// Get returns a single message
func (s *SQLite) Get(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, envelope_from, envelope_to, helo, raw FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

// Delete removes a single message
func (s *SQLite) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every message
func (s *SQLite) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// Count returns the number of stored messages
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*Message, error) {
	var (
		id      string
		created int64
		from    string
		toJSON  string
		helo    string
		raw     []byte
	)
	if err := row.Scan(&id, &created, &from, &toJSON, &helo, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	var to []string
	if err := json.Unmarshal([]byte(toJSON), &to); err != nil {
		return nil, fmt.Errorf("failed to decode recipients of %s: %w", id, err)
	}

	return parseWith(id, time.Unix(0, created), raw, Envelope{From: from, To: to, Helo: helo})
}
