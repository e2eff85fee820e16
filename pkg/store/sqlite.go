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

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	messages   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps conversations in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, conv *Conversation) error {
	if err := validate(conv); err != nil {
		return err
	}
	turns, err := json.Marshal(conv.Turns)
	if err != nil {
		return err
	}
	updated := conv.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO conversations (id, title, messages, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET title = excluded.title, messages = excluded.messages, updated_at = excluded.updated_at`,
		conv.ID, conv.Title, string(turns), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var (
		conv    = Conversation{ID: id}
		turns   string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT title, messages, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.Title, &turns, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(turns), &conv.Turns); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	conv.UpdatedAt = time.UnixMilli(updated).UTC()
	return &conv, nil
}

func validate(conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation ID is required")
	}
	return nil
}
