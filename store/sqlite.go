package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists posts, mentions and bot state in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and ensures the schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL,
			external_id TEXT,
			had_media INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS mentions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id TEXT UNIQUE,
			author_handle TEXT,
			author_text TEXT,
			reply TEXT,
			action TEXT,
			capabilities_used TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS bot_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// RecentPostsFormatted implements Store.
func (s *SQLiteStore) RecentPostsFormatted(ctx context.Context, limit int) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT text, had_media FROM posts ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	type post struct {
		text     string
		hadMedia bool
	}
	var posts []post
	for rows.Next() {
		var p post
		if err := rows.Scan(&p.text, &p.hadMedia); err != nil {
			return "", err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(posts) == 0 {
		return "No previous posts", nil
	}

	// Oldest first, numbered, mirroring what the model saw on earlier runs.
	var b strings.Builder
	for i := len(posts) - 1; i >= 0; i-- {
		n := len(posts) - i
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "post %d (pic: %t): %s", n, posts[i].hadMedia, posts[i].text)
	}
	return b.String(), nil
}

// RecentMentionRepliesFormatted implements Store.
func (s *SQLiteStore) RecentMentionRepliesFormatted(ctx context.Context, limit int) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT author_handle, author_text, reply FROM mentions
		WHERE reply IS NOT NULL AND reply != ''
		ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	type entry struct{ handle, text, reply string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.handle, &e.text, &e.reply); err != nil {
			return "", err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No previous mention replies.", nil
	}

	var b strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		n := len(entries) - i
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. @%s: %s\n   Your reply: %s", n, entries[i].handle, entries[i].text, entries[i].reply)
	}
	return b.String(), nil
}

// MentionHistoryForAuthor implements Store.
func (s *SQLiteStore) MentionHistoryForAuthor(ctx context.Context, handle string, limit int) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT author_text, reply FROM mentions
		WHERE author_handle = ? AND reply IS NOT NULL AND reply != ''
		ORDER BY id DESC LIMIT ?
	`, handle, limit)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	type entry struct{ text, reply string }
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.text, &e.reply); err != nil {
			return "", err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No previous conversations with this user.", nil
	}

	var b strings.Builder
	for i := len(entries) - 1; i >= 0; i-- {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "@%s: %s\nYou replied: %s", handle, entries[i].text, entries[i].reply)
	}
	return b.String(), nil
}

// MentionExists implements Store.
func (s *SQLiteStore) MentionExists(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM mentions WHERE external_id = ?`, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SavePost implements Store.
func (s *SQLiteStore) SavePost(ctx context.Context, text, externalID string, hadMedia bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (text, external_id, had_media) VALUES (?, ?, ?)
	`, text, externalID, hadMedia)
	return err
}

// SaveMention implements Store. The unique external_id constraint provides
// the insert-if-absent semantics backing the idempotency set.
func (s *SQLiteStore) SaveMention(ctx context.Context, rec MentionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentions (external_id, author_handle, author_text, reply, action, capabilities_used)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ExternalID, rec.AuthorHandle, rec.AuthorText, rec.Reply, rec.Action, rec.CapabilitiesUsed)
	return err
}

// GetState implements Store.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetState implements Store.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// CountPostsToday implements Store.
func (s *SQLiteStore) CountPostsToday(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts WHERE created_at >= date('now')
	`).Scan(&count)
	return count, err
}

// CountMentionsToday implements Store.
func (s *SQLiteStore) CountMentionsToday(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mentions WHERE created_at >= date('now')
	`).Scan(&count)
	return count, err
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
