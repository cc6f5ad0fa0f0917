// Package store is the on-disk cache behind warm starts: confirmed messages,
// the chat list, unread counts and sends that failed before shutdown.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps a SQLite database connection for the per-profile cache.db.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Counts is the size of the cache.
type Counts struct {
	Chats    int
	Messages int
	Failed   int
}

// Counts returns how many chats, messages and failed sends are cached.
func (db *DB) Counts() (Counts, error) {
	var c Counts
	err := db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM chats),
		(SELECT COUNT(*) FROM messages),
		(SELECT COUNT(*) FROM outbox)`).Scan(&c.Chats, &c.Messages, &c.Failed)
	if err != nil {
		return Counts{}, fmt.Errorf("count cache: %w", err)
	}
	return c, nil
}
