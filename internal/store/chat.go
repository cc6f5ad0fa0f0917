package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/unishare/unisync/internal/chat"
)

// UpsertChats writes the chat list. Unread counts are owned by SetUnread
// and are not touched here.
func (db *DB) UpsertChats(chats []chat.Chat) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range chats {
		participants, err := json.Marshal(c.Participants)
		if err != nil {
			return fmt.Errorf("encode participants of %s: %w", c.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO chats (id, name, is_group, participants, last_message_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				is_group = excluded.is_group,
				participants = excluded.participants,
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
				updated_at = excluded.updated_at`,
			c.ID, c.Name, c.IsGroup, string(participants), millis(c.LastMessageAt), now); err != nil {
			return fmt.Errorf("upsert chat %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListChats returns cached chats, most recent activity first.
func (db *DB) ListChats() ([]chat.Chat, error) {
	rows, err := db.Query(`
		SELECT id, name, is_group, participants, unread_count, last_message_at
		FROM chats
		ORDER BY last_message_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []chat.Chat
	for rows.Next() {
		var (
			c            chat.Chat
			participants string
			lastAt       int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &participants, &c.UnreadCount, &lastAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of %s: %w", c.ID, err)
		}
		c.LastMessageAt = fromMillis(lastAt)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// SetUnread records the unread count of a chat, creating the row if needed.
func (db *DB) SetUnread(chatID string, count int) error {
	_, err := db.Exec(`
		INSERT INTO chats (id, unread_count, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		chatID, count, time.Now().UnixMilli())
	return err
}

// UnreadCounts returns every non-zero unread count.
func (db *DB) UnreadCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT id, unread_count FROM chats WHERE unread_count > 0`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
