package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/unishare/unisync/internal/chat"
)

// UpsertMessages stores confirmed messages in one transaction (idempotent on
// chat_id + msg_id). Messages without a server id are ignored.
func (db *DB) UpsertMessages(msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.ID == "" || m.ChatID == "" {
			continue
		}
		attachments, err := json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("encode attachments of %s: %w", m.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, local_id, user_id, content, attachments, created_at, cached_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				local_id = CASE WHEN excluded.local_id != '' THEN excluded.local_id ELSE messages.local_id END,
				content = excluded.content,
				attachments = excluded.attachments`,
			m.ChatID, m.ID, m.LocalID, m.UserID, m.Content, string(attachments), millis(m.CreatedAt), now); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns the newest limit messages of a chat, oldest first.
func (db *DB) ListMessages(chatID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT chat_id, msg_id, local_id, user_id, content, attachments, created_at
		FROM (
			SELECT * FROM messages
			WHERE chat_id = ?
			ORDER BY created_at DESC, msg_id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, msg_id ASC`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m           chat.Message
			attachments string
			createdAt   int64
		)
		if err := rows.Scan(&m.ChatID, &m.ID, &m.LocalID, &m.UserID, &m.Content, &attachments, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attachments), &m.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
		}
		m.CreatedAt = fromMillis(createdAt)
		m.Status = chat.Confirmed
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageChats returns the ids of chats with cached messages.
func (db *DB) MessageChats() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT chat_id FROM messages ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneMessages keeps only the newest keep messages of a chat and returns
// how many were removed.
func (db *DB) PruneMessages(chatID string, keep int) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM messages
		WHERE chat_id = ? AND msg_id NOT IN (
			SELECT msg_id FROM messages
			WHERE chat_id = ?
			ORDER BY created_at DESC, msg_id DESC
			LIMIT ?
		)`, chatID, chatID, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
