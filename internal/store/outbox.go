package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/unishare/unisync/internal/chat"
)

// SaveFailed records a send that did not reach the server so it survives a
// restart and can be retried.
func (db *DB) SaveFailed(f chat.FailedSend, errMsg string) error {
	uploads, err := json.Marshal(f.Uploads)
	if err != nil {
		return fmt.Errorf("encode uploads: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO outbox (local_id, chat_id, user_id, content, uploads, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		f.Message.LocalID, f.Message.ChatID, f.Message.UserID, f.Message.Content,
		string(uploads), errMsg, millis(f.Message.CreatedAt), now)
	return err
}

// DeleteFailed forgets a failed send after it was confirmed or discarded.
func (db *DB) DeleteFailed(localID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE local_id = ?`, localID)
	return err
}

// ListFailed returns failed sends, oldest first.
func (db *DB) ListFailed() ([]chat.FailedSend, error) {
	rows, err := db.Query(`
		SELECT local_id, chat_id, user_id, content, uploads, created_at
		FROM outbox ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.FailedSend
	for rows.Next() {
		var (
			f         chat.FailedSend
			uploads   string
			createdAt int64
		)
		if err := rows.Scan(&f.Message.LocalID, &f.Message.ChatID, &f.Message.UserID, &f.Message.Content, &uploads, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(uploads), &f.Uploads); err != nil {
			return nil, fmt.Errorf("decode uploads of %s: %w", f.Message.LocalID, err)
		}
		f.Message.ClientID = f.Message.LocalID
		f.Message.CreatedAt = fromMillis(createdAt)
		f.Message.Status = chat.Failed
		f.Message.Attachments = chat.DraftAttachments(f.Uploads)
		out = append(out, f)
	}
	return out, rows.Err()
}
