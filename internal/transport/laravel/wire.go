package laravel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/unishare/unisync/internal/chat"
)

// flexID accepts ids sent as JSON numbers or strings.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id %s: %w", b, err)
		}
		*id = flexID(n.String())
	}
	return nil
}

// timeLayouts are the timestamp formats the API is known to emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// flexTime accepts RFC 3339 timestamps, Laravel's default serialization and
// plain "Y-m-d H:i:s" (interpreted as UTC).
type flexTime time.Time

func (t *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
			*t = flexTime{}
			return nil
		}
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	if s == "" {
		*t = flexTime{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = flexTime(parsed.UTC())
			return nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = flexTime(time.Unix(secs, 0).UTC())
		return nil
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

type wireAttachment struct {
	ID       flexID `json:"id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

type wireUser struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type wireMessage struct {
	ID          flexID           `json:"id"`
	ChatID      flexID           `json:"chat_id"`
	UserID      flexID           `json:"user_id"`
	User        *wireUser        `json:"user"`
	Content     string           `json:"content"`
	ClientID    string           `json:"client_id"`
	Attachments []wireAttachment `json:"attachments"`
	CreatedAt   flexTime         `json:"created_at"`
}

func (w *wireMessage) toMessage() chat.Message {
	m := chat.Message{
		ID:        string(w.ID),
		ChatID:    string(w.ChatID),
		UserID:    string(w.UserID),
		Content:   w.Content,
		ClientID:  w.ClientID,
		CreatedAt: time.Time(w.CreatedAt),
		Status:    chat.Confirmed,
	}
	if m.UserID == "" && w.User != nil {
		m.UserID = string(w.User.ID)
	}
	for _, a := range w.Attachments {
		m.Attachments = append(m.Attachments, chat.Attachment{
			ID:       string(a.ID),
			FileName: a.FileName,
			FileSize: a.FileSize,
			FileType: a.FileType,
		})
	}
	return m
}

type wireChat struct {
	ID            flexID     `json:"id"`
	Name          string     `json:"name"`
	Title         string     `json:"title"`
	IsGroup       bool       `json:"is_group"`
	Type          string     `json:"type"`
	Participants  []wireUser `json:"participants"`
	Users         []wireUser `json:"users"`
	LastMessageAt flexTime   `json:"last_message_at"`
	UpdatedAt     flexTime   `json:"updated_at"`
	UnreadCount   int        `json:"unread_count"`
}

func (w *wireChat) toChat() chat.Chat {
	c := chat.Chat{
		ID:            string(w.ID),
		Name:          w.Name,
		IsGroup:       w.IsGroup || strings.EqualFold(w.Type, "group"),
		LastMessageAt: time.Time(w.LastMessageAt),
		UnreadCount:   w.UnreadCount,
	}
	if c.Name == "" {
		c.Name = w.Title
	}
	if c.LastMessageAt.IsZero() {
		c.LastMessageAt = time.Time(w.UpdatedAt)
	}
	users := w.Participants
	if len(users) == 0 {
		users = w.Users
	}
	for _, u := range users {
		c.Participants = append(c.Participants, chat.Participant{UserID: string(u.ID), Name: u.Name})
	}
	return c
}
