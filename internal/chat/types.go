package chat

import "time"

// Status is the delivery state of a message held by the client.
type Status string

const (
	Pending   Status = "pending"
	Confirmed Status = "confirmed"
	Failed    Status = "failed"
)

// Attachment describes a file attached to a message. The sync layer never
// looks inside it.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// Message is a chat message as seen by the client.
//
// ID is assigned by the server and is empty while the message is pending.
// LocalID is generated on this client for optimistic sends and is kept after
// confirmation so the UI can follow the entry. ClientID is the token the
// server echoes back when it supports idempotent sends.
type Message struct {
	ID          string       `json:"id"`
	LocalID     string       `json:"local_id,omitempty"`
	ClientID    string       `json:"client_id,omitempty"`
	ChatID      string       `json:"chat_id"`
	UserID      string       `json:"user_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Status      Status       `json:"status"`
}

// Key returns the identity used for the entry in a chat sequence: the server
// id once confirmed, the local id before.
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return m.LocalID
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return m
}

// Participant is a member of a chat.
type Participant struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Chat is a conversation loaded from the server. Chats are never deleted
// locally, only hidden from filtered views.
type Chat struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	IsGroup       bool          `json:"is_group"`
	Participants  []Participant `json:"participants,omitempty"`
	LastMessageAt time.Time     `json:"last_message_at"`
	UnreadCount   int           `json:"unread_count"`
}

// Draft is the content of a message the user is about to send.
type Draft struct {
	UserID      string
	Content     string
	Attachments []Attachment
}

// Upload is a file handed to the transport together with a send.
type Upload struct {
	FileName string
	FileType string
	Data     []byte
}

// Outgoing is what the transport posts for a send.
type Outgoing struct {
	ClientID string
	Content  string
	Uploads  []Upload
}

// FailedSend is a send that did not reach the server, kept so it can be
// retried later.
type FailedSend struct {
	Message Message
	Uploads []Upload
}

// DraftAttachments derives the optimistic attachment descriptors for uploads.
func DraftAttachments(uploads []Upload) []Attachment {
	if len(uploads) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, Attachment{
			FileName: u.FileName,
			FileSize: int64(len(u.Data)),
			FileType: u.FileType,
		})
	}
	return out
}
