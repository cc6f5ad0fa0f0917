package api

import (
	"encoding/base64"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
)

// Struct field access with zero values for missing or mistyped fields.

func str(s *structpb.Struct, key string) string {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func num(s *structpb.Struct, key string) float64 {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetNumberValue()
	}
	return 0
}

func boolean(s *structpb.Struct, key string, def bool) bool {
	v, ok := s.GetFields()[key]
	if !ok {
		return def
	}
	if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
		return def
	}
	return v.GetBoolValue()
}

func list(s *structpb.Struct, key string) []*structpb.Value {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetListValue().GetValues()
	}
	return nil
}

func object(s *structpb.Struct, key string) *structpb.Struct {
	if v, ok := s.GetFields()[key]; ok {
		return v.GetStructValue()
	}
	return nil
}

func stringList(s *structpb.Struct, key string) []string {
	var out []string
	for _, v := range list(s, key) {
		out = append(out, v.GetStringValue())
	}
	return out
}

func millis(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli())
}

func fromMillis(ms float64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(ms)).UTC()
}

func messageToMap(m chat.Message) map[string]any {
	atts := make([]any, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		atts = append(atts, map[string]any{
			"id":        a.ID,
			"file_name": a.FileName,
			"file_size": a.FileSize,
			"file_type": a.FileType,
		})
	}
	return map[string]any{
		"id":                 m.ID,
		"local_id":           m.LocalID,
		"client_id":          m.ClientID,
		"chat_id":            m.ChatID,
		"user_id":            m.UserID,
		"content":            m.Content,
		"attachments":        atts,
		"created_at_unix_ms": millis(m.CreatedAt),
		"status":             string(m.Status),
	}
}

func messagesToList(msgs []chat.Message) []any {
	out := make([]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageToMap(m))
	}
	return out
}

// MessageFrom decodes a message document.
func MessageFrom(s *structpb.Struct) chat.Message {
	m := chat.Message{
		ID:        str(s, "id"),
		LocalID:   str(s, "local_id"),
		ClientID:  str(s, "client_id"),
		ChatID:    str(s, "chat_id"),
		UserID:    str(s, "user_id"),
		Content:   str(s, "content"),
		CreatedAt: fromMillis(num(s, "created_at_unix_ms")),
		Status:    chat.Status(str(s, "status")),
	}
	for _, v := range list(s, "attachments") {
		a := v.GetStructValue()
		m.Attachments = append(m.Attachments, chat.Attachment{
			ID:       str(a, "id"),
			FileName: str(a, "file_name"),
			FileSize: int64(num(a, "file_size")),
			FileType: str(a, "file_type"),
		})
	}
	return m
}

func messagesFrom(s *structpb.Struct, key string) []chat.Message {
	var out []chat.Message
	for _, v := range list(s, key) {
		out = append(out, MessageFrom(v.GetStructValue()))
	}
	return out
}

func chatToMap(c chat.Chat) map[string]any {
	parts := make([]any, 0, len(c.Participants))
	for _, p := range c.Participants {
		parts = append(parts, map[string]any{"user_id": p.UserID, "name": p.Name})
	}
	return map[string]any{
		"id":                      c.ID,
		"name":                    c.Name,
		"is_group":                c.IsGroup,
		"participants":            parts,
		"last_message_at_unix_ms": millis(c.LastMessageAt),
		"unread_count":            c.UnreadCount,
	}
}

func chatsToList(chats []chat.Chat) []any {
	out := make([]any, 0, len(chats))
	for _, c := range chats {
		out = append(out, chatToMap(c))
	}
	return out
}

func chatFrom(s *structpb.Struct) chat.Chat {
	c := chat.Chat{
		ID:            str(s, "id"),
		Name:          str(s, "name"),
		IsGroup:       boolean(s, "is_group", false),
		LastMessageAt: fromMillis(num(s, "last_message_at_unix_ms")),
		UnreadCount:   int(num(s, "unread_count")),
	}
	for _, v := range list(s, "participants") {
		p := v.GetStructValue()
		c.Participants = append(c.Participants, chat.Participant{UserID: str(p, "user_id"), Name: str(p, "name")})
	}
	return c
}

func scrollToMap(st scroll.State) map[string]any {
	return map[string]any{
		"near_bottom":   st.IsNearBottom,
		"scrolled_away": st.UserHasScrolledAway,
	}
}

func scrollFrom(s *structpb.Struct) scroll.State {
	return scroll.State{
		IsNearBottom:        boolean(s, "near_bottom", false),
		UserHasScrolledAway: boolean(s, "scrolled_away", false),
	}
}

func uploadsToList(uploads []chat.Upload) []any {
	out := make([]any, 0, len(uploads))
	for _, u := range uploads {
		out = append(out, map[string]any{
			"file_name": u.FileName,
			"file_type": u.FileType,
			"data":      base64.StdEncoding.EncodeToString(u.Data),
		})
	}
	return out
}

func uploadsFrom(s *structpb.Struct) ([]chat.Upload, error) {
	var out []chat.Upload
	for i, v := range list(s, "attachments") {
		a := v.GetStructValue()
		data, err := base64.StdEncoding.DecodeString(str(a, "data"))
		if err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i, err)
		}
		name := str(a, "file_name")
		if name == "" {
			return nil, fmt.Errorf("attachment %d has no file name", i)
		}
		out = append(out, chat.Upload{FileName: name, FileType: str(a, "file_type"), Data: data})
	}
	return out, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return s, nil
}
