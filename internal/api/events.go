package api

import (
	"github.com/google/uuid"

	"github.com/unishare/unisync/internal/bus"
	"github.com/unishare/unisync/internal/status"
	intsync "github.com/unishare/unisync/internal/sync"
)

// eventToMap renders a bus event as an envelope document. Fields beyond
// the envelope depend on the payload type.
func eventToMap(evt bus.Event, profile string) map[string]any {
	m := map[string]any{
		"event_id":            uuid.New().String(),
		"profile":             profile,
		"kind":                evt.Kind,
		"occurred_at_unix_ms": millis(evt.Timestamp),
	}
	switch p := evt.Payload.(type) {
	case intsync.MessagesPayload:
		m["chat_id"] = p.ChatID
		m["messages"] = messagesToList(p.Messages)
	case intsync.MessagePayload:
		m["chat_id"] = p.ChatID
		m["local_id"] = p.LocalID
		m["message"] = messageToMap(p.Message)
		if p.Err != "" {
			m["error"] = p.Err
		}
	case intsync.UnreadPayload:
		m["chat_id"] = p.ChatID
		m["count"] = p.Count
	case intsync.ScrollPayload:
		m["chat_id"] = p.ChatID
		m["trigger"] = p.Trigger.String()
	case intsync.ChatsPayload:
		m["chats"] = chatsToList(p.Chats)
	case intsync.PullPayload:
		m["chat_id"] = p.ChatID
		m["fetched"] = p.Fetched
		m["fresh"] = p.Fresh
	case intsync.ErrorPayload:
		m["chat_id"] = p.ChatID
		m["error"] = p.Err
	case status.StatusChange:
		m["chat_id"] = p.ChatID
		m["from"] = string(p.From)
		m["to"] = string(p.To)
	}
	return m
}
