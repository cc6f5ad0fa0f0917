package sync

import (
	"context"

	"github.com/unishare/unisync/internal/chat"
)

// Transport is the chat API as the controller uses it. Implementations
// return normalized messages and report failures as *chat.TransportError.
type Transport interface {
	ListChats(ctx context.Context) ([]chat.Chat, error)
	FetchMessages(ctx context.Context, chatID string) ([]chat.Message, error)
	SendMessage(ctx context.Context, chatID string, out chat.Outgoing) (chat.Message, error)
	MarkRead(ctx context.Context, chatID string) error
	// Subscribe delivers pushed messages for chatID to onMessage until the
	// returned function is called.
	Subscribe(ctx context.Context, chatID string, onMessage func(chat.Message)) (func(), error)
}
