package sync

import (
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
)

// Bus event kinds published by the controller.
const (
	KindMessageMerged     = "message.merged"
	KindMessageOptimistic = "message.optimistic"
	KindMessageConfirmed  = "message.confirmed"
	KindMessageFailed     = "message.send_failed"
	KindMessageDiscarded  = "message.discarded"
	KindUnreadChanged     = "unread.changed"
	KindScrollToBottom    = "scroll.to_bottom"
	KindChatsLoaded       = "chats.loaded"
	KindPulled            = "sync.pulled"
	KindPullFailed        = "sync.pull_failed"
	KindStaleDiscarded    = "sync.stale_discarded"
	KindSubscribeFailed   = "sync.subscribe_failed"
)

// MessagesPayload carries messages that became visible in a chat.
type MessagesPayload struct {
	ChatID   string
	Messages []chat.Message
}

// MessagePayload carries one message and the local id that follows it
// through an optimistic send.
type MessagePayload struct {
	ChatID  string
	LocalID string
	Message chat.Message
	Uploads []chat.Upload
	Err     string
}

// UnreadPayload carries the new unread count of a chat.
type UnreadPayload struct {
	ChatID string
	Count  int
}

// ScrollPayload tells the UI to move a chat view to its newest message.
type ScrollPayload struct {
	ChatID  string
	Trigger scroll.Trigger
}

// ChatsPayload carries the chat list after a refresh.
type ChatsPayload struct {
	Chats []chat.Chat
}

// PullPayload summarizes one reconciliation fetch.
type PullPayload struct {
	ChatID  string
	Fetched int
	Fresh   int
}

// ErrorPayload reports a non-fatal failure for a chat.
type ErrorPayload struct {
	ChatID string
	Err    string
}
