package api

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
)

// Typed request and response messages. Both sides of the socket encode and
// decode through these, so a field name is spelled once.

type document interface {
	doc() map[string]any
}

// ListRequest asks for the chat list.
type ListRequest struct {
	Refresh bool
}

func (r ListRequest) doc() map[string]any {
	return map[string]any{"refresh": r.Refresh}
}

func listRequestFrom(s *structpb.Struct) ListRequest {
	return ListRequest{Refresh: boolean(s, "refresh", false)}
}

// ChatRequest names one chat.
type ChatRequest struct {
	ChatID string
}

func (r ChatRequest) doc() map[string]any {
	return map[string]any{"chat_id": r.ChatID}
}

func chatRequestFrom(s *structpb.Struct) ChatRequest {
	return ChatRequest{ChatID: str(s, "chat_id")}
}

// WatchRequest starts or stops background delivery for a chat. Watch
// defaults to true when absent.
type WatchRequest struct {
	ChatID string
	Watch  bool
}

func (r WatchRequest) doc() map[string]any {
	return map[string]any{"chat_id": r.ChatID, "watch": r.Watch}
}

func watchRequestFrom(s *structpb.Struct) WatchRequest {
	return WatchRequest{ChatID: str(s, "chat_id"), Watch: boolean(s, "watch", true)}
}

// SendRequest posts a message. Attachment data travels base64 encoded.
type SendRequest struct {
	ChatID  string
	Content string
	Uploads []chat.Upload
}

func (r SendRequest) doc() map[string]any {
	return map[string]any{
		"chat_id":     r.ChatID,
		"content":     r.Content,
		"attachments": uploadsToList(r.Uploads),
	}
}

func sendRequestFrom(s *structpb.Struct) (SendRequest, error) {
	uploads, err := uploadsFrom(s)
	if err != nil {
		return SendRequest{}, err
	}
	return SendRequest{ChatID: str(s, "chat_id"), Content: str(s, "content"), Uploads: uploads}, nil
}

// LocalRequest names an optimistic entry of a chat.
type LocalRequest struct {
	ChatID  string
	LocalID string
}

func (r LocalRequest) doc() map[string]any {
	return map[string]any{"chat_id": r.ChatID, "local_id": r.LocalID}
}

func localRequestFrom(s *structpb.Struct) LocalRequest {
	return LocalRequest{ChatID: str(s, "chat_id"), LocalID: str(s, "local_id")}
}

func (r LocalRequest) validate() error {
	if err := required("chat_id", r.ChatID); err != nil {
		return err
	}
	return required("local_id", r.LocalID)
}

// ViewportRequest reports a chat's viewport metrics.
type ViewportRequest struct {
	ChatID  string
	Metrics scroll.Metrics
}

func (r ViewportRequest) doc() map[string]any {
	return map[string]any{
		"chat_id":       r.ChatID,
		"scroll_top":    r.Metrics.ScrollTop,
		"scroll_height": r.Metrics.ScrollHeight,
		"client_height": r.Metrics.ClientHeight,
	}
}

func viewportRequestFrom(s *structpb.Struct) ViewportRequest {
	return ViewportRequest{
		ChatID: str(s, "chat_id"),
		Metrics: scroll.Metrics{
			ScrollTop:    num(s, "scroll_top"),
			ScrollHeight: num(s, "scroll_height"),
			ClientHeight: num(s, "client_height"),
		},
	}
}

// EventsRequest selects the events a WatchEvents stream carries.
type EventsRequest struct {
	Prefix string
	ChatID string
}

func (r EventsRequest) doc() map[string]any {
	return map[string]any{"prefix": r.Prefix, "chat_id": r.ChatID}
}

func eventsRequestFrom(s *structpb.Struct) EventsRequest {
	return EventsRequest{Prefix: str(s, "prefix"), ChatID: str(s, "chat_id")}
}

// Status is the daemon's self-description.
type Status struct {
	Profile       string
	UserID        string
	Uptime        time.Duration
	ActiveChat    string
	Watched       []string
	PushEnabled   bool
	PushConnected bool
	Stats         map[string]uint64
	// Cached is nil when the daemon runs without a cache.
	Cached *CacheCounts
}

// CacheCounts are the row counts of the warm-start cache.
type CacheCounts struct {
	Chats    int
	Messages int
	Failed   int
}

func (st Status) doc() map[string]any {
	watched := make([]any, 0, len(st.Watched))
	for _, id := range st.Watched {
		watched = append(watched, id)
	}
	stats := make(map[string]any, len(st.Stats))
	for k, v := range st.Stats {
		stats[k] = v
	}
	m := map[string]any{
		"profile":        st.Profile,
		"user_id":        st.UserID,
		"uptime_ms":      float64(st.Uptime.Milliseconds()),
		"active_chat":    st.ActiveChat,
		"watched":        watched,
		"push_enabled":   st.PushEnabled,
		"push_connected": st.PushConnected,
		"stats":          stats,
	}
	if st.Cached != nil {
		m["cache"] = map[string]any{
			"chats":    st.Cached.Chats,
			"messages": st.Cached.Messages,
			"failed":   st.Cached.Failed,
		}
	}
	return m
}

func statusFrom(s *structpb.Struct) *Status {
	st := &Status{
		Profile:       str(s, "profile"),
		UserID:        str(s, "user_id"),
		Uptime:        time.Duration(num(s, "uptime_ms")) * time.Millisecond,
		ActiveChat:    str(s, "active_chat"),
		Watched:       stringList(s, "watched"),
		PushEnabled:   boolean(s, "push_enabled", false),
		PushConnected: boolean(s, "push_connected", false),
		Stats:         make(map[string]uint64),
	}
	for k, v := range object(s, "stats").GetFields() {
		st.Stats[k] = uint64(v.GetNumberValue())
	}
	if cache := object(s, "cache"); cache != nil {
		st.Cached = &CacheCounts{
			Chats:    int(num(cache, "chats")),
			Messages: int(num(cache, "messages")),
			Failed:   int(num(cache, "failed")),
		}
	}
	return st
}

// ChatList is the chat list response.
type ChatList struct {
	Chats []chat.Chat
}

func (l ChatList) doc() map[string]any {
	return map[string]any{"chats": chatsToList(l.Chats)}
}

func chatListFrom(s *structpb.Struct) ChatList {
	var l ChatList
	for _, v := range list(s, "chats") {
		l.Chats = append(l.Chats, chatFrom(v.GetStructValue()))
	}
	return l
}

// ChatView is a chat's messages and view state.
type ChatView struct {
	ChatID   string
	State    string
	Unread   int
	Scroll   scroll.State
	Messages []chat.Message
}

func (v ChatView) doc() map[string]any {
	return map[string]any{
		"chat_id":  v.ChatID,
		"state":    v.State,
		"unread":   v.Unread,
		"scroll":   scrollToMap(v.Scroll),
		"messages": messagesToList(v.Messages),
	}
}

func chatViewFrom(s *structpb.Struct) *ChatView {
	return &ChatView{
		ChatID:   str(s, "chat_id"),
		State:    str(s, "state"),
		Unread:   int(num(s, "unread")),
		Scroll:   scrollFrom(object(s, "scroll")),
		Messages: messagesFrom(s, "messages"),
	}
}

// WatchReply confirms a WatchChat call.
type WatchReply struct {
	ChatID   string
	Watching bool
}

func (r WatchReply) doc() map[string]any {
	return map[string]any{"chat_id": r.ChatID, "watching": r.Watching}
}

// SendOutcome is the result of a send or retry. A delivery failure is not
// an error: the message stays in the chat as failed and Err says why.
type SendOutcome struct {
	ChatID  string
	LocalID string
	OK      bool
	Err     string
	// Message is the confirmed message, or the failed entry when the chat
	// still holds it. Zero otherwise.
	Message chat.Message
}

func (o SendOutcome) doc() map[string]any {
	m := map[string]any{
		"chat_id":  o.ChatID,
		"local_id": o.LocalID,
		"ok":       o.OK,
	}
	if o.Err != "" {
		m["error"] = o.Err
	}
	if o.Message.ID != "" || o.Message.LocalID != "" {
		m["message"] = messageToMap(o.Message)
	}
	return m
}

func sendOutcomeFrom(s *structpb.Struct) *SendOutcome {
	o := &SendOutcome{
		ChatID:  str(s, "chat_id"),
		LocalID: str(s, "local_id"),
		OK:      boolean(s, "ok", false),
		Err:     str(s, "error"),
	}
	if m := object(s, "message"); m != nil {
		o.Message = MessageFrom(m)
	}
	return o
}

// RefreshReply carries the messages a refresh found new.
type RefreshReply struct {
	ChatID string
	Fresh  []chat.Message
}

func (r RefreshReply) doc() map[string]any {
	return map[string]any{"chat_id": r.ChatID, "fresh": messagesToList(r.Fresh)}
}

func refreshReplyFrom(s *structpb.Struct) RefreshReply {
	return RefreshReply{ChatID: str(s, "chat_id"), Fresh: messagesFrom(s, "fresh")}
}

// ViewportReply is the scroll state a viewport report produced.
type ViewportReply struct {
	ChatID string
	Scroll scroll.State
}

func (r ViewportReply) doc() map[string]any {
	return map[string]any{"chat_id": r.ChatID, "scroll": scrollToMap(r.Scroll)}
}

func viewportReplyFrom(s *structpb.Struct) ViewportReply {
	return ViewportReply{ChatID: str(s, "chat_id"), Scroll: scrollFrom(object(s, "scroll"))}
}

type empty struct{}

func (empty) doc() map[string]any { return map[string]any{} }

func encode(d document) (*structpb.Struct, error) {
	return newStruct(d.doc())
}
