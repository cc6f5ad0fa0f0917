package api

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
)

// Client talks to a daemon over its control socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req document) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req.doc())
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	out, err := c.call(ctx, MethodGetStatus, empty{})
	if err != nil {
		return nil, err
	}
	return statusFrom(out), nil
}

// ListChats returns the chat list, asking the daemon to reload it from the
// server when refresh is set.
func (c *Client) ListChats(ctx context.Context, refresh bool) ([]chat.Chat, error) {
	out, err := c.call(ctx, MethodListChats, ListRequest{Refresh: refresh})
	if err != nil {
		return nil, err
	}
	return chatListFrom(out).Chats, nil
}

// Messages returns what the daemon holds for chatID without fetching.
func (c *Client) Messages(ctx context.Context, chatID string) (*ChatView, error) {
	out, err := c.call(ctx, MethodGetMessages, ChatRequest{ChatID: chatID})
	if err != nil {
		return nil, err
	}
	return chatViewFrom(out), nil
}

// OpenChat makes chatID the active chat and returns its loaded view.
func (c *Client) OpenChat(ctx context.Context, chatID string) (*ChatView, error) {
	out, err := c.call(ctx, MethodOpenChat, ChatRequest{ChatID: chatID})
	if err != nil {
		return nil, err
	}
	return chatViewFrom(out), nil
}

// CloseChat leaves the active chat.
func (c *Client) CloseChat(ctx context.Context) error {
	_, err := c.call(ctx, MethodCloseChat, empty{})
	return err
}

// WatchChat starts or stops background delivery for chatID.
func (c *Client) WatchChat(ctx context.Context, chatID string, watch bool) error {
	_, err := c.call(ctx, MethodWatchChat, WatchRequest{ChatID: chatID, Watch: watch})
	return err
}

// Send posts a message with optional attachments.
func (c *Client) Send(ctx context.Context, chatID, content string, uploads []chat.Upload) (*SendOutcome, error) {
	out, err := c.call(ctx, MethodSendMessage, SendRequest{ChatID: chatID, Content: content, Uploads: uploads})
	if err != nil {
		return nil, err
	}
	return sendOutcomeFrom(out), nil
}

// Retry sends a failed message again.
func (c *Client) Retry(ctx context.Context, chatID, localID string) (*SendOutcome, error) {
	out, err := c.call(ctx, MethodRetryMessage, LocalRequest{ChatID: chatID, LocalID: localID})
	if err != nil {
		return nil, err
	}
	return sendOutcomeFrom(out), nil
}

// Discard drops a failed message.
func (c *Client) Discard(ctx context.Context, chatID, localID string) error {
	_, err := c.call(ctx, MethodDiscardMessage, LocalRequest{ChatID: chatID, LocalID: localID})
	return err
}

// Refresh pulls chatID (the active chat when empty) and returns the
// messages that were new.
func (c *Client) Refresh(ctx context.Context, chatID string) ([]chat.Message, error) {
	out, err := c.call(ctx, MethodRefresh, ChatRequest{ChatID: chatID})
	if err != nil {
		return nil, err
	}
	return refreshReplyFrom(out).Fresh, nil
}

// ReportViewport sends viewport metrics and returns the resulting scroll
// state.
func (c *Client) ReportViewport(ctx context.Context, chatID string, m scroll.Metrics) (scroll.State, error) {
	out, err := c.call(ctx, MethodReportViewport, ViewportRequest{ChatID: chatID, Metrics: m})
	if err != nil {
		return scroll.State{}, err
	}
	return viewportReplyFrom(out).Scroll, nil
}

// Event is one streamed daemon event.
type Event struct {
	ID     string
	Kind   string
	At     time.Time
	ChatID string
	Doc    *structpb.Struct
}

// Message returns the message carried by message.* events.
func (e Event) Message() (chat.Message, bool) {
	m := object(e.Doc, "message")
	if m == nil {
		return chat.Message{}, false
	}
	return MessageFrom(m), true
}

// Messages returns the messages carried by message.merged events.
func (e Event) Messages() []chat.Message {
	return messagesFrom(e.Doc, "messages")
}

// Count returns the unread count of unread.changed events.
func (e Event) Count() int {
	return int(num(e.Doc, "count"))
}

// Field returns a string field of the event.
func (e Event) Field(key string) string {
	return str(e.Doc, key)
}

// WatchEvents streams events whose kind starts with prefix (all when
// empty), limited to chatID when set. The channel closes when ctx ends or
// the stream breaks; the error, if any, is sent on errc.
func (c *Client) WatchEvents(ctx context.Context, prefix, chatID string) (<-chan Event, <-chan error, error) {
	in, err := encode(EventsRequest{Prefix: prefix, ChatID: chatID})
	if err != nil {
		return nil, nil, err
	}
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod(MethodWatchEvents))
	if err != nil {
		return nil, nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, nil, err
	}

	events := make(chan Event, 64)
	errc := make(chan error, 1)
	go func() {
		defer close(events)
		for {
			doc := new(structpb.Struct)
			if err := stream.RecvMsg(doc); err != nil {
				if err != io.EOF && ctx.Err() == nil {
					errc <- err
				}
				return
			}
			evt := Event{
				ID:     str(doc, "event_id"),
				Kind:   str(doc, "kind"),
				At:     fromMillis(num(doc, "occurred_at_unix_ms")),
				ChatID: str(doc, "chat_id"),
				Doc:    doc,
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errc, nil
}
