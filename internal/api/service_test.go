package api

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/unishare/unisync/internal/bus"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
	"github.com/unishare/unisync/internal/status"
	"github.com/unishare/unisync/internal/store"
	intsync "github.com/unishare/unisync/internal/sync"
)

type fakeEngine struct {
	mu       sync.Mutex
	active   string
	watched  []string
	msgs     map[string][]chat.Message
	chats    []chat.Chat
	loads    int
	sendErr  error
	viewport scroll.Metrics
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{msgs: make(map[string][]chat.Message)}
}

func (f *fakeEngine) Active() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeEngine) OpenChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = chatID
	return nil
}

func (f *fakeEngine) CloseChat() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = ""
}

func (f *fakeEngine) Watch(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, chatID)
	return nil
}

func (f *fakeEngine) Unwatch(chatID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, id := range f.watched {
		if id == chatID {
			f.watched = append(f.watched[:i], f.watched[i+1:]...)
			return
		}
	}
}

func (f *fakeEngine) Watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.watched...)
}

func (f *fakeEngine) SendMessage(_ context.Context, chatID, content string, uploads []chat.Upload) intsync.SendResult {
	if content == "" && len(uploads) == 0 {
		return intsync.SendResult{Err: chat.ErrEmptyMessage}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		m := chat.Message{LocalID: "local-1", ChatID: chatID, Content: content, Status: chat.Failed}
		f.msgs[chatID] = append(f.msgs[chatID], m)
		return intsync.SendResult{LocalID: "local-1", Err: f.sendErr}
	}
	var atts []chat.Attachment
	for i, u := range uploads {
		atts = append(atts, chat.Attachment{ID: string(rune('a' + i)), FileName: u.FileName, FileSize: int64(len(u.Data))})
	}
	m := chat.Message{
		ID:          "10",
		LocalID:     "local-1",
		ChatID:      chatID,
		UserID:      "1",
		Content:     content,
		Attachments: atts,
		CreatedAt:   time.UnixMilli(1714557600000).UTC(),
		Status:      chat.Confirmed,
	}
	f.msgs[chatID] = append(f.msgs[chatID], m)
	return intsync.SendResult{LocalID: "local-1", Message: m}
}

func (f *fakeEngine) Retry(_ context.Context, _, localID string) intsync.SendResult {
	if localID != "local-1" {
		return intsync.SendResult{Err: chat.ErrUnknownLocalID}
	}
	return intsync.SendResult{LocalID: localID, Message: chat.Message{ID: "11", LocalID: localID, Status: chat.Confirmed}}
}

func (f *fakeEngine) Discard(_, localID string) error {
	if localID != "local-1" {
		return chat.ErrUnknownLocalID
	}
	return nil
}

func (f *fakeEngine) Refresh(_ context.Context, chatID string) ([]chat.Message, error) {
	return []chat.Message{{ID: "5", ChatID: chatID, Content: "fresh", Status: chat.Confirmed}}, nil
}

func (f *fakeEngine) ReportViewport(_ string, m scroll.Metrics) scroll.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewport = m
	near := m.ScrollHeight-m.ScrollTop-m.ClientHeight < 120
	return scroll.State{IsNearBottom: near, UserHasScrolledAway: !near}
}

func (f *fakeEngine) ScrollState(string) scroll.State {
	return scroll.State{IsNearBottom: true}
}

func (f *fakeEngine) ChatState(string) status.State {
	return status.Ready
}

func (f *fakeEngine) Messages(chatID string) []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Message(nil), f.msgs[chatID]...)
}

func (f *fakeEngine) Unread(string) int { return 3 }

func (f *fakeEngine) Chats() []chat.Chat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats
}

func (f *fakeEngine) LoadChats(context.Context) ([]chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	f.chats = []chat.Chat{{
		ID:           "1",
		Name:         "Alice & Bob",
		Participants: []chat.Participant{{UserID: "1", Name: "Alice"}, {UserID: "2", Name: "Bob"}},
		UnreadCount:  2,
	}}
	return f.chats, nil
}

func (f *fakeEngine) Stats() intsync.Stats {
	return intsync.Stats{Pulls: 4, Pushes: 2}
}

type fakeCache struct{}

func (fakeCache) Counts() (store.Counts, error) {
	return store.Counts{Chats: 1, Messages: 7}, nil
}

type connected bool

func (c connected) Connected() bool { return bool(c) }

// serve runs the service on a unix socket and returns a connected client.
func serve(t *testing.T, engine Engine, b *bus.Bus) *Client {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "unisync-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socketPath := filepath.Join(dir, "d.sock")

	svc := NewService(engine, b, zap.NewNop(), Options{
		Profile: "test",
		UserID:  "1",
		Push:    connected(true),
		Cache:   fakeCache{},
	})
	srv := grpc.NewServer()
	Register(srv, svc)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(srv.Stop)

	client, err := Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func codeOf(err error) codes.Code {
	return grpcstatus.Code(err)
}

func TestStatus(t *testing.T) {
	engine := newFakeEngine()
	engine.active = "1"
	engine.watched = []string{"1", "2"}
	client := serve(t, engine, bus.New())
	ctx := context.Background()

	st, err := client.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Profile != "test" || st.UserID != "1" || st.ActiveChat != "1" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Watched) != 2 {
		t.Errorf("watched = %v, want 2 chats", st.Watched)
	}
	if !st.PushEnabled || !st.PushConnected {
		t.Errorf("push enabled=%v connected=%v", st.PushEnabled, st.PushConnected)
	}
	if st.Stats["pulls"] != 4 || st.Stats["pushes"] != 2 {
		t.Errorf("stats = %v", st.Stats)
	}
	if st.Cached == nil || st.Cached.Chats != 1 || st.Cached.Messages != 7 {
		t.Errorf("cache = %+v", st.Cached)
	}
}

func TestListChatsLoadsWhenEmpty(t *testing.T) {
	engine := newFakeEngine()
	client := serve(t, engine, bus.New())
	ctx := context.Background()

	chats, err := client.ListChats(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 1 || chats[0].Name != "Alice & Bob" || chats[0].UnreadCount != 2 {
		t.Fatalf("chats = %+v", chats)
	}
	if len(chats[0].Participants) != 2 {
		t.Errorf("participants = %+v", chats[0].Participants)
	}

	if _, err := client.ListChats(ctx, false); err != nil {
		t.Fatal(err)
	}
	if engine.loads != 1 {
		t.Errorf("loads = %d, want cached list on second call", engine.loads)
	}
	if _, err := client.ListChats(ctx, true); err != nil {
		t.Fatal(err)
	}
	if engine.loads != 2 {
		t.Errorf("loads = %d, want reload on refresh", engine.loads)
	}
}

func TestOpenSendAndView(t *testing.T) {
	engine := newFakeEngine()
	client := serve(t, engine, bus.New())
	ctx := context.Background()

	view, err := client.OpenChat(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if view.ChatID != "1" || view.State != string(status.Ready) || view.Unread != 3 || !view.Scroll.IsNearBottom {
		t.Errorf("view = %+v", view)
	}
	if engine.Active() != "1" {
		t.Errorf("active = %q", engine.Active())
	}

	out, err := client.Send(ctx, "1", "hello", []chat.Upload{{FileName: "notes.pdf", FileType: "application/pdf", Data: []byte("%PDF")}})
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK || out.LocalID != "local-1" || out.Message.ID != "10" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.Message.Attachments) != 1 || out.Message.Attachments[0].FileSize != 4 {
		t.Errorf("attachments = %+v", out.Message.Attachments)
	}
	if !out.Message.CreatedAt.Equal(time.UnixMilli(1714557600000)) {
		t.Errorf("created_at = %v", out.Message.CreatedAt)
	}

	view, err = client.Messages(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Messages) != 1 || view.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", view.Messages)
	}

	if err := client.CloseChat(ctx); err != nil {
		t.Fatal(err)
	}
	if engine.Active() != "" {
		t.Errorf("active after close = %q", engine.Active())
	}
}

func TestSendFailureIsNotAnError(t *testing.T) {
	engine := newFakeEngine()
	engine.sendErr = &chat.TransportError{Op: "send", ChatID: "1", Status: 500, Err: errors.New("boom")}
	client := serve(t, engine, bus.New())

	out, err := client.Send(context.Background(), "1", "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.OK || out.Err == "" {
		t.Fatalf("outcome = %+v, want failed delivery", out)
	}
	if out.Message.Status != chat.Failed || out.Message.LocalID != "local-1" {
		t.Errorf("failed entry = %+v", out.Message)
	}
}

func TestRequestErrors(t *testing.T) {
	client := serve(t, newFakeEngine(), bus.New())
	ctx := context.Background()

	if _, err := client.Send(ctx, "1", "", nil); codeOf(err) != codes.InvalidArgument {
		t.Errorf("empty send: %v", err)
	}
	if _, err := client.Send(ctx, "", "hi", nil); codeOf(err) != codes.InvalidArgument {
		t.Errorf("missing chat: %v", err)
	}
	if _, err := client.Retry(ctx, "1", "nope"); codeOf(err) != codes.NotFound {
		t.Errorf("retry unknown: %v", err)
	}
	if err := client.Discard(ctx, "1", "nope"); codeOf(err) != codes.NotFound {
		t.Errorf("discard unknown: %v", err)
	}
	if _, err := client.Refresh(ctx, ""); codeOf(err) != codes.InvalidArgument {
		t.Errorf("refresh without active chat: %v", err)
	}
	if err := client.Discard(ctx, "1", "local-1"); err != nil {
		t.Errorf("discard: %v", err)
	}
}

func TestRefreshDefaultsToActiveChat(t *testing.T) {
	engine := newFakeEngine()
	engine.active = "7"
	client := serve(t, engine, bus.New())

	fresh, err := client.Refresh(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 1 || fresh[0].ChatID != "7" {
		t.Errorf("fresh = %+v", fresh)
	}
}

func TestWatchAndViewport(t *testing.T) {
	engine := newFakeEngine()
	client := serve(t, engine, bus.New())
	ctx := context.Background()

	if err := client.WatchChat(ctx, "2", true); err != nil {
		t.Fatal(err)
	}
	if got := engine.Watched(); len(got) != 1 || got[0] != "2" {
		t.Errorf("watched = %v", got)
	}
	if err := client.WatchChat(ctx, "2", false); err != nil {
		t.Fatal(err)
	}
	if got := engine.Watched(); len(got) != 0 {
		t.Errorf("watched after unwatch = %v", got)
	}

	st, err := client.ReportViewport(ctx, "1", scroll.Metrics{ScrollTop: 0, ScrollHeight: 2000, ClientHeight: 500})
	if err != nil {
		t.Fatal(err)
	}
	if st.IsNearBottom || !st.UserHasScrolledAway {
		t.Errorf("state = %+v, want scrolled away", st)
	}
	if engine.viewport.ScrollHeight != 2000 {
		t.Errorf("viewport = %+v", engine.viewport)
	}
}

func TestWatchEventsFiltersByChat(t *testing.T) {
	b := bus.New()
	client := serve(t, newFakeEngine(), b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _, err := client.WatchEvents(ctx, "", "1")
	if err != nil {
		t.Fatal(err)
	}

	// The subscription is registered when the handler starts; keep
	// publishing until the first event comes through.
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	var first Event
wait:
	for {
		select {
		case <-tick.C:
			b.Emit(intsync.KindUnreadChanged, intsync.UnreadPayload{ChatID: "2", Count: 9})
			b.Emit(intsync.KindUnreadChanged, intsync.UnreadPayload{ChatID: "1", Count: 4})
		case evt := <-events:
			first = evt
			break wait
		case <-deadline:
			t.Fatal("no event received")
		}
	}
	if first.ChatID != "1" || first.Count() != 4 || first.Kind != intsync.KindUnreadChanged {
		t.Errorf("event = %+v count=%d", first, first.Count())
	}
	if first.ID == "" || first.At.IsZero() {
		t.Errorf("envelope missing id or time: %+v", first)
	}

	b.Emit(intsync.KindMessageConfirmed, intsync.MessagePayload{
		ChatID:  "1",
		LocalID: "local-1",
		Message: chat.Message{ID: "10", ChatID: "1", Content: "hi", Status: chat.Confirmed},
	})
	b.Emit(intsync.KindChatsLoaded, intsync.ChatsPayload{Chats: []chat.Chat{{ID: "3"}}})

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for !seen[intsync.KindMessageConfirmed] || !seen[intsync.KindChatsLoaded] {
		select {
		case evt := <-events:
			if evt.ChatID == "2" {
				t.Fatalf("event for another chat passed the filter: %+v", evt)
			}
			seen[evt.Kind] = true
			if evt.Kind == intsync.KindMessageConfirmed {
				m, ok := evt.Message()
				if !ok || m.ID != "10" || evt.Field("local_id") != "local-1" {
					t.Errorf("confirmed event = %+v", m)
				}
			}
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}
