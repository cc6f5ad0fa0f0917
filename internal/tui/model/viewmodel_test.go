package model

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unishare/unisync/internal/api"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
)

type fakeDaemon struct {
	chats    []chat.Chat
	view     *api.ChatView
	sent     []chat.Upload
	sendOK   bool
	retried  string
	metrics  scroll.Metrics
	closeErr error
}

func (f *fakeDaemon) Status(context.Context) (*api.Status, error) {
	return &api.Status{Profile: "main", PushEnabled: true}, nil
}

func (f *fakeDaemon) ListChats(context.Context, bool) ([]chat.Chat, error) {
	return f.chats, nil
}

func (f *fakeDaemon) OpenChat(_ context.Context, chatID string) (*api.ChatView, error) {
	v := *f.view
	v.ChatID = chatID
	return &v, nil
}

func (f *fakeDaemon) CloseChat(context.Context) error { return f.closeErr }

func (f *fakeDaemon) Messages(_ context.Context, chatID string) (*api.ChatView, error) {
	v := *f.view
	v.ChatID = chatID
	return &v, nil
}

func (f *fakeDaemon) Send(_ context.Context, _, _ string, uploads []chat.Upload) (*api.SendOutcome, error) {
	f.sent = uploads
	if !f.sendOK {
		return &api.SendOutcome{LocalID: "l1", Err: "server unavailable"}, nil
	}
	return &api.SendOutcome{LocalID: "l1", OK: true}, nil
}

func (f *fakeDaemon) Retry(_ context.Context, _, localID string) (*api.SendOutcome, error) {
	f.retried = localID
	return &api.SendOutcome{LocalID: localID, OK: true}, nil
}

func (f *fakeDaemon) Discard(context.Context, string, string) error { return nil }

func (f *fakeDaemon) Refresh(context.Context, string) ([]chat.Message, error) {
	return []chat.Message{{ID: "9"}, {ID: "10"}}, nil
}

func (f *fakeDaemon) ReportViewport(_ context.Context, _ string, m scroll.Metrics) (scroll.State, error) {
	f.metrics = m
	return scroll.State{UserHasScrolledAway: true}, nil
}

func (f *fakeDaemon) WatchEvents(context.Context, string, string) (<-chan api.Event, <-chan error, error) {
	return nil, nil, errors.New("not streaming")
}

func newFake() *fakeDaemon {
	return &fakeDaemon{
		chats: []chat.Chat{
			{ID: "1", Name: "Alice & Bob", UnreadCount: 2, Participants: []chat.Participant{{UserID: "2", Name: "Bob"}}},
			{ID: "2", Name: "Study group", UnreadCount: 1},
		},
		view: &api.ChatView{Messages: []chat.Message{
			{ID: "1", UserID: "2", Content: "hi", Status: chat.Confirmed},
			{LocalID: "l0", UserID: "1", Content: "oops", Status: chat.Failed},
		}},
	}
}

func event(kind, chatID string, fields map[string]any) api.Event {
	doc, _ := structpb.NewStruct(fields)
	return api.Event{Kind: kind, ChatID: chatID, Doc: doc}
}

func TestOpenChatClearsUnread(t *testing.T) {
	d := newFake()
	vm := NewViewModel(d)
	ctx := context.Background()
	if err := vm.LoadChats(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := vm.OpenChat(ctx, "1"); err != nil {
		t.Fatal(err)
	}
	if vm.Active() != "1" {
		t.Errorf("active = %q", vm.Active())
	}
	if got := vm.Chats()[0].UnreadCount; got != 0 {
		t.Errorf("unread after open = %d", got)
	}
	if got := vm.Chats()[1].UnreadCount; got != 1 {
		t.Errorf("other chat unread = %d, want untouched", got)
	}
	if vm.SenderName("2") != "Bob" || vm.SenderName("7") != "user 7" {
		t.Errorf("sender names = %q, %q", vm.SenderName("2"), vm.SenderName("7"))
	}
}

func TestSendCarriesPendingAttachments(t *testing.T) {
	d := newFake()
	vm := NewViewModel(d)
	ctx := context.Background()

	if err := vm.Send(ctx, "hello"); !errors.Is(err, chat.ErrNoChat) {
		t.Fatalf("send without chat: %v", err)
	}
	_ = vm.OpenChat(ctx, "1")
	vm.Attach(chat.Upload{FileName: "a.pdf"})
	if n := vm.Attach(chat.Upload{FileName: "b.png"}); n != 2 {
		t.Fatalf("pending = %d", n)
	}
	if err := vm.Send(ctx, "files"); err != nil {
		t.Fatal(err)
	}
	if len(d.sent) != 2 || vm.Pending() != 0 {
		t.Errorf("sent %d uploads, %d still pending", len(d.sent), vm.Pending())
	}
	if vm.Flash.Get() == "" {
		t.Error("failed delivery left no flash message")
	}
}

func TestRetryDefaultsToNewestFailed(t *testing.T) {
	d := newFake()
	vm := NewViewModel(d)
	ctx := context.Background()
	_ = vm.OpenChat(ctx, "1")

	if vm.LastFailed() != "l0" {
		t.Fatalf("last failed = %q", vm.LastFailed())
	}
	if err := vm.Retry(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if d.retried != "l0" {
		t.Errorf("retried %q", d.retried)
	}
}

func TestReportViewportNeedsActiveChat(t *testing.T) {
	d := newFake()
	vm := NewViewModel(d)
	ctx := context.Background()
	m := scroll.Metrics{ScrollTop: 0, ScrollHeight: 400, ClientHeight: 100}

	if err := vm.ReportViewport(ctx, m); err != nil {
		t.Fatal(err)
	}
	if d.metrics != (scroll.Metrics{}) {
		t.Error("viewport reported without an active chat")
	}
	_ = vm.OpenChat(ctx, "1")
	if err := vm.ReportViewport(ctx, m); err != nil {
		t.Fatal(err)
	}
	if d.metrics != m || !vm.Scroll().UserHasScrolledAway {
		t.Errorf("metrics = %+v state = %+v", d.metrics, vm.Scroll())
	}
}

func TestApply(t *testing.T) {
	vm := NewViewModel(newFake())
	ctx := context.Background()
	_ = vm.LoadChats(ctx, false)
	_ = vm.OpenChat(ctx, "1")

	tests := []struct {
		name string
		evt  api.Event
		want Change
	}{
		{"active chat message", event("message.merged", "1", nil), ChangeMessages},
		{"other chat message", event("message.merged", "2", nil), ChangeChatList},
		{"scroll in active chat", event("scroll.to_bottom", "1", nil), ChangeScrollToBottom},
		{"scroll in other chat", event("scroll.to_bottom", "2", nil), ChangeNone},
		{"unread", event("unread.changed", "2", map[string]any{"count": 5}), ChangeChats},
		{"chat list", event("chats.loaded", "", nil), ChangeChatList},
		{"state", event("chat.state_changed", "1", nil), ChangeStatus},
		{"pull summary", event("sync.pulled", "1", nil), ChangeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := vm.Apply(tt.evt); got != tt.want {
				t.Errorf("Apply(%s) = %d, want %d", tt.evt.Kind, got, tt.want)
			}
		})
	}
	if got := vm.Chats()[1].UnreadCount; got != 5 {
		t.Errorf("unread.changed not applied: %d", got)
	}
}
