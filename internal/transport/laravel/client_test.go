package laravel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/devserver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	srv    *devserver.Server
	ts     *httptest.Server
	client *Client
}

func newFixture(t *testing.T, userID int64) *fixture {
	t.Helper()
	srv := devserver.New(devserver.Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	tok, err := srv.IssueToken(userID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	client, err := NewClient(ClientConfig{APIURL: ts.URL + "/api", Token: tok, Timeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return &fixture{srv: srv, ts: ts, client: client}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "/api"} {
		if _, err := NewClient(ClientConfig{APIURL: u}, nil); err == nil {
			t.Errorf("NewClient(%q) succeeded", u)
		}
	}
}

func TestClientListChats(t *testing.T) {
	f := newFixture(t, 1)
	if _, err := f.srv.Inject(2, 2, "hello group"); err != nil {
		t.Fatal(err)
	}

	chats, err := f.client.ListChats(context.Background())
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(chats))
	}
	group := chats[1]
	if group.ID != "2" || !group.IsGroup || len(group.Participants) != 3 {
		t.Fatalf("group = %+v", group)
	}
	if group.UnreadCount != 1 || group.LastMessageAt.IsZero() {
		t.Fatalf("group unread/activity = %d/%v", group.UnreadCount, group.LastMessageAt)
	}
}

func TestClientFetchAndSend(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	if _, err := f.srv.Inject(1, 2, "first"); err != nil {
		t.Fatal(err)
	}

	sent, err := f.client.SendMessage(ctx, "1", chat.Outgoing{ClientID: "local-abc", Content: "second"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent.ID == "" || sent.ClientID != "local-abc" || sent.ChatID != "1" || sent.UserID != "1" {
		t.Fatalf("sent = %+v", sent)
	}
	if sent.Status != chat.Confirmed {
		t.Fatalf("sent status = %s", sent.Status)
	}

	msgs, err := f.client.FetchMessages(ctx, "1")
	if err != nil {
		t.Fatalf("FetchMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].ID != sent.ID {
		t.Fatalf("history = %+v", msgs)
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Fatal("history timestamps were not decoded")
	}
}

func TestClientSendMultipart(t *testing.T) {
	f := newFixture(t, 1)
	out := chat.Outgoing{
		ClientID: "local-up",
		Content:  "see attached",
		Uploads: []chat.Upload{
			{FileName: "notes.pdf", FileType: "application/pdf", Data: []byte("%PDF-1.4")},
			{FileName: "a.png", FileType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
		},
	}
	sent, err := f.client.SendMessage(context.Background(), "1", out)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(sent.Attachments) != 2 {
		t.Fatalf("got %d attachments, want 2", len(sent.Attachments))
	}
	if a := sent.Attachments[0]; a.FileName != "notes.pdf" || a.FileSize != int64(len("%PDF-1.4")) {
		t.Fatalf("attachment = %+v", a)
	}
}

func TestClientErrors(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.client.FetchMessages(ctx, "1")
	var te *chat.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("FetchMessages non-member: %v, want TransportError", err)
	}
	if te.Status != http.StatusForbidden || te.ChatID != "1" {
		t.Fatalf("error = %+v", te)
	}

	if _, err := f.client.SendMessage(ctx, "2", chat.Outgoing{}); !chat.IsTransport(err) {
		t.Fatalf("empty send: %v", err)
	}

	bad, _ := NewClient(ClientConfig{APIURL: f.ts.URL + "/api", Token: "garbage"}, nil)
	if _, err := bad.ListChats(ctx); !errors.As(err, &te) || te.Status != http.StatusUnauthorized {
		t.Fatalf("bad token: %v", err)
	}
}

func TestClientMarkReadAndAuthorize(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, _ = f.srv.Inject(1, 1, "ping")

	if err := f.client.MarkRead(ctx, "1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	chats, _ := f.client.ListChats(ctx)
	if chats[0].UnreadCount != 0 {
		t.Fatalf("unread after MarkRead = %d", chats[0].UnreadCount)
	}

	sig, err := f.client.Authorize(ctx, "1.2", "private-chat.1")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if sig == "" {
		t.Fatal("empty signature")
	}
	if _, err := f.client.Authorize(ctx, "1.2", "private-chat.99"); err == nil {
		t.Fatal("authorized a channel for an unknown chat")
	}
}
