package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	gosync "sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/unishare/unisync/internal/bus"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/msgstore"
	"github.com/unishare/unisync/internal/scroll"
	"github.com/unishare/unisync/internal/status"
	"github.com/unishare/unisync/internal/unread"
)

const me = "me"

type fakeTransport struct {
	mu        gosync.Mutex
	chats     []chat.Chat
	history   map[string][]chat.Message
	fetchGate map[string]chan struct{}
	fetchErr  error
	fetches   map[string]int
	sendGate  chan struct{}
	sendErr   error
	onSend    func(chatID string, out chat.Outgoing)
	subs      map[string]func(chat.Message)
	subErr    error
	unsubs    map[string]int
	markReads map[string]int
	nextID    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		history:   make(map[string][]chat.Message),
		fetchGate: make(map[string]chan struct{}),
		fetches:   make(map[string]int),
		subs:      make(map[string]func(chat.Message)),
		unsubs:    make(map[string]int),
		markReads: make(map[string]int),
	}
}

func (f *fakeTransport) ListChats(ctx context.Context) ([]chat.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Chat(nil), f.chats...), nil
}

func (f *fakeTransport) FetchMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	f.mu.Lock()
	f.fetches[chatID]++
	gate := f.fetchGate[chatID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, &chat.TransportError{Op: "fetch messages", ChatID: chatID, Err: f.fetchErr}
	}
	return append([]chat.Message(nil), f.history[chatID]...), nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID string, out chat.Outgoing) (chat.Message, error) {
	f.mu.Lock()
	gate, onSend := f.sendGate, f.onSend
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if onSend != nil {
		onSend(chatID, out)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return chat.Message{}, &chat.TransportError{Op: "send message", ChatID: chatID, Status: 500, Err: f.sendErr}
	}
	f.nextID++
	m := chat.Message{
		ID:        fmt.Sprintf("s%d", f.nextID),
		ClientID:  out.ClientID,
		ChatID:    chatID,
		UserID:    me,
		Content:   out.Content,
		CreatedAt: time.Now(),
	}
	f.history[chatID] = append(f.history[chatID], m)
	return m, nil
}

func (f *fakeTransport) MarkRead(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads[chatID]++
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, chatID string, onMessage func(chat.Message)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subs[chatID] = onMessage
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubs[chatID]++
		delete(f.subs, chatID)
	}, nil
}

func (f *fakeTransport) push(t *testing.T, chatID string, m chat.Message) {
	t.Helper()
	f.mu.Lock()
	fn := f.subs[chatID]
	f.mu.Unlock()
	if fn == nil {
		t.Fatalf("no subscription for chat %s", chatID)
	}
	fn(m)
}

func (f *fakeTransport) subscribed(chatID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[chatID] != nil
}

func (f *fakeTransport) fetchCount(chatID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[chatID]
}

func (f *fakeTransport) gateFetch(chatID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.fetchGate[chatID] = gate
	return gate
}

type harness struct {
	ctrl      *Controller
	transport *fakeTransport
	bus       *bus.Bus
	scrolls   <-chan bus.Event
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	ft := newFakeTransport()
	b := bus.New()
	scrolls, unsub := b.Subscribe("scroll.", 64)
	t.Cleanup(unsub)

	cfg.CurrentUserID = me
	ctrl := New(ft, msgstore.New(zap.NewNop()), unread.New(), b, zap.NewNop(), cfg)
	t.Cleanup(ctrl.Close)
	return &harness{ctrl: ctrl, transport: ft, bus: b, scrolls: scrolls}
}

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func remote(chatID, id string, offset int) chat.Message {
	return chat.Message{
		ID:        id,
		ChatID:    chatID,
		UserID:    "alice",
		Content:   "msg " + id,
		CreatedAt: epoch.Add(time.Duration(offset) * time.Second),
	}
}

// scrollEvents returns the scroll events published so far.
func (h *harness) scrollEvents() []ScrollPayload {
	time.Sleep(20 * time.Millisecond)
	var out []ScrollPayload
	for {
		select {
		case evt := <-h.scrolls:
			out = append(out, evt.Payload.(ScrollPayload))
		default:
			return out
		}
	}
}

func TestOpenChatLoadsHistory(t *testing.T) {
	h := newHarness(t, Config{})
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1), remote("a", "3", 3), remote("a", "2", 2)}

	if err := h.ctrl.OpenChat(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	msgs := h.ctrl.Messages("a")
	if len(msgs) != 3 || msgs[0].ID != "1" || msgs[2].ID != "3" {
		t.Fatalf("messages = %+v", msgs)
	}
	if h.ctrl.ChatState("a") != status.Ready {
		t.Errorf("state = %s, want READY", h.ctrl.ChatState("a"))
	}
	if h.ctrl.Unread("a") != 0 {
		t.Errorf("unread = %d, want 0", h.ctrl.Unread("a"))
	}
	if !h.transport.subscribed("a") {
		t.Error("open chat not subscribed to pushes")
	}
	events := h.scrollEvents()
	if len(events) != 1 || events[0].Trigger != scroll.InitialLoad {
		t.Errorf("scroll events = %+v, want one initial load", events)
	}
}

func TestOpenChatWithPriorMessagesDoesNotJump(t *testing.T) {
	h := newHarness(t, Config{})
	h.ctrl.Restore(Snapshot{Messages: map[string][]chat.Message{"a": {remote("a", "1", 1)}}})
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1), remote("a", "2", 2)}

	if err := h.ctrl.OpenChat(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if events := h.scrollEvents(); len(events) != 0 {
		t.Errorf("scroll events = %+v, want none", events)
	}
}

func TestOpenChatFetchFailureKeepsCachedState(t *testing.T) {
	h := newHarness(t, Config{})
	h.ctrl.Restore(Snapshot{Messages: map[string][]chat.Message{"a": {remote("a", "1", 1)}}})
	h.transport.fetchErr = errors.New("connection refused")

	err := h.ctrl.OpenChat(context.Background(), "a")
	if !chat.IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
	if len(h.ctrl.Messages("a")) != 1 {
		t.Error("cached messages lost after failed fetch")
	}
	if h.ctrl.ChatState("a") != status.Ready {
		t.Errorf("state = %s, want READY", h.ctrl.ChatState("a"))
	}
	if h.ctrl.Stats().PullFailures != 1 {
		t.Errorf("pull failures = %d, want 1", h.ctrl.Stats().PullFailures)
	}
}

func TestPushToActiveChat(t *testing.T) {
	h := newHarness(t, Config{Policy: scroll.NewPolicy(100, 20*time.Millisecond)})
	ctx := context.Background()
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1)}
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	h.scrollEvents()

	h.transport.push(t, "a", remote("a", "2", 2))
	if h.ctrl.Unread("a") != 0 {
		t.Errorf("unread = %d, want 0 for the active chat", h.ctrl.Unread("a"))
	}
	events := h.scrollEvents()
	if len(events) != 1 || events[0].Trigger != scroll.RemoteArrived {
		t.Errorf("scroll events = %+v, want one remote arrival", events)
	}

	// The user scrolls up and stays there.
	h.ctrl.ReportViewport("a", scroll.Metrics{ScrollTop: 0, ScrollHeight: 2000, ClientHeight: 400})
	time.Sleep(60 * time.Millisecond)
	if !h.ctrl.ScrollState("a").UserHasScrolledAway {
		t.Fatal("scrolled-away flag not set")
	}

	h.transport.push(t, "a", remote("a", "3", 3))
	if events := h.scrollEvents(); len(events) != 0 {
		t.Errorf("scroll events = %+v, want none while scrolled away", events)
	}
	if len(h.ctrl.Messages("a")) != 3 {
		t.Errorf("messages = %d, want 3", len(h.ctrl.Messages("a")))
	}
}

func TestPushToInactiveChatCountsUnread(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Watch(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	h.scrollEvents()

	h.transport.push(t, "b", remote("b", "1", 1))
	h.transport.push(t, "b", remote("b", "1", 1))
	own := remote("b", "2", 2)
	own.UserID = me
	h.transport.push(t, "b", own)

	if n := h.ctrl.Unread("b"); n != 1 {
		t.Errorf("unread(b) = %d, want 1", n)
	}
	if n := h.ctrl.Unread("a"); n != 0 {
		t.Errorf("unread(a) = %d, want 0", n)
	}
	if len(h.ctrl.Messages("b")) != 2 {
		t.Errorf("messages(b) = %d, want 2", len(h.ctrl.Messages("b")))
	}
	if events := h.scrollEvents(); len(events) != 0 {
		t.Errorf("scroll events = %+v, want none for an inactive chat", events)
	}

	if err := h.ctrl.OpenChat(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if n := h.ctrl.Unread("b"); n != 0 {
		t.Errorf("unread(b) after open = %d, want 0", n)
	}
}

func TestOwnMessagesNeverUnread(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.ctrl.Watch(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		m := remote("b", fmt.Sprint(i+1), i)
		m.UserID = me
		h.transport.push(t, "b", m)
	}
	if n := h.ctrl.Unread("b"); n != 0 {
		t.Errorf("unread = %d, want 0", n)
	}
}

func TestSendMessageFreshChat(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	h.scrollEvents()

	gate := make(chan struct{})
	h.transport.sendGate = gate

	done := make(chan SendResult, 1)
	go func() { done <- h.ctrl.SendMessage(ctx, "a", "hello", nil) }()

	time.Sleep(20 * time.Millisecond)
	msgs := h.ctrl.Messages("a")
	if len(msgs) != 1 || msgs[0].Status != chat.Pending || msgs[0].Content != "hello" {
		t.Fatalf("messages while sending = %+v, want one pending hello", msgs)
	}
	if h.ctrl.ChatState("a") != status.Sending {
		t.Errorf("state while sending = %s, want SENDING", h.ctrl.ChatState("a"))
	}
	close(gate)

	res := <-done
	if !res.OK() {
		t.Fatalf("send failed: %v", res.Err)
	}
	msgs = h.ctrl.Messages("a")
	if len(msgs) != 1 || msgs[0].Status != chat.Confirmed || msgs[0].ID != res.Message.ID {
		t.Fatalf("messages after send = %+v", msgs)
	}
	if msgs[0].LocalID != res.LocalID {
		t.Errorf("local id = %q, want %q", msgs[0].LocalID, res.LocalID)
	}
	events := h.scrollEvents()
	if len(events) != 1 || events[0].Trigger != scroll.UserSent {
		t.Errorf("scroll events = %+v, want one user send", events)
	}
	if h.ctrl.ChatState("a") != status.Ready {
		t.Errorf("state after send = %s, want READY", h.ctrl.ChatState("a"))
	}
}

func TestPushBeforeSendResponse(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	gate := make(chan struct{})
	h.transport.sendGate = gate
	done := make(chan SendResult, 1)
	go func() { done <- h.ctrl.SendMessage(ctx, "a", "hello", nil) }()
	time.Sleep(20 * time.Millisecond)

	pending := h.ctrl.Messages("a")[0]
	// The broadcast for our own message beats the HTTP response.
	h.transport.push(t, "a", chat.Message{
		ID:        "s1",
		ClientID:  pending.LocalID,
		ChatID:    "a",
		UserID:    me,
		Content:   "hello",
		CreatedAt: time.Now(),
	})
	close(gate)
	res := <-done
	if !res.OK() {
		t.Fatal(res.Err)
	}

	msgs := h.ctrl.Messages("a")
	if len(msgs) != 1 || msgs[0].ID != "s1" || msgs[0].Status != chat.Confirmed {
		t.Errorf("messages = %+v, want exactly one confirmed s1", msgs)
	}
}

func TestSendErrorAfterPushConfirms(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	events, unsub := h.bus.Subscribe("message.", 16)
	defer unsub()

	// The server stores and broadcasts the message, then the response is
	// lost.
	h.transport.onSend = func(chatID string, out chat.Outgoing) {
		h.transport.push(t, chatID, chat.Message{
			ID:        "s99",
			ClientID:  out.ClientID,
			ChatID:    chatID,
			UserID:    me,
			Content:   out.Content,
			CreatedAt: time.Now(),
		})
	}
	h.transport.sendErr = errors.New("timeout")

	res := h.ctrl.SendMessage(ctx, "a", "hello", nil)
	if !res.OK() {
		t.Fatalf("send result error = %v, want success", res.Err)
	}
	if res.Message.ID != "s99" || res.Message.Status != chat.Confirmed {
		t.Errorf("result message = %+v", res.Message)
	}

	msgs := h.ctrl.Messages("a")
	if len(msgs) != 1 || msgs[0].ID != "s99" || msgs[0].Status != chat.Confirmed {
		t.Fatalf("messages = %+v, want one confirmed s99", msgs)
	}

	time.Sleep(20 * time.Millisecond)
	var kinds []string
drain:
	for {
		select {
		case evt := <-events:
			kinds = append(kinds, evt.Kind)
		default:
			break drain
		}
	}
	if slices.Contains(kinds, KindMessageFailed) {
		t.Errorf("events = %v, a delivered message was reported failed", kinds)
	}
	if !slices.Contains(kinds, KindMessageConfirmed) {
		t.Errorf("events = %v, want %s", kinds, KindMessageConfirmed)
	}
	if st := h.ctrl.Stats(); st.SendFailures != 0 {
		t.Errorf("send failures = %d, want 0", st.SendFailures)
	}
}

func TestSendFailureRetryAndDiscard(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	failures, unsub := h.bus.Subscribe(KindMessageFailed, 4)
	defer unsub()

	h.transport.sendErr = errors.New("boom")
	res := h.ctrl.SendMessage(ctx, "a", "hello", nil)
	if res.OK() || !chat.IsTransport(res.Err) {
		t.Fatalf("result = %+v, want transport error", res)
	}
	msgs := h.ctrl.Messages("a")
	if len(msgs) != 1 || msgs[0].Status != chat.Failed {
		t.Fatalf("messages = %+v, want one failed", msgs)
	}
	select {
	case <-failures:
	case <-time.After(time.Second):
		t.Error("no send_failed event")
	}

	// The failed entry stays through pulls.
	h.transport.history["a"] = []chat.Message{remote("a", "9", 1)}
	if _, err := h.ctrl.Refresh(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if len(h.ctrl.Messages("a")) != 2 {
		t.Errorf("messages after pull = %d, want 2", len(h.ctrl.Messages("a")))
	}

	h.transport.sendErr = nil
	retried := h.ctrl.Retry(ctx, "a", res.LocalID)
	if !retried.OK() {
		t.Fatalf("retry failed: %v", retried.Err)
	}
	if m, ok := msgstoreGet(h.ctrl, "a", retried.Message.ID); !ok || m.Status != chat.Confirmed {
		t.Errorf("retried entry = %+v", m)
	}

	h.transport.sendErr = errors.New("boom")
	res = h.ctrl.SendMessage(ctx, "a", "again", nil)
	if err := h.ctrl.Discard("a", res.LocalID); err != nil {
		t.Fatal(err)
	}
	for _, m := range h.ctrl.Messages("a") {
		if m.LocalID == res.LocalID {
			t.Error("discarded entry still present")
		}
	}
	if err := h.ctrl.Discard("a", res.LocalID); !errors.Is(err, chat.ErrUnknownLocalID) {
		t.Errorf("second discard err = %v, want ErrUnknownLocalID", err)
	}
}

func msgstoreGet(c *Controller, chatID, key string) (chat.Message, bool) {
	return c.store.Get(chatID, key)
}

func TestSendInFlightRejected(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	gate := make(chan struct{})
	h.transport.sendGate = gate

	done := make(chan SendResult, 1)
	go func() { done <- h.ctrl.SendMessage(ctx, "a", "one", nil) }()
	time.Sleep(20 * time.Millisecond)

	res := h.ctrl.SendMessage(ctx, "a", "two", nil)
	if !errors.Is(res.Err, chat.ErrSendInFlight) {
		t.Errorf("second send err = %v, want ErrSendInFlight", res.Err)
	}
	close(gate)
	if first := <-done; !first.OK() {
		t.Fatal(first.Err)
	}
	if n := len(h.ctrl.Messages("a")); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	h := newHarness(t, Config{})
	res := h.ctrl.SendMessage(context.Background(), "a", "   ", nil)
	if !errors.Is(res.Err, chat.ErrEmptyMessage) {
		t.Errorf("err = %v, want ErrEmptyMessage", res.Err)
	}
	if len(h.ctrl.Messages("a")) != 0 {
		t.Error("empty send left an entry")
	}

	res = h.ctrl.SendMessage(context.Background(), "a", "", []chat.Upload{{FileName: "notes.pdf", Data: []byte("x")}})
	if !res.OK() {
		t.Errorf("attachment-only send failed: %v", res.Err)
	}
}

func TestStaleOpenResponse(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1), remote("a", "2", 2)}
	gate := h.transport.gateFetch("a")

	done := make(chan error, 1)
	go func() { done <- h.ctrl.OpenChat(ctx, "a") }()
	time.Sleep(20 * time.Millisecond)

	if err := h.ctrl.OpenChat(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	h.scrollEvents()
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if n := h.ctrl.Unread("a"); n != 0 {
		t.Errorf("unread(a) = %d, want 0 after a stale load", n)
	}
	for _, evt := range h.scrollEvents() {
		if evt.ChatID == "a" {
			t.Errorf("scroll event for inactive chat: %+v", evt)
		}
	}
	if len(h.ctrl.Messages("a")) != 2 {
		t.Error("stale response was not merged into its own chat")
	}
	if h.ctrl.ChatState("a") != status.Idle {
		t.Errorf("state(a) = %s, want IDLE", h.ctrl.ChatState("a"))
	}
	if h.ctrl.Stats().StaleResponses != 1 {
		t.Errorf("stale responses = %d, want 1", h.ctrl.Stats().StaleResponses)
	}
}

func TestSwitchChatUnsubscribes(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.OpenChat(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if h.transport.subscribed("a") {
		t.Error("previous chat still subscribed")
	}
	if h.ctrl.ChatState("a") != status.Idle {
		t.Errorf("state(a) = %s, want IDLE", h.ctrl.ChatState("a"))
	}

	if err := h.ctrl.Watch(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.OpenChat(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if !h.transport.subscribed("b") {
		t.Error("watched chat lost its subscription")
	}

	h.ctrl.Unwatch("b")
	if h.transport.subscribed("b") {
		t.Error("unwatched inactive chat still subscribed")
	}
	h.ctrl.Unwatch("b")
	if n := h.transport.unsubs["b"]; n != 1 {
		t.Errorf("unsubscribe(b) called %d times, want 1", n)
	}
}

func TestConcurrentPullsCollapse(t *testing.T) {
	h := newHarness(t, Config{})
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1)}
	gate := h.transport.gateFetch("a")

	var wg gosync.WaitGroup
	results := make([][]chat.Message, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = h.ctrl.Refresh(context.Background(), "a")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := h.transport.fetchCount("a"); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	if len(h.ctrl.Messages("a")) != 1 {
		t.Errorf("messages = %d, want 1", len(h.ctrl.Messages("a")))
	}
}

func TestPollerReconcilesActiveChat(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 30 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	h.ctrl.Start(ctx)

	// A message the push channel never delivered.
	h.transport.mu.Lock()
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1)}
	h.transport.mu.Unlock()

	time.Sleep(150 * time.Millisecond)
	if len(h.ctrl.Messages("a")) != 1 {
		t.Errorf("poller did not merge the missed message")
	}
	if n := h.transport.fetchCount("b"); n != 0 {
		t.Errorf("inactive chat pulled %d times", n)
	}
}

func TestPullOfLoadedInactiveChatCountsUnread(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1)}
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.OpenChat(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	h.transport.history["a"] = append(h.transport.history["a"], remote("a", "2", 2), remote("a", "3", 3))
	if _, err := h.ctrl.Refresh(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if n := h.ctrl.Unread("a"); n != 2 {
		t.Errorf("unread(a) = %d, want 2", n)
	}

	// A chat never loaded has no baseline; its history is not unread.
	h.transport.history["c"] = []chat.Message{remote("c", "1", 1), remote("c", "2", 2)}
	if _, err := h.ctrl.Refresh(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if n := h.ctrl.Unread("c"); n != 0 {
		t.Errorf("unread(c) = %d, want 0", n)
	}
}

func TestLoadChatsSeedsUnread(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.transport.chats = []chat.Chat{
		{ID: "a", Name: "Algorithms", UnreadCount: 4, LastMessageAt: epoch},
		{ID: "b", Name: "Databases", UnreadCount: 2, LastMessageAt: epoch.Add(time.Hour)},
	}
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	chats, err := h.ctrl.LoadChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 || chats[0].ID != "b" {
		t.Fatalf("chats = %+v, want b first", chats)
	}
	if chats[0].UnreadCount != 2 || chats[1].UnreadCount != 0 {
		t.Errorf("unread counts = %d/%d, want 2/0", chats[0].UnreadCount, chats[1].UnreadCount)
	}

	if err := h.ctrl.WatchAll(ctx); err != nil {
		t.Fatal(err)
	}
	if got := h.ctrl.Watched(); len(got) != 2 {
		t.Errorf("watched = %v, want both chats", got)
	}
}

func TestSubscribeFailureFallsBackToPolling(t *testing.T) {
	h := newHarness(t, Config{})
	h.transport.subErr = errors.New("socket down")
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1)}

	if err := h.ctrl.OpenChat(context.Background(), "a"); err != nil {
		t.Fatalf("open should succeed without push: %v", err)
	}
	if len(h.ctrl.Messages("a")) != 1 {
		t.Error("history not loaded")
	}
}

func TestRestoreFailedSendCanBeRetried(t *testing.T) {
	h := newHarness(t, Config{})
	h.ctrl.Restore(Snapshot{
		Failed: []chat.FailedSend{{
			Message: chat.Message{LocalID: "local-1", ChatID: "a", UserID: me, Content: "offline", CreatedAt: epoch},
			Uploads: []chat.Upload{{FileName: "a.txt", Data: []byte("hi")}},
		}},
		Unread: map[string]int{"b": 3},
	})
	if h.ctrl.Unread("b") != 3 {
		t.Errorf("unread(b) = %d, want 3", h.ctrl.Unread("b"))
	}

	res := h.ctrl.Retry(context.Background(), "a", "local-1")
	if !res.OK() {
		t.Fatal(res.Err)
	}
	if res.Message.Content != "offline" {
		t.Errorf("content = %q", res.Message.Content)
	}
}

func TestReconnectFillsWatchedChats(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	h.transport.history["b"] = []chat.Message{remote("b", "1", 1)}
	if err := h.ctrl.OpenChat(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Watch(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Watch(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	// Pushes missed while the socket was down.
	h.transport.history["b"] = append(h.transport.history["b"], remote("b", "2", 2), remote("b", "3", 3))
	h.transport.history["c"] = []chat.Message{remote("c", "1", 1)}
	before := h.transport.fetchCount("c")

	h.ctrl.HandleReconnect(ctx)
	if n := h.ctrl.Unread("b"); n != 2 {
		t.Errorf("unread(b) = %d, want 2", n)
	}
	if got := h.transport.fetchCount("c"); got != before {
		t.Errorf("chat without a baseline was pulled %d times", got-before)
	}
}

func TestReconnectFillsGap(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	if err := h.ctrl.OpenChat(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	h.transport.history["a"] = []chat.Message{remote("a", "1", 1)}

	h.ctrl.HandleReconnect(ctx)
	if len(h.ctrl.Messages("a")) != 1 {
		t.Error("gap not filled after reconnect")
	}
}
