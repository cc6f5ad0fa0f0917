// Package sync keeps the client's view of UniShare chats current. The
// Controller combines push delivery, periodic reconciliation pulls and
// optimistic sends into one message sequence per chat, and decides unread
// counts and auto-scroll for the UI.
package sync

import (
	"context"
	"slices"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/unishare/unisync/internal/bus"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/msgstore"
	"github.com/unishare/unisync/internal/scroll"
	"github.com/unishare/unisync/internal/status"
	"github.com/unishare/unisync/internal/unread"
)

// DefaultPollInterval is the reconciliation period for the active chat.
const DefaultPollInterval = 30 * time.Second

// Config holds controller settings.
type Config struct {
	// CurrentUserID identifies the logged-in user; their own messages never
	// count as unread.
	CurrentUserID string
	PollInterval  time.Duration
	Policy        *scroll.Policy
}

// SendResult is what the UI gets back from a send. On success Message is
// the confirmed server copy; on failure Err is set and the entry stays in
// the chat as failed under LocalID.
type SendResult struct {
	Message chat.Message
	LocalID string
	Err     error
}

// OK reports whether the send succeeded.
func (r SendResult) OK() bool { return r.Err == nil }

// Stats are cumulative controller counters.
type Stats struct {
	Pulls          uint64
	PullFailures   uint64
	Pushes         uint64
	Sends          uint64
	SendFailures   uint64
	StaleResponses uint64
	Duplicates     uint64
	Reconciled     uint64
	Malformed      uint64
}

// Snapshot is cached state used to warm the controller at startup.
type Snapshot struct {
	Chats    []chat.Chat
	Messages map[string][]chat.Message
	Unread   map[string]int
	Failed   []chat.FailedSend
}

type chatState struct {
	machine     *status.Machine
	viewport    *scroll.Tracker
	unsubscribe func()
	subscribing bool
	watched     bool
	sending     bool
	// loaded is set once a full fetch has established what the user has
	// already seen. Pull results only count as unread after that.
	loaded   bool
	lastPull time.Time
	uploads  map[string][]chat.Upload
}

// Controller coordinates the message store, unread tracker, scroll policy
// and transport for all chats. It is safe for concurrent use.
type Controller struct {
	transport Transport
	store     *msgstore.Store
	unread    *unread.Tracker
	policy    *scroll.Policy
	bus       *bus.Bus
	logger    *zap.Logger

	me           string
	pollInterval time.Duration

	pulls singleflight.Group

	mu       gosync.Mutex
	active   string
	chats    map[string]*chatState
	chatList []chat.Chat
	lifetime context.Context
	cancel   context.CancelFunc

	pullCount    atomic.Uint64
	pullFailures atomic.Uint64
	pushCount    atomic.Uint64
	sendCount    atomic.Uint64
	sendFailures atomic.Uint64
	staleCount   atomic.Uint64
}

// New creates a controller.
func New(t Transport, store *msgstore.Store, tracker *unread.Tracker, b *bus.Bus, logger *zap.Logger, cfg Config) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Policy == nil {
		cfg.Policy = scroll.NewPolicy(0, 0)
	}
	return &Controller{
		transport:    t,
		store:        store,
		unread:       tracker,
		policy:       cfg.Policy,
		bus:          b,
		logger:       logger,
		me:           cfg.CurrentUserID,
		pollInterval: cfg.PollInterval,
		chats:        make(map[string]*chatState),
		lifetime:     context.Background(),
	}
}

// Start runs the reconciliation loop until ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.lifetime, c.cancel = ctx, cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.reconcile(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the reconciliation loop.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Close stops the loop and drops every push subscription.
func (c *Controller) Close() {
	c.Stop()

	c.mu.Lock()
	var releases []func()
	for _, st := range c.chats {
		st.viewport.Stop()
		if st.unsubscribe != nil {
			releases = append(releases, st.unsubscribe)
			st.unsubscribe = nil
		}
		st.watched = false
	}
	c.active = ""
	c.mu.Unlock()

	for _, release := range releases {
		release()
	}
}

func (c *Controller) reconcile(ctx context.Context) {
	chatID := c.Active()
	if chatID == "" {
		return
	}
	if _, err := c.pull(ctx, chatID, false); err != nil {
		c.logger.Debug("reconciliation pull skipped this cycle", zap.String("chat_id", chatID), zap.Error(err))
	}
}

// Active returns the id of the open chat, or "".
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// OpenChat makes chatID the active chat: it resets its unread count,
// subscribes to pushes, and loads the full history. Switching away from the
// previous chat drops its push subscription unless it is watched.
func (c *Controller) OpenChat(ctx context.Context, chatID string) error {
	if chatID == "" {
		return chat.ErrNoChat
	}

	c.mu.Lock()
	var release func()
	if prev := c.active; prev != "" && prev != chatID {
		release = c.leaveLocked(prev)
	}
	c.active = chatID
	st := c.stateLocked(chatID)
	st.viewport.Pin()
	_ = st.machine.Transition(status.Loading)
	prior := c.store.Len(chatID)
	reset := c.unread.Reset(chatID)
	c.mu.Unlock()

	if release != nil {
		release()
	}
	if reset {
		c.emitUnread(chatID)
	}

	if err := c.subscribe(ctx, chatID); err != nil {
		c.logger.Warn("push subscription failed, relying on polling",
			zap.String("chat_id", chatID),
			zap.Error(err),
		)
		c.bus.Emit(KindSubscribeFailed, ErrorPayload{ChatID: chatID, Err: err.Error()})
	}

	_, err := c.pull(ctx, chatID, true)

	c.mu.Lock()
	stillActive := c.active == chatID
	if err == nil {
		st.loaded = true
	}
	var scrollDown bool
	if stillActive {
		st.machine.Advance(status.Loading, status.Ready)
		if err == nil {
			scrollDown = c.policy.ShouldAutoScroll(st.viewport.State(), scroll.InitialLoad, prior)
		}
		reset = c.unread.Reset(chatID)
	}
	c.mu.Unlock()

	if !stillActive {
		c.staleCount.Add(1)
		c.logger.Info("chat switched before load completed", zap.String("chat_id", chatID))
		c.bus.Emit(KindStaleDiscarded, ErrorPayload{ChatID: chatID})
		return err
	}
	if reset {
		c.emitUnread(chatID)
	}
	if err != nil {
		return err
	}
	if scrollDown {
		c.bus.Emit(KindScrollToBottom, ScrollPayload{ChatID: chatID, Trigger: scroll.InitialLoad})
	}
	c.markRead(ctx, chatID)
	return nil
}

// CloseChat leaves the active chat without opening another.
func (c *Controller) CloseChat() {
	c.mu.Lock()
	var release func()
	if c.active != "" {
		release = c.leaveLocked(c.active)
		c.active = ""
	}
	c.mu.Unlock()
	if release != nil {
		release()
	}
}

// leaveLocked tears down the view state of chatID and returns the push
// unsubscribe to run after the lock is released, if any.
func (c *Controller) leaveLocked(chatID string) func() {
	st, ok := c.chats[chatID]
	if !ok {
		return nil
	}
	_ = st.machine.Transition(status.Idle)
	st.viewport.Stop()
	if st.watched || st.unsubscribe == nil {
		return nil
	}
	release := st.unsubscribe
	st.unsubscribe = nil
	return release
}

// Watch subscribes to pushes for a chat that is not open so its unread
// count follows new messages.
func (c *Controller) Watch(ctx context.Context, chatID string) error {
	if chatID == "" {
		return chat.ErrNoChat
	}
	c.mu.Lock()
	c.stateLocked(chatID).watched = true
	c.mu.Unlock()
	return c.subscribe(ctx, chatID)
}

// Unwatch reverses Watch. The subscription stays while the chat is open.
func (c *Controller) Unwatch(chatID string) {
	c.mu.Lock()
	st, ok := c.chats[chatID]
	if !ok {
		c.mu.Unlock()
		return
	}
	st.watched = false
	var release func()
	if c.active != chatID && st.unsubscribe != nil {
		release = st.unsubscribe
		st.unsubscribe = nil
	}
	c.mu.Unlock()
	if release != nil {
		release()
	}
}

// WatchAll watches every chat in the last loaded chat list.
func (c *Controller) WatchAll(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.chatList))
	for _, ch := range c.chatList {
		ids = append(ids, ch.ID)
	}
	c.mu.Unlock()

	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, c.Watch(ctx, id))
	}
	return errs
}

func (c *Controller) subscribe(ctx context.Context, chatID string) error {
	c.mu.Lock()
	st := c.stateLocked(chatID)
	if st.unsubscribe != nil || st.subscribing {
		c.mu.Unlock()
		return nil
	}
	st.subscribing = true
	c.mu.Unlock()

	unsub, err := c.transport.Subscribe(ctx, chatID, func(m chat.Message) {
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		c.OnPush(m)
	})

	c.mu.Lock()
	st.subscribing = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	release := gosync.OnceFunc(unsub)
	if c.active != chatID && !st.watched {
		c.mu.Unlock()
		release()
		return nil
	}
	st.unsubscribe = release
	c.mu.Unlock()
	return nil
}

// OnPush handles a message delivered over the push channel, for any chat.
func (c *Controller) OnPush(m chat.Message) {
	c.pushCount.Add(1)
	if m.ChatID == "" {
		c.logger.DPanic("pushed message without chat id", zap.String("msg_id", m.ID))
		return
	}
	fresh := c.store.Merge(m.ChatID, []chat.Message{m})
	if len(fresh) == 0 {
		c.logger.Debug("push already known", zap.String("chat_id", m.ChatID), zap.String("msg_id", m.ID))
		return
	}
	c.apply(m.ChatID, fresh, true)
}

// Refresh forces a reconciliation pull for chatID.
func (c *Controller) Refresh(ctx context.Context, chatID string) ([]chat.Message, error) {
	if chatID == "" {
		return nil, chat.ErrNoChat
	}
	return c.pull(ctx, chatID, true)
}

// HandleReconnect fills the gap left by a dropped push connection in the
// active chat and in every watched chat that has a read baseline. Watched
// chats never loaded keep the server's unread count from LoadChats.
func (c *Controller) HandleReconnect(ctx context.Context) {
	c.mu.Lock()
	var ids []string
	for id, st := range c.chats {
		if id == c.active || (st.watched && st.loaded) {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	slices.Sort(ids)

	for _, chatID := range ids {
		if _, err := c.pull(ctx, chatID, true); err != nil {
			c.logger.Warn("gap fill after reconnect failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
}

// pull fetches the full history of chatID and merges it. Concurrent pulls
// for the same chat share one request. Unforced pulls are skipped when the
// chat was pulled less than half a poll interval ago.
func (c *Controller) pull(ctx context.Context, chatID string, force bool) ([]chat.Message, error) {
	c.mu.Lock()
	st := c.stateLocked(chatID)
	if !force && time.Since(st.lastPull) < c.pollInterval/2 {
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()

	v, err, _ := c.pulls.Do(chatID, func() (any, error) {
		c.mu.Lock()
		st.lastPull = time.Now()
		c.mu.Unlock()

		c.pullCount.Add(1)
		msgs, err := c.transport.FetchMessages(ctx, chatID)
		if err != nil {
			c.pullFailures.Add(1)
			c.logger.Warn("pull failed", zap.String("chat_id", chatID), zap.Error(err))
			c.bus.Emit(KindPullFailed, ErrorPayload{ChatID: chatID, Err: err.Error()})
			return nil, err
		}
		fresh := c.store.Merge(chatID, msgs)
		c.apply(chatID, fresh, false)
		c.bus.Emit(KindPulled, PullPayload{ChatID: chatID, Fetched: len(msgs), Fresh: len(fresh)})
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	fresh, _ := v.([]chat.Message)
	return fresh, nil
}

// apply runs the side effects of newly merged messages. Unread counts move
// for chats that are not active; scroll decisions are made only for the
// chat that is active when the messages land.
func (c *Controller) apply(chatID string, fresh []chat.Message, push bool) {
	if len(fresh) == 0 {
		return
	}
	c.bus.Emit(KindMessageMerged, MessagesPayload{ChatID: chatID, Messages: fresh})

	fromOthers := 0
	for _, m := range fresh {
		if m.UserID != c.me {
			fromOthers++
		}
	}

	c.mu.Lock()
	st := c.stateLocked(chatID)
	active := c.active == chatID
	var scrollDown, counted bool
	switch {
	case active && st.machine.Current() == status.Loading:
		// OpenChat makes the initial-load decision once the fetch completes.
	case active:
		if st.machine.Advance(status.Ready, status.Receiving) {
			st.machine.Advance(status.Receiving, status.Ready)
		}
		scrollDown = c.policy.ShouldAutoScroll(st.viewport.State(), scroll.RemoteArrived, 0)
		if scrollDown {
			st.viewport.Pin()
		}
	case fromOthers > 0 && (push || st.loaded):
		c.unread.Add(chatID, fromOthers)
		counted = true
	}
	lifetime := c.lifetime
	c.mu.Unlock()

	if counted {
		c.emitUnread(chatID)
	}
	if scrollDown {
		c.bus.Emit(KindScrollToBottom, ScrollPayload{ChatID: chatID, Trigger: scroll.RemoteArrived})
	}
	if active && fromOthers > 0 {
		go c.markRead(lifetime, chatID)
	}
}

// SendMessage appends an optimistic entry, sends it, and reconciles the
// server's answer. Only one send per chat may be in flight.
func (c *Controller) SendMessage(ctx context.Context, chatID, content string, uploads []chat.Upload) SendResult {
	if chatID == "" {
		return SendResult{Err: chat.ErrNoChat}
	}
	if strings.TrimSpace(content) == "" && len(uploads) == 0 {
		return SendResult{Err: chat.ErrEmptyMessage}
	}

	c.mu.Lock()
	st := c.stateLocked(chatID)
	if st.sending {
		c.mu.Unlock()
		return SendResult{Err: chat.ErrSendInFlight}
	}
	st.sending = true
	localID := c.store.AppendOptimistic(chatID, chat.Draft{
		UserID:      c.me,
		Content:     content,
		Attachments: chat.DraftAttachments(uploads),
	})
	c.beginSendLocked(chatID, st)
	c.mu.Unlock()

	c.announceSend(chatID, localID)
	return c.deliver(ctx, chatID, localID, content, uploads)
}

// Retry sends a failed entry again.
func (c *Controller) Retry(ctx context.Context, chatID, localID string) SendResult {
	c.mu.Lock()
	st := c.stateLocked(chatID)
	if st.sending {
		c.mu.Unlock()
		return SendResult{LocalID: localID, Err: chat.ErrSendInFlight}
	}
	m, err := c.store.Requeue(chatID, localID)
	if err != nil {
		c.mu.Unlock()
		return SendResult{LocalID: localID, Err: err}
	}
	uploads := st.uploads[localID]
	delete(st.uploads, localID)
	st.sending = true
	c.beginSendLocked(chatID, st)
	c.mu.Unlock()

	c.announceSend(chatID, localID)
	return c.deliver(ctx, chatID, localID, m.Content, uploads)
}

// Discard drops a failed entry.
func (c *Controller) Discard(chatID, localID string) error {
	if err := c.store.Discard(chatID, localID); err != nil {
		return err
	}
	c.mu.Lock()
	if st, ok := c.chats[chatID]; ok {
		delete(st.uploads, localID)
	}
	c.mu.Unlock()
	c.bus.Emit(KindMessageDiscarded, MessagePayload{ChatID: chatID, LocalID: localID})
	return nil
}

// beginSendLocked moves the chat into Sending and pins the view to the
// bottom when the chat is on screen.
func (c *Controller) beginSendLocked(chatID string, st *chatState) {
	st.machine.Advance(status.Ready, status.Sending)
	if c.active == chatID && c.policy.ShouldAutoScroll(st.viewport.State(), scroll.UserSent, 0) {
		st.viewport.Pin()
	}
}

func (c *Controller) announceSend(chatID, localID string) {
	if m, ok := c.store.Get(chatID, localID); ok {
		c.bus.Emit(KindMessageOptimistic, MessagePayload{ChatID: chatID, LocalID: localID, Message: m})
	}
	if c.Active() == chatID {
		c.bus.Emit(KindScrollToBottom, ScrollPayload{ChatID: chatID, Trigger: scroll.UserSent})
	}
}

func (c *Controller) deliver(ctx context.Context, chatID, localID, content string, uploads []chat.Upload) SendResult {
	c.sendCount.Add(1)
	sent, err := c.transport.SendMessage(ctx, chatID, chat.Outgoing{
		ClientID: localID,
		Content:  content,
		Uploads:  uploads,
	})
	if err != nil {
		// The server may have stored the message and broadcast it before
		// the request failed. A push carrying our client id already
		// confirmed the entry; the send succeeded.
		if m, ok := c.store.Get(chatID, localID); ok && m.Status == chat.Confirmed {
			c.logger.Info("send errored after the message was delivered",
				zap.String("chat_id", chatID),
				zap.String("local_id", localID),
				zap.String("msg_id", m.ID),
				zap.Error(err),
			)
			sent, err = m, nil
		}
	}

	c.mu.Lock()
	st := c.stateLocked(chatID)
	st.sending = false
	st.machine.Advance(status.Sending, status.Ready)
	if err != nil && len(uploads) > 0 {
		if st.uploads == nil {
			st.uploads = make(map[string][]chat.Upload)
		}
		st.uploads[localID] = uploads
	}
	c.mu.Unlock()

	if err != nil {
		c.sendFailures.Add(1)
		if ferr := c.store.FailOptimistic(chatID, localID); ferr != nil {
			c.logger.Warn("failed send has no local entry", zap.String("chat_id", chatID), zap.String("local_id", localID))
		}
		c.logger.Warn("send failed",
			zap.String("chat_id", chatID),
			zap.String("local_id", localID),
			zap.Error(err),
		)
		failed, _ := c.store.Get(chatID, localID)
		c.bus.Emit(KindMessageFailed, MessagePayload{
			ChatID:  chatID,
			LocalID: localID,
			Message: failed,
			Uploads: uploads,
			Err:     err.Error(),
		})
		return SendResult{LocalID: localID, Err: err}
	}

	if sent.ChatID == "" {
		sent.ChatID = chatID
	}
	res, err := c.store.ResolveOptimistic(chatID, localID, sent)
	if err != nil {
		// The server accepted the message but its answer is unusable; a pull
		// brings the stored copy and reconciles the pending entry.
		c.logger.Warn("unusable send response, pulling", zap.String("chat_id", chatID), zap.Error(err))
		if _, perr := c.pull(ctx, chatID, true); perr != nil {
			return SendResult{LocalID: localID, Err: perr}
		}
		confirmed, _ := c.store.Get(chatID, localID)
		return SendResult{Message: confirmed, LocalID: localID}
	}
	if res == msgstore.Deduplicated {
		c.logger.Info("send confirmed after the message was already delivered",
			zap.String("chat_id", chatID),
			zap.String("local_id", localID),
			zap.String("msg_id", sent.ID),
		)
	}

	confirmed, ok := c.store.Get(chatID, sent.ID)
	if !ok {
		confirmed = sent
	}
	c.bus.Emit(KindMessageConfirmed, MessagePayload{ChatID: chatID, LocalID: localID, Message: confirmed})
	return SendResult{Message: confirmed, LocalID: localID}
}

// ReportViewport feeds UI viewport metrics into the chat's scroll tracker.
func (c *Controller) ReportViewport(chatID string, m scroll.Metrics) scroll.State {
	c.mu.Lock()
	st := c.stateLocked(chatID)
	c.mu.Unlock()
	return st.viewport.Observe(m)
}

// ScrollState returns the tracked scroll state of chatID.
func (c *Controller) ScrollState(chatID string) scroll.State {
	c.mu.Lock()
	st := c.stateLocked(chatID)
	c.mu.Unlock()
	return st.viewport.State()
}

// ChatState returns the lifecycle state of chatID.
func (c *Controller) ChatState(chatID string) status.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.chats[chatID]; ok {
		return st.machine.Current()
	}
	return status.Idle
}

// Messages returns the ordered messages of chatID.
func (c *Controller) Messages(chatID string) []chat.Message {
	return c.store.GetOrdered(chatID)
}

// Unread returns the unread count of chatID.
func (c *Controller) Unread(chatID string) int {
	return c.unread.Get(chatID)
}

// LoadChats fetches the chat list. Server unread counts seed chats that
// have not been loaded in this session.
func (c *Controller) LoadChats(ctx context.Context) ([]chat.Chat, error) {
	chats, err := c.transport.ListChats(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, ch := range chats {
		st, ok := c.chats[ch.ID]
		if (!ok || !st.loaded) && c.active != ch.ID {
			c.unread.Set(ch.ID, ch.UnreadCount)
		}
	}
	c.chatList = slices.Clone(chats)
	c.mu.Unlock()

	out := c.Chats()
	c.bus.Emit(KindChatsLoaded, ChatsPayload{Chats: out})
	return out, nil
}

// Chats returns the last loaded chat list with local unread counts, most
// recent activity first.
func (c *Controller) Chats() []chat.Chat {
	c.mu.Lock()
	out := slices.Clone(c.chatList)
	c.mu.Unlock()

	for i := range out {
		out[i].UnreadCount = c.unread.Get(out[i].ID)
		if last, ok := c.store.Last(out[i].ID); ok && last.CreatedAt.After(out[i].LastMessageAt) {
			out[i].LastMessageAt = last.CreatedAt
		}
	}
	slices.SortStableFunc(out, func(a, b chat.Chat) int {
		return b.LastMessageAt.Compare(a.LastMessageAt)
	})
	return out
}

// Restore warms the controller from cached state. Cached messages are
// confirmed server messages; restored failed sends can be retried.
func (c *Controller) Restore(snap Snapshot) {
	for chatID, msgs := range snap.Messages {
		c.store.Merge(chatID, msgs)
	}
	for chatID, n := range snap.Unread {
		c.unread.Set(chatID, n)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.chatList) == 0 {
		c.chatList = slices.Clone(snap.Chats)
	}
	for _, f := range snap.Failed {
		chatID := f.Message.ChatID
		if err := c.store.AppendFailed(chatID, f.Message); err != nil {
			c.logger.Warn("cached failed send dropped", zap.String("chat_id", chatID), zap.Error(err))
			continue
		}
		if len(f.Uploads) > 0 {
			st := c.stateLocked(chatID)
			if st.uploads == nil {
				st.uploads = make(map[string][]chat.Upload)
			}
			st.uploads[f.Message.LocalID] = f.Uploads
		}
	}
}

// Stats returns controller and store counters.
func (c *Controller) Stats() Stats {
	ss := c.store.Stats()
	return Stats{
		Pulls:          c.pullCount.Load(),
		PullFailures:   c.pullFailures.Load(),
		Pushes:         c.pushCount.Load(),
		Sends:          c.sendCount.Load(),
		SendFailures:   c.sendFailures.Load(),
		StaleResponses: c.staleCount.Load(),
		Duplicates:     ss.Duplicates,
		Reconciled:     ss.Reconciled,
		Malformed:      ss.Malformed,
	}
}

// Watched returns the ids of watched chats, sorted.
func (c *Controller) Watched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, st := range c.chats {
		if st.watched {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (c *Controller) markRead(ctx context.Context, chatID string) {
	if err := c.transport.MarkRead(ctx, chatID); err != nil {
		c.logger.Debug("mark read failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (c *Controller) emitUnread(chatID string) {
	c.bus.Emit(KindUnreadChanged, UnreadPayload{ChatID: chatID, Count: c.unread.Get(chatID)})
}

func (c *Controller) stateLocked(chatID string) *chatState {
	st, ok := c.chats[chatID]
	if !ok {
		st = &chatState{
			machine:  status.NewMachine(chatID, c.bus),
			viewport: c.policy.NewTracker(),
		}
		c.chats[chatID] = st
	}
	return st
}
