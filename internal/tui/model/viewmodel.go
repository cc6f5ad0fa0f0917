// Package model holds the TUI's copy of daemon state.
package model

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/unishare/unisync/internal/api"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
)

// Daemon is the part of the control client the TUI uses.
type Daemon interface {
	Status(ctx context.Context) (*api.Status, error)
	ListChats(ctx context.Context, refresh bool) ([]chat.Chat, error)
	OpenChat(ctx context.Context, chatID string) (*api.ChatView, error)
	CloseChat(ctx context.Context) error
	Messages(ctx context.Context, chatID string) (*api.ChatView, error)
	Send(ctx context.Context, chatID, content string, uploads []chat.Upload) (*api.SendOutcome, error)
	Retry(ctx context.Context, chatID, localID string) (*api.SendOutcome, error)
	Discard(ctx context.Context, chatID, localID string) error
	Refresh(ctx context.Context, chatID string) ([]chat.Message, error)
	ReportViewport(ctx context.Context, chatID string, m scroll.Metrics) (scroll.State, error)
	WatchEvents(ctx context.Context, prefix, chatID string) (<-chan api.Event, <-chan error, error)
}

// Flash holds a transient notification.
type Flash struct {
	mu      sync.RWMutex
	message string
	expires time.Time
}

// Set shows msg for d.
func (f *Flash) Set(msg string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.expires = time.Now().Add(d)
}

// Get returns the current message, or empty once it expired.
func (f *Flash) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if time.Now().After(f.expires) {
		return ""
	}
	return f.message
}

// Change tells the UI what to redraw after an event.
type Change int

const (
	ChangeNone Change = iota
	// ChangeChats only needs a redraw of the chat list.
	ChangeChats
	// ChangeChatList needs the chat list fetched again.
	ChangeChatList
	ChangeMessages
	// ChangeScrollToBottom asks the message view to jump to the newest
	// message after redrawing.
	ChangeScrollToBottom
	ChangeStatus
)

// ViewModel caches daemon state for the views.
type ViewModel struct {
	mu sync.RWMutex

	daemon   Daemon
	status   *api.Status
	chats    []chat.Chat
	active   string
	messages []chat.Message
	scroll   scroll.State
	pending  []chat.Upload
	Flash    Flash
}

// NewViewModel creates a view model on top of a daemon client.
func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{daemon: d}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.daemon.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return nil
}

// LoadChats fetches the chat list.
func (vm *ViewModel) LoadChats(ctx context.Context, refresh bool) error {
	chats, err := vm.daemon.ListChats(ctx, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.chats = chats
	vm.mu.Unlock()
	return nil
}

// OpenChat makes chatID active and loads its messages.
func (vm *ViewModel) OpenChat(ctx context.Context, chatID string) error {
	view, err := vm.daemon.OpenChat(ctx, chatID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.active = chatID
	vm.messages = view.Messages
	vm.scroll = view.Scroll
	vm.pending = nil
	vm.setUnreadLocked(chatID, 0)
	vm.mu.Unlock()
	return nil
}

// CloseChat leaves the active chat.
func (vm *ViewModel) CloseChat(ctx context.Context) error {
	vm.mu.Lock()
	vm.active = ""
	vm.messages = nil
	vm.pending = nil
	vm.mu.Unlock()
	return vm.daemon.CloseChat(ctx)
}

// ReloadMessages refreshes the active chat's messages from the daemon.
func (vm *ViewModel) ReloadMessages(ctx context.Context) error {
	chatID := vm.Active()
	if chatID == "" {
		return nil
	}
	view, err := vm.daemon.Messages(ctx, chatID)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.active == chatID {
		vm.messages = view.Messages
	}
	vm.mu.Unlock()
	return nil
}

// Attach queues a file for the next send.
func (vm *ViewModel) Attach(u chat.Upload) int {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.pending = append(vm.pending, u)
	return len(vm.pending)
}

// Send posts text with any queued attachments to the active chat.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	vm.mu.Lock()
	chatID, uploads := vm.active, vm.pending
	vm.pending = nil
	vm.mu.Unlock()
	if chatID == "" {
		return chat.ErrNoChat
	}
	out, err := vm.daemon.Send(ctx, chatID, text, uploads)
	if err != nil {
		vm.mu.Lock()
		vm.pending = uploads
		vm.mu.Unlock()
		return err
	}
	if !out.OK {
		vm.Flash.Set("Not sent: "+out.Err+" (/retry to resend)", 8*time.Second)
	}
	return nil
}

// LastFailed returns the local id of the newest failed message in the
// active chat.
func (vm *ViewModel) LastFailed() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for i := len(vm.messages) - 1; i >= 0; i-- {
		if vm.messages[i].Status == chat.Failed {
			return vm.messages[i].LocalID
		}
	}
	return ""
}

// Retry resends a failed message, the newest one when localID is empty.
func (vm *ViewModel) Retry(ctx context.Context, localID string) error {
	if localID == "" {
		localID = vm.LastFailed()
	}
	if localID == "" {
		vm.Flash.Set("Nothing to retry", 3*time.Second)
		return nil
	}
	out, err := vm.daemon.Retry(ctx, vm.Active(), localID)
	if err != nil {
		return err
	}
	if !out.OK {
		vm.Flash.Set("Retry failed: "+out.Err, 8*time.Second)
	}
	return nil
}

// Discard drops a failed message, the newest one when localID is empty.
func (vm *ViewModel) Discard(ctx context.Context, localID string) error {
	if localID == "" {
		localID = vm.LastFailed()
	}
	if localID == "" {
		vm.Flash.Set("Nothing to discard", 3*time.Second)
		return nil
	}
	return vm.daemon.Discard(ctx, vm.Active(), localID)
}

// Refresh pulls the active chat now.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	fresh, err := vm.daemon.Refresh(ctx, vm.Active())
	if err != nil {
		return err
	}
	vm.Flash.Set(plural(len(fresh), "new message"), 3*time.Second)
	return nil
}

// ReportViewport forwards viewport metrics of the active chat.
func (vm *ViewModel) ReportViewport(ctx context.Context, m scroll.Metrics) error {
	chatID := vm.Active()
	if chatID == "" {
		return nil
	}
	st, err := vm.daemon.ReportViewport(ctx, chatID, m)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.scroll = st
	vm.mu.Unlock()
	return nil
}

// Apply folds a daemon event into the model and reports what changed.
// Changes that need a daemon round trip are left to the caller.
func (vm *ViewModel) Apply(evt api.Event) Change {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	switch {
	case evt.Kind == "chats.loaded":
		return ChangeChatList
	case evt.Kind == "unread.changed":
		vm.setUnreadLocked(evt.ChatID, evt.Count())
		return ChangeChats
	case evt.Kind == "scroll.to_bottom":
		if evt.ChatID == vm.active {
			return ChangeScrollToBottom
		}
	case strings.HasPrefix(evt.Kind, "message."):
		if evt.ChatID == vm.active {
			return ChangeMessages
		}
		return ChangeChatList
	case evt.Kind == "chat.state_changed":
		return ChangeStatus
	}
	return ChangeNone
}

func (vm *ViewModel) setUnreadLocked(chatID string, n int) {
	for i := range vm.chats {
		if vm.chats[i].ID == chatID {
			vm.chats[i].UnreadCount = n
		}
	}
}

// Active returns the open chat id.
func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Chats returns the chat list.
func (vm *ViewModel) Chats() []chat.Chat {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.chats
}

// ChatName returns a display name for chatID.
func (vm *ViewModel) ChatName(chatID string) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.chats {
		if c.ID == chatID && c.Name != "" {
			return c.Name
		}
	}
	return "Chat " + chatID
}

// SenderName returns the participant name of userID in the active chat.
func (vm *ViewModel) SenderName(userID string) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.chats {
		if c.ID != vm.active {
			continue
		}
		for _, p := range c.Participants {
			if p.UserID == userID && p.Name != "" {
				return p.Name
			}
		}
	}
	return "user " + userID
}

// Messages returns the active chat's messages.
func (vm *ViewModel) Messages() []chat.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.messages
}

// Scroll returns the last scroll state reported by the daemon.
func (vm *ViewModel) Scroll() scroll.State {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.scroll
}

// Status returns the last fetched daemon status.
func (vm *ViewModel) Status() *api.Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Pending returns how many attachments wait for the next send.
func (vm *ViewModel) Pending() int {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return len(vm.pending)
}

func plural(n int, what string) string {
	if n == 1 {
		return "1 " + what
	}
	return strconv.Itoa(n) + " " + what + "s"
}
