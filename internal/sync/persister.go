package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unishare/unisync/internal/bus"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/store"
)

// DefaultCacheDepth is how many messages per chat the cache keeps.
const DefaultCacheDepth = 200

// Persister mirrors controller events into the on-disk cache. It only ever
// writes; the controller never reads from the cache after startup.
type Persister struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	depth  int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPersister creates a persister keeping depth messages per chat.
func NewPersister(db *store.DB, b *bus.Bus, logger *zap.Logger, depth int) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if depth <= 0 {
		depth = DefaultCacheDepth
	}
	return &Persister{
		db:     db,
		bus:    b,
		logger: logger,
		depth:  depth,
	}
}

// Start subscribes to controller events on the bus.
func (p *Persister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	ch, unsub := p.bus.Subscribe("", 512)

	go func() {
		defer close(p.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				p.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the persister and waits for the event loop to exit.
func (p *Persister) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

func (p *Persister) handleEvent(evt bus.Event) {
	var err error
	switch payload := evt.Payload.(type) {
	case MessagesPayload:
		if evt.Kind == KindMessageMerged {
			err = p.saveMessages(payload.ChatID, payload.Messages)
		}
	case MessagePayload:
		switch evt.Kind {
		case KindMessageConfirmed:
			err = p.saveMessages(payload.ChatID, []chat.Message{payload.Message})
			if err == nil {
				err = p.db.DeleteFailed(payload.LocalID)
			}
		case KindMessageFailed:
			err = p.db.SaveFailed(chat.FailedSend{Message: payload.Message, Uploads: payload.Uploads}, payload.Err)
		case KindMessageDiscarded:
			err = p.db.DeleteFailed(payload.LocalID)
		}
	case UnreadPayload:
		err = p.db.SetUnread(payload.ChatID, payload.Count)
	case ChatsPayload:
		err = p.db.UpsertChats(payload.Chats)
	case PullPayload:
		err = p.db.SetCheckpoint(PullCheckpoint(payload.ChatID), evt.Timestamp.UTC().Format(time.RFC3339))
	}
	if err != nil {
		p.logger.Error("cache write failed", zap.String("event", evt.Kind), zap.Error(err))
	}
}

func (p *Persister) saveMessages(chatID string, msgs []chat.Message) error {
	if err := p.db.UpsertMessages(msgs); err != nil {
		return fmt.Errorf("upsert messages: %w", err)
	}
	if _, err := p.db.PruneMessages(chatID, p.depth); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	return nil
}

// PullCheckpoint is the sync_state key holding a chat's last pull time.
func PullCheckpoint(chatID string) string {
	return "last_pull." + chatID
}

// LoadSnapshot reads the cache into a snapshot for Controller.Restore.
func LoadSnapshot(db *store.DB, depth int) (Snapshot, error) {
	if depth <= 0 {
		depth = DefaultCacheDepth
	}
	var snap Snapshot
	var err error

	if snap.Chats, err = db.ListChats(); err != nil {
		return snap, fmt.Errorf("list chats: %w", err)
	}
	if snap.Unread, err = db.UnreadCounts(); err != nil {
		return snap, fmt.Errorf("unread counts: %w", err)
	}
	if snap.Failed, err = db.ListFailed(); err != nil {
		return snap, fmt.Errorf("failed sends: %w", err)
	}

	ids, err := db.MessageChats()
	if err != nil {
		return snap, fmt.Errorf("message chats: %w", err)
	}
	snap.Messages = make(map[string][]chat.Message, len(ids))
	for _, id := range ids {
		msgs, err := db.ListMessages(id, depth)
		if err != nil {
			return snap, fmt.Errorf("messages of %s: %w", id, err)
		}
		snap.Messages[id] = msgs
	}
	return snap, nil
}
