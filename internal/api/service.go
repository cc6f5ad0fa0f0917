package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unishare/unisync/internal/bus"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
	"github.com/unishare/unisync/internal/status"
	"github.com/unishare/unisync/internal/store"
	intsync "github.com/unishare/unisync/internal/sync"
)

// Engine is the part of the sync controller the control API drives.
type Engine interface {
	Active() string
	OpenChat(ctx context.Context, chatID string) error
	CloseChat()
	Watch(ctx context.Context, chatID string) error
	Unwatch(chatID string)
	Watched() []string
	SendMessage(ctx context.Context, chatID, content string, uploads []chat.Upload) intsync.SendResult
	Retry(ctx context.Context, chatID, localID string) intsync.SendResult
	Discard(chatID, localID string) error
	Refresh(ctx context.Context, chatID string) ([]chat.Message, error)
	ReportViewport(chatID string, m scroll.Metrics) scroll.State
	ScrollState(chatID string) scroll.State
	ChatState(chatID string) status.State
	Messages(chatID string) []chat.Message
	Unread(chatID string) int
	Chats() []chat.Chat
	LoadChats(ctx context.Context) ([]chat.Chat, error)
	Stats() intsync.Stats
}

// PushState reports the push socket's health.
type PushState interface {
	Connected() bool
}

// CacheCounter reports the size of the warm-start cache.
type CacheCounter interface {
	Counts() (store.Counts, error)
}

// Options describe the daemon to clients.
type Options struct {
	Profile string
	UserID  string
	// Push is nil when push delivery is disabled.
	Push  PushState
	Cache CacheCounter
}

// Service implements ChatSyncServer on top of an Engine.
type Service struct {
	engine    Engine
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options
	startedAt time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// NewService creates the control API service.
func NewService(engine Engine, b *bus.Bus, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:    engine,
		bus:       b,
		logger:    logger,
		opts:      opts,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Shutdown ends every open event stream.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

var _ ChatSyncServer = (*Service)(nil)

func (s *Service) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.engine.Stats()
	resp := Status{
		Profile:       s.opts.Profile,
		UserID:        s.opts.UserID,
		Uptime:        time.Since(s.startedAt),
		ActiveChat:    s.engine.Active(),
		Watched:       s.engine.Watched(),
		PushEnabled:   s.opts.Push != nil,
		PushConnected: s.opts.Push != nil && s.opts.Push.Connected(),
		Stats: map[string]uint64{
			"pulls":           st.Pulls,
			"pull_failures":   st.PullFailures,
			"pushes":          st.Pushes,
			"sends":           st.Sends,
			"send_failures":   st.SendFailures,
			"stale_responses": st.StaleResponses,
			"duplicates":      st.Duplicates,
			"reconciled":      st.Reconciled,
			"malformed":       st.Malformed,
			"dropped_events":  s.bus.Dropped(),
		},
	}
	if s.opts.Cache != nil {
		if c, err := s.opts.Cache.Counts(); err == nil {
			resp.Cached = &CacheCounts{Chats: c.Chats, Messages: c.Messages, Failed: c.Failed}
		} else {
			s.logger.Warn("cache counts unavailable", zap.Error(err))
		}
	}
	return encode(resp)
}

func (s *Service) ListChats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := listRequestFrom(in)
	chats := s.engine.Chats()
	if req.Refresh || len(chats) == 0 {
		loaded, err := s.engine.LoadChats(ctx)
		if err != nil {
			if len(chats) == 0 {
				return nil, toStatus(err)
			}
			s.logger.Warn("chat list refresh failed, serving cached list", zap.Error(err))
		} else {
			chats = loaded
		}
	}
	return encode(ChatList{Chats: chats})
}

func (s *Service) GetMessages(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := chatRequestFrom(in)
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	return s.chatView(req.ChatID)
}

func (s *Service) OpenChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := chatRequestFrom(in)
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	if err := s.engine.OpenChat(ctx, req.ChatID); err != nil {
		return nil, toStatus(err)
	}
	return s.chatView(req.ChatID)
}

func (s *Service) CloseChat(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.engine.CloseChat()
	return encode(empty{})
}

func (s *Service) WatchChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := watchRequestFrom(in)
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	if req.Watch {
		if err := s.engine.Watch(ctx, req.ChatID); err != nil {
			return nil, toStatus(err)
		}
	} else {
		s.engine.Unwatch(req.ChatID)
	}
	return encode(WatchReply{ChatID: req.ChatID, Watching: req.Watch})
}

func (s *Service) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := sendRequestFrom(in)
	if err != nil {
		return nil, invalid(err)
	}
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	// Sends outlive the calling client.
	res := s.engine.SendMessage(context.WithoutCancel(ctx), req.ChatID, req.Content, req.Uploads)
	return s.sendResult(req.ChatID, res)
}

func (s *Service) RetryMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := localRequestFrom(in)
	if err := req.validate(); err != nil {
		return nil, err
	}
	return s.sendResult(req.ChatID, s.engine.Retry(context.WithoutCancel(ctx), req.ChatID, req.LocalID))
}

func (s *Service) DiscardMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := localRequestFrom(in)
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.engine.Discard(req.ChatID, req.LocalID); err != nil {
		return nil, toStatus(err)
	}
	return encode(req)
}

func (s *Service) Refresh(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	chatID := chatRequestFrom(in).ChatID
	if chatID == "" {
		chatID = s.engine.Active()
	}
	if err := required("chat_id", chatID); err != nil {
		return nil, err
	}
	fresh, err := s.engine.Refresh(ctx, chatID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(RefreshReply{ChatID: chatID, Fresh: fresh})
}

func (s *Service) ReportViewport(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := viewportRequestFrom(in)
	if err := required("chat_id", req.ChatID); err != nil {
		return nil, err
	}
	st := s.engine.ReportViewport(req.ChatID, req.Metrics)
	return encode(ViewportReply{ChatID: req.ChatID, Scroll: st})
}

// WatchEvents streams bus events whose kind starts with the request's
// prefix, optionally limited to one chat.
func (s *Service) WatchEvents(in *structpb.Struct, stream EventStream) error {
	req := eventsRequestFrom(in)
	chatID := req.ChatID
	ch, unsub := s.bus.Subscribe(req.Prefix, 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			doc := eventToMap(evt, s.opts.Profile)
			if chatID != "" {
				if id, _ := doc["chat_id"].(string); id != chatID && !strings.HasPrefix(evt.Kind, "chats.") {
					continue
				}
			}
			out, err := newStruct(doc)
			if err != nil {
				s.logger.Warn("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return nil
		}
	}
}

func (s *Service) chatView(chatID string) (*structpb.Struct, error) {
	return encode(ChatView{
		ChatID:   chatID,
		State:    string(s.engine.ChatState(chatID)),
		Unread:   s.engine.Unread(chatID),
		Scroll:   s.engine.ScrollState(chatID),
		Messages: s.engine.Messages(chatID),
	})
}

func (s *Service) sendResult(chatID string, res intsync.SendResult) (*structpb.Struct, error) {
	if res.Err != nil && isRequestError(res.Err) {
		return nil, toStatus(res.Err)
	}
	out := SendOutcome{ChatID: chatID, LocalID: res.LocalID, OK: res.OK()}
	if res.OK() {
		out.Message = res.Message
	} else {
		out.Err = res.Err.Error()
		if m, ok := failedEntry(s.engine.Messages(chatID), res.LocalID); ok {
			out.Message = m
		}
	}
	return encode(out)
}

func failedEntry(msgs []chat.Message, localID string) (chat.Message, bool) {
	for _, m := range msgs {
		if m.LocalID == localID {
			return m, true
		}
	}
	return chat.Message{}, false
}
