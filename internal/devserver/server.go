// Package devserver is a small in-memory stand-in for the UniShare API. It
// speaks the same REST shapes and the same Pusher protocol as the real
// deployment so the daemon and the transport can be exercised locally.
package devserver

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnknownUser = errors.New("unknown user")
	ErrUnknownChat = errors.New("unknown chat")
	ErrNotMember   = errors.New("not a member of this chat")
	ErrEmpty       = errors.New("message has no content or attachments")
)

// Config configures a dev server.
type Config struct {
	AppKey    string
	AppSecret string
	JWTSecret string
	TokenTTL  time.Duration
	// RateLimit is the number of API requests a client may make per
	// minute. Zero disables limiting.
	RateLimit int64
	// AllowOrigins enables CORS for browser clients on these origins.
	AllowOrigins []string
	// ActivityTimeout is announced to socket clients, in seconds.
	ActivityTimeout int
	Seed            Seed
}

// Seed is the initial population of the server.
type Seed struct {
	Users []User
	Chats []SeedChat
}

// User is an account on the dev server.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// SeedChat is a chat created at startup.
type SeedChat struct {
	ID      int64
	Name    string
	IsGroup bool
	Members []int64
}

// DefaultSeed has three users, one direct chat and one group.
func DefaultSeed() Seed {
	return Seed{
		Users: []User{{ID: 1, Name: "Alice"}, {ID: 2, Name: "Bob"}, {ID: 3, Name: "Carol"}},
		Chats: []SeedChat{
			{ID: 1, Name: "Alice & Bob", Members: []int64{1, 2}},
			{ID: 2, Name: "Study group", IsGroup: true, Members: []int64{1, 2, 3}},
		},
	}
}

// Attachment is a stored attachment descriptor. File contents are not kept.
type Attachment struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// Message is a stored message in the shape the API returns it.
type Message struct {
	ID          int64        `json:"id"`
	ChatID      int64        `json:"chat_id"`
	UserID      int64        `json:"user_id"`
	User        User         `json:"user"`
	Content     string       `json:"content"`
	ClientID    string       `json:"client_id,omitempty"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   string       `json:"created_at"`
}

type room struct {
	id        int64
	name      string
	isGroup   bool
	members   []int64
	messages  []Message
	byClient  map[string]int
	lastRead  map[int64]int
	updatedAt time.Time
}

// Server holds the dev server state. All methods are safe for concurrent use.
type Server struct {
	cfg    Config
	logger *zap.Logger
	hub    *hub
	now    func() time.Time

	mu       sync.RWMutex
	users    map[int64]User
	rooms    map[int64]*room
	nextMsg  int64
	nextFile int64
}

// New creates a server populated from cfg.Seed.
func New(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AppKey == "" {
		cfg.AppKey = "unisync-dev"
	}
	if cfg.AppSecret == "" {
		cfg.AppSecret = "unisync-dev-secret"
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.AppSecret
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.ActivityTimeout <= 0 {
		cfg.ActivityTimeout = 30
	}
	if len(cfg.Seed.Users) == 0 {
		cfg.Seed = DefaultSeed()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		users:  make(map[int64]User),
		rooms:  make(map[int64]*room),
	}
	s.hub = newHub(s, logger.Named("pusher"))
	for _, u := range cfg.Seed.Users {
		s.users[u.ID] = u
	}
	for _, c := range cfg.Seed.Chats {
		s.rooms[c.ID] = &room{
			id:       c.ID,
			name:     c.Name,
			isGroup:  c.IsGroup,
			members:  slices.Clone(c.Members),
			byClient: make(map[string]int),
			lastRead: make(map[int64]int),
		}
	}
	return s
}

// AppKey returns the Pusher app key clients must connect with.
func (s *Server) AppKey() string { return s.cfg.AppKey }

// ChatSummary is a chat as listed for one user.
type ChatSummary struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	IsGroup       bool   `json:"is_group"`
	Participants  []User `json:"participants"`
	UnreadCount   int    `json:"unread_count"`
	LastMessageAt string `json:"last_message_at,omitempty"`
}

// ChatsFor lists the chats userID belongs to.
func (s *Server) ChatsFor(userID int64) []ChatSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ChatSummary
	for _, r := range s.rooms {
		if !slices.Contains(r.members, userID) {
			continue
		}
		sum := ChatSummary{ID: r.id, Name: r.name, IsGroup: r.isGroup}
		for _, id := range r.members {
			sum.Participants = append(sum.Participants, s.users[id])
		}
		for _, m := range r.messages[r.lastRead[userID]:] {
			if m.UserID != userID {
				sum.UnreadCount++
			}
		}
		if !r.updatedAt.IsZero() {
			sum.LastMessageAt = formatTime(r.updatedAt)
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b ChatSummary) int { return int(a.ID - b.ID) })
	return out
}

// Messages returns the history of a chat, oldest first.
func (s *Server) Messages(userID, chatID int64) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.roomFor(userID, chatID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(r.messages), nil
}

// Post stores a message from userID and broadcasts it to the chat channel. A
// repeated clientID returns the message stored for it the first time.
func (s *Server) Post(userID, chatID int64, content, clientID string, files []Attachment) (Message, error) {
	if content == "" && len(files) == 0 {
		return Message{}, ErrEmpty
	}

	s.mu.Lock()
	r, err := s.roomFor(userID, chatID)
	if err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	if clientID != "" {
		if i, ok := r.byClient[clientID]; ok {
			m := r.messages[i]
			s.mu.Unlock()
			return m, nil
		}
	}

	now := s.now().UTC()
	s.nextMsg++
	m := Message{
		ID:          s.nextMsg,
		ChatID:      chatID,
		UserID:      userID,
		User:        s.users[userID],
		Content:     content,
		ClientID:    clientID,
		Attachments: []Attachment{},
		CreatedAt:   formatTime(now),
	}
	for _, f := range files {
		s.nextFile++
		f.ID = s.nextFile
		m.Attachments = append(m.Attachments, f)
	}
	r.messages = append(r.messages, m)
	if clientID != "" {
		r.byClient[clientID] = len(r.messages) - 1
	}
	// The sender has read everything up to their own message.
	r.lastRead[userID] = len(r.messages)
	r.updatedAt = now
	s.mu.Unlock()

	s.logger.Debug("message stored",
		zap.Int64("chat_id", chatID),
		zap.Int64("message_id", m.ID),
		zap.Int64("user_id", userID),
	)
	s.hub.broadcastMessage(m)
	return m, nil
}

// MarkRead moves userID's read marker to the end of the chat.
func (s *Server) MarkRead(userID, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.roomFor(userID, chatID)
	if err != nil {
		return err
	}
	r.lastRead[userID] = len(r.messages)
	return nil
}

// Inject posts a message as another user, the way a second client would.
func (s *Server) Inject(chatID, userID int64, content string) (Message, error) {
	return s.Post(userID, chatID, content, "", nil)
}

// DropConnections closes every socket, forcing clients to reconnect.
func (s *Server) DropConnections() int {
	return s.hub.dropAll()
}

// Subscribers returns the number of sockets subscribed to channel.
func (s *Server) Subscribers(channel string) int {
	return s.hub.subscribers(channel)
}

func (s *Server) user(id int64) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *Server) isMember(userID, chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.roomFor(userID, chatID)
	return err == nil
}

// roomFor requires s.mu.
func (s *Server) roomFor(userID, chatID int64) (*room, error) {
	if _, ok := s.users[userID]; !ok {
		return nil, ErrUnknownUser
	}
	r, ok := s.rooms[chatID]
	if !ok {
		return nil, ErrUnknownChat
	}
	if !slices.Contains(r.members, userID) {
		return nil, ErrNotMember
	}
	return r, nil
}

// formatTime renders timestamps the way Laravel serializes Carbon dates.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
