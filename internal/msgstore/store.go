// Package msgstore holds the ordered, deduplicated message sequence of every
// chat the client has seen, including optimistic entries that have not been
// confirmed by the server yet.
package msgstore

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unishare/unisync/internal/chat"
)

// LocalIDPrefix marks identifiers generated on this client.
const LocalIDPrefix = "local-"

// Resolution tells the caller what ResolveOptimistic did.
type Resolution int

const (
	// Replaced means the pending entry now holds the server message.
	Replaced Resolution = iota
	// Deduplicated means the server message was already present (delivered
	// by a push or pull), so the pending entry was dropped.
	Deduplicated
	// AlreadyResolved means a merge had reconciled the pending entry first.
	AlreadyResolved
	// Inserted means no pending entry existed and the server message was
	// merged as a new one.
	Inserted
)

func (r Resolution) String() string {
	switch r {
	case Replaced:
		return "replaced"
	case Deduplicated:
		return "deduplicated"
	case AlreadyResolved:
		return "already_resolved"
	case Inserted:
		return "inserted"
	}
	return "unknown"
}

// Stats are cumulative counters since the store was created.
type Stats struct {
	Duplicates uint64
	Reconciled uint64
	Malformed  uint64
}

// Store is the per-chat message sequence. Every sequence is kept sorted by
// creation time with server ids unique. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	chats  map[string][]chat.Message
	logger *zap.Logger
	now    func() time.Time

	duplicates atomic.Uint64
	reconciled atomic.Uint64
	malformed  atomic.Uint64
}

// New creates an empty store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		chats:  make(map[string][]chat.Message),
		logger: logger,
		now:    time.Now,
	}
}

// AppendOptimistic adds a pending entry for a message being sent and returns
// its local id. The entry goes to the end of the sequence.
func (s *Store) AppendOptimistic(chatID string, d chat.Draft) string {
	localID := LocalIDPrefix + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.chats[chatID]
	s.chats[chatID] = append(seq, chat.Message{
		LocalID:     localID,
		ClientID:    localID,
		ChatID:      chatID,
		UserID:      d.UserID,
		Content:     d.Content,
		Attachments: slices.Clone(d.Attachments),
		CreatedAt:   s.tailTime(seq),
		Status:      chat.Pending,
	})
	return localID
}

// ResolveOptimistic swaps the pending entry localID for the server's
// confirmed message and moves it to its sorted position.
func (s *Store) ResolveOptimistic(chatID, localID string, m chat.Message) (Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptable(chatID, &m) {
		return 0, chat.ErrMalformed
	}
	m = confirmed(chatID, m)

	seq := s.chats[chatID]
	local := slices.IndexFunc(seq, func(e chat.Message) bool { return e.LocalID == localID })
	server := slices.IndexFunc(seq, func(e chat.Message) bool { return e.ID == m.ID })

	switch {
	case local >= 0 && seq[local].Status == chat.Confirmed && (seq[local].ID == m.ID || server >= 0):
		return AlreadyResolved, nil
	case local >= 0 && seq[local].Status == chat.Confirmed:
		// A merge matched the pending entry to a look-alike message with
		// another id. The server's answer is still our message.
		s.chats[chatID] = insertSorted(seq, m)
		s.logger.Debug("pending entry was claimed by another message",
			zap.String("chat_id", chatID),
			zap.String("local_id", localID),
			zap.String("claimed_by", seq[local].ID),
			zap.String("msg_id", m.ID),
		)
		return Inserted, nil
	case local >= 0 && server >= 0:
		s.chats[chatID] = slices.Delete(seq, local, local+1)
		s.duplicates.Add(1)
		s.logger.Debug("optimistic entry already delivered",
			zap.String("chat_id", chatID),
			zap.String("local_id", localID),
			zap.String("msg_id", m.ID),
		)
		return Deduplicated, nil
	case local >= 0:
		m.LocalID = localID
		seq = slices.Delete(seq, local, local+1)
		s.chats[chatID] = insertSorted(seq, m)
		return Replaced, nil
	case server >= 0:
		return AlreadyResolved, nil
	}
	s.chats[chatID] = insertSorted(seq, m)
	return Inserted, nil
}

// FailOptimistic marks the pending entry localID as failed. A failed entry
// stays in place until it is retried or discarded.
func (s *Store) FailOptimistic(chatID, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.chats[chatID]
	i := slices.IndexFunc(seq, func(e chat.Message) bool { return e.LocalID == localID })
	if i < 0 {
		return chat.ErrUnknownLocalID
	}
	if seq[i].Status == chat.Pending {
		seq[i].Status = chat.Failed
	}
	return nil
}

// Requeue turns a failed entry back into a pending one at the end of the
// sequence and returns a copy of it for resending.
func (s *Store) Requeue(chatID, localID string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.chats[chatID]
	i := slices.IndexFunc(seq, func(e chat.Message) bool { return e.LocalID == localID })
	if i < 0 {
		return chat.Message{}, chat.ErrUnknownLocalID
	}
	if seq[i].Status != chat.Failed {
		return chat.Message{}, chat.ErrNotFailed
	}
	m := seq[i]
	seq = slices.Delete(seq, i, i+1)
	m.Status = chat.Pending
	m.CreatedAt = s.tailTime(seq)
	s.chats[chatID] = append(seq, m)
	return m.Clone(), nil
}

// AppendFailed puts back a failed entry restored from the local cache. It
// is a no-op when the local id is already held.
func (s *Store) AppendFailed(chatID string, m chat.Message) error {
	if m.LocalID == "" {
		return chat.ErrUnknownLocalID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.chats[chatID]
	if slices.ContainsFunc(seq, func(e chat.Message) bool { return e.LocalID == m.LocalID }) {
		return nil
	}
	m = m.Clone()
	m.ID = ""
	m.ChatID = chatID
	m.Status = chat.Failed
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.tailTime(seq)
	}
	s.chats[chatID] = insertSorted(seq, m)
	return nil
}

// Discard removes a failed entry.
func (s *Store) Discard(chatID, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.chats[chatID]
	i := slices.IndexFunc(seq, func(e chat.Message) bool { return e.LocalID == localID })
	if i < 0 {
		return chat.ErrUnknownLocalID
	}
	if seq[i].Status != chat.Failed {
		return chat.ErrNotFailed
	}
	s.chats[chatID] = slices.Delete(seq, i, i+1)
	return nil
}

// Merge folds server messages into the chat and returns the ones that were
// genuinely new, in sorted order. Messages whose id is already present are
// skipped. A message matching a pending entry replaces that entry and is not
// reported as new. Malformed messages are skipped (and panic in development).
func (s *Store) Merge(chatID string, incoming []chat.Message) []chat.Message {
	if len(incoming) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.chats[chatID]
	known := make(map[string]struct{}, len(seq)+len(incoming))
	for _, e := range seq {
		if e.ID != "" {
			known[e.ID] = struct{}{}
		}
	}

	var fresh []chat.Message
	for _, in := range incoming {
		if !s.acceptable(chatID, &in) {
			continue
		}
		if _, dup := known[in.ID]; dup {
			s.duplicates.Add(1)
			s.logger.Debug("duplicate message skipped",
				zap.String("chat_id", chatID),
				zap.String("msg_id", in.ID),
			)
			continue
		}
		known[in.ID] = struct{}{}
		m := confirmed(chatID, in)

		if i := matchPending(seq, &m); i >= 0 {
			m.LocalID = seq[i].LocalID
			seq = slices.Delete(seq, i, i+1)
			seq = insertSorted(seq, m)
			s.reconciled.Add(1)
			s.logger.Debug("pending entry reconciled by merge",
				zap.String("chat_id", chatID),
				zap.String("local_id", m.LocalID),
				zap.String("msg_id", m.ID),
			)
			continue
		}
		seq = insertSorted(seq, m)
		fresh = append(fresh, m.Clone())
	}
	s.chats[chatID] = seq

	sort.SliceStable(fresh, func(i, j int) bool { return less(&fresh[i], &fresh[j]) })
	return fresh
}

// GetOrdered returns a copy of the chat's sequence.
func (s *Store) GetOrdered(chatID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.chats[chatID]
	out := make([]chat.Message, len(seq))
	for i := range seq {
		out[i] = seq[i].Clone()
	}
	return out
}

// Get returns the entry with the given server or local id.
func (s *Store) Get(chatID, key string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.chats[chatID] {
		if e.ID == key || e.LocalID == key {
			return e.Clone(), true
		}
	}
	return chat.Message{}, false
}

// Last returns the newest entry of the chat.
func (s *Store) Last(chatID string) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seq := s.chats[chatID]
	if len(seq) == 0 {
		return chat.Message{}, false
	}
	return seq[len(seq)-1].Clone(), true
}

// Len returns the number of entries held for the chat.
func (s *Store) Len(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats[chatID])
}

// Chats returns the ids of all chats with at least one entry, sorted.
func (s *Store) Chats() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.chats))
	for id, seq := range s.chats {
		if len(seq) > 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Stats returns the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Duplicates: s.duplicates.Load(),
		Reconciled: s.reconciled.Load(),
		Malformed:  s.malformed.Load(),
	}
}

// acceptable reports whether m can enter chatID's sequence.
func (s *Store) acceptable(chatID string, m *chat.Message) bool {
	var problem string
	switch {
	case m.ID == "":
		problem = "missing id"
	case m.CreatedAt.IsZero():
		problem = "missing created_at"
	case m.ChatID != "" && m.ChatID != chatID:
		problem = "chat id mismatch"
	default:
		return true
	}
	s.malformed.Add(1)
	s.logger.DPanic("malformed message",
		zap.String("chat_id", chatID),
		zap.String("msg_id", m.ID),
		zap.String("msg_chat_id", m.ChatID),
		zap.String("problem", problem),
	)
	return false
}

// tailTime is the timestamp for a new entry at the end of seq. It is
// strictly after the current tail, so local entries never tie and the
// sequence stays sorted under clock skew.
func (s *Store) tailTime(seq []chat.Message) time.Time {
	now := s.now()
	if n := len(seq); n > 0 && !seq[n-1].CreatedAt.Before(now) {
		return seq[n-1].CreatedAt.Add(time.Nanosecond)
	}
	return now
}

func confirmed(chatID string, m chat.Message) chat.Message {
	m = m.Clone()
	m.ChatID = chatID
	m.Status = chat.Confirmed
	return m
}

// matchPending finds the pending entry a confirmed message stands for. The
// echoed client id wins; without one, the same sender, content and
// attachment names identify the entry.
func matchPending(seq []chat.Message, m *chat.Message) int {
	if m.ClientID != "" {
		return slices.IndexFunc(seq, func(e chat.Message) bool {
			return e.Status == chat.Pending && e.ClientID == m.ClientID
		})
	}
	return slices.IndexFunc(seq, func(e chat.Message) bool {
		return e.Status == chat.Pending &&
			e.UserID == m.UserID &&
			e.Content == m.Content &&
			sameFiles(e.Attachments, m.Attachments)
	})
}

func sameFiles(a, b []chat.Attachment) bool {
	return slices.EqualFunc(a, b, func(x, y chat.Attachment) bool {
		return x.FileName == y.FileName
	})
}

func insertSorted(seq []chat.Message, m chat.Message) []chat.Message {
	i := sort.Search(len(seq), func(i int) bool { return less(&m, &seq[i]) })
	return slices.Insert(seq, i, m)
}

// less orders by creation time, then confirmed before pending, then by id.
// Numeric ids compare as numbers.
func less(a, b *chat.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if ac, bc := a.ID != "", b.ID != ""; ac != bc {
		return ac
	}
	return compareIDs(a.Key(), b.Key()) < 0
}

func compareIDs(a, b string) int {
	ai, aerr := strconv.ParseUint(a, 10, 64)
	bi, berr := strconv.ParseUint(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}
