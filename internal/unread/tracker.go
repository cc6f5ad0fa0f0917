// Package unread counts messages the user has not seen, per chat.
package unread

import (
	"maps"
	"sync"
)

// Tracker maps chat ids to unread counts. Counts are never negative and a
// chat missing from the map has zero unread. It is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	counts map[string]int
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{counts: make(map[string]int)}
}

// Increment adds one unread message to chatID and returns the new count.
func (t *Tracker) Increment(chatID string) int {
	return t.Add(chatID, 1)
}

// Add adds n unread messages to chatID and returns the new count.
func (t *Tracker) Add(chatID string, n int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 {
		return t.counts[chatID]
	}
	t.counts[chatID] += n
	return t.counts[chatID]
}

// Reset sets chatID back to zero. It reports whether the count changed.
func (t *Tracker) Reset(chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[chatID] == 0 {
		return false
	}
	delete(t.counts, chatID)
	return true
}

// Set replaces the count for chatID, used when seeding from the server or
// the local cache. Negative values are treated as zero.
func (t *Tracker) Set(chatID string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 {
		delete(t.counts, chatID)
		return
	}
	t.counts[chatID] = n
}

// Get returns the unread count for chatID.
func (t *Tracker) Get(chatID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[chatID]
}

// Total returns the sum over all chats.
func (t *Tracker) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, n := range t.counts {
		total += n
	}
	return total
}

// Snapshot returns a copy of every non-zero count.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.counts)
}
