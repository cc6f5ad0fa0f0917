package scroll

import (
	"sync"
	"time"
)

// Tracker follows the viewport of one open chat and owns the debounce timer
// behind the scrolled-away flag. Each report while away from the bottom
// restarts the settle window; the flag is only set once the window expires.
type Tracker struct {
	policy *Policy

	mu    sync.Mutex
	state State
	timer *time.Timer
	gen   uint64
}

// NewTracker returns a tracker that starts at the bottom.
func (p *Policy) NewTracker() *Tracker {
	return &Tracker{policy: p, state: AtBottom}
}

// Observe records new viewport metrics and returns the resulting state.
func (t *Tracker) Observe(m Metrics) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = t.policy.Recompute(m, t.state)
	switch {
	case t.state.IsNearBottom:
		t.cancelLocked()
	case !t.state.UserHasScrolledAway:
		t.armLocked()
	}
	return t.state
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Pin marks the view as at the bottom, after the UI has been told to
// scroll there.
func (t *Tracker) Pin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.state = AtBottom
}

// Stop cancels any pending timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

func (t *Tracker) armLocked() {
	t.cancelLocked()
	gen := t.gen
	t.timer = time.AfterFunc(t.policy.Settle, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.gen != gen || t.state.IsNearBottom {
			return
		}
		t.state.UserHasScrolledAway = true
		t.timer = nil
	})
}

// cancelLocked stops the timer and invalidates a callback that already fired
// but has not taken the lock yet.
func (t *Tracker) cancelLocked() {
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
