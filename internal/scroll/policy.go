// Package scroll decides when a message view should jump to its newest
// message and when it should leave the user's reading position alone.
package scroll

import "time"

const (
	// DefaultNearBottomThreshold is the distance from the bottom, in viewport
	// units, within which the view counts as "at the bottom".
	DefaultNearBottomThreshold = 120.0
	// DefaultSettleWindow is how long a scroll away from the bottom must
	// stay put before it counts as deliberate.
	DefaultSettleWindow = time.Second
)

// Trigger is the reason new content appeared in a view.
type Trigger int

const (
	InitialLoad Trigger = iota
	UserSent
	RemoteArrived
)

func (t Trigger) String() string {
	switch t {
	case InitialLoad:
		return "initial_load"
	case UserSent:
		return "user_sent"
	case RemoteArrived:
		return "remote_arrived"
	}
	return "unknown"
}

// Metrics are the viewport dimensions reported by a UI.
type Metrics struct {
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

// State is the scroll state of one open chat.
type State struct {
	IsNearBottom        bool
	UserHasScrolledAway bool
}

// AtBottom is the state of a view that has just been scrolled to the end.
var AtBottom = State{IsNearBottom: true}

// Policy holds the tunables shared by every chat view.
type Policy struct {
	Threshold float64
	Settle    time.Duration
}

// NewPolicy returns a policy, substituting defaults for non-positive values.
func NewPolicy(threshold float64, settle time.Duration) *Policy {
	if threshold <= 0 {
		threshold = DefaultNearBottomThreshold
	}
	if settle <= 0 {
		settle = DefaultSettleWindow
	}
	return &Policy{Threshold: threshold, Settle: settle}
}

// Recompute derives the state for m. The scrolled-away flag is carried over
// from prev unless the view is back at the bottom, which clears it.
func (p *Policy) Recompute(m Metrics, prev State) State {
	distance := m.ScrollHeight - m.ScrollTop - m.ClientHeight
	near := distance <= p.Threshold
	return State{
		IsNearBottom:        near,
		UserHasScrolledAway: prev.UserHasScrolledAway && !near,
	}
}

// ShouldAutoScroll reports whether the view should jump to the newest
// message. prior is the number of messages the chat held before the load
// and only matters for InitialLoad.
func (p *Policy) ShouldAutoScroll(st State, trigger Trigger, prior int) bool {
	switch trigger {
	case InitialLoad:
		return prior == 0
	case UserSent:
		return true
	case RemoteArrived:
		return st.IsNearBottom && !st.UserHasScrolledAway
	}
	return false
}
