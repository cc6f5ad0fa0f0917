package scroll

import (
	"testing"
	"time"
)

func TestShouldAutoScrollDecisionTable(t *testing.T) {
	p := NewPolicy(0, 0)
	tests := []struct {
		name    string
		trigger Trigger
		state   State
		prior   int
		want    bool
	}{
		{"initial load empty chat", InitialLoad, State{}, 0, true},
		{"initial load with history", InitialLoad, AtBottom, 3, false},
		{"user sent while away", UserSent, State{UserHasScrolledAway: true}, 10, true},
		{"user sent at bottom", UserSent, AtBottom, 10, true},
		{"remote at bottom", RemoteArrived, State{IsNearBottom: true}, 10, true},
		{"remote near bottom but scrolled away", RemoteArrived, State{IsNearBottom: true, UserHasScrolledAway: true}, 10, false},
		{"remote far and scrolled away", RemoteArrived, State{UserHasScrolledAway: true}, 10, false},
		{"remote far before settle", RemoteArrived, State{}, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.ShouldAutoScroll(tt.state, tt.trigger, tt.prior); got != tt.want {
				t.Errorf("ShouldAutoScroll(%+v, %s, %d) = %v, want %v", tt.state, tt.trigger, tt.prior, got, tt.want)
			}
		})
	}
}

func TestRecompute(t *testing.T) {
	p := NewPolicy(100, time.Second)
	tests := []struct {
		name string
		m    Metrics
		prev State
		want State
	}{
		{"content shorter than view", Metrics{0, 50, 400}, State{}, State{IsNearBottom: true}},
		{"exactly at bottom", Metrics{600, 1000, 400}, State{}, State{IsNearBottom: true}},
		{"within threshold", Metrics{500, 1000, 400}, State{}, State{IsNearBottom: true}},
		{"just past threshold", Metrics{499, 1000, 400}, State{}, State{}},
		{"away keeps flag", Metrics{0, 1000, 400}, State{UserHasScrolledAway: true}, State{UserHasScrolledAway: true}},
		{"return clears flag", Metrics{600, 1000, 400}, State{UserHasScrolledAway: true}, State{IsNearBottom: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Recompute(tt.m, tt.prev); got != tt.want {
				t.Errorf("Recompute(%+v) = %+v, want %+v", tt.m, got, tt.want)
			}
		})
	}
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(-1, 0)
	if p.Threshold != DefaultNearBottomThreshold || p.Settle != DefaultSettleWindow {
		t.Errorf("policy = %+v, want defaults", p)
	}
}
