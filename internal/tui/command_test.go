package tui

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"retry", Command{Name: "retry"}},
		{"Retry  l-123 ", Command{Name: "retry", Args: "l-123"}},
		{"attach my notes.pdf", Command{Name: "attach", Args: "my notes.pdf"}},
		{"  refresh", Command{Name: "refresh"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
