package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/scroll"
)

// RowHeight converts text rows to the nominal pixel units the scroll
// policy's threshold is expressed in.
const RowHeight = 20

// MessageView displays the messages of the open chat.
type MessageView struct {
	*tview.TextView
	me string
}

// NewMessageView creates a message view for the user me.
func NewMessageView(me string) *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &MessageView{TextView: tv, me: me}
}

// SetChatName updates the title.
func (mv *MessageView) SetChatName(name string) {
	mv.SetTitle(fmt.Sprintf(" %s ", displayText(name)))
}

// Update redraws msgs, oldest first, without moving the viewport.
// Whether to follow new messages is decided by the daemon.
func (mv *MessageView) Update(msgs []chat.Message, sender func(userID string) string) {
	row, _ := mv.GetScrollOffset()
	mv.Clear()

	for _, m := range msgs {
		name := sender(m.UserID)
		if m.UserID == mv.me {
			name = "You"
		}
		state := ""
		switch m.Status {
		case chat.Pending:
			state = " [::d]sending…[-:-:-]"
		case chat.Failed:
			state = " [red]not sent[-] [::d](/retry, /discard)[-:-:-]"
		}
		_, _ = fmt.Fprintf(mv, "[::b]%s[-:-:-] [::d]%s[-:-:-]%s\n",
			displayText(name), formatTimestamp(m.CreatedAt), state)
		if m.Content != "" {
			_, _ = fmt.Fprintf(mv, "%s\n", displayText(m.Content))
		}
		for _, a := range m.Attachments {
			_, _ = fmt.Fprintf(mv, "[::d]+ %s (%s)[-:-:-]\n", displayText(a.FileName), humanSize(a.FileSize))
		}
		_, _ = fmt.Fprint(mv, "\n")
	}

	mv.ScrollTo(row, 0)
}

// ScrollToBottom shows the newest message.
func (mv *MessageView) ScrollToBottom() {
	mv.ScrollToEnd()
}

// Metrics reports the viewport in nominal pixels.
func (mv *MessageView) Metrics() scroll.Metrics {
	row, _ := mv.GetScrollOffset()
	_, _, _, height := mv.GetInnerRect()
	lines := mv.GetWrappedLineCount()
	return scroll.Metrics{
		ScrollTop:    float64(row * RowHeight),
		ScrollHeight: float64(lines * RowHeight),
		ClientHeight: float64(height * RowHeight),
	}
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
