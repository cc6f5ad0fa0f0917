package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar shows the profile, push state and flash messages.
type StatusBar struct {
	*tview.TextView
	profile string
	push    string
	unread  int
	hints   string
	flash   string
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetProfile updates the profile name.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetPush shows the push socket state: "connected", "disconnected" or
// "polling".
func (sb *StatusBar) SetPush(state string) {
	sb.push = state
	sb.render()
}

// SetUnread shows the unread total across chats.
func (sb *StatusBar) SetUnread(n int) {
	sb.unread = n
	sb.render()
}

// SetHints shows key hints for the current page.
func (sb *StatusBar) SetHints(hints string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message.
func (sb *StatusBar) SetFlash(msg string) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	push := sb.push
	switch push {
	case "connected":
		push = "[green]live[-]"
	case "disconnected":
		push = "[red]offline[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s | %s", sb.profile, push, time.Now().Format("15:04"))
	if sb.unread > 0 {
		line += fmt.Sprintf(" | [yellow]%d unread[-]", sb.unread)
	}
	if sb.flash != "" {
		line += fmt.Sprintf(" | [yellow]%s[-]", tview.Escape(sb.flash))
	} else if sb.hints != "" {
		line += " | [::d]" + sb.hints + "[-:-:-]"
	}

	_, _ = fmt.Fprint(sb, line)
}
