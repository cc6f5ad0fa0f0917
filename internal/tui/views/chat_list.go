package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/unishare/unisync/internal/chat"
)

// ChatList is the chat table shown at startup.
type ChatList struct {
	*tview.Table
	chats []chat.Chat
}

// NewChatList creates an empty chat list.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Chats ")
	return &ChatList{Table: table}
}

// Update redraws the list, keeping the selected chat selected.
func (cl *ChatList) Update(chats []chat.Chat) {
	selected := cl.SelectedChat()
	cl.chats = chats
	cl.Clear()

	header := tview.Styles.SecondaryTextColor
	cl.SetCell(0, 0, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(header))
	cl.SetCell(0, 1, tview.NewTableCell(" Members").SetSelectable(false).SetTextColor(header))
	cl.SetCell(0, 2, tview.NewTableCell(" Last").SetSelectable(false).SetTextColor(header))

	for i, c := range chats {
		row := i + 1
		name := c.Name
		if name == "" {
			name = "Chat " + c.ID
		}
		name = displayText(name)
		if c.UnreadCount > 0 {
			name = fmt.Sprintf("[::b]%s (%d)[::-]", name, c.UnreadCount)
		}
		members := ""
		if c.IsGroup || len(c.Participants) > 2 {
			members = fmt.Sprintf("%d", len(c.Participants))
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+name).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 1, tview.NewTableCell(" "+members).SetMaxWidth(8))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt)).SetMaxWidth(12))
		if c.ID == selected {
			cl.Select(row, 0)
		}
	}
}

// SelectedChat returns the id of the highlighted chat.
func (cl *ChatList) SelectedChat() string {
	row, _ := cl.GetSelection()
	idx := row - 1 // header
	if idx >= 0 && idx < len(cl.chats) {
		return cl.chats[idx].ID
	}
	return ""
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
