package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for messages and slash commands.
type Composer struct {
	*tview.InputField
	onSend    func(text string)
	onCommand func(line string)
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.GetText()
		if text == "" {
			return
		}
		c.SetText("")
		if len(text) > 1 && text[0] == '/' && text[1] != '/' {
			if c.onCommand != nil {
				c.onCommand(text[1:])
			}
			return
		}
		if text[0] == '/' {
			text = text[1:] // "//" sends a literal slash
		}
		if c.onSend != nil {
			c.onSend(text)
		}
	})

	return c
}

// SetOnSend sets the callback for a message.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnCommand sets the callback for a line starting with '/'.
func (c *Composer) SetOnCommand(fn func(line string)) {
	c.onCommand = fn
}

// SetPending shows how many attachments the next send carries.
func (c *Composer) SetPending(n int) {
	if n == 0 {
		c.SetLabel(" > ")
		return
	}
	c.SetLabel(fmt.Sprintf(" (%d attached) > ", n))
}
