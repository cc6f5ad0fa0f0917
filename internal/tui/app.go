// Package tui is the terminal client of the daemon.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/unishare/unisync/internal/api"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/tui/keys"
	"github.com/unishare/unisync/internal/tui/model"
	"github.com/unishare/unisync/internal/tui/views"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	daemon    model.Daemon
	registry  *keys.Registry
	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI for profileName, signed in as userID.
func NewApp(d model.Daemon, profileName, userID string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(d),
		daemon:    d,
		registry:  keys.NewRegistry(),
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		msgView:   views.NewMessageView(userID),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddView("chats", "reload", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:reload", Visible: true,
		Handler: func() { a.loadChats(true) },
	})
	a.registry.AddView("chat", "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:write", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer.InputField) },
	})
	a.registry.AddView("chat", "bottom", &keys.Action{
		Rune: 'G', Key: tcell.KeyRune,
		Description: "G:newest", Visible: true,
		Handler: func() {
			a.msgView.ScrollToBottom()
			a.reportViewport()
		},
	})
	a.registry.AddView("chat", "refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { a.runCommand(Command{Name: "refresh"}) },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if id := a.chatList.SelectedChat(); id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.Send(a.ctx, text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
			}
			a.app.QueueUpdateDraw(func() {
				a.composer.SetPending(a.vm.Pending())
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		}()
	})

	a.composer.SetOnCommand(func(line string) {
		a.runCommand(ParseCommand(line))
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("chats", a.chatList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true).EnableMouse(true)
	a.statusBar.SetHints(a.registry.HintLine("chats"))

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch {
			case a.app.GetFocus() == a.composer.InputField:
				a.app.SetFocus(a.msgView)
			case currentPage == "chat":
				a.closeChat()
			}
			return nil
		}

		// Let text input widgets handle all keys normally.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		// Scrolling keys reach the message view first; report the new
		// viewport once they have been applied.
		if currentPage == "chat" {
			a.app.QueueUpdate(a.reportViewport)
		}
		return event
	})

	a.app.SetMouseCapture(func(event *tcell.EventMouse, action tview.MouseAction) (*tcell.EventMouse, tview.MouseAction) {
		if action == tview.MouseScrollUp || action == tview.MouseScrollDown {
			if page, _ := a.pages.GetFrontPage(); page == "chat" {
				a.app.QueueUpdate(a.reportViewport)
			}
		}
		return event, action
	})
}

func (a *App) openChat(id string) {
	go func() {
		if err := a.vm.OpenChat(a.ctx, id); err != nil {
			a.flash("Open failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetChatName(a.vm.ChatName(id))
			a.msgView.Clear()
			a.msgView.Update(a.vm.Messages(), a.vm.SenderName)
			a.msgView.ScrollToBottom()
			a.chatList.Update(a.vm.Chats())
			a.composer.SetPending(0)
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
			a.statusBar.SetHints(a.registry.HintLine("chat"))
			a.reportViewport()
		})
	}()
}

func (a *App) closeChat() {
	a.pages.SwitchToPage("chats")
	a.app.SetFocus(a.chatList)
	a.statusBar.SetHints(a.registry.HintLine("chats"))
	go func() {
		if err := a.vm.CloseChat(a.ctx); err != nil {
			a.flash("Close failed: " + err.Error())
		}
		a.loadChats(false)
	}()
}

// reportViewport must run on the UI goroutine.
func (a *App) reportViewport() {
	m := a.msgView.Metrics()
	go func() {
		if err := a.vm.ReportViewport(a.ctx, m); err != nil && a.ctx.Err() == nil {
			a.flash("Viewport update failed: " + err.Error())
		}
	}()
}

func (a *App) runCommand(cmd Command) {
	go func() {
		var err error
		switch cmd.Name {
		case "retry":
			err = a.vm.Retry(a.ctx, cmd.Args)
		case "discard":
			err = a.vm.Discard(a.ctx, cmd.Args)
		case "refresh":
			err = a.vm.Refresh(a.ctx)
		case "attach":
			err = a.attach(cmd.Args)
		case "close":
			a.app.QueueUpdateDraw(a.closeChat)
			return
		default:
			a.vm.Flash.Set("Unknown command: /"+cmd.Name, 3*time.Second)
		}
		if err != nil {
			a.vm.Flash.Set(cmd.Name+" failed: "+err.Error(), 5*time.Second)
		}
		a.app.QueueUpdateDraw(func() {
			a.composer.SetPending(a.vm.Pending())
			a.statusBar.SetFlash(a.vm.Flash.Get())
		})
	}()
}

func (a *App) attach(path string) error {
	if path == "" {
		return fmt.Errorf("usage: /attach <file>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	n := a.vm.Attach(chat.Upload{
		FileName: filepath.Base(path),
		FileType: mimetype.Detect(data).String(),
		Data:     data,
	})
	a.vm.Flash.Set(fmt.Sprintf("%d file(s) attached to the next message", n), 3*time.Second)
	return nil
}

func (a *App) loadChats(refresh bool) {
	go func() {
		if err := a.vm.LoadChats(a.ctx, refresh); err != nil {
			a.flash("Chat list failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(a.redrawChats)
	}()
}

func (a *App) redrawChats() {
	chats := a.vm.Chats()
	a.chatList.Update(chats)
	total := 0
	for _, c := range chats {
		total += c.UnreadCount
	}
	a.statusBar.SetUnread(total)
}

func (a *App) flash(msg string) {
	a.vm.Flash.Set(msg, 5*time.Second)
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		if err := a.vm.LoadStatus(a.ctx); err != nil {
			a.flash("Daemon status failed: " + err.Error())
		}
		a.loadChats(false)
		a.watchEvents()
		a.startStatusLoop()
	}()

	return a.app.Run()
}

// watchEvents applies daemon events in order. Message reloads happen on
// this goroutine so a following scroll request lands after the redraw.
func (a *App) watchEvents() {
	events, errc, err := a.daemon.WatchEvents(a.ctx, "", "")
	if err != nil {
		a.flash("Event stream failed: " + err.Error())
		return
	}
	go func() {
		for evt := range events {
			a.handleEvent(evt)
		}
		select {
		case err := <-errc:
			a.flash("Event stream closed: " + err.Error())
		default:
		}
	}()
}

func (a *App) handleEvent(evt api.Event) {
	switch a.vm.Apply(evt) {
	case model.ChangeMessages:
		if err := a.vm.ReloadMessages(a.ctx); err != nil {
			a.flash("Reload failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.Update(a.vm.Messages(), a.vm.SenderName)
		})
	case model.ChangeScrollToBottom:
		a.app.QueueUpdateDraw(func() {
			a.msgView.ScrollToBottom()
			a.reportViewport()
		})
	case model.ChangeChats:
		a.app.QueueUpdateDraw(a.redrawChats)
	case model.ChangeChatList:
		a.loadChats(false)
	}
}

func (a *App) startStatusLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			a.updatePush()
			select {
			case <-ticker.C:
				_ = a.vm.LoadStatus(a.ctx)
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) updatePush() {
	st := a.vm.Status()
	state := "polling"
	if st != nil && st.PushEnabled {
		state = "disconnected"
		if st.PushConnected {
			state = "connected"
		}
	}
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetPush(state)
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
