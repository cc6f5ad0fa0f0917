package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/unishare/unisync/internal/api"
	"github.com/unishare/unisync/internal/chat"
	"github.com/unishare/unisync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Commands that work without a running daemon.
	switch args[0] {
	case "init":
		cmdInit(name, args[1:])
		return
	case "profiles":
		cmdProfiles(*jsonFlag)
		return
	case "use":
		cmdUse(args[1:])
		return
	}

	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err))
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, args[1:], *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "chats":
		fs := flag.NewFlagSet("chats", flag.ExitOnError)
		refresh := fs.Bool("refresh", false, "reload the list from the server")
		_ = fs.Parse(args[1:])
		chats, err := c.ListChats(ctx, *refresh)
		if err != nil {
			fail(err)
		}
		out.chats(chats)
	case "open":
		view, err := c.OpenChat(ctx, arg(args, 1, "open <chat>"))
		if err != nil {
			fail(err)
		}
		out.view(view)
	case "close":
		if err := c.CloseChat(ctx); err != nil {
			fail(err)
		}
	case "messages":
		view, err := c.Messages(ctx, arg(args, 1, "messages <chat>"))
		if err != nil {
			fail(err)
		}
		out.view(view)
	case "send":
		cmdSend(ctx, c, args[1:], out)
	case "retry":
		res, err := c.Retry(ctx, arg(args, 1, "retry <chat> <local-id>"), arg(args, 2, "retry <chat> <local-id>"))
		if err != nil {
			fail(err)
		}
		out.outcome(res)
	case "discard":
		if err := c.Discard(ctx, arg(args, 1, "discard <chat> <local-id>"), arg(args, 2, "discard <chat> <local-id>")); err != nil {
			fail(err)
		}
	case "refresh":
		chatID := ""
		if len(args) > 1 {
			chatID = args[1]
		}
		fresh, err := c.Refresh(ctx, chatID)
		if err != nil {
			fail(err)
		}
		if out.json {
			outputJSON(fresh)
			return
		}
		fmt.Printf("%d new message(s)\n", len(fresh))
		for _, m := range fresh {
			printMessage(m)
		}
	case "watch-chat", "unwatch-chat":
		if err := c.WatchChat(ctx, arg(args, 1, args[0]+" <chat>"), args[0] == "watch-chat"); err != nil {
			fail(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: unisyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  init [flags]                  Create or update the profile")
	fmt.Fprintln(os.Stderr, "  use <profile>                 Make a profile the default")
	fmt.Fprintln(os.Stderr, "  profiles                      List profiles")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  chats [--refresh]             List chats")
	fmt.Fprintln(os.Stderr, "  open <chat>                   Open a chat and print it")
	fmt.Fprintln(os.Stderr, "  close                         Leave the active chat")
	fmt.Fprintln(os.Stderr, "  messages <chat>               Print a chat without fetching")
	fmt.Fprintln(os.Stderr, "  send [--attach f] <chat> <text>  Send a message")
	fmt.Fprintln(os.Stderr, "  retry <chat> <local-id>       Resend a failed message")
	fmt.Fprintln(os.Stderr, "  discard <chat> <local-id>     Drop a failed message")
	fmt.Fprintln(os.Stderr, "  refresh [chat]                Pull a chat now")
	fmt.Fprintln(os.Stderr, "  watch-chat <chat>             Receive pushes for a chat")
	fmt.Fprintln(os.Stderr, "  unwatch-chat <chat>           Stop receiving pushes for a chat")
	fmt.Fprintln(os.Stderr, "  watch [--chat id] [prefix]    Stream daemon events")
}

func cmdStatus(ctx context.Context, c *api.Client, out printer) {
	st, err := c.Status(ctx)
	if err != nil {
		fail(err)
	}
	if out.json {
		outputJSON(st)
		return
	}
	push := "disabled"
	if st.PushEnabled {
		push = "disconnected"
		if st.PushConnected {
			push = "connected"
		}
	}
	fmt.Printf("Profile: %s (user %s)\n", st.Profile, st.UserID)
	fmt.Printf("Uptime:  %s\n", st.Uptime.Round(time.Second))
	fmt.Printf("Push:    %s\n", push)
	fmt.Printf("Active:  %s\n", orDash(st.ActiveChat))
	fmt.Printf("Watched: %s\n", orDash(strings.Join(st.Watched, ", ")))
	if c := st.Cached; c != nil {
		fmt.Printf("Cache:   %d chats, %d messages, %d failed sends\n", c.Chats, c.Messages, c.Failed)
	} else {
		fmt.Println("Cache:   -")
	}
	fmt.Printf("Pulls:   %d (%d failed)  Pushes: %d  Sends: %d (%d failed)\n",
		st.Stats["pulls"], st.Stats["pull_failures"], st.Stats["pushes"], st.Stats["sends"], st.Stats["send_failures"])
}

type attachFlag []string

func (a *attachFlag) String() string     { return strings.Join(*a, ",") }
func (a *attachFlag) Set(v string) error { *a = append(*a, v); return nil }

func cmdSend(ctx context.Context, c *api.Client, args []string, out printer) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	var attach attachFlag
	fs.Var(&attach, "attach", "file to attach (repeatable)")
	_ = fs.Parse(args)
	rest := fs.Args()
	chatID := arg(rest, 0, "send <chat> <text>")
	content := strings.Join(rest[1:], " ")

	uploads, err := readUploads(attach)
	if err != nil {
		fail(err)
	}
	res, err := c.Send(ctx, chatID, content, uploads)
	if err != nil {
		fail(err)
	}
	out.outcome(res)
	if !res.OK {
		os.Exit(2)
	}
}

func readUploads(paths []string) ([]chat.Upload, error) {
	var uploads []chat.Upload
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		uploads = append(uploads, chat.Upload{
			FileName: filepath.Base(p),
			FileType: mimetype.Detect(data).String(),
			Data:     data,
		})
	}
	return uploads, nil
}

func cmdWatch(c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	chatID := fs.String("chat", "", "only events for this chat")
	_ = fs.Parse(args)
	prefix := ""
	if fs.NArg() > 0 {
		prefix = fs.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	events, errc, err := c.WatchEvents(ctx, prefix, *chatID)
	if err != nil {
		fail(err)
	}
	for evt := range events {
		if jsonOut {
			outputJSON(evt.Doc.AsMap())
			continue
		}
		fmt.Printf("%s %-22s %s\n", evt.At.Local().Format("15:04:05.000"), evt.Kind, describe(evt))
	}
	select {
	case err := <-errc:
		fail(err)
	default:
	}
}

func describe(evt api.Event) string {
	chatPart := ""
	if evt.ChatID != "" {
		chatPart = "chat=" + evt.ChatID + " "
	}
	switch {
	case strings.HasPrefix(evt.Kind, "message.merged"):
		return fmt.Sprintf("%s%d message(s)", chatPart, len(evt.Messages()))
	case strings.HasPrefix(evt.Kind, "message."):
		m, _ := evt.Message()
		s := fmt.Sprintf("%slocal=%s id=%s %q", chatPart, evt.Field("local_id"), orDash(m.ID), m.Content)
		if e := evt.Field("error"); e != "" {
			s += " error=" + e
		}
		return s
	case evt.Kind == "unread.changed":
		return fmt.Sprintf("%scount=%d", chatPart, evt.Count())
	case evt.Kind == "scroll.to_bottom":
		return chatPart + "trigger=" + evt.Field("trigger")
	case evt.Kind == "chat.state_changed":
		return fmt.Sprintf("%s%s -> %s", chatPart, evt.Field("from"), evt.Field("to"))
	default:
		return strings.TrimSpace(chatPart + evt.Field("error"))
	}
}

type printer struct {
	json bool
}

func (p printer) chats(chats []chat.Chat) {
	if p.json {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, c := range chats {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
		}
		fmt.Printf("%-6s %s%s\n", c.ID, c.Name, unread)
	}
}

func (p printer) view(v *api.ChatView) {
	if p.json {
		outputJSON(v)
		return
	}
	fmt.Printf("Chat %s [%s] unread=%d\n", v.ChatID, v.State, v.Unread)
	for _, m := range v.Messages {
		printMessage(m)
	}
}

func (p printer) outcome(o *api.SendOutcome) {
	if p.json {
		outputJSON(o)
		return
	}
	if o.OK {
		fmt.Printf("sent %s (local %s)\n", o.Message.ID, o.LocalID)
		return
	}
	fmt.Printf("failed (local %s): %s\n", o.LocalID, o.Err)
}

func printMessage(m chat.Message) {
	id := m.ID
	if id == "" {
		id = m.LocalID
	}
	mark := ""
	switch m.Status {
	case chat.Pending:
		mark = " [sending]"
	case chat.Failed:
		mark = " [failed]"
	}
	fmt.Printf("%s  %-6s user %-4s %s%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), id, m.UserID, m.Content, mark)
	for _, a := range m.Attachments {
		fmt.Printf("%20s+ %s (%d bytes)\n", "", a.FileName, a.FileSize)
	}
}

func arg(args []string, i int, usage string) string {
	if len(args) <= i || args[i] == "" {
		fmt.Fprintf(os.Stderr, "usage: unisyncctl %s\n", usage)
		os.Exit(1)
	}
	return args[i]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
