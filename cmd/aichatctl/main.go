package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/aichat/internal/api"
	"github.com/matheus3301/aichat/internal/lock"
	"github.com/matheus3301/aichat/internal/profile"
	"github.com/matheus3301/aichat/internal/remote"
	"github.com/matheus3301/aichat/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var (
	profileName string
	jsonOut     bool
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profileName = profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	jsonOut = *jsonFlag

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(profile.SocketPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profileName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	// watch runs until interrupted.
	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(ctx, c, prefix)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c)
	case "chats":
		cmdChats(ctx, c)
	case "contacts":
		cmdContacts(ctx, c)
	case "messages":
		need(args, 2, "messages <chat_id> [limit]")
		limit := 0
		if len(args) > 2 {
			if limit, err = strconv.Atoi(args[2]); err != nil {
				fail(fmt.Errorf("invalid limit %q", args[2]))
			}
		}
		cmdMessages(ctx, c, args[1], limit)
	case "open":
		need(args, 2, "open <chat_id>")
		cmdOpen(ctx, c, args[1])
	case "close":
		cmdOpen(ctx, c, "")
	case "send":
		need(args, 3, "send <chat_id> <text...>")
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "))
	case "read":
		need(args, 2, "read <chat_id>")
		cmdRead(ctx, c, args[1])
	case "refresh":
		cmdRefresh(ctx, c, len(args) > 1 && args[1] == "--force")
	case "new-contact":
		need(args, 2, "new-contact <MALE|FEMALE>")
		cmdNewContact(ctx, c, store.Gender(strings.ToUpper(args[1])))
	case "avatar":
		need(args, 3, "avatar <avatar_id> <out_file>")
		cmdImage(args[2], func() (*remote.Image, error) {
			return c.FetchAvatar(ctx, args[1])
		})
	case "image":
		need(args, 4, "image <chat_id> <image_id> <out_file>")
		cmdImage(args[3], func() (*remote.Image, error) {
			return c.FetchChatImage(ctx, args[1], args[2])
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: aichatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                              Show daemon status")
	fmt.Fprintln(os.Stderr, "  chats                               List chats, newest first")
	fmt.Fprintln(os.Stderr, "  contacts                            List contacts")
	fmt.Fprintln(os.Stderr, "  messages <chat_id> [limit]          Show cached messages")
	fmt.Fprintln(os.Stderr, "  open <chat_id>                      Start watching a chat")
	fmt.Fprintln(os.Stderr, "  close                               Stop watching the open chat")
	fmt.Fprintln(os.Stderr, "  send <chat_id> <text...>            Send a message")
	fmt.Fprintln(os.Stderr, "  read <chat_id>                      Mark a chat read")
	fmt.Fprintln(os.Stderr, "  refresh [--force]                   Refresh the chat list")
	fmt.Fprintln(os.Stderr, "  new-contact <MALE|FEMALE>           Create a contact and its chat")
	fmt.Fprintln(os.Stderr, "  avatar <avatar_id> <out_file>       Download a contact avatar")
	fmt.Fprintln(os.Stderr, "  image <chat_id> <image_id> <out>    Download a chat image")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                      Stream daemon events")
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: aichatctl %s\n", usage)
		os.Exit(1)
	}
}

// fail prints err and exits. An unreachable daemon gets a hint based on the
// profile lock.
func fail(err error) {
	if st, ok := grpcstatus.FromError(err); ok {
		if st.Code() == codes.Unavailable && strings.Contains(st.Message(), "connect") {
			if owner, lerr := lock.ReadOwner(profile.Dir(profileName)); lerr == nil {
				fmt.Fprintf(os.Stderr, "error: daemon PID %d for profile %q is not answering\n", owner.PID, profileName)
			} else {
				fmt.Fprintf(os.Stderr, "error: daemon for profile %q is not running (start aichatd)\n", profileName)
			}
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "error: %s\n", st.Message())
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(ctx context.Context, c *api.Client) {
	st, err := c.GetStatus(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Profile:     %s\n", st.Profile)
	if st.ActiveChatID != "" {
		fmt.Printf("Open chat:   %s (%s, latest %s)\n", st.ActiveChatID, st.State, orDash(st.LatestMessageID))
	} else {
		fmt.Println("Open chat:   -")
	}
	fmt.Printf("Chats:       %d\n", st.Chats)
	fmt.Printf("Contacts:    %d\n", st.Contacts)
	fmt.Printf("Messages:    %d\n", st.Messages)
	fmt.Printf("Refreshed:   %s\n", formatTime(st.LastChatRefresh))
	for scope, msg := range st.Errors {
		fmt.Printf("Error [%s]: %s\n", scope, msg)
	}
}

func cmdChats(ctx context.Context, c *api.Client) {
	chats, err := c.ListChats(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, ch := range chats {
		mark := " "
		if ch.Unread {
			mark = "*"
		}
		members := make([]string, len(ch.Members))
		for i, m := range ch.Members {
			members[i] = m.ContactID
		}
		fmt.Printf("%s %-36s %s  [%s]\n", mark, ch.ID, formatTime(ch.LastMessageTime), strings.Join(members, ", "))
	}
}

func cmdContacts(ctx context.Context, c *api.Client) {
	contacts, err := c.ListContacts(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(contacts)
		return
	}
	if len(contacts) == 0 {
		fmt.Println("No contacts.")
		return
	}
	for _, ct := range contacts {
		fmt.Printf("%-36s %-24s %-6s %3d  %s, %s\n", ct.ID, ct.DisplayName(), ct.Gender, ct.Age, ct.City, ct.USState)
	}
}

func cmdMessages(ctx context.Context, c *api.Client, chatID string, limit int) {
	msgs, err := c.ListMessages(ctx, chatID, limit)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	if len(msgs) == 0 {
		fmt.Println("No messages cached. Open the chat to load its history.")
		return
	}
	for _, m := range msgs {
		from := "me"
		if !m.FromMe() {
			from = *m.ContactID
		}
		line := m.Body
		if m.ImageID != nil {
			line += fmt.Sprintf(" [image %s]", *m.ImageID)
		}
		fmt.Printf("%s  %-12s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), from, line)
	}
}

func cmdOpen(ctx context.Context, c *api.Client, chatID string) {
	state, err := c.OpenChat(ctx, chatID)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]string{"chat_id": chatID, "state": state})
		return
	}
	if chatID == "" {
		fmt.Println("Closed.")
		return
	}
	fmt.Printf("Watching %s (%s)\n", chatID, state)
}

func cmdSend(ctx context.Context, c *api.Client, chatID, text string) {
	if err := c.SendMessage(ctx, chatID, text, nil); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]bool{"accepted": true})
		return
	}
	fmt.Println("Sent.")
}

func cmdRead(ctx context.Context, c *api.Client, chatID string) {
	changed, err := c.MarkChatRead(ctx, chatID)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]bool{"changed": changed})
		return
	}
	if changed {
		fmt.Println("Marked read.")
	} else {
		fmt.Println("Already read.")
	}
}

func cmdRefresh(ctx context.Context, c *api.Client, force bool) {
	refreshed, err := c.RefreshChats(ctx, force)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]bool{"refreshed": refreshed})
		return
	}
	if refreshed {
		fmt.Println("Chat list refreshed.")
	} else {
		fmt.Println("Refreshed recently, skipped. Use --force to refresh anyway.")
	}
}

func cmdNewContact(ctx context.Context, c *api.Client, gender store.Gender) {
	res, err := c.CreateContact(ctx, gender)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(res)
		return
	}
	fmt.Printf("Created %s (%s), chat %s\n", res.Contact.DisplayName(), res.Contact.ID, res.Chat.ID)
}

func cmdImage(out string, fetch func() (*remote.Image, error)) {
	img, err := fetch()
	if err != nil {
		fail(err)
	}
	if err := os.WriteFile(out, img.Data, 0600); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]any{"path": out, "content_type": img.ContentType, "bytes": len(img.Data)})
		return
	}
	fmt.Printf("Wrote %d bytes (%s) to %s\n", len(img.Data), img.ContentType, out)
}

func cmdWatch(ctx context.Context, c *api.Client, prefix string) {
	err := c.WatchEvents(ctx, prefix, func(e api.Event) error {
		if jsonOut {
			outputJSON(e)
			return nil
		}
		payload, _ := json.Marshal(e.Payload)
		fmt.Printf("%s  %-22s %s\n", e.OccurredAt.Local().Format("15:04:05.000"), e.Kind, payload)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fail(err)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
