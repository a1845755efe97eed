package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/aichat/internal/remote"
	"github.com/matheus3301/aichat/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a typed client for a daemon's ChatSync service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusInfo mirrors the daemon's GetStatus response.
type StatusInfo struct {
	Profile         string
	ActiveChatID    string
	State           string
	LatestMessageID string
	Errors          map[string]string
	Chats           int
	Contacts        int
	Messages        int
	LastChatRefresh time.Time
}

// ChatInfo is a chat as listed by the daemon.
type ChatInfo struct {
	store.Chat
	Unread     bool      `json:"unread"`
	LastReadAt time.Time `json:"last_read_at"`
}

// Event is one event from WatchEvents.
type Event struct {
	ID         string         `json:"event_id"`
	Profile    string         `json:"profile"`
	Kind       string         `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func (c *Client) GetStatus(ctx context.Context) (*StatusInfo, error) {
	out, err := c.call(ctx, MethodGetStatus, map[string]any{})
	if err != nil {
		return nil, err
	}
	st := &StatusInfo{
		Profile:         getString(out, "profile"),
		ActiveChatID:    getString(out, "active_chat_id"),
		State:           getString(out, "state"),
		LatestMessageID: getString(out, "latest_message_id"),
		Errors:          make(map[string]string),
		Chats:           int(getInt(out, "chats")),
		Contacts:        int(getInt(out, "contacts")),
		Messages:        int(getInt(out, "messages")),
		LastChatRefresh: fromMillis(getInt(out, "last_chat_refresh")),
	}
	for k, v := range getStruct(out, "errors").GetFields() {
		st.Errors[k] = v.GetStringValue()
	}
	return st, nil
}

func (c *Client) ListChats(ctx context.Context) ([]ChatInfo, error) {
	out, err := c.call(ctx, MethodListChats, map[string]any{})
	if err != nil {
		return nil, err
	}
	var chats []ChatInfo
	for _, v := range getList(out, "chats") {
		s := v.GetStructValue()
		chats = append(chats, ChatInfo{
			Chat:       chatFromStruct(s),
			Unread:     getBool(s, "unread"),
			LastReadAt: fromMillis(getInt(s, "last_read_at")),
		})
	}
	return chats, nil
}

func (c *Client) ListContacts(ctx context.Context) ([]store.Contact, error) {
	out, err := c.call(ctx, MethodListContacts, map[string]any{})
	if err != nil {
		return nil, err
	}
	var contacts []store.Contact
	for _, v := range getList(out, "contacts") {
		contacts = append(contacts, contactFromStruct(v.GetStructValue()))
	}
	return contacts, nil
}

// ListMessages returns the cached messages of a chat, oldest first. A
// positive limit keeps only the newest limit messages.
func (c *Client) ListMessages(ctx context.Context, chatID string, limit int) ([]store.Message, error) {
	out, err := c.call(ctx, MethodListMessages, map[string]any{"chat_id": chatID, "limit": limit})
	if err != nil {
		return nil, err
	}
	var msgs []store.Message
	for _, v := range getList(out, "messages") {
		msgs = append(msgs, messageFromStruct(v.GetStructValue()))
	}
	return msgs, nil
}

// OpenChat makes chatID the active chat. An empty id closes the active chat.
// Returns the chat's synchronization state.
func (c *Client) OpenChat(ctx context.Context, chatID string) (string, error) {
	out, err := c.call(ctx, MethodOpenChat, map[string]any{"chat_id": chatID})
	if err != nil {
		return "", err
	}
	return getString(out, "state"), nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, text string, imageID *string) error {
	req := map[string]any{"chat_id": chatID, "message": text}
	if imageID != nil {
		req["image_id"] = *imageID
	}
	_, err := c.call(ctx, MethodSendMessage, req)
	return err
}

func (c *Client) MarkChatRead(ctx context.Context, chatID string) (bool, error) {
	out, err := c.call(ctx, MethodMarkChatRead, map[string]any{"chat_id": chatID})
	if err != nil {
		return false, err
	}
	return getBool(out, "changed"), nil
}

func (c *Client) RefreshChats(ctx context.Context, force bool) (bool, error) {
	out, err := c.call(ctx, MethodRefreshChats, map[string]any{"force": force})
	if err != nil {
		return false, err
	}
	return getBool(out, "refreshed"), nil
}

func (c *Client) CreateContact(ctx context.Context, gender store.Gender) (*remote.CreateContactResult, error) {
	out, err := c.call(ctx, MethodCreateContact, map[string]any{"gender": string(gender)})
	if err != nil {
		return nil, err
	}
	return &remote.CreateContactResult{
		Contact: contactFromStruct(getStruct(out, "contact")),
		Chat:    chatFromStruct(getStruct(out, "chat")),
	}, nil
}

// FetchChatImage downloads an image attached to a message through the daemon.
func (c *Client) FetchChatImage(ctx context.Context, chatID, imageID string) (*remote.Image, error) {
	return c.fetchImage(ctx, map[string]any{"chat_id": chatID, "image_id": imageID})
}

// FetchAvatar downloads a contact avatar through the daemon.
func (c *Client) FetchAvatar(ctx context.Context, avatarID string) (*remote.Image, error) {
	return c.fetchImage(ctx, map[string]any{"avatar_id": avatarID})
}

func (c *Client) fetchImage(ctx context.Context, req map[string]any) (*remote.Image, error) {
	out, err := c.call(ctx, MethodFetchImage, req)
	if err != nil {
		return nil, err
	}
	// structpb carries bytes as base64 strings.
	data, err := base64.StdEncoding.DecodeString(getString(out, "data"))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &remote.Image{ContentType: getString(out, "content_type"), Data: data}, nil
}

// WatchEvents streams events whose kind starts with prefix to fn until ctx
// ends, the stream fails, or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, prefix string, fn func(Event) error) error {
	desc := &ServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, FullMethod(MethodWatchEvents))
	if err != nil {
		return err
	}
	in, err := structpb.NewStruct(map[string]any{"prefix": prefix})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		out := new(structpb.Struct)
		if err := stream.RecvMsg(out); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}
		evt := Event{
			ID:         getString(out, "event_id"),
			Profile:    getString(out, "profile"),
			Kind:       getString(out, "kind"),
			OccurredAt: fromMillis(getInt(out, "occurred_at")),
			Payload:    getStruct(out, "payload").AsMap(),
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
