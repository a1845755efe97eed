package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/aichat/internal/store"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

// Default backend routes.
const (
	DefaultSendRoute    = "/workflows/send-message"
	JunjoSendRoute      = "/workflows-junjo/handle-message"
	DefaultContactRoute = "/workflows/contact"
	APIContactRoute     = "/api/contact"
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	SendRoute    string
	ContactRoute string
	Timeout      time.Duration // zero means no timeout
	HTTPClient   *http.Client  // overrides Timeout when set
}

// Client talks to the ai_chat REST backend. It is safe for concurrent use.
type Client struct {
	base         *url.URL
	sendRoute    string
	contactRoute string
	http         *http.Client
	log          *zap.Logger
	parsers      fastjson.ParserPool
}

// New creates a Client. log may be nil.
func New(opts Options, log *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", opts.BaseURL)
	}
	if log == nil {
		log = zap.NewNop()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	c := &Client{
		base:         base,
		sendRoute:    opts.SendRoute,
		contactRoute: opts.ContactRoute,
		http:         hc,
		log:          log,
	}
	if c.sendRoute == "" {
		c.sendRoute = DefaultSendRoute
	}
	if c.contactRoute == "" {
		c.contactRoute = DefaultContactRoute
	}
	return c, nil
}

// CreateContactResult is the backend's answer to contact creation: the new
// contact and the chat that was opened with it.
type CreateContactResult struct {
	Contact store.Contact
	Chat    store.Chat
}

// SendRequest is an outgoing message. ImageID is optional.
type SendRequest struct {
	ChatID  string
	Message string
	ImageID *string
}

// Image is raw image content.
type Image struct {
	ContentType string
	Data        []byte
}

// ListChatsWithMembers fetches every chat with its member roster.
func (c *Client) ListChatsWithMembers(ctx context.Context) ([]store.Chat, error) {
	const path = "/api/chat/with-members"
	body, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var chats []store.Chat
	err = c.parse(path, body, func(v *fastjson.Value) (err error) {
		chats, err = decodeList(v, decodeChat)
		return err
	})
	return chats, err
}

// ListContacts fetches every contact.
func (c *Client) ListContacts(ctx context.Context) ([]store.Contact, error) {
	const path = "/api/contact"
	body, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var contacts []store.Contact
	err = c.parse(path, body, func(v *fastjson.Value) (err error) {
		contacts, err = decodeList(v, decodeContact)
		return err
	})
	return contacts, err
}

// CreateContact asks the backend to create a contact of the given gender.
func (c *Client) CreateContact(ctx context.Context, gender store.Gender) (*CreateContactResult, error) {
	if !gender.Valid() {
		return nil, fmt.Errorf("invalid gender %q", gender)
	}
	path := c.contactRoute
	body, _, err := c.do(ctx, http.MethodPost, path, map[string]any{"gender": gender})
	if err != nil {
		return nil, err
	}
	var res CreateContactResult
	err = c.parse(path, body, func(v *fastjson.Value) error {
		if v.Type() != fastjson.TypeObject {
			return &shapeError{"(root)", "must be an object"}
		}
		cv, err := getObject(v, "", "contact")
		if err != nil {
			return err
		}
		if res.Contact, err = decodeContact(cv, "contact"); err != nil {
			return err
		}
		chv, err := getObject(v, "", "chat_with_members")
		if err != nil {
			return err
		}
		res.Chat, err = decodeChat(chv, "chat_with_members")
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListMessages fetches the full history of a chat.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]store.Message, error) {
	return c.listMessages(ctx, "/api/message/"+url.PathEscape(chatID))
}

// ListMessagesNewerThan fetches the messages of a chat created after messageID.
func (c *Client) ListMessagesNewerThan(ctx context.Context, chatID, messageID string) ([]store.Message, error) {
	return c.listMessages(ctx, "/api/message/newer-than/"+url.PathEscape(chatID)+"/"+url.PathEscape(messageID))
}

func (c *Client) listMessages(ctx context.Context, path string) ([]store.Message, error) {
	body, _, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var msgs []store.Message
	err = c.parse(path, body, func(v *fastjson.Value) (err error) {
		msgs, err = decodeList(v, decodeMessage)
		return err
	})
	return msgs, err
}

// SendMessage posts a message authored by the local user. The response body
// is not inspected.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) error {
	path := c.sendRoute + "/" + url.PathEscape(req.ChatID)
	payload := map[string]any{
		"chat_id":    req.ChatID,
		"contact_id": nil,
		"message":    req.Message,
		"image_id":   req.ImageID,
	}
	_, _, err := c.do(ctx, http.MethodPost, path, payload)
	return err
}

// FetchAvatar downloads a contact avatar.
func (c *Client) FetchAvatar(ctx context.Context, avatarID string) (*Image, error) {
	return c.fetchImage(ctx, "/api/avatar/"+url.PathEscape(avatarID))
}

// FetchChatImage downloads an image attached to a chat message.
func (c *Client) FetchChatImage(ctx context.Context, chatID, imageID string) (*Image, error) {
	return c.fetchImage(ctx, "/api/chat-image/"+url.PathEscape(chatID)+"/"+url.PathEscape(imageID))
}

func (c *Client) fetchImage(ctx context.Context, path string) (*Image, error) {
	body, header, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	ct := header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	return &Image{ContentType: ct, Data: body}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reqBody)
	if err != nil {
		return nil, nil, &TransportError{Method: method, Path: path, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("request_id", reqID),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	c.log.Debug("request",
		zap.String("request_id", reqID),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("took", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &TransportError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}
	if err != nil {
		return nil, nil, &TransportError{Method: method, Path: path, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, resp.Header, nil
}

// parse runs fn against the parsed body and converts shape failures into
// ValidationError.
func (c *Client) parse(path string, body []byte, fn func(*fastjson.Value) error) error {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return &ValidationError{Path: path, Reason: "body is not valid JSON"}
	}
	if err := fn(v); err != nil {
		var se *shapeError
		if errors.As(err, &se) {
			c.log.Warn("response validation failed",
				zap.String("path", path),
				zap.String("field", se.field),
				zap.String("reason", se.reason),
			)
			return &ValidationError{Path: path, Field: se.field, Reason: se.reason}
		}
		return err
	}
	return nil
}
