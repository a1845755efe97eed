package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/aichat/internal/store"
	"github.com/stretchr/testify/require"
)

const chatsJSON = `[
  {"id":"a","created_at":"2025-03-01T10:00:00","last_message_time":"2025-03-01T12:30:00",
   "members":[{"contact_id":"c1","joined_at":"2025-03-01T10:00:00"}]}
]`

const contactJSON = `{"id":"c1","created_at":"2025-03-01T10:00:00","updated_at":"2025-03-01T10:00:00",
  "gender":"FEMALE","first_name":"Ada","last_name":"Lovelace","age":36,"weight_lbs":120.5,
  "us_state":"NY","city":"Albany","bio":"math"}`

const messagesJSON = `[
  {"id":"m1","chat_id":"a","contact_id":"c1","message":"hi","image_id":null,"created_at":"2025-03-01T12:00:00"},
  {"id":"m2","chat_id":"a","contact_id":null,"message":"yo","image_id":"img","created_at":"2025-03-01T12:30:00"}
]`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)
	return c
}

func TestListChatsWithMembers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/chat/with-members", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("X-Request-ID"))
		_, _ = io.WriteString(w, chatsJSON)
	})

	chats, err := c.ListChatsWithMembers(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "a", chats[0].ID)
	require.Equal(t, time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC), chats[0].LastMessageTime)
	require.Len(t, chats[0].Members, 1)
	require.Equal(t, "c1", chats[0].Members[0].ContactID)
}

func TestListContacts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/contact", r.URL.Path)
		_, _ = io.WriteString(w, "["+contactJSON+"]")
	})

	contacts, err := c.ListContacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	got := contacts[0]
	require.Equal(t, store.GenderFemale, got.Gender)
	require.Equal(t, 36, got.Age)
	require.InDelta(t, 120.5, got.WeightLbs, 0.001)
	require.Equal(t, "Ada Lovelace", got.DisplayName())
}

func TestListMessagesNewerThan(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/message/newer-than/a/m0", r.URL.Path)
		_, _ = io.WriteString(w, messagesJSON)
	})

	msgs, err := c.ListMessagesNewerThan(context.Background(), "a", "m0")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.False(t, msgs[0].FromMe())
	require.True(t, msgs[1].FromMe())
	require.Nil(t, msgs[0].ImageID)
	require.NotNil(t, msgs[1].ImageID)
	require.Equal(t, "img", *msgs[1].ImageID)
}

func TestCreateContact(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, DefaultContactRoute, r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "FEMALE", body["gender"])

		_, _ = io.WriteString(w, `{"contact":`+contactJSON+`,"chat_with_members":`+strings.Trim(chatsJSON, "[]\n ")+`}`)
	})

	res, err := c.CreateContact(context.Background(), store.GenderFemale)
	require.NoError(t, err)
	require.Equal(t, "c1", res.Contact.ID)
	require.Equal(t, "a", res.Chat.ID)

	_, err = c.CreateContact(context.Background(), store.Gender("OTHER"))
	require.Error(t, err)
}

func TestSendMessageBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, JunjoSendRoute+"/a", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "not even json")
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, SendRoute: JunjoSendRoute}, nil)
	require.NoError(t, err)

	require.NoError(t, c.SendMessage(context.Background(), SendRequest{ChatID: "a", Message: "hello"}))
	require.Equal(t, "a", got["chat_id"])
	require.Equal(t, "hello", got["message"])
	require.Contains(t, got, "contact_id")
	require.Nil(t, got["contact_id"])
	require.Contains(t, got, "image_id")
	require.Nil(t, got["image_id"])
}

func TestTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.ListContacts(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te), "want TransportError, got %T", err)
	require.Equal(t, http.StatusInternalServerError, te.StatusCode)
	require.Equal(t, "/api/contact", te.Path)

	var ve *ValidationError
	require.False(t, errors.As(err, &ve))
	require.Contains(t, Describe(err), "500")
}

func TestTransportErrorUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Options{BaseURL: url}, nil)
	require.NoError(t, err)

	_, err = c.ListChatsWithMembers(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.Zero(t, te.StatusCode)
	require.Contains(t, Describe(err), "Could not reach")
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `{oops`, ""},
		{"not an array", `{}`, "(root)"},
		{"missing id", `[{"chat_id":"a","contact_id":null,"message":"x","image_id":null,"created_at":"2025-03-01T12:00:00"}]`, "[0].id"},
		{"timezone suffix", `[{"id":"m","chat_id":"a","contact_id":null,"message":"x","image_id":null,"created_at":"2025-03-01T12:00:00Z"}]`, "[0].created_at"},
		{"fractional seconds", `[{"id":"m","chat_id":"a","contact_id":null,"message":"x","image_id":null,"created_at":"2025-03-01T12:00:00.123"}]`, "[0].created_at"},
		{"missing nullable", `[{"id":"m","chat_id":"a","message":"x","image_id":null,"created_at":"2025-03-01T12:00:00"}]`, "[0].contact_id"},
		{"wrong type", `[{"id":1,"chat_id":"a","contact_id":null,"message":"x","image_id":null,"created_at":"2025-03-01T12:00:00"}]`, "[0].id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.ListMessages(context.Background(), "a")
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			require.Equal(t, tt.field, ve.Field)
			require.Equal(t, "Invalid data received from server.", Describe(err))
		})
	}
}

func TestValidationNestedMemberField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"a","created_at":"2025-03-01T10:00:00","last_message_time":"2025-03-01T10:00:00",
			"members":[{"contact_id":"c1","joined_at":"yesterday"}]}]`)
	})

	_, err := c.ListChatsWithMembers(context.Background())
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "[0].members[0].joined_at", ve.Field)
}

func TestInvalidGender(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "["+strings.Replace(contactJSON, "FEMALE", "ROBOT", 1)+"]")
	})

	_, err := c.ListContacts(context.Background())
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "[0].gender", ve.Field)
}

func TestFetchChatImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat-image/a/img", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	})

	img, err := c.FetchChatImage(context.Background(), "a", "img")
	require.NoError(t, err)
	require.Equal(t, "image/png", img.ContentType)
	require.Equal(t, png, img.Data)
}

func TestRequestHonorsContext(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ListMessages(ctx, "a")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2024-12-31T23:59:59")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC), got)

	for _, bad := range []string{"", "2024-12-31", "2024-12-31 23:59:59", "2024-12-31T23:59:59+00:00", "2024-13-31T23:59:59"} {
		_, err := ParseTimestamp(bad)
		require.Error(t, err, bad)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://example.com"}, nil)
	require.Error(t, err)
	_, err = New(Options{BaseURL: "://nope"}, nil)
	require.Error(t, err)
}
