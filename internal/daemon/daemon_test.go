package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/aichat/internal/api"
	"github.com/matheus3301/aichat/internal/config"
	"github.com/matheus3301/aichat/internal/lock"
	"github.com/matheus3301/aichat/internal/profile"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch p := r.URL.Path; {
		case p == "/api/chat/with-members":
			_, _ = io.WriteString(w, `[{"id":"a","created_at":"2025-03-01T10:00:00",
				"last_message_time":"2025-03-01T12:00:00",
				"members":[{"contact_id":"c1","joined_at":"2025-03-01T10:00:00"}]}]`)
		case p == "/api/contact":
			_, _ = io.WriteString(w, `[{"id":"c1","created_at":"2025-03-01T10:00:00",
				"updated_at":"2025-03-01T10:00:00","gender":"MALE","first_name":"Bo",
				"last_name":"Diddley","age":40,"weight_lbs":180,"us_state":"IL",
				"city":"Chicago","bio":"guitar"}]`)
		case p == "/api/message/a":
			_, _ = io.WriteString(w, `[{"id":"m1","chat_id":"a","contact_id":"c1",
				"message":"hey","image_id":null,"created_at":"2025-03-01T12:00:00"}]`)
		case strings.HasPrefix(p, "/api/message/newer-than/"):
			_, _ = io.WriteString(w, `[]`)
		case strings.HasPrefix(p, "/workflows/send-message/"):
			_, _ = io.WriteString(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupHome points AICHAT_HOME at a short temporary directory and writes a
// config aimed at backendURL. Short paths keep the socket under the 104-char
// Unix socket limit on macOS.
func setupHome(t *testing.T, backendURL string) Params {
	t.Helper()
	home, err := os.MkdirTemp("/tmp", "aichat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(home) })
	t.Setenv(profile.HomeEnv, home)

	cfg := config.Default()
	cfg.BaseURL = backendURL
	cfg.MessagePollInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.ChatListPollInterval = config.Duration{Duration: time.Hour}
	cfg.ChatListMinInterval = config.Duration{}
	cfg.LogLevel = "warn"
	if err := config.Save(profile.ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	return Params{ProfileName: "test"}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonLifecycle(t *testing.T) {
	backend := fakeBackend(t)
	p := setupHome(t, backend.URL)

	app := fxtest.New(t, fx.NopLogger, Module(p))
	app.RequireStart()

	socketPath := profile.SocketPath(p.ProfileName)
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket perm = %o, want 600", perm)
	}

	client, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()
	ctx := context.Background()

	st, err := client.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Profile != "test" {
		t.Errorf("profile = %q, want test", st.Profile)
	}

	// The chat list refresh runs as soon as the daemon starts.
	waitFor(t, "chat list", func() bool {
		chats, err := client.ListChats(ctx)
		return err == nil && len(chats) == 1
	})

	contacts, err := client.ListContacts(ctx)
	if err != nil {
		t.Fatalf("ListContacts error = %v", err)
	}
	if len(contacts) != 1 || contacts[0].DisplayName() != "Bo Diddley" {
		t.Errorf("contacts = %+v", contacts)
	}

	if _, err := client.OpenChat(ctx, "a"); err != nil {
		t.Fatalf("OpenChat error = %v", err)
	}
	waitFor(t, "history", func() bool {
		msgs, err := client.ListMessages(ctx, "a", 0)
		return err == nil && len(msgs) == 1
	})
	waitFor(t, "watching state", func() bool {
		st, err := client.GetStatus(ctx)
		return err == nil && st.State == "WATCHING" && st.LatestMessageID == "m1"
	})

	if err := client.SendMessage(ctx, "a", "hello", nil); err != nil {
		t.Fatalf("SendMessage error = %v", err)
	}

	app.RequireStop()

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket not removed after stop: %v", err)
	}
	if _, err := os.Stat(filepath.Join(profile.Dir(p.ProfileName), lock.FileName)); !os.IsNotExist(err) {
		t.Errorf("lock not released after stop: %v", err)
	}
}

// TestReadStateSurvivesRestart verifies the last-read mapping is reloaded
// from the profile's state database by the next daemon.
func TestReadStateSurvivesRestart(t *testing.T) {
	backend := fakeBackend(t)
	p := setupHome(t, backend.URL)
	ctx := context.Background()
	socketPath := profile.SocketPath(p.ProfileName)

	app := fxtest.New(t, fx.NopLogger, Module(p))
	app.RequireStart()
	client, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	var first time.Time
	waitFor(t, "read state", func() bool {
		chats, err := client.ListChats(ctx)
		if err != nil || len(chats) != 1 {
			return false
		}
		first = chats[0].LastReadAt
		return !first.IsZero()
	})
	_ = client.Close()
	app.RequireStop()

	app = fxtest.New(t, fx.NopLogger, Module(p))
	app.RequireStart()
	defer app.RequireStop()
	client, err = api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = client.Close() }()

	waitFor(t, "chat list", func() bool {
		chats, err := client.ListChats(ctx)
		return err == nil && len(chats) == 1
	})
	chats, err := client.ListChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !chats[0].LastReadAt.Equal(first) {
		t.Errorf("LastReadAt = %v, want %v", chats[0].LastReadAt, first)
	}
}

func TestSecondDaemonForProfileFails(t *testing.T) {
	backend := fakeBackend(t)
	p := setupHome(t, backend.URL)

	app := fxtest.New(t, fx.NopLogger, Module(p))
	app.RequireStart()
	defer app.RequireStop()

	second := fx.New(fx.NopLogger, Module(p))
	err := second.Err()
	if err == nil {
		t.Fatal("second daemon should fail to start")
	}
	var held *lock.HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected HeldError, got %T: %v", err, err)
	}
	if held.Owner.PID != os.Getpid() {
		t.Errorf("owner PID = %d, want %d", held.Owner.PID, os.Getpid())
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	p := setupHome(t, "ftp://nope")

	app := fx.New(fx.NopLogger, Module(p))
	if app.Err() == nil {
		t.Fatal("expected config validation error")
	}
	if !strings.Contains(app.Err().Error(), "base_url") {
		t.Errorf("error = %v", app.Err())
	}
}
