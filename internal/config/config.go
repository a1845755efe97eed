package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// Duration is a time.Duration written as a string such as "3s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.aichat/config.toml.
type Config struct {
	BaseURL              string   `toml:"base_url"`
	SendRoute            string   `toml:"send_route"`
	ContactRoute         string   `toml:"contact_route"`
	MessagePollInterval  Duration `toml:"message_poll_interval"`
	ChatListPollInterval Duration `toml:"chat_list_poll_interval"`
	ChatListMinInterval  Duration `toml:"chat_list_min_interval"`
	HTTPTimeout          Duration `toml:"http_timeout"`
	LogLevel             string   `toml:"log_level"`
	DefaultProfile       string   `toml:"default_profile"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		BaseURL:              "http://127.0.0.1:8000",
		SendRoute:            "/workflows/send-message",
		ContactRoute:         "/workflows/contact",
		MessagePollInterval:  Duration{3 * time.Second},
		ChatListPollInterval: Duration{5 * time.Second},
		ChatListMinInterval:  Duration{3 * time.Second},
		LogLevel:             "info",
	}
}

// Load reads config from the given path on top of Default. Keys missing from
// the file keep their default. Returns error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q: must be an http(s) URL", c.BaseURL)
	}
	routes := []struct{ key, route string }{
		{"send_route", c.SendRoute},
		{"contact_route", c.ContactRoute},
	}
	for _, r := range routes {
		if !strings.HasPrefix(r.route, "/") {
			return fmt.Errorf("%s %q: must start with /", r.key, r.route)
		}
	}
	if c.MessagePollInterval.Duration <= 0 {
		return fmt.Errorf("message_poll_interval must be positive")
	}
	if c.ChatListPollInterval.Duration <= 0 {
		return fmt.Errorf("chat_list_poll_interval must be positive")
	}
	if c.ChatListMinInterval.Duration < 0 {
		return fmt.Errorf("chat_list_min_interval must not be negative")
	}
	if c.HTTPTimeout.Duration < 0 {
		return fmt.Errorf("http_timeout must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	return nil
}

// Level returns the configured log level, falling back to info.
func (c *Config) Level() zapcore.Level {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
