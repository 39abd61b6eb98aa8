// Package config holds the server settings and the watch configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultEscalationDelaySeconds = 120
	defaultReplyWindowSeconds     = 30 * 60
	defaultDuplicateTTLSeconds    = 24 * 60 * 60
	defaultTimezone               = "UTC"
)

// Transports.
const (
	TransportTelegram = "telegram"
	TransportDiscord  = "discord"
)

// Store backends.
const (
	StoreMemory    = "memory"
	StoreSQLite    = "sqlite"
	StoreDatastore = "datastore"
)

// ServerConfig holds server configuration from environment variables.
type ServerConfig struct {
	Transport         string
	BotToken          string
	DiscordBotToken   string
	DiscordGuildID    string
	APISigningKey     string
	GCPProject        string
	Store             string
	SQLitePath        string
	ConfigPath        string
	Port              string
	LogLevel          string
	SendRatePerSecond float64
}

// Token returns the bot token for the selected transport.
func (c *ServerConfig) Token() string {
	if c.Transport == TransportDiscord {
		return c.DiscordBotToken
	}
	return c.BotToken
}

// Validate checks the server settings.
func (c *ServerConfig) Validate() error {
	switch c.Transport {
	case TransportTelegram, TransportDiscord:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", c.Transport, TransportTelegram, TransportDiscord)
	}
	if c.Token() == "" {
		return fmt.Errorf("no bot token configured for transport %s", c.Transport)
	}
	switch c.Store {
	case StoreMemory, StoreDatastore:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.SendRatePerSecond < 0 {
		return errors.New("send rate cannot be negative")
	}
	return nil
}

// WatchConfig is the monitoring configuration, read from YAML and
// overridden by the environment.
type WatchConfig struct {
	Escalation EscalationConfig `yaml:"escalation"`
	Duplicates DuplicateConfig  `yaml:"duplicates"`
	Latency    LatencyConfig    `yaml:"latency"`
	Report     ReportConfig     `yaml:"report"`
	Timezone   string           `yaml:"timezone"`
	Team       []string         `yaml:"team"`
	Admins     []string         `yaml:"admins"`
	Paused     []string         `yaml:"paused"`
}

// EscalationConfig controls the unanswered-message alert.
type EscalationConfig struct {
	Target          string `yaml:"target"`
	DelaySeconds    int    `yaml:"delay_seconds"`
	ForwardOriginal *bool  `yaml:"forward_original"` // default true
}

// DuplicateConfig controls the cross-channel identifier warning.
type DuplicateConfig struct {
	TTLSeconds      int  `yaml:"ttl_seconds"`
	ForwardOriginal bool `yaml:"forward_original"`
}

// LatencyConfig controls reply-time sampling.
type LatencyConfig struct {
	ReplyWindowSeconds int `yaml:"reply_window_seconds"`
}

// ReportConfig controls the monthly ranking.
type ReportConfig struct {
	Monthly *bool    `yaml:"monthly"` // default true
	Allow   []string `yaml:"allow"`
}

// Default returns the configuration used when no file is given.
func Default() *WatchConfig {
	w := &WatchConfig{}
	w.applyDefaults()
	return w
}

func (w *WatchConfig) applyDefaults() {
	if w.Escalation.DelaySeconds == 0 {
		w.Escalation.DelaySeconds = defaultEscalationDelaySeconds
	}
	if w.Escalation.ForwardOriginal == nil {
		forward := true
		w.Escalation.ForwardOriginal = &forward
	}
	if w.Duplicates.TTLSeconds == 0 {
		w.Duplicates.TTLSeconds = defaultDuplicateTTLSeconds
	}
	if w.Latency.ReplyWindowSeconds == 0 {
		w.Latency.ReplyWindowSeconds = defaultReplyWindowSeconds
	}
	if w.Report.Monthly == nil {
		monthly := true
		w.Report.Monthly = &monthly
	}
	if w.Timezone == "" {
		w.Timezone = defaultTimezone
	}
}

// Load reads the watch configuration at path. An empty path yields Default().
func Load(path string) (*WatchConfig, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Info("watch config loaded",
		"path", path,
		"team", len(w.Team),
		"admins", len(w.Admins),
		"paused", len(w.Paused))
	return w, nil
}

// Parse decodes YAML, rejecting unknown keys, and applies defaults.
func Parse(data []byte) (*WatchConfig, error) {
	var w WatchConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&w); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	w.applyDefaults()
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// ApplyEnv overrides file values with the environment variables that are set.
func (w *WatchConfig) ApplyEnv(getenv func(string) string) error {
	if v := getenv("MAIN_GROUP_ID"); v != "" {
		w.Escalation.Target = strings.TrimSpace(v)
	}
	if v := getenv("TEAM_USERNAMES"); v != "" {
		w.Team = SplitList(v)
	}
	if v := getenv("ADMIN_IDS"); v != "" {
		w.Admins = SplitList(v)
	}
	if v := getenv("TIMEZONE"); v != "" {
		w.Timezone = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"ALERT_DELAY_SECONDS", &w.Escalation.DelaySeconds},
		{"REPLY_WINDOW_SECONDS", &w.Latency.ReplyWindowSeconds},
		{"DUPLICATE_TTL_SECONDS", &w.Duplicates.TTLSeconds},
	}
	for _, i := range ints {
		v := getenv(i.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", i.key, err)
		}
		*i.dst = n
	}
	return w.Validate()
}

// Validate checks value ranges and the timezone.
func (w *WatchConfig) Validate() error {
	if w.Escalation.DelaySeconds <= 0 {
		return fmt.Errorf("escalation delay must be positive, got %d", w.Escalation.DelaySeconds)
	}
	if w.Duplicates.TTLSeconds <= 0 {
		return fmt.Errorf("duplicate TTL must be positive, got %d", w.Duplicates.TTLSeconds)
	}
	if w.Latency.ReplyWindowSeconds <= 0 {
		return fmt.Errorf("reply window must be positive, got %d", w.Latency.ReplyWindowSeconds)
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", w.Timezone, err)
	}
	return nil
}

// EscalationDelay returns the debounce delay.
func (w *WatchConfig) EscalationDelay() time.Duration {
	return time.Duration(w.Escalation.DelaySeconds) * time.Second
}

// DuplicateTTL returns the identifier retention window.
func (w *WatchConfig) DuplicateTTL() time.Duration {
	return time.Duration(w.Duplicates.TTLSeconds) * time.Second
}

// ReplyWindow returns the longest reply time that still counts as a sample.
func (w *WatchConfig) ReplyWindow() time.Duration {
	return time.Duration(w.Latency.ReplyWindowSeconds) * time.Second
}

// Location returns the reporting timezone. Validate has already checked it.
func (w *WatchConfig) Location() *time.Location {
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ForwardEscalations reports whether alerts are followed by the original message.
func (w *WatchConfig) ForwardEscalations() bool {
	return w.Escalation.ForwardOriginal == nil || *w.Escalation.ForwardOriginal
}

// MonthlyReport reports whether the monthly ranking is posted automatically.
func (w *WatchConfig) MonthlyReport() bool {
	return w.Report.Monthly == nil || *w.Report.Monthly
}

// SplitList splits a comma or whitespace separated list of handles or ids,
// lower-casing entries and stripping a leading "@".
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.ToLower(strings.TrimPrefix(f, "@")); f != "" {
			out = append(out, f)
		}
	}
	return out
}
