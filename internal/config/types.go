package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full application configuration. It is read from an optional
// YAML file and finished with environment overrides; see Load.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Schedule ScheduleConfig `json:"schedule"`
	Storage  StorageConfig  `json:"storage"`
	Admin    AdminConfig    `json:"admin"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outbound sends.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// GroupChatID optionally restricts group commands to one home group.
	GroupChatID int64 `json:"group_chat_id,omitempty"`
	// BulletinChatID overrides the persisted bulletin setting when set.
	BulletinChatID int64 `json:"bulletin_chat_id,omitempty"`
	// GroupLog is the chat receiving the Telegram log sink, if enabled.
	GroupLog int64 `json:"group_log,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type ScheduleConfig struct {
	// DefaultTZ is the fallback zone for new members and unresolvable
	// stored zones.
	DefaultTZ string `json:"default_tz,omitempty"`
	// PromptText replaces the built-in check-in prompt when set.
	PromptText string `json:"prompt_text,omitempty"`
	// PromptTimeout is a Go duration string bounding one prompt delivery.
	PromptTimeout string `json:"prompt_timeout,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// AdminConfig names the privileged callers beyond platform-native group
// admins: explicit user IDs, and the legacy variant, usernames matched
// case-insensitively.
type AdminConfig struct {
	UserIDs   []int64  `json:"user_ids,omitempty"`
	Usernames []string `json:"usernames,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.Telegram.PollTimeout == "" {
		c.Telegram.PollTimeout = "10s"
	}
	if c.Telegram.RatePerSec <= 0 {
		c.Telegram.RatePerSec = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Schedule.DefaultTZ == "" {
		c.Schedule.DefaultTZ = "America/Chicago"
	}
	if c.Schedule.PromptTimeout == "" {
		c.Schedule.PromptTimeout = "30s"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/ackbot.db"
	}
}

// Validate rejects configurations the app cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required (set telegram.token or ACKBOT_TOKEN)")
	}
	if _, err := time.LoadLocation(c.Schedule.DefaultTZ); err != nil {
		return fmt.Errorf("schedule.default_tz: %w", err)
	}
	for _, field := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"schedule.prompt_timeout", c.Schedule.PromptTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses an optional Go duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
