package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env overrides for secrets, so credentials can stay out of the config file.
const (
	envWebhookURL     = "DIGESTBOT_WEBHOOK_URL"
	envTelegramToken  = "DIGESTBOT_TELEGRAM_TOKEN"
	envTelegramChatID = "DIGESTBOT_TELEGRAM_CHAT_ID"
	envSummarizeKey   = "DIGESTBOT_SUMMARIZE_API_KEY"
)

// Config is the full on-disk configuration. YAML files are coerced to JSON
// before decoding, so the JSON tags below name the accepted keys for both
// formats.
type Config struct {
	Log       LogConfig       `json:"log"`
	Storage   StorageConfig   `json:"storage"`
	Sources   []SourceConfig  `json:"sources"`
	Summarize SummarizeConfig `json:"summarize"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Schedule  ScheduleConfig  `json:"schedule"`
}

type LogConfig struct {
	Level   string        `json:"level"`
	Console *bool         `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

type SourceConfig struct {
	Key   string   `json:"key"`
	Title string   `json:"title"`
	Kind  string   `json:"kind"`
	Feeds []string `json:"feeds"`
	Limit int      `json:"limit"`
}

type SummarizeConfig struct {
	Enabled      bool   `json:"enabled"`
	Endpoint     string `json:"endpoint"`
	Model        string `json:"model"`
	APIKey       string `json:"api_key"`
	SystemPrompt string `json:"system_prompt"`
	Timeout      string `json:"timeout"`
}

type DeliveryConfig struct {
	Transport  string         `json:"transport"`
	WebhookURL string         `json:"webhook_url"`
	Telegram   TelegramConfig `json:"telegram"`
	ChunkLimit int            `json:"chunk_limit"`
	Spacing    string         `json:"spacing"`
	Retry      RetryConfig    `json:"retry"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

type RetryConfig struct {
	MaxRetries int    `json:"max_retries"`
	BaseDelay  string `json:"base_delay"`
	MaxDelay   string `json:"max_delay"`
	Jitter     *bool  `json:"jitter"`
}

type ScheduleConfig struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"`
}

// ConsoleEnabled defaults to true when the key is absent.
func (l LogConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// JitterEnabled defaults to true when the key is absent.
func (r RetryConfig) JitterEnabled() bool {
	return r.Jitter == nil || *r.Jitter
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./digestbot.cache.json"
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}
	if c.Delivery.Transport == "" {
		c.Delivery.Transport = "webhook"
	}
	if c.Delivery.Spacing == "" {
		c.Delivery.Spacing = "1s"
	}
	if c.Delivery.Retry.MaxRetries == 0 {
		c.Delivery.Retry.MaxRetries = 3
	}
	if c.Delivery.Retry.BaseDelay == "" {
		c.Delivery.Retry.BaseDelay = "500ms"
	}
	if c.Delivery.Retry.MaxDelay == "" {
		c.Delivery.Retry.MaxDelay = "10s"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(envWebhookURL); v != "" {
		c.Delivery.WebhookURL = v
	}
	if v := os.Getenv(envTelegramToken); v != "" {
		c.Delivery.Telegram.Token = v
	}
	if v := os.Getenv(envTelegramChatID); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Delivery.Telegram.ChatID = id
		}
	}
	if v := os.Getenv(envSummarizeKey); v != "" {
		c.Summarize.APIKey = v
	}
}

// Validate rejects configurations the run could only fail on later.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return errors.New("config: at least one source is required")
	}
	seen := map[string]bool{}
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("config: sources[%d]: key is required", i)
		}
		if seen[s.Key] {
			return fmt.Errorf("config: duplicate source key %q", s.Key)
		}
		seen[s.Key] = true
		if len(s.Feeds) == 0 {
			return fmt.Errorf("config: source %q: feeds is required", s.Key)
		}
	}

	switch c.Delivery.Transport {
	case "webhook":
		if strings.TrimSpace(c.Delivery.WebhookURL) == "" {
			return errors.New("config: delivery.webhook_url is required for the webhook transport")
		}
	case "telegram":
		if strings.TrimSpace(c.Delivery.Telegram.Token) == "" {
			return errors.New("config: delivery.telegram.token is required for the telegram transport")
		}
		if c.Delivery.Telegram.ChatID == 0 {
			return errors.New("config: delivery.telegram.chat_id is required for the telegram transport")
		}
	default:
		return fmt.Errorf("config: unknown delivery transport %q", c.Delivery.Transport)
	}

	for _, field := range []struct{ path, raw string }{
		{"delivery.spacing", c.Delivery.Spacing},
		{"delivery.retry.base_delay", c.Delivery.Retry.BaseDelay},
		{"delivery.retry.max_delay", c.Delivery.Retry.MaxDelay},
		{"summarize.timeout", c.Summarize.Timeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	if c.Delivery.Retry.MaxRetries < 0 {
		return errors.New("config: delivery.retry.max_retries must be >= 0")
	}
	return nil
}

// ParseDurationField parses a duration-typed config value. Empty means unset
// and yields zero; negative durations are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("config: %s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("config: %s: negative duration %s", path, d)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for unset
// fields.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
