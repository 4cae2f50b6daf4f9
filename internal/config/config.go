package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for nitrobot.
type Config struct {
	Log      LogConfig      `json:"log" yaml:"log"`
	Nitro    NitroConfig    `json:"nitro" yaml:"nitro"`
	Bot      BotConfig      `json:"bot" yaml:"bot"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	Audit    AuditConfig    `json:"audit" yaml:"audit"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug" | "info" | "warn" | "error"
	Format string `json:"format" yaml:"format"` // "text" | "json"
}

// NitroConfig points at the Nitro JSON-RPC backend.
type NitroConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	APIKey         string `json:"apiKey" yaml:"apiKey"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// Timeout returns the backend request timeout.
func (n NitroConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

type BotConfig struct {
	MaxFragmentLength     int `json:"maxFragmentLength" yaml:"maxFragmentLength"`
	TypingIntervalSeconds int `json:"typingIntervalSeconds" yaml:"typingIntervalSeconds"`
	HistoryLimit          int `json:"historyLimit" yaml:"historyLimit"` // 0 selects the default window
	Concurrency           int `json:"concurrency" yaml:"concurrency"`
	QueueSize             int `json:"queueSize" yaml:"queueSize"`
}

type ChannelsConfig struct {
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
}

type DiscordConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Token    string `json:"token" yaml:"token"`
	ClientID string `json:"clientId" yaml:"clientId"`
	GuildID  string `json:"guildId" yaml:"guildId"` // optional: register commands per guild
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"botToken" yaml:"botToken"`
	AppToken string `json:"appToken" yaml:"appToken"` // required for Socket Mode
}

// AuditConfig configures the ask ledger.
type AuditConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// ConfigurationError reports a required setting that is missing.
type ConfigurationError struct {
	Field  string
	EnvVar string
}

func (e *ConfigurationError) Error() string {
	if e.EnvVar == "" {
		return fmt.Sprintf("missing required setting %s", e.Field)
	}
	return fmt.Sprintf("missing required setting %s (set %s)", e.Field, e.EnvVar)
}

// DefaultConfigDir returns the default config directory (~/.nitrobot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nitrobot"
	}
	return filepath.Join(home, ".nitrobot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the config file at path, falling back to defaults when it does
// not exist, then applies environment overrides. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := readFile(path, true)
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the config file at path over the defaults exactly as
// written: ${VAR} placeholders stay unexpanded and environment overrides are
// not applied. Use it to edit and Save a file without persisting secrets
// that only live in the environment.
func LoadFile(path string) (*Config, error) {
	return readFile(path, false)
}

func readFile(path string, expand bool) (*Config, error) {
	path = ExpandPath(path)
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		if expand {
			// Substitute environment variables: ${VAR} and ${VAR:-default}
			data = []byte(ExpandEnvVars(string(data)))
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// envOverrides maps environment variables onto config fields.
var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"NITRO_BASE_URL", func(c *Config) *string { return &c.Nitro.BaseURL }},
	{"NITRO_API_KEY", func(c *Config) *string { return &c.Nitro.APIKey }},
	{"NITRO_MODEL", func(c *Config) *string { return &c.Nitro.Model }},
	{"DISCORD_TOKEN", func(c *Config) *string { return &c.Channels.Discord.Token }},
	{"DISCORD_CLIENT_ID", func(c *Config) *string { return &c.Channels.Discord.ClientID }},
	{"DISCORD_GUILD_ID", func(c *Config) *string { return &c.Channels.Discord.GuildID }},
	{"TELEGRAM_TOKEN", func(c *Config) *string { return &c.Channels.Telegram.Token }},
	{"SLACK_BOT_TOKEN", func(c *Config) *string { return &c.Channels.Slack.BotToken }},
	{"SLACK_APP_TOKEN", func(c *Config) *string { return &c.Channels.Slack.AppToken }},
	{"LOG_LEVEL", func(c *Config) *string { return &c.Log.Level }},
}

// ApplyEnv overwrites config fields with non-empty environment variables.
func ApplyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			*o.field(cfg) = v
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		if val := os.Getenv(groups[1]); val != "" {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

// Save writes cfg to path as YAML or JSON, matching the file extension.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	if cfg.Nitro.TimeoutSeconds < 1 || cfg.Nitro.TimeoutSeconds > 600 {
		errs = append(errs, "nitro.timeoutSeconds must be between 1 and 600")
	}
	if cfg.Bot.MaxFragmentLength < 1 || cfg.Bot.MaxFragmentLength > 4000 {
		errs = append(errs, "bot.maxFragmentLength must be between 1 and 4000")
	}
	if cfg.Bot.TypingIntervalSeconds < 1 {
		errs = append(errs, "bot.typingIntervalSeconds must be >= 1")
	}
	if cfg.Bot.HistoryLimit < 0 || cfg.Bot.HistoryLimit > 100 {
		errs = append(errs, "bot.historyLimit must be between 0 and 100")
	}
	if cfg.Bot.Concurrency < 1 || cfg.Bot.Concurrency > 100 {
		errs = append(errs, "bot.concurrency must be between 1 and 100")
	}
	if cfg.Bot.QueueSize < 1 {
		errs = append(errs, "bot.queueSize must be >= 1")
	}
	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retentionDays must be >= 0")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials reports every credential the enabled components need
// but do not have. Each missing setting is a *ConfigurationError.
func RequireCredentials(cfg *Config) error {
	var errs []error
	missing := func(value, field, env string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, &ConfigurationError{Field: field, EnvVar: env})
		}
	}

	missing(cfg.Nitro.BaseURL, "nitro.baseUrl", "NITRO_BASE_URL")
	missing(cfg.Nitro.APIKey, "nitro.apiKey", "NITRO_API_KEY")

	ch := cfg.Channels
	if ch.Discord.Enabled {
		missing(ch.Discord.Token, "channels.discord.token", "DISCORD_TOKEN")
		missing(ch.Discord.ClientID, "channels.discord.clientId", "DISCORD_CLIENT_ID")
	}
	if ch.Telegram.Enabled {
		missing(ch.Telegram.Token, "channels.telegram.token", "TELEGRAM_TOKEN")
	}
	if ch.Slack.Enabled {
		missing(ch.Slack.BotToken, "channels.slack.botToken", "SLACK_BOT_TOKEN")
		missing(ch.Slack.AppToken, "channels.slack.appToken", "SLACK_APP_TOKEN")
	}
	if !ch.Discord.Enabled && !ch.Telegram.Enabled && !ch.Slack.Enabled {
		errs = append(errs, &ConfigurationError{Field: "channels"})
	}
	return errors.Join(errs...)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
