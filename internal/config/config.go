package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/threadkeeper/internal/thread"
)

// Config is the top-level threadkeeper configuration.
type Config struct {
	Discord DiscordConfig `json:"discord" yaml:"discord"`
	Sync    SyncConfig    `json:"sync" yaml:"sync"`
	List    ListConfig    `json:"list" yaml:"list"`
	API     APIConfig     `json:"api" yaml:"api"`
	// Webhooks maps endpoint names to credentials for POST /api/webhook/{name}.
	Webhooks map[string]WebhookConfig `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`
}

// DiscordConfig holds the bot credentials.
type DiscordConfig struct {
	Token string `json:"token" yaml:"token"`
	// GuildID scopes command registration to one guild. Empty registers
	// global commands.
	GuildID string `json:"guild_id,omitempty" yaml:"guild_id,omitempty"`
}

// SyncConfig controls status glyph synchronization.
type SyncConfig struct {
	Channels []string `json:"channels" yaml:"channels"` // parent channel names, case-insensitive
	// ReconcileSchedule is a standard cron expression. Empty disables the sweep.
	ReconcileSchedule string  `json:"reconcile_schedule,omitempty" yaml:"reconcile_schedule,omitempty"`
	RenameRate        float64 `json:"rename_rate,omitempty" yaml:"rename_rate,omitempty"` // renames per second during a sweep
	RenameBurst       int     `json:"rename_burst,omitempty" yaml:"rename_burst,omitempty"`
}

// ListConfig holds /list limits.
type ListConfig struct {
	Limit           int `json:"limit,omitempty" yaml:"limit,omitempty"`
	ParticipantScan int `json:"participant_scan,omitempty" yaml:"participant_scan,omitempty"`
	ParticipantShow int `json:"participant_show,omitempty" yaml:"participant_show,omitempty"`
}

// APIConfig holds REST API server settings. Port 0 disables the server.
type APIConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	Key  string `json:"api_key" yaml:"api_key"`
}

// WebhookConfig authenticates one webhook endpoint by HMAC secret or
// bearer token.
type WebhookConfig struct {
	Secret      string `json:"secret,omitempty" yaml:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty" yaml:"bearer_token,omitempty"`
}

// Defaults applied to zero-valued fields.
const (
	DefaultListLimit       = 5
	DefaultParticipantScan = 50
	DefaultParticipantShow = 5
	DefaultRenameRate      = 1.0
	DefaultRenameBurst     = 5

	MaxListLimit       = 10
	MaxParticipantShow = 10
)

// Load reads configuration from a JSON or YAML file, chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := parse(path, data)
	if err != nil {
		return nil, err
	}
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = discordTokenFromEnv()
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(name string, data []byte) (*Config, error) {
	var cfg Config
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", name, err)
		}
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// LoadFromEnv builds a config from environment variables with the
// THREADKEEPER_ prefix, after loading .env from the working directory.
func LoadFromEnv() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Discord: DiscordConfig{
			Token:   discordTokenFromEnv(),
			GuildID: os.Getenv("THREADKEEPER_GUILD_ID"),
		},
		Sync: SyncConfig{
			Channels:          parseList(os.Getenv("THREADKEEPER_CHANNELS")),
			ReconcileSchedule: os.Getenv("THREADKEEPER_RECONCILE_SCHEDULE"),
			RenameRate:        getenvFloat("THREADKEEPER_RENAME_RATE", 0),
			RenameBurst:       getenvInt("THREADKEEPER_RENAME_BURST", 0),
		},
		List: ListConfig{
			Limit:           getenvInt("THREADKEEPER_LIST_LIMIT", 0),
			ParticipantScan: getenvInt("THREADKEEPER_PARTICIPANT_SCAN", 0),
			ParticipantShow: getenvInt("THREADKEEPER_PARTICIPANT_SHOW", 0),
		},
		API: APIConfig{
			Host: getenv("THREADKEEPER_API_HOST", "0.0.0.0"),
			Port: getenvInt("THREADKEEPER_API_PORT", 8080),
			Key:  os.Getenv("THREADKEEPER_API_KEY"),
		},
	}
	cfg.applyDefaults()
	return cfg, nil
}

func discordTokenFromEnv() string {
	if v := os.Getenv("THREADKEEPER_DISCORD_TOKEN"); v != "" {
		return v
	}
	return os.Getenv("DISCORD_BOT_TOKEN")
}

func (c *Config) applyDefaults() {
	if len(c.Sync.Channels) == 0 {
		c.Sync.Channels = append([]string(nil), thread.DefaultChannels...)
	}
	if c.Sync.RenameRate == 0 {
		c.Sync.RenameRate = DefaultRenameRate
	}
	if c.Sync.RenameBurst == 0 {
		c.Sync.RenameBurst = DefaultRenameBurst
	}
	if c.List.Limit == 0 {
		c.List.Limit = DefaultListLimit
	}
	if c.List.ParticipantScan == 0 {
		c.List.ParticipantScan = DefaultParticipantScan
	}
	if c.List.ParticipantShow == 0 {
		c.List.ParticipantShow = DefaultParticipantShow
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Discord.Token == "" {
		errs = append(errs, "discord.token is required (or set DISCORD_BOT_TOKEN)")
	}
	if len(c.Sync.Channels) == 0 {
		errs = append(errs, "sync.channels must name at least one channel")
	}
	for i, name := range c.Sync.Channels {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Sprintf("sync.channels[%d] is empty", i))
		}
	}
	if c.Sync.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.Sync.ReconcileSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("sync.reconcile_schedule: %v", err))
		}
	}
	if c.Sync.RenameRate < 0 {
		errs = append(errs, "sync.rename_rate must not be negative")
	}
	if c.Sync.RenameBurst < 0 {
		errs = append(errs, "sync.rename_burst must not be negative")
	}

	// /list answers with one embed of at most 6000 characters; 10 threads
	// with 10 mentions each stay below it. A history page holds 100 messages.
	if c.List.Limit < 0 || c.List.Limit > MaxListLimit {
		errs = append(errs, fmt.Sprintf("list.limit must be between 1 and %d", MaxListLimit))
	}
	if c.List.ParticipantScan < 0 || c.List.ParticipantScan > 100 {
		errs = append(errs, "list.participant_scan must be between 1 and 100")
	}
	if c.List.ParticipantShow < 0 || c.List.ParticipantShow > MaxParticipantShow {
		errs = append(errs, fmt.Sprintf("list.participant_show must be between 1 and %d", MaxParticipantShow))
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}
	for name, wh := range c.Webhooks {
		if wh.Secret == "" && wh.BearerToken == "" {
			errs = append(errs, fmt.Sprintf("webhooks.%s needs a secret or bearer_token", name))
		}
	}
	if len(c.Webhooks) > 0 && c.API.Port == 0 {
		errs = append(errs, "webhooks require the api server (api.port is 0)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func parseList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
