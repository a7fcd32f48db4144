package model

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Run modes. Anything other than ModeServer or ModeWorker runs both.
const (
	ModeServer   = "server"
	ModeWorker   = "worker"
	ModeCombined = "combined"
)

// GoogleConfig holds the OAuth client and, optionally, a pre-provisioned
// refresh token for the Gmail API.
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token" yaml:"refresh_token"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url"`
}

// AuthConfig controls where grants are persisted and whether an
// interactive consent flow may be started.
type AuthConfig struct {
	ClientSecretsFile string `mapstructure:"client_secrets_file" yaml:"client_secrets_file"`
	TokenStore        string `mapstructure:"token_store" yaml:"token_store"`
	TokenFile         string `mapstructure:"token_file" yaml:"token_file"`
	Interactive       bool   `mapstructure:"interactive" yaml:"interactive"`
}

// IMAPConfig holds the settings for the IMAP provider.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// SlackConfig holds the incoming-webhook destination.
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
	Username   string `mapstructure:"username" yaml:"username"`
}

// StateConfig selects and configures the dedup store backend.
type StateConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend"`
	Path          string `mapstructure:"path" yaml:"path"`
	PostgresURL   string `mapstructure:"postgres_url" yaml:"postgres_url"`
	DynamoDBTable string `mapstructure:"dynamodb_table" yaml:"dynamodb_table"`
	AWSRegion     string `mapstructure:"aws_region" yaml:"aws_region"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mode     string `mapstructure:"mode" yaml:"mode"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
	// FullBody is read with flagValue, not by the decoder.
	FullBody bool   `mapstructure:"-" yaml:"full_body"`

	Gmail struct {
		Query string `mapstructure:"query" yaml:"query"`
	} `mapstructure:"gmail" yaml:"gmail"`

	Poll struct {
		IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
	} `mapstructure:"poll" yaml:"poll"`

	Worker struct {
		StartDelaySec int `mapstructure:"start_delay_sec" yaml:"start_delay_sec"`
	} `mapstructure:"worker" yaml:"worker"`

	Google GoogleConfig `mapstructure:"google" yaml:"google"`
	Auth   AuthConfig   `mapstructure:"auth" yaml:"auth"`
	IMAP   IMAPConfig   `mapstructure:"imap" yaml:"imap"`
	Slack  SlackConfig  `mapstructure:"slack" yaml:"slack"`
	State  StateConfig  `mapstructure:"state" yaml:"state"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
}

// envBindings maps config keys to the environment variables that
// override them.
var envBindings = map[string]string{
	"mode":                     "MODE",
	"port":                     "PORT",
	"provider":                 "MAIL_PROVIDER",
	"timezone":                 "TIMEZONE",
	"full_body":                "RETURN_FULL_BODY",
	"gmail.query":              "GMAIL_QUERY",
	"poll.interval_sec":        "POLL_INTERVAL_SECONDS",
	"worker.start_delay_sec":   "WORKER_START_DELAY_SECONDS",
	"google.client_id":         "GOOGLE_CLIENT_ID",
	"google.client_secret":     "GOOGLE_CLIENT_SECRET",
	"google.refresh_token":     "GOOGLE_REFRESH_TOKEN",
	"google.token_url":         "GOOGLE_TOKEN_URL",
	"auth.client_secrets_file": "GOOGLE_CLIENT_SECRETS_FILE",
	"auth.token_store":         "TOKEN_STORE",
	"auth.token_file":          "TOKEN_FILE",
	"auth.interactive":         "INTERACTIVE_AUTH",
	"imap.host":                "IMAP_HOST",
	"imap.port":                "IMAP_PORT",
	"imap.username":            "IMAP_USERNAME",
	"imap.password":            "IMAP_PASSWORD",
	"imap.tls":                 "IMAP_TLS",
	"slack.webhook_url":        "SLACK_WEBHOOK_URL",
	"slack.channel":            "SLACK_CHANNEL",
	"slack.username":           "SLACK_USERNAME",
	"state.backend":            "STATE_BACKEND",
	"state.path":               "STATE_PATH",
	"state.postgres_url":       "DATABASE_URL",
	"state.dynamodb_table":     "DYNAMODB_TABLE",
	"state.aws_region":         "AWS_REGION",
	"log.level":                "LOG_LEVEL",
	"log.format":               "LOG_FORMAT",
}

// setDefaults registers the default for every known key so that
// environment-only deployments unmarshal fully.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeServer)
	v.SetDefault("port", 10000)
	v.SetDefault("provider", "gmail")
	v.SetDefault("timezone", "UTC")
	v.SetDefault("full_body", false)
	v.SetDefault("gmail.query", "label:inbox is:unread newer_than:7d")
	v.SetDefault("poll.interval_sec", 60)
	v.SetDefault("worker.start_delay_sec", 5)
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.refresh_token", "")
	v.SetDefault("google.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("auth.client_secrets_file", "credentials.json")
	v.SetDefault("auth.token_store", "file")
	v.SetDefault("auth.token_file", "token.json")
	v.SetDefault("auth.interactive", !deployedNonInteractive())
	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", "993")
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.tls", true)
	v.SetDefault("slack.webhook_url", "")
	v.SetDefault("slack.channel", "#alerts")
	v.SetDefault("slack.username", "Gmail Monitor")
	v.SetDefault("state.backend", "sqlite")
	v.SetDefault("state.path", "state.db")
	v.SetDefault("state.postgres_url", "")
	v.SetDefault("state.dynamodb_table", "mailwatch-processed")
	v.SetDefault("state.aws_region", "us-east-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// deployedNonInteractive reports whether the process runs on a hosted
// platform where no browser consent flow can be opened.
func deployedNonInteractive() bool {
	return os.Getenv("RENDER") != "" || os.Getenv("DYNO") != ""
}

// LoadConfig reads configuration from an optional YAML file at path and
// from the environment (after loading a local .env file, if present).
// Environment variables take precedence over the file.
func LoadConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.FullBody = flagValue(v.GetString("full_body"))
	cfg.Mode = NormalizeMode(cfg.Mode)
	if cfg.Poll.IntervalSec <= 0 {
		cfg.Poll.IntervalSec = 60
	}
	if cfg.Worker.StartDelaySec < 0 {
		cfg.Worker.StartDelaySec = 0
	}

	return cfg, nil
}

// flagValue treats "true" in any case as set and every other value,
// including "yes" and "1", as unset.
func flagValue(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}

// NormalizeMode maps any unrecognised mode to ModeCombined.
func NormalizeMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeServer:
		return ModeServer
	case ModeWorker:
		return ModeWorker
	default:
		return ModeCombined
	}
}

// RunsWorker reports whether the configured mode polls the mailbox.
func (c *AppConfig) RunsWorker() bool {
	return c.Mode != ModeServer
}

// RunsServer reports whether the configured mode serves the health endpoint.
func (c *AppConfig) RunsServer() bool {
	return c.Mode != ModeWorker
}

// PollInterval returns the sleep between poll cycles.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSec) * time.Second
}

// WorkerStartDelay returns how long the worker waits before its first
// cycle when running alongside the health server.
func (c *AppConfig) WorkerStartDelay() time.Duration {
	return time.Duration(c.Worker.StartDelaySec) * time.Second
}

// Validate checks the settings required by the configured mode.
func (c *AppConfig) Validate() error {
	if c.RunsWorker() && c.Slack.WebhookURL == "" {
		return errors.New("slack.webhook_url (SLACK_WEBHOOK_URL) is required in worker mode")
	}

	switch c.Provider {
	case "gmail", "imap":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	switch c.State.Backend {
	case "sqlite":
	case "postgres":
		if c.State.PostgresURL == "" {
			return errors.New("state.postgres_url (DATABASE_URL) is required for the postgres backend")
		}
	case "dynamodb":
		if c.State.DynamoDBTable == "" {
			return errors.New("state.dynamodb_table is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}

	switch c.Auth.TokenStore {
	case "file", "keyring":
	default:
		return fmt.Errorf("unknown token store %q", c.Auth.TokenStore)
	}

	return nil
}

// Location resolves the display timezone. Unknown names fall back to
// UTC; the returned bool is false in that case so callers can warn.
func (c *AppConfig) Location() (*time.Location, bool) {
	return LoadLocation(c.Timezone)
}

// LoadLocation resolves a timezone name, falling back to UTC.
func LoadLocation(name string) (*time.Location, bool) {
	if name == "" {
		return time.UTC, true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}
