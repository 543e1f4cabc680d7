package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/jhchabran/agora"
	"github.com/jhchabran/agora/memstore"
	"github.com/jhchabran/agora/notify"
	"github.com/jhchabran/agora/sqlstore"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	LogLevel        string        `json:"log_level"`
	LogFormat       string        `json:"log_format"`
	DatabaseDriver  string        `json:"database_driver"`
	DatabaseURL     string        `json:"database_url"`
	ServerSecret    string        `json:"server_secret"`
	Addr            string        `json:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	MaxRetries      int           `json:"max_retries"`
	EventBuffer     int           `json:"event_buffer"`
	SlackWebhookURL string        `json:"slack_webhook_url"`
	SlackUsername   string        `json:"slack_username"`
}

// configKeys are the settings that can be overridden by an environment
// variable of the same name, upper cased.
var configKeys = []string{
	"log_level",
	"log_format",
	"database_driver",
	"database_url",
	"server_secret",
	"addr",
	"shutdown_timeout",
	"max_retries",
	"event_buffer",
	"slack_webhook_url",
	"slack_username",
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "json",
		DatabaseDriver:  "postgres",
		DatabaseURL:     "user=postgres dbname=agora sslmode=disable password=postgres host=127.0.0.1",
		Addr:            "localhost:8080",
		ShutdownTimeout: 10 * time.Second,
		MaxRetries:      agora.DefaultMaxRetries,
		EventBuffer:     agora.DefaultEventBuffer,
		SlackUsername:   "agora",
	}
}

// Load reads .env, then config.json, then the environment, each one taking
// precedence over the previous.
func (c *Config) Load() error {
	return c.LoadFrom("config.json")
}

func (c *Config) LoadFrom(path string) error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot read .env: %w", err)
	}

	raw := map[string]interface{}{}
	b, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("cannot parse %s: %w", path, err)
		}
	}

	for _, key := range configKeys {
		if v := os.Getenv(strings.ToUpper(key)); v != "" {
			raw[key] = v
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           c,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.ServerSecret == "" {
		return fmt.Errorf("missing config 'server secret'")
	}

	return nil
}

func SetupLogger(cfg *Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("input", cfg.LogLevel).Msg("Cannot parse log level")
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "" || cfg.LogFormat == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
}

// OpenStore connects to the configured store. The "memory" driver keeps
// everything in process and loses it on exit.
func OpenStore(cfg *Config) (agora.Store, error) {
	var store agora.Store
	if cfg.DatabaseDriver == "memory" {
		store = memstore.New()
	} else {
		store = sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	}

	if err := store.Connect(); err != nil {
		return nil, err
	}
	return store, nil
}

// Notifier builds the event sinks: the log always, Slack when a webhook is set.
func Notifier(cfg *Config, logger zerolog.Logger) agora.Notifier {
	sinks := notify.Fanout{notify.NewLog(logger.With().Str("component", "notify").Logger())}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlack(cfg.SlackWebhookURL, cfg.SlackUsername))
	}
	return sinks
}
