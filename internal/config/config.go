package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix scopes the environment variables read as configuration.
// A double underscore in the variable name descends one config level,
// e.g. SMSMAIL_SMTP__HOST sets smtp.host.
const envPrefix = "SMSMAIL_"

// Config is the top-level application configuration.
type Config struct {
	LogLevel            string `koanf:"log_level"`
	Modem               Modem  `koanf:"modem"`
	PollIntervalSeconds int    `koanf:"poll_interval_seconds"`
	DeleteSMS           bool   `koanf:"delete_sms"`
	IgnoreExisting      bool   `koanf:"ignore_existing"`
	BlacklistPath       string `koanf:"blacklist_path"`
	SMTP                SMTP   `koanf:"smtp"`
}

// Modem identifies which modem to poll.
type Modem struct {
	ID string `koanf:"id"` // "-1" or empty requests auto-detection at startup
}

// SMTP holds the outgoing mail server configuration.
type SMTP struct {
	Host       string   `koanf:"host"`
	Port       int      `koanf:"port"`
	Username   string   `koanf:"username"`
	Password   string   `koanf:"password"`
	TLS        bool     `koanf:"tls"` // STARTTLS after connecting
	Sender     string   `koanf:"sender"`
	Recipients []string `koanf:"recipients"` // comma-separated when set via env
	Subject    string   `koanf:"subject"`    // %number% is replaced by the sender number
}

// PollInterval returns the poll interval as a time.Duration. Zero means
// poll continuously.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// AutoDetect reports whether the modem identifier should be discovered at
// startup instead of taken from configuration.
func (m Modem) AutoDetect() bool {
	return m.ID == "" || m.ID == "-1"
}

// Load reads the optional YAML configuration file at path and overlays
// SMSMAIL_* environment variables on top. A missing file is not an error;
// the daemon can be configured from the environment alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        envPrefix,
		TransformFunc: transformEnv,
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{
		LogLevel:            "info",
		Modem:               Modem{ID: "-1"},
		PollIntervalSeconds: 30,
		DeleteSMS:           true,
		IgnoreExisting:      true,
		BlacklistPath:       "blacklist.json",
		SMTP:                SMTP{Port: 25},
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.SMTP.Recipients = cleanRecipients(cfg.SMTP.Recipients)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func transformEnv(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__", ".")
	if key == "smtp.recipients" {
		return key, strings.Split(value, ",")
	}
	return key, value
}

func cleanRecipients(recipients []string) []string {
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	if c.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds must be >= 0")
	}
	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		return fmt.Errorf("smtp.port must be between 1 and 65535")
	}
	if c.SMTP.Sender == "" {
		return fmt.Errorf("smtp.sender is required")
	}
	if len(c.SMTP.Recipients) == 0 {
		return fmt.Errorf("smtp.recipients must contain at least one recipient")
	}
	return nil
}
