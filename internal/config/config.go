package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL = "https://edutalk-by8w.onrender.com"
	DefaultWSURL  = "wss://edutalk-by8w.onrender.com/ws"
)

type Config struct {
	APIURL string `yaml:"api_url"`
	WSURL  string `yaml:"ws_url"`

	// SessionBackend selects where the token is persisted: "file" or "redis".
	SessionBackend string `yaml:"session_backend"`
	SessionFile    string `yaml:"session_file"`

	Redis Redis `yaml:"redis"`
	Log   Log   `yaml:"log"`

	// ConfirmDelayMS is the pause between a successful create and the
	// Unread status update.
	ConfirmDelayMS int `yaml:"confirm_delay_ms"`

	// SeenRate caps read receipts per second; 0 sends them unthrottled.
	SeenRate  float64 `yaml:"seen_rate"`
	SeenBurst int     `yaml:"seen_burst"`
}

type Redis struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Dir is the per-user configuration directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".edutalk"
	}
	return filepath.Join(home, ".config", "edutalk")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func Default() *Config {
	return &Config{
		APIURL:         DefaultAPIURL,
		WSURL:          DefaultWSURL,
		SessionBackend: "file",
		SessionFile:    filepath.Join(Dir(), "session.yaml"),
		Redis:          Redis{Channel: "edutalk-events"},
		Log:            Log{Level: "info"},
		ConfirmDelayMS: 500,
		SeenRate:       10,
		SeenBurst:      20,
	}
}

// Load layers defaults, the YAML file, .env and the environment, in that
// order. A missing file is only an error when path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	_ = godotenv.Load(".env")
	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	str := map[string]*string{
		"EDUTALK_API_URL":         &c.APIURL,
		"EDUTALK_WS_URL":          &c.WSURL,
		"EDUTALK_SESSION_BACKEND": &c.SessionBackend,
		"EDUTALK_SESSION_FILE":    &c.SessionFile,
		"EDUTALK_REDIS_ADDR":      &c.Redis.Addr,
		"EDUTALK_REDIS_CHANNEL":   &c.Redis.Channel,
		"EDUTALK_LOG_LEVEL":       &c.Log.Level,
		"EDUTALK_LOG_FILE":        &c.Log.File,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("EDUTALK_CONFIRM_DELAY_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("EDUTALK_CONFIRM_DELAY_MS: %w", err)
		}
		c.ConfirmDelayMS = n
	}
	return nil
}

// Save writes the config as YAML, creating the directory if needed.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := checkURL(c.APIURL, "http", "https"); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if err := checkURL(c.WSURL, "ws", "wss"); err != nil {
		return fmt.Errorf("ws_url: %w", err)
	}
	switch c.SessionBackend {
	case "file":
		if c.SessionFile == "" {
			return errors.New("session_file must be set for the file backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session_backend %q", c.SessionBackend)
	}
	if c.ConfirmDelayMS < 0 {
		return errors.New("confirm_delay_ms must not be negative")
	}
	if c.SeenRate < 0 || c.SeenBurst < 0 {
		return errors.New("seen_rate and seen_burst must not be negative")
	}
	return nil
}

func (c *Config) ConfirmDelay() time.Duration {
	return time.Duration(c.ConfirmDelayMS) * time.Millisecond
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %v URL", raw, schemes)
}
