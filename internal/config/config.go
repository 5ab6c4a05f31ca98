package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ListenerConfig struct {
	ReplyCapacity        int    `json:"replyCapacity" yaml:"replyCapacity"`
	NotificationCapacity int    `json:"notificationCapacity" yaml:"notificationCapacity"`
	PollInterval         string `json:"pollInterval" yaml:"pollInterval"` // Go duration, e.g. "50ms"
	ReadSize             int    `json:"readSize" yaml:"readSize"`
}

// Poll parses PollInterval, falling back to 50ms.
func (c ListenerConfig) Poll() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 50 * time.Millisecond
	}
	return d
}

type TmuxConfig struct {
	Binary     string `json:"binary" yaml:"binary"`
	MinVersion string `json:"minVersion" yaml:"minVersion"`
}

type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

type NotificationsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Webhook string `json:"webhook" yaml:"webhook"`
	NtfyURL string `json:"ntfy" yaml:"ntfy"`
}

type TLSConfig struct {
	Mode     string `json:"mode" yaml:"mode"`         // "self-signed", "manual", or "" (disabled)
	CertFile string `json:"certFile" yaml:"certFile"` // required for manual
	KeyFile  string `json:"keyFile" yaml:"keyFile"`   // required for manual
	CacheDir string `json:"cacheDir" yaml:"cacheDir"` // for self-signed; defaults to ~/.tmux-control/certs
}

type AuthConfig struct {
	JWTSecret       string `json:"jwtSecret" yaml:"jwtSecret"`
	AccessTokenTTL  string `json:"accessTokenTTL" yaml:"accessTokenTTL"`
	RefreshTokenTTL string `json:"refreshTokenTTL" yaml:"refreshTokenTTL"`
}

type WebserverConfig struct {
	Enabled bool       `json:"enabled" yaml:"enabled"`
	Port    int        `json:"port" yaml:"port"`
	Host    string     `json:"host" yaml:"host"`
	TLS     TLSConfig  `json:"tls" yaml:"tls"`
	Auth    AuthConfig `json:"auth" yaml:"auth"`
}

type Config struct {
	LogDir        string              `json:"logDir" yaml:"logDir"`
	LogLevel      string              `json:"logLevel" yaml:"logLevel"`
	LogFormat     string              `json:"logFormat" yaml:"logFormat"`
	Listener      ListenerConfig      `json:"listener" yaml:"listener"`
	Tmux          TmuxConfig          `json:"tmux" yaml:"tmux"`
	Journal       JournalConfig       `json:"journal" yaml:"journal"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Webserver     WebserverConfig     `json:"webserver" yaml:"webserver"`
}

func Defaults() Config {
	return Config{
		LogDir:   filepath.Join(Dir(), "logs"),
		LogLevel: "info",
		Listener: ListenerConfig{
			ReplyCapacity:        10,
			NotificationCapacity: 10,
			PollInterval:         "50ms",
			ReadSize:             4096,
		},
		Tmux: TmuxConfig{
			Binary:     "tmux",
			MinVersion: "3.2",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    DBPath(),
		},
		Webserver: WebserverConfig{
			Enabled: false,
			Port:    8080,
			Host:    "127.0.0.1",
			Auth: AuthConfig{
				AccessTokenTTL:  "15m",
				RefreshTokenTTL: "168h",
			},
		},
	}
}

// Dir is the per-user state directory.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tmux-control")
}

// DefaultPath prefers an existing config.yaml and otherwise points at
// config.json.
func DefaultPath() string {
	yml := filepath.Join(Dir(), "config.yaml")
	if _, err := os.Stat(yml); err == nil {
		return yml
	}
	return filepath.Join(Dir(), "config.json")
}

func DBPath() string {
	return filepath.Join(Dir(), "journal.db")
}

func CertsDir() string {
	return filepath.Join(Dir(), "certs")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads path over Defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path in the format its extension implies.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
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
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureJWTSecret generates and persists a signing secret when the
// config has none, so issued tokens survive restarts.
func EnsureJWTSecret(path string, cfg *Config) error {
	if cfg.Webserver.Auth.JWTSecret != "" {
		return nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	cfg.Webserver.Auth.JWTSecret = hex.EncodeToString(b)
	return Save(path, *cfg)
}
