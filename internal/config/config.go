// Package config loads and saves the user's sync preferences.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TASKSYNC_SERVER_URL.
const EnvPrefix = "TASKSYNC"

// FileName is the config file inside the data directory.
const FileName = "config.toml"

const (
	DefaultSyncIntervalMinutes = 30
	MinSyncIntervalMinutes     = 1
)

// Settings are the persisted preferences.
type Settings struct {
	// ServerURL is a WebDAV URL (http/https), a file:// URL or a plain
	// directory path. Empty means sync is not configured.
	ServerURL string `toml:"server_url" mapstructure:"server_url"`
	Username  string `toml:"username" mapstructure:"username"`
	Password  string `toml:"password" mapstructure:"password"`

	AutoSync            bool `toml:"auto_sync" mapstructure:"auto_sync"`
	SyncIntervalMinutes int  `toml:"sync_interval_minutes" mapstructure:"sync_interval_minutes"`

	// DashboardPort enables the notification server when non-zero.
	DashboardPort int `toml:"dashboard_port" mapstructure:"dashboard_port"`
}

// Default returns the settings used when nothing is configured.
func Default() *Settings {
	return &Settings{
		AutoSync:            false,
		SyncIntervalMinutes: DefaultSyncIntervalMinutes,
		DashboardPort:       0,
	}
}

// Configured reports whether a remote has been set.
func (s *Settings) Configured() bool {
	return strings.TrimSpace(s.ServerURL) != ""
}

// SyncInterval returns the periodic sync interval.
func (s *Settings) SyncInterval() time.Duration {
	m := s.SyncIntervalMinutes
	if m < MinSyncIntervalMinutes {
		m = DefaultSyncIntervalMinutes
	}
	return time.Duration(m) * time.Minute
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if s.SyncIntervalMinutes < MinSyncIntervalMinutes {
		return fmt.Errorf("sync_interval_minutes must be at least %d, got %d",
			MinSyncIntervalMinutes, s.SyncIntervalMinutes)
	}
	if s.DashboardPort < 0 || s.DashboardPort > 65535 {
		return fmt.Errorf("dashboard_port out of range: %d", s.DashboardPort)
	}
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("server_url", d.ServerURL)
	v.SetDefault("username", d.Username)
	v.SetDefault("password", d.Password)
	v.SetDefault("auto_sync", d.AutoSync)
	v.SetDefault("sync_interval_minutes", d.SyncIntervalMinutes)
	v.SetDefault("dashboard_port", d.DashboardPort)
	return v
}

// Load reads settings from path, applying defaults and TASKSYNC_*
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &s, nil
}

// Save writes settings to path, creating the directory if needed.
func Save(path string, s *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	// The file may hold a password.
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var setters = map[string]func(s *Settings, value string) error{
	"server_url": func(s *Settings, v string) error { s.ServerURL = strings.TrimSpace(v); return nil },
	"username":   func(s *Settings, v string) error { s.Username = v; return nil },
	"password":   func(s *Settings, v string) error { s.Password = v; return nil },
	"auto_sync": func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("auto_sync must be true or false: %w", err)
		}
		s.AutoSync = b
		return nil
	},
	"sync_interval_minutes": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("sync_interval_minutes must be an integer: %w", err)
		}
		s.SyncIntervalMinutes = n
		return nil
	},
	"dashboard_port": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("dashboard_port must be an integer: %w", err)
		}
		s.DashboardPort = n
		return nil
	},
}

// Set assigns a single key from its string form and validates the result.
func (s *Settings) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	next := *s
	if err := set(&next, value); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

// Redacted returns a copy safe to print.
func (s *Settings) Redacted() *Settings {
	c := *s
	if c.Password != "" {
		c.Password = "********"
	}
	return &c
}
