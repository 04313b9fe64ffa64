package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// Config represents the live-sync configuration
type Config struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Description string  `json:"description"`
	Relay       Relay   `json:"relay"`
	Viewer      Viewer  `json:"viewer"`
	Modules     Modules `json:"modules"`
	Logging     Logging `json:"logging"`
}

// Relay represents the relay server configuration
type Relay struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Path string `json:"path"`
}

// Viewer holds the editor-side settings for talking to viewers.
type Viewer struct {
	RelayURL              string `json:"relay_url"`
	StartupDelayMs        int    `json:"startup_delay_ms"`
	ReconnectBackoffMs    int    `json:"reconnect_backoff_ms"`
	ReloadThreshold       int    `json:"reload_threshold"`
	RouterIndexDebounceMs int    `json:"router_index_debounce_ms"`
	FrameIntervalMs       int    `json:"frame_interval_ms"`
}

// Modules represents project module discovery configuration
type Modules struct {
	Dir   string `json:"dir"`
	Watch bool   `json:"watch"`
}

// Logging represents logging configuration
type Logging struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

const (
	defaultStartupDelayMs        = 1000
	defaultReconnectBackoffMs    = 2000
	defaultReloadThreshold       = 2
	defaultRouterIndexDebounceMs = 100
	defaultFrameIntervalMs       = 16
)

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return &Config{
		Name:        "graph-livesync",
		Version:     "0.1.0",
		Description: "Live-sync relay between a graph editor and its viewers",
		Relay: Relay{
			Host: "localhost",
			Port: 8574,
			Path: "/ws",
		},
		Viewer: Viewer{
			RelayURL:              "ws://localhost:8574/ws",
			StartupDelayMs:        defaultStartupDelayMs,
			ReconnectBackoffMs:    defaultReconnectBackoffMs,
			ReloadThreshold:       defaultReloadThreshold,
			RouterIndexDebounceMs: defaultRouterIndexDebounceMs,
			FrameIntervalMs:       defaultFrameIntervalMs,
		},
		Modules: Modules{
			Dir:   "noodl_modules",
			Watch: true,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
			Path:   filepath.Join(home, ".graph-livesync", "logs", "livesync.log"),
		},
	}
}

// StartupDelay is the wait before the first connection attempt.
func (v Viewer) StartupDelay() time.Duration {
	return time.Duration(v.StartupDelayMs) * time.Millisecond
}

// ReconnectBackoff is the fixed wait between connection attempts.
func (v Viewer) ReconnectBackoff() time.Duration {
	return time.Duration(v.ReconnectBackoffMs) * time.Millisecond
}

// RouterIndexDebounce is the quiet period before a router index push.
func (v Viewer) RouterIndexDebounce() time.Duration {
	return time.Duration(v.RouterIndexDebounceMs) * time.Millisecond
}

// FrameInterval is the pulse animation tick.
func (v Viewer) FrameInterval() time.Duration {
	return time.Duration(v.FrameIntervalMs) * time.Millisecond
}

// Addr returns the relay listen address.
func (r Relay) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LoadConfig loads the configuration from a JSON or JSONC file
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Comments and trailing commas are allowed.
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	// Override with environment variables (highest priority).
	applyEnvOverrides(cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a file
func SaveConfig(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return writeConfig(cfg, path)
}

func writeConfig(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("LIVESYNC_RELAY_HOST"); host != "" {
		cfg.Relay.Host = host
	}
	envInt("LIVESYNC_RELAY_PORT", &cfg.Relay.Port)
	if path := os.Getenv("LIVESYNC_RELAY_PATH"); path != "" {
		cfg.Relay.Path = path
	}

	if relayURL := os.Getenv("LIVESYNC_RELAY_URL"); relayURL != "" {
		cfg.Viewer.RelayURL = relayURL
	}
	envInt("LIVESYNC_STARTUP_DELAY_MS", &cfg.Viewer.StartupDelayMs)
	envInt("LIVESYNC_RECONNECT_BACKOFF_MS", &cfg.Viewer.ReconnectBackoffMs)
	envInt("LIVESYNC_RELOAD_THRESHOLD", &cfg.Viewer.ReloadThreshold)

	if dir := os.Getenv("LIVESYNC_MODULES_DIR"); dir != "" {
		cfg.Modules.Dir = dir
	}
	if watch := os.Getenv("LIVESYNC_MODULES_WATCH"); watch != "" {
		if parsed, err := strconv.ParseBool(watch); err == nil {
			cfg.Modules.Watch = parsed
		} else {
			log.Printf("warning: ignoring invalid LIVESYNC_MODULES_WATCH value %q: %v", watch, err)
		}
	}

	if logLevel := os.Getenv("LIVESYNC_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LIVESYNC_LOG_FORMAT"); logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if logPath := os.Getenv("LIVESYNC_LOG_PATH"); logPath != "" {
		cfg.Logging.Path = logPath
	}
}

func envInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("warning: ignoring invalid %s value %q: %v", key, raw, err)
		return
	}
	*dst = parsed
}

// Normalize canonicalizes config values and fills zero durations with
// their defaults.
func (c *Config) Normalize() {
	c.Relay.Host = strings.TrimSpace(c.Relay.Host)
	c.Relay.Path = strings.TrimSpace(c.Relay.Path)
	if c.Relay.Path == "" {
		c.Relay.Path = "/ws"
	}
	if !strings.HasPrefix(c.Relay.Path, "/") {
		c.Relay.Path = "/" + c.Relay.Path
	}

	c.Viewer.RelayURL = strings.TrimSpace(c.Viewer.RelayURL)
	if c.Viewer.StartupDelayMs == 0 {
		c.Viewer.StartupDelayMs = defaultStartupDelayMs
	}
	if c.Viewer.ReconnectBackoffMs == 0 {
		c.Viewer.ReconnectBackoffMs = defaultReconnectBackoffMs
	}
	if c.Viewer.ReloadThreshold == 0 {
		c.Viewer.ReloadThreshold = defaultReloadThreshold
	}
	if c.Viewer.RouterIndexDebounceMs == 0 {
		c.Viewer.RouterIndexDebounceMs = defaultRouterIndexDebounceMs
	}
	if c.Viewer.FrameIntervalMs == 0 {
		c.Viewer.FrameIntervalMs = defaultFrameIntervalMs
	}

	c.Modules.Dir = strings.TrimSpace(c.Modules.Dir)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Path = strings.TrimSpace(c.Logging.Path)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		return errors.New("invalid port number")
	}
	if c.Relay.Host == "" {
		return errors.New("host cannot be empty")
	}

	if c.Viewer.RelayURL == "" {
		return errors.New("viewer relay_url cannot be empty")
	}
	u, err := url.Parse(c.Viewer.RelayURL)
	if err != nil {
		return fmt.Errorf("invalid viewer relay_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid viewer relay_url scheme %q: expected ws or wss", u.Scheme)
	}

	timings := []struct {
		name  string
		value int
	}{
		{"startup_delay_ms", c.Viewer.StartupDelayMs},
		{"reconnect_backoff_ms", c.Viewer.ReconnectBackoffMs},
		{"router_index_debounce_ms", c.Viewer.RouterIndexDebounceMs},
		{"frame_interval_ms", c.Viewer.FrameIntervalMs},
	}
	for _, timing := range timings {
		if timing.value < 0 {
			return fmt.Errorf("invalid viewer %s %d: must not be negative", timing.name, timing.value)
		}
	}
	if c.Viewer.ReloadThreshold < 1 {
		return fmt.Errorf("invalid viewer reload_threshold %d: expected at least 1", c.Viewer.ReloadThreshold)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.New("invalid log level")
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.New("invalid log format")
	}

	return nil
}

// ResolveConfigPath returns the path that should be used for configuration.
func ResolveConfigPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv("LIVESYNC_CONFIG_PATH")); path != "" {
		return path, nil
	}

	for _, candidate := range []string{"config/livesync.jsonc", "config/livesync.json"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ".graph-livesync", "config", "livesync.json"), nil
}

// EnsureDefaultConfig creates a default config file if one does not exist.
func EnsureDefaultConfig(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path cannot be empty")
	}

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	defaultConfig := NewConfig()
	defaultConfig.Normalize()
	return writeConfig(defaultConfig, path)
}
