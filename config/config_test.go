package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if cfg.Name != "graph-livesync" {
		t.Errorf("Expected name 'graph-livesync', got '%s'", cfg.Name)
	}
	if cfg.Relay.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Relay.Host)
	}
	if cfg.Relay.Port != 8574 {
		t.Errorf("Expected port 8574, got %d", cfg.Relay.Port)
	}
	if cfg.Viewer.StartupDelay() != time.Second {
		t.Errorf("Expected startup delay 1s, got %v", cfg.Viewer.StartupDelay())
	}
	if cfg.Viewer.ReconnectBackoff() != 2*time.Second {
		t.Errorf("Expected reconnect backoff 2s, got %v", cfg.Viewer.ReconnectBackoff())
	}
	if cfg.Viewer.ReloadThreshold != 2 {
		t.Errorf("Expected reload threshold 2, got %d", cfg.Viewer.ReloadThreshold)
	}
	if cfg.Viewer.FrameInterval() != 16*time.Millisecond {
		t.Errorf("Expected frame interval 16ms, got %v", cfg.Viewer.FrameInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestLoadConfigJSONC(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "livesync.jsonc")

	testConfig := `{
	// editor side
	"relay": {"host": "0.0.0.0", "port": 9000, "path": "sync"},
	"viewer": {
		"relay_url": "ws://127.0.0.1:9000/sync",
		"reload_threshold": 3, /* three viewers */
	},
	"logging": {"level": " DEBUG ", "format": "Text", "path": "/tmp/livesync.log"},
}`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Relay.Addr() != "0.0.0.0:9000" {
		t.Errorf("Expected addr 0.0.0.0:9000, got %s", cfg.Relay.Addr())
	}
	if cfg.Relay.Path != "/sync" {
		t.Errorf("Expected path to be normalized to /sync, got %s", cfg.Relay.Path)
	}
	if cfg.Viewer.ReloadThreshold != 3 {
		t.Errorf("Expected reload threshold 3, got %d", cfg.Viewer.ReloadThreshold)
	}
	if cfg.Viewer.StartupDelayMs != 1000 {
		t.Errorf("Expected default startup delay to survive, got %d", cfg.Viewer.StartupDelayMs)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Expected normalized logging, got %+v", cfg.Logging)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "livesync.json")
	if err := EnsureDefaultConfig(configPath); err != nil {
		t.Fatalf("Failed to write default config: %v", err)
	}

	t.Setenv("LIVESYNC_RELAY_PORT", "9100")
	t.Setenv("LIVESYNC_RELAY_URL", "wss://example.test/ws")
	t.Setenv("LIVESYNC_RELOAD_THRESHOLD", "not-a-number")
	t.Setenv("LIVESYNC_MODULES_WATCH", "false")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Relay.Port != 9100 {
		t.Errorf("Expected port 9100 from env, got %d", cfg.Relay.Port)
	}
	if cfg.Viewer.RelayURL != "wss://example.test/ws" {
		t.Errorf("Expected relay URL from env, got %s", cfg.Viewer.RelayURL)
	}
	if cfg.Viewer.ReloadThreshold != 2 {
		t.Errorf("Invalid env value should be ignored, got %d", cfg.Viewer.ReloadThreshold)
	}
	if cfg.Modules.Watch {
		t.Error("Expected module watching disabled from env")
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(configPath, []byte(`{"relay": {"port": "nope"}}`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadConfig(configPath); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Relay.Port = 70000 }},
		{"empty host", func(c *Config) { c.Relay.Host = "" }},
		{"http relay url", func(c *Config) { c.Viewer.RelayURL = "http://localhost:8574/ws" }},
		{"negative backoff", func(c *Config) { c.Viewer.ReconnectBackoffMs = -1 }},
		{"zero threshold", func(c *Config) { c.Viewer.ReloadThreshold = -2 }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("LIVESYNC_CONFIG_PATH", "/custom/livesync.json")
	path, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("Failed to resolve config path: %v", err)
	}
	if path != "/custom/livesync.json" {
		t.Errorf("Expected env path, got %s", path)
	}
}

func TestSaveConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "livesync.json")
	cfg := NewConfig()
	cfg.Relay.Port = 9200

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if loaded.Relay.Port != 9200 {
		t.Errorf("Expected port 9200, got %d", loaded.Relay.Port)
	}
	if err := SaveConfig(nil, configPath); err == nil {
		t.Error("Expected error saving nil config")
	}
}

func TestEnsureDefaultConfigKeepsExisting(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "livesync.json")
	if err := os.WriteFile(configPath, []byte(`{"name":"mine"}`), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if err := EnsureDefaultConfig(configPath); err != nil {
		t.Fatalf("EnsureDefaultConfig: %v", err)
	}
	data, _ := os.ReadFile(configPath)
	if string(data) != `{"name":"mine"}` {
		t.Errorf("Existing config was overwritten: %s", data)
	}
}
