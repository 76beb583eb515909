// Package config loads the CLI's persisted configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds the settings persisted to state/config.json: OAuth client
// registration, the Colab API host, and CLI tuning knobs.
type Config struct {
	// OAuthClientID and OAuthClientSecret identify this tool to Google's
	// OAuth endpoint during the installed-app flow.
	OAuthClientID     string `json:"oauthClientId"`
	OAuthClientSecret string `json:"oauthClientSecret"`

	// APIHost is the Colab API host (assign/listAssignments/etc, OAuth
	// bearer authenticated).
	APIHost string `json:"apiHost"`

	// DefaultAccelerator is used by `run`/`connect` when the caller does
	// not specify one explicitly.
	DefaultAccelerator string `json:"defaultAccelerator,omitempty"`

	// RequestTimeoutSeconds is persisted and loaded with the rest of the
	// config but is not read by colabapi.Client, which bounds every Colab
	// API call with its own fixed 30s timeout.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`

	// KeepAliveIntervalSeconds is how often the connect REPL sends a
	// keep-alive for each pooled endpoint, whether or not it is executing.
	KeepAliveIntervalSeconds int `json:"keepAliveIntervalSeconds"`

	// Debug raises klog verbosity; the debuglog file sink writes
	// regardless of this setting.
	Debug bool `json:"debug"`
}

// Default returns the configuration used when no config.json exists yet.
func Default() Config {
	return Config{
		APIHost:                  "https://colab.research.google.com",
		RequestTimeoutSeconds:    30,
		KeepAliveIntervalSeconds: 60,
	}
}

// Load reads and parses the config file at path, returning Default() if the
// file does not exist.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists cfg to path, creating parent directories as needed. The
// file holds an OAuth client secret, so it is written with mode 0600.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
