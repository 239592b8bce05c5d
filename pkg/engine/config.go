package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/portalpilot/portalpilot/internal/browser"
	"github.com/portalpilot/portalpilot/internal/detect"
	"github.com/portalpilot/portalpilot/internal/keepalive"
	"github.com/portalpilot/portalpilot/internal/probe"
)

// Config holds all engine configuration.
type Config struct {
	// Probe configuration
	Probe ProbeConfig `json:"probe" yaml:"probe"`

	// Heuristics for login field detection
	Heuristics HeuristicsConfig `json:"heuristics" yaml:"heuristics"`

	// Session acquisition bounds
	Session SessionConfig `json:"session" yaml:"session"`

	// Browser configuration
	Browser browser.Config `json:"browser" yaml:"browser"`

	// Notification configuration
	Notify NotifyConfig `json:"notify" yaml:"notify"`

	// Path of the credential database. Empty keeps credentials in memory.
	StatePath string `json:"state_path" yaml:"state_path"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// ProbeConfig configures the connectivity check.
type ProbeConfig struct {
	URL        string        `json:"url" yaml:"url"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// HeuristicsConfig configures page classification.
type HeuristicsConfig struct {
	// UsernamePattern matches name/id/placeholder of username-like inputs.
	UsernamePattern string `json:"username_pattern" yaml:"username_pattern"`

	// KeepaliveURLToken marks keepalive pages by URL substring.
	KeepaliveURLToken string `json:"keepalive_url_token" yaml:"keepalive_url_token"`

	// KeepaliveTextPattern marks keepalive pages by visible text.
	KeepaliveTextPattern string `json:"keepalive_text_pattern" yaml:"keepalive_text_pattern"`
}

// SessionConfig bounds session acquisition and detection retries.
type SessionConfig struct {
	SeedURL        string        `json:"seed_url" yaml:"seed_url"`
	ProbeCooldown  time.Duration `json:"probe_cooldown" yaml:"probe_cooldown"`
	LoadTimeout    time.Duration `json:"load_timeout" yaml:"load_timeout"`
	DetectAttempts int           `json:"detect_attempts" yaml:"detect_attempts"`
	DetectInterval time.Duration `json:"detect_interval" yaml:"detect_interval"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	// Window is the minimum gap between notifications of the same class
	// for the same origin.
	Window time.Duration `json:"window" yaml:"window"`

	// ListenAddr serves the WebSocket notification feed when set, for
	// example "127.0.0.1:8777". Empty disables the feed.
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Probe: ProbeConfig{
			URL:        probe.DefaultProbeURL,
			Timeout:    probe.DefaultTimeout,
			RetryDelay: probe.DefaultRetryDelay,
		},
		Heuristics: HeuristicsConfig{
			UsernamePattern:      detect.DefaultUsernamePattern,
			KeepaliveURLToken:    keepalive.DefaultURLToken,
			KeepaliveTextPattern: keepalive.DefaultTextPattern,
		},
		Session: SessionConfig{
			SeedURL:        probe.DefaultProbeURL,
			ProbeCooldown:  15 * time.Second,
			LoadTimeout:    15 * time.Second,
			DetectAttempts: 3,
			DetectInterval: 1200 * time.Millisecond,
		},
		Browser: browser.DefaultConfig(),
		Notify: NotifyConfig{
			Window: 3 * time.Minute,
		},
		Verbose: false,
		Debug:   false,
	}
}

// LoadFromFile loads configuration from a file (YAML or JSON).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if len(path) > 5 && path[len(path)-5:] == ".json" {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Probe.URL == "" {
		return fmt.Errorf("probe URL is required")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}

	if _, err := regexp.Compile(c.Heuristics.UsernamePattern); err != nil {
		return fmt.Errorf("invalid username pattern: %w", err)
	}
	if _, err := regexp.Compile(c.Heuristics.KeepaliveTextPattern); err != nil {
		return fmt.Errorf("invalid keepalive text pattern: %w", err)
	}

	if c.Session.DetectAttempts < 1 {
		return fmt.Errorf("detect attempts must be at least 1")
	}
	if c.Session.LoadTimeout <= 0 {
		return fmt.Errorf("load timeout must be positive")
	}

	if c.Notify.Window <= 0 {
		return fmt.Errorf("notification window must be positive")
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}
