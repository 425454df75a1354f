// Package config handles interceptor.yaml manifest parsing.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a single interceptor process.
type Config struct {
	// Listen is the address the proxy accepts connections on.
	Listen string `yaml:"listen,omitempty"`

	// CADir is the directory holding ca_cert.pem/ca_key.pem. Defaults to
	// ~/.interceptor/ca.
	CADir string `yaml:"ca_dir,omitempty"`

	// CaptureDBPath is the sqlite file backing the capture store. Empty
	// disables durable persistence (ring-only).
	CaptureDBPath string `yaml:"capture_db_path,omitempty"`

	// CaptureCapacity bounds the in-memory ring (default 10000).
	CaptureCapacity int `yaml:"capture_capacity,omitempty"`

	// Encryption selects the capture store's master-key source.
	Encryption EncryptionConfig `yaml:"encryption,omitempty"`

	// PluginDir is scanned for *.wasm plugins.
	PluginDir string `yaml:"plugin_dir,omitempty"`

	Scope ScopeConfig `yaml:"scope,omitempty"`

	Rules []RuleConfig `yaml:"rules,omitempty"`

	// ScannerRulesPath is parsed from the file but not read by anything:
	// the scanner runs only its built-in default rules.
	ScannerRulesPath string `yaml:"scanner_rules_path,omitempty"`
}

// EncryptionConfig selects where the capture store's AES-256 master key
// comes from: "env", "file", "keyring", or "none".
type EncryptionConfig struct {
	Source  string `yaml:"source,omitempty"`
	EnvVar  string `yaml:"env_var,omitempty"`
	KeyFile string `yaml:"key_file,omitempty"`
}

// ScopeConfig mirrors interceptor/scope.Config for file-based config.
type ScopeConfig struct {
	Includes []string `yaml:"includes,omitempty"`
	Excludes []string `yaml:"excludes,omitempty"`
}

// RuleConfig mirrors a single interceptor/rules.Rule for file-based config.
type RuleConfig struct {
	ID        string `yaml:"id"`
	Active    bool   `yaml:"active"`
	Direction string `yaml:"direction"` // "request" | "response"

	ConditionKind  string `yaml:"condition_kind"` // url_substring|url_regex|header_substring|header_regex|body_substring|body_regex
	HeaderName     string `yaml:"header_name,omitempty"`
	ConditionValue string `yaml:"condition_value"`

	ActionKind  string `yaml:"action_kind"` // set_header|remove_header|replace_body|regex_replace_body|regex_replace_header
	ActionName  string `yaml:"action_name,omitempty"`
	ActionValue string `yaml:"action_value,omitempty"`
	ActionExtra string `yaml:"action_extra,omitempty"` // replacement text, paired with ActionValue as the pattern/target
}

// Defaults returns a Config with every documented default applied.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Listen:          "127.0.0.1:8080",
		CADir:           filepath.Join(home, ".interceptor", "ca"),
		CaptureCapacity: 10000,
		Encryption:      EncryptionConfig{Source: "none"},
		PluginDir:       "plugins",
	}
}

// Load reads a YAML config file at path, applying Defaults() for any zero
// field left unset. A missing file is not an error: it yields Defaults().
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	if cfg.CaptureCapacity == 0 {
		cfg.CaptureCapacity = 10000
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8080"
	}
	if cfg.PluginDir == "" {
		cfg.PluginDir = "plugins"
	}
	if cfg.Encryption.Source == "" {
		cfg.Encryption.Source = "none"
	}
	return cfg, nil
}
