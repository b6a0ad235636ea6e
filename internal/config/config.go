// Package config handles standupd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/standupd/config.yaml, /etc/standupd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "standupd", "config.yaml"))
	}

	paths = append(paths, "/etc/standupd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all standupd configuration.
type Config struct {
	Slack     SlackConfig     `yaml:"slack"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	GitHub    GitHubConfig    `yaml:"github"`
	Standup   StandupConfig   `yaml:"standup"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// SlackConfig defines the chat workspace connection.
type SlackConfig struct {
	// BotToken is the xoxb- token used for Web API calls.
	BotToken string `yaml:"bot_token"`
	// AppToken is the xapp- token used to open a socket-mode connection.
	AppToken string `yaml:"app_token"`
	// UsergroupID identifies the group whose members receive morning prompts.
	UsergroupID string `yaml:"usergroup_id"`
}

// AnthropicConfig defines the reasoning-service settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// TimeoutSec bounds a single reasoning call (default 60).
	TimeoutSec int `yaml:"timeout_sec"`
	// MaxRetries bounds transient-error retries (default 2).
	MaxRetries int `yaml:"max_retries"`
}

// GitHubConfig defines the OAuth app used for activity enrichment.
type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	// RedirectURL is the OAuth callback URL registered with the app.
	RedirectURL string `yaml:"redirect_url"`
	// CallbackAddr is the local listen address for the callback handler
	// (default ":3000").
	CallbackAddr string `yaml:"callback_addr"`
}

// StandupConfig tunes the reconciliation core.
type StandupConfig struct {
	// SplitDays enables the yesterday/today bucketing of entries.
	// The flat shape is the default.
	SplitDays bool `yaml:"split_days"`
	// PromptTime is the local time of day for morning prompts, "HH:MM".
	PromptTime string `yaml:"prompt_time"`
	// Timezone is the IANA timezone for PromptTime and day rollover.
	Timezone string `yaml:"timezone"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so tokens can live outside the file
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:      "claude-sonnet-4-20250514",
			TimeoutSec: 60,
			MaxRetries: 2,
		},
		GitHub: GitHubConfig{
			CallbackAddr: ":3000",
		},
		Standup: StandupConfig{
			PromptTime: "08:55",
			Timezone:   "America/Los_Angeles",
		},
		DataDir: ".",
	}
}
