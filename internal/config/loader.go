package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. KNOWHUB_TOOL_SERVER_URL.
const EnvPrefix = "KNOWHUB"

// keys that may be set from the environment without a config file entry
var envKeys = []string{
	"data_dir",
	"logging.level",
	"logging.file",
	"server.addr",
	"tool_server.url",
	"orchestrator.max_steps",
	"metrics.capacity",
	"health.schedule",
	"prompts.dir",
	"reasoning.level",
	"tracing.enabled",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	getenv     func(string) string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		getenv:     os.Getenv,
	}
}

// Path returns the config file path in use
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".knowhub", "knowhub.json")
}

// Load reads the config file if present, applies environment overrides and
// resolves provider keys. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path := l.Path(); path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	// configured tiers replace the default chain instead of merging into it
	if v.IsSet("tiers") {
		cfg.Tiers = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.DataDir = filepath.Join(home, ".knowhub")
		}
	}
	if cfg.Prompts.Dir == "" && cfg.DataDir != "" {
		cfg.Prompts.Dir = filepath.Join(cfg.DataDir, "prompts")
	}

	l.resolveKeys(cfg)
	return cfg, nil
}

// resolveKeys fills tier API keys from their environment variables.
func (l *Loader) resolveKeys(cfg *Config) {
	defaults := map[string]string{}
	for _, t := range DefaultTiers() {
		defaults[t.Provider] = t.APIKeyEnv
	}

	for i := range cfg.Tiers {
		t := &cfg.Tiers[i]
		if t.APIKey != "" {
			continue
		}
		env := t.APIKeyEnv
		if env == "" {
			env = defaults[t.Provider]
		}
		if env != "" {
			t.APIKey = l.getenv(env)
		}
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
