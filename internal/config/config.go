package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Provider identifiers accepted in tier configuration
const (
	ProviderGoogle    = "google"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config represents the main knowhub configuration
type Config struct {
	DataDir      string             `json:"data_dir" mapstructure:"data_dir"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
	Server       ServerConfig       `json:"server" mapstructure:"server"`
	ToolServer   ToolServerConfig   `json:"tool_server" mapstructure:"tool_server"`
	Tiers        []TierConfig       `json:"tiers" mapstructure:"tiers"`
	Retry        RetryConfig        `json:"retry" mapstructure:"retry"`
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`
	Agents       AgentsConfig       `json:"agents" mapstructure:"agents"`
	Metrics      MetricsConfig      `json:"metrics" mapstructure:"metrics"`
	Health       HealthConfig       `json:"health" mapstructure:"health"`
	Prompts      PromptsConfig      `json:"prompts" mapstructure:"prompts"`
	Reasoning    ReasoningConfig    `json:"reasoning" mapstructure:"reasoning"`
	Tracing      TracingConfig      `json:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAge    int    `json:"max_age_days" mapstructure:"max_age_days"`
}

// ServerConfig holds the HTTP API configuration
type ServerConfig struct {
	Addr            string        `json:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// RateLimit caps chat requests per client per minute, 0 disables
	RateLimit int `json:"rate_limit" mapstructure:"rate_limit"`
}

// ToolServerConfig locates the remote tool server
type ToolServerConfig struct {
	URL            string        `json:"url" mapstructure:"url"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	CallTimeout    time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
}

// TierConfig is one entry of the model fallback chain
type TierConfig struct {
	Name             string `json:"name" mapstructure:"name"`
	Provider         string `json:"provider" mapstructure:"provider"` // google, anthropic, openai
	Model            string `json:"model" mapstructure:"model"`
	Role             string `json:"role" mapstructure:"role"` // standard, fallback, reasoning
	MaxRetriesInTier *int   `json:"max_retries_in_tier,omitempty" mapstructure:"max_retries_in_tier"` // unset uses retry.max_retries
	APIKey           string `json:"api_key" mapstructure:"api_key"`
	APIKeyEnv        string `json:"api_key_env" mapstructure:"api_key_env"`
	BaseURL          string `json:"base_url" mapstructure:"base_url"`
	MaxTokens        int    `json:"max_tokens" mapstructure:"max_tokens"`
	Disabled         bool   `json:"disabled" mapstructure:"disabled"`
}

// RetryConfig mirrors the in-tier retry policy
type RetryConfig struct {
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`
	BackoffMultiplier float64       `json:"backoff_multiplier" mapstructure:"backoff_multiplier"`
	InitialDelay      time.Duration `json:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// OrchestratorConfig holds top-level turn settings
type OrchestratorConfig struct {
	MaxSteps        int      `json:"max_steps" mapstructure:"max_steps"`
	TriggerPatterns []string `json:"trigger_patterns" mapstructure:"trigger_patterns"`
	Temperature     float64  `json:"temperature" mapstructure:"temperature"`
}

// AgentsConfig holds the delegate step budgets
type AgentsConfig struct {
	ReaderMaxSteps       int `json:"reader_max_steps" mapstructure:"reader_max_steps"`
	IntegratorReadSteps  int `json:"integrator_read_steps" mapstructure:"integrator_read_steps"`
	IntegratorWriteSteps int `json:"integrator_write_steps" mapstructure:"integrator_write_steps"`
}

// MetricsConfig holds the in-memory aggregator settings
type MetricsConfig struct {
	Capacity   int  `json:"capacity" mapstructure:"capacity"`
	Prometheus bool `json:"prometheus" mapstructure:"prometheus"`
}

// HealthConfig schedules background health checks
type HealthConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// PromptsConfig points at role prompt overrides
type PromptsConfig struct {
	Dir   string `json:"dir" mapstructure:"dir"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// ReasoningConfig sets the default reasoning level
type ReasoningConfig struct {
	Level string `json:"level" mapstructure:"level"` // low, medium, high
}

// TracingConfig controls OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

func intPtr(n int) *int {
	return &n
}

// DefaultTiers returns the stock fallback chain: a fast standard model,
// a second standard provider, and a cheap fallback.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Name:             "gemini-flash",
			Provider:         ProviderGoogle,
			Model:            "gemini-1.5-flash",
			Role:             "standard",
			MaxRetriesInTier: intPtr(2),
			APIKeyEnv:        "GOOGLE_GENERATIVE_AI_API_KEY",
		},
		{
			Name:             "claude-sonnet",
			Provider:         ProviderAnthropic,
			Model:            "claude-3-sonnet-20240229",
			Role:             "standard",
			MaxRetriesInTier: intPtr(2),
			APIKeyEnv:        "ANTHROPIC_API_KEY",
		},
		{
			Name:             "gpt-35-turbo",
			Provider:         ProviderOpenAI,
			Model:            "gpt-3.5-turbo",
			Role:             "fallback",
			MaxRetriesInTier: intPtr(1),
			APIKeyEnv:        "OPENAI_API_KEY",
		},
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSizeMB: 50,
			MaxAge:    7,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       60,
		},
		ToolServer: ToolServerConfig{
			URL:            "ws://localhost:3001/mcp",
			ConnectTimeout: 10 * time.Second,
			CallTimeout:    30 * time.Second,
		},
		Tiers: DefaultTiers(),
		Retry: RetryConfig{
			MaxRetries:        3,
			BackoffMultiplier: 2,
			InitialDelay:      time.Second,
			MaxDelay:          10 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxSteps:    7,
			Temperature: 0.3,
		},
		Agents: AgentsConfig{
			ReaderMaxSteps:       5,
			IntegratorReadSteps:  3,
			IntegratorWriteSteps: 7,
		},
		Metrics: MetricsConfig{
			Capacity:   1000,
			Prometheus: true,
		},
		Health: HealthConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
		Prompts: PromptsConfig{
			Watch: true,
		},
		Reasoning: ReasoningConfig{
			Level: "medium",
		},
		Tracing: TracingConfig{
			ServiceName: "knowhub",
			SampleRatio: 1,
		},
	}
}

// EnabledTiers returns the tiers that are not disabled and have a key.
func (c *Config) EnabledTiers() []TierConfig {
	out := make([]TierConfig, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.Disabled || t.APIKey == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// String returns a JSON representation of the config with keys masked
func (c *Config) String() string {
	masked := *c
	masked.Tiers = make([]TierConfig, len(c.Tiers))
	for i, t := range c.Tiers {
		if t.APIKey != "" {
			t.APIKey = "***"
		}
		masked.Tiers[i] = t
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	if c.ToolServer.URL == "" {
		errs = append(errs, errors.New("tool_server.url is required"))
	} else if u, err := url.Parse(c.ToolServer.URL); err != nil {
		errs = append(errs, fmt.Errorf("tool_server.url: %w", err))
	} else {
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			errs = append(errs, fmt.Errorf("tool_server.url: unsupported scheme %q", u.Scheme))
		}
	}

	if len(c.Tiers) == 0 {
		errs = append(errs, errors.New("at least one model tier must be configured"))
	}
	for i, t := range c.Tiers {
		switch t.Provider {
		case ProviderGoogle, ProviderAnthropic, ProviderOpenAI:
		default:
			errs = append(errs, fmt.Errorf("tier %d: invalid provider %q (must be: google, anthropic, openai)", i, t.Provider))
		}
		if t.Model == "" {
			errs = append(errs, fmt.Errorf("tier %d: model is required", i))
		}
		switch t.Role {
		case "", "standard", "fallback", "reasoning":
		default:
			errs = append(errs, fmt.Errorf("tier %d: invalid role %q", i, t.Role))
		}
		if t.MaxRetriesInTier != nil && *t.MaxRetriesInTier < 0 {
			errs = append(errs, fmt.Errorf("tier %d: max_retries_in_tier must be >= 0", i))
		}
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must be >= 0"))
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("retry.backoff_multiplier must be >= 1"))
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		errs = append(errs, errors.New("retry.max_delay must be >= retry.initial_delay"))
	}

	if c.Orchestrator.MaxSteps <= 0 {
		errs = append(errs, errors.New("orchestrator.max_steps must be > 0"))
	}
	if c.Agents.ReaderMaxSteps <= 0 || c.Agents.IntegratorReadSteps <= 0 || c.Agents.IntegratorWriteSteps <= 0 {
		errs = append(errs, errors.New("agent step budgets must be > 0"))
	}
	if c.Metrics.Capacity <= 0 {
		errs = append(errs, errors.New("metrics.capacity must be > 0"))
	}

	switch c.Reasoning.Level {
	case "", "off", "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("invalid reasoning level %q", c.Reasoning.Level))
	}

	return errors.Join(errs...)
}
