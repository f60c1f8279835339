// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	Redis() RedisConfig
	Browser() BrowserConfig
	Agent() AgentConfig
	LLM() LLMModelConfig
	Memory() MemoryConfig
	Search() SearchConfig

	// CLI overrides
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)
	SetAgentMaxIterations(int)
	SetAgentScreenshotEachStep(bool)
	SetLLMModel(string)
}

// Config holds the entire application configuration.
// Sections are exported for viper; components read them through the Interface getters.
type Config struct {
	LoggerCfg  LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	ServerCfg  ServerConfig   `mapstructure:"server" yaml:"server"`
	RedisCfg   RedisConfig    `mapstructure:"redis" yaml:"redis"`
	BrowserCfg BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AgentCfg   AgentConfig    `mapstructure:"agent" yaml:"agent"`
	LLMCfg     LLMModelConfig `mapstructure:"llm" yaml:"llm"`
	MemoryCfg  MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	SearchCfg  SearchConfig   `mapstructure:"search" yaml:"search"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Server() ServerConfig   { return c.ServerCfg }
func (c *Config) Redis() RedisConfig     { return c.RedisCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Agent() AgentConfig     { return c.AgentCfg }
func (c *Config) LLM() LLMModelConfig    { return c.LLMCfg }
func (c *Config) Memory() MemoryConfig   { return c.MemoryCfg }
func (c *Config) Search() SearchConfig   { return c.SearchCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)         { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string)      { c.BrowserCfg.RemoteURL = u }
func (c *Config) SetAgentMaxIterations(n int)       { c.AgentCfg.MaxIterations = n }
func (c *Config) SetAgentScreenshotEachStep(b bool) { c.AgentCfg.ScreenshotEachStep = b }
func (c *Config) SetLLMModel(m string)              { c.LLMCfg.Model = m }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// RateLimitRequests per RateLimitWindow, per client.
	RateLimitRequests int           `mapstructure:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`
	BypassKey         string        `mapstructure:"bypass_key" yaml:"bypass_key"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MetricsEnabled    bool          `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// RedisConfig holds the shared admission and backend registry settings.
type RedisConfig struct {
	URL                string `mapstructure:"url" yaml:"url"`
	RunningTasksKey    string `mapstructure:"running_tasks_key" yaml:"running_tasks_key"`
	EndpointsKey       string `mapstructure:"endpoints_key" yaml:"endpoints_key"`
	MaxConcurrentTasks int    `mapstructure:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	// BrowserPoolSize is the per-backend session capacity.
	BrowserPoolSize int `mapstructure:"browser_pool_size" yaml:"browser_pool_size"`
	// Backends seeds the registry at startup, keyed by backend name.
	Backends map[string]string `mapstructure:"backends" yaml:"backends"`
}

// BrowserConfig holds settings for the browser sessions.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless" yaml:"headless"`
	Args     []string `mapstructure:"args" yaml:"args"`
	// RemoteURL, when set, attaches to an existing DevTools websocket instead of launching Chrome.
	RemoteURL          string         `mapstructure:"remote_url" yaml:"remote_url"`
	Viewport           map[string]int `mapstructure:"viewport" yaml:"viewport"`
	ConnectTimeout     time.Duration  `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	NetworkIdleTimeout time.Duration  `mapstructure:"network_idle_timeout" yaml:"network_idle_timeout"`
	NetworkQuietPeriod time.Duration  `mapstructure:"network_quiet_period" yaml:"network_quiet_period"`
	HealthPath         string         `mapstructure:"health_path" yaml:"health_path"`
	HealthRetries      int            `mapstructure:"health_retries" yaml:"health_retries"`
	HealthInterval     time.Duration  `mapstructure:"health_interval" yaml:"health_interval"`
}

// AgentConfig holds settings for the decision loop.
type AgentConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	WaitBetweenActions time.Duration `mapstructure:"wait_between_actions" yaml:"wait_between_actions"`
	ScreenshotEachStep bool          `mapstructure:"screenshot_each_step" yaml:"screenshot_each_step"`
	Memorize           bool          `mapstructure:"memorize" yaml:"memorize"`
	HiddenTools        []string      `mapstructure:"hidden_tools" yaml:"hidden_tools"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
	ProviderOpenAI LLMProvider = "openai"
)

// LLMModelConfig defines the configuration for the model used by the agent.
type LLMModelConfig struct {
	Provider        LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model           string        `mapstructure:"model" yaml:"model"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout      time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature     float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP            float32       `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	ReasoningEffort string        `mapstructure:"reasoning_effort" yaml:"reasoning_effort"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// MemoryConfig selects where successful runs are persisted.
type MemoryConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"` // file | postgres
	Path        string `mapstructure:"path" yaml:"path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// SearchConfig configures the web_search tool's HTTP client.
type SearchConfig struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	UserAgent  string        `mapstructure:"user_agent" yaml:"user_agent"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RatePerSec float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
	MaxResults int           `mapstructure:"max_results" yaml:"max_results"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_requests", 1)
	v.SetDefault("server.rate_limit_window", "60s")
	v.SetDefault("server.bypass_key", "")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.metrics_enabled", true)

	// -- Redis --
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.running_tasks_key", "running-tasks")
	v.SetDefault("redis.endpoints_key", "ws-endpoints")
	v.SetDefault("redis.max_concurrent_tasks", 10)
	v.SetDefault("redis.browser_pool_size", 3)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.connect_timeout", "30s")
	v.SetDefault("browser.network_idle_timeout", "5s")
	v.SetDefault("browser.network_quiet_period", "500ms")
	v.SetDefault("browser.health_path", "/health")
	v.SetDefault("browser.health_retries", 10)
	v.SetDefault("browser.health_interval", "5s")

	// -- Agent --
	v.SetDefault("agent.max_iterations", 100)
	v.SetDefault("agent.wait_between_actions", "1s")
	v.SetDefault("agent.screenshot_each_step", false)
	v.SetDefault("agent.memorize", false)
	v.SetDefault("agent.hidden_tools", []string{"get_html", "get_markdown"})

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.api_timeout", "120s")
	v.SetDefault("llm.temperature", 0.4)
	v.SetDefault("llm.top_p", 1.0)
	v.SetDefault("llm.max_tokens", 19334)
	v.SetDefault("llm.reasoning_effort", "disable")
	v.SetDefault("llm.max_retries", 3)

	// -- Memory --
	v.SetDefault("memory.backend", "file")
	v.SetDefault("memory.path", "")
	v.SetDefault("memory.postgres_url", "")

	// -- Search --
	v.SetDefault("search.endpoint", "https://html.duckduckgo.com/html/")
	v.SetDefault("search.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36")
	v.SetDefault("search.timeout", "15s")
	v.SetDefault("search.rate_per_sec", 1.0)
	v.SetDefault("search.max_results", 10)
}

// NewConfigFromViper unmarshals and validates a configuration from a populated viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are commonly provided without the prefix.
	v.BindEnv("llm.api_key", "WEBPILOT_LLM_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("server.bypass_key", "WEBPILOT_SERVER_BYPASS_KEY", "BYPASS_RATE_LIMIT_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.MemoryCfg.Backend == "postgres" && cfg.MemoryCfg.PostgresURL == "" {
		cfg.MemoryCfg.PostgresURL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RedisCfg.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("redis.max_concurrent_tasks must be a positive integer")
	}
	if c.RedisCfg.BrowserPoolSize <= 0 {
		return fmt.Errorf("redis.browser_pool_size must be a positive integer")
	}
	if c.AgentCfg.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be a positive integer")
	}
	if c.AgentCfg.WaitBetweenActions < 0 {
		return fmt.Errorf("agent.wait_between_actions must not be negative")
	}
	if c.ServerCfg.RateLimitRequests < 0 {
		return fmt.Errorf("server.rate_limit_requests must not be negative")
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if err := c.MemoryCfg.Validate(); err != nil {
		return fmt.Errorf("memory configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the model settings.
func (l *LLMModelConfig) Validate() error {
	switch l.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported provider %q", l.Provider)
	}
	if l.Model == "" {
		return fmt.Errorf("model is required")
	}
	if l.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if l.TopP <= 0 || l.TopP > 1 {
		return fmt.Errorf("top_p must be in (0, 1]")
	}
	return nil
}

// Validate checks the memory backend selection.
func (m *MemoryConfig) Validate() error {
	switch m.Backend {
	case "file":
		return nil
	case "postgres":
		if m.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres backend")
		}
		return nil
	default:
		return fmt.Errorf("unknown backend %q", m.Backend)
	}
}
