// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Healer HealerConfig `mapstructure:"healer" yaml:"healer"`
	Runner RunnerConfig `mapstructure:"runner" yaml:"runner"`
	Store  StoreConfig  `mapstructure:"store" yaml:"store"`
	Agent  AgentConfig  `mapstructure:"agent" yaml:"agent"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// HealerConfig tunes the self-healing retry engine.
type HealerConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// SearchRoots are the directories scanned by the patch applier,
	// typically the page-object and locator-definition trees.
	SearchRoots []string `mapstructure:"search_roots" yaml:"search_roots"`
	// AuditDir, when set, receives a JSON dump of the attempt history
	// after every session.
	AuditDir string `mapstructure:"audit_dir" yaml:"audit_dir"`
	// RestoreOnFailure reverts all patched files to their original
	// content when a session ends without success.
	RestoreOnFailure bool `mapstructure:"restore_on_failure" yaml:"restore_on_failure"`
}

// RunnerConfig describes how to invoke the external test harness.
type RunnerConfig struct {
	// Command is the argv of the test runner, e.g. ["npx", "playwright", "test"].
	Command []string `mapstructure:"command" yaml:"command"`
	// ScriptFile is the path, relative to WorkDir, where the session's
	// current script content is written before each run.
	ScriptFile string        `mapstructure:"script_file" yaml:"script_file"`
	WorkDir    string        `mapstructure:"work_dir" yaml:"work_dir"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig selects the candidate store backend.
type StoreConfig struct {
	// Type is "file" (capture snapshot on disk) or "postgres".
	Type     string         `mapstructure:"type" yaml:"type"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the connection details for a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// DSN renders the config as a pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}

// AgentConfig holds settings for the reasoning service and its use.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	// SelectionTimeout bounds the reasoning-service call made by the
	// selection policy. On expiry the policy degrades to the static
	// priority ordering.
	SelectionTimeout time.Duration `mapstructure:"selection_timeout" yaml:"selection_timeout"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "suture-cli")
	v.SetDefault("logger.log_file", "suture.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Healer --
	v.SetDefault("healer.max_attempts", 5)
	v.SetDefault("healer.search_roots", []string{"pages", "locators"})
	v.SetDefault("healer.restore_on_failure", false)

	// -- Runner --
	v.SetDefault("runner.command", []string{"npx", "playwright", "test"})
	v.SetDefault("runner.script_file", "suture.heal.spec.ts")
	v.SetDefault("runner.work_dir", ".")
	v.SetDefault("runner.timeout", "5m")

	// -- Store --
	v.SetDefault("store.type", "file")
	v.SetDefault("store.path", "captures/elements.json")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", 5432)
	v.SetDefault("store.postgres.user", "postgres")
	v.SetDefault("store.postgres.dbname", "suture_captures")
	v.SetDefault("store.postgres.sslmode", "disable")

	// -- Agent --
	v.SetDefault("agent.selection_timeout", "30s")
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("store.postgres.password", "SUTURE_STORE_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// API keys never live in the config file.
	for name, m := range cfg.Agent.LLM.Models {
		if m.APIKey == "" {
			m.APIKey = os.Getenv("SUTURE_LLM_API_KEY")
			cfg.Agent.LLM.Models[name] = m
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Healer.MaxAttempts <= 0 {
		return fmt.Errorf("healer.max_attempts must be a positive integer")
	}
	if len(c.Runner.Command) == 0 {
		return fmt.Errorf("runner.command must not be empty")
	}
	if c.Runner.Timeout <= 0 {
		return fmt.Errorf("runner.timeout must be a positive duration")
	}
	if c.Agent.SelectionTimeout <= 0 {
		return fmt.Errorf("agent.selection_timeout must be a positive duration")
	}
	switch c.Store.Type {
	case "file":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the file store")
		}
	case "postgres":
		if c.Store.Postgres.Host == "" || c.Store.Postgres.DBName == "" {
			return fmt.Errorf("store.postgres.host and store.postgres.dbname are required")
		}
	default:
		return fmt.Errorf("unknown store.type '%s' (supported: file, postgres)", c.Store.Type)
	}
	return nil
}
