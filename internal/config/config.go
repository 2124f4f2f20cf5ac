// Package config loads service configuration from defaults, an optional YAML
// file, and TASKFLOW_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Gurpartap/taskflow/policy/guardrail"
)

const EnvPrefix = "TASKFLOW"

type ModelProvider string

const (
	ModelProviderNone      ModelProvider = "none"
	ModelProviderOpenAI    ModelProvider = "openai"
	ModelProviderAnthropic ModelProvider = "anthropic"
	ModelProviderGemini    ModelProvider = "gemini"
)

type NotionMode string

const (
	NotionModeMemory NotionMode = "memory"
	NotionModeAPI    NotionMode = "api"
)

type StoreDriver string

const (
	StoreDriverMemory StoreDriver = "memory"
	StoreDriverSQLite StoreDriver = "sqlite"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config controls the service and the chat command.
type Config struct {
	HTTP      HTTPConfig
	LogFormat LogFormat
	LogLevel  slog.Level
	Model     ModelConfig
	Notion    NotionConfig
	Store     StoreConfig
	Guardrail guardrail.Policy
	// TemplatesDir, when set, replaces the built-in workflow templates.
	TemplatesDir string
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestTimeout bounds one mutating request, including the model and
	// Notion calls it triggers.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// AuthToken enables bearer authentication on /v1 and /ws routes.
	AuthToken string `mapstructure:"auth_token"`
	// RateLimit is the per-client request rate; zero disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type ModelConfig struct {
	Provider    ModelProvider `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Name        string        `mapstructure:"name"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type NotionConfig struct {
	Mode              NotionMode    `mapstructure:"mode"`
	Token             string        `mapstructure:"token"`
	BaseURL           string        `mapstructure:"base_url"`
	TaskDatabaseID    string        `mapstructure:"task_database_id"`
	ProjectDatabaseID string        `mapstructure:"project_database_id"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type StoreConfig struct {
	Driver StoreDriver `mapstructure:"driver"`
	Path   string      `mapstructure:"path"`
}

// file mirrors the YAML layout; log level and format are parsed separately.
type file struct {
	HTTP      HTTPConfig       `mapstructure:"http"`
	Log       logFile          `mapstructure:"log"`
	Model     ModelConfig      `mapstructure:"model"`
	Notion    NotionConfig     `mapstructure:"notion"`
	Store     StoreConfig      `mapstructure:"store"`
	Guardrail guardrail.Policy `mapstructure:"guardrail"`
	Workflow  workflowFile     `mapstructure:"workflow"`
}

type logFile struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type workflowFile struct {
	TemplatesDir string `mapstructure:"templates_dir"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			ShutdownTimeout: 5 * time.Second,
			RequestTimeout:  2 * time.Minute,
			RateBurst:       10,
		},
		LogFormat: LogFormatText,
		LogLevel:  slog.LevelInfo,
		Model: ModelConfig{
			Provider:    ModelProviderNone,
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
		Notion: NotionConfig{
			Mode:              NotionModeMemory,
			RequestsPerSecond: 3,
			Timeout:           15 * time.Second,
		},
		Store: StoreConfig{
			Driver: StoreDriverMemory,
			Path:   "taskflow.db",
		},
		Guardrail: guardrail.Default(),
	}
}

// Load reads configuration. path may be empty; a named file must exist.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Provider-native variables are honoured when the prefixed ones are unset.
	_ = v.BindEnv("model.api_key", "TASKFLOW_MODEL_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("notion.token", "TASKFLOW_NOTION_TOKEN", "NOTION_API_KEY")
	_ = v.BindEnv("notion.task_database_id", "TASKFLOW_NOTION_TASK_DATABASE_ID", "NOTION_TASK_DATABASE_ID", "NOTION_DATABASE_ID")
	_ = v.BindEnv("notion.project_database_id", "TASKFLOW_NOTION_PROJECT_DATABASE_ID", "NOTION_PROJECT_DATABASE_ID")

	var raw file
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	level, err := parseLogLevel(raw.Log.Level)
	if err != nil {
		return Config{}, err
	}
	format, err := parseLogFormat(raw.Log.Format)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		HTTP:         raw.HTTP,
		LogFormat:    format,
		LogLevel:     level,
		Model:        raw.Model,
		Notion:       raw.Notion,
		Store:        raw.Store,
		Guardrail:    raw.Guardrail,
		TemplatesDir: strings.TrimSpace(raw.Workflow.TemplatesDir),
	}
	cfg.Model.Provider = ModelProvider(strings.ToLower(strings.TrimSpace(string(cfg.Model.Provider))))
	cfg.Notion.Mode = NotionMode(strings.ToLower(strings.TrimSpace(string(cfg.Notion.Mode))))
	cfg.Store.Driver = StoreDriver(strings.ToLower(strings.TrimSpace(string(cfg.Store.Driver))))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout)
	v.SetDefault("http.request_timeout", cfg.HTTP.RequestTimeout)
	v.SetDefault("http.auth_token", cfg.HTTP.AuthToken)
	v.SetDefault("http.rate_limit", cfg.HTTP.RateLimit)
	v.SetDefault("http.rate_burst", cfg.HTTP.RateBurst)

	v.SetDefault("log.level", cfg.LogLevel.String())
	v.SetDefault("log.format", string(cfg.LogFormat))

	v.SetDefault("model.provider", string(cfg.Model.Provider))
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.name", cfg.Model.Name)
	v.SetDefault("model.base_url", cfg.Model.BaseURL)
	v.SetDefault("model.timeout", cfg.Model.Timeout)
	v.SetDefault("model.max_attempts", cfg.Model.MaxAttempts)

	v.SetDefault("notion.mode", string(cfg.Notion.Mode))
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.base_url", cfg.Notion.BaseURL)
	v.SetDefault("notion.task_database_id", "")
	v.SetDefault("notion.project_database_id", "")
	v.SetDefault("notion.requests_per_second", cfg.Notion.RequestsPerSecond)
	v.SetDefault("notion.timeout", cfg.Notion.Timeout)

	v.SetDefault("store.driver", string(cfg.Store.Driver))
	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("guardrail.keywords", cfg.Guardrail.Keywords)
	v.SetDefault("workflow.templates_dir", "")
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("validate config: http.addr is required")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("validate config: http.shutdown_timeout must be > 0")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return errors.New("validate config: http.request_timeout must be > 0")
	}
	if c.HTTP.RateLimit < 0 {
		return errors.New("validate config: http.rate_limit must be >= 0")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst < 1 {
		return errors.New("validate config: http.rate_burst must be >= 1 when rate limiting")
	}

	switch c.Model.Provider {
	case ModelProviderNone:
	case ModelProviderOpenAI, ModelProviderAnthropic, ModelProviderGemini:
		if strings.TrimSpace(c.Model.APIKey) == "" {
			return fmt.Errorf("validate config: model provider %q requires %s_MODEL_API_KEY", c.Model.Provider, EnvPrefix)
		}
		if c.Model.Timeout <= 0 {
			return errors.New("validate config: model.timeout must be > 0")
		}
		if c.Model.MaxAttempts < 1 {
			return errors.New("validate config: model.max_attempts must be >= 1")
		}
	default:
		return fmt.Errorf(
			"validate config: unsupported model.provider %q (allowed: %q, %q, %q, %q)",
			c.Model.Provider,
			ModelProviderNone,
			ModelProviderOpenAI,
			ModelProviderAnthropic,
			ModelProviderGemini,
		)
	}

	switch c.Notion.Mode {
	case NotionModeMemory:
	case NotionModeAPI:
		if strings.TrimSpace(c.Notion.Token) == "" {
			return fmt.Errorf("validate config: notion api mode requires %s_NOTION_TOKEN", EnvPrefix)
		}
		if strings.TrimSpace(c.Notion.TaskDatabaseID) == "" {
			return fmt.Errorf("validate config: notion api mode requires %s_NOTION_TASK_DATABASE_ID", EnvPrefix)
		}
		if c.Notion.RequestsPerSecond <= 0 {
			return errors.New("validate config: notion.requests_per_second must be > 0")
		}
	default:
		return fmt.Errorf(
			"validate config: unsupported notion.mode %q (allowed: %q, %q)",
			c.Notion.Mode,
			NotionModeMemory,
			NotionModeAPI,
		)
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			return errors.New("validate config: sqlite store requires store.path")
		}
	default:
		return fmt.Errorf(
			"validate config: unsupported store.driver %q (allowed: %q, %q)",
			c.Store.Driver,
			StoreDriverMemory,
			StoreDriverSQLite,
		)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("validate config: unsupported log format %q", c.LogFormat)
	}
	return nil
}

// OverrideLogging applies command-line log settings; empty values keep the
// loaded ones.
func (c *Config) OverrideLogging(level, format string) error {
	if strings.TrimSpace(level) != "" {
		parsed, err := parseLogLevel(level)
		if err != nil {
			return err
		}
		c.LogLevel = parsed
	}
	if strings.TrimSpace(format) != "" {
		parsed, err := parseLogFormat(format)
		if err != nil {
			return err
		}
		c.LogFormat = parsed
	}
	return nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf(
			"parse log.level: unsupported value %q (allowed: %q, %q, %q, %q)",
			input,
			slog.LevelDebug.String(),
			slog.LevelInfo.String(),
			slog.LevelWarn.String(),
			slog.LevelError.String(),
		)
	}
}

func parseLogFormat(input string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf(
			"parse log.format: unsupported value %q (allowed: %q, %q)",
			input,
			LogFormatText,
			LogFormatJSON,
		)
	}
}
