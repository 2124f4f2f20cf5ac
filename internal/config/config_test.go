package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		input string
		want  slog.Level
		ok    bool
	}{
		{name: "empty", input: "", want: slog.LevelInfo, ok: true},
		{name: "debug", input: "debug", want: slog.LevelDebug, ok: true},
		{name: "warning", input: "warning", want: slog.LevelWarn, ok: true},
		{name: "uppercase", input: "ERROR", want: slog.LevelError, ok: true},
		{name: "invalid", input: "trace", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			level, err := parseLogLevel(tc.input)
			if !tc.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, level)
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	t.Parallel()

	format, err := parseLogFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, LogFormatJSON, format)

	format, err = parseLogFormat("")
	require.NoError(t, err)
	require.Equal(t, LogFormatText, format)

	_, err = parseLogFormat("pretty")
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, ModelProviderNone, cfg.Model.Provider)
	require.Equal(t, NotionModeMemory, cfg.Notion.Mode)
	require.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	require.NotEmpty(t, cfg.Guardrail.Keywords)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "default", mutate: func(*Config) {}, ok: true},
		{name: "empty addr", mutate: func(c *Config) { c.HTTP.Addr = " " }},
		{name: "rate limit without burst", mutate: func(c *Config) {
			c.HTTP.RateLimit = 5
			c.HTTP.RateBurst = 0
		}},
		{name: "provider without key", mutate: func(c *Config) { c.Model.Provider = ModelProviderOpenAI }},
		{name: "provider with key", mutate: func(c *Config) {
			c.Model.Provider = ModelProviderGemini
			c.Model.APIKey = "key"
		}, ok: true},
		{name: "unknown provider", mutate: func(c *Config) { c.Model.Provider = "llama" }},
		{name: "notion api without database", mutate: func(c *Config) {
			c.Notion.Mode = NotionModeAPI
			c.Notion.Token = "secret"
		}},
		{name: "notion api complete", mutate: func(c *Config) {
			c.Notion.Mode = NotionModeAPI
			c.Notion.Token = "secret"
			c.Notion.TaskDatabaseID = "db"
		}, ok: true},
		{name: "sqlite without path", mutate: func(c *Config) {
			c.Store.Driver = StoreDriverSQLite
			c.Store.Path = ""
		}},
		{name: "unknown store", mutate: func(c *Config) { c.Store.Driver = "postgres" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

const sampleFile = `
http:
  addr: 0.0.0.0:9090
  shutdown_timeout: 12s
  auth_token: file-token
log:
  level: debug
  format: json
store:
  driver: sqlite
  path: /tmp/runs.db
guardrail:
  keywords: [INTERNAL_ONLY]
  rules:
    - tool: add_task_to_notion_database
      argument: project
      contains: payroll
      reason: payroll tasks are filed manually
workflow:
  templates_dir: ./plans
`

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	t.Setenv("TASKFLOW_HTTP_AUTH_TOKEN", "env-token")
	t.Setenv("TASKFLOW_MODEL_PROVIDER", "Anthropic")
	t.Setenv("TASKFLOW_MODEL_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9090", cfg.HTTP.Addr)
	require.Equal(t, 12*time.Second, cfg.HTTP.ShutdownTimeout)
	require.Equal(t, "env-token", cfg.HTTP.AuthToken)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, LogFormatJSON, cfg.LogFormat)
	require.Equal(t, ModelProviderAnthropic, cfg.Model.Provider)
	require.Equal(t, "sk-test", cfg.Model.APIKey)
	require.Equal(t, 3, cfg.Model.MaxAttempts)
	require.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	require.Equal(t, "/tmp/runs.db", cfg.Store.Path)
	require.Equal(t, []string{"INTERNAL_ONLY"}, cfg.Guardrail.Keywords)
	require.Len(t, cfg.Guardrail.Rules, 1)
	require.Equal(t, "payroll", cfg.Guardrail.Rules[0].Contains)
	require.Equal(t, "./plans", cfg.TemplatesDir)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("TASKFLOW_STORE_DRIVER", "postgres")

	_, err := Load("")
	require.ErrorContains(t, err, "store.driver")
}

func TestOverrideLogging(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.OverrideLogging("", ""))
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, LogFormatText, cfg.LogFormat)

	require.NoError(t, cfg.OverrideLogging("warn", "json"))
	require.Equal(t, slog.LevelWarn, cfg.LogLevel)
	require.Equal(t, LogFormatJSON, cfg.LogFormat)

	require.Error(t, cfg.OverrideLogging("loud", ""))
	require.Error(t, cfg.OverrideLogging("", "xml"))
}
