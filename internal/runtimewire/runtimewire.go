// Package runtimewire composes the task-filing runtime from configuration:
// model provider, Notion tools, run store, event sinks and the workflow
// engine.
package runtimewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Gurpartap/taskflow/adapters/modelanthropic"
	"github.com/Gurpartap/taskflow/adapters/modelgemini"
	"github.com/Gurpartap/taskflow/adapters/modelopenai"
	"github.com/Gurpartap/taskflow/agent"
	"github.com/Gurpartap/taskflow/internal/config"
	"github.com/Gurpartap/taskflow/internal/metrics"
	"github.com/Gurpartap/taskflow/internal/runstream"
	"github.com/Gurpartap/taskflow/notion"
	"github.com/Gurpartap/taskflow/policy/guardrail"
	"github.com/Gurpartap/taskflow/policy/retry"
	runstoreinmem "github.com/Gurpartap/taskflow/runstore/inmem"
	runstoresqlite "github.com/Gurpartap/taskflow/runstore/sqlite"
	"github.com/Gurpartap/taskflow/tooling/notiontool"
	"github.com/Gurpartap/taskflow/tooling/registry"
	"github.com/Gurpartap/taskflow/tooling/texttool"
	"github.com/Gurpartap/taskflow/workflow"
)

// Options overrides collaborators that would otherwise be built from config.
type Options struct {
	Model       agent.Model
	Notion      notiontool.Client
	IDGenerator agent.IDGenerator
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Runtime contains the composed runtime dependencies.
type Runtime struct {
	Runner          *agent.Runner
	RunStore        agent.RunStore
	StreamBroker    *runstream.Broker
	Metrics         *metrics.Metrics
	Catalog         *workflow.Catalog
	ToolDefinitions []agent.ToolDefinition

	lister  Lister
	closers []func() error
}

// Lister is implemented by stores that can enumerate sessions.
type Lister interface {
	List(ctx context.Context, limit int) ([]runstoresqlite.Summary, error)
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		return nil, errors.New("new runtime: nil logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new runtime: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rt := &Runtime{
		StreamBroker: runstream.New(runstream.DefaultHistoryLimit),
		Metrics:      opts.Metrics,
	}
	if rt.Metrics == nil {
		rt.Metrics = metrics.New()
	}

	store, err := rt.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.RunStore = store

	catalog, err := loadCatalog(cfg.TemplatesDir)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("new runtime catalog: %w", err)
	}
	rt.Catalog = catalog

	model := opts.Model
	if model == nil {
		model, err = NewModel(ctx, cfg.Model)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	if model != nil {
		model = retry.WrapModel(model, retryConfig(cfg.Model.MaxAttempts, logger, "model"))
		model = guardrail.WrapModel(model, cfg.Guardrail)
	}

	notionClient := opts.Notion
	if notionClient == nil {
		notionClient, err = NewNotion(cfg.Notion)
		if err != nil {
			rt.Close()
			return nil, err
		}
	}
	tools, err := registry.New(append(notiontool.Tools(notionClient), texttool.Tools(opts.Now)...)...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("new runtime tools: %w", err)
	}
	rt.ToolDefinitions = tools.Definitions()
	executor := retry.WrapToolExecutor(tools, retryConfig(cfg.Model.MaxAttempts, logger, "tool"))
	executor = guardrail.WrapToolExecutor(executor, cfg.Guardrail)

	events := newFanoutSink(rt.StreamBroker, rt.Metrics, newRuntimeEventLogSink(logger))

	guard := cfg.Guardrail
	engine, err := workflow.New(workflow.Config{
		Model:     model,
		Tools:     executor,
		Events:    events,
		Catalog:   catalog,
		Guardrail: &guard,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("new runtime engine: %w", err)
	}

	idGen := opts.IDGenerator
	if idGen == nil {
		idGen = uuidGenerator{}
	}
	runner, err := agent.NewRunner(agent.Dependencies{
		IDGenerator: idGen,
		RunStore:    store,
		Engine:      engine,
		EventSink:   events,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("new runtime runner: %w", err)
	}
	rt.Runner = runner

	logger.Info("runtime ready",
		slog.String("model_provider", string(cfg.Model.Provider)),
		slog.String("notion_mode", string(cfg.Notion.Mode)),
		slog.String("store", string(cfg.Store.Driver)),
		slog.Any("workflows", catalog.Names()),
	)
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg config.StoreConfig) (agent.RunStore, error) {
	switch cfg.Driver {
	case config.StoreDriverSQLite:
		store, err := runstoresqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("new runtime store: %w", err)
		}
		rt.lister = store
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	default:
		return runstoreinmem.New(), nil
	}
}

// Sessions lists recent sessions when the store supports it.
func (rt *Runtime) Sessions(ctx context.Context, limit int) ([]runstoresqlite.Summary, bool, error) {
	if rt.lister == nil {
		return nil, false, nil
	}
	summaries, err := rt.lister.List(ctx, limit)
	return summaries, true, err
}

// Close releases store handles.
func (rt *Runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, rt.closers[i]())
	}
	rt.closers = nil
	return err
}

// NewModel builds the configured provider adapter, or nil for provider none.
func NewModel(ctx context.Context, cfg config.ModelConfig) (agent.Model, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Provider {
	case config.ModelProviderOpenAI:
		model, err := modelopenai.New(modelopenai.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Name,
			BaseURL:    cfg.BaseURL,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("new runtime model: %w", err)
		}
		return model, nil
	case config.ModelProviderAnthropic:
		model, err := modelanthropic.New(modelanthropic.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Name,
			BaseURL:    cfg.BaseURL,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("new runtime model: %w", err)
		}
		return model, nil
	case config.ModelProviderGemini:
		model, err := modelgemini.New(ctx, modelgemini.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Name,
			BaseURL:    cfg.BaseURL,
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("new runtime model: %w", err)
		}
		return model, nil
	default:
		return nil, nil
	}
}

// NewNotion returns the live API client or an in-memory stand-in.
func NewNotion(cfg config.NotionConfig) (notiontool.Client, error) {
	if cfg.Mode != config.NotionModeAPI {
		return notiontool.NewMemory(nil), nil
	}
	client, err := notion.New(notion.Config{
		Token:             cfg.Token,
		BaseURL:           cfg.BaseURL,
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		RequestsPerSecond: cfg.RequestsPerSecond,
		TaskDatabaseID:    cfg.TaskDatabaseID,
		ProjectDatabaseID: cfg.ProjectDatabaseID,
	})
	if err != nil {
		return nil, fmt.Errorf("new runtime notion: %w", err)
	}
	return client, nil
}

func loadCatalog(dir string) (*workflow.Catalog, error) {
	if strings.TrimSpace(dir) == "" {
		return workflow.BuiltinCatalog()
	}
	return workflow.LoadCatalog(os.DirFS(dir), ".")
}

func retryConfig(attempts int, logger *slog.Logger, target string) retry.Config {
	return retry.Config{
		MaxAttempts: attempts,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    4 * time.Second,
		ShouldRetry: func(err error) bool {
			if errors.Is(err, guardrail.ErrBlocked) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			var retryable retry.Retryable
			if errors.As(err, &retryable) {
				return retryable.Retryable()
			}
			return true
		},
		OnRetry: func(attempt int, err error) {
			logger.Warn("retrying call", slog.String("target", target), slog.Int("attempt", attempt), slog.Any("err", err))
		},
	}
}

type fanoutSink struct {
	sinks []agent.EventSink
}

func newFanoutSink(sinks ...agent.EventSink) fanoutSink {
	filtered := make([]agent.EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return fanoutSink{sinks: filtered}
}

func (s fanoutSink) Publish(ctx context.Context, event agent.Event) error {
	var result error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}

// uuidGenerator issues globally unique session IDs.
type uuidGenerator struct{}

func (uuidGenerator) NewRunID(ctx context.Context) (agent.RunID, error) {
	if ctx == nil {
		return "", agent.ErrContextNil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("new session id: %w", err)
	}
	return agent.RunID("session-" + id.String()), nil
}
