// Package app owns the HTTP server lifecycle around the composed runtime.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/Gurpartap/taskflow/internal/config"
	"github.com/Gurpartap/taskflow/internal/httpapi"
	"github.com/Gurpartap/taskflow/internal/runtimewire"
)

// App serves the API, health checks and metrics.
type App struct {
	cfg               config.Config
	logger            *slog.Logger
	runtime           *runtimewire.Runtime
	server            *http.Server
	cancelServerScope context.CancelFunc
	ready             atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger, runtime *runtimewire.Runtime) (*App, error) {
	if logger == nil {
		return nil, errors.New("new app: nil logger")
	}
	if runtime == nil {
		return nil, errors.New("new app: nil runtime")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new app config: %w", err)
	}

	serverScopeCtx, cancelServerScope := context.WithCancel(context.Background())
	a := &App{
		cfg:               cfg,
		logger:            logger,
		runtime:           runtime,
		cancelServerScope: cancelServerScope,
	}

	apiRouter := httpapi.NewRouter(runtime, httpapi.PolicyConfig{
		AuthToken:      cfg.HTTP.AuthToken,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RatePerSecond:  cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
	})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	mux.Handle("GET /metrics", runtime.Metrics.Handler())
	mux.Handle("/", apiRouter)
	handler := requestLoggingMiddleware(logger, runtime.Metrics)(mux)
	a.server = &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return serverScopeCtx
		},
	}

	return a, nil
}

// Handler exposes the full handler chain.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

func (a *App) Start() error {
	listener, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTP.Addr, err)
	}
	return a.Serve(listener)
}

// Serve accepts connections on listener until Shutdown.
func (a *App) Serve(listener net.Listener) error {
	a.ready.Store(true)
	a.logger.Info("http server listening", slog.String("addr", listener.Addr().String()))

	err := a.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	a.ready.Store(false)
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown: nil context")
	}
	a.ready.Store(false)
	a.cancelServerScope()

	err := a.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.logger.Warn("graceful shutdown timed out; forcing connection close")
		if closeErr := a.server.Close(); closeErr != nil {
			return fmt.Errorf("shutdown timeout and forced close failed: %w", errors.Join(err, closeErr))
		}
		return nil
	}
	return err
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

func (a *App) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !a.ready.Load() {
		writePlain(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writePlain(w, http.StatusOK, "ready")
}

func writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
