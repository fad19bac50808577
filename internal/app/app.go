package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Bmw4134/portalflow/internal/browser"
	"github.com/Bmw4134/portalflow/internal/config"
	"github.com/Bmw4134/portalflow/internal/infrastructure"
	"github.com/Bmw4134/portalflow/internal/security"
	"github.com/Bmw4134/portalflow/internal/store"
	"github.com/Bmw4134/portalflow/internal/tasks"
	transporthttp "github.com/Bmw4134/portalflow/internal/transport/http"
	"github.com/Bmw4134/portalflow/internal/websocket"
	"github.com/Bmw4134/portalflow/internal/workflow"
)

const (
	// AppName is the service name used in logs and traces.
	AppName = "portalflow"
	// Version is stamped into health responses.
	Version = "0.1.0"
)

// Application wires the stores, browser controller, workflow engine and
// HTTP surface together and owns their lifecycle.
type Application struct {
	Config      *config.Config
	Logger      *slog.Logger
	Router      chi.Router
	Server      *http.Server
	Hub         *websocket.Hub
	Browser     *browser.Browser
	Controller  *browser.Controller
	Engine      *workflow.Engine
	Credentials *store.CredentialStore
	Sessions    *store.SessionStore
	Tracker     *tasks.Tracker
	Metrics     *infrastructure.BusinessMetrics

	registry        *prometheus.Registry
	shutdownTracing func(context.Context) error
}

// NewApplication builds a fully wired application from the configuration.
// Nothing is started yet; Run or Start drives the lifecycle.
func NewApplication(cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	if cfg.Security.VaultPassphrase == "" {
		return nil, fmt.Errorf("vault passphrase is not configured (set PORTALFLOW_SECURITY_VAULT_PASSPHRASE)")
	}
	vault, err := security.NewVault(cfg.Security.VaultPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential vault: %w", err)
	}

	credentials, err := store.NewCredentialStore(cfg.CredentialsPath(), vault, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	sessions, err := store.NewSessionStore(cfg.SessionsPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	shutdownTracing, err := infrastructure.InitializeTracing(AppName, traceWriter(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := infrastructure.NewBusinessMetrics(registry)

	tracker := tasks.NewTracker(logger)
	hub := websocket.NewHub(cfg.WebSocket, logger)

	chrome := browser.NewBrowser(cfg.Browser, logger)
	controller := browser.NewController(
		cfg.Browser,
		chrome,
		credentials,
		sessions,
		tracker,
		browser.DefaultSelectors(),
		metrics,
		logger,
	)

	broadcaster := workflow.NewBroadcaster(hub, logger)
	dispatcher := workflow.NewActionDispatcher(controller, broadcaster, &http.Client{Timeout: 30 * time.Second}, logger)
	engine := workflow.NewEngine(cfg.Workflow, dispatcher, broadcaster, metrics, logger)
	dispatcher.SetTrigger(func(ctx context.Context, workflowID string) error {
		_, err := engine.Start(ctx, workflowID)
		return err
	})

	if err := registerTemplates(engine, cfg.Workflow.TemplatesFile, logger); err != nil {
		return nil, err
	}

	app := &Application{
		Config:          cfg,
		Logger:          logger,
		Hub:             hub,
		Browser:         chrome,
		Controller:      controller,
		Engine:          engine,
		Credentials:     credentials,
		Sessions:        sessions,
		Tracker:         tracker,
		Metrics:         metrics,
		registry:        registry,
		shutdownTracing: shutdownTracing,
	}

	app.Router = transporthttp.NewRouter(transporthttp.RouterConfig{
		Workflows:   engine,
		Credentials: credentials,
		Tracker:     tracker,
		Hub:         hub,
		Metrics:     registry,
		Logger:      logger,
		Version:     Version,
	})
	app.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// registerTemplates loads the built-in workflow templates plus any
// operator-provided templates file.
func registerTemplates(engine *workflow.Engine, templatesFile string, logger *slog.Logger) error {
	builtin, err := workflow.BuiltinTemplates()
	if err != nil {
		return fmt.Errorf("failed to load built-in templates: %w", err)
	}
	if err := engine.RegisterAll(builtin); err != nil {
		return fmt.Errorf("failed to register built-in templates: %w", err)
	}

	if templatesFile == "" {
		return nil
	}
	extra, err := workflow.LoadTemplateFile(templatesFile)
	if err != nil {
		return fmt.Errorf("failed to load templates file %s: %w", templatesFile, err)
	}
	if err := engine.RegisterAll(extra); err != nil {
		return fmt.Errorf("failed to register templates from %s: %w", templatesFile, err)
	}

	logger.Info("workflow templates loaded",
		slog.Int("builtin", len(builtin)),
		slog.Int("from_file", len(extra)),
		slog.String("templates_file", templatesFile),
	)
	return nil
}

// traceWriter routes spans next to the log file when file logging is on,
// and discards them otherwise.
func traceWriter(cfg *config.Config, logger *slog.Logger) io.Writer {
	switch cfg.Logging.Output {
	case "file", "both":
		path := filepath.Join(filepath.Dir(cfg.Logging.FilePath), "traces.log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			logger.Warn("failed to open trace file, discarding spans",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return io.Discard
		}
		return f
	default:
		return io.Discard
	}
}

// Start launches the background services and the HTTP server. A server
// error cancels the supplied context instead of exiting the process.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting application",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level),
	)

	a.Hub.Start()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
		slog.Int("registered_workflows", len(a.Engine.List())),
	)
	return nil
}

// Stop gracefully shuts the application down: HTTP server first, then the
// browser, the websocket hub, and finally a session flush so captured
// sessions survive the restart.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("server shutdown error: %w", err)
	}

	a.Browser.Close()
	a.Hub.Stop()

	if err := a.Sessions.Flush(); err != nil {
		a.Logger.ErrorContext(ctx, "failed to flush session store", slog.String("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	}

	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "failed to shut down tracing", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return firstErr
}

// Run runs the application until interrupted.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
