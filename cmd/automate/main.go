package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Bmw4134/portalflow/internal/browser"
	"github.com/Bmw4134/portalflow/internal/config"
	"github.com/Bmw4134/portalflow/internal/infrastructure"
	"github.com/Bmw4134/portalflow/internal/security"
	"github.com/Bmw4134/portalflow/internal/store"
	"github.com/Bmw4134/portalflow/internal/tasks"
	"github.com/Bmw4134/portalflow/internal/workflow"
)

func main() {
	configFile := flag.String("config", "", "path to portalflow.yaml (defaults to PORTALFLOW_CONFIG or ./portalflow.yaml)")
	loginPlatform := flag.String("login", "", "one-shot login to the named platform and store the session")
	workflowID := flag.String("workflow", "", "run the named workflow to completion")
	templatesFile := flag.String("templates", "", "extra workflow templates file (overrides config)")
	headless := flag.Bool("headless", false, "run the browser headless (disables manual two-factor input)")
	timeout := flag.Duration("timeout", 30*time.Minute, "overall run timeout")
	flag.Parse()

	if (*loginPlatform == "") == (*workflowID == "") {
		fmt.Println("Usage: automate -login <platform> | -workflow <id>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Printf("Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Browser.Headless = *headless
	if *templatesFile != "" {
		cfg.Workflow.TemplatesFile = *templatesFile
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, *loginPlatform, *workflowID); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func run(ctx context.Context, cfg *config.Config, loginPlatform, workflowID string) error {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	if cfg.Security.VaultPassphrase == "" {
		return fmt.Errorf("vault passphrase is not configured (set PORTALFLOW_SECURITY_VAULT_PASSPHRASE)")
	}
	vault, err := security.NewVault(cfg.Security.VaultPassphrase)
	if err != nil {
		return err
	}

	credentials, err := store.NewCredentialStore(cfg.CredentialsPath(), vault, logger)
	if err != nil {
		return err
	}
	sessions, err := store.NewSessionStore(cfg.SessionsPath(), logger)
	if err != nil {
		return err
	}

	metrics := infrastructure.NewBusinessMetrics(prometheus.NewRegistry())
	tracker := tasks.NewTracker(logger)

	chrome := browser.NewBrowser(cfg.Browser, logger)
	defer chrome.Close()
	defer sessions.Flush()

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

	if loginPlatform != "" {
		return runLogin(ctx, controller, loginPlatform)
	}
	return runWorkflow(ctx, cfg, controller, metrics, workflowID)
}

func runLogin(ctx context.Context, controller *browser.Controller, platform string) error {
	fmt.Printf("Logging into %s (complete any two-factor prompt in the browser window)...\n", platform)

	result, err := controller.Login(ctx, platform)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	if !result.Success {
		return fmt.Errorf("login did not complete: %s", result.Message)
	}

	fmt.Printf("Login succeeded. Session stored: %v\n", result.SessionStored)
	return nil
}

func runWorkflow(ctx context.Context, cfg *config.Config, controller *browser.Controller, metrics *infrastructure.BusinessMetrics, id string) error {
	broadcaster := workflow.NewBroadcaster(nil, nil)
	dispatcher := workflow.NewActionDispatcher(controller, broadcaster, &http.Client{Timeout: 30 * time.Second}, nil)
	engine := workflow.NewEngine(cfg.Workflow, dispatcher, broadcaster, metrics, nil)
	dispatcher.SetTrigger(func(ctx context.Context, workflowID string) error {
		_, err := engine.Start(ctx, workflowID)
		return err
	})

	builtin, err := workflow.BuiltinTemplates()
	if err != nil {
		return err
	}
	if err := engine.RegisterAll(builtin); err != nil {
		return err
	}
	if cfg.Workflow.TemplatesFile != "" {
		extra, err := workflow.LoadTemplateFile(cfg.Workflow.TemplatesFile)
		if err != nil {
			return err
		}
		if err := engine.RegisterAll(extra); err != nil {
			return err
		}
	}

	receipt, err := engine.Start(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to start workflow: %w", err)
	}
	fmt.Println(receipt.Message)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastProgress := -1
	for {
		select {
		case <-ctx.Done():
			engine.Stop(id)
			return fmt.Errorf("run timed out: %w", ctx.Err())
		case <-ticker.C:
		}

		report, err := engine.Status(id)
		if err != nil {
			return err
		}

		if report.Progress != lastProgress {
			lastProgress = report.Progress
			fmt.Printf("[%3d%%] step %d/%d %s (%s)\n",
				report.Progress, report.CurrentStep, report.TotalSteps,
				report.CurrentStepName, report.EstimatedCompletion)
		}

		switch report.Status {
		case workflow.StatusCompleted:
			fmt.Printf("Workflow %s completed: %d step results recorded.\n", id, len(report.Results))
			return nil
		case workflow.StatusFailed:
			last := ""
			if n := len(report.Results); n > 0 {
				last = report.Results[n-1].Error
			}
			return fmt.Errorf("workflow %s failed: %s", id, last)
		}
	}
}
