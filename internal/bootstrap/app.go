package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"meeting-summarizer/internal/artifacts"
	"meeting-summarizer/internal/config"
	"meeting-summarizer/internal/domain"
	"meeting-summarizer/internal/jobs"
	"meeting-summarizer/internal/pipeline"
	"meeting-summarizer/internal/readiness"
	"meeting-summarizer/internal/resources"
	"meeting-summarizer/internal/server"
	"meeting-summarizer/internal/stages"
)

const (
	configDirName = ".meeting-summarizer"
	drainTimeout  = 30 * time.Second
)

// App wires configuration, the job pipeline, artifact storage, and the HTTP
// API into one process.
type App struct {
	Settings  domain.Settings
	Store     config.Store
	Manager   *jobs.Manager
	Artifacts *artifacts.Store
	Monitor   *resources.Monitor
	Checker   *readiness.Checker
	Server    *server.Server
	Events    *jobs.EventBus

	logger *slog.Logger
	lock   *flock.Flock

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds the application from persisted settings. settingsPath may be
// empty, in which case the per-user default location is used.
func New(settingsPath string) (*App, error) {
	if strings.TrimSpace(settingsPath) == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve user home: %w", err)
		}
		settingsPath = filepath.Join(homeDir, configDirName, "settings.json")
	}

	store := config.NewJSONStore(settingsPath)
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	logger := newLogger(settings.LogLevel)

	renderer := artifacts.NewPDFRenderer()
	artifactStore, err := artifacts.NewStore(settings.ArtifactDir, renderer, logger)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	template, err := loadPromptTemplate(settings.PromptTemplatePath)
	if err != nil {
		logger.Warn("prompt template unavailable, using built-in default",
			slog.String("path", settings.PromptTemplatePath),
			slog.String("error", err.Error()))
		template = ""
	}

	inferenceClient := stages.NewInferenceClient(settings.InferenceServiceURL,
		stages.WithInferenceAuthToken(settings.HFAccessToken))
	llmClient := stages.NewLLMClient(stages.LLMConfig{
		ServiceURL: settings.LLMServiceURL,
		Endpoint:   settings.LLMAPIEndpoint,
		APIKey:     settings.LLMAPIKey,
		UseAuth:    settings.LLMAPIAuth,
		Model:      settings.LLMAPIModel,
	}, stages.WithPromptTemplate(template))

	events := jobs.NewEventBus(1000)
	manager := jobs.NewManager(
		pipeline.NewRunner(logger),
		stages.NewDiarizeStage(inferenceClient),
		stages.NewTranscribeStage(inferenceClient),
		stages.NewSummarizeStage(llmClient),
		artifactStore,
		events,
		logger,
	)

	monitor := resources.NewMonitor(settings.GPUDeviceIndex, logger)
	checker := readiness.NewChecker(inferenceClient, llmClient)

	app := &App{
		Settings:  settings,
		Store:     store,
		Manager:   manager,
		Artifacts: artifactStore,
		Monitor:   monitor,
		Checker:   checker,
		Events:    events,
		logger:    logger,
		lock:      flock.New(filepath.Join(filepath.Dir(settingsPath), "meeting-summarizer.lock")),
		stopCh:    make(chan struct{}),
	}

	app.Server = server.New(settings.Bind, manager, artifactStore, monitor, events,
		func(ctx context.Context) domain.ReadinessReport {
			return checker.Run(ctx, settings)
		},
		app.RequestShutdown,
		logger,
	)

	return app, nil
}

// Run serves the HTTP API until ctx is cancelled or shutdown is requested.
// The process lock guarantees a single instance per settings location.
func (a *App) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(a.lock.Path()), 0o755); err != nil {
		return fmt.Errorf("prepare lock directory: %w", err)
	}

	locked, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire process lock: %w", err)
	}
	if !locked {
		return errors.New("another instance is already running")
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Warn("release process lock", slog.String("error", err.Error()))
		}
	}()

	report := a.Checker.Run(ctx, a.Settings)
	for _, item := range report.Items {
		if item.Status == domain.CheckStatusFail {
			a.logger.Warn("readiness check failed",
				slog.String("check", item.ID),
				slog.String("message", item.Message))
		}
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := a.Server.Start(serveCtx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.stopCh:
	}

	a.Server.Stop()

	// Give a cancelled job the chance to reach its terminal state before
	// the process exits.
	if a.Manager.Status().Job.State.Active() {
		_ = a.Manager.Cancel()
		waitCtx, waitCancel := context.WithTimeout(context.Background(), drainTimeout)
		defer waitCancel()
		_, _ = a.Manager.WaitForTerminal(waitCtx)
	}

	a.logger.Info("server stopped")
	return nil
}

// RequestShutdown asks a running Run loop to stop. Safe to call repeatedly.
func (a *App) RequestShutdown() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// ProcessFile pushes one audio file through the pipeline synchronously and
// returns the terminal job record.
func (a *App) ProcessFile(ctx context.Context, path string) (domain.Job, error) {
	audio, err := os.ReadFile(path)
	if err != nil {
		return domain.Job{}, fmt.Errorf("read audio file: %w", err)
	}

	job, err := a.Manager.Submit(filepath.Base(path), audio)
	if err != nil {
		return domain.Job{}, err
	}
	a.logger.Info("processing file",
		slog.String("jobId", job.ID),
		slog.String("path", path))

	return a.Manager.WaitForTerminal(ctx)
}

// Logger exposes the application logger for command wiring.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// newLogger builds a text slog logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadPromptTemplate reads a custom summarization prompt. An empty path
// selects the built-in default without error.
func loadPromptTemplate(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	template := string(data)
	if !strings.Contains(template, "%s") {
		return "", errors.New("template must contain a %s transcript slot")
	}
	return template, nil
}
