package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"ArticlesPodcast/internal/audio"
	"ArticlesPodcast/internal/config"
	"ArticlesPodcast/internal/files"
	"ArticlesPodcast/internal/infrastructure/kokoro"
	"ArticlesPodcast/internal/infrastructure/modelfetch"
	"ArticlesPodcast/internal/infrastructure/parser"
	"ArticlesPodcast/internal/infrastructure/scheduler"
	"ArticlesPodcast/internal/infrastructure/storage"
	"ArticlesPodcast/internal/infrastructure/telegram"
	"ArticlesPodcast/internal/logging"
	"ArticlesPodcast/internal/ports"
	"ArticlesPodcast/internal/speech"
	"ArticlesPodcast/internal/synthesis"
	"ArticlesPodcast/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	repo   *storage.SQLRepository
	models *modelfetch.Downloader

	Files        *files.Manager
	Settings     *usecase.Settings
	Engines      *speech.Registry
	Neural       *speech.NeuralEngine
	Orchestrator *usecase.Orchestrator
	Queue        *usecase.Queue
	Intake       *usecase.Intake
}

// New opens storage and builds every component.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	fm := files.NewManager(cfg.Files.DataDir)
	if err := fm.Ensure(); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}

	repo, err := storage.Open(ctx, cfg.Storage.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	format := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels, BitDepth: cfg.Audio.BitDepth}

	system := speech.NewSystemEngine(
		speech.NewCommandSpeaker(cfg.TTS.SystemCommand),
		systemVoices(cfg.TTS.SystemVoices),
		baseLogger.With("component", "speech.system"),
		speech.WithTimeout(cfg.TTS.Timeout),
		speech.WithTempDir(fm.TempDir()),
	)

	var runtime speech.Runtime
	if cfg.TTS.Kokoro.Endpoint != "" {
		runtime = kokoro.NewClient(cfg.TTS.Kokoro.Endpoint, cfg.TTS.Kokoro.Model, cfg.TTS.Kokoro.APIKey)
	}
	neural := speech.NewNeuralEngine(
		runtime,
		fm.ModelPath(cfg.TTS.Kokoro.ModelFile),
		cfg.TTS.Timeout,
		fm.TempDir(),
		baseLogger.With("component", "speech.kokoro"),
	)
	engines := speech.NewRegistry(system, neural)

	fetcher := parser.NewFetcher(&http.Client{Timeout: cfg.Extractor.Timeout}, cfg.Extractor.UserAgent)
	extractor := parser.NewStrategyExtractor(parser.NewDefaultRegistry(fetcher), baseLogger.With("component", "extractor"))

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.Enabled() {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID)
	}

	settings := usecase.NewSettings(repo, usecase.SettingsDefaults{
		TTSEngine: cfg.TTS.Engine,
		VoiceID:   cfg.TTS.VoiceID,
	})

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Repository:       repo,
		Extractor:        extractor,
		Settings:         settings,
		Engines:          engines,
		Pipeline:         synthesis.NewPipeline(system, fm, format, baseLogger.With("component", "pipeline")),
		Assembler:        audio.NewAssembler(format, baseLogger.With("component", "assembler")),
		Files:            fm,
		Notifier:         notifier,
		Lease:            repo,
		LeaseTTL:         cfg.Processing.LeaseTTL,
		ProgressInterval: cfg.Processing.ProgressInterval,
		Logger:           baseLogger.With("component", "orchestrator"),
	})

	queue := usecase.NewQueue(usecase.QueueDeps{
		Repository:   repo,
		Orchestrator: orchestrator,
		Settings:     settings,
		Files:        fm,
		SortGap:      cfg.Processing.SortGap,
		Logger:       baseLogger.With("component", "queue"),
	})

	return &Application{
		cfg:          cfg,
		logger:       baseLogger,
		repo:         repo,
		models:       modelfetch.NewDownloader(nil, baseLogger.With("component", "modelfetch")),
		Files:        fm,
		Settings:     settings,
		Engines:      engines,
		Neural:       neural,
		Orchestrator: orchestrator,
		Queue:        queue,
		Intake:       usecase.NewIntake(repo, cfg.Processing.SortGap, baseLogger.With("component", "intake")),
	}, nil
}

// Close releases the database.
func (a *Application) Close() error {
	return a.repo.Close()
}

func (a *Application) Config() config.Config {
	return a.cfg
}

// RunWorker resets orphans, then runs background recovery on the configured
// schedule until ctx ends.
func (a *Application) RunWorker(ctx context.Context) error {
	n, err := a.Queue.RecoverOrphans(ctx)
	switch {
	case errors.Is(err, usecase.ErrBusy):
		a.logger.Info("processing active elsewhere, orphan reset skipped")
	case err != nil:
		return err
	case n > 0:
		a.logger.Info("orphans reset", "count", n)
	}

	driver, err := scheduler.NewCronScheduler(a.cfg.Background.CronExpression, a.cfg.Background.RunAtStart)
	if err != nil {
		return err
	}
	sched := usecase.NewScheduler(driver, a.Orchestrator, a.cfg.Background.Budget, a.logger.With("component", "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("worker started", "cron", a.cfg.Background.CronExpression, "budget", a.cfg.Background.Budget)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Background.Budget)
	defer cancel()
	return sched.Stop(stopCtx)
}

// ModelPath is where the neural model file is expected.
func (a *Application) ModelPath() string {
	return a.Neural.ModelPath()
}

// DownloadModel fetches the neural model into the models directory.
func (a *Application) DownloadModel(ctx context.Context, onProgress modelfetch.Progress) (int64, error) {
	return a.models.Fetch(ctx, a.cfg.TTS.Kokoro.ModelURL, a.ModelPath(), onProgress)
}

// DeleteModel removes the neural model file. A missing file is not an error.
func (a *Application) DeleteModel() error {
	if err := os.Remove(a.ModelPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete model: %w", err)
	}
	return nil
}

func systemVoices(cfg []config.VoiceConfig) []speech.Voice {
	voices := make([]speech.Voice, 0, len(cfg))
	for _, v := range cfg {
		voices = append(voices, speech.Voice{ID: v.ID, Name: v.Name, Language: v.Language})
	}
	return voices
}
