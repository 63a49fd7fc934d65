package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	appcfg "github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/config"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract/instagram"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract/tiktok"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/extract/youtube"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/jobs"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/pipeline"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/processor"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/server"
	"github.com/ElliotDrel/personal-knowledge-vault-sub002/internal/videourl"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := appcfg.Load("")
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	store, err := jobs.NewSQLiteStore(cfg.Server.DatabasePath)
	if err != nil {
		logger.Error("sqlite open", "err", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	// The queue is in-memory: jobs left non-terminal by a previous run will
	// never be picked up again, and a stuck job blocks resubmission of its
	// URL. Fail them now so callers can retry.
	restartErr := jobs.NewJobError(jobs.CodeInternalError, "the service restarted before the job could finish")
	if n, err := store.FailUnfinished(restartErr, time.Now().UTC()); err != nil {
		logger.Error("sweep unfinished jobs", "err", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Warn("failed unfinished jobs from a previous run", "count", n)
	}

	// One extractor per platform; TikTok and Instagram are placeholders that
	// fail with a typed error until a provider is configured.
	reg := extract.NewRegistry()
	reg.Add(videourl.PlatformYouTubeShort, youtube.New(cfg.YouTube))
	reg.Add(videourl.PlatformTikTok, tiktok.New())
	reg.Add(videourl.PlatformInstagramReel, instagram.New())

	worker := processor.New(logger, cfg, store, reg)
	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	// Jobs still buffered at shutdown were accepted from callers; terminate
	// them instead of leaving them stuck in a non-terminal state.
	queue.OnDrop(func(item jobs.WorkItem) {
		jerr := jobs.NewJobError(jobs.CodeInternalError, "the service shut down before the job could run")
		if err := store.SaveError(item.Job.ID, jobs.StatusFailed, jerr, time.Now().UTC()); err != nil {
			logger.Error("failed to terminate dropped job", "job_id", item.Job.ID, "err", err)
		}
	})
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := queue.Start(rootCtx, worker); err != nil {
		logger.Error("start queue", "err", err)
		os.Exit(1)
	}

	svc := &server.Service{
		Log:          logger,
		Cfg:          cfg,
		Orchestrator: pipeline.NewOrchestrator(logger, cfg, store, queue),
		Status:       pipeline.NewStatusService(logger, cfg, store),
	}
	httpSrv := server.NewHTTPServer(svc)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err.Error() != "http: Server closed" {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
