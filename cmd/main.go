package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MimeLyc/news-video-assembler/internal/assembler"
	"github.com/MimeLyc/news-video-assembler/internal/avatar"
	"github.com/MimeLyc/news-video-assembler/internal/billing"
	"github.com/MimeLyc/news-video-assembler/internal/config"
	"github.com/MimeLyc/news-video-assembler/internal/httpapi"
	"github.com/MimeLyc/news-video-assembler/internal/janitor"
	"github.com/MimeLyc/news-video-assembler/internal/jobs"
	"github.com/MimeLyc/news-video-assembler/internal/media"
	"github.com/MimeLyc/news-video-assembler/internal/metadata"
	"github.com/MimeLyc/news-video-assembler/internal/persistence"
	"github.com/MimeLyc/news-video-assembler/internal/resolver"
	"github.com/MimeLyc/news-video-assembler/internal/service"
	"github.com/MimeLyc/news-video-assembler/internal/storage"
	"github.com/MimeLyc/news-video-assembler/internal/transcribe"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const shutdownTimeout = 30 * time.Second

type scheduler interface {
	Schedule(cronExpr string) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type workerPool interface {
	Start(exec jobs.Executor)
	Stop()
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal("%v", err)
	}
}

func run(ctx context.Context) error {
	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if saved, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(saved))
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Warn("Ignoring runtime settings file %s: %v", settingsPath, err)
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level := log.ParseLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		fileLogger, err := log.NewFileLogger(cfg.Log.File, level)
		if err != nil {
			return err
		}
		defer fileLogger.Close()
		log.SetLogger(fileLogger.Logger)
	} else {
		log.InitLogger(level)
	}

	settingsStore, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		return fmt.Errorf("runtime settings: %w", err)
	}

	workDir := filepath.Join(cfg.Pipeline.WorkDir, "news-video-assembler")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	transcoder := media.NewTranscoder(media.Options{
		FFmpegPath:  cfg.Pipeline.FFmpegPath,
		FFprobePath: cfg.Pipeline.FFprobePath,
		WorkDir:     workDir,
	})

	avatarClient, err := avatar.NewClient(avatar.Config{
		APIKey:  cfg.Avatar.APIKey,
		APIURL:  cfg.Avatar.APIURL,
		Timeout: cfg.Avatar.Timeout,
	})
	if err != nil {
		return fmt.Errorf("avatar client: %w", err)
	}
	poller := avatar.NewPoller(avatarClient, cfg.Pipeline.PollInterval, cfg.Pipeline.PollMaxAttempts, cfg.Pipeline.PollMaxWait)

	transcriber, err := transcribe.NewClient(transcribe.Config{
		APIKey:   cfg.Transcribe.APIKey,
		APIURL:   cfg.Transcribe.APIURL,
		Model:    cfg.Transcribe.Model,
		Language: cfg.Transcribe.Language,
		Timeout:  cfg.Transcribe.Timeout,
	})
	if err != nil {
		return fmt.Errorf("transcription client: %w", err)
	}

	s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
		Bucket:        cfg.Storage.Bucket,
		Region:        cfg.Storage.Region,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		Endpoint:      cfg.Storage.Endpoint,
		PathStyle:     cfg.Storage.PathStyle,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	publisher := storage.NewPublisher(s3Store, cfg.Storage.KeyPrefix, workDir, 0)

	db, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer db.Close()

	rates := billing.NewRateCard(billing.Rates{
		AvatarPerSecond:     cfg.Billing.AvatarRatePerSecond,
		TranscribePerMinute: cfg.Billing.TranscribeRatePerMinute,
	})
	sinks := billing.MultiSink{db}
	if cfg.Sinks.BillingURL != "" {
		sinks = append(sinks, billing.NewHTTPSink(cfg.Sinks.BillingURL, cfg.Sinks.Timeout))
	} else {
		sinks = append(sinks, billing.LogSink{})
	}

	metadataClient, err := metadata.NewClient(cfg.Sinks.BatchMetadataURL, cfg.Sinks.Timeout)
	if err != nil {
		return fmt.Errorf("metadata client: %w", err)
	}

	segResolver, err := resolver.New(resolver.Deps{
		Avatar:      avatarClient,
		Poller:      poller,
		Media:       transcoder,
		Transcriber: transcriber,
		Rehoster:    publisher,
		Rates:       rates,
		Billing:     sinks,
	})
	if err != nil {
		return fmt.Errorf("segment resolver: %w", err)
	}

	asm := assembler.New(segResolver, transcoder, publisher, assembler.Options{
		Target: media.Target{
			Width:  cfg.Pipeline.TargetWidth,
			Height: cfg.Pipeline.TargetHeight,
			FPS:    cfg.Pipeline.TargetFPS,
		},
		Concurrency: cfg.Pipeline.ResolveConcurrency,
	})
	controller := service.NewController(asm, metadataClient, rates)

	queue := jobs.NewQueue(cfg.System.JobWorkers, db)
	cronEngine := cron.New()
	cleanup := janitor.New(workDir, cfg.Janitor.Retention, cronEngine)

	srv := httpapi.NewServer(controller, queue,
		httpapi.WithRuntimeSettingsStore(settingsStore),
		httpapi.WithRuntimeSettingsApplier(func(next config.RuntimeSettings) error {
			if err := controller.ApplyRuntimeSettings(next); err != nil {
				return err
			}
			return cleanup.ApplyRuntimeSettings(next)
		}),
		httpapi.WithChargeLedger(db),
	)

	return runWithComponents(ctx, cfg, cleanup, cronEngine, queue, controller.ExecuteJob, srv)
}

// runWithComponents starts the cleanup schedule, the job workers and the
// HTTP server, then blocks until ctx is done or the server fails.
func runWithComponents(
	ctx context.Context,
	cfg *config.Config,
	sched scheduler,
	cronEngine cronEngine,
	workers workerPool,
	exec jobs.Executor,
	httpSrv httpServer,
) error {
	if err := sched.Schedule(cfg.Janitor.CronExpr); err != nil {
		return err
	}
	cronEngine.Start()
	workers.Start(exec)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("News video assembler listening on %s", cfg.HTTP.Addr)
		serveErr <- httpSrv.ListenAndServe(cfg.HTTP.Addr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown: %v", err)
	}
	workers.Stop()
	select {
	case <-cronEngine.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("Cleanup still running at shutdown")
	}
	return runErr
}
