package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/database"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/observability"
	"github.com/vodarr/vodarr/internal/pubsub"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/scheduler"
	"github.com/vodarr/vodarr/internal/service"
	"github.com/vodarr/vodarr/internal/storage"
	"github.com/vodarr/vodarr/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the vodarr service",
	Long: `Start the full vodarr stack: encode workers draining the job queue,
the cleanup scheduler (trash and orphan sweeps), and Redis progress
publishing.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store, err := storage.NewMinioStore(ctx, cfg.Storage, observability.WithComponent(logger, "storage"))
	if err != nil {
		return fmt.Errorf("initializing object storage: %w", err)
	}

	publisher, err := pubsub.NewPublisher(ctx, cfg.Redis, observability.WithComponent(logger, "pubsub"))
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer publisher.Close()

	videoRepo := repository.NewVideoRepository(db.DB)
	qualityRepo := repository.NewVideoQualityRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)

	notifier := service.MultiNotifier{
		service.NewSlogNotifier(observability.WithComponent(logger, "notifier")),
		service.NewRedisNotifier(publisher),
	}

	prober := ffmpeg.NewProber(cfg.Encoding.FFprobePath)
	encoder := ffmpeg.NewEncoder(cfg.Encoding.FFmpegPath)

	encodeService := service.NewEncodeService(
		videoRepo, qualityRepo, jobRepo, store,
		prober, encoder, notifier, publisher,
		cfg.Encoding, cfg.Storage.TempDir,
		observability.WithComponent(logger, "encode"),
	)

	lifecycleService := service.NewLifecycleService(
		videoRepo, jobRepo, store, cfg.Cleanup,
		observability.WithComponent(logger, "lifecycle"),
	)

	runner := buildRunner(cfg, jobRepo, encodeService, logger)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting worker runner: %w", err)
	}
	defer runner.Stop()

	sched := scheduler.NewScheduler(lifecycleService, cfg.Cleanup).
		WithLogger(observability.WithComponent(logger, "scheduler"))
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	logger.Info("vodarr started",
		slog.Int("workers", cfg.Worker.Count),
		slog.String("bucket", cfg.Storage.Bucket))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

// loadConfigAndLogger loads configuration, applies CLI logging overrides,
// and installs the default logger.
func loadConfigAndLogger(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	applyLoggingFlags(cmd.Root().PersistentFlags(), cfg)

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	return cfg, logger, nil
}

// applyLoggingFlags lets explicitly set CLI flags win over the config file.
func applyLoggingFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
}

// buildRunner assembles the worker pool with both job handlers registered.
func buildRunner(cfg *config.Config, jobRepo repository.JobRepository, encodeService *service.EncodeService, logger *slog.Logger) *worker.Runner {
	executor := worker.NewExecutor(jobRepo).
		WithLogger(observability.WithComponent(logger, "executor"))
	executor.RegisterHandler(models.JobTypeVideoEncode, worker.JobHandlerFunc(encodeService.ProcessVideo))
	executor.RegisterHandler(models.JobTypeQualityRetry, worker.JobHandlerFunc(encodeService.ProcessQualityRetry))

	return worker.NewRunner(jobRepo, executor).
		WithLogger(observability.WithComponent(logger, "runner")).
		WithConfig(worker.RunnerConfig{
			WorkerCount:  cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
			LockTimeout:  cfg.Worker.LockTimeout,
			JobTimeout:   cfg.Worker.JobTimeout,
			JobRetention: cfg.Worker.JobRetention,
		})
}
