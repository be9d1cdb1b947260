package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vodarr/vodarr/internal/database"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/observability"
	"github.com/vodarr/vodarr/internal/pubsub"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/service"
	"github.com/vodarr/vodarr/internal/storage"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run only the encode workers",
	Long: `Run the encode worker pool without the cleanup scheduler. Use this to
scale encoding capacity horizontally: every worker process drains the same
job table, coordinated by job locks.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	encodeService := service.NewEncodeService(
		videoRepo, qualityRepo, jobRepo, store,
		ffmpeg.NewProber(cfg.Encoding.FFprobePath),
		ffmpeg.NewEncoder(cfg.Encoding.FFmpegPath),
		notifier, publisher,
		cfg.Encoding, cfg.Storage.TempDir,
		observability.WithComponent(logger, "encode"),
	)

	runner := buildRunner(cfg, jobRepo, encodeService, logger)
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting worker runner: %w", err)
	}
	defer runner.Stop()

	logger.Info("vodarr worker started", slog.Int("workers", cfg.Worker.Count))

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
