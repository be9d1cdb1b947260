package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vodarr/vodarr/internal/database"
	"github.com/vodarr/vodarr/internal/observability"
	"github.com/vodarr/vodarr/internal/repository"
	"github.com/vodarr/vodarr/internal/service"
	"github.com/vodarr/vodarr/internal/storage"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the trash and orphan sweeps once",
	Long: `Run a single pass of both lifecycle sweeps and exit: purge soft-deleted
videos past the retention window, and reconcile abandoned uploads against
the bucket. Use --dry-run to see what the trash sweep would purge.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "compute trash candidates without deleting anything")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
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

	videoRepo := repository.NewVideoRepository(db.DB)
	jobRepo := repository.NewJobRepository(db.DB)

	lifecycle := service.NewLifecycleService(
		videoRepo, jobRepo, store, cfg.Cleanup,
		observability.WithComponent(logger, "lifecycle"),
	)

	trash, err := lifecycle.CleanupTrashVideos(ctx, cleanupDryRun)
	if err != nil {
		return fmt.Errorf("trash sweep: %w", err)
	}
	fmt.Printf("trash: %d candidates, %d deleted, %d failed (dry-run=%v)\n",
		trash.Candidates, trash.PermanentlyDeleted, len(trash.FailedVideoIDs), trash.DryRun)

	if cleanupDryRun {
		return nil
	}

	orphans, err := lifecycle.CleanupOrphanVideos(ctx)
	if err != nil {
		return fmt.Errorf("orphan sweep: %w", err)
	}
	fmt.Printf("orphans: %d objects removed, %d stale uploads cancelled\n",
		orphans.OrphanObjectsRemoved, orphans.StaleUploadsCanceled)

	return nil
}
