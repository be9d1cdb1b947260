package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vodarr/vodarr/internal/repository"
)

// Runner manages a pool of workers that drain the encode job table.
type Runner struct {
	mu sync.RWMutex

	jobRepo  repository.JobRepository
	executor *Executor
	logger   *slog.Logger

	workerCount  int
	pollInterval time.Duration
	lockTimeout  time.Duration
	workerID     string
	jobTimeout   time.Duration
	jobRetention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// WorkerCount is the number of concurrent workers. Default: 2.
	WorkerCount int

	// PollInterval is how often idle workers poll for jobs. Default: 5s.
	PollInterval time.Duration

	// LockTimeout is the duration after which a locked job is considered
	// stale and reclaimed. Default: 30 minutes.
	LockTimeout time.Duration

	// WorkerID identifies this runner instance in job locks.
	WorkerID string

	// JobTimeout bounds a single job execution. Default: 1 hour.
	JobTimeout time.Duration

	// JobRetention is how long finished jobs are kept. Default: 7 days.
	JobRetention time.Duration
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:  2,
		PollInterval: 5 * time.Second,
		LockTimeout:  30 * time.Minute,
		WorkerID:     fmt.Sprintf("worker-%s", uuid.NewString()),
		JobTimeout:   time.Hour,
		JobRetention: 7 * 24 * time.Hour,
	}
}

// NewRunner creates a new job runner.
func NewRunner(jobRepo repository.JobRepository, executor *Executor) *Runner {
	config := DefaultRunnerConfig()
	return &Runner{
		jobRepo:      jobRepo,
		executor:     executor,
		logger:       slog.Default(),
		workerCount:  config.WorkerCount,
		pollInterval: config.PollInterval,
		lockTimeout:  config.LockTimeout,
		workerID:     config.WorkerID,
		jobTimeout:   config.JobTimeout,
		jobRetention: config.JobRetention,
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithConfig applies configuration to the runner.
func (r *Runner) WithConfig(config RunnerConfig) *Runner {
	if config.WorkerCount > 0 {
		r.workerCount = config.WorkerCount
	}
	if config.PollInterval > 0 {
		r.pollInterval = config.PollInterval
	}
	if config.LockTimeout > 0 {
		r.lockTimeout = config.LockTimeout
	}
	if config.WorkerID != "" {
		r.workerID = config.WorkerID
	}
	if config.JobTimeout > 0 {
		r.jobTimeout = config.JobTimeout
	}
	if config.JobRetention > 0 {
		r.jobRetention = config.JobRetention
	}
	return r
}

// Start begins the runner with the configured number of workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workerCount; i++ {
		workerID := fmt.Sprintf("%s-%d", r.workerID, i)
		r.wg.Add(1)
		go r.worker(workerID)
	}

	r.wg.Add(1)
	go r.recoverStaleJobs()

	r.wg.Add(1)
	go r.pruneFinishedJobs()

	r.logger.Info("runner started",
		slog.Int("workers", r.workerCount),
		slog.Duration("poll_interval", r.pollInterval),
		slog.String("worker_id", r.workerID))

	return nil
}

// Stop stops the runner and waits for in-flight jobs to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("runner stopped")
}

// worker is the main worker loop.
func (r *Runner) worker(workerID string) {
	defer r.wg.Done()

	r.logger.Debug("worker started", slog.String("worker_id", workerID))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("worker stopping", slog.String("worker_id", workerID))
			return
		default:
			if err := r.processJob(workerID); err != nil {
				if err != errNoJobs {
					r.logger.Error("error processing job",
						slog.String("worker_id", workerID),
						slog.Any("error", err))
				}

				select {
				case <-r.ctx.Done():
					return
				case <-time.After(r.pollInterval):
				}
			}
		}
	}
}

var errNoJobs = fmt.Errorf("no jobs available")

// processJob acquires and executes a single job.
func (r *Runner) processJob(workerID string) error {
	job, err := r.jobRepo.Acquire(r.ctx, workerID)
	if err != nil {
		return fmt.Errorf("acquiring job: %w", err)
	}
	if job == nil {
		return errNoJobs
	}

	r.logger.Debug("acquired job",
		slog.String("worker_id", workerID),
		slog.String("job_id", job.ID.String()),
		slog.String("job_key", job.JobKey))

	jobCtx, cancel := context.WithTimeout(r.ctx, r.jobTimeout)
	defer cancel()

	if err := r.executor.Execute(jobCtx, job); err != nil {
		return fmt.Errorf("executing job: %w", err)
	}
	return nil
}

// recoverStaleJobs periodically reclaims jobs whose worker died mid-encode.
// A reclaimed job re-enters the delivery cycle within its attempt budget.
func (r *Runner) recoverStaleJobs() {
	defer r.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.performStaleRecovery()
		}
	}
}

// performStaleRecovery fails jobs locked longer than the lock timeout.
func (r *Runner) performStaleRecovery() {
	active, err := r.jobRepo.GetActive(r.ctx)
	if err != nil {
		r.logger.Error("failed to get active jobs for stale recovery", slog.Any("error", err))
		return
	}

	cutoff := time.Now().Add(-r.lockTimeout)

	for _, job := range active {
		if job.LockedAt == nil || !job.LockedAt.Before(cutoff) {
			continue
		}

		r.logger.Warn("recovering stale job",
			slog.String("job_id", job.ID.String()),
			slog.String("locked_by", job.LockedBy),
			slog.Time("locked_at", time.Time(*job.LockedAt)))

		job.RecordFailure(fmt.Errorf("job stale: locked since %s", job.LockedAt.Format(time.RFC3339)))

		if err := r.jobRepo.Update(r.ctx, job); err != nil {
			r.logger.Error("failed to recover stale job",
				slog.String("job_id", job.ID.String()),
				slog.Any("error", err))
		}
	}
}

// pruneFinishedJobs periodically deletes terminal jobs past retention.
func (r *Runner) pruneFinishedJobs() {
	defer r.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.jobRetention)
			deleted, err := r.jobRepo.DeleteFinished(r.ctx, cutoff)
			if err != nil {
				r.logger.Error("failed to prune finished jobs", slog.Any("error", err))
			} else if deleted > 0 {
				r.logger.Info("pruned finished jobs", slog.Int64("deleted", deleted))
			}
		}
	}
}

// RunnerStatus describes the runner state.
type RunnerStatus struct {
	Running      bool          `json:"running"`
	WorkerCount  int           `json:"worker_count"`
	PollInterval time.Duration `json:"poll_interval"`
	WorkerID     string        `json:"worker_id"`
}

// GetStatus returns the current runner status.
func (r *Runner) GetStatus() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RunnerStatus{
		Running:      r.ctx != nil && r.ctx.Err() == nil,
		WorkerCount:  r.workerCount,
		PollInterval: r.pollInterval,
		WorkerID:     r.workerID,
	}
}
