// Package worker drains the encode job table with a polling worker pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/repository"
)

// JobHandler executes one job type.
type JobHandler interface {
	Execute(ctx context.Context, job *models.EncodeJob) error
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job *models.EncodeJob) error

// Execute implements JobHandler.
func (f JobHandlerFunc) Execute(ctx context.Context, job *models.EncodeJob) error {
	return f(ctx, job)
}

// Executor dispatches acquired jobs to registered handlers and records the
// delivery outcome.
type Executor struct {
	jobRepo  repository.JobRepository
	handlers map[models.JobType]JobHandler
	logger   *slog.Logger
}

// NewExecutor creates a new executor.
func NewExecutor(jobRepo repository.JobRepository) *Executor {
	return &Executor{
		jobRepo:  jobRepo,
		handlers: make(map[models.JobType]JobHandler),
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// RegisterHandler registers a handler for a job type.
func (e *Executor) RegisterHandler(jobType models.JobType, handler JobHandler) {
	e.handlers[jobType] = handler
}

// Execute runs a job and records its delivery outcome: completed on success,
// delayed with backoff on a failure with attempts left, terminally failed
// otherwise.
func (e *Executor) Execute(ctx context.Context, job *models.EncodeJob) error {
	handler, ok := e.handlers[job.Type]
	if !ok {
		job.RecordFailure(fmt.Errorf("no handler registered for job type: %s", job.Type))
		if err := e.jobRepo.Update(ctx, job); err != nil {
			return fmt.Errorf("updating job: %w", err)
		}
		return fmt.Errorf("no handler registered for job type: %s", job.Type)
	}

	e.logger.Info("executing job",
		slog.String("job_id", job.ID.String()),
		slog.String("type", string(job.Type)),
		slog.String("job_key", job.JobKey))

	err := handler.Execute(ctx, job)

	if err != nil {
		e.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)),
			slog.Any("error", err))

		job.RecordFailure(err)
		if job.Status == models.JobStatusDelayed {
			e.logger.Info("job delivery rescheduled",
				slog.String("job_id", job.ID.String()),
				slog.Int("attempt", job.AttemptCount),
				slog.Time("next_run", job.NextRunAt.UTC()))
		}
	} else {
		e.logger.Info("job completed",
			slog.String("job_id", job.ID.String()),
			slog.String("type", string(job.Type)))

		job.MarkCompleted()
	}

	if err := e.jobRepo.Update(ctx, job); err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	return nil
}
