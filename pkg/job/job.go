package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// New creates a Job whose context ends at the first of: Shutdown, the hard
// timeout, or cancellation of parentCtx. The last two still run the shutdown
// hooks, with ReasonTimeout or the parent's error as the reason.
func New(parentCtx context.Context, cfg Config) (*Job, error) {
	if cfg.EvaluationID == "" {
		return nil, fmt.Errorf("evaluation ID is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultJobTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With(slog.String("evaluation_id", cfg.EvaluationID))
	}

	jobID := cfg.ID
	if jobID == "" {
		jobID = generateJobID()
	}

	logger := cfg.Logger.With(slog.String("job_id", jobID))
	// Ctx only ends through shutdownWith, so Info is set before Done closes.
	jobContext := NewJobContext(context.WithoutCancel(parentCtx), logger)

	j := &Job{
		ID:           jobID,
		EvaluationID: cfg.EvaluationID,
		Context:      jobContext,
	}

	// The deadline triggers an orderly shutdown rather than a bare context
	// cancel, so cleanup hooks still get to run.
	timer := time.AfterFunc(cfg.Timeout, func() {
		jobContext.shutdownWith(ReasonTimeout, false)
	})
	stop := context.AfterFunc(parentCtx, func() {
		jobContext.shutdownWith(fmt.Sprintf("parent cancelled: %v", parentCtx.Err()), false)
	})
	j.stopTimeout = func() {
		timer.Stop()
		stop()
	}
	jobContext.OnShutdown(func(string) { j.stopTimeout() })

	logger.Info("Created new job", slog.Duration("timeout", cfg.Timeout))

	return j, nil
}

// Shutdown gracefully shuts down the job with the given reason.
func (j *Job) Shutdown(reason string) {
	j.Context.Shutdown(reason)
}

// Wait blocks until the job context is cancelled and returns the shutdown
// info.
func (j *Job) Wait() *ShutdownInfo {
	<-j.Context.Done()
	return j.Context.Info()
}

// IsActive returns true if the job is still running (not shut down).
func (j *Job) IsActive() bool {
	return !j.Context.IsShutdown()
}

// TimedOut reports whether the job ended on its hard deadline.
func (j *Job) TimedOut() bool {
	info := j.Context.Info()
	return info != nil && info.Reason == ReasonTimeout
}

// String returns a string representation of the job for logging.
func (j *Job) String() string {
	status := "active"
	if j.Context.IsShutdown() {
		status = "shutdown"
	}
	return fmt.Sprintf("Job{ID: %s, Evaluation: %s, Status: %s}", j.ID, j.EvaluationID, status)
}
