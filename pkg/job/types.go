// Package job bounds the lifetime of one bridged call: a hard deadline, a
// single shutdown with a recorded reason, and cleanup hooks that run when it
// happens.
package job

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is the lifecycle of a single bridged call.
type Job struct {
	// ID is the session this job runs
	ID string

	// EvaluationID is the test run the session belongs to
	EvaluationID string

	// Context provides lifecycle management and shutdown coordination
	Context *JobContext

	stopTimeout context.CancelFunc
}

// JobContext manages the lifecycle and cleanup of a job.
type JobContext struct {
	// Ctx is the context that gets cancelled when the job ends
	Ctx context.Context

	cancel context.CancelFunc
	logger *slog.Logger

	shutdownMu    sync.Mutex
	shutdownHooks []func(string)
	shutdown      *ShutdownInfo
}

// ShutdownInfo contains information about why a job shutdown occurred.
type ShutdownInfo struct {
	// Reason describes why the shutdown was initiated
	Reason string

	// Timestamp when the shutdown was initiated
	Timestamp time.Time

	// Graceful is false when the job hit its deadline or its parent was cancelled
	Graceful bool
}

// Config contains configuration options for creating a new Job.
type Config struct {
	// ID for the job (if empty, one will be generated)
	ID string

	// EvaluationID the session belongs to
	EvaluationID string

	// Timeout is the hard limit on the call. Zero means DefaultJobTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

const (
	// DefaultJobTimeout is the longest a bridged call may stay up
	DefaultJobTimeout = 10 * time.Minute

	// ReasonTimeout is the shutdown reason recorded when the deadline fires
	ReasonTimeout = "hard timeout"
)
