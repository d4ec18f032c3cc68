package job

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// NewJobContext creates a new JobContext with the given parent context.
// The context will be cancelled when Shutdown is called.
func NewJobContext(parent context.Context, logger *slog.Logger) *JobContext {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	return &JobContext{
		Ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Shutdown timeout constant for testability
var ShutdownHookTimeout = 5 * time.Second

// Shutdown runs every registered hook once, waits for them up to
// ShutdownHookTimeout and then cancels Ctx. Later calls are no-ops.
func (jc *JobContext) Shutdown(reason string) {
	jc.shutdownWith(reason, true)
}

func (jc *JobContext) shutdownWith(reason string, graceful bool) {
	jc.shutdownMu.Lock()
	if jc.shutdown != nil {
		jc.shutdownMu.Unlock()
		return
	}
	jc.shutdown = &ShutdownInfo{Reason: reason, Timestamp: time.Now(), Graceful: graceful}
	hooks := jc.shutdownHooks
	jc.shutdownHooks = nil
	jc.shutdownMu.Unlock()

	jc.logger.Info("Job shutdown initiated",
		slog.String("reason", reason),
		slog.Bool("graceful", graceful))

	var wg sync.WaitGroup
	for _, hook := range hooks {
		wg.Add(1)
		go func(h func(string)) {
			defer wg.Done()
			jc.runHook(h, reason)
		}(hook)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		jc.logger.Debug("All shutdown hooks completed")
	case <-time.After(ShutdownHookTimeout):
		jc.logger.Warn("Shutdown hooks timed out", slog.Duration("timeout", ShutdownHookTimeout))
	}

	jc.cancel()
}

// OnShutdown registers a callback to be executed when Shutdown is called.
// Callbacks run concurrently. If the job has already been shut down, the
// callback runs immediately on its own goroutine.
func (jc *JobContext) OnShutdown(callback func(reason string)) {
	jc.shutdownMu.Lock()
	defer jc.shutdownMu.Unlock()

	if jc.shutdown != nil {
		reason := jc.shutdown.Reason
		go jc.runHook(callback, reason)
		return
	}
	jc.shutdownHooks = append(jc.shutdownHooks, callback)
}

func (jc *JobContext) runHook(h func(string), reason string) {
	defer func() {
		if r := recover(); r != nil {
			jc.logger.Error("Shutdown hook panicked", slog.Any("panic", r))
		}
	}()
	h(reason)
}

// Info returns why the job shut down, or nil while it is still running.
func (jc *JobContext) Info() *ShutdownInfo {
	jc.shutdownMu.Lock()
	defer jc.shutdownMu.Unlock()
	if jc.shutdown == nil {
		return nil
	}
	info := *jc.shutdown
	return &info
}

// IsShutdown returns true if the job has been shut down.
func (jc *JobContext) IsShutdown() bool {
	select {
	case <-jc.Ctx.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the job context is cancelled.
func (jc *JobContext) Done() <-chan struct{} {
	return jc.Ctx.Done()
}

// Err returns the error associated with the context cancellation.
func (jc *JobContext) Err() error {
	return jc.Ctx.Err()
}

// generateJobID creates a random job ID.
func generateJobID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("job_%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("job_%x", bytes)
}
