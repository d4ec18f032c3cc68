package job

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestJob_New(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "valid config with ID",
			config: Config{
				ID:           "test-job-1",
				EvaluationID: "eval-1",
				Timeout:      time.Minute,
			},
			wantErr: false,
		},
		{
			name: "valid config without ID",
			config: Config{
				EvaluationID: "eval-1",
			},
			wantErr: false,
		},
		{
			name: "missing evaluation ID",
			config: Config{
				ID:      "test-job-1",
				Timeout: time.Minute,
			},
			wantErr: true,
		},
		{
			name: "negative timeout",
			config: Config{
				EvaluationID: "eval-1",
				Timeout:      -time.Second,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := New(ctx, tt.config)

			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			defer job.Shutdown("test done")

			if job.ID == "" {
				t.Error("job ID should not be empty")
			}
			if tt.config.ID != "" && job.ID != tt.config.ID {
				t.Errorf("expected job ID %s, got %s", tt.config.ID, job.ID)
			}
			if job.EvaluationID != tt.config.EvaluationID {
				t.Errorf("expected evaluation ID %s, got %s", tt.config.EvaluationID, job.EvaluationID)
			}
			if !job.IsActive() {
				t.Error("new job should be active")
			}
			if job.Context.Info() != nil {
				t.Error("running job should have no shutdown info")
			}
		})
	}
}

func TestJob_Shutdown(t *testing.T) {
	job, err := New(context.Background(), Config{EvaluationID: "eval-1"})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	job.Shutdown("remote hung up")

	info := job.Wait()
	if info == nil {
		t.Fatal("expected shutdown info")
	}
	if info.Reason != "remote hung up" || !info.Graceful {
		t.Errorf("unexpected shutdown info: %+v", info)
	}
	if job.IsActive() {
		t.Error("job should not be active after shutdown")
	}
	if job.TimedOut() {
		t.Error("graceful shutdown reported as timeout")
	}
	if job.Context.Err() != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", job.Context.Err())
	}
}

func TestJobContext_ShutdownHooks(t *testing.T) {
	jobCtx := NewJobContext(context.Background(), nil)

	var hookReasons []string
	var mu sync.Mutex

	for i := 0; i < 2; i++ {
		jobCtx.OnShutdown(func(reason string) {
			mu.Lock()
			defer mu.Unlock()
			hookReasons = append(hookReasons, reason)
		})
	}

	// Shutdown waits for the hooks before returning.
	jobCtx.Shutdown("test shutdown")

	mu.Lock()
	defer mu.Unlock()
	if len(hookReasons) != 2 {
		t.Fatalf("expected 2 hooks called, got %d", len(hookReasons))
	}
	for i, r := range hookReasons {
		if r != "test shutdown" {
			t.Errorf("hook %d: expected reason %q, got %q", i, "test shutdown", r)
		}
	}
}

func TestJobContext_ShutdownIdempotent(t *testing.T) {
	jobCtx := NewJobContext(context.Background(), nil)

	var hooksCalled int
	var mu sync.Mutex
	jobCtx.OnShutdown(func(reason string) {
		mu.Lock()
		hooksCalled++
		mu.Unlock()
	})

	jobCtx.Shutdown("first shutdown")
	jobCtx.Shutdown("second shutdown")
	jobCtx.Shutdown("third shutdown")

	mu.Lock()
	defer mu.Unlock()
	if hooksCalled != 1 {
		t.Errorf("expected 1 hook call, got %d", hooksCalled)
	}
	if got := jobCtx.Info().Reason; got != "first shutdown" {
		t.Errorf("expected first reason to stick, got %q", got)
	}
}

func TestJobContext_OnShutdownAfterShutdown(t *testing.T) {
	jobCtx := NewJobContext(context.Background(), nil)
	jobCtx.Shutdown("test shutdown")

	called := make(chan string, 1)
	jobCtx.OnShutdown(func(reason string) { called <- reason })

	select {
	case reason := <-called:
		if reason != "test shutdown" {
			t.Errorf("expected original reason, got %q", reason)
		}
	case <-time.After(time.Second):
		t.Error("hook should be called immediately when registered after shutdown")
	}
}

func TestJobContext_HookPanicRecovered(t *testing.T) {
	jobCtx := NewJobContext(context.Background(), nil)

	ran := false
	jobCtx.OnShutdown(func(string) { panic("boom") })
	jobCtx.OnShutdown(func(string) { ran = true })

	jobCtx.Shutdown("test")
	if !ran {
		t.Error("a panicking hook must not stop the others")
	}
	if !jobCtx.IsShutdown() {
		t.Error("context should be cancelled")
	}
}

func TestJobContext_SlowHookTimesOut(t *testing.T) {
	old := ShutdownHookTimeout
	ShutdownHookTimeout = 20 * time.Millisecond
	defer func() { ShutdownHookTimeout = old }()

	jobCtx := NewJobContext(context.Background(), nil)
	release := make(chan struct{})
	defer close(release)
	jobCtx.OnShutdown(func(string) { <-release })

	start := time.Now()
	jobCtx.Shutdown("test")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown blocked for %s", elapsed)
	}
	if !jobCtx.IsShutdown() {
		t.Error("context should be cancelled after the hook timeout")
	}
}

func TestJobContext_ConcurrentShutdown(t *testing.T) {
	jobCtx := NewJobContext(context.Background(), nil)

	var hooksCalled int
	var mu sync.Mutex
	jobCtx.OnShutdown(func(reason string) {
		mu.Lock()
		hooksCalled++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			jobCtx.Shutdown("concurrent test")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if hooksCalled != 1 {
		t.Errorf("expected 1 hook call, got %d", hooksCalled)
	}
}

func TestJob_Timeout(t *testing.T) {
	job, err := New(context.Background(), Config{
		EvaluationID: "eval-1",
		Timeout:      50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	hookReason := make(chan string, 1)
	job.Context.OnShutdown(func(reason string) { hookReason <- reason })

	info := job.Wait()
	if info.Reason != ReasonTimeout || info.Graceful {
		t.Errorf("unexpected shutdown info: %+v", info)
	}
	if !job.TimedOut() {
		t.Error("job should report a timeout")
	}
	if got := <-hookReason; got != ReasonTimeout {
		t.Errorf("hook reason = %q, want %q", got, ReasonTimeout)
	}
}

func TestJob_ParentCancelled(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	job, err := New(parent, Config{EvaluationID: "eval-1"})
	if err != nil {
		t.Fatalf("failed to create job: %v", err)
	}

	cancel()
	info := job.Wait()
	if info == nil || info.Graceful {
		t.Errorf("unexpected shutdown info: %+v", info)
	}
}
