package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestRetryableError_Classification(t *testing.T) {
	is := is.New(t)

	base := errors.New("429 too many requests")
	rec := NewRecoverableError(base, "chat completion")
	is.True(IsRecoverable(rec))
	is.True(!IsFatal(rec))
	is.True(errors.Is(rec, base)) // underlying still reachable

	fatal := NewFatalError(base, "chat completion")
	is.True(IsFatal(fatal))
	is.True(!IsRecoverable(fatal))
}

func TestRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 2}

	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{"success first try", []error{nil}, 1, false},
		{"recovers", []error{NewRecoverableError(errors.New("x"), ""), nil}, 2, false},
		{"fatal stops", []error{NewFatalError(errors.New("x"), ""), nil}, 1, true},
		{"budget spent", []error{
			NewRecoverableError(errors.New("1"), ""),
			NewRecoverableError(errors.New("2"), ""),
			NewRecoverableError(errors.New("3"), ""),
			nil,
		}, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			calls := 0
			err := Retry(context.Background(), cfg, func(context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})
			is.Equal(calls, tt.wantCalls)
			is.Equal(err != nil, tt.wantErr)
		})
	}
}
