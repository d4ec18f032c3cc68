package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestDoJSON_APIError(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	err := DoJSON(context.Background(), DefaultHTTPClient(), http.MethodGet, srv.URL, "k", nil, nil)
	var apiErr *APIError
	is.True(errors.As(err, &apiErr))
	is.Equal(apiErr.StatusCode, http.StatusUnauthorized)
	is.Equal(err.Error(), `API error (401): {"error":"bad key"}`)
}

func TestDurationOf(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		status CallStatus
		start  time.Time
		want   time.Duration
	}{
		{"platform figure wins", CallStatus{Duration: 90 * time.Second, EndedAt: base.Add(time.Hour)}, base, 90 * time.Second},
		{"ended minus platform start", CallStatus{StartedAt: base, EndedAt: base.Add(2 * time.Minute)}, base.Add(-time.Hour), 2 * time.Minute},
		{"ended minus session start", CallStatus{EndedAt: base.Add(30 * time.Second)}, base, 30 * time.Second},
		{"no end time", CallStatus{}, base, 0},
		{"clock skew", CallStatus{EndedAt: base.Add(-time.Second)}, base, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(DurationOf(&tt.status, tt.start), tt.want)
		})
	}
}
