package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/store"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

func connect(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Connect(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	is := is.New(t)
	s := connect(t)
	ctx := context.Background()

	sess := call.NewSession("eval-"+uuid.NewString(), "vapi", "asst-1")
	sess.ProviderCallID = "c-1"
	sess.SampleRate = 16000
	is.NoErr(s.SaveSession(ctx, sess))

	sess.Status = call.StatusEnded
	is.NoErr(s.SaveSession(ctx, sess))

	got, err := s.Session(ctx, sess.ID)
	is.NoErr(err)
	is.Equal(got.Status, call.StatusEnded)
	is.Equal(got.SampleRate, 16000)

	out := call.Outcome{
		SessionID:    sess.ID,
		EvaluationID: sess.EvaluationID,
		Status:       call.OutcomeCompleted,
		Duration:     42 * time.Second,
		Transcript:   "hello",
		Segments:     []call.Segment{{Speaker: call.SpeakerRemoteAgent, Text: "hello"}},
		Cost:         &call.Cost{Total: 0.2},
		FinalizedAt:  time.Now(),
	}
	is.NoErr(s.SaveOutcome(ctx, out))
	is.NoErr(s.TriggerEvaluation(ctx, sess.ID))
	is.NoErr(s.TriggerEvaluation(ctx, sess.ID)) // queueing twice is harmless

	o, err := s.Outcome(ctx, sess.ID)
	is.NoErr(err)
	is.Equal(o.Duration, 42*time.Second)
	is.Equal(len(o.Segments), 1)
	is.Equal(o.Cost.Total, 0.2)

	_, err = s.Session(ctx, uuid.New())
	is.True(errors.Is(err, store.ErrNotFound))
}
