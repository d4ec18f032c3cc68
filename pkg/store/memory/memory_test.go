package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/store"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

func TestStore_SessionLifecycle(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	m := New()

	s := call.NewSession("eval-1", "retell", "agent-1")
	s.Credential = "secret-token"
	is.NoErr(m.SaveSession(ctx, s))

	s.Status = call.StatusConnecting
	is.NoErr(m.SaveSession(ctx, s))
	is.NoErr(m.SaveSession(ctx, s)) // duplicate status not recorded twice

	got, err := m.Session(ctx, s.ID)
	is.NoErr(err)
	is.Equal(got.Status, call.StatusConnecting)
	is.Equal(got.Credential, "") // credentials are not stored
	is.Equal(m.StatusHistory(s.ID), []call.Status{call.StatusInitiating, call.StatusConnecting})

	_, err = m.Session(ctx, uuid.New())
	is.True(errors.Is(err, store.ErrNotFound))
}

func TestStore_Outcomes(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	m := New()

	id := uuid.New()
	is.NoErr(m.SaveOutcome(ctx, call.Outcome{SessionID: id, Status: call.OutcomeCompleted}))
	is.NoErr(m.TriggerEvaluation(ctx, id))

	o, err := m.Outcome(ctx, id)
	is.NoErr(err)
	is.Equal(o.Status, call.OutcomeCompleted)
	is.Equal(m.OutcomeWrites(id), 1)
	is.Equal(m.Evaluations(), []uuid.UUID{id})
}
