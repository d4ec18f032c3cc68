package bridge

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/chriscow/callbridge-go/pkg/agent"
	llmfake "github.com/chriscow/callbridge-go/pkg/ai/llm/fake"
	ttsfake "github.com/chriscow/callbridge-go/pkg/ai/tts/fake"
	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/job"
	"github.com/chriscow/callbridge-go/pkg/recorder"
	"github.com/chriscow/callbridge-go/pkg/store/memory"
	"github.com/chriscow/callbridge-go/pkg/transport"
	trfake "github.com/chriscow/callbridge-go/pkg/transport/fake"
	"github.com/chriscow/callbridge-go/pkg/turn"
	"github.com/matryer/is"
)

type harness struct {
	session *Session
	tr      *trfake.Transport
	store   *memory.Store
	record  *call.Record
	llm     *llmfake.FakeLLM
	rec     *recorder.Recorder
	dir     string
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	sess := call.NewSession("eval-1", "fake", "agent-1")
	sess.Transport = trfake.Name
	sess.Status = call.StatusConnecting

	tts := ttsfake.NewFakeTTS()
	tts.PerCharacter = time.Millisecond

	h := &harness{
		tr:     trfake.New(16000, 20*time.Millisecond),
		store:  memory.New(),
		record: call.NewRecord(sess),
		llm:    llmfake.NewFakeLLM("Hi, I'm calling about my order.", "It's order 1234."),
		rec:    recorder.New(16000, nil),
		dir:    t.TempDir(),
	}

	cfg := Config{
		Record:    h.record,
		Store:     h.store,
		Transport: h.tr,
		Agent: agent.Config{
			LLM:      h.llm,
			TTS:      tts,
			MaxTurns: 2,
		},
		MergeMode:     turn.MergeReplace,
		Recorder:      h.rec,
		RecordingsDir: h.dir,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.session = s
	return h
}

func (h *harness) run(ctx context.Context) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- h.session.Run(ctx) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSession_ThreeTurnConversation(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	errc := h.run(ctx)

	h.tr.Say("Thanks for calling Acme, how can I help?")
	is.NoErr(h.tr.WaitQuiet(ctx, 100*time.Millisecond))
	h.tr.Say("Sure, what's the order number?")
	is.NoErr(h.tr.WaitQuiet(ctx, 100*time.Millisecond))
	h.tr.Say("It shipped yesterday. Anything else?")

	is.NoErr(waitErr(t, errc))
	is.Equal(h.session.EndReason(), "conversation complete")

	// The bridge stops within a pacing cycle of the final frame.
	frames := h.tr.Frames()
	is.True(len(frames) > 0)
	last := frames[len(frames)-1].At
	is.True(h.session.EndedAt().Sub(last) < 2*h.tr.FrameDuration())

	turns := h.session.Orchestrator().Turns()
	is.Equal(len(turns), 6)
	is.Equal(turns[1].Text, "Hi, I'm calling about my order.")
	is.Equal(turns[3].Text, "It's order 1234.")
	is.Equal(turns[5].Text, agent.DefaultClosingLine)
	is.Equal(h.llm.Calls(), 2)

	for _, f := range frames {
		is.Equal(len(f.Samples), 320) // 20ms at 16kHz
	}

	is.True(h.tr.Disconnected())
	is.Equal(h.store.StatusHistory(h.record.Snapshot().ID), []call.Status{call.StatusBridging, call.StatusEnded})

	<-h.rec.Flushed()
	_, err := os.Stat(h.rec.Path())
	is.NoErr(err)
}

func TestSession_ConnectFailure(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, nil)
	h.tr.ConnectErr = errors.New("token expired")

	err := waitErr(t, h.run(context.Background()))

	var connErr *call.ConnectionError
	is.True(errors.As(err, &connErr))

	snap := h.record.Snapshot()
	is.Equal(snap.Status, call.StatusFailed)
	is.True(snap.Error != "")

	stored, err := h.store.Session(context.Background(), snap.ID)
	is.NoErr(err)
	is.Equal(stored.Status, call.StatusFailed)
	is.Equal(h.llm.Calls(), 0)
}

func TestSession_RemoteHangup(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, nil)

	errc := h.run(context.Background())
	h.tr.SendAudio(make([]int16, 1600))
	h.tr.Hangup("customer-ended-call")

	is.NoErr(waitErr(t, errc))
	is.Equal(h.session.EndReason(), "remote disconnected: customer-ended-call")
	is.Equal(h.record.Snapshot().Status, call.StatusEnded)
	is.True(h.tr.Disconnected())
}

func TestSession_HardTimeout(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, func(c *Config) { c.MaxDuration = 100 * time.Millisecond })

	start := time.Now()
	is.NoErr(waitErr(t, h.run(context.Background())))
	is.True(time.Since(start) >= 100*time.Millisecond)
	is.Equal(h.session.EndReason(), job.ReasonTimeout)
	is.Equal(h.record.Snapshot().Status, call.StatusEnded)
}

func TestSession_PublishFailureEndsCall(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, nil)
	h.tr.PublishErr = errors.New("track closed")

	errc := h.run(context.Background())
	h.tr.Say("Hello?")

	err := waitErr(t, errc)
	var rt *call.TransportRuntimeError
	is.True(errors.As(err, &rt))
	is.Equal(h.session.EndReason(), "transport error")

	snap := h.record.Snapshot()
	is.Equal(snap.Status, call.StatusEnded)
	is.True(snap.Error != "")
}

func TestSession_OpeningLine(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, func(c *Config) {
		c.Agent.Persona.FirstLine = "Hi there, I have a question about my bill."
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := h.run(ctx)
	is.NoErr(h.tr.WaitQuiet(ctx, 50*time.Millisecond))
	h.tr.Hangup("")
	is.NoErr(waitErr(t, errc))

	turns := h.session.Orchestrator().Turns()
	is.Equal(len(turns), 1)
	is.Equal(turns[0].Speaker, call.SpeakerSyntheticCaller)
	is.Equal(h.llm.Calls(), 0)
}

func TestSession_EmptyEpisodeDrainsPending(t *testing.T) {
	is := is.New(t)
	h := newHarness(t, nil)
	h.llm.Delay = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := h.run(ctx)

	h.tr.Say("Hello, who is this?")
	h.tr.Say("Are you still there?") // arrives while the first reply is generating

	// The remote starts talking again before the first reply is done, so
	// the parked utterance has to wait for the end of that episode.
	h.tr.Push(transport.NewEvent(transport.EventRemoteStartedTalking))
	is.NoErr(h.tr.WaitQuiet(ctx, 100*time.Millisecond))
	is.Equal(h.llm.Calls(), 1)
	is.Equal(*h.session.Orchestrator().State().Pending, "Are you still there?")

	h.tr.Push(transport.NewEvent(transport.EventRemoteStoppedTalking))
	is.NoErr(h.tr.WaitQuiet(ctx, 100*time.Millisecond))
	h.tr.Hangup("")
	is.NoErr(waitErr(t, errc))

	is.Equal(h.llm.Calls(), 2)
	reqs := h.llm.Requests()
	for _, m := range reqs[0].Messages {
		is.True(m.Content != "Are you still there?") // parked utterance stays out of the in-flight prompt
	}
	found := false
	for _, m := range reqs[1].Messages {
		found = found || m.Content == "Are you still there?"
	}
	is.True(found)
	is.Equal(len(h.session.Orchestrator().Turns()), 4)
}
