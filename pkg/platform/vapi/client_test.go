package vapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/platform"
	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/matryer/is"
)

const getCallEnded = `{
  "id": "c-1",
  "status": "ended",
  "startedAt": "2026-10-01T10:00:00Z",
  "endedAt": "2026-10-01T10:01:30Z",
  "endedReason": "customer-ended-call",
  "cost": 0.21,
  "costBreakdown": {"transport": 0.01, "stt": 0.04, "llm": 0.06, "tts": 0.05, "vapi": 0.05, "total": 0.21},
  "artifact": {
    "transcript": "AI: Thanks for calling.\nUser: Hi, I have a billing question.",
    "recordingUrl": "https://storage.test/c-1.wav",
    "messages": [
      {"role": "system", "message": "You are a receptionist."},
      {"role": "bot", "message": "Thanks for calling.", "secondsFromStart": 1.5, "duration": 1200},
      {"role": "user", "message": "Hi, I have a billing question.", "secondsFromStart": 4, "duration": 2000}
    ]
  }
}`

func TestClient_Register(t *testing.T) {
	is := is.New(t)

	var gotPath, gotAssistant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotAssistant, _ = body["assistantId"].(string)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"c-1","webCallUrl":"https://vapi.daily.co/room123"}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "key", BaseURL: srv.URL})
	is.NoErr(err)

	reg, err := c.Register(context.Background(), platform.RegisterRequest{AgentID: "asst-1"})
	is.NoErr(err)
	is.Equal(gotPath, "/call/web")
	is.Equal(gotAssistant, "asst-1")
	is.Equal(reg.ProviderCallID, "c-1")
	is.Equal(reg.Credential, "https://vapi.daily.co/room123")
	is.Equal(reg.SampleRate, DefaultSampleRate)
	is.Equal(reg.Transport, transport.KindRoomURLJoin)
}

func TestClient_GetCall(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(getCallEnded))
	}))
	defer srv.Close()

	c, _ := New(Config{APIKey: "key", BaseURL: srv.URL})
	st, err := c.GetCall(context.Background(), "c-1")
	is.NoErr(err)

	is.True(st.Ended)
	is.Equal(st.Transcript, "AI: Thanks for calling.\nUser: Hi, I have a billing question.")
	is.Equal(st.RecordingURL, "https://storage.test/c-1.wav")
	is.Equal(platform.DurationOf(st, time.Time{}), 90*time.Second)

	is.Equal(len(st.Segments), 2) // system prompt skipped
	is.Equal(st.Segments[0].Speaker, call.SpeakerRemoteAgent)
	is.Equal(st.Segments[0].Start, 1500*time.Millisecond)
	is.Equal(st.Segments[0].End, 2700*time.Millisecond)
	is.Equal(st.Segments[1].Speaker, call.SpeakerSyntheticCaller)

	is.Equal(st.Cost.Total, 0.21)
	is.Equal(len(st.Cost.Breakdown), 5) // "total" excluded
}

func TestClient_GetCallLegacyFields(t *testing.T) {
	is := is.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"c-2","status":"ended","transcript":"hello","recordingUrl":"https://x/rec.wav"}`))
	}))
	defer srv.Close()

	c, _ := New(Config{APIKey: "key", BaseURL: srv.URL})
	st, err := c.GetCall(context.Background(), "c-2")
	is.NoErr(err)
	is.Equal(st.Transcript, "hello")
	is.Equal(st.RecordingURL, "https://x/rec.wav")
	is.True(st.Cost == nil)
}
