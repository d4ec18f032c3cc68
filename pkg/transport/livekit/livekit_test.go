package livekit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/livekit/protocol/auth"
	"github.com/matryer/is"
)

func mintToken(t *testing.T, validFor time.Duration) string {
	t.Helper()
	at := auth.NewAccessToken("devkey", "secret-secret-secret-secret-secret")
	at.AddGrant(&auth.VideoGrant{RoomJoin: true, Room: "web-call"}).
		SetIdentity("synthetic-caller").
		SetValidFor(validFor)
	token, err := at.ToJWT()
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestParseDataEvent(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []transport.Event
	}{
		{
			name: "start talking",
			data: `{"event_type":"agent_start_talking"}`,
			want: []transport.Event{{Type: transport.EventRemoteStartedTalking}},
		},
		{
			name: "stop talking",
			data: `{"event_type":"agent_stop_talking"}`,
			want: []transport.Event{{Type: transport.EventRemoteStoppedTalking}},
		},
		{
			name: "update takes the last agent entry",
			data: `{"event_type":"update","transcript":[
				{"role":"agent","content":"Hi there"},
				{"role":"user","content":"hello"},
				{"role":"agent","content":"How can I help"}]}`,
			want: []transport.Event{{Type: transport.EventTranscriptFragment, Text: "How can I help"}},
		},
		{
			name: "update ending with the caller is ignored",
			data: `{"event_type":"update","transcript":[{"role":"agent","content":"Hi"},{"role":"user","content":"yo"}]}`,
		},
		{
			name: "empty update",
			data: `{"event_type":"update","transcript":[]}`,
		},
		{
			name: "call ended",
			data: `{"event_type":"call_ended"}`,
			want: []transport.Event{{Type: transport.EventRemoteDisconnected, Reason: "call ended"}},
		},
		{
			name: "unknown",
			data: `{"event_type":"metadata"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			got, err := parseDataEvent([]byte(tt.data))
			is.NoErr(err)
			is.Equal(len(got), len(tt.want))
			for i := range got {
				is.Equal(got[i].Type, tt.want[i].Type)
				is.Equal(got[i].Text, tt.want[i].Text)
				is.Equal(got[i].Reason, tt.want[i].Reason)
			}
		})
	}
}

func TestParseDataEvent_Invalid(t *testing.T) {
	is := is.New(t)
	_, err := parseDataEvent([]byte("not json"))
	is.True(err != nil)
}

func TestCheckToken(t *testing.T) {
	is := is.New(t)
	now := time.Now()

	is.NoErr(checkToken(mintToken(t, 30*time.Second), now))

	err := checkToken(mintToken(t, 30*time.Second), now.Add(time.Minute))
	is.True(errors.Is(err, ErrTokenExpired))

	err = checkToken("definitely.not.a-jwt", now)
	is.True(errors.Is(err, ErrMalformedToken))
}

func TestNew_RequiresServerURL(t *testing.T) {
	is := is.New(t)
	_, err := New(transport.Config{Credential: "x", SampleRate: 24000})
	is.True(err != nil)

	tr, err := New(transport.Config{Credential: "x", ServerURL: "wss://example.invalid", SampleRate: 24000})
	is.NoErr(err)
	is.Equal(tr.FrameDuration(), 20*time.Millisecond)
	is.Equal(tr.SampleRate(), 24000)
}

func TestConnect_ExpiredTokenFailsBeforeDialing(t *testing.T) {
	is := is.New(t)

	tr, err := New(transport.Config{
		Credential: mintToken(t, 30*time.Second),
		ServerURL:  "wss://example.invalid",
		SampleRate: 24000,
	})
	is.NoErr(err)
	tr.now = func() time.Time { return time.Now().Add(time.Hour) }

	err = tr.Connect(context.Background())
	var ce *call.ConnectionError
	is.True(errors.As(err, &ce))
	is.True(errors.Is(err, ErrTokenExpired))
	is.Equal(ce.Transport, "token-join")
}

func TestPublishAudio_NotConnected(t *testing.T) {
	is := is.New(t)
	tr, err := New(transport.Config{Credential: "x", ServerURL: "wss://example.invalid", SampleRate: 16000})
	is.NoErr(err)

	err = tr.PublishAudio(context.Background(), make([]int16, 320))
	var re *call.TransportRuntimeError
	is.True(errors.As(err, &re))
}

func TestDisconnect_ClosesChannels(t *testing.T) {
	is := is.New(t)
	tr, err := New(transport.Config{Credential: "x", ServerURL: "wss://example.invalid", SampleRate: 16000})
	is.NoErr(err)

	is.NoErr(tr.Disconnect())
	is.NoErr(tr.Disconnect())

	_, ok := <-tr.Events()
	is.True(!ok)
	_, ok = <-tr.Audio()
	is.True(!ok)
}

func TestEncodeControl(t *testing.T) {
	is := is.New(t)

	b, err := encodeControl(map[string]string{"type": "ping"})
	is.NoErr(err)
	is.Equal(string(b), `{"type":"ping"}`)

	b, err = encodeControl(`{"a":1}`)
	is.NoErr(err)
	is.Equal(string(b), `{"a":1}`)

	_, err = encodeControl("{broken")
	is.True(err != nil)
}

func TestRegisteredAsTokenJoin(t *testing.T) {
	is := is.New(t)
	tr, err := transport.New(transport.Config{
		Kind:       transport.KindTokenJoin,
		Credential: "x",
		ServerURL:  "wss://example.invalid",
		SampleRate: 24000,
	})
	is.NoErr(err)
	_, ok := tr.(*Transport)
	is.True(ok)
}
