package main

import (
	"testing"
	"time"

	"github.com/chriscow/callbridge-go/internal/config"
	"github.com/livekit/protocol/auth"
	"github.com/matryer/is"
)

func TestGenerateToken(t *testing.T) {
	is := is.New(t)

	token, err := generateToken("devkey", "secret-secret-secret-secret-secret", "lobby", "caller-1", time.Minute)
	is.NoErr(err)

	v, err := auth.ParseAPIToken(token)
	is.NoErr(err)
	is.Equal(v.APIKey(), "devkey")

	grants, err := v.Verify("secret-secret-secret-secret-secret")
	is.NoErr(err)
	is.Equal(grants.Identity, "caller-1")
	is.Equal(grants.Video.Room, "lobby")
	is.True(grants.Video.RoomJoin)
}

func TestPlatformClients(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		want    []string
		wantErr bool
	}{
		{"none", config.Config{}, nil, true},
		{"retell only", config.Config{RetellAPIKey: "rk"}, []string{"retell"}, false},
		{"both", config.Config{RetellAPIKey: "rk", VapiAPIKey: "vk"}, []string{"retell", "vapi"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clients, err := platformClients(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(clients) != len(tt.want) {
				t.Errorf("got %d clients, want %d", len(clients), len(tt.want))
			}
			for _, name := range tt.want {
				if _, ok := clients[name]; !ok {
					t.Errorf("missing %s client", name)
				}
			}
		})
	}
}

func TestDryRunPlatform_EndsWithTranscript(t *testing.T) {
	is := is.New(t)

	p := dryRunPlatform()
	is.Equal(string(p.Registration.Transport), "fake")

	last := p.Statuses[len(p.Statuses)-1]
	is.True(last.Ended)
	is.Equal(len(last.Segments), len(dryRunLines))
	for _, st := range p.Statuses[:len(p.Statuses)-1] {
		is.True(!st.Ended)
	}
}

func TestDryRunProviders(t *testing.T) {
	is := is.New(t)

	cfg := config.Defaults()
	a, err := agentConfig(cfg, "fake")
	is.NoErr(err)
	is.True(a.LLM != nil)
	is.True(a.TTS != nil)
	is.Equal(a.MaxTurns, cfg.MaxTurns)

	_, err = agentConfig(cfg, "missing")
	is.True(err != nil)
}
