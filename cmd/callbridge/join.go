package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chriscow/callbridge-go/pkg/bridge"
	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/recorder"
	"github.com/chriscow/callbridge-go/pkg/store/memory"
	"github.com/chriscow/callbridge-go/pkg/transport"
	"github.com/chriscow/callbridge-go/pkg/turn"
	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a self-hosted LiveKit room as the synthetic caller",
	Long: `Join a room on your own LiveKit server with a locally minted access token and
talk to whatever agent is in it. No platform is involved, so there is no call
record to poll; the live turns are printed when the call ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		url, _ := flags.GetString("url")
		room, _ := flags.GetString("room")
		identity, _ := flags.GetString("identity")
		sampleRate, _ := flags.GetInt("sample-rate")
		maxTurns, _ := flags.GetInt("max-turns")
		validFor, _ := flags.GetDuration("valid-for")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger()

		if url == "" {
			url = cfg.LiveKitURL
		}
		if url == "" {
			return fmt.Errorf("--url or LIVEKIT_URL is required")
		}
		if cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
			return fmt.Errorf("LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
		}

		token, err := generateToken(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, room, identity, validFor)
		if err != nil {
			return fmt.Errorf("failed to mint access token: %w", err)
		}

		agentCfg, err := agentConfig(cfg, "openai")
		if err != nil {
			return err
		}
		agentCfg.Persona, agentCfg.Scenario = personaFrom(cmd)
		if maxTurns > 0 {
			agentCfg.MaxTurns = maxTurns
		}

		sess := call.NewSession(uuid.NewString(), "livekit", room)
		sess.Transport = string(transport.KindTokenJoin)
		sess.ServerURL = url
		sess.SampleRate = sampleRate
		record := call.NewRecord(sess)
		record.Transition(call.StatusConnecting, "")

		logger = logger.With(slog.String("session_id", sess.ID.String()), slog.String("room", room))
		tr, err := transport.New(transport.Config{
			Kind:       transport.KindTokenJoin,
			Credential: token,
			ServerURL:  url,
			SampleRate: sampleRate,
			Identity:   identity,
			Logger:     logger,
		})
		if err != nil {
			return err
		}

		b, err := bridge.New(bridge.Config{
			Record:        record,
			Store:         memory.New(),
			Transport:     tr,
			Agent:         agentCfg,
			MergeMode:     turn.MergeReplace,
			Recorder:      recorder.New(tr.SampleRate(), logger),
			RecordingsDir: cfg.RecordingsDir,
			MaxDuration:   cfg.BridgeMaxDuration,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		runErr := b.Run(ctx)
		logger.Info("Left room",
			slog.String("reason", b.EndReason()),
			slog.String("status", string(record.Snapshot().Status)))
		if err := printJSON(b.Orchestrator().Turns()); err != nil {
			return err
		}
		return runErr
	},
}

// generateToken mints a room-join token for a self-hosted LiveKit server.
func generateToken(apiKey, apiSecret, room, identity string, validFor time.Duration) (string, error) {
	at := auth.NewAccessToken(apiKey, apiSecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}).
		SetIdentity(identity).
		SetValidFor(validFor)
	return at.ToJWT()
}
