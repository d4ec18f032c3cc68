package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chriscow/callbridge-go/internal/config"
	"github.com/chriscow/callbridge-go/pkg/agent"
	"github.com/chriscow/callbridge-go/pkg/ai/llm"
	"github.com/chriscow/callbridge-go/pkg/ai/tts"
	"github.com/chriscow/callbridge-go/pkg/call"
	"github.com/chriscow/callbridge-go/pkg/platform"
	platformfake "github.com/chriscow/callbridge-go/pkg/platform/fake"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	"github.com/chriscow/callbridge-go/pkg/poller"
	"github.com/chriscow/callbridge-go/pkg/runner"
	"github.com/chriscow/callbridge-go/pkg/store"
	"github.com/chriscow/callbridge-go/pkg/store/memory"
	"github.com/chriscow/callbridge-go/pkg/store/postgres"
	"github.com/chriscow/callbridge-go/pkg/transport"
	transportfake "github.com/chriscow/callbridge-go/pkg/transport/fake"
	_ "github.com/chriscow/callbridge-go/pkg/transport/livekit"    // Import to register token-join
	_ "github.com/chriscow/callbridge-go/pkg/transport/webrtcroom" // Import to register room-url-join
	"github.com/chriscow/callbridge-go/pkg/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// cancelGrace bounds how long an interrupted call gets to write its outcome.
const cancelGrace = 30 * time.Second

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Place one synthetic test call and print its outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		platformName, _ := flags.GetString("platform")
		agentID, _ := flags.GetString("agent-id")
		evaluationID, _ := flags.GetString("evaluation-id")
		maxTurns, _ := flags.GetInt("max-turns")
		dryRun, _ := flags.GetBool("dry-run")
		metrics, _ := flags.GetBool("metrics")
		metricsAddr, _ := flags.GetString("metrics-addr")
		bgFile, _ := flags.GetString("bg-file")
		bgVolume, _ := flags.GetFloat32("bg-volume")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger()

		if dryRun {
			platformName = "fake"
			if agentID == "" {
				agentID = "dry-run-agent"
			}
		} else if err := cfg.Validate(); err != nil {
			return err
		}
		if agentID == "" {
			return fmt.Errorf("--agent-id is required")
		}
		if evaluationID == "" {
			evaluationID = uuid.NewString()
		}

		logger.Info("Starting call",
			slog.String("service", "callbridge"),
			slog.String("version", version.Version),
			slog.String("commit", version.GitCommit),
			slog.String("platform", platformName),
			slog.String("agent_id", agentID),
			slog.String("evaluation_id", evaluationID),
			slog.Bool("dry_run", dryRun))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, closeStore, err := openStore(ctx, cfg, dryRun, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		rcfg, err := runnerConfig(cfg, st, dryRun, logger)
		if err != nil {
			return err
		}
		if bgFile != "" {
			rcfg.Background = &agent.BackgroundAudioConfig{
				AudioFile: bgFile,
				Volume:    bgVolume,
				Enabled:   true,
			}
		}

		r, err := runner.New(rcfg)
		if err != nil {
			return err
		}

		persona, scenario := personaFrom(cmd)
		h, err := r.Start(ctx, runner.Request{
			EvaluationID: evaluationID,
			Platform:     platformName,
			AgentID:      agentID,
			Persona:      persona,
			Scenario:     scenario,
			MaxTurns:     maxTurns,
		})
		if err != nil {
			return err
		}

		if metrics {
			publishCallMetrics(h)
			serveMetrics(metricsAddr, logger)
		}

		out, err := h.Wait(ctx)
		if err != nil {
			logger.Info("Interrupted, ending call")
			h.Cancel()
			waitCtx, cancelWait := context.WithTimeout(context.Background(), cancelGrace)
			defer cancelWait()
			if out, err = h.Wait(waitCtx); err != nil {
				return fmt.Errorf("call did not finish after cancel: %w", err)
			}
		}

		logger.Info("Call finalized",
			slog.String("session_id", out.SessionID.String()),
			slog.String("status", string(out.Status)),
			slog.Duration("duration", out.Duration))
		if err := printJSON(out); err != nil {
			return err
		}
		if out.Status == call.OutcomeFailed {
			return errors.New(out.Error)
		}
		return nil
	},
}

func addPersonaFlags(cmd *cobra.Command) {
	cmd.Flags().String("persona-name", "Alex", "Name the synthetic caller goes by")
	cmd.Flags().String("persona", "A polite customer calling a support line.", "Who the synthetic caller is")
	cmd.Flags().String("first-line", "", "Line spoken as soon as the call connects")
	cmd.Flags().String("goal", "", "What the caller is trying to get done")
	cmd.Flags().String("instructions", "", "Extra scenario instructions for the caller")
}

func personaFrom(cmd *cobra.Command) (agent.Persona, agent.Scenario) {
	flags := cmd.Flags()
	name, _ := flags.GetString("persona-name")
	description, _ := flags.GetString("persona")
	firstLine, _ := flags.GetString("first-line")
	goal, _ := flags.GetString("goal")
	instructions, _ := flags.GetString("instructions")
	return agent.Persona{Name: name, Description: description, FirstLine: firstLine},
		agent.Scenario{Goal: goal, Instructions: instructions}
}

func openStore(ctx context.Context, cfg config.Config, dryRun bool, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" || dryRun {
		logger.Info("Using in-memory store")
		return memory.New(), func() {}, nil
	}
	pg, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

func runnerConfig(cfg config.Config, st store.Store, dryRun bool, logger *slog.Logger) (runner.Config, error) {
	providers := "openai"
	if dryRun {
		providers = "fake"
	}

	agentCfg, err := agentConfig(cfg, providers)
	if err != nil {
		return runner.Config{}, err
	}

	rcfg := runner.Config{
		Store: st,
		Agent: agentCfg,
		Poll: poller.Config{
			InitialDelay: cfg.PollInitialDelay,
			Interval:     cfg.PollInterval,
			MaxAttempts:  cfg.PollMaxAttempts,
			FlushWait:    poller.DefaultConfig().FlushWait,
		},
		MaxDuration:   cfg.BridgeMaxDuration,
		RecordingsDir: cfg.RecordingsDir,
		Logger:        logger,
	}

	if dryRun {
		rcfg.Platforms = map[string]platform.Client{"fake": dryRunPlatform()}
		rcfg.Poll.InitialDelay = time.Second
		rcfg.Poll.Interval = 500 * time.Millisecond
		rcfg.NewTransport = dryRunTransport
		return rcfg, nil
	}

	rcfg.Platforms, err = platformClients(cfg)
	if err != nil {
		return runner.Config{}, err
	}
	return rcfg, nil
}

// agentConfig builds the caller's LLM and TTS from the named providers.
func agentConfig(cfg config.Config, providers string) (agent.Config, error) {
	llmProvider, err := plugin.Build[llm.LLM]("llm", providers, map[string]any{
		"api_key": cfg.OpenAIAPIKey,
		"model":   cfg.LLMModel,
	})
	if err != nil {
		return agent.Config{}, err
	}
	ttsProvider, err := plugin.Build[tts.TTS]("tts", providers, map[string]any{
		"api_key": cfg.OpenAIAPIKey,
		"model":   cfg.TTSModel,
		"voice":   cfg.TTSVoice,
	})
	if err != nil {
		return agent.Config{}, err
	}
	return agent.Config{
		LLM:         llmProvider,
		TTS:         ttsProvider,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		Voice:       cfg.TTSVoice,
		TTSModel:    cfg.TTSModel,
		MaxTurns:    cfg.MaxTurns,
	}, nil
}

// dryRunLines are spoken by the scripted remote agent in a dry run.
var dryRunLines = []string{
	"Thanks for calling, how can I help you today?",
	"I can look into that for you. Can I have your order number?",
	"Thanks, I've found it. Is there anything else?",
}

// dryRunPlatform reports the call as ongoing for a few seconds and then
// returns a finished record.
func dryRunPlatform() *platformfake.Platform {
	p := platformfake.New()
	p.Registration.Transport = transport.Kind(transportfake.Name)

	var segments []call.Segment
	for _, line := range dryRunLines {
		segments = append(segments, call.Segment{Speaker: call.SpeakerRemoteAgent, Text: line})
	}
	p.Statuses = make([]platform.CallStatus, 0, 21)
	for range 20 {
		p.Statuses = append(p.Statuses, platform.CallStatus{Status: "ongoing"})
	}
	p.Statuses = append(p.Statuses, platform.CallStatus{
		Status:   "ended",
		Ended:    true,
		Duration: 10 * time.Second,
		Segments: segments,
	})
	return p
}

// dryRunTransport builds the fake transport and plays the remote agent on it,
// waiting for the caller to finish each reply before the next line.
func dryRunTransport(cfg transport.Config) (transport.Transport, error) {
	t, err := transport.New(cfg)
	if err != nil {
		return nil, err
	}
	ft, ok := t.(*transportfake.Transport)
	if !ok {
		return t, nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		time.Sleep(500 * time.Millisecond)
		for _, line := range dryRunLines {
			ft.Say(line)
			if err := ft.WaitQuiet(ctx, 300*time.Millisecond); err != nil {
				return
			}
		}
		ft.Hangup("dry run complete")
	}()
	return t, nil
}

// publishCallMetrics exposes the caller's counters under "caller" in expvar.
func publishCallMetrics(h *runner.Handle) {
	m := h.Bridge.Orchestrator().Metrics()
	vars := new(expvar.Map).Init()
	vars.Set("first_reply_latency_ms", m.FirstReplyLatency)
	vars.Set("replies", m.Replies)
	vars.Set("generation_failures", m.GenerationFailures)
	vars.Set("superseded_pending", m.SupersededPending)
	vars.Set("state_transitions", m.StateTransitions)
	expvar.Publish("caller", vars)
}
