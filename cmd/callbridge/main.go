package main

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chriscow/callbridge-go/internal/config"
	"github.com/chriscow/callbridge-go/pkg/platform"
	"github.com/chriscow/callbridge-go/pkg/platform/retell"
	"github.com/chriscow/callbridge-go/pkg/platform/vapi"
	"github.com/chriscow/callbridge-go/pkg/plugin"
	_ "github.com/chriscow/callbridge-go/pkg/plugin/fake"   // Import to register fake providers
	_ "github.com/chriscow/callbridge-go/pkg/plugin/openai" // Import to register OpenAI providers
	"github.com/chriscow/callbridge-go/pkg/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "callbridge",
	Short: "Place synthetic test calls against hosted voice agents",
	Long: `callbridge registers a web call with a voice-AI platform, joins it as an
LLM-driven synthetic caller and collects the platform's final call record for
evaluation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("plugin-dir")
		if _, err := plugin.LoadDynamicPlugins(dir); err != nil {
			return fmt.Errorf("failed to load plugins: %w", err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch a call record from the platform once",
	RunE: func(cmd *cobra.Command, args []string) error {
		platformName, _ := cmd.Flags().GetString("platform")
		callID, _ := cmd.Flags().GetString("call-id")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := setupLogger()

		clients, err := platformClients(cfg)
		if err != nil {
			return err
		}
		client, ok := clients[platformName]
		if !ok {
			return fmt.Errorf("platform %q is not configured", platformName)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		st, err := client.GetCall(ctx, callID)
		if err != nil {
			return fmt.Errorf("failed to fetch call: %w", err)
		}
		logger.Info("Fetched call",
			slog.String("platform", platformName),
			slog.String("provider_call_id", callID),
			slog.String("status", st.Status),
			slog.Bool("ended", st.Ended))
		return printJSON(st)
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Plugin management commands",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers, platforms and transports",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")

		plugins := plugin.List(kind)
		if len(plugins) == 0 {
			if kind == "" {
				fmt.Println("No plugins registered")
			} else {
				fmt.Printf("No plugins registered for kind: %s\n", kind)
			}
			return nil
		}

		fmt.Printf("%-10s %-15s %-10s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		fmt.Println("------------------------------------------------------------")
		for _, p := range plugins {
			v := p.Version
			if v == "" {
				v = "N/A"
			}
			description := p.Description
			if description == "" {
				description = "No description"
			}
			fmt.Printf("%-10s %-15s %-10s %s\n", p.Kind, p.Name, v, description)
		}
		return nil
	},
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile == "" {
		return config.Load()
	}
	return config.Load(envFile)
}

// setupLogger logs to stderr so command output on stdout stays parseable.
func setupLogger() *slog.Logger {
	logFormat := os.Getenv("LOG_FORMAT")
	logLevel := os.Getenv("LOG_LEVEL")

	opts := &slog.HandlerOptions{}
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// platformClients builds a client for every platform that has an API key.
func platformClients(cfg config.Config) (map[string]platform.Client, error) {
	clients := make(map[string]platform.Client)
	if cfg.RetellAPIKey != "" {
		c, err := retell.New(retell.Config{
			APIKey:     cfg.RetellAPIKey,
			BaseURL:    cfg.RetellBaseURL,
			LiveKitURL: cfg.RetellLiveKitURL,
		})
		if err != nil {
			return nil, err
		}
		clients[c.Name()] = c
	}
	if cfg.VapiAPIKey != "" {
		c, err := vapi.New(vapi.Config{
			APIKey:     cfg.VapiAPIKey,
			BaseURL:    cfg.VapiBaseURL,
			SampleRate: cfg.VapiSampleRate,
		})
		if err != nil {
			return nil, err
		}
		clients[c.Name()] = c
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no platform configured (set RETELL_API_KEY or VAPI_API_KEY)")
	}
	return clients, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	go func() {
		logger.Info("Starting metrics server", slog.String("addr", addr))
		mux := http.NewServeMux()
		mux.Handle("/metrics", expvar.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().String("env-file", "", "Env file to load before the environment (default .env)")
	rootCmd.PersistentFlags().String("plugin-dir", "", "Directory of .so plugins to load (default $"+plugin.PluginPathEnv+")")

	callCmd.Flags().String("platform", "retell", "Platform to call (retell, vapi)")
	callCmd.Flags().String("agent-id", "", "Platform agent or assistant ID to call")
	callCmd.Flags().String("evaluation-id", "", "Evaluation this call belongs to (default random)")
	addPersonaFlags(callCmd)
	callCmd.Flags().Int("max-turns", 0, "Caller replies before the closing line (default MAX_TURNS)")
	callCmd.Flags().Bool("dry-run", false, "Use the fake platform, transport and providers")
	callCmd.Flags().Bool("metrics", false, "Serve expvar metrics while the call runs")
	callCmd.Flags().String("metrics-addr", ":8080", "Metrics listen address")
	callCmd.Flags().String("bg-file", "", "Background audio WAV file to loop under the caller")
	callCmd.Flags().Float32("bg-volume", 0.3, "Background audio volume (0.0 to 1.0)")

	addPersonaFlags(joinCmd)
	joinCmd.Flags().String("url", "", "LiveKit server URL (default LIVEKIT_URL)")
	joinCmd.Flags().String("room", "", "Room to join")
	joinCmd.Flags().String("identity", "synthetic-caller", "Participant identity")
	joinCmd.Flags().Int("sample-rate", 48000, "PCM sample rate")
	joinCmd.Flags().Int("max-turns", 0, "Caller replies before the closing line (default MAX_TURNS)")
	joinCmd.Flags().Duration("valid-for", time.Hour, "Access token lifetime")
	joinCmd.MarkFlagRequired("room")

	pollCmd.Flags().String("platform", "retell", "Platform that owns the call (retell, vapi)")
	pollCmd.Flags().String("call-id", "", "Provider call ID")
	pollCmd.MarkFlagRequired("call-id")

	pluginListCmd.Flags().String("kind", "", "Only list plugins of this kind")

	pluginCmd.AddCommand(pluginListCmd)
	rootCmd.AddCommand(versionCmd, callCmd, joinCmd, pollCmd, pluginCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
