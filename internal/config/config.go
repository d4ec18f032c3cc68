// Package config loads process configuration from the environment, reading a
// .env file first when one is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the CLI needs to run a call.
type Config struct {
	OpenAIAPIKey   string
	LLMModel       string
	LLMTemperature float32
	TTSModel       string
	TTSVoice       string

	RetellAPIKey     string
	RetellBaseURL    string
	RetellLiveKitURL string

	VapiAPIKey     string
	VapiBaseURL    string
	VapiSampleRate int

	// Self-hosted LiveKit, for joining a room directly without a platform.
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// DatabaseURL selects the postgres store. Empty means in-memory.
	DatabaseURL   string
	RecordingsDir string

	PollInitialDelay time.Duration
	PollInterval     time.Duration
	PollMaxAttempts  int

	BridgeMaxDuration time.Duration
	MaxTurns          int
}

// Defaults returns a Config with every optional value filled in.
func Defaults() Config {
	return Config{
		LLMModel:          "gpt-4o-mini",
		LLMTemperature:    0.7,
		TTSModel:          "tts-1",
		TTSVoice:          "alloy",
		RecordingsDir:     "recordings",
		PollInitialDelay:  30 * time.Second,
		PollInterval:      5 * time.Second,
		PollMaxAttempts:   120,
		BridgeMaxDuration: 10 * time.Minute,
		MaxTurns:          10,
	}
}

// Load reads the given env files (".env" when none are named) and then the
// process environment. A missing env file is not an error; variables already
// set in the environment win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	p := parser{getenv: getenv}

	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY")
	p.str("LLM_MODEL", &cfg.LLMModel)
	p.float32("LLM_TEMPERATURE", &cfg.LLMTemperature)
	p.str("TTS_MODEL", &cfg.TTSModel)
	p.str("TTS_VOICE", &cfg.TTSVoice)

	cfg.RetellAPIKey = getenv("RETELL_API_KEY")
	p.str("RETELL_BASE_URL", &cfg.RetellBaseURL)
	p.str("RETELL_LIVEKIT_URL", &cfg.RetellLiveKitURL)

	cfg.VapiAPIKey = getenv("VAPI_API_KEY")
	p.str("VAPI_BASE_URL", &cfg.VapiBaseURL)
	p.int("VAPI_SAMPLE_RATE", &cfg.VapiSampleRate)

	p.str("LIVEKIT_URL", &cfg.LiveKitURL)
	p.str("LIVEKIT_API_KEY", &cfg.LiveKitAPIKey)
	p.str("LIVEKIT_API_SECRET", &cfg.LiveKitAPISecret)

	cfg.DatabaseURL = getenv("DATABASE_URL")
	p.str("RECORDINGS_DIR", &cfg.RecordingsDir)

	p.duration("POLL_INITIAL_DELAY", &cfg.PollInitialDelay)
	p.duration("POLL_INTERVAL", &cfg.PollInterval)
	p.int("POLL_MAX_ATTEMPTS", &cfg.PollMaxAttempts)

	p.duration("BRIDGE_MAX_DURATION", &cfg.BridgeMaxDuration)
	p.int("MAX_TURNS", &cfg.MaxTurns)

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

// Validate checks the values that would make a call fail later.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.RetellAPIKey == "" && c.VapiAPIKey == "" {
		return fmt.Errorf("at least one of RETELL_API_KEY or VAPI_API_KEY is required")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2, got %v", c.LLMTemperature)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.PollInitialDelay < 0 {
		return fmt.Errorf("POLL_INITIAL_DELAY must not be negative")
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("POLL_MAX_ATTEMPTS must be positive")
	}
	if c.BridgeMaxDuration <= 0 {
		return fmt.Errorf("BRIDGE_MAX_DURATION must be positive")
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("MAX_TURNS must be positive")
	}
	return nil
}

// parser records the first malformed variable and ignores the rest.
type parser struct {
	getenv func(string) string
	err    error
}

func (p *parser) lookup(key string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := p.getenv(key)
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.lookup(key); ok {
		*dst = v
	}
}

func (p *parser) int(key string, dst *int) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = n
}

func (p *parser) float32(key string, dst *float32) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = float32(f)
}

// duration accepts Go durations ("90s") or a bare number of seconds.
func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.lookup(key)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = d
}
