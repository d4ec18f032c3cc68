package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	is := is.New(t)

	cfg, err := FromEnv(env(nil))
	is.NoErr(err)
	is.Equal(cfg, Defaults())
}

func TestFromEnv_Overrides(t *testing.T) {
	is := is.New(t)

	cfg, err := FromEnv(env(map[string]string{
		"OPENAI_API_KEY":      "sk-test",
		"LLM_MODEL":           "gpt-4o",
		"LLM_TEMPERATURE":     "0.2",
		"VAPI_API_KEY":        "vapi-key",
		"VAPI_SAMPLE_RATE":    "24000",
		"POLL_INITIAL_DELAY":  "0",
		"POLL_INTERVAL":       "2s",
		"BRIDGE_MAX_DURATION": "90",
		"MAX_TURNS":           "4",
	}))
	is.NoErr(err)
	is.Equal(cfg.OpenAIAPIKey, "sk-test")
	is.Equal(cfg.LLMModel, "gpt-4o")
	is.Equal(cfg.LLMTemperature, float32(0.2))
	is.Equal(cfg.TTSVoice, "alloy")
	is.Equal(cfg.VapiSampleRate, 24000)
	is.Equal(cfg.PollInitialDelay, time.Duration(0))
	is.Equal(cfg.PollInterval, 2*time.Second)
	is.Equal(cfg.BridgeMaxDuration, 90*time.Second)
	is.Equal(cfg.MaxTurns, 4)
	is.NoErr(cfg.Validate())
}

func TestFromEnv_Malformed(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad int", map[string]string{"MAX_TURNS": "many"}},
		{"bad float", map[string]string{"LLM_TEMPERATURE": "warm"}},
		{"bad duration", map[string]string{"POLL_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromEnv(env(tt.env)); err == nil {
				t.Error("expected error but got none")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.OpenAIAPIKey = "sk"
	valid.RetellAPIKey = "rk"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing openai key", func(c *Config) { c.OpenAIAPIKey = "" }, true},
		{"no platform key", func(c *Config) { c.RetellAPIKey = "" }, true},
		{"temperature too high", func(c *Config) { c.LLMTemperature = 3 }, true},
		{"zero interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"zero attempts", func(c *Config) { c.PollMaxAttempts = 0 }, true},
		{"zero max duration", func(c *Config) { c.BridgeMaxDuration = 0 }, true},
		{"zero turns", func(c *Config) { c.MaxTurns = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "test.env")
	is.NoErr(os.WriteFile(path, []byte("CALLBRIDGE_TEST_ONLY=1\nTTS_VOICE=nova\n"), 0o600))
	t.Setenv("TTS_VOICE", "")
	os.Unsetenv("TTS_VOICE")
	t.Cleanup(func() { os.Unsetenv("CALLBRIDGE_TEST_ONLY") })

	cfg, err := Load(path)
	is.NoErr(err)
	is.Equal(cfg.TTSVoice, "nova")
}

func TestLoad_MissingFile(t *testing.T) {
	is := is.New(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	is.NoErr(err)
}
