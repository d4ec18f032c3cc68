package tts

import (
	"context"

	"github.com/chriscow/callbridge-go/pkg/ai"
)

var (
	// ErrRecoverable indicates a temporary TTS failure that may succeed if retried.
	// Examples: service overload, temporary quota exceeded, network issues.
	ErrRecoverable = ai.ErrRecoverable

	// ErrFatal indicates a permanent TTS failure that will not succeed if retried.
	// Examples: invalid voice ID, unsupported text format, permanent quota exceeded.
	ErrFatal = ai.ErrFatal
)

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text       string
	Voice      string
	Model      string
	SampleRate int     // output rate; the provider resamples if needed
	Speed      float32 // 0 means provider default
}

// TTSCapabilities describes the capabilities of a TTS provider.
type TTSCapabilities struct {
	SupportedVoices      []string
	NativeSampleRate     int
	SupportsSpeedControl bool
}

// TTS is the main interface for text-to-speech providers.
type TTS interface {
	// Synthesize converts text to PCM16 little-endian mono audio at req.SampleRate.
	Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() TTSCapabilities
}
