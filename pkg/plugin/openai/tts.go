package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chriscow/callbridge-go/pkg/ai/tts"
	"github.com/chriscow/callbridge-go/pkg/rtc"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultSpeechModel = "tts-1"
	defaultVoice       = "alloy"

	// Raw PCM from the speech endpoint is 24kHz 16-bit mono.
	speechSampleRate = 24000
)

// OpenAITTS implements the TTS interface using OpenAI's speech endpoint
type OpenAITTS struct {
	client *openai.Client
	model  string
	voice  string
}

func newOpenAITTS(cfg map[string]any) (any, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}

	model, _ := cfg["model"].(string)
	if model == "" {
		model = defaultSpeechModel
	}
	voice, _ := cfg["voice"].(string)
	if voice == "" {
		voice = defaultVoice
	}

	return &OpenAITTS{client: client, model: model, voice: voice}, nil
}

// Synthesize requests raw PCM and resamples it to req.SampleRate.
func (o *OpenAITTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) ([]byte, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = o.model
	}
	voice := req.Voice
	if voice == "" {
		voice = o.voice
	}

	speechReq := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if req.Speed > 0 {
		speechReq.Speed = float64(req.Speed)
	}

	resp, err := o.client.CreateSpeech(ctx, speechReq)
	if err != nil {
		return nil, classify(err, "speech request failed")
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, classify(fmt.Errorf("read speech body: %w", err), "speech read failed")
	}
	if len(pcm)%2 == 1 {
		pcm = pcm[:len(pcm)-1]
	}

	out := pcm
	if req.SampleRate > 0 {
		out = rtc.ResampleBytes(pcm, speechSampleRate, req.SampleRate)
	}

	slog.Debug("OpenAI speech synthesized",
		slog.String("voice", voice),
		slog.Int("bytes", len(out)),
		slog.Duration("duration", time.Since(start)))

	return out, nil
}

// Capabilities returns the OpenAI TTS provider's capabilities
func (o *OpenAITTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		SupportedVoices:      []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		NativeSampleRate:     speechSampleRate,
		SupportsSpeedControl: true,
	}
}
