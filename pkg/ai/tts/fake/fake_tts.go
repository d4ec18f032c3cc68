package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/ai/tts"
)

// FakeTTS is a fake TTS implementation for testing. It renders a quiet tone
// whose length is proportional to the text.
type FakeTTS struct {
	// PerCharacter is the audio length produced per input character.
	PerCharacter time.Duration

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	texts []string
}

// NewFakeTTS creates a new fake TTS provider.
func NewFakeTTS() *FakeTTS {
	return &FakeTTS{PerCharacter: 10 * time.Millisecond}
}

// Synthesize generates a sine wave at req.SampleRate.
func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) ([]byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, req.Text)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sampleRate := req.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	duration := time.Duration(len(req.Text)) * f.PerCharacter
	samples := int(int64(sampleRate) * int64(duration) / int64(time.Second))
	frequency := 440.0 // A4 note

	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		sample := math.Sin(2*math.Pi*frequency*float64(i)/float64(sampleRate)) * 0.3
		v := int16(sample * 32767)
		data[i*2] = byte(v)
		data[i*2+1] = byte(uint16(v) >> 8)
	}
	return data, nil
}

// Texts returns every text synthesized so far.
func (f *FakeTTS) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

// Capabilities returns the fake TTS capabilities.
func (f *FakeTTS) Capabilities() tts.TTSCapabilities {
	return tts.TTSCapabilities{
		SupportedVoices:      []string{"fake-voice"},
		NativeSampleRate:     16000,
		SupportsSpeedControl: false,
	}
}
