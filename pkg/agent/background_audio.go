package agent

import (
	"fmt"
	"sync"

	"github.com/chriscow/callbridge-go/pkg/audio/wav"
	"github.com/chriscow/callbridge-go/pkg/rtc"
)

// BackgroundAudio loops a room-noise bed under the caller's speech so the
// remote agent hears something closer to a real phone line.
type BackgroundAudio struct {
	mu       sync.Mutex
	enabled  bool
	volume   float32
	samples  []int16
	position int
}

// BackgroundAudioConfig holds configuration for background audio.
type BackgroundAudioConfig struct {
	// AudioFile is the path to the WAV file to loop
	AudioFile string
	// Volume is the mixing volume (0.0 to 1.0)
	Volume float32
	// Enabled determines if background audio is mixed in immediately
	Enabled bool
	// SampleRate the loop is resampled to
	SampleRate int
}

// NewBackgroundAudio creates a new BackgroundAudio instance.
func NewBackgroundAudio(cfg BackgroundAudioConfig) (*BackgroundAudio, error) {
	ba := &BackgroundAudio{enabled: cfg.Enabled}
	ba.SetVolume(cfg.Volume)

	if cfg.AudioFile != "" {
		if err := ba.LoadAudioFile(cfg.AudioFile, cfg.SampleRate); err != nil {
			return nil, err
		}
	}
	return ba, nil
}

// LoadAudioFile loads a WAV file and resamples it to sampleRate.
func (ba *BackgroundAudio) LoadAudioFile(filename string, sampleRate int) error {
	reader, err := wav.NewReader(filename)
	if err != nil {
		return err
	}
	defer reader.Close()

	samples, err := reader.ReadMono()
	if err != nil {
		return fmt.Errorf("failed to read background audio: %w", err)
	}
	if sampleRate > 0 {
		samples = rtc.Resample(samples, int(reader.Header().SampleRate), sampleRate)
	}
	ba.SetLoop(samples)
	return nil
}

// SetLoop replaces the looped samples.
func (ba *BackgroundAudio) SetLoop(samples []int16) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.samples = samples
	ba.position = 0
}

// SetEnabled controls whether background audio is mixed in.
func (ba *BackgroundAudio) SetEnabled(enabled bool) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	ba.enabled = enabled
}

// SetVolume adjusts the background audio volume (0.0 to 1.0).
func (ba *BackgroundAudio) SetVolume(volume float32) {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	if volume < 0.0 {
		volume = 0.0
	} else if volume > 1.0 {
		volume = 1.0
	}
	ba.volume = volume
}

// IsEnabled returns whether background audio is currently enabled.
func (ba *BackgroundAudio) IsEnabled() bool {
	ba.mu.Lock()
	defer ba.mu.Unlock()
	return ba.enabled
}

// Mix adds the next stretch of the loop into frame, in place.
func (ba *BackgroundAudio) Mix(frame *rtc.AudioFrame) {
	ba.mu.Lock()
	defer ba.mu.Unlock()

	if !ba.enabled || len(ba.samples) == 0 || ba.volume == 0 {
		return
	}

	fg := frame.Samples()
	bg := make([]int16, len(fg))
	for i := range bg {
		bg[i] = scaleSample(ba.samples[ba.position], ba.volume)
		ba.position = (ba.position + 1) % len(ba.samples)
	}
	rtc.MixInto(fg, 0, bg)
	copy(frame.Data, rtc.SamplesToBytes(fg))
}

func scaleSample(s int16, volume float32) int16 {
	return int16(int32(s) * int32(volume*32768) / 32768)
}
