package rtc

import (
	"fmt"
	"time"
)

// AudioFrame is a block of 16-bit little-endian PCM.
// Len(Data) == SamplesPerChannel * NumChannels * 2.
//
// A zero Timestamp means "live"; otherwise it is the offset from the start of the call.
type AudioFrame struct {
	Data              []byte        // 16-bit PCM, little-endian
	SampleRate        int           // negotiated with the platform (8k..48k)
	SamplesPerChannel int           // len(Data) / 2 / NumChannels
	NumChannels       int           // always 1 on the bridge
	Timestamp         time.Duration // optional
}

// NewAudioFrame creates a new AudioFrame after checking that data holds whole samples
// for every channel.
func NewAudioFrame(data []byte, sampleRate, numChannels int, timestamp time.Duration) (*AudioFrame, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if numChannels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	stride := numChannels * 2
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("AudioFrame data length mismatch: %d bytes is not a multiple of %d for %d-channel PCM16",
			len(data), stride, numChannels)
	}

	return &AudioFrame{
		Data:              data,
		SampleRate:        sampleRate,
		SamplesPerChannel: len(data) / stride,
		NumChannels:       numChannels,
		Timestamp:         timestamp,
	}, nil
}

// Clone creates a deep copy of the AudioFrame.
func (f *AudioFrame) Clone() *AudioFrame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return &AudioFrame{
		Data:              data,
		SampleRate:        f.SampleRate,
		SamplesPerChannel: f.SamplesPerChannel,
		NumChannels:       f.NumChannels,
		Timestamp:         f.Timestamp,
	}
}

// Duration returns the playback duration of the frame.
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame payload into int16 samples.
func (f *AudioFrame) Samples() []int16 {
	return BytesToSamples(f.Data)
}
