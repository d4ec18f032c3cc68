package agent

import (
	"path/filepath"
	"testing"

	"github.com/chriscow/callbridge-go/pkg/audio/wav"
	"github.com/chriscow/callbridge-go/pkg/rtc"
	"github.com/matryer/is"
)

func TestBackgroundAudio_VolumeClamped(t *testing.T) {
	is := is.New(t)

	ba, err := NewBackgroundAudio(BackgroundAudioConfig{Volume: 3})
	is.NoErr(err)
	is.Equal(ba.volume, float32(1))

	ba.SetVolume(-1)
	is.Equal(ba.volume, float32(0))
}

func TestBackgroundAudio_MixLoops(t *testing.T) {
	is := is.New(t)

	ba, err := NewBackgroundAudio(BackgroundAudioConfig{Volume: 0.5, Enabled: true})
	is.NoErr(err)
	ba.SetLoop([]int16{100, 200, 300})

	frame, err := rtc.NewAudioFrame(rtc.SamplesToBytes([]int16{1, 1, 1, 1, 1}), 16000, 1, 0)
	is.NoErr(err)
	ba.Mix(frame)
	is.Equal(frame.Samples(), []int16{51, 101, 151, 51, 101})

	ba.SetEnabled(false)
	frame2, _ := rtc.NewAudioFrame(rtc.SamplesToBytes([]int16{7}), 16000, 1, 0)
	ba.Mix(frame2)
	is.Equal(frame2.Samples(), []int16{7}) // disabled leaves the frame alone
}

func TestBackgroundAudio_LoadFile(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "room.wav")
	w, err := wav.NewWriter(path, 8000, 1)
	is.NoErr(err)
	is.NoErr(w.WriteSamples(make([]int16, 800)))
	is.NoErr(w.Close())

	ba, err := NewBackgroundAudio(BackgroundAudioConfig{AudioFile: path, Volume: 0.2, Enabled: true, SampleRate: 16000})
	is.NoErr(err)
	is.Equal(len(ba.samples), 1600) // resampled to 16k
	is.True(ba.IsEnabled())
}
