package wav

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "call.wav")

	w, err := NewWriter(path, 16000, 1)
	is.NoErr(err)
	is.NoErr(w.WriteSamples([]int16{1, -2, 3, 32767, -32768}))
	is.NoErr(w.WriteSineWave(440, 100))
	is.NoErr(w.Close())
	is.NoErr(w.Close()) // second close is a no-op

	info, err := os.Stat(path)
	is.NoErr(err)
	is.Equal(info.Size(), int64(headerSize+(5+1600)*2))

	r, err := NewReader(path)
	is.NoErr(err)
	defer r.Close()

	h := r.Header()
	is.Equal(h.SampleRate, uint32(16000))
	is.Equal(h.NumChannels, uint16(1))
	is.Equal(h.DataSize, uint32((5+1600)*2))

	samples, err := r.ReadSamples()
	is.NoErr(err)
	is.Equal(len(samples), 1605)
	is.Equal(samples[:5], []int16{1, -2, 3, 32767, -32768})
}

func TestReader_StereoDownmix(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "stereo.wav")

	w, err := NewWriter(path, 8000, 2)
	is.NoErr(err)
	is.NoErr(w.WriteSamples([]int16{100, 300, -50, -150}))
	is.NoErr(w.Close())

	r, err := NewReader(path)
	is.NoErr(err)
	defer r.Close()

	mono, err := r.ReadMono()
	is.NoErr(err)
	is.Equal(mono, []int16{200, -100})
}

func TestWriter_RejectsPartialFrames(t *testing.T) {
	is := is.New(t)
	w, err := NewWriter(filepath.Join(t.TempDir(), "x.wav"), 8000, 2)
	is.NoErr(err)
	defer w.Close()

	is.True(w.WriteSamples([]int16{1, 2, 3}) != nil)
}

func TestReader_NotWAV(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "junk.wav")
	is.NoErr(os.WriteFile(path, []byte("this is not a wave file"), 0o644))

	_, err := NewReader(path)
	is.True(err != nil)
}
