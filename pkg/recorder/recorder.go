// Package recorder keeps a local copy of both sides of a bridged call so a
// recording exists even when the platform never provides one.
package recorder

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chriscow/callbridge-go/pkg/audio/wav"
	"github.com/chriscow/callbridge-go/pkg/rtc"
)

// Direction says which party produced a chunk of audio.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

type chunk struct {
	offset  int // in samples from Start
	samples []int16
}

// Recorder buffers PCM16 mono at wall-clock offsets and mixes it down on Flush.
type Recorder struct {
	sampleRate int
	logger     *slog.Logger

	mu      sync.Mutex
	start   time.Time
	chunks  [2][]chunk
	path    string
	flushed chan struct{}
	done    bool

	now func() time.Time
}

// New creates a recorder for audio at sampleRate.
func New(sampleRate int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sampleRate: sampleRate,
		logger:     logger,
		flushed:    make(chan struct{}),
		now:        time.Now,
	}
}

// Start sets the time origin. Audio added before Start is ignored.
func (r *Recorder) Start(t0 time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = t0
}

// AddInbound records remote audio arriving now.
func (r *Recorder) AddInbound(samples []int16) {
	r.add(Inbound, samples)
}

// AddOutbound records synthetic caller audio being sent now.
func (r *Recorder) AddOutbound(samples []int16) {
	r.add(Outbound, samples)
}

func (r *Recorder) add(dir Direction, samples []int16) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() || r.done {
		return
	}
	r.addAtLocked(dir, r.now().Sub(r.start), samples)
}

// AddAt records samples at an explicit offset from Start.
func (r *Recorder) AddAt(dir Direction, offset time.Duration, samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.addAtLocked(dir, offset, samples)
}

func (r *Recorder) addAtLocked(dir Direction, offset time.Duration, samples []int16) {
	if offset < 0 {
		offset = 0
	}
	r.chunks[dir] = append(r.chunks[dir], chunk{
		offset:  rtc.FrameSamples(r.sampleRate, offset),
		samples: append([]int16(nil), samples...),
	})
}

// Flush mixes both directions into dir/name.wav and returns the path. An empty
// recorder writes nothing and returns "". Flush only runs once; later calls
// return the first result.
func (r *Recorder) Flush(dir, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.path, nil
	}
	r.done = true
	defer close(r.flushed)

	total := 0
	for _, cs := range r.chunks {
		for _, c := range cs {
			total = max(total, c.offset+len(c.samples))
		}
	}
	if total == 0 {
		r.logger.Debug("Nothing recorded, skipping flush")
		return "", nil
	}

	mix := make([]int16, total)
	for _, cs := range r.chunks {
		for _, c := range cs {
			rtc.MixInto(mix, c.offset, c.samples)
		}
	}
	r.chunks = [2][]chunk{}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings dir: %w", err)
	}
	path := filepath.Join(dir, name+".wav")
	w, err := wav.NewWriter(path, uint32(r.sampleRate), 1)
	if err != nil {
		return "", err
	}
	if err := w.WriteSamples(mix); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	r.path = path
	r.logger.Info("Recording saved",
		slog.String("path", path),
		slog.Duration("length", time.Duration(total)*time.Second/time.Duration(r.sampleRate)))
	return path, nil
}

// Flushed is closed once Flush has run.
func (r *Recorder) Flushed() <-chan struct{} {
	return r.flushed
}

// Path returns the flushed file, or "" if there is none.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Discard removes the flushed file.
func (r *Recorder) Discard() error {
	r.mu.Lock()
	path := r.path
	r.path = ""
	r.mu.Unlock()

	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard recording: %w", err)
	}
	return nil
}
