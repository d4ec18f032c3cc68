package rtc

import (
	"context"
	"fmt"
	"time"
)

// Chunker splits a PCM16 mono buffer into fixed-duration frames and hands them
// to a sink at real-time cadence.
type Chunker struct {
	// FrameDuration is the playback length of one frame (typically 20ms or 40ms).
	FrameDuration time.Duration

	// SampleRate of the PCM passed to Stream.
	SampleRate int

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChunker returns a Chunker for the given frame duration and sample rate.
func NewChunker(frameDuration time.Duration, sampleRate int) *Chunker {
	return &Chunker{
		FrameDuration: frameDuration,
		SampleRate:    sampleRate,
	}
}

// FrameSize returns the frame size in bytes.
func (c *Chunker) FrameSize() int {
	return FrameBytes(c.SampleRate, c.FrameDuration)
}

// Frames splits pcm into frames without pacing. The last frame is zero padded.
func (c *Chunker) Frames(pcm []byte) ([][]byte, error) {
	size := c.FrameSize()
	if size <= 0 {
		return nil, fmt.Errorf("invalid frame size for %dHz/%s", c.SampleRate, c.FrameDuration)
	}

	frames := make([][]byte, 0, (len(pcm)+size-1)/size)
	for off := 0; off < len(pcm); off += size {
		frame := make([]byte, size)
		copy(frame, pcm[off:min(off+size, len(pcm))])
		frames = append(frames, frame)
	}
	return frames, nil
}

// Stream emits pcm to sink one frame at a time. Frame n is released no earlier
// than start + n*FrameDuration, so sink latency does not accumulate as drift.
// Stream returns when all frames are delivered, ctx is cancelled, or sink fails.
func (c *Chunker) Stream(ctx context.Context, pcm []byte, sink func(frame []byte) error) error {
	frames, err := c.Frames(pcm)
	if err != nil {
		return err
	}

	now := c.now
	if now == nil {
		now = time.Now
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	start := now()
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink(frame); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}

		deadline := start.Add(time.Duration(i+1) * c.FrameDuration)
		if wait := deadline.Sub(now()); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
