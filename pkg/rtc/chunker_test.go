package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestChunker_OneSecondAt16k(t *testing.T) {
	is := is.New(t)

	c := NewChunker(20*time.Millisecond, 16000)
	pcm := make([]byte, 16000*2)

	var sizes []int
	start := time.Now()
	err := c.Stream(context.Background(), pcm, func(frame []byte) error {
		sizes = append(sizes, len(frame))
		return nil
	})
	elapsed := time.Since(start)

	is.NoErr(err)
	is.Equal(len(sizes), 50) // 1s / 20ms
	for _, s := range sizes {
		is.Equal(s, 640) // 16000 * 0.02 * 2
	}
	is.True(elapsed >= 950*time.Millisecond) // paced to real time
	is.True(elapsed < 1500*time.Millisecond)
}

func TestChunker_PadsFinalFrame(t *testing.T) {
	is := is.New(t)

	c := NewChunker(20*time.Millisecond, 16000)
	pcm := make([]byte, 640+10)
	for i := range pcm {
		pcm[i] = 1
	}

	frames, err := c.Frames(pcm)
	is.NoErr(err)
	is.Equal(len(frames), 2)
	is.Equal(len(frames[1]), 640)
	is.Equal(frames[1][9], byte(1))
	is.Equal(frames[1][10], byte(0)) // zero padded
}

func TestChunker_DeadlinesDoNotDrift(t *testing.T) {
	is := is.New(t)

	clock := time.Unix(0, 0)
	var waits []time.Duration
	c := &Chunker{
		FrameDuration: 20 * time.Millisecond,
		SampleRate:    8000,
		now:           func() time.Time { return clock },
		sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			clock = clock.Add(d)
			return nil
		},
	}

	// The sink takes 5ms per frame; the pacer must absorb it.
	err := c.Stream(context.Background(), make([]byte, c.FrameSize()*3), func([]byte) error {
		clock = clock.Add(5 * time.Millisecond)
		return nil
	})
	is.NoErr(err)
	is.Equal(waits, []time.Duration{15 * time.Millisecond, 15 * time.Millisecond, 15 * time.Millisecond})
	is.Equal(clock, time.Unix(0, 0).Add(60*time.Millisecond))
}

func TestChunker_StopsOnSinkError(t *testing.T) {
	is := is.New(t)

	boom := errors.New("boom")
	c := NewChunker(10*time.Millisecond, 16000)
	calls := 0
	err := c.Stream(context.Background(), make([]byte, c.FrameSize()*5), func([]byte) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})
	is.True(errors.Is(err, boom))
	is.Equal(calls, 2)
}

func TestChunker_Cancelled(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewChunker(20*time.Millisecond, 16000)
	calls := 0
	err := c.Stream(ctx, make([]byte, c.FrameSize()*50), func([]byte) error {
		calls++
		if calls == 3 {
			cancel()
		}
		return nil
	})
	is.True(errors.Is(err, context.Canceled))
	is.True(calls < 50)
}

func TestResample(t *testing.T) {
	is := is.New(t)

	in := make([]int16, 2400)
	out := Resample(in, 24000, 16000)
	is.Equal(len(out), 1600)

	same := Resample(in, 16000, 16000)
	is.Equal(len(same), len(in))
}

func TestMixInto_Clamps(t *testing.T) {
	is := is.New(t)

	dst := []int16{30000, -30000, 10}
	MixInto(dst, 0, []int16{10000, -10000})
	is.Equal(dst, []int16{32767, -32768, 10})

	MixInto(dst, 2, []int16{5, 99}) // second sample out of range is ignored
	is.Equal(dst[2], int16(15))
}

func TestSamplesRoundTrip(t *testing.T) {
	is := is.New(t)

	in := []int16{0, 1, -1, 32767, -32768}
	is.Equal(BytesToSamples(SamplesToBytes(in)), in)
}
