package wav

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

const headerSize = 44

// Writer writes 16-bit PCM WAV files. Sizes in the header are patched on Close.
type Writer struct {
	file        *os.File
	buf         *bufio.Writer
	sampleRate  uint32
	numChannels uint16
	frames      uint32
}

// NewWriter creates filename and writes a placeholder header.
func NewWriter(filename string, sampleRate uint32, numChannels uint16) (*Writer, error) {
	if sampleRate == 0 || numChannels == 0 {
		return nil, fmt.Errorf("invalid WAV format: %d Hz, %d channels", sampleRate, numChannels)
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create WAV file: %w", err)
	}

	w := &Writer{
		file:        file,
		buf:         bufio.NewWriter(file),
		sampleRate:  sampleRate,
		numChannels: numChannels,
	}
	if err := w.writeHeader(0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return w, nil
}

// WriteSamples appends interleaved samples. len(samples) must be a multiple of
// the channel count.
func (w *Writer) WriteSamples(samples []int16) error {
	if w.file == nil {
		return fmt.Errorf("WAV writer is closed")
	}
	if len(samples)%int(w.numChannels) != 0 {
		return fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), w.numChannels)
	}
	if err := binary.Write(w.buf, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	w.frames += uint32(len(samples) / int(w.numChannels))
	return nil
}

// WriteSineWave writes a half-amplitude tone on every channel.
func (w *Writer) WriteSineWave(frequency float64, durationMs int) error {
	n := int(w.sampleRate) * durationMs / 1000
	samples := make([]int16, 0, n*int(w.numChannels))
	for i := 0; i < n; i++ {
		t := float64(i) / float64(w.sampleRate)
		s := int16(math.Sin(2*math.Pi*frequency*t) * 32767 * 0.5)
		for ch := 0; ch < int(w.numChannels); ch++ {
			samples = append(samples, s)
		}
	}
	return w.WriteSamples(samples)
}

// Duration returns how much audio has been written so far.
func (w *Writer) Duration() float64 {
	return float64(w.frames) / float64(w.sampleRate)
}

// Close flushes buffered samples and fixes up the header sizes.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	defer func() { w.file = nil }()

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to flush samples: %w", err)
	}

	dataSize := w.frames * uint32(w.numChannels) * 2
	if _, err := w.file.Seek(0, 0); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to seek to header: %w", err)
	}
	w.buf.Reset(w.file)
	if err := w.writeHeader(dataSize); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to update WAV header: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to update WAV header: %w", err)
	}
	return w.file.Close()
}

func (w *Writer) writeHeader(dataSize uint32) error {
	byteRate := w.sampleRate * uint32(w.numChannels) * 2
	blockAlign := w.numChannels * 2

	fields := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		dataSize + headerSize - 8,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		w.numChannels,
		w.sampleRate,
		byteRate,
		blockAlign,
		uint16(16),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, f := range fields {
		if err := binary.Write(w.buf, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}
