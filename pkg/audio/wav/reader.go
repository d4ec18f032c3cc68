// Package wav reads and writes the 16-bit PCM WAV files used for call
// recordings and scripted caller audio.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Header describes the audio format of a WAV file.
type Header struct {
	SampleRate    uint32
	NumChannels   uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Reader reads PCM samples from a WAV file.
type Reader struct {
	file   *os.File
	header Header
}

// NewReader opens filename and parses its header.
func NewReader(filename string) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	r := &Reader{file: file}
	if err := r.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return r, nil
}

// Header returns the parsed format.
func (r *Reader) Header() Header {
	return r.header
}

// ReadSamples returns every interleaved sample in the data chunk.
func (r *Reader) ReadSamples() ([]int16, error) {
	samples := make([]int16, r.header.DataSize/2)
	if err := binary.Read(r.file, binary.LittleEndian, samples); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("truncated audio data: %w", err)
		}
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}
	return samples, nil
}

// ReadMono returns the samples downmixed to a single channel.
func (r *Reader) ReadMono() ([]int16, error) {
	samples, err := r.ReadSamples()
	if err != nil || r.header.NumChannels == 1 {
		return samples, err
	}

	ch := int(r.header.NumChannels)
	mono := make([]int16, len(samples)/ch)
	for i := range mono {
		var sum int32
		for c := 0; c < ch; c++ {
			sum += int32(samples[i*ch+c])
		}
		mono[i] = int16(sum / int32(ch))
	}
	return mono, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func (r *Reader) readHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(r.file, riff[:]); err != nil {
		return fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" {
		return fmt.Errorf("not a valid RIFF file")
	}
	if string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a valid WAVE file")
	}

	if err := r.readFmtChunk(); err != nil {
		return err
	}
	if err := r.readDataChunk(); err != nil {
		return err
	}

	if r.header.BitsPerSample != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got %d-bit", r.header.BitsPerSample)
	}
	if r.header.NumChannels != 1 && r.header.NumChannels != 2 {
		return fmt.Errorf("only mono and stereo are supported, got %d channels", r.header.NumChannels)
	}
	return nil
}

func (r *Reader) nextChunk() (string, uint32, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r.file, hdr[:]); err != nil {
		return "", 0, fmt.Errorf("failed to read chunk header: %w", err)
	}
	return string(hdr[0:4]), binary.LittleEndian.Uint32(hdr[4:8]), nil
}

func (r *Reader) skip(n uint32) error {
	// chunks are word aligned
	if n%2 == 1 {
		n++
	}
	if _, err := r.file.Seek(int64(n), io.SeekCurrent); err != nil {
		return fmt.Errorf("failed to skip chunk: %w", err)
	}
	return nil
}

func (r *Reader) readFmtChunk() error {
	for {
		id, size, err := r.nextChunk()
		if err != nil {
			return err
		}
		if id != "fmt " {
			if err := r.skip(size); err != nil {
				return err
			}
			continue
		}
		if size < 16 {
			return fmt.Errorf("fmt chunk too small: %d bytes", size)
		}

		var data [16]byte
		if _, err := io.ReadFull(r.file, data[:]); err != nil {
			return fmt.Errorf("failed to read fmt data: %w", err)
		}
		if format := binary.LittleEndian.Uint16(data[0:2]); format != 1 {
			return fmt.Errorf("only PCM format is supported, got format %d", format)
		}
		r.header.NumChannels = binary.LittleEndian.Uint16(data[2:4])
		r.header.SampleRate = binary.LittleEndian.Uint32(data[4:8])
		r.header.BitsPerSample = binary.LittleEndian.Uint16(data[14:16])

		if size > 16 {
			return r.skip(size - 16)
		}
		return nil
	}
}

// readDataChunk leaves the file positioned at the first sample.
func (r *Reader) readDataChunk() error {
	for {
		id, size, err := r.nextChunk()
		if err != nil {
			return err
		}
		if id == "data" {
			r.header.DataSize = size
			return nil
		}
		if err := r.skip(size); err != nil {
			return err
		}
	}
}
