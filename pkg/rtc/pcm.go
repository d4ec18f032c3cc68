package rtc

import "time"

// FrameBytes returns the size in bytes of one mono PCM16 frame of duration d.
func FrameBytes(sampleRate int, d time.Duration) int {
	return FrameSamples(sampleRate, d) * 2
}

// FrameSamples returns the number of mono samples in a frame of duration d.
func FrameSamples(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(uint16(s) >> 8)
	}
	return data
}

// Resample converts mono audio between sample rates using linear interpolation.
// Good enough for speech; TTS output and decoded Opus both pass through here.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	out := make([]int16, newLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		s1 := float64(samples[idx])
		s2 := float64(samples[idx+1])
		out[i] = int16(s1 + frac*(s2-s1))
	}
	return out
}

// ResampleBytes resamples raw PCM16 bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return data
	}
	return SamplesToBytes(Resample(BytesToSamples(data), fromRate, toRate))
}

// MixInto adds src into dst starting at offset, clamping to the int16 range.
// dst must already be long enough.
func MixInto(dst []int16, offset int, src []int16) {
	for i, s := range src {
		j := offset + i
		if j < 0 || j >= len(dst) {
			continue
		}
		v := int32(dst[j]) + int32(s)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[j] = int16(v)
	}
}
