package audio

import (
	"encoding/binary"
	"math"
)

// Capture format shared by the microphone, the recognizer and the recorder.
const (
	SampleRate     = 16000
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
)

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// CalculateRMS calculates the Root Mean Square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		val := float64(sample)
		sum += val * val
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// Duration returns the playback length in milliseconds of pcm captured
// at the given rate and channel count.
func Duration(pcm []byte, sampleRate, channels int) int64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := len(pcm) / (BytesPerSample * channels)
	return int64(frames) * 1000 / int64(sampleRate)
}
