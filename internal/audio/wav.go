package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header.
const WAVHeaderSize = 44

// ErrInvalidWAV is returned when a buffer is not a canonical PCM WAV file.
var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV wraps 16-bit little-endian PCM in a canonical WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(WAVHeaderSize + len(pcm))

	byteRate := uint32(sampleRate * channels * BytesPerSample)
	blockAlign := uint16(channels * BytesPerSample)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(BitsPerSample))

	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVInfo describes the format of an encoded WAV buffer.
type WAVInfo struct {
	SampleRate int
	Channels   int
	DataSize   int
}

// Duration is the playback length of the data chunk.
func (i WAVInfo) Duration() time.Duration {
	perSecond := i.SampleRate * i.Channels * BytesPerSample
	if perSecond <= 0 {
		return 0
	}
	return time.Duration(i.DataSize) * time.Second / time.Duration(perSecond)
}

// ParseWAVHeader reads the format fields of a canonical WAV buffer.
func ParseWAVHeader(data []byte) (WAVInfo, error) {
	if len(data) < WAVHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, ErrInvalidWAV
	}
	if string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return WAVInfo{}, ErrInvalidWAV
	}
	return WAVInfo{
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
		DataSize:   int(binary.LittleEndian.Uint32(data[40:44])),
	}, nil
}
