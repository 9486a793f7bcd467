package tts

import "context"

// AudioChunk is synthesized speech ready for playback.
type AudioChunk struct {
	Data       []byte // 16-bit little-endian PCM
	SampleRate int    // Sample rate in Hz
	Channels   int    // Number of channels (1 for mono)
}

// Synthesizer converts text to speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*AudioChunk, error)
}

// Player plays audio to the output device. Play returns once playback has
// finished or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, chunk *AudioChunk) error
}
