package stt

import (
	"context"
	"errors"
)

// ErrTranscriptionUnavailable is returned by Engine.Start when no speech
// backend is configured. Callers fall back to typed input.
var ErrTranscriptionUnavailable = errors.New("transcription unavailable")

// TranscriptionResult is one recognition result for the current utterance.
type TranscriptionResult struct {
	// Text is the utterance transcribed so far
	Text string

	// IsFinal marks the end of the utterance
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// Recognizer is a streaming speech-to-text backend. A recognizer may be
// started and stopped repeatedly; Results stays open across sessions.
type Recognizer interface {
	// Start opens a new recognition session
	Start(ctx context.Context) error

	// SendAudio sends 16kHz mono s16le PCM
	SendAudio(pcm []byte) error

	// Results delivers interim and final results
	Results() <-chan *TranscriptionResult

	// Stop ends the current session
	Stop() error
}

// AudioFeed is a source of PCM chunks, such as a microphone track.
type AudioFeed interface {
	Subscribe(buffer int) (<-chan []byte, func())
}

// Update is what the engine emits to its consumer. Interim updates supersede
// one another until a Final update closes the utterance. Forced marks a final
// produced by the silence timer.
type Update struct {
	Text   string
	Final  bool
	Forced bool
}
