package tts

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse"

	"github.com/lexiqai/interview-agent/internal/audio"
)

// PulsePlayer plays mono PCM through the default PulseAudio sink.
type PulsePlayer struct{}

// Play blocks until the chunk has been played. Cancelling ctx ends the
// stream at the next buffer request.
func (PulsePlayer) Play(ctx context.Context, chunk *AudioChunk) error {
	if chunk == nil || len(chunk.Data) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("interviewd"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	samples := audio.BytesToSamples(chunk.Data)
	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(chunk.SampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackMediaName("interviewer voice"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play speech: %w", err)
	}
	return ctx.Err()
}
