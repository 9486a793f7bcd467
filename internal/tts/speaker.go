package tts

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Speaker speaks one utterance at a time. Starting a new utterance or
// calling Cancel stops the one in progress.
type Speaker struct {
	synth  Synthesizer
	player Player
	logger zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
}

// NewSpeaker creates a speaker. With a nil synthesizer every Speak call
// returns immediately, which keeps the turn cycle going without audio.
func NewSpeaker(synth Synthesizer, player Player, logger zerolog.Logger) *Speaker {
	return &Speaker{
		synth:  synth,
		player: player,
		logger: logger.With().Str("component", "speaker").Logger(),
	}
}

// Enabled reports whether speech is actually produced.
func (s *Speaker) Enabled() bool {
	return s.synth != nil && s.player != nil
}

// Speak synthesizes and plays text, returning when playback ends. It returns
// context.Canceled when interrupted by Cancel or another Speak.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	if !s.Enabled() {
		return nil
	}

	speakCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	chunk, err := s.synth.Synthesize(speakCtx, text)
	if err != nil {
		if speakCtx.Err() != nil {
			return speakCtx.Err()
		}
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := s.player.Play(speakCtx, chunk); err != nil {
		return err
	}
	return speakCtx.Err()
}

// Cancel stops the utterance in progress, if any.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
