package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-agent/internal/audio"
)

const (
	defaultSilenceTimeout = 5 * time.Second
	feedBuffer            = 64
)

// EngineConfig holds the engine's tuning parameters.
type EngineConfig struct {
	// SilenceTimeout is how long an interim transcript may stand without new
	// speech before it is forced final.
	SilenceTimeout time.Duration
	// VAD detects speech energy that keeps the silence timer armed while the
	// recognizer has not caught up yet. Nil disables it.
	VAD *audio.VADConfig
}

// Engine runs continuous recognition over an audio feed and turns recognizer
// results into utterance updates. Exactly one final is emitted per utterance.
type Engine struct {
	client Recognizer
	config EngineConfig
	logger zerolog.Logger

	updates chan Update

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewEngine creates an engine. A nil recognizer makes the engine unavailable.
func NewEngine(client Recognizer, cfg EngineConfig, logger zerolog.Logger) *Engine {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = defaultSilenceTimeout
	}
	return &Engine{
		client:  client,
		config:  cfg,
		logger:  logger.With().Str("component", "stt").Logger(),
		updates: make(chan Update, 32),
	}
}

// Available reports whether a speech backend is configured.
func (e *Engine) Available() bool {
	return e.client != nil
}

// Updates returns the update stream. It stays open across Start/Stop cycles.
func (e *Engine) Updates() <-chan Update {
	return e.updates
}

// Running reports whether recognition is live.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start begins recognition on feed. It is a no-op while already running.
func (e *Engine) Start(ctx context.Context, feed AudioFeed) error {
	if e.client == nil {
		return ErrTranscriptionUnavailable
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if feed == nil {
		return fmt.Errorf("start recognition: no audio feed")
	}

	if err := e.client.Start(ctx); err != nil {
		return fmt.Errorf("start recognition: %w", err)
	}
	e.drainStale()

	sessionCtx, cancel := context.WithCancel(ctx)
	chunks, unsubscribe := feed.Subscribe(feedBuffer)
	speech := make(chan struct{}, 1)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.pump(sessionCtx, chunks, speech)
	}()
	go func() {
		defer wg.Done()
		e.listen(sessionCtx, speech)
	}()
	go func() {
		wg.Wait()
		unsubscribe()
		close(done)
	}()

	e.running = true
	e.cancel = cancel
	e.done = done
	e.logger.Debug().Msg("Recognition started")
	return nil
}

// Stop halts recognition, cancels the silence timer and drops any pending
// interim text. It is safe to call when not running.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	cancel()
	<-done
	if err := e.client.Stop(); err != nil {
		return fmt.Errorf("stop recognition: %w", err)
	}
	e.logger.Debug().Msg("Recognition stopped")
	return nil
}

// drainStale discards results left over from a previous session.
func (e *Engine) drainStale() {
	for {
		select {
		case <-e.client.Results():
		default:
			return
		}
	}
}

// pump forwards audio to the recognizer and signals detected speech energy.
func (e *Engine) pump(ctx context.Context, chunks <-chan []byte, speech chan<- struct{}) {
	var vad *audio.VADDetector
	if e.config.VAD != nil {
		cfg := *e.config.VAD
		vad = audio.NewVADDetector(&cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if err := e.client.SendAudio(chunk); err != nil {
				e.logger.Debug().Err(err).Msg("Dropping audio chunk")
			}
			if vad != nil && vad.ProcessPCM(chunk) {
				select {
				case speech <- struct{}{}:
				default:
				}
			}
		}
	}
}

// listen owns the silence timer. Every arm creates a fresh timer, so a fire
// from a superseded timer can never be observed.
func (e *Engine) listen(ctx context.Context, speech <-chan struct{}) {
	var (
		pending    string
		suppressed string
		timer      *time.Timer
		timerC     <-chan time.Time
	)
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.NewTimer(e.config.SilenceTimeout)
		timerC = timer.C
	}
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return

		case result := <-e.client.Results():
			if result == nil {
				continue
			}
			text := strings.TrimSpace(result.Text)
			if text == "" {
				continue
			}
			// The recognizer may still finalize an utterance the timer already
			// forced; that final must not be emitted twice.
			if suppressed != "" && normalize(text) == suppressed {
				if result.IsFinal {
					suppressed = ""
				}
				continue
			}
			suppressed = ""

			if result.IsFinal {
				disarm()
				pending = ""
				e.emit(ctx, Update{Text: text, Final: true})
				continue
			}
			pending = text
			arm()
			e.emit(ctx, Update{Text: text})

		case <-speech:
			if pending != "" {
				arm()
			}

		case <-timerC:
			timer, timerC = nil, nil
			if pending == "" {
				continue
			}
			e.logger.Debug().Dur("silence", e.config.SilenceTimeout).Msg("Forcing final transcript after silence")
			suppressed = normalize(pending)
			e.emit(ctx, Update{Text: pending, Final: true, Forced: true})
			pending = ""
		}
	}
}

func (e *Engine) emit(ctx context.Context, u Update) {
	select {
	case e.updates <- u:
	case <-ctx.Done():
	}
}

func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
