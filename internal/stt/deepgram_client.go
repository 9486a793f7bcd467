package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-agent/internal/audio"
	"github.com/lexiqai/interview-agent/internal/config"
	"github.com/lexiqai/interview-agent/internal/observability"
	"github.com/lexiqai/interview-agent/internal/resilience"
)

var errNotActive = errors.New("deepgram client is not active")

// messageCallbackHandler embeds the default handler and overrides only the
// events the client cares about.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	utteranceEnd func()
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	m.utteranceEnd()
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Recognizer with Deepgram's live streaming API.
// Deepgram finalizes speech in segments; the client joins finalized segments
// and reports the utterance as final on speech_final or UtteranceEnd.
type DeepgramClient struct {
	config         *config.Config
	logger         zerolog.Logger
	circuitBreaker *resilience.CircuitBreaker
	results        chan *TranscriptionResult

	mu       sync.RWMutex
	client   *listenClient.WSCallback
	isActive bool
	ctx      context.Context
	cancel   context.CancelFunc
	segments []string
	start    float64
}

// NewDeepgramClient creates a client. It does not connect until Start.
func NewDeepgramClient(cfg *config.Config, logger zerolog.Logger) *DeepgramClient {
	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	circuitBreaker.OnStateChange(func(name string, _, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})

	return &DeepgramClient{
		config:         cfg,
		logger:         logger.With().Str("component", "deepgram").Logger(),
		circuitBreaker: circuitBreaker,
		results:        make(chan *TranscriptionResult, 100),
	}
}

// Start opens a streaming session.
func (d *DeepgramClient) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return nil
	}
	return d.connectLocked(ctx)
}

func (d *DeepgramClient) connectLocked(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       audio.Channels,
		SampleRate:     audio.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		utteranceEnd:           d.flushUtterance,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().
				Str("err_code", errorResponse.ErrCode).
				Str("err_msg", errorResponse.ErrMsg).
				Msg("Deepgram error")
			d.circuitBreaker.RecordResult(false)
			observability.IncrementCircuitBreakerFailures("deepgram")

			select {
			case <-sessionCtx.Done():
				return nil
			default:
			}
			d.mu.Lock()
			d.isActive = false
			d.mu.Unlock()
			go d.reconnect(sessionCtx)
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(sessionCtx, d.config.DeepgramAPIKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		d.circuitBreaker.RecordResult(false)
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		cancel()
		d.circuitBreaker.RecordResult(false)
		return fmt.Errorf("failed to connect to Deepgram")
	}

	d.client = client
	d.ctx = sessionCtx
	d.cancel = cancel
	d.isActive = true
	d.segments = nil
	d.circuitBreaker.RecordResult(true)

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram streaming session started")
	return nil
}

// reconnect re-opens the session after a transport error until the session
// context is cancelled by Stop.
func (d *DeepgramClient) reconnect(ctx context.Context) {
	cfg := &resilience.ReconnectConfig{
		MaxAttempts: d.config.RetryMaxAttempts,
		Backoff:     config.Millis(d.config.RetryInitialBackoff),
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
		OnFailure: func(attempt int, err error, wait time.Duration) {
			d.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Msg("Deepgram reconnect failed")
		},
	}

	attempts, err := resilience.Reconnect(ctx, func(context.Context) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.isActive {
			return nil
		}
		if d.client != nil {
			d.client.Stop()
		}
		return d.connectLocked(ctx)
	}, cfg)
	if err != nil {
		d.logger.Error().Err(err).Int("attempts", attempts).Msg("Failed to reconnect Deepgram client")
		return
	}
	d.logger.Info().Int("attempts", attempts).Msg("Reconnected Deepgram client")
}

func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return
	}
	alt := msg.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)

	d.mu.Lock()
	if len(d.segments) == 0 {
		d.start = msg.Start
	}
	if msg.IsFinal && text != "" {
		d.segments = append(d.segments, text)
	}
	joined := strings.Join(d.segments, " ")
	if !msg.IsFinal && text != "" {
		joined = strings.TrimSpace(joined + " " + text)
	}
	final := msg.SpeechFinal && joined != ""
	if final {
		d.segments = nil
	}
	start := d.start
	d.mu.Unlock()

	if joined == "" {
		return
	}
	d.emit(&TranscriptionResult{
		Text:       joined,
		IsFinal:    final,
		Confidence: alt.Confidence,
		StartTime:  start,
		Duration:   msg.Start + msg.Duration - start,
	})
}

// flushUtterance finalizes any joined segments when Deepgram reports the end
// of an utterance without a speech_final result.
func (d *DeepgramClient) flushUtterance() {
	d.mu.Lock()
	joined := strings.Join(d.segments, " ")
	d.segments = nil
	d.mu.Unlock()

	if joined == "" {
		return
	}
	d.emit(&TranscriptionResult{Text: joined, IsFinal: true})
}

func (d *DeepgramClient) emit(result *TranscriptionResult) {
	select {
	case d.results <- result:
		d.logger.Debug().Bool("final", result.IsFinal).Str("text", result.Text).Msg("Deepgram transcription")
	default:
		d.logger.Warn().Msg("Transcript channel full, dropping transcription")
	}
}

// SendAudio sends a PCM chunk to Deepgram.
func (d *DeepgramClient) SendAudio(pcm []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return errNotActive
		}
		if _, err := client.Write(pcm); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNotActive) {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}
	return err
}

// Results returns the result stream shared by every session.
func (d *DeepgramClient) Results() <-chan *TranscriptionResult {
	return d.results
}

// Stop finishes the current session and cancels any reconnect attempt.
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.client != nil {
		d.client.Stop()
		d.client = nil
	}
	d.segments = nil
	if d.isActive {
		d.isActive = false
		d.logger.Info().Msg("Deepgram streaming session stopped")
	}
	return nil
}

// IsActive returns whether a session is open
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
