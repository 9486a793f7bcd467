package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-agent/internal/channel"
	"github.com/lexiqai/interview-agent/internal/config"
	"github.com/lexiqai/interview-agent/internal/media"
	"github.com/lexiqai/interview-agent/internal/observability"
	"github.com/lexiqai/interview-agent/internal/recording"
	"github.com/lexiqai/interview-agent/internal/stt"
)

// ErrFinished is returned by commands issued after the session loop exited.
var ErrFinished = errors.New("session finished")

var errNoBackend = errors.New("no interview backend configured")

// MediaSource acquires and releases the capture devices. StopCamera and
// StartCamera switch the camera alone and return the replacement handle.
type MediaSource interface {
	Acquire(ctx context.Context) (*media.Handle, error)
	StopCamera() *media.Handle
	StartCamera(ctx context.Context) (*media.Handle, error)
	Release()
	Losses() <-chan media.Loss
}

// Recognizer is the continuous speech engine.
type Recognizer interface {
	Available() bool
	Running() bool
	Start(ctx context.Context, feed stt.AudioFeed) error
	Stop() error
	Updates() <-chan stt.Update
}

// Recorder captures the session recordings.
type Recorder interface {
	Begin(handle *media.Handle) error
	Finalize() recording.Artifacts
}

// Transport is the interview channel to the backend.
type Transport interface {
	Run(ctx context.Context) error
	Turns() <-chan channel.Turn
	States() <-chan channel.State
	Send(ctx context.Context, text string) error
	Close() error
}

// Speaker voices AI turns. Speak returns once playback finished or was cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
}

// Backend receives the recordings and generates the summary.
type Backend interface {
	UploadRecording(ctx context.Context, sessionID string, arts recording.Artifacts) error
	GenerateSummary(ctx context.Context, sessionID string) (json.RawMessage, error)
}

// Journal durably records the transcript and phase history.
type Journal interface {
	AppendMessage(ctx context.Context, sessionID string, m Message) error
	AppendPhase(ctx context.Context, sessionID string, from, to Phase, at time.Time) error
}

// Timing holds the session delays and end-of-interview policy.
type Timing struct {
	InterruptionSettle time.Duration
	NarrationInterval  time.Duration
	ProgressTick       time.Duration
	TerminationDelay   time.Duration
	CompletionDelay    time.Duration
	ProgressCeiling    int
	ProgressMaxStep    int
	WarningCap         int
}

// DefaultTiming returns the production timings.
func DefaultTiming() Timing {
	return Timing{
		InterruptionSettle: time.Second,
		NarrationInterval:  2500 * time.Millisecond,
		ProgressTick:       time.Second,
		TerminationDelay:   3 * time.Second,
		CompletionDelay:    2 * time.Second,
		ProgressCeiling:    95,
		ProgressMaxStep:    15,
		WarningCap:         2,
	}
}

// TimingFromConfig maps configuration onto session timings.
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		InterruptionSettle: config.Millis(cfg.InterruptionSettle),
		NarrationInterval:  config.Millis(cfg.NarrationInterval),
		ProgressTick:       config.Millis(cfg.ProgressTick),
		TerminationDelay:   config.Millis(cfg.TerminationDelay),
		CompletionDelay:    config.Millis(cfg.CompletionDelay),
		ProgressCeiling:    cfg.ProgressCeiling,
		ProgressMaxStep:    cfg.ProgressMaxStep,
		WarningCap:         cfg.WarningCap,
	}
}

// Options wires an orchestrator to its collaborators.
type Options struct {
	SessionID  string
	Media      MediaSource
	Speech     Recognizer
	Recordings Recorder
	Channel    Transport
	Speaker    Speaker
	Backend    Backend
	Journal    Journal // optional

	// RecordingDir keeps a local copy of the recordings. Empty disables it.
	RecordingDir string
	Timing       Timing
	Logger       zerolog.Logger
	Metrics      *observability.SessionMetrics

	// OnComplete runs once, after the completion or termination delay.
	OnComplete func()
	// Rand returns a value in [0,1) for progress steps.
	Rand func() float64
}

// Snapshot is a consistent copy of the observable session state.
type Snapshot struct {
	SessionID     string                 `json:"session_id"`
	Phase         Phase                  `json:"phase"`
	Messages      []Message              `json:"messages"`
	Warnings      map[media.Resource]int `json:"warnings"`
	ActiveWarning *Warning               `json:"active_warning,omitempty"`
	Thinking      bool                   `json:"thinking"`
	Interim       string                 `json:"interim,omitempty"`
	Progress      int                    `json:"progress"`
	PendingEnd    EndReason              `json:"pending_end,omitempty"`
	TextOnly      bool                   `json:"text_only"`
	Microphone    bool                   `json:"microphone"`
	Camera        bool                   `json:"camera"`
	Listening     bool                   `json:"listening"`
	Channel       string                 `json:"channel"`
	SummaryFailed bool                   `json:"summary_failed"`
	Terminated    bool                   `json:"terminated"`
}

// Orchestrator owns one interview session. Every state change happens on
// the goroutine running Run; collaborators report back by posting closures.
type Orchestrator struct {
	opts    Options
	timing  Timing
	logger  zerolog.Logger
	metrics *observability.SessionMetrics
	events  *bus

	cmds     chan func()
	stopped  chan struct{}
	done     chan struct{}
	finished chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	bg       sync.WaitGroup

	// mu guards the fields below for Snapshot readers. Only the loop writes.
	mu            sync.RWMutex
	phase         Phase
	messages      []Message
	warnings      map[media.Resource]int
	activeWarning *Warning
	thinking      bool
	interim       string
	progress      int
	pendingEnd    EndReason
	textOnly      bool
	micEnabled    bool
	camEnabled    bool
	channelState  channel.State
	summaryFailed bool
	terminated    bool

	// Loop-only state.
	handle          *media.Handle
	acquiring       bool
	speaking        bool
	speechSeq       uint64
	settle          *time.Timer
	summaryAttempt  int
	summaryErr      error
	summaryResolved bool
	narrationDone   bool
	artifactsTaken  bool
	completed       bool
	timers          map[*time.Timer]struct{}
	deferred        []func()
}

// New creates an orchestrator in the Idle phase.
func New(opts Options) *Orchestrator {
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewSessionMetrics(opts.SessionID)
	}
	return &Orchestrator{
		opts:     opts,
		timing:   opts.Timing,
		logger:   opts.Logger.With().Str("component", "session").Str("session_id", opts.SessionID).Logger(),
		metrics:  metrics,
		events:   newBus(),
		cmds:     make(chan func(), 64),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		phase:    PhaseIdle,
		warnings: map[media.Resource]int{
			media.ResourceCamera:     0,
			media.ResourceMicrophone: 0,
		},
		micEnabled:   true,
		camEnabled:   true,
		channelState: channel.StateClosed,
		timers:       make(map[*time.Timer]struct{}),
	}
}

// Subscribe returns a stream of events and a function that ends the subscription.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Snapshot returns the current session state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	warnings := make(map[media.Resource]int, len(o.warnings))
	for k, v := range o.warnings {
		warnings[k] = v
	}
	var active *Warning
	if o.activeWarning != nil {
		w := *o.activeWarning
		active = &w
	}
	return Snapshot{
		SessionID:     o.opts.SessionID,
		Phase:         o.phase,
		Messages:      append([]Message(nil), o.messages...),
		Warnings:      warnings,
		ActiveWarning: active,
		Thinking:      o.thinking,
		Interim:       o.interim,
		Progress:      o.progress,
		PendingEnd:    o.pendingEnd,
		TextOnly:      o.textOnly,
		Microphone:    o.micEnabled,
		Camera:        o.camEnabled,
		Listening:     o.opts.Speech != nil && o.opts.Speech.Running(),
		Channel:       o.channelState.String(),
		SummaryFailed: o.summaryFailed,
		Terminated:    o.terminated,
	}
}

// Run drives the session until it completes or ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.ctx, o.cancel = ctx, cancel
	defer close(o.done)
	defer o.shutdown()

	if o.opts.Channel != nil {
		o.bg.Add(1)
		go func() {
			defer o.bg.Done()
			if err := o.opts.Channel.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Warn().Err(err).Msg("interview channel stopped")
			}
		}()
	}

	var (
		turns   <-chan channel.Turn
		states  <-chan channel.State
		updates <-chan stt.Update
		losses  <-chan media.Loss
	)
	if o.opts.Channel != nil {
		turns = o.opts.Channel.Turns()
		states = o.opts.Channel.States()
	}
	if o.opts.Speech != nil {
		updates = o.opts.Speech.Updates()
	}
	if o.opts.Media != nil {
		losses = o.opts.Media.Losses()
	}

	o.dispatch(o.start)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.finished:
			return nil
		case fn := <-o.cmds:
			o.dispatch(fn)
		case turn, ok := <-turns:
			if !ok {
				turns = nil
				continue
			}
			o.dispatch(func() { o.onAITurn(turn.Message) })
		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			o.dispatch(func() { o.onChannelState(st) })
		case u := <-updates:
			o.dispatch(func() { o.onSpeech(u) })
		case loss := <-losses:
			o.dispatch(func() { o.onMediaLoss(loss) })
		}
	}
}

// dispatch runs fn as one loop step under the state lock. Callbacks queued
// with defer run after the lock is released.
func (o *Orchestrator) dispatch(fn func()) {
	o.mu.Lock()
	fn()
	deferred := o.deferred
	o.deferred = nil
	o.mu.Unlock()

	for _, d := range deferred {
		d()
	}
}

// post queues fn for the loop. It reports false once the loop has stopped.
func (o *Orchestrator) post(fn func()) bool {
	select {
	case o.cmds <- fn:
		return true
	case <-o.stopped:
		return false
	}
}

func (o *Orchestrator) command(fn func()) error {
	select {
	case <-o.stopped:
		return ErrFinished
	default:
	}
	if !o.post(fn) {
		return ErrFinished
	}
	return nil
}

// after runs fn on the loop once d elapses, unless cancelled first.
func (o *Orchestrator) after(d time.Duration, fn func()) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		o.post(func() {
			if _, ok := o.timers[t]; !ok {
				return
			}
			delete(o.timers, t)
			fn()
		})
	})
	o.timers[t] = struct{}{}
	return t
}

func (o *Orchestrator) cancelTimer(t *time.Timer) {
	if t == nil {
		return
	}
	t.Stop()
	delete(o.timers, t)
}

func (o *Orchestrator) shutdown() {
	close(o.stopped)
	o.cancel()

	o.mu.Lock()
	for t := range o.timers {
		t.Stop()
	}
	o.timers = make(map[*time.Timer]struct{})
	o.speechSeq++
	if !o.artifactsTaken && o.opts.Recordings != nil {
		o.artifactsTaken = true
		arts := o.opts.Recordings.Finalize()
		if o.opts.RecordingDir != "" && !(arts.Video.Empty() && arts.Audio.Empty()) {
			if _, err := recording.Save(o.opts.RecordingDir, arts); err != nil {
				o.logger.Error().Err(err).Msg("failed to save partial recordings")
			}
		}
	}
	if !o.completed && o.phase != PhaseComplete && o.phase != PhaseIdle {
		o.metrics.RecordSessionEnd("abandoned")
	}
	o.mu.Unlock()

	o.stopRecognition()
	if o.opts.Speaker != nil {
		o.opts.Speaker.Cancel()
	}
	if o.opts.Media != nil {
		o.opts.Media.Release()
	}
	if o.opts.Channel != nil {
		_ = o.opts.Channel.Close()
	}
	o.bg.Wait()
	o.events.close()
}

func (o *Orchestrator) start() {
	o.transition(TriggerStart)
	o.metrics.RecordSessionStart()

	if o.opts.Speech == nil || !o.opts.Speech.Available() {
		o.setTextOnly()
	}

	o.onAITurn(greetingText)
	o.acquireMedia()
}

// transition applies trigger, journaling and publishing the phase change.
func (o *Orchestrator) transition(trigger Trigger) bool {
	from := o.phase
	next, err := Transition(from, trigger)
	if err != nil {
		o.logger.Debug().Err(err).Msg("transition ignored")
		return false
	}
	o.phase = next
	if next == from {
		return true
	}

	o.metrics.RecordPhase(string(next))
	o.logger.Info().Str("from", string(from)).Str("to", string(next)).Msg("phase changed")
	if o.opts.Journal != nil {
		if err := o.opts.Journal.AppendPhase(o.ctx, o.opts.SessionID, from, next, time.Now()); err != nil {
			o.logger.Warn().Err(err).Msg("failed to journal phase")
		}
	}
	o.events.publish(Event{Type: EventPhase, Phase: next})

	if next == PhaseComplete && o.opts.Channel != nil {
		// Stop reconnecting now; the completion callback follows after a delay.
		go func() { _ = o.opts.Channel.Close() }()
	}
	return true
}

func (o *Orchestrator) appendMessage(sender Sender, text string, kind Kind) Message {
	m := newMessage(sender, text, kind)
	o.messages = append(o.messages, m)
	o.metrics.RecordTurn(string(sender))
	if o.opts.Journal != nil {
		if err := o.opts.Journal.AppendMessage(o.ctx, o.opts.SessionID, m); err != nil {
			o.logger.Warn().Err(err).Msg("failed to journal message")
		}
	}
	o.events.publish(Event{Type: EventMessage, Message: &m})
	return m
}

func (o *Orchestrator) setThinking(v bool) {
	if o.thinking == v {
		return
	}
	o.thinking = v
	o.events.publish(Event{Type: EventThinking, Thinking: v})
}

func (o *Orchestrator) setInterim(text string) {
	if o.interim == text {
		return
	}
	o.interim = text
	o.events.publish(Event{Type: EventInterim, Interim: text})
}

func (o *Orchestrator) setTextOnly() {
	if o.textOnly {
		return
	}
	o.textOnly = true
	o.logger.Warn().Msg("speech recognition unavailable, continuing with typed input")
	o.events.publish(Event{Type: EventTextOnly, TextOnly: true})
}

func (o *Orchestrator) onChannelState(st channel.State) {
	o.channelState = st
	o.events.publish(Event{Type: EventChannel, Channel: st.String()})
}

// Media

func (o *Orchestrator) acquireMedia() {
	if o.opts.Media == nil || o.acquiring || o.handle.IsActive() {
		return
	}
	o.acquiring = true
	ctx := o.ctx
	go func() {
		h, err := o.opts.Media.Acquire(ctx)
		o.post(func() { o.onMediaAcquired(h, err) })
	}()
}

func (o *Orchestrator) onMediaAcquired(h *media.Handle, err error) {
	o.acquiring = false
	if !o.phase.Live() || o.terminated {
		if err == nil {
			o.opts.Media.Release()
		}
		return
	}

	if err != nil {
		res := media.ResourceMicrophone
		var accessErr *media.MediaAccessError
		if errors.As(err, &accessErr) {
			res = accessErr.Resource
		}
		o.logger.Warn().Err(err).Str("resource", string(res)).Msg("media access failed")
		o.metrics.RecordError("access_denied", "media")
		o.onDenied(res)
		if o.phase == PhaseAwaitingMedia {
			o.transition(TriggerMediaReady)
		}
		return
	}

	// Recognition may still hold the previous microphone track.
	o.stopRecognition()
	if !o.camEnabled {
		h = o.opts.Media.StopCamera()
	}
	o.useHandle(h)
	if o.phase == PhaseAwaitingMedia {
		o.transition(TriggerMediaReady)
	}
	o.maybeStartRecognition()
}

// useHandle switches to h and points the recordings at it.
func (o *Orchestrator) useHandle(h *media.Handle) {
	o.handle = h
	if o.opts.Recordings == nil || h == nil {
		return
	}
	if err := o.opts.Recordings.Begin(h); err != nil {
		o.logger.Error().Err(err).Msg("failed to start recording")
	}
}

func (o *Orchestrator) stopCamera() {
	if o.opts.Media == nil || o.handle == nil {
		return
	}
	o.useHandle(o.opts.Media.StopCamera())
}

func (o *Orchestrator) startCamera() {
	if o.opts.Media == nil || o.acquiring {
		return
	}
	if !o.handle.IsActive() {
		o.acquireMedia()
		return
	}
	o.acquiring = true
	ctx := o.ctx
	go func() {
		h, err := o.opts.Media.StartCamera(ctx)
		o.post(func() { o.onCameraStarted(h, err) })
	}()
}

func (o *Orchestrator) onCameraStarted(h *media.Handle, err error) {
	o.acquiring = false
	if !o.phase.Live() || o.terminated {
		if err == nil {
			o.opts.Media.Release()
		}
		return
	}
	switch {
	case errors.Is(err, media.ErrNotAcquired):
		o.acquireMedia()
	case err != nil:
		o.logger.Warn().Err(err).Msg("camera restart failed")
		o.metrics.RecordError("access_denied", "media")
		o.camEnabled = false
		o.onDenied(media.ResourceCamera)
	case !o.camEnabled:
		// Switched off again while the device was opening.
		o.handle = h
		o.stopCamera()
	case !h.IsActive():
		// Stopped and re-enabled while opening; pick up the current handle
		// and open the camera again.
		o.useHandle(o.opts.Media.StopCamera())
		o.startCamera()
	default:
		o.useHandle(h)
	}
}

func (o *Orchestrator) onMediaLoss(loss media.Loss) {
	if !o.phase.Live() || o.terminated {
		return
	}
	o.logger.Warn().Err(loss.Err).Str("resource", string(loss.Resource)).Msg("capture track ended")
	if loss.Resource == media.ResourceMicrophone {
		o.stopRecognition()
		o.setInterim("")
	}
	o.onDenied(loss.Resource)
}

// onDenied counts one revocation of res and terminates past the cap.
func (o *Orchestrator) onDenied(res media.Resource) {
	if o.terminated || !o.phase.Live() {
		return
	}
	o.warnings[res]++
	count := o.warnings[res]
	o.metrics.RecordWarning(string(res))

	if count > o.timing.WarningCap {
		o.terminate(res)
		return
	}

	remaining := o.timing.WarningCap - count
	w := &Warning{
		Resource:  res,
		Count:     count,
		Remaining: remaining,
		Text:      warningText(res, remaining),
	}
	o.activeWarning = w
	o.events.publish(Event{Type: EventWarning, Warning: w})
}

func (o *Orchestrator) terminate(res media.Resource) {
	if o.terminated || o.phase == PhaseComplete {
		return
	}
	o.terminated = true
	o.logger.Warn().Str("resource", string(res)).Msg("terminating interview after repeated revocations")

	o.freezeInput()
	o.activeWarning = nil
	o.pendingEnd = ""
	o.takeArtifacts()

	o.appendMessage(SenderAI, terminationText(res), KindError)
	o.transition(TriggerTerminate)
	o.metrics.RecordSessionEnd("terminated")
	o.after(o.timing.TerminationDelay, o.complete)
}

// freezeInput stops every input path and releases the devices.
func (o *Orchestrator) freezeInput() {
	o.stopRecognition()
	o.setInterim("")
	o.setThinking(false)
	o.speechSeq++
	o.speaking = false
	if o.opts.Speaker != nil {
		o.opts.Speaker.Cancel()
	}
	o.cancelTimer(o.settle)
	o.settle = nil
	if o.opts.Media != nil {
		o.opts.Media.Release()
	}
	o.handle = nil
}

// takeArtifacts finalizes the recordings once, then saves and uploads them
// in the background.
func (o *Orchestrator) takeArtifacts() {
	if o.artifactsTaken || o.opts.Recordings == nil {
		return
	}
	o.artifactsTaken = true
	arts := o.opts.Recordings.Finalize()
	if arts.Video.Empty() && arts.Audio.Empty() {
		o.logger.Info().Msg("no recordings captured")
		return
	}

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if o.opts.RecordingDir != "" {
			if paths, err := recording.Save(o.opts.RecordingDir, arts); err != nil {
				o.logger.Error().Err(err).Msg("failed to save recordings")
			} else {
				o.logger.Info().Strs("paths", paths).Msg("recordings saved")
			}
		}
		if o.opts.Backend == nil {
			return
		}
		// Detached from the session so a shutdown does not cut the upload
		// short. The backend bounds each attempt.
		err := o.opts.Backend.UploadRecording(context.Background(), o.opts.SessionID, arts)
		o.metrics.RecordUpload(err == nil)
		if err != nil {
			o.logger.Error().Err(err).Msg("recording upload failed")
			return
		}
		o.logger.Info().
			Int("video_bytes", len(arts.Video.Data)).
			Int("video_segments", 1+len(arts.Segments)).
			Dur("audio_duration", arts.AudioDuration()).
			Msg("recordings uploaded")
	}()
}

// complete invokes the completion callback exactly once and ends the loop.
func (o *Orchestrator) complete() {
	if o.completed {
		return
	}
	o.completed = true
	o.events.publish(Event{Type: EventComplete, Phase: o.phase})
	o.deferred = append(o.deferred, func() {
		if o.opts.OnComplete != nil {
			o.opts.OnComplete()
		}
		close(o.finished)
	})
}

// Speech

func (o *Orchestrator) maybeStartRecognition() {
	sp := o.opts.Speech
	if sp == nil || o.textOnly || sp.Running() {
		return
	}
	if o.phase != PhaseActive || o.speaking || !o.micEnabled {
		return
	}
	if !o.handle.IsActive() || !o.handle.HasAudio() {
		return
	}

	err := sp.Start(o.ctx, o.handle.Audio())
	switch {
	case errors.Is(err, stt.ErrTranscriptionUnavailable):
		o.setTextOnly()
	case err != nil:
		o.logger.Error().Err(err).Msg("failed to start recognition")
		o.metrics.RecordError("start_failed", "stt")
	}
}

func (o *Orchestrator) stopRecognition() {
	sp := o.opts.Speech
	if sp == nil || !sp.Running() {
		return
	}
	if err := sp.Stop(); err != nil {
		o.logger.Warn().Err(err).Msg("failed to stop recognition")
	}
}

func (o *Orchestrator) onSpeech(u stt.Update) {
	if !u.Final {
		if o.phase.Live() && o.opts.Speech.Running() {
			o.setInterim(u.Text)
		}
		return
	}
	o.metrics.RecordFinalization(u.Forced)
	o.setInterim("")
	o.submitCandidate(u.Text)
}

// submitCandidate appends a candidate turn and relays it to the backend.
func (o *Orchestrator) submitCandidate(text string) {
	text = strings.TrimSpace(text)
	if text == "" || !o.phase.Live() || o.terminated {
		return
	}
	if n := len(o.messages); n > 0 {
		last := o.messages[n-1]
		if last.Sender == SenderCandidate && normalizeUtterance(last.Text) == normalizeUtterance(text) {
			o.metrics.RecordDuplicate(string(SenderCandidate))
			o.logger.Debug().Str("text", text).Msg("duplicate candidate utterance dropped")
			return
		}
	}

	o.appendMessage(SenderCandidate, text, KindNormal)
	o.setThinking(true)

	if o.opts.Channel == nil {
		return
	}
	ctx := o.ctx
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if err := o.opts.Channel.Send(ctx, text); err != nil {
			o.logger.Error().Err(err).Msg("failed to send candidate turn")
			o.metrics.RecordError("send_failed", "channel")
			o.post(func() { o.setThinking(false) })
		}
	}()
}

// onAITurn handles an interviewer turn. A turn that arrives while the
// candidate is being listened to interrupts them.
func (o *Orchestrator) onAITurn(text string) {
	text = strings.TrimSpace(text)
	if text == "" || !o.phase.Live() || o.terminated {
		return
	}
	o.setThinking(false)

	kind := KindNormal
	if o.opts.Speech != nil && o.opts.Speech.Running() {
		o.stopRecognition()
		o.setInterim("")
		o.transition(TriggerInterrupt)
	}
	if o.phase == PhaseInterrupted {
		kind = KindInterruption
	}

	o.cancelTimer(o.settle)
	o.settle = nil
	o.appendMessage(SenderAI, text, kind)
	o.speak(text)
}

func (o *Orchestrator) speak(text string) {
	o.speechSeq++
	seq := o.speechSeq
	if o.opts.Speaker == nil {
		o.onSpeechDone(seq, nil)
		return
	}
	// Only one utterance plays at a time.
	o.opts.Speaker.Cancel()
	o.speaking = true
	ctx := o.ctx
	go func() {
		err := o.opts.Speaker.Speak(ctx, text)
		o.post(func() { o.onSpeechDone(seq, err) })
	}()
}

func (o *Orchestrator) onSpeechDone(seq uint64, err error) {
	if seq != o.speechSeq {
		return
	}
	o.speaking = false
	if err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn().Err(err).Msg("speech playback failed")
		o.metrics.RecordError("playback_failed", "tts")
	}

	if o.phase != PhaseInterrupted {
		o.maybeStartRecognition()
		return
	}
	o.settle = o.after(o.timing.InterruptionSettle, func() {
		o.settle = nil
		if seq != o.speechSeq || o.phase != PhaseInterrupted {
			return
		}
		o.transition(TriggerResume)
		o.maybeStartRecognition()
	})
}

// End of interview

func (o *Orchestrator) beginEnd(reason EndReason) {
	if !o.transition(TriggerEnd) {
		return
	}
	o.logger.Info().Str("reason", string(reason)).Msg("ending interview")

	o.freezeInput()
	o.activeWarning = nil
	o.takeArtifacts()

	if reason == EndLeave {
		o.appendMessage(SenderAI, endLeaveText, KindInterruption)
	} else {
		o.appendMessage(SenderAI, endCompleteText, KindNormal)
	}
	o.startSummary(true)
}

// startSummary requests the summary while narration and progress run.
// The outcome is shown only after narration finished.
func (o *Orchestrator) startSummary(narrate bool) {
	if !o.transition(TriggerSummarize) {
		return
	}
	o.summaryAttempt++
	attempt := o.summaryAttempt
	o.summaryErr = nil
	o.summaryResolved = false
	o.summaryFailed = false
	o.narrationDone = !narrate
	o.metrics.RecordSummaryStart()

	o.tickProgress(attempt)
	if narrate {
		o.narrate(attempt, 0)
	}

	ctx := o.ctx
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		err := errNoBackend
		if o.opts.Backend != nil {
			_, err = o.opts.Backend.GenerateSummary(ctx, o.opts.SessionID)
		}
		o.post(func() { o.onSummaryResult(attempt, err) })
	}()
}

func (o *Orchestrator) narrate(attempt, i int) {
	o.after(o.timing.NarrationInterval, func() {
		if attempt != o.summaryAttempt || o.phase != PhaseSummaryPending {
			return
		}
		o.appendMessage(SenderAI, narrationTexts[i], KindLoading)
		if i+1 < len(narrationTexts) {
			o.narrate(attempt, i+1)
			return
		}
		o.narrationDone = true
		o.resolveSummary(attempt)
	})
}

func (o *Orchestrator) tickProgress(attempt int) {
	o.after(o.timing.ProgressTick, func() {
		if attempt != o.summaryAttempt || o.phase != PhaseSummaryPending || o.summaryFailed {
			return
		}
		if o.summaryResolved && o.summaryErr != nil {
			return
		}
		step := int(o.opts.Rand() * float64(o.timing.ProgressMaxStep))
		next := o.progress + step
		if next > o.timing.ProgressCeiling {
			next = o.timing.ProgressCeiling
		}
		if next != o.progress {
			o.progress = next
			o.events.publish(Event{Type: EventProgress, Progress: next})
		}
		o.tickProgress(attempt)
	})
}

func (o *Orchestrator) onSummaryResult(attempt int, err error) {
	if attempt != o.summaryAttempt || o.phase != PhaseSummaryPending {
		return
	}
	o.summaryResolved = true
	o.summaryErr = err
	o.metrics.RecordSummaryEnd(err == nil)
	if err != nil {
		o.logger.Error().Err(err).Msg("summary generation failed")
	}
	o.resolveSummary(attempt)
}

func (o *Orchestrator) resolveSummary(attempt int) {
	if attempt != o.summaryAttempt || !o.summaryResolved || !o.narrationDone {
		return
	}

	if o.summaryErr != nil {
		o.summaryFailed = true
		o.appendMessage(SenderAI, summaryErrorText, KindError)
		return
	}

	o.progress = 100
	o.events.publish(Event{Type: EventProgress, Progress: 100})
	o.appendMessage(SenderAI, summaryDoneText, KindNormal)
	o.transition(TriggerSummaryDone)
	o.metrics.RecordSessionEnd("completed")
	o.after(o.timing.CompletionDelay, o.complete)
}

// Commands

// SubmitText submits a typed candidate turn.
func (o *Orchestrator) SubmitText(text string) error {
	return o.command(func() { o.submitCandidate(text) })
}

// SetMicrophone toggles the microphone. Turning it off counts as a revocation.
func (o *Orchestrator) SetMicrophone(enabled bool) error {
	return o.command(func() {
		if !o.phase.Live() || o.terminated || o.micEnabled == enabled {
			return
		}
		o.micEnabled = enabled
		if enabled {
			o.maybeStartRecognition()
			return
		}
		o.stopRecognition()
		o.setInterim("")
		o.onDenied(media.ResourceMicrophone)
	})
}

// SetCamera toggles the camera. Turning it off stops capture and counts as
// a revocation; turning it back on reopens the device.
func (o *Orchestrator) SetCamera(enabled bool) error {
	return o.command(func() {
		if !o.phase.Live() || o.terminated || o.camEnabled == enabled {
			return
		}
		o.camEnabled = enabled
		if enabled {
			o.startCamera()
			return
		}
		o.stopCamera()
		o.onDenied(media.ResourceCamera)
	})
}

// DismissWarning clears the active warning and retries device access if
// the devices are not held.
func (o *Orchestrator) DismissWarning() error {
	return o.command(func() {
		if o.activeWarning == nil {
			return
		}
		o.activeWarning = nil
		o.events.publish(Event{Type: EventWarningCleared})
		if o.phase.Live() && !o.terminated {
			o.acquireMedia()
		}
	})
}

// RequestEnd asks for confirmation to end the interview.
func (o *Orchestrator) RequestEnd(reason EndReason) error {
	if !reason.Valid() {
		return errors.New("unknown end reason")
	}
	return o.command(func() {
		if !o.phase.Live() || o.terminated {
			return
		}
		o.pendingEnd = reason
		o.events.publish(Event{Type: EventEndRequested, EndReason: reason})
	})
}

// CancelEnd dismisses a pending end request.
func (o *Orchestrator) CancelEnd() error {
	return o.command(func() {
		if o.pendingEnd == "" {
			return
		}
		o.pendingEnd = ""
		o.events.publish(Event{Type: EventEndCancelled})
	})
}

// ConfirmEnd ends the interview for the pending reason.
func (o *Orchestrator) ConfirmEnd() error {
	return o.command(func() {
		reason := o.pendingEnd
		if reason == "" {
			return
		}
		o.pendingEnd = ""
		o.beginEnd(reason)
	})
}

// RetrySummary requests the summary again after a failure.
func (o *Orchestrator) RetrySummary() error {
	return o.command(func() {
		if o.phase != PhaseSummaryPending || !o.summaryFailed {
			return
		}
		o.startSummary(false)
	})
}
