package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/interview-agent/internal/channel"
	"github.com/lexiqai/interview-agent/internal/media"
	"github.com/lexiqai/interview-agent/internal/recording"
	"github.com/lexiqai/interview-agent/internal/stt"
)

type stubStream struct {
	chunks chan []byte
	once   sync.Once
	mu     sync.Mutex
	err    error
}

func (s *stubStream) Chunks() <-chan []byte { return s.chunks }

func (s *stubStream) Stop() error {
	s.once.Do(func() { close(s.chunks) })
	return nil
}

func (s *stubStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubStream) lose(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.chunks) })
}

type stubDevice struct {
	mu     sync.Mutex
	fails  int
	opened []*stubStream
}

func (d *stubDevice) Open(context.Context) (media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fails > 0 {
		d.fails--
		return nil, errors.New("permission denied")
	}
	s := &stubStream{chunks: make(chan []byte, 8)}
	d.opened = append(d.opened, s)
	return s, nil
}

func (d *stubDevice) failNext(n int) {
	d.mu.Lock()
	d.fails = n
	d.mu.Unlock()
}

func (d *stubDevice) last() *stubStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opened) == 0 {
		return nil
	}
	return d.opened[len(d.opened)-1]
}

type fakeSpeech struct {
	mu        sync.Mutex
	available bool
	running   bool
	starts    int
	stops     int
	updates   chan stt.Update
}

func newFakeSpeech() *fakeSpeech {
	return &fakeSpeech{available: true, updates: make(chan stt.Update, 16)}
}

func (f *fakeSpeech) Available() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeSpeech) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeSpeech) Start(_ context.Context, feed stt.AudioFeed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.available {
		return stt.ErrTranscriptionUnavailable
	}
	if f.running {
		return nil
	}
	if feed == nil {
		return errors.New("no feed")
	}
	f.running = true
	f.starts++
	return nil
}

func (f *fakeSpeech) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.running = false
		f.stops++
	}
	return nil
}

func (f *fakeSpeech) Updates() <-chan stt.Update { return f.updates }

func (f *fakeSpeech) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

// fakeSpeaker returns immediately unless blocking, in which case each
// utterance waits for finish, Cancel or ctx.
type fakeSpeaker struct {
	mu       sync.Mutex
	block    bool
	spoken   []string
	current  chan struct{}
	cancels  int
	finished chan struct{}
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{finished: make(chan struct{})}
}

func (s *fakeSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	stop := make(chan struct{})
	s.current = stop
	block := s.block
	s.mu.Unlock()

	if !block {
		return nil
	}
	select {
	case <-s.finished:
		return nil
	case <-stop:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSpeaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	if s.current != nil {
		close(s.current)
		s.current = nil
	}
}

func (s *fakeSpeaker) setBlocking(v bool) {
	s.mu.Lock()
	s.block = v
	s.mu.Unlock()
}

func (s *fakeSpeaker) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func (s *fakeSpeaker) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

type fakeTransport struct {
	mu      sync.Mutex
	turns   chan channel.Turn
	states  chan channel.State
	sent    []string
	sendErr error
	closes  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		turns:  make(chan channel.Turn, 16),
		states: make(chan channel.State, 16),
	}
}

func (f *fakeTransport) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Turns() <-chan channel.Turn   { return f.turns }
func (f *fakeTransport) States() <-chan channel.State { return f.states }

func (f *fakeTransport) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) aiSays(text string) {
	f.turns <- channel.Turn{Sender: "AI", Message: text}
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeBackend struct {
	mu           sync.Mutex
	summaryErrs  []error
	summaryCalls int
	gate         chan struct{}
	uploads      []recording.Artifacts
}

func (b *fakeBackend) UploadRecording(_ context.Context, _ string, arts recording.Artifacts) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads = append(b.uploads, arts)
	return nil
}

func (b *fakeBackend) GenerateSummary(ctx context.Context, _ string) (json.RawMessage, error) {
	b.mu.Lock()
	b.summaryCalls++
	var err error
	if len(b.summaryErrs) > 0 {
		err = b.summaryErrs[0]
		b.summaryErrs = b.summaryErrs[1:]
	}
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"summary":"ok"}`), nil
}

func (b *fakeBackend) calls() (summaries, uploads int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summaryCalls, len(b.uploads)
}

type fakeRecorder struct {
	mu        sync.Mutex
	begins    int
	finalized int
}

func (r *fakeRecorder) Begin(*media.Handle) error {
	r.mu.Lock()
	r.begins++
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) Finalize() recording.Artifacts {
	r.mu.Lock()
	r.finalized++
	r.mu.Unlock()
	return recording.Artifacts{
		Video: recording.Artifact{Name: recording.VideoFileName, MIMEType: recording.VideoMIMEType, Data: []byte("webm")},
		Audio: recording.Artifact{Name: recording.AudioFileName, MIMEType: recording.AudioMIMEType, Data: []byte("wav")},
	}
}

func (r *fakeRecorder) counts() (begins, finalized int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begins, r.finalized
}

type fakeJournal struct {
	mu       sync.Mutex
	messages []Message
	phases   []Phase
}

func (j *fakeJournal) AppendMessage(_ context.Context, _ string, m Message) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.messages = append(j.messages, m)
	return nil
}

func (j *fakeJournal) AppendPhase(_ context.Context, _ string, _, to Phase, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phases = append(j.phases, to)
	return nil
}

func (j *fakeJournal) phaseLog() []Phase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Phase(nil), j.phases...)
}
