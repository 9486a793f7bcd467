package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	micChunkBytes   = 640 // 20ms @ 16kHz mono s16
	micPollInterval = 500 * time.Millisecond
)

// ErrStreamClosed is reported when the sound server closes a capture stream.
var ErrStreamClosed = errors.New("capture stream closed by sound server")

// PulseMicrophone captures 16kHz mono s16le PCM from a PulseAudio source.
type PulseMicrophone struct {
	// Source is a source name, or "" / "default" for the server default.
	Source string
}

// Open connects to the sound server and starts recording.
func (p *PulseMicrophone) Open(ctx context.Context) (Stream, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("interviewd"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	var source *pulse.Source
	if p.Source == "" || p.Source == "default" {
		source, err = client.DefaultSource()
	} else {
		source, err = client.SourceByID(p.Source)
	}
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", p.Source, err)
	}

	s := &pulseStream{
		client: client,
		chunks: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(s.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(16000),
		pulse.RecordBufferFragmentSize(micChunkBytes),
		pulse.RecordMediaName("interview microphone"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	s.stream = stream
	stream.Start()

	go s.watch()
	return s, nil
}

type pulseStream struct {
	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu       sync.Mutex
	pending  []byte
	stopped  bool
	err      error
	inflight sync.WaitGroup
	once     sync.Once
}

func (s *pulseStream) Chunks() <-chan []byte { return s.chunks }

func (s *pulseStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pulseStream) Stop() error {
	s.shutdown(nil)
	return nil
}

// watch ends the stream when the server closes it underneath us, which is
// how a revoked or unplugged source shows up.
func (s *pulseStream) watch() {
	ticker := time.NewTicker(micPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.stream.Closed() {
				err := s.stream.Error()
				if err == nil {
					err = ErrStreamClosed
				}
				s.shutdown(err)
				return
			}
		}
	}
}

func (s *pulseStream) shutdown(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.err = cause
		close(s.stopCh)
		s.mu.Unlock()

		if s.stream != nil {
			s.stream.Stop()
			s.stream.Close()
		}
		s.client.Close()
		s.inflight.Wait()

		s.mu.Lock()
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		if len(pending) > 0 {
			select {
			case s.chunks <- pending:
			default:
			}
		}
		close(s.chunks)
	})
}

// onPCM receives raw frames and emits fixed-size chunks.
func (s *pulseStream) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as stopped so Wait cannot race it.
	s.inflight.Add(1)
	s.pending = append(s.pending, buffer...)
	var out [][]byte
	for len(s.pending) >= micChunkBytes {
		chunk := make([]byte, micChunkBytes)
		copy(chunk, s.pending[:micChunkBytes])
		s.pending = s.pending[micChunkBytes:]
		out = append(out, chunk)
	}
	s.mu.Unlock()
	defer s.inflight.Done()

	for _, chunk := range out {
		select {
		case <-s.stopCh:
			return 0, io.EOF
		case s.chunks <- chunk:
		}
	}
	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
