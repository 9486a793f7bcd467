package recording

import (
	"sync"
	"time"

	"github.com/lexiqai/interview-agent/internal/observability"
)

// Source is a live stream that can be read by independent subscribers.
type Source interface {
	Subscribe(buffer int) (<-chan []byte, func())
}

// Buffer is an append-only sequence of recorded chunks.
type Buffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

// Append adds a chunk to the end of the buffer.
func (b *Buffer) Append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
}

// Chunks returns the number of chunks recorded so far.
func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Bytes concatenates every chunk in recording order.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// Recorder copies a source into a buffer, cutting a chunk every interval.
type Recorder struct {
	name     string
	buf      *Buffer
	interval time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// StartRecorder subscribes to src and begins recording into buf.
func StartRecorder(name string, src Source, buf *Buffer, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = time.Second
	}
	r := &Recorder{
		name:     name,
		buf:      buf,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	ch, unsubscribe := src.Subscribe(256)
	go r.run(ch, unsubscribe)
	return r
}

// Stop flushes the partial chunk and waits for the recorder to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

// Active reports whether the recorder is still running.
func (r *Recorder) Active() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *Recorder) run(ch <-chan []byte, unsubscribe func()) {
	defer close(r.done)
	defer unsubscribe()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var current []byte
	flush := func() {
		if len(current) == 0 {
			return
		}
		r.buf.Append(current)
		observability.RecordRecordedBytes(r.name, len(current))
		current = nil
	}

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				flush()
				return
			}
			current = append(current, chunk...)
		case <-ticker.C:
			flush()
		case <-r.stop:
			// Take whatever the source already delivered.
			for {
				select {
				case chunk, ok := <-ch:
					if !ok {
						flush()
						return
					}
					current = append(current, chunk...)
				default:
					flush()
					return
				}
			}
		}
	}
}
