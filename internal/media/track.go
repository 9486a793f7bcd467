package media

import (
	"sync"
)

// Track formats.
const (
	FormatPCM  = "audio/L16;rate=16000;channels=1"
	FormatWebM = "video/webm;codecs=vp9,opus"
)

// Track is a live device stream shared by any number of readers. Readers
// subscribe for their own copy of each chunk; only the Manager can stop it.
type Track struct {
	resource Resource
	format   string
	stream   Stream

	mu       sync.Mutex
	subs     map[int]chan []byte
	nextID   int
	ended    bool
	stopping bool
	done     chan struct{}

	onEnd func(t *Track, err error)
}

func newTrack(resource Resource, format string, stream Stream, onEnd func(*Track, error)) *Track {
	t := &Track{
		resource: resource,
		format:   format,
		stream:   stream,
		subs:     make(map[int]chan []byte),
		done:     make(chan struct{}),
		onEnd:    onEnd,
	}
	go t.pump()
	return t
}

// Resource returns the device kind feeding the track.
func (t *Track) Resource() Resource { return t.resource }

// Format returns the MIME type of the chunks the track produces.
func (t *Track) Format() string { return t.format }

// Done is closed once the underlying device stream has ended.
func (t *Track) Done() <-chan struct{} { return t.done }

// Live reports whether the track still produces data.
func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.ended
}

// Subscribe registers a reader. The returned channel is closed when the track
// ends or the cancel func is called. A reader that falls more than buffer
// chunks behind loses chunks rather than stalling the device.
func (t *Track) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []byte, buffer)

	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
}

func (t *Track) pump() {
	for chunk := range t.stream.Chunks() {
		t.mu.Lock()
		for _, sub := range t.subs {
			select {
			case sub <- chunk:
			default:
			}
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.ended = true
	stopping := t.stopping
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub)
	}
	t.mu.Unlock()
	close(t.done)

	if !stopping && t.onEnd != nil {
		t.onEnd(t, t.stream.Err())
	}
}

// stop ends the device stream and waits for the pump to drain.
func (t *Track) stop() {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()

	_ = t.stream.Stop()
	<-t.done
}
