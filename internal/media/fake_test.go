package media

import (
	"context"
	"sync"
)

type fakeStream struct {
	chunks chan []byte
	once   sync.Once
	mu     sync.Mutex
	err    error
	stops  int
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte, 16)}
}

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.once.Do(func() { close(s.chunks) })
	return nil
}

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// lose simulates the device going away.
func (s *fakeStream) lose(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.chunks) })
}

func (s *fakeStream) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	opened  []*fakeStream
	openErr []error
}

func (d *fakeDevice) Open(context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.openErr) > 0 {
		err := d.openErr[0]
		d.openErr = d.openErr[1:]
		if err != nil {
			return nil, err
		}
	} else if d.err != nil {
		return nil, d.err
	}
	s := newFakeStream()
	d.opened = append(d.opened, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opened) == 0 {
		return nil
	}
	return d.opened[len(d.opened)-1]
}
