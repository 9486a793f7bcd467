package media

import (
	"context"
	"errors"
	"fmt"
)

// Resource identifies a capture device kind.
type Resource string

const (
	ResourceCamera     Resource = "camera"
	ResourceMicrophone Resource = "microphone"
)

// Device opens a capture stream. Implementations must return promptly when
// access is denied.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open device. Chunks is closed when the stream ends, either
// through Stop or because the device went away; Err reports the latter.
type Stream interface {
	Chunks() <-chan []byte
	Stop() error
	Err() error
}

var (
	// ErrDeviceUnavailable is returned when no device is configured for a resource.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrNotAcquired is returned by StartCamera when no live handle is held.
	ErrNotAcquired = errors.New("media not acquired")
)

// MediaAccessError reports that a device was denied or could not be opened.
type MediaAccessError struct {
	Resource Resource
	Err      error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("%s access failed: %v", e.Resource, e.Err)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Err
}

// Loss reports a track that ended while the handle was still in use.
type Loss struct {
	Resource Resource
	Err      error
}
