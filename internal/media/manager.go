package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handle is the live camera and microphone pair. Consumers read from its
// tracks; only the Manager releases them.
type Handle struct {
	audio *Track
	video *Track
}

// HasAudio reports whether a microphone track is present.
func (h *Handle) HasAudio() bool { return h != nil && h.audio != nil }

// HasVideo reports whether a camera track is present.
func (h *Handle) HasVideo() bool { return h != nil && h.video != nil }

// IsActive reports whether every present track is still live.
func (h *Handle) IsActive() bool {
	if h == nil || (h.audio == nil && h.video == nil) {
		return false
	}
	if h.audio != nil && !h.audio.Live() {
		return false
	}
	if h.video != nil && !h.video.Live() {
		return false
	}
	return true
}

// Audio returns the microphone track, or nil.
func (h *Handle) Audio() *Track {
	if h == nil {
		return nil
	}
	return h.audio
}

// Video returns the camera track, or nil.
func (h *Handle) Video() *Track {
	if h == nil {
		return nil
	}
	return h.video
}

// Manager owns camera and microphone acquisition for one session.
type Manager struct {
	microphone Device
	camera     Device
	logger     zerolog.Logger

	mu     sync.Mutex
	handle *Handle
	losses chan Loss
}

// NewManager creates a manager. A nil camera yields audio-only handles.
func NewManager(microphone, camera Device, logger zerolog.Logger) *Manager {
	return &Manager{
		microphone: microphone,
		camera:     camera,
		logger:     logger.With().Str("component", "media").Logger(),
		losses:     make(chan Loss, 8),
	}
}

// Losses delivers tracks that ended without Release being called.
func (m *Manager) Losses() <-chan Loss {
	return m.losses
}

// Acquire opens the microphone and camera. If either fails, anything already
// opened is released and a *MediaAccessError is returned. An active handle is
// returned as is; an inactive one is replaced.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle.IsActive() {
		return m.handle, nil
	}
	m.releaseLocked()

	if m.microphone == nil {
		return nil, &MediaAccessError{Resource: ResourceMicrophone, Err: ErrDeviceUnavailable}
	}
	micStream, err := m.microphone.Open(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Microphone access failed")
		return nil, &MediaAccessError{Resource: ResourceMicrophone, Err: err}
	}

	handle := &Handle{}
	handle.audio = newTrack(ResourceMicrophone, FormatPCM, micStream, m.trackEnded)

	if m.camera != nil {
		video, err := m.openCameraLocked(ctx)
		if err != nil {
			handle.audio.stop()
			return nil, err
		}
		handle.video = video
	}

	m.handle = handle
	m.logger.Info().
		Bool("audio", handle.HasAudio()).
		Bool("video", handle.HasVideo()).
		Msg("Media acquired")
	return handle, nil
}

// StopCamera stops the camera track on behalf of the user. No Loss is
// reported. The returned handle keeps the microphone track and replaces the
// current one; it is nil when nothing is held.
func (m *Manager) StopCamera() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handle == nil || m.handle.video == nil {
		return m.handle
	}
	m.handle.video.stop()
	m.handle = &Handle{audio: m.handle.audio}
	m.logger.Info().Msg("Camera stopped")
	return m.handle
}

// StartCamera reopens the camera next to the current microphone track.
// It returns ErrNotAcquired when no live handle is held, and the current
// handle unchanged when the camera is already live or not configured.
func (m *Manager) StartCamera(ctx context.Context) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.handle.IsActive() {
		return nil, ErrNotAcquired
	}
	if m.handle.video != nil || m.camera == nil {
		return m.handle, nil
	}
	video, err := m.openCameraLocked(ctx)
	if err != nil {
		return nil, err
	}
	m.handle = &Handle{audio: m.handle.audio, video: video}
	m.logger.Info().Msg("Camera started")
	return m.handle, nil
}

func (m *Manager) openCameraLocked(ctx context.Context) (*Track, error) {
	stream, err := m.camera.Open(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Camera access failed")
		return nil, &MediaAccessError{Resource: ResourceCamera, Err: err}
	}
	return newTrack(ResourceCamera, FormatWebM, stream, m.trackEnded), nil
}

// Release stops every track. It is safe to call any number of times.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

// Handle returns the current handle, which may be nil or inactive.
func (m *Manager) Handle() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

func (m *Manager) releaseLocked() {
	if m.handle == nil {
		return
	}
	if m.handle.audio != nil {
		m.handle.audio.stop()
	}
	if m.handle.video != nil {
		m.handle.video.stop()
	}
	m.handle = nil
	m.logger.Info().Msg("Media released")
}

func (m *Manager) trackEnded(t *Track, err error) {
	m.logger.Warn().Err(err).Str("resource", string(t.Resource())).Msg("Media track lost")
	select {
	case m.losses <- Loss{Resource: t.Resource(), Err: err}:
	default:
	}
}
