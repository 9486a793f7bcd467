package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-agent/internal/audio"
	"github.com/lexiqai/interview-agent/internal/media"
)

// Artifact file names and types.
const (
	VideoFileName = "interview-video.webm"
	VideoMIMEType = media.FormatWebM
	AudioFileName = "interview-audio.wav"
	AudioMIMEType = "audio/wav"
)

// ErrNoTracks is returned by Begin when the handle has nothing to record.
var ErrNoTracks = errors.New("media handle has no tracks")

// Artifact is a finished recording.
type Artifact struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Empty reports whether nothing was recorded.
func (a Artifact) Empty() bool {
	return len(a.Data) == 0
}

// Artifacts is the pair produced at the end of a session. Each time the
// camera is reopened its stream starts a fresh WebM file, so every camera
// segment after the first is kept as its own artifact in Segments.
type Artifacts struct {
	Video    Artifact
	Segments []Artifact
	Audio    Artifact
}

// AudioDuration reports how much microphone audio was recorded.
func (a Artifacts) AudioDuration() time.Duration {
	info, err := audio.ParseWAVHeader(a.Audio.Data)
	if err != nil {
		return 0
	}
	return info.Duration()
}

// SegmentFileName names the n-th camera segment, counting from 1.
func SegmentFileName(n int) string {
	if n <= 1 {
		return VideoFileName
	}
	return fmt.Sprintf("interview-video-%d.webm", n)
}

// Pipeline records the microphone alone and the camera stream (video with
// muxed audio) side by side.
type Pipeline struct {
	interval time.Duration
	logger   zerolog.Logger

	mu          sync.Mutex
	audio       *Recorder
	audioSource *media.Track
	video       *Recorder
	videoSource *media.Track

	audioBuf Buffer
	videoBuf []*Buffer
}

// NewPipeline creates a pipeline that cuts a chunk every interval.
func NewPipeline(interval time.Duration, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		interval: interval,
		logger:   logger.With().Str("component", "recording").Logger(),
	}
}

// Begin records from handle. It may be called again whenever the handle
// changes: a track already being recorded carries on, microphone audio from
// a new track is appended to the same buffer, and a new camera track starts
// a new video segment.
func (p *Pipeline) Begin(handle *media.Handle) error {
	if !handle.HasAudio() && !handle.HasVideo() {
		return ErrNoTracks
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if track := handle.Audio(); !p.recording(p.audio, p.audioSource, track) {
		p.stopAudioLocked()
		if track != nil {
			p.audio = StartRecorder("audio", track, &p.audioBuf, p.interval)
			p.audioSource = track
		}
	}
	if track := handle.Video(); !p.recording(p.video, p.videoSource, track) {
		p.stopVideoLocked()
		if track != nil {
			buf := &Buffer{}
			p.videoBuf = append(p.videoBuf, buf)
			p.video = StartRecorder("video", track, buf, p.interval)
			p.videoSource = track
		}
	}
	p.logger.Info().
		Bool("audio", p.audio != nil).
		Bool("video", p.video != nil).
		Int("video_segments", len(p.videoBuf)).
		Dur("chunk_interval", p.interval).
		Msg("Recording started")
	return nil
}

func (p *Pipeline) recording(r *Recorder, source, track *media.Track) bool {
	return r != nil && track != nil && source == track && r.Active()
}

// Active reports whether any recorder is running.
func (p *Pipeline) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.audio != nil && p.audio.Active()) || (p.video != nil && p.video.Active())
}

// Finalize stops both recorders and assembles the artifacts. Later calls
// return the same artifacts without side effects.
func (p *Pipeline) Finalize() Artifacts {
	p.mu.Lock()
	stoppedAudio := p.stopAudioLocked()
	stoppedVideo := p.stopVideoLocked()
	segments := append([]*Buffer(nil), p.videoBuf...)
	p.mu.Unlock()

	arts := Artifacts{
		Video: Artifact{Name: VideoFileName, MIMEType: VideoMIMEType},
		Audio: Artifact{Name: AudioFileName, MIMEType: AudioMIMEType},
	}
	n := 0
	for _, buf := range segments {
		data := buf.Bytes()
		if len(data) == 0 {
			continue
		}
		n++
		a := Artifact{Name: SegmentFileName(n), MIMEType: VideoMIMEType, Data: data}
		if n == 1 {
			arts.Video = a
		} else {
			arts.Segments = append(arts.Segments, a)
		}
	}
	if pcm := p.audioBuf.Bytes(); len(pcm) > 0 {
		arts.Audio.Data = audio.EncodeWAV(pcm, audio.SampleRate, audio.Channels)
	}

	if stoppedAudio || stoppedVideo {
		p.logger.Info().
			Int("video_bytes", len(arts.Video.Data)).
			Int("video_segments", n).
			Int("audio_bytes", len(arts.Audio.Data)).
			Dur("audio_duration", arts.AudioDuration()).
			Int("audio_chunks", p.audioBuf.Chunks()).
			Msg("Recording finalized")
	}
	return arts
}

func (p *Pipeline) stopAudioLocked() bool {
	if p.audio == nil {
		return false
	}
	p.audio.Stop()
	p.audio = nil
	p.audioSource = nil
	return true
}

func (p *Pipeline) stopVideoLocked() bool {
	if p.video == nil {
		return false
	}
	p.video.Stop()
	p.video = nil
	p.videoSource = nil
	return true
}
