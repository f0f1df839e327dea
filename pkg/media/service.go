package media

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Service holds at most one live audio stream and one live display stream.
type Service struct {
	acquirer Acquirer
	log      *zap.Logger

	mu             sync.Mutex
	audio          *Stream
	display        *Stream
	onDisplayEnded func()
}

// NewService creates a media service. log may be nil.
func NewService(acquirer Acquirer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L().Named("media")
	}
	return &Service{acquirer: acquirer, log: log}
}

// SetDisplayEndedHandler sets the callback for the OS-level end of capture.
func (s *Service) SetDisplayEndedHandler(f func()) {
	s.mu.Lock()
	s.onDisplayEnded = f
	s.mu.Unlock()
}

// GetUserAudio replaces the current microphone stream. It returns nil if the
// microphone could not be acquired; the previous stream is gone either way.
func (s *Service) GetUserAudio(ctx context.Context) *Stream {
	s.mu.Lock()
	prev := s.audio
	s.audio = nil
	s.mu.Unlock()
	stopStream(prev, s.log)

	stream, err := s.acquirer.UserAudio(ctx)
	if err != nil || stream == nil {
		s.log.Warn("microphone unavailable", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.audio = stream
	s.mu.Unlock()
	s.log.Info("microphone acquired", zap.String("stream", stream.ID()), zap.Int("tracks", len(stream.Tracks())))
	return stream
}

// GetDisplayMedia replaces the current display capture stream and watches
// its video tracks for the end-of-capture signal.
func (s *Service) GetDisplayMedia(ctx context.Context) *Stream {
	s.mu.Lock()
	prev := s.display
	s.display = nil
	s.mu.Unlock()
	stopStream(prev, s.log)

	stream, err := s.acquirer.DisplayMedia(ctx)
	if err != nil || stream == nil {
		s.log.Warn("display capture unavailable", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.display = stream
	s.mu.Unlock()

	for _, t := range stream.TracksOfKind(webrtc.RTPCodecTypeVideo) {
		t.OnEnded(func() { s.displayEnded(stream) })
	}
	s.log.Info("display capture acquired", zap.String("stream", stream.ID()), zap.Int("tracks", len(stream.Tracks())))
	return stream
}

// displayEnded only reports for the stream that is still current, so a
// replaced or cleaned up stream cannot fire late.
func (s *Service) displayEnded(stream *Stream) {
	s.mu.Lock()
	if s.display != stream {
		s.mu.Unlock()
		return
	}
	handler := s.onDisplayEnded
	s.mu.Unlock()

	s.log.Info("display capture ended by the system", zap.String("stream", stream.ID()))
	if handler != nil {
		handler()
	}
}

// AudioStream returns the current microphone stream or nil.
func (s *Service) AudioStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// DisplayStream returns the current display stream or nil.
func (s *Service) DisplayStream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.display
}

// ToggleAudioTrack enables or disables every microphone track.
func (s *Service) ToggleAudioTrack(enabled bool) {
	s.mu.Lock()
	stream := s.audio
	s.mu.Unlock()
	setEnabled(stream, enabled)
}

// ToggleVideoTrack enables or disables every display track.
func (s *Service) ToggleVideoTrack(enabled bool) {
	s.mu.Lock()
	stream := s.display
	s.mu.Unlock()
	setEnabled(stream, enabled)
}

// IsAudioEnabled reports whether a microphone stream exists with at least
// one enabled track.
func (s *Service) IsAudioEnabled() bool {
	s.mu.Lock()
	stream := s.audio
	s.mu.Unlock()
	if stream == nil {
		return false
	}
	for _, t := range stream.Tracks() {
		if t.Enabled() {
			return true
		}
	}
	return false
}

// StopAllTracks stops both streams and drops the references.
func (s *Service) StopAllTracks() {
	s.mu.Lock()
	audio, display := s.audio, s.display
	s.audio, s.display = nil, nil
	s.mu.Unlock()

	stopStream(audio, s.log)
	stopStream(display, s.log)
}

// Cleanup stops everything and detaches the display-ended handler. Safe to
// call when nothing was acquired.
func (s *Service) Cleanup() {
	s.StopAllTracks()
	s.mu.Lock()
	s.onDisplayEnded = nil
	s.mu.Unlock()
}

func setEnabled(stream *Stream, enabled bool) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		t.SetEnabled(enabled)
	}
}

func stopStream(stream *Stream, log *zap.Logger) {
	if stream == nil {
		return
	}
	for _, t := range stream.Tracks() {
		if err := t.Stop(); err != nil {
			log.Warn("failed to stop track", zap.String("track", t.ID()), zap.Error(err))
		}
	}
}
