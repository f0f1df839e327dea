// Package media holds the local capture streams of a session and the sinks
// that consume remote ones.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrAcquisition is returned when a device or permission refuses capture.
var ErrAcquisition = errors.New("media acquisition failed")

// Track is one local capture track.
type Track interface {
	ID() string
	Kind() webrtc.RTPCodecType
	// Local is what gets added to the peer connection.
	Local() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	// OnEnded registers a callback for the source going away (e.g. the OS
	// "stop sharing" control).
	OnEnded(func())
	Stop() error
}

// Stream groups local tracks captured together.
type Stream struct {
	id     string
	tracks []Track
}

// NewStream creates a stream from already acquired tracks.
func NewStream(id string, tracks ...Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

// ID returns the stream id.
func (s *Stream) ID() string { return s.id }

// Tracks returns all tracks of the stream.
func (s *Stream) Tracks() []Track { return s.tracks }

// TracksOfKind filters tracks by kind.
func (s *Stream) TracksOfKind(kind webrtc.RTPCodecType) []Track {
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Acquirer is the device-media acquisition primitive. Implementations may
// block on permission prompts; returning (nil, nil) means "nothing granted".
type Acquirer interface {
	UserAudio(ctx context.Context) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// BaseTrack implements the bookkeeping part of Track around a TrackLocal.
// Embedders only need to supply stopping of the underlying source.
type BaseTrack struct {
	local webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	ended   bool
	closed  bool
	onEnded []func()
	stop    func() error
}

// NewBaseTrack wraps local. stop may be nil.
func NewBaseTrack(local webrtc.TrackLocal, stop func() error) *BaseTrack {
	return &BaseTrack{local: local, enabled: true, stop: stop}
}

func (t *BaseTrack) ID() string                { return t.local.ID() }
func (t *BaseTrack) Kind() webrtc.RTPCodecType { return t.local.Kind() }
func (t *BaseTrack) Local() webrtc.TrackLocal  { return t.local }

func (t *BaseTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *BaseTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *BaseTrack) OnEnded(f func()) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, f)
	t.mu.Unlock()
}

// End fires the ended callbacks once, as if the source went away.
func (t *BaseTrack) End() {
	t.mu.Lock()
	if t.ended || t.closed {
		t.mu.Unlock()
		return
	}
	t.ended = true
	handlers := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, f := range handlers {
		f()
	}
}

func (t *BaseTrack) Stop() error {
	t.mu.Lock()
	already := t.closed
	t.closed = true
	t.onEnded = nil
	t.mu.Unlock()

	if already || t.stop == nil {
		return nil
	}
	return t.stop()
}

// Stopped reports whether Stop or End ran.
func (t *BaseTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended || t.closed
}
