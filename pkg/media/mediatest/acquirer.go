// Package mediatest provides an in-memory media.Acquirer for tests.
package mediatest

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/tomaslejdung/peeplink/pkg/media"
)

// Acquirer hands out static sample tracks and remembers them.
type Acquirer struct {
	DenyAudio   bool
	DenyDisplay bool

	mu      sync.Mutex
	audio   []*media.BaseTrack
	display []*media.BaseTrack
}

func (a *Acquirer) UserAudio(ctx context.Context) (*media.Stream, error) {
	if a.DenyAudio {
		return nil, media.ErrAcquisition
	}
	tr, err := newTrack(webrtc.MimeTypeOpus, "mic")
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.audio = append(a.audio, tr)
	a.mu.Unlock()
	return media.NewStream("mic", tr), nil
}

func (a *Acquirer) DisplayMedia(ctx context.Context) (*media.Stream, error) {
	if a.DenyDisplay {
		return nil, media.ErrAcquisition
	}
	tr, err := newTrack(webrtc.MimeTypeVP8, "screen")
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.display = append(a.display, tr)
	a.mu.Unlock()
	return media.NewStream("screen", tr), nil
}

// AudioTracks returns every microphone track handed out so far.
func (a *Acquirer) AudioTracks() []*media.BaseTrack {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*media.BaseTrack(nil), a.audio...)
}

// DisplayTracks returns every display track handed out so far.
func (a *Acquirer) DisplayTracks() []*media.BaseTrack {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*media.BaseTrack(nil), a.display...)
}

func newTrack(mime, streamID string) (*media.BaseTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, streamID+"-track", streamID)
	if err != nil {
		return nil, err
	}
	return media.NewBaseTrack(local, nil), nil
}
