// Package devices acquires microphone and display capture through
// pion/mediadevices and exposes them as media.Stream values.
package devices

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/media"

	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone adapter
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // registers the display capture adapter
)

// Config tunes capture.
type Config struct {
	FrameRate  float64
	SampleRate int
	BitRate    int // VP8 target, bits per second
	Logger     *zap.Logger
}

// DefaultConfig returns capture defaults for screen sharing.
func DefaultConfig() Config {
	return Config{
		FrameRate:  30,
		SampleRate: 48000,
		BitRate:    QualityPresets[defaultQuality].Bitrate * 1000,
	}
}

// Acquirer implements media.Acquirer on top of the mediadevices drivers.
type Acquirer struct {
	cfg      Config
	selector *mediadevices.CodecSelector
	log      *zap.Logger
}

// NewAcquirer builds the VP8/Opus codec selector used for every capture.
func NewAcquirer(cfg Config) (*Acquirer, error) {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultConfig().FrameRate
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	if cfg.BitRate <= 0 {
		cfg.BitRate = DefaultConfig().BitRate
	}
	log := cfg.Logger
	if log == nil {
		log = zap.L().Named("devices")
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = cfg.BitRate
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}

	return &Acquirer{
		cfg: cfg,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: log,
	}, nil
}

// API returns a webrtc API whose media engine matches the encoders of the
// captured tracks.
func (a *Acquirer) API() *webrtc.API {
	me := &webrtc.MediaEngine{}
	a.selector.Populate(me)
	return webrtc.NewAPI(webrtc.WithMediaEngine(me))
}

// UserAudio captures the default microphone.
func (a *Acquirer) UserAudio(ctx context.Context) (*media.Stream, error) {
	return a.acquire(ctx, "audio", func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
			Audio: func(c *mediadevices.MediaTrackConstraints) {
				c.SampleRate = prop.Int(a.cfg.SampleRate)
				c.ChannelCount = prop.Int(1)
			},
			Codec: a.selector,
		})
	})
}

// DisplayMedia captures the primary display.
func (a *Acquirer) DisplayMedia(ctx context.Context) (*media.Stream, error) {
	return a.acquire(ctx, "display", func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(c *mediadevices.MediaTrackConstraints) {
				c.FrameRate = prop.Float(a.cfg.FrameRate)
			},
			Codec: a.selector,
		})
	})
}

type result struct {
	stream mediadevices.MediaStream
	err    error
}

// acquire runs the blocking driver call and wraps its tracks. A stream that
// arrives after ctx is done is closed immediately.
func (a *Acquirer) acquire(ctx context.Context, kind string, get func() (mediadevices.MediaStream, error)) (*media.Stream, error) {
	ch := make(chan result, 1)
	go func() {
		s, err := get()
		ch <- result{s, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.err == nil && late.stream != nil {
				for _, t := range late.stream.GetTracks() {
					t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", media.ErrAcquisition, kind, res.err)
	}

	id := kind + "-" + uuid.NewString()
	var tracks []media.Track
	for _, mt := range res.stream.GetTracks() {
		t, err := wrapTrack(mt)
		if err != nil {
			a.log.Warn("skipping track", zap.String("stream", id), zap.Error(err))
			mt.Close()
			continue
		}
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: %s: no usable tracks", media.ErrAcquisition, kind)
	}
	a.log.Debug("captured stream", zap.String("stream", id), zap.Int("tracks", len(tracks)))
	return media.NewStream(id, tracks...), nil
}

// deviceTrack gates the encoder input: disabled audio becomes silence and
// disabled video becomes black frames, so the negotiated sender stays bound.
type deviceTrack struct {
	*media.BaseTrack
	gate *atomic.Bool
}

func (t *deviceTrack) SetEnabled(enabled bool) {
	t.gate.Store(enabled)
	t.BaseTrack.SetEnabled(enabled)
}

func wrapTrack(mt mediadevices.Track) (*deviceTrack, error) {
	local, ok := mt.(webrtc.TrackLocal)
	if !ok {
		return nil, fmt.Errorf("track %s is not a webrtc local track", mt.ID())
	}

	gate := &atomic.Bool{}
	gate.Store(true)
	switch tt := mt.(type) {
	case *mediadevices.AudioTrack:
		tt.Transform(silenceWhenDisabled(gate))
	case *mediadevices.VideoTrack:
		tt.Transform(blackWhenDisabled(gate))
	}

	base := media.NewBaseTrack(local, mt.Close)
	mt.OnEnded(func(error) { base.End() })
	return &deviceTrack{BaseTrack: base, gate: gate}, nil
}
