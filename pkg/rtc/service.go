// Package rtc is the per-session facade that owns media capture, the peer
// connection and the cursor channels of one side of a session.
package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/cursor"
	"github.com/tomaslejdung/peeplink/pkg/media"
	"github.com/tomaslejdung/peeplink/pkg/peer"
	"github.com/tomaslejdung/peeplink/pkg/signal"
)

// ErrNotInitialized is returned by negotiation calls made before Initialize.
var ErrNotInitialized = peer.ErrNotInitialized

// ErrNoDisplay is returned when a sharer cannot capture the screen.
var ErrNoDisplay = fmt.Errorf("%w: display capture unavailable", media.ErrAcquisition)

// Config is the user and connection configuration of a session.
type Config struct {
	Username string
	// Identity defaults to a fresh identity named after Username.
	Identity    cursor.Identity
	CursorColor string

	// StartMuted disables the microphone tracks right after acquisition.
	StartMuted     bool
	CursorsEnabled bool

	ICE           peer.ICEConfig
	GatherTimeout time.Duration
	API           *webrtc.API

	Acquirer media.Acquirer
	// NewAudioSink creates the hidden sink for remote audio. Defaults to a
	// media.DrainSink.
	NewAudioSink func() media.Sink
	// VideoSink receives the remote screen; used by watchers only.
	VideoSink media.Sink

	Logger *zap.Logger
}

// Handlers are optional callbacks. SetHandlers merges non-nil fields.
type Handlers struct {
	OnRemoteStream             func(stream *media.RemoteStream)
	OnICEConnectionStateChange func(state webrtc.ICEConnectionState)
	OnCursorUpdate             func(state cursor.RemoteCursorState)
	OnCursorPing               func(id string)
	OnChannelOpen              func(label string)
	OnChannelClose             func(label string)
	OnDisplayEnded             func()
}

func (h *Handlers) merge(o Handlers) {
	if o.OnRemoteStream != nil {
		h.OnRemoteStream = o.OnRemoteStream
	}
	if o.OnICEConnectionStateChange != nil {
		h.OnICEConnectionStateChange = o.OnICEConnectionStateChange
	}
	if o.OnCursorUpdate != nil {
		h.OnCursorUpdate = o.OnCursorUpdate
	}
	if o.OnCursorPing != nil {
		h.OnCursorPing = o.OnCursorPing
	}
	if o.OnChannelOpen != nil {
		h.OnChannelOpen = o.OnChannelOpen
	}
	if o.OnChannelClose != nil {
		h.OnChannelClose = o.OnChannelClose
	}
	if o.OnDisplayEnded != nil {
		h.OnDisplayEnded = o.OnDisplayEnded
	}
}

// Service owns one media service, one peer connection and one channel pair.
type Service struct {
	role signal.Role
	cfg  Config
	log  *zap.Logger

	media   *media.Service
	peer    *peer.Service
	cursors *cursor.Service

	mu          sync.Mutex
	initialized bool
	audioSink   media.Sink
	videoSink   media.Sink
	handlers    Handlers
}

// New creates the facade for role.
func New(role signal.Role, cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = zap.L().Named("rtc")
	}
	log = log.With(zap.Stringer("role", role))
	if cfg.Identity.ID == "" {
		cfg.Identity = cursor.NewIdentity(cfg.Username, cfg.CursorColor)
	}
	if cfg.NewAudioSink == nil {
		cfg.NewAudioSink = func() media.Sink { return media.NewDrainSink(log.Named("audio")) }
	}

	cursors := cursor.NewService(role, log.Named("cursor"))
	s := &Service{
		role:    role,
		cfg:     cfg,
		log:     log,
		media:   media.NewService(cfg.Acquirer, log.Named("media")),
		cursors: cursors,
		peer: peer.NewService(peer.Config{
			ICE:           cfg.ICE,
			GatherTimeout: cfg.GatherTimeout,
			API:           cfg.API,
			Logger:        log.Named("peer"),
		}, cursors),
	}

	s.peer.SetHandlers(peer.Handlers{
		OnTrack: s.handleRemoteStream,
		OnICEConnectionStateChange: func(state webrtc.ICEConnectionState) {
			if h := s.handlersSnapshot().OnICEConnectionStateChange; h != nil {
				h(state)
			}
		},
	})
	return s
}

// SetHandlers merges h into the registered callbacks.
func (s *Service) SetHandlers(h Handlers) {
	s.mu.Lock()
	s.handlers.merge(h)
	s.mu.Unlock()
}

func (s *Service) handlersSnapshot() Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

// Initialize creates the connection, acquires media and adds local tracks.
// The microphone is optional; display capture is required for a sharer.
func (s *Service) Initialize(ctx context.Context) error {
	if s.cfg.Acquirer == nil {
		return fmt.Errorf("%w: no media acquirer configured", media.ErrAcquisition)
	}
	if err := s.peer.Initialize(); err != nil {
		return err
	}
	// Cleanup forgets channel callbacks, so they are installed per session.
	s.cursors.SetHandlers(cursor.Handlers{
		OnCursorUpdate: func(st cursor.RemoteCursorState) {
			if h := s.handlersSnapshot().OnCursorUpdate; h != nil {
				h(st)
			}
		},
		OnCursorPing: func(id string) {
			if h := s.handlersSnapshot().OnCursorPing; h != nil {
				h(id)
			}
		},
		OnChannelOpen: func(label string) {
			if h := s.handlersSnapshot().OnChannelOpen; h != nil {
				h(label)
			}
		},
		OnChannelClose: func(label string) {
			if h := s.handlersSnapshot().OnChannelClose; h != nil {
				h(label)
			}
		},
	})

	sink := s.cfg.NewAudioSink()
	s.mu.Lock()
	s.audioSink = sink
	if s.role == signal.RoleScreenWatcher {
		s.videoSink = s.cfg.VideoSink
	}
	s.mu.Unlock()

	if err := s.setup(ctx); err != nil {
		s.release()
		return err
	}

	s.cursors.ToggleCursors(s.cfg.CursorsEnabled)
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.log.Info("session initialized", zap.String("username", s.cfg.Username))
	return nil
}

func (s *Service) setup(ctx context.Context) error {
	s.media.SetDisplayEndedHandler(func() {
		if h := s.handlersSnapshot().OnDisplayEnded; h != nil {
			h()
		}
	})

	audio := s.media.GetUserAudio(ctx)
	if audio != nil && s.cfg.StartMuted {
		s.media.ToggleAudioTrack(false)
	}

	if s.role == signal.RoleScreenSharer {
		display := s.media.GetDisplayMedia(ctx)
		if display == nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrNoDisplay
		}
		if err := s.addTracks(display); err != nil {
			return err
		}
	}
	if err := s.addTracks(audio); err != nil {
		return err
	}

	if s.role == signal.RoleScreenSharer {
		if err := s.peer.CreateDataChannels(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) addTracks(stream *media.Stream) error {
	if stream == nil {
		return nil
	}
	for _, t := range stream.Tracks() {
		if _, err := s.peer.AddTrack(t.Local()); err != nil {
			return err
		}
	}
	return nil
}

// release drops everything Initialize may have created.
func (s *Service) release() {
	s.mu.Lock()
	sink := s.audioSink
	s.audioSink, s.videoSink = nil, nil
	s.initialized = false
	s.mu.Unlock()

	s.media.Cleanup()
	s.peer.Close()
	if sink != nil {
		if err := sink.Close(); err != nil {
			s.log.Warn("failed to close audio sink", zap.Error(err))
		}
	}
}

func (s *Service) handleRemoteStream(stream *media.RemoteStream) {
	s.mu.Lock()
	audio, video := s.audioSink, s.videoSink
	s.mu.Unlock()

	for _, sink := range sinksFor(stream.Kind(), audio, video) {
		err := sink.Attach(stream)
		if err == nil {
			break
		}
		s.log.Warn("failed to attach remote stream", zap.String("stream", stream.ID), zap.Error(err))
	}
	if h := s.handlersSnapshot().OnRemoteStream; h != nil {
		h(stream)
	}
}

func (s *Service) requireInitialized() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// CreateSharerOffer returns the complete offer of a sharer.
func (s *Service) CreateSharerOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := s.requireInitialized(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return s.peer.CreateOffer(ctx)
}

// CreateWatcherAnswer answers a sharer's offer.
func (s *Service) CreateWatcherAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := s.requireInitialized(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return s.peer.CreateAnswer(ctx, offer)
}

// AcceptAnswer applies a watcher's answer.
func (s *Service) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	return s.peer.AcceptAnswer(answer)
}

func (s *Service) Role() signal.Role         { return s.role }
func (s *Service) Username() string          { return s.cfg.Username }
func (s *Service) Identity() cursor.Identity { return s.cfg.Identity }

func (s *Service) ToggleAudio(enabled bool) { s.media.ToggleAudioTrack(enabled) }
func (s *Service) ToggleVideo(enabled bool) { s.media.ToggleVideoTrack(enabled) }
func (s *Service) IsAudioEnabled() bool     { return s.media.IsAudioEnabled() }

func (s *Service) ToggleCursors(enabled bool) bool { return s.cursors.ToggleCursors(enabled) }
func (s *Service) CursorsEnabled() bool            { return s.cursors.CursorsEnabled() }

// SendCursorUpdate sends the local cursor at (x, y).
func (s *Service) SendCursorUpdate(x, y float64) bool {
	return s.cursors.SendCursorUpdate(s.cfg.Identity.At(x, y))
}

// SendCursorPing announces the local cursor id.
func (s *Service) SendCursorPing() bool {
	return s.cursors.SendCursorPing(s.cfg.Identity.ID)
}

func (s *Service) ICEConnectionState() webrtc.ICEConnectionState { return s.peer.ICEConnectionState() }
func (s *Service) ConnectionType() peer.ConnectionType           { return s.peer.ConnectionType() }

// Disconnect tears down media, the connection and the sinks. The video sink
// is unbound but not closed; it belongs to the caller.
func (s *Service) Disconnect() {
	s.release()
	s.log.Debug("session disconnected")
}

// IsInitialized reports whether Initialize succeeded and Disconnect has not
// run since.
func (s *Service) IsInitialized() bool {
	return s.requireInitialized() == nil
}

// sinksFor lists the sinks to try for a remote track, in order. Audio goes to
// a recording video sink first so it lands in the same file; the audio sink
// stays as fallback since an unread track stalls its receive buffer.
func sinksFor(kind webrtc.RTPCodecType, audio, video media.Sink) []media.Sink {
	var out []media.Sink
	switch {
	case kind == webrtc.RTPCodecTypeVideo && video != nil:
		return []media.Sink{video}
	case kind == webrtc.RTPCodecTypeAudio && recordsAudio(video):
		out = append(out, video)
	}
	if audio != nil {
		out = append(out, audio)
	}
	return out
}

func recordsAudio(sink media.Sink) bool {
	r, ok := sink.(media.AudioRecorder)
	return ok && r.RecordsAudio()
}
