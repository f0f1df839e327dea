// Package peer wraps a single pion PeerConnection for one-shot signaling:
// every SDP it hands out already carries all gathered ICE candidates.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/cursor"
	"github.com/tomaslejdung/peeplink/pkg/media"
)

// DefaultGatherTimeout bounds the ICE gathering wait.
const DefaultGatherTimeout = 5 * time.Second

var (
	ErrNotInitialized      = errors.New("peer connection not initialized")
	ErrIceGatheringTimeout = errors.New("ice gathering timed out with no candidates")
	ErrConnectionClosed    = errors.New("peer connection closed during negotiation")
)

// Config configures a Service.
type Config struct {
	ICE           ICEConfig
	GatherTimeout time.Duration
	// API overrides the default pion API (media engine, setting engine).
	API    *webrtc.API
	Logger *zap.Logger
}

// DataChannels receives the data channels of the connection.
type DataChannels interface {
	CreateChannels(pc cursor.Creator) error
	HandleIncomingChannel(ch cursor.Channel)
	Cleanup()
}

// Handlers are optional callbacks. SetHandlers merges non-nil fields.
type Handlers struct {
	OnTrack                    func(stream *media.RemoteStream)
	OnICEConnectionStateChange func(state webrtc.ICEConnectionState)
}

// Service owns at most one peer connection at a time.
type Service struct {
	cfg      Config
	channels DataChannels
	log      *zap.Logger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	gather   *gatherWait
	handlers Handlers
}

// NewService creates a service; channels may be nil.
func NewService(cfg Config, channels DataChannels) *Service {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.L().Named("peer")
	}
	return &Service{cfg: cfg, channels: channels, log: log}
}

// SetHandlers merges h into the registered callbacks.
func (s *Service) SetHandlers(h Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.OnTrack != nil {
		s.handlers.OnTrack = h.OnTrack
	}
	if h.OnICEConnectionStateChange != nil {
		s.handlers.OnICEConnectionStateChange = h.OnICEConnectionStateChange
	}
}

func (s *Service) handlersSnapshot() Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

// Initialize creates a fresh connection, closing any previous one.
func (s *Service) Initialize() error {
	s.closeConnection()

	config := s.cfg.ICE.Configuration()
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if s.cfg.API != nil {
		pc, err = s.cfg.API.NewPeerConnection(config)
	} else {
		pc, err = webrtc.NewPeerConnection(config)
	}
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	gw := newGatherWait()
	s.install(pc, gw)

	s.mu.Lock()
	s.pc, s.gather = pc, gw
	s.mu.Unlock()

	s.log.Debug("peer connection created", zap.Int("iceServers", len(config.ICEServers)))
	return nil
}

func (s *Service) install(pc *webrtc.PeerConnection, gw *gatherWait) {
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.log.Debug("incoming data channel", zap.String("label", dc.Label()))
		if s.channels != nil {
			s.channels.HandleIncomingChannel(dc)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		id := track.StreamID()
		if id == "" {
			// no msid, e.g. mid-renegotiation
			id = "remote-" + uuid.NewString()
		}
		s.log.Info("remote track", zap.String("stream", id), zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))
		if h := s.handlersSnapshot().OnTrack; h != nil {
			h(&media.RemoteStream{ID: id, Track: track, Receiver: receiver})
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			s.log.Debug("ice gathering complete", zap.Int32("candidates", gw.candidates.Load()))
			gw.complete()
			return
		}
		gw.candidate()
		s.log.Debug("ice candidate", zap.String("candidate", c.String()))
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		s.log.Info("ice connection state", zap.String("state", state.String()))
		if h := s.handlersSnapshot().OnICEConnectionStateChange; h != nil {
			h(state)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("connection state", zap.String("state", state.String()))
	})
}

func detach(pc *webrtc.PeerConnection) {
	pc.OnDataChannel(func(*webrtc.DataChannel) {})
	pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
	pc.OnICECandidate(func(*webrtc.ICECandidate) {})
	pc.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	pc.OnConnectionStateChange(func(webrtc.PeerConnectionState) {})
}

func (s *Service) current() (*webrtc.PeerConnection, *gatherWait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pc == nil {
		return nil, nil, ErrNotInitialized
	}
	return s.pc, s.gather, nil
}

// CreateOffer creates the offer and waits for ICE gathering so the returned
// description is complete.
func (s *Service) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	pc, gw, err := s.current()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return s.gathered(ctx, pc, gw)
}

// CreateAnswer applies offer and returns a complete answer.
func (s *Service) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, gw, err := s.current()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return s.gathered(ctx, pc, gw)
}

func (s *Service) gathered(ctx context.Context, pc *webrtc.PeerConnection, gw *gatherWait) (webrtc.SessionDescription, error) {
	if pc.ICEGatheringState() != webrtc.ICEGatheringStateComplete {
		if err := gw.wait(ctx, s.cfg.GatherTimeout, webrtc.GatheringCompletePromise(pc)); err != nil {
			return webrtc.SessionDescription{}, err
		}
	}

	s.mu.Lock()
	replaced := s.pc != pc
	s.mu.Unlock()
	if replaced {
		return webrtc.SessionDescription{}, ErrConnectionClosed
	}
	desc := pc.LocalDescription()
	if desc == nil {
		return webrtc.SessionDescription{}, ErrConnectionClosed
	}
	if gw.candidates.Load() == 0 {
		s.log.Warn("local description has no ice candidates")
	}
	return *desc, nil
}

// AcceptAnswer applies the remote answer. The answer already embeds its
// candidates, so there is nothing to wait for.
func (s *Service) AcceptAnswer(answer webrtc.SessionDescription) error {
	pc, _, err := s.current()
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddTrack adds a local track to the connection.
func (s *Service) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	pc, _, err := s.current()
	if err != nil {
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add track %s: %w", track.ID(), err)
	}
	return sender, nil
}

// RemoveTrack stops sending on sender.
func (s *Service) RemoveTrack(sender *webrtc.RTPSender) error {
	pc, _, err := s.current()
	if err != nil {
		return err
	}
	return pc.RemoveTrack(sender)
}

// CreateDataChannels creates the channel pair. It must precede CreateOffer.
func (s *Service) CreateDataChannels() error {
	pc, _, err := s.current()
	if err != nil {
		return err
	}
	if s.channels == nil {
		return nil
	}
	return s.channels.CreateChannels(pc)
}

// ICEConnectionState reports the current ICE state, or new when there is no
// connection.
func (s *Service) ICEConnectionState() webrtc.ICEConnectionState {
	pc, _, err := s.current()
	if err != nil {
		return webrtc.ICEConnectionStateNew
	}
	return pc.ICEConnectionState()
}

// ConnectionState reports the aggregate connection state.
func (s *Service) ConnectionState() webrtc.PeerConnectionState {
	pc, _, err := s.current()
	if err != nil {
		return webrtc.PeerConnectionStateNew
	}
	return pc.ConnectionState()
}

// ConnectionType inspects the selected candidate pair.
func (s *Service) ConnectionType() ConnectionType {
	pc, _, err := s.current()
	if err != nil {
		return ConnectionUnknown
	}
	return connectionType(pc)
}

func (s *Service) closeConnection() {
	s.mu.Lock()
	pc, gw := s.pc, s.gather
	s.pc, s.gather = nil, nil
	s.mu.Unlock()

	if gw != nil {
		gw.cancel()
	}
	if pc == nil {
		return
	}
	detach(pc)
	if err := pc.Close(); err != nil {
		s.log.Warn("failed to close peer connection", zap.Error(err))
	}
}

// Close detaches handlers, closes the connection, cancels any gathering wait
// and cleans up the data channels. Safe to call repeatedly.
func (s *Service) Close() {
	s.closeConnection()
	if s.channels != nil {
		s.channels.Cleanup()
	}
}
