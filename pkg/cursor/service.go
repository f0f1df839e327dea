// Package cursor carries remote-cursor telemetry over a pair of WebRTC data
// channels: positions on one, liveness pings on the other.
package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/signal"
)

// Channel labels. Both are created by the offering peer before the offer.
const (
	LabelPosition = "cursor-position"
	LabelPing     = "cursor-ping"
)

// ErrTransportNotReady is reported when a send finds its channel absent or
// not open.
var ErrTransportNotReady = errors.New("data channel not ready")

// Channel is the subset of *webrtc.DataChannel the service uses.
type Channel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

// Creator creates negotiated data channels; *webrtc.PeerConnection
// satisfies it.
type Creator interface {
	CreateDataChannel(label string, options *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
}

// Handlers are optional callbacks. SetHandlers merges non-nil fields.
type Handlers struct {
	OnCursorUpdate func(state RemoteCursorState)
	OnCursorPing   func(id string)
	OnChannelOpen  func(label string)
	OnChannelClose func(label string)
}

func (h *Handlers) merge(o Handlers) {
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
}

// Service owns the channel pair of one session.
//
// Enabling cursors records intent only; each send checks channel readiness
// on its own. Incoming position messages are processed only by the sharer,
// pings by both roles, and both only while cursors are enabled.
type Service struct {
	role signal.Role
	log  *zap.Logger

	mu       sync.Mutex
	enabled  bool
	position Channel
	ping     Channel
	handlers Handlers
}

// NewService creates a service for role. log may be nil.
func NewService(role signal.Role, log *zap.Logger) *Service {
	if log == nil {
		log = zap.L().Named("cursor")
	}
	return &Service{role: role, log: log}
}

// SetHandlers merges h into the registered callbacks.
func (s *Service) SetHandlers(h Handlers) {
	s.mu.Lock()
	s.handlers.merge(h)
	s.mu.Unlock()
}

// CreateChannels creates both channels on the offering side.
func (s *Service) CreateChannels(pc Creator) error {
	ordered := true
	for _, label := range []string{LabelPosition, LabelPing} {
		dc, err := pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return fmt.Errorf("failed to create %s channel: %w", label, err)
		}
		s.attach(dc)
	}
	return nil
}

// HandleIncomingChannel adopts a channel announced by the remote peer.
// Unknown labels are ignored.
func (s *Service) HandleIncomingChannel(ch Channel) {
	switch ch.Label() {
	case LabelPosition, LabelPing:
		s.attach(ch)
	default:
		s.log.Debug("ignoring data channel", zap.String("label", ch.Label()))
	}
}

func (s *Service) slot(label string) *Channel {
	if label == LabelPosition {
		return &s.position
	}
	return &s.ping
}

func (s *Service) attach(ch Channel) {
	label := ch.Label()

	s.mu.Lock()
	slot := s.slot(label)
	prev := *slot
	*slot = ch
	s.mu.Unlock()

	if prev != nil && prev != ch {
		detach(prev)
		prev.Close()
	}

	ch.OnOpen(func() {
		s.log.Debug("channel open", zap.String("label", label))
		if h := s.handlersSnapshot().OnChannelOpen; h != nil {
			h(label)
		}
	})
	ch.OnClose(func() {
		s.mu.Lock()
		if slot := s.slot(label); *slot == ch {
			*slot = nil
		}
		s.mu.Unlock()

		s.log.Debug("channel closed", zap.String("label", label))
		if h := s.handlersSnapshot().OnChannelClose; h != nil {
			h(label)
		}
	})
	ch.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.handleMessage(label, msg.Data)
	})
}

func detach(ch Channel) {
	ch.OnOpen(func() {})
	ch.OnClose(func() {})
	ch.OnMessage(func(webrtc.DataChannelMessage) {})
}

func (s *Service) handlersSnapshot() Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

func (s *Service) handleMessage(label string, data []byte) {
	s.mu.Lock()
	enabled := s.enabled
	h := s.handlers
	s.mu.Unlock()
	if !enabled {
		return
	}

	switch label {
	case LabelPosition:
		if s.role != signal.RoleScreenSharer {
			return
		}
		var state RemoteCursorState
		if err := json.Unmarshal(data, &state); err != nil {
			s.log.Debug("dropping malformed cursor message", zap.Error(err))
			return
		}
		if err := state.Validate(); err != nil {
			s.log.Debug("dropping invalid cursor message", zap.Error(err))
			return
		}
		if h.OnCursorUpdate != nil {
			h.OnCursorUpdate(state)
		}
	case LabelPing:
		id := strings.TrimSpace(string(data))
		if id == "" {
			return
		}
		if h.OnCursorPing != nil {
			h.OnCursorPing(id)
		}
	}
}

// ToggleCursors sets the gate for sending and processing and returns it.
func (s *Service) ToggleCursors(enabled bool) bool {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
	return enabled
}

// CursorsEnabled reports the gate.
func (s *Service) CursorsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// IsChannelOpen reports whether the channel with label is open.
func (s *Service) IsChannelOpen(label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := *s.slot(label)
	return ch != nil && ch.ReadyState() == webrtc.DataChannelStateOpen
}

// SendCursorUpdate sends a position. It returns false instead of failing.
func (s *Service) SendCursorUpdate(state RemoteCursorState) bool {
	if err := state.Validate(); err != nil {
		s.log.Debug("refusing to send cursor state", zap.Error(err))
		return false
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return false
	}
	return s.send(LabelPosition, string(payload))
}

// SendCursorPing sends a liveness ping carrying id.
func (s *Service) SendCursorPing(id string) bool {
	if id == "" {
		return false
	}
	return s.send(LabelPing, id)
}

func (s *Service) send(label, text string) bool {
	s.mu.Lock()
	enabled := s.enabled
	ch := *s.slot(label)
	s.mu.Unlock()

	if !enabled {
		return false
	}
	if ch == nil || ch.ReadyState() != webrtc.DataChannelStateOpen {
		s.log.Debug("send skipped", zap.String("label", label), zap.Error(ErrTransportNotReady))
		return false
	}
	if err := ch.SendText(text); err != nil {
		s.log.Debug("send failed", zap.String("label", label), zap.Error(err))
		return false
	}
	return true
}

// Cleanup closes both channels and forgets every callback.
func (s *Service) Cleanup() {
	s.mu.Lock()
	channels := []Channel{s.position, s.ping}
	s.position, s.ping = nil, nil
	s.enabled = false
	s.handlers = Handlers{}
	s.mu.Unlock()

	for _, ch := range channels {
		if ch == nil {
			continue
		}
		detach(ch)
		if err := ch.Close(); err != nil {
			s.log.Debug("failed to close channel", zap.String("label", ch.Label()), zap.Error(err))
		}
	}
}
