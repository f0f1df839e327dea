// Package connection drives one local session attempt through its phases:
// it builds the rtc service, moves signaling URLs through the clipboard and
// projects ICE state onto the phase.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/clip"
	"github.com/tomaslejdung/peeplink/pkg/cursor"
	"github.com/tomaslejdung/peeplink/pkg/media"
	"github.com/tomaslejdung/peeplink/pkg/peer"
	"github.com/tomaslejdung/peeplink/pkg/rtc"
	"github.com/tomaslejdung/peeplink/pkg/signal"
)

var (
	// ErrOperationInProgress is returned, without any side effect, when an
	// entry point is called while another one runs.
	ErrOperationInProgress = errors.New("another connection operation is in progress")
	// ErrWrongRole is returned by answer acceptance outside a sharing session.
	ErrWrongRole = errors.New("operation not valid for the current role")
)

// Session is what the manager needs from an rtc.Service.
type Session interface {
	Initialize(ctx context.Context) error
	CreateSharerOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateWatcherAnswer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	SetHandlers(h rtc.Handlers)
	Disconnect()

	ToggleAudio(enabled bool)
	IsAudioEnabled() bool
	ToggleCursors(enabled bool) bool
	SendCursorUpdate(x, y float64) bool
	SendCursorPing() bool
	ConnectionType() peer.ConnectionType
}

// SessionFactory builds the session for a role.
type SessionFactory func(role signal.Role, cfg rtc.Config) Session

func newRTCSession(role signal.Role, cfg rtc.Config) Session { return rtc.New(role, cfg) }

// Handlers are optional callbacks. SetHandlers merges non-nil fields.
// Phase notifications are delivered in order under an internal lock, so
// OnPhaseChange must not call back into the manager synchronously.
type Handlers struct {
	OnPhaseChange    func(phase Phase)
	OnURLGenerated   func(url string)
	OnICEStateChange func(state webrtc.ICEConnectionState)
	OnError          func(err error)
	OnRemoteStream   func(stream *media.RemoteStream)
	OnCursorUpdate   func(state cursor.RemoteCursorState)
	OnCursorPing     func(id string)
	OnChannelOpen    func(label string)
	OnChannelClose   func(label string)
}

func (h *Handlers) merge(o Handlers) {
	if o.OnPhaseChange != nil {
		h.OnPhaseChange = o.OnPhaseChange
	}
	if o.OnURLGenerated != nil {
		h.OnURLGenerated = o.OnURLGenerated
	}
	if o.OnICEStateChange != nil {
		h.OnICEStateChange = o.OnICEStateChange
	}
	if o.OnError != nil {
		h.OnError = o.OnError
	}
	if o.OnRemoteStream != nil {
		h.OnRemoteStream = o.OnRemoteStream
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
}

// Tee returns handlers calling every non-nil callback of hs in order.
func Tee(hs ...Handlers) Handlers {
	var out Handlers
	for _, h := range hs {
		prev := out
		out = Handlers{
			OnPhaseChange:    chain1(prev.OnPhaseChange, h.OnPhaseChange),
			OnURLGenerated:   chain1(prev.OnURLGenerated, h.OnURLGenerated),
			OnICEStateChange: chain1(prev.OnICEStateChange, h.OnICEStateChange),
			OnError:          chain1(prev.OnError, h.OnError),
			OnRemoteStream:   chain1(prev.OnRemoteStream, h.OnRemoteStream),
			OnCursorUpdate:   chain1(prev.OnCursorUpdate, h.OnCursorUpdate),
			OnCursorPing:     chain1(prev.OnCursorPing, h.OnCursorPing),
			OnChannelOpen:    chain1(prev.OnChannelOpen, h.OnChannelOpen),
			OnChannelClose:   chain1(prev.OnChannelClose, h.OnChannelClose),
		}
	}
	return out
}

func chain1[T any](a, b func(T)) func(T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(v T) {
		a(v)
		b(v)
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSessionFactory replaces the rtc.Service constructor.
func WithSessionFactory(f SessionFactory) Option {
	return func(m *Manager) { m.newSession = f }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// Manager owns one session attempt at a time.
type Manager struct {
	clipboard  clip.Clipboard
	newSession SessionFactory
	log        *zap.Logger

	busy   atomic.Bool
	emitMu sync.Mutex

	mu       sync.Mutex
	phase    Phase
	role     signal.Role
	username string
	session  Session
	handlers Handlers
}

// NewManager creates an idle manager publishing URLs through clipboard.
func NewManager(clipboard clip.Clipboard, opts ...Option) *Manager {
	m := &Manager{clipboard: clipboard, newSession: newRTCSession}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = zap.L().Named("connection")
	}
	return m
}

// SetHandlers merges h into the registered callbacks.
func (m *Manager) SetHandlers(h Handlers) {
	m.mu.Lock()
	m.handlers.merge(h)
	m.mu.Unlock()
}

func (m *Manager) handlersSnapshot() Handlers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers
}

func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) Role() signal.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Manager) Username() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.username
}

// Session returns the live session, or nil.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Busy reports whether an entry point is running.
func (m *Manager) Busy() bool { return m.busy.Load() }

func (m *Manager) tryLock() bool { return m.busy.CompareAndSwap(false, true) }

func (m *Manager) unlock() { m.busy.Store(false) }

func (m *Manager) setPhase(p Phase) {
	m.setPhaseIf(p, nil)
}

// setPhaseIf moves to p when allowed accepts the current phase. Equal
// phases are never reported twice.
func (m *Manager) setPhaseIf(p Phase, allowed func(current Phase) bool) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	prev := m.phase
	if prev == p || (allowed != nil && !allowed(prev)) {
		m.mu.Unlock()
		return
	}
	m.phase = p
	h := m.handlers.OnPhaseChange
	m.mu.Unlock()

	m.log.Info("phase changed", zap.Stringer("from", prev), zap.Stringer("to", p))
	if h != nil {
		h(p)
	}
}

func (m *Manager) emitError(err error) {
	m.log.Error("session operation failed", zap.Error(err))
	if h := m.handlersSnapshot().OnError; h != nil {
		h(err)
	}
}

// fail reports err once and moves to ERROR. With teardown the partial
// session is disconnected first so nothing half-built stays reachable.
func (m *Manager) fail(err error, teardown bool) {
	if teardown {
		m.dropSession()
	}
	m.setPhase(PhaseError)
	m.emitError(err)
}

func (m *Manager) dropSession() {
	m.mu.Lock()
	svc := m.session
	m.session = nil
	m.mu.Unlock()
	if svc != nil {
		svc.Disconnect()
	}
}

func (m *Manager) begin(role signal.Role, username string) {
	m.dropSession()
	m.mu.Lock()
	m.role = role
	m.username = username
	m.mu.Unlock()
}

// handlersFor returns the callbacks if svc is still the live session.
// Events from a replaced session are dropped.
func (m *Manager) handlersFor(svc Session) (Handlers, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handlers, m.session == svc
}

// bind installs the event forwarding of svc and makes it current.
func (m *Manager) bind(svc Session) {
	svc.SetHandlers(rtc.Handlers{
		OnICEConnectionStateChange: func(state webrtc.ICEConnectionState) {
			m.handleICEState(svc, state)
		},
		OnRemoteStream: func(stream *media.RemoteStream) {
			if h, ok := m.handlersFor(svc); ok && h.OnRemoteStream != nil {
				h.OnRemoteStream(stream)
			}
		},
		OnCursorUpdate: func(st cursor.RemoteCursorState) {
			if h, ok := m.handlersFor(svc); ok && h.OnCursorUpdate != nil {
				h.OnCursorUpdate(st)
			}
		},
		OnCursorPing: func(id string) {
			if h, ok := m.handlersFor(svc); ok && h.OnCursorPing != nil {
				h.OnCursorPing(id)
			}
		},
		OnChannelOpen: func(label string) {
			if h, ok := m.handlersFor(svc); ok && h.OnChannelOpen != nil {
				h.OnChannelOpen(label)
			}
		},
		OnChannelClose: func(label string) {
			if h, ok := m.handlersFor(svc); ok && h.OnChannelClose != nil {
				h.OnChannelClose(label)
			}
		},
		OnDisplayEnded: func() {
			if _, ok := m.handlersFor(svc); !ok {
				return
			}
			m.log.Info("screen capture ended, disconnecting")
			// runs on the capture goroutine; teardown stops that same track
			go m.disconnect(svc)
		},
	})

	m.mu.Lock()
	m.session = svc
	m.mu.Unlock()
}

func (m *Manager) handleICEState(svc Session, state webrtc.ICEConnectionState) {
	h, ok := m.handlersFor(svc)
	if !ok {
		return
	}
	if h.OnICEStateChange != nil {
		h.OnICEStateChange(state)
	}

	switch state {
	case webrtc.ICEConnectionStateChecking:
		m.setPhase(PhaseConnecting)
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		m.setPhase(PhaseConnected)
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		m.setPhaseIf(PhaseDisconnected, func(current Phase) bool {
			return current == PhaseConnected || current == PhaseConnecting
		})
	}
}

func checkUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: username is required", signal.ErrInvalidInput)
	}
	return nil
}

// StartSharing captures the screen, creates the offer and publishes the
// share URL through the clipboard.
func (m *Manager) StartSharing(ctx context.Context, username string, cfg rtc.Config) (string, error) {
	if !m.tryLock() {
		return "", ErrOperationInProgress
	}
	defer m.unlock()

	m.begin(signal.RoleScreenSharer, username)
	m.setPhase(PhaseInitializing)

	url, err := m.startSharing(ctx, username, cfg)
	if err != nil {
		m.fail(err, true)
		return "", err
	}
	return url, nil
}

func (m *Manager) startSharing(ctx context.Context, username string, cfg rtc.Config) (string, error) {
	if err := checkUsername(username); err != nil {
		return "", err
	}

	cfg.Username = username
	svc := m.newSession(signal.RoleScreenSharer, cfg)
	m.bind(svc)

	if err := svc.Initialize(ctx); err != nil {
		return "", fmt.Errorf("failed to initialize sharer: %w", err)
	}
	offer, err := svc.CreateSharerOffer(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	url, err := signal.Encode(signal.RoleScreenSharer, username, offer)
	if err != nil {
		return "", err
	}
	if err := m.clipboard.Write(url); err != nil {
		return "", fmt.Errorf("failed to copy share url: %w", err)
	}

	m.setPhase(PhaseOfferCreated)
	if h := m.handlersSnapshot().OnURLGenerated; h != nil {
		h(url)
	}
	m.setPhase(PhaseWaitingForAnswer)
	return url, nil
}

// AcceptAnswerURL reads the watcher's answer URL from the clipboard and
// applies it. On failure the session stays up so the user can copy a better
// URL and retry.
func (m *Manager) AcceptAnswerURL(ctx context.Context) error {
	return m.acceptAnswer(ctx, func() (string, error) {
		raw, err := m.clipboard.Read()
		if err != nil {
			return "", fmt.Errorf("failed to read clipboard: %w", err)
		}
		return raw, nil
	})
}

// AcceptAnswer applies an answer URL obtained by other means.
func (m *Manager) AcceptAnswer(ctx context.Context, rawURL string) error {
	return m.acceptAnswer(ctx, func() (string, error) { return rawURL, nil })
}

func (m *Manager) acceptAnswer(ctx context.Context, read func() (string, error)) error {
	if !m.tryLock() {
		return ErrOperationInProgress
	}
	defer m.unlock()

	m.mu.Lock()
	role, svc := m.role, m.session
	m.mu.Unlock()
	if role != signal.RoleScreenSharer || svc == nil {
		err := fmt.Errorf("%w: accepting an answer needs a sharing session (role %s)", ErrWrongRole, role)
		m.emitError(err)
		return err
	}

	m.setPhase(PhaseConnecting)
	if err := m.applyAnswer(ctx, svc, read); err != nil {
		m.fail(err, false)
		return err
	}
	return nil
}

func (m *Manager) applyAnswer(ctx context.Context, svc Session, read func() (string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := read()
	if err != nil {
		return err
	}
	payload, err := signal.DecodeStrict(raw)
	if err != nil {
		return err
	}
	if payload.Role != signal.RoleScreenWatcher {
		return fmt.Errorf("%w: expected a watch url, got %s", signal.ErrSignaling, payload.Role.Action())
	}
	m.log.Info("applying answer", zap.String("from", payload.Username))
	if err := svc.AcceptAnswer(payload.SDP); err != nil {
		return fmt.Errorf("failed to accept answer: %w", err)
	}
	return nil
}

// WaitForOffer polls the clipboard until it holds a share URL and returns
// it. The phase is WAITING_FOR_OFFER meanwhile.
func (m *Manager) WaitForOffer(ctx context.Context, opts ...clip.WaitOption) (string, error) {
	if !m.tryLock() {
		return "", ErrOperationInProgress
	}
	defer m.unlock()

	m.setPhase(PhaseWaitingForOffer)
	url, err := clip.WaitForURL(ctx, m.clipboard, signal.RoleScreenSharer, opts...)
	if err != nil {
		err = fmt.Errorf("stopped waiting for a share url: %w", err)
		m.fail(err, false)
		return "", err
	}
	return url, nil
}

// JoinSession reads the sharer's offer URL from the clipboard, answers it
// and publishes the watch URL through the clipboard.
func (m *Manager) JoinSession(ctx context.Context, username string, videoSink media.Sink, cfg rtc.Config) (string, error) {
	return m.join(ctx, username, videoSink, cfg, func() (string, error) {
		raw, err := m.clipboard.Read()
		if err != nil {
			return "", fmt.Errorf("failed to read clipboard: %w", err)
		}
		return raw, nil
	})
}

// JoinURL is JoinSession for an offer URL obtained by other means.
func (m *Manager) JoinURL(ctx context.Context, rawURL, username string, videoSink media.Sink, cfg rtc.Config) (string, error) {
	return m.join(ctx, username, videoSink, cfg, func() (string, error) { return rawURL, nil })
}

func (m *Manager) join(ctx context.Context, username string, videoSink media.Sink, cfg rtc.Config, read func() (string, error)) (string, error) {
	if !m.tryLock() {
		return "", ErrOperationInProgress
	}
	defer m.unlock()

	m.begin(signal.RoleScreenWatcher, username)
	m.setPhase(PhaseInitializing)

	url, err := m.joinSession(ctx, username, videoSink, cfg, read)
	if err != nil {
		m.fail(err, true)
		return "", err
	}
	return url, nil
}

func (m *Manager) joinSession(ctx context.Context, username string, videoSink media.Sink, cfg rtc.Config, read func() (string, error)) (string, error) {
	if err := checkUsername(username); err != nil {
		return "", err
	}
	raw, err := read()
	if err != nil {
		return "", err
	}
	payload, err := signal.DecodeStrict(raw)
	if err != nil {
		return "", err
	}
	if payload.Role != signal.RoleScreenSharer {
		return "", fmt.Errorf("%w: expected a share url, got %s", signal.ErrSignaling, payload.Role.Action())
	}
	m.log.Info("joining session", zap.String("sharer", payload.Username))

	cfg.Username = username
	cfg.VideoSink = videoSink
	svc := m.newSession(signal.RoleScreenWatcher, cfg)
	m.bind(svc)

	if err := svc.Initialize(ctx); err != nil {
		return "", fmt.Errorf("failed to initialize watcher: %w", err)
	}
	answer, err := svc.CreateWatcherAnswer(ctx, payload.SDP)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	url, err := signal.Encode(signal.RoleScreenWatcher, username, answer)
	if err != nil {
		return "", err
	}
	if err := m.clipboard.Write(url); err != nil {
		return "", fmt.Errorf("failed to copy watch url: %w", err)
	}

	// ICE checks start while candidates gather, so the phase may already be
	// past INITIALIZING and must not move back
	m.setPhaseIf(PhaseAnswerCreated, func(current Phase) bool { return current == PhaseInitializing })
	if h := m.handlersSnapshot().OnURLGenerated; h != nil {
		h(url)
	}
	return url, nil
}

// Disconnect tears down the session and clears role and username. Safe to
// call at any time, any number of times.
func (m *Manager) Disconnect() {
	m.disconnect(nil)
}

// disconnect tears down the current session. With a non-nil owner it only
// acts while owner is still the current session.
func (m *Manager) disconnect(owner Session) {
	m.mu.Lock()
	svc := m.session
	if owner != nil && svc != owner {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.role = signal.RoleNone
	m.username = ""
	m.mu.Unlock()

	if svc != nil {
		svc.Disconnect()
	}
	m.setPhase(PhaseDisconnected)
}

// Reset disconnects, returns to IDLE and forgets every callback. It also
// releases the session lock.
func (m *Manager) Reset() {
	m.Disconnect()
	m.setPhase(PhaseIdle)
	m.mu.Lock()
	m.handlers = Handlers{}
	m.mu.Unlock()
	m.busy.Store(false)
}
