// Package feed exposes a session's events to local clients over a
// websocket and accepts cursor input from them.
package feed

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/connection"
	"github.com/tomaslejdung/peeplink/pkg/cursor"
	"github.com/tomaslejdung/peeplink/pkg/media"
)

// Hub fans manager events out to every connected client.
type Hub struct {
	mgr      *connection.Manager
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	lastURL string
	closed  bool
}

// NewHub creates a hub and subscribes it to mgr. log may be nil.
func NewHub(mgr *connection.Manager, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.L().Named("feed")
	}
	h := &Hub{
		mgr:     mgr,
		log:     log,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	h.Subscribe()
	return h
}

// Subscribe (re)installs the manager callbacks, e.g. after a Reset.
func (h *Hub) Subscribe() {
	h.mgr.SetHandlers(h.Handlers())
}

// Handlers returns the callbacks feeding the hub, for callers combining
// them with their own through connection.Tee.
func (h *Hub) Handlers() connection.Handlers {
	return connection.Handlers{
		OnPhaseChange: func(p connection.Phase) {
			h.Broadcast(Event{Type: EventPhase, Phase: p.String()})
		},
		OnURLGenerated: func(url string) {
			h.mu.Lock()
			h.lastURL = url
			h.mu.Unlock()
			h.Broadcast(Event{Type: EventURL, URL: url})
		},
		OnICEStateChange: func(s webrtc.ICEConnectionState) {
			h.Broadcast(Event{Type: EventICE, State: s.String()})
		},
		OnError: func(err error) {
			h.Broadcast(Event{Type: EventError, Error: err.Error()})
		},
		OnRemoteStream: func(s *media.RemoteStream) {
			h.Broadcast(Event{Type: EventRemoteStream, ID: s.ID, Kind: s.Kind().String()})
		},
		OnCursorUpdate: func(st cursor.RemoteCursorState) {
			h.Broadcast(Event{Type: EventCursor, Cursor: &st})
		},
		OnCursorPing: func(id string) {
			h.Broadcast(Event{Type: EventPing, ID: id})
		},
		OnChannelOpen: func(label string) {
			h.Broadcast(Event{Type: EventChannelOpen, Label: label})
		},
		OnChannelClose: func(label string) {
			h.Broadcast(Event{Type: EventChannelClose, Label: label})
		},
	}
}

// Router returns the HTTP handler serving /ws and /state.
func (h *Hub) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.ServeWS)
	r.Get("/state", h.ServeState)

	return r
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	// a fresh client learns the current phase right away
	c.enqueue(Event{Type: EventPhase, Phase: h.mgr.Phase().String()})

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("client connected", zap.String("client", c.id))

	go c.writePump()
	go c.readPump()
}

// ServeState writes the current snapshot as JSON.
func (h *Hub) ServeState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.State()); err != nil {
		h.log.Debug("failed to write state", zap.Error(err))
	}
}

// State snapshots the session.
func (h *Hub) State() State {
	h.mu.RLock()
	st := State{URL: h.lastURL, Clients: len(h.clients)}
	h.mu.RUnlock()

	st.Phase = h.mgr.Phase().String()
	st.Role = h.mgr.Role().String()
	st.Username = h.mgr.Username()
	if s := h.mgr.Session(); s != nil && h.mgr.Phase() == connection.PhaseConnected {
		st.ConnectionType = string(s.ConnectionType())
	}
	return st
}

// Broadcast sends ev to every client. Slow clients drop events.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("failed to encode event", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.log.Debug("client too slow, dropping event", zap.String("client", c.id), zap.String("type", ev.Type))
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) handleCommand(c *client, cmd Command) {
	s := h.mgr.Session()
	if s == nil {
		return
	}
	switch cmd.Type {
	case "cursor":
		if !s.SendCursorUpdate(cmd.X, cmd.Y) {
			h.log.Debug("cursor update not sent", zap.String("client", c.id))
		}
	case "ping":
		s.SendCursorPing()
	default:
		h.log.Debug("unknown command", zap.String("type", cmd.Type))
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
		c.conn.Close()
	}
}
