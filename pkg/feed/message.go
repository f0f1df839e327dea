package feed

import "github.com/tomaslejdung/peeplink/pkg/cursor"

// Event types sent to clients.
const (
	EventPhase        = "phase"
	EventURL          = "url"
	EventICE          = "ice"
	EventError        = "error"
	EventCursor       = "cursor"
	EventPing         = "ping"
	EventChannelOpen  = "channel-open"
	EventChannelClose = "channel-close"
	EventRemoteStream = "remote-stream"
)

// Event is one JSON frame on /ws.
type Event struct {
	Type   string                    `json:"type"`
	Phase  string                    `json:"phase,omitempty"`
	URL    string                    `json:"url,omitempty"`
	State  string                    `json:"state,omitempty"`  // ice state
	Error  string                    `json:"error,omitempty"`  // error message
	ID     string                    `json:"id,omitempty"`     // cursor id of a ping
	Label  string                    `json:"label,omitempty"`  // data channel label
	Kind   string                    `json:"kind,omitempty"`   // remote track kind
	Cursor *cursor.RemoteCursorState `json:"cursor,omitempty"` // remote cursor position
}

// Command is one JSON frame received on /ws.
type Command struct {
	Type string  `json:"type"` // cursor, ping
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// State is the /state snapshot.
type State struct {
	Phase          string `json:"phase"`
	Role           string `json:"role"`
	Username       string `json:"username,omitempty"`
	URL            string `json:"url,omitempty"`
	ConnectionType string `json:"connectionType,omitempty"`
	Clients        int    `json:"clients"`
}
