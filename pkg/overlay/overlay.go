// Package overlay keeps the peer cursors to draw over the local view of the
// shared screen. It only holds state; rendering is up to the caller.
package overlay

import (
	"sort"
	"sync"
	"time"

	"github.com/tomaslejdung/peeplink/pkg/cursor"
)

const (
	// DefaultStaleAfter hides a cursor that stopped moving.
	DefaultStaleAfter = 10 * time.Second
	// DefaultPingFor is how long a ping highlight lasts.
	DefaultPingFor = 3 * time.Second
)

// Marker is one peer cursor as it should be drawn.
type Marker struct {
	cursor.RemoteCursorState
	UpdatedAt time.Time
	Pinged    bool
}

type entry struct {
	state    cursor.RemoteCursorState
	updated  time.Time
	pingedAt time.Time
}

// Overlay tracks remote cursors. It is safe for concurrent use.
type Overlay struct {
	staleAfter time.Duration
	pingFor    time.Duration
	now        func() time.Time

	mu      sync.Mutex
	enabled bool
	cursors map[string]*entry
}

// Option configures an Overlay.
type Option func(*Overlay)

// WithTimeouts sets how long cursors and ping highlights stay visible.
func WithTimeouts(staleAfter, pingFor time.Duration) Option {
	return func(o *Overlay) {
		o.staleAfter, o.pingFor = staleAfter, pingFor
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Overlay) { o.now = now }
}

// New creates an enabled overlay.
func New(opts ...Option) *Overlay {
	o := &Overlay{
		staleAfter: DefaultStaleAfter,
		pingFor:    DefaultPingFor,
		now:        time.Now,
		enabled:    true,
		cursors:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Update records a cursor position. Invalid states are ignored.
func (o *Overlay) Update(st cursor.RemoteCursorState) {
	if st.Validate() != nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.enabled {
		return
	}
	e, ok := o.cursors[st.ID]
	if !ok {
		e = &entry{}
		o.cursors[st.ID] = e
	}
	e.state = st
	e.updated = o.now()
}

// Ping highlights the cursor with id, if it is known.
func (o *Overlay) Ping(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.enabled {
		return
	}
	if e, ok := o.cursors[id]; ok {
		e.pingedAt = o.now()
	}
}

// SetEnabled shows or hides the overlay. Disabling forgets every cursor.
func (o *Overlay) SetEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enabled = enabled
	if !enabled {
		o.cursors = make(map[string]*entry)
	}
}

// IsEnabled returns whether the overlay is currently enabled.
func (o *Overlay) IsEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled
}

// Clear forgets every cursor, e.g. when the session ends.
func (o *Overlay) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cursors = make(map[string]*entry)
}

// Markers returns the visible cursors ordered by id. Stale ones are
// dropped.
func (o *Overlay) Markers() []Marker {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	out := make([]Marker, 0, len(o.cursors))
	for id, e := range o.cursors {
		if now.Sub(e.updated) > o.staleAfter {
			delete(o.cursors, id)
			continue
		}
		out = append(out, Marker{
			RemoteCursorState: e.state,
			UpdatedAt:         e.updated,
			Pinged:            !e.pingedAt.IsZero() && now.Sub(e.pingedAt) <= o.pingFor,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cell maps a marker onto a cols x rows grid.
func (m Marker) Cell(cols, rows int) (col, row int) {
	if cols <= 0 || rows <= 0 {
		return 0, 0
	}
	col = int(m.X * float64(cols-1))
	row = int(m.Y * float64(rows-1))
	return col, row
}
