package cursor

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// RemoteCursorState is the position message. X and Y are fractions of the
// rendered video area.
type RemoteCursorState struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color string  `json:"color"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Validate rejects states that must never go on the wire.
func (s RemoteCursorState) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("cursor state without id")
	}
	if !inUnit(s.X) || !inUnit(s.Y) {
		return fmt.Errorf("cursor position (%v, %v) out of range", s.X, s.Y)
	}
	return nil
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// Identity is the local participant as seen by the remote cursor overlay.
type Identity struct {
	ID    string
	Name  string
	Color string
}

// DefaultColor is used when no color was configured.
const DefaultColor = "#4ECDC4"

// NewIdentity generates a fresh id for name.
func NewIdentity(name, color string) Identity {
	if color == "" {
		color = DefaultColor
	}
	return Identity{ID: uuid.NewString(), Name: name, Color: color}
}

// At builds the position message for this identity.
func (i Identity) At(x, y float64) RemoteCursorState {
	return RemoteCursorState{ID: i.ID, Name: i.Name, Color: i.Color, X: x, Y: y}
}
