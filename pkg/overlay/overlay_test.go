package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/peeplink/pkg/cursor"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestOverlay() (*Overlay, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	return New(WithClock(c.now), WithTimeouts(time.Second, 500*time.Millisecond)), c
}

func state(id string, x, y float64) cursor.RemoteCursorState {
	return cursor.RemoteCursorState{ID: id, Name: id, Color: cursor.DefaultColor, X: x, Y: y}
}

func TestUpdateAndOrder(t *testing.T) {
	o, _ := newTestOverlay()
	o.Update(state("b", 0.5, 0.5))
	o.Update(state("a", 0.1, 0.2))
	o.Update(state("b", 0.6, 0.7))

	m := o.Markers()
	require.Len(t, m, 2)
	assert.Equal(t, "a", m[0].ID)
	assert.Equal(t, 0.6, m[1].X)
	assert.Equal(t, 0.7, m[1].Y)
}

func TestInvalidStatesIgnored(t *testing.T) {
	o, _ := newTestOverlay()
	o.Update(state("", 0.5, 0.5))
	o.Update(state("a", 1.5, 0.5))
	assert.Empty(t, o.Markers())
}

func TestStaleCursorsDropped(t *testing.T) {
	o, c := newTestOverlay()
	o.Update(state("a", 0.5, 0.5))
	c.advance(900 * time.Millisecond)
	assert.Len(t, o.Markers(), 1)
	c.advance(200 * time.Millisecond)
	assert.Empty(t, o.Markers())
}

func TestPingHighlightExpires(t *testing.T) {
	o, c := newTestOverlay()
	o.Ping("a") // unknown, ignored
	o.Update(state("a", 0.5, 0.5))
	o.Ping("a")

	require.Len(t, o.Markers(), 1)
	assert.True(t, o.Markers()[0].Pinged)

	c.advance(600 * time.Millisecond)
	assert.False(t, o.Markers()[0].Pinged)
}

func TestDisableForgetsCursors(t *testing.T) {
	o, _ := newTestOverlay()
	o.Update(state("a", 0.5, 0.5))
	o.SetEnabled(false)
	assert.False(t, o.IsEnabled())
	assert.Empty(t, o.Markers())

	o.Update(state("a", 0.5, 0.5))
	assert.Empty(t, o.Markers())

	o.SetEnabled(true)
	o.Update(state("a", 0.5, 0.5))
	assert.Len(t, o.Markers(), 1)
	o.Clear()
	assert.Empty(t, o.Markers())
}

func TestCell(t *testing.T) {
	m := Marker{RemoteCursorState: state("a", 1, 0.5)}
	col, row := m.Cell(21, 11)
	assert.Equal(t, 20, col)
	assert.Equal(t, 5, row)

	col, row = m.Cell(0, 0)
	assert.Zero(t, col)
	assert.Zero(t, row)
}
