package clip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaslejdung/peeplink/pkg/signal"
)

func TestMemory(t *testing.T) {
	m := &Memory{}
	text, err := m.Read()
	require.NoError(t, err)
	assert.Empty(t, text)

	require.NoError(t, m.Write("hello"))
	text, err = m.Read()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 1, m.Writes())
}

func TestWaitForURL(t *testing.T) {
	offer, err := signal.Encode(signal.RoleScreenSharer, "Ann",
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"})
	require.NoError(t, err)

	m := &Memory{}
	require.NoError(t, m.Write("not a url"))
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = m.Write("  " + offer + "\n")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := WaitForURL(ctx, m, signal.RoleScreenSharer, WithInterval(5*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, offer, got)
}

func TestWaitForURLIgnoresOtherRole(t *testing.T) {
	offer, err := signal.Encode(signal.RoleScreenSharer, "Ann",
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"})
	require.NoError(t, err)
	m := &Memory{}
	require.NoError(t, m.Write(offer))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = WaitForURL(ctx, m, signal.RoleScreenWatcher, WithInterval(5*time.Millisecond, 10*time.Millisecond))
	assert.Error(t, err)
}

type brokenClipboard struct{}

func (brokenClipboard) Write(string) error    { return errors.New("no clipboard") }
func (brokenClipboard) Read() (string, error) { return "", errors.New("no clipboard") }

func TestWaitForURLStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WaitForURL(ctx, brokenClipboard{}, signal.RoleScreenSharer)
	assert.Error(t, err)
}
