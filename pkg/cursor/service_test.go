package cursor

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tomaslejdung/peeplink/pkg/signal"
)

type fakeChannel struct {
	label string

	mu        sync.Mutex
	state     webrtc.DataChannelState
	sent      []string
	sendErr   error
	closed    bool
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
}

func newFakeChannel(label string) *fakeChannel {
	return &fakeChannel{label: label, state: webrtc.DataChannelStateConnecting}
}

func (f *fakeChannel) Label() string { return f.label }

func (f *fakeChannel) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeChannel) SendText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeChannel) OnOpen(h func())                              { f.onOpen = h }
func (f *fakeChannel) OnClose(h func())                             { f.onClose = h }
func (f *fakeChannel) OnMessage(h func(webrtc.DataChannelMessage)) { f.onMessage = h }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.state = webrtc.DataChannelStateClosed
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) open() {
	f.mu.Lock()
	f.state = webrtc.DataChannelStateOpen
	f.mu.Unlock()
	f.onOpen()
}

func (f *fakeChannel) deliver(s string) {
	f.onMessage(webrtc.DataChannelMessage{IsString: true, Data: []byte(s)})
}

func (f *fakeChannel) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func positionJSON(t *testing.T, st RemoteCursorState) string {
	t.Helper()
	b, err := json.Marshal(st)
	require.NoError(t, err)
	return string(b)
}

func setup(t *testing.T, role signal.Role) (*Service, *fakeChannel, *fakeChannel) {
	t.Helper()
	svc := NewService(role, zaptest.NewLogger(t))
	pos, ping := newFakeChannel(LabelPosition), newFakeChannel(LabelPing)
	svc.HandleIncomingChannel(pos)
	svc.HandleIncomingChannel(ping)
	pos.open()
	ping.open()
	return svc, pos, ping
}

func TestPositionProcessedOnlyBySharer(t *testing.T) {
	msg := RemoteCursorState{ID: "c1", Name: "Bob", Color: "#fff", X: 0.25, Y: 0.75}

	for _, tc := range []struct {
		role signal.Role
		want int
	}{
		{signal.RoleScreenSharer, 1},
		{signal.RoleScreenWatcher, 0},
	} {
		t.Run(tc.role.String(), func(t *testing.T) {
			svc, pos, _ := setup(t, tc.role)
			svc.ToggleCursors(true)

			var got []RemoteCursorState
			svc.SetHandlers(Handlers{OnCursorUpdate: func(s RemoteCursorState) { got = append(got, s) }})

			pos.deliver(positionJSON(t, msg))
			require.Len(t, got, tc.want)
			if tc.want > 0 {
				assert.Equal(t, msg, got[0])
			}
		})
	}
}

func TestPingProcessedByBothRoles(t *testing.T) {
	for _, role := range []signal.Role{signal.RoleScreenSharer, signal.RoleScreenWatcher} {
		t.Run(role.String(), func(t *testing.T) {
			svc, _, ping := setup(t, role)
			svc.ToggleCursors(true)

			var got []string
			svc.SetHandlers(Handlers{OnCursorPing: func(id string) { got = append(got, id) }})
			ping.deliver("cursor-42")
			ping.deliver("  ")
			assert.Equal(t, []string{"cursor-42"}, got)
		})
	}
}

func TestGateAppliesToProcessing(t *testing.T) {
	svc, pos, ping := setup(t, signal.RoleScreenSharer)

	calls := 0
	svc.SetHandlers(Handlers{
		OnCursorUpdate: func(RemoteCursorState) { calls++ },
		OnCursorPing:   func(string) { calls++ },
	})
	pos.deliver(positionJSON(t, RemoteCursorState{ID: "c", X: 0.5, Y: 0.5}))
	ping.deliver("c")
	assert.Zero(t, calls)
}

func TestInvalidPositionsDropped(t *testing.T) {
	svc, pos, _ := setup(t, signal.RoleScreenSharer)
	svc.ToggleCursors(true)

	calls := 0
	svc.SetHandlers(Handlers{OnCursorUpdate: func(RemoteCursorState) { calls++ }})
	pos.deliver("not json")
	pos.deliver(positionJSON(t, RemoteCursorState{ID: "c", X: 1.5, Y: 0.5}))
	pos.deliver(positionJSON(t, RemoteCursorState{X: 0.1, Y: 0.5}))
	assert.Zero(t, calls)
}

func TestSendReturnsFalseWhenNotPossible(t *testing.T) {
	valid := RemoteCursorState{ID: "c", X: 0.1, Y: 0.2}

	t.Run("disabled", func(t *testing.T) {
		svc, pos, ping := setup(t, signal.RoleScreenWatcher)
		assert.False(t, svc.SendCursorUpdate(valid))
		assert.False(t, svc.SendCursorPing("c"))
		assert.Empty(t, pos.sentMessages())
		assert.Empty(t, ping.sentMessages())
	})

	t.Run("absent", func(t *testing.T) {
		svc := NewService(signal.RoleScreenWatcher, zaptest.NewLogger(t))
		svc.ToggleCursors(true)
		assert.False(t, svc.SendCursorUpdate(valid))
		assert.False(t, svc.SendCursorPing("c"))
	})

	t.Run("not open", func(t *testing.T) {
		svc := NewService(signal.RoleScreenWatcher, zaptest.NewLogger(t))
		pos := newFakeChannel(LabelPosition)
		svc.HandleIncomingChannel(pos)
		assert.True(t, svc.ToggleCursors(true))
		assert.False(t, svc.SendCursorUpdate(valid))
	})

	t.Run("transport error", func(t *testing.T) {
		svc, pos, ping := setup(t, signal.RoleScreenWatcher)
		svc.ToggleCursors(true)
		pos.sendErr = errors.New("boom")
		ping.sendErr = errors.New("boom")
		assert.False(t, svc.SendCursorUpdate(valid))
		assert.False(t, svc.SendCursorPing("c"))
	})

	t.Run("out of range", func(t *testing.T) {
		svc, pos, _ := setup(t, signal.RoleScreenWatcher)
		svc.ToggleCursors(true)
		assert.False(t, svc.SendCursorUpdate(RemoteCursorState{ID: "c", X: -0.1, Y: 0}))
		assert.Empty(t, pos.sentMessages())
	})
}

func TestSendWhenOpenAndEnabled(t *testing.T) {
	svc, pos, ping := setup(t, signal.RoleScreenWatcher)
	svc.ToggleCursors(true)

	st := RemoteCursorState{ID: "c", Name: "Ann", Color: "#000", X: 1, Y: 0}
	require.True(t, svc.SendCursorUpdate(st))
	require.True(t, svc.SendCursorPing("c"))

	var decoded RemoteCursorState
	require.Len(t, pos.sentMessages(), 1)
	require.NoError(t, json.Unmarshal([]byte(pos.sentMessages()[0]), &decoded))
	assert.Equal(t, st, decoded)
	assert.Equal(t, []string{"c"}, ping.sentMessages())
}

func TestStaleCloseDoesNotClearReplacement(t *testing.T) {
	svc := NewService(signal.RoleScreenWatcher, zaptest.NewLogger(t))
	first := newFakeChannel(LabelPing)
	svc.HandleIncomingChannel(first)
	staleClose := first.onClose

	second := newFakeChannel(LabelPing)
	svc.HandleIncomingChannel(second)
	second.open()
	assert.True(t, first.closed)

	staleClose()
	assert.True(t, svc.IsChannelOpen(LabelPing))

	second.onClose()
	assert.False(t, svc.IsChannelOpen(LabelPing))
}

func TestChannelLifecycleCallbacks(t *testing.T) {
	svc := NewService(signal.RoleScreenSharer, zaptest.NewLogger(t))
	var opened, closed []string
	svc.SetHandlers(Handlers{OnChannelOpen: func(l string) { opened = append(opened, l) }})
	svc.SetHandlers(Handlers{OnChannelClose: func(l string) { closed = append(closed, l) }})

	ch := newFakeChannel(LabelPosition)
	svc.HandleIncomingChannel(ch)
	ch.open()
	ch.onClose()
	assert.Equal(t, []string{LabelPosition}, opened)
	assert.Equal(t, []string{LabelPosition}, closed)
}

func TestUnknownLabelIgnored(t *testing.T) {
	svc := NewService(signal.RoleScreenSharer, zaptest.NewLogger(t))
	other := newFakeChannel("chat")
	svc.HandleIncomingChannel(other)
	assert.Nil(t, other.onMessage)
}

func TestCleanup(t *testing.T) {
	svc, pos, ping := setup(t, signal.RoleScreenSharer)
	svc.ToggleCursors(true)
	calls := 0
	svc.SetHandlers(Handlers{OnCursorPing: func(string) { calls++ }})

	svc.Cleanup()
	assert.True(t, pos.closed)
	assert.True(t, ping.closed)
	assert.False(t, svc.CursorsEnabled())

	ping.deliver("c")
	assert.Zero(t, calls)
	svc.Cleanup()
}

func TestCreateChannelsOnPeerConnection(t *testing.T) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close()

	svc := NewService(signal.RoleScreenSharer, zaptest.NewLogger(t))
	require.NoError(t, svc.CreateChannels(pc))
	assert.False(t, svc.IsChannelOpen(LabelPosition))

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "webrtc-datachannel")
	svc.Cleanup()
}

func TestStateValidate(t *testing.T) {
	assert.NoError(t, RemoteCursorState{ID: "a", X: 0, Y: 1}.Validate())
	assert.Error(t, RemoteCursorState{ID: "a", X: 0, Y: 1.01}.Validate())
	id := NewIdentity("Ann", "")
	assert.NotEmpty(t, id.ID)
	assert.Equal(t, DefaultColor, id.Color)
	assert.Equal(t, 0.5, id.At(0.5, 0.2).X)
}
