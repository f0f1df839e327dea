package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tomaslejdung/peeplink/pkg/cursor"
	"github.com/tomaslejdung/peeplink/pkg/media"
	"github.com/tomaslejdung/peeplink/pkg/media/mediatest"
	"github.com/tomaslejdung/peeplink/pkg/peer"
	"github.com/tomaslejdung/peeplink/pkg/peer/peertest"
	"github.com/tomaslejdung/peeplink/pkg/signal"
)

type countingSink struct {
	mu       sync.Mutex
	attached []*media.RemoteStream
	closed   int
}

func (c *countingSink) Attach(s *media.RemoteStream) error {
	c.mu.Lock()
	c.attached = append(c.attached, s)
	c.mu.Unlock()
	return nil
}

func (c *countingSink) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *countingSink) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testConfig(t *testing.T, name string, acq media.Acquirer) Config {
	t.Helper()
	api, err := peertest.LoopbackAPI()
	require.NoError(t, err)
	return Config{
		Username: name,
		Acquirer: acq,
		ICE:      peer.ICEConfig{STUNServers: []string{}},
		API:      api,
		Logger:   zaptest.NewLogger(t),
	}
}

func TestNegotiationRequiresInitialize(t *testing.T) {
	s := New(signal.RoleScreenSharer, testConfig(t, "a", &mediatest.Acquirer{}))

	_, err := s.CreateSharerOffer(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = s.CreateWatcherAnswer(context.Background(), webrtc.SessionDescription{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, s.AcceptAnswer(webrtc.SessionDescription{}), ErrNotInitialized)

	s.Disconnect()
	s.Disconnect()
}

func TestSharerWithoutDisplayFails(t *testing.T) {
	sink := &countingSink{}
	acq := &mediatest.Acquirer{DenyDisplay: true}
	cfg := testConfig(t, "a", acq)
	cfg.NewAudioSink = func() media.Sink { return sink }

	s := New(signal.RoleScreenSharer, cfg)
	err := s.Initialize(context.Background())
	require.ErrorIs(t, err, ErrNoDisplay)
	assert.ErrorIs(t, err, media.ErrAcquisition)
	assert.False(t, s.IsInitialized())
	assert.Equal(t, 1, sink.closes())

	// the microphone acquired before the failure is released too
	require.Len(t, acq.AudioTracks(), 1)
	assert.True(t, acq.AudioTracks()[0].Stopped())
}

func TestMicrophoneIsOptional(t *testing.T) {
	s := New(signal.RoleScreenWatcher, testConfig(t, "b", &mediatest.Acquirer{DenyAudio: true}))
	require.NoError(t, s.Initialize(context.Background()))
	defer s.Disconnect()
	assert.True(t, s.IsInitialized())
	assert.False(t, s.IsAudioEnabled())
}

func TestStartMuted(t *testing.T) {
	cfg := testConfig(t, "a", &mediatest.Acquirer{})
	cfg.StartMuted = true
	s := New(signal.RoleScreenSharer, cfg)
	require.NoError(t, s.Initialize(context.Background()))
	defer s.Disconnect()

	assert.False(t, s.IsAudioEnabled())
	s.ToggleAudio(true)
	assert.True(t, s.IsAudioEnabled())
}

func TestSessionEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sharerAudio := &countingSink{}
	sharerCfg := testConfig(t, "Alice", &mediatest.Acquirer{})
	sharerCfg.CursorsEnabled = true
	sharerCfg.NewAudioSink = func() media.Sink { return sharerAudio }
	sharer := New(signal.RoleScreenSharer, sharerCfg)

	video := &countingSink{}
	watcherCfg := testConfig(t, "Bob", &mediatest.Acquirer{})
	watcherCfg.CursorsEnabled = true
	watcherCfg.VideoSink = video
	watcher := New(signal.RoleScreenWatcher, watcherCfg)

	updates := make(chan cursor.RemoteCursorState, 4)
	sharer.SetHandlers(Handlers{OnCursorUpdate: func(st cursor.RemoteCursorState) { updates <- st }})

	require.NoError(t, sharer.Initialize(ctx))
	defer sharer.Disconnect()
	require.NoError(t, watcher.Initialize(ctx))
	defer watcher.Disconnect()

	offer, err := sharer.CreateSharerOffer(ctx)
	require.NoError(t, err)
	answer, err := watcher.CreateWatcherAnswer(ctx, offer)
	require.NoError(t, err)
	require.NoError(t, sharer.AcceptAnswer(answer))

	connected := func(s *Service) bool {
		st := s.ICEConnectionState()
		return st == webrtc.ICEConnectionStateConnected || st == webrtc.ICEConnectionStateCompleted
	}
	require.Eventually(t, func() bool { return connected(sharer) && connected(watcher) }, 15*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return watcher.SendCursorUpdate(0.5, 0.25) }, 10*time.Second, 50*time.Millisecond)
	select {
	case st := <-updates:
		assert.Equal(t, watcher.Identity().ID, st.ID)
		assert.Equal(t, "Bob", st.Name)
		assert.Equal(t, 0.5, st.X)
	case <-ctx.Done():
		t.Fatal("cursor update not delivered")
	}

	watcher.Disconnect()
	watcher.Disconnect()
	assert.False(t, watcher.IsInitialized())
	assert.Zero(t, video.closes(), "video sink belongs to the caller")
}

type recordingSink struct {
	countingSink
}

func (r *recordingSink) RecordsAudio() bool { return true }

func TestSinksForRoutesAudioToRecorder(t *testing.T) {
	drain := &countingSink{}
	plain := &countingSink{}
	rec := &recordingSink{}

	for _, tc := range []struct {
		name  string
		kind  webrtc.RTPCodecType
		video media.Sink
		want  []media.Sink
	}{
		{"audio to recorder first", webrtc.RTPCodecTypeAudio, rec, []media.Sink{rec, drain}},
		{"video to recorder", webrtc.RTPCodecTypeVideo, rec, []media.Sink{rec}},
		{"audio skips plain video sink", webrtc.RTPCodecTypeAudio, plain, []media.Sink{drain}},
		{"video to plain sink", webrtc.RTPCodecTypeVideo, plain, []media.Sink{plain}},
		{"video without sink drained", webrtc.RTPCodecTypeVideo, nil, []media.Sink{drain}},
		{"audio without video sink", webrtc.RTPCodecTypeAudio, nil, []media.Sink{drain}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := sinksFor(tc.kind, drain, tc.video)
			require.Len(t, got, len(tc.want))
			for i := range got {
				assert.Same(t, tc.want[i], got[i])
			}
		})
	}
}
