// Package peertest builds pion APIs suitable for in-process connections.
package peertest

import (
	"net"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

// Option adjusts the setting engine of a test API.
type Option func(se *webrtc.SettingEngine)

// WithICETimeouts makes a stuck agent give up after disconnected+failed
// instead of the pion defaults.
func WithICETimeouts(disconnected, failed time.Duration) Option {
	return func(se *webrtc.SettingEngine) {
		se.SetICETimeouts(disconnected, failed, disconnected/4)
	}
}

// WithoutHostCandidates filters out every interface, loopback included.
func WithoutHostCandidates() Option {
	return func(se *webrtc.SettingEngine) {
		se.SetIncludeLoopbackCandidate(false)
		se.SetInterfaceFilter(func(string) bool { return false })
	}
}

// LoopbackAPI returns an API with the default codecs that also gathers
// loopback host candidates, so two peers in one process can connect
// without any network.
func LoopbackAPI(opts ...Option) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	for _, opt := range opts {
		opt(&se)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)), nil
}

// SilentSTUN returns a stun: URL whose server reads nothing and never
// answers, so server reflexive gathering stays pending until pion gives up.
// The socket is closed when the test ends.
func SilentSTUN(t testing.TB) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return "stun:" + conn.LocalAddr().String()
}
