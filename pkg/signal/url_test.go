package signal

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=candidate:1 1 udp 2130706431 192.168.1.10 54321 typ host\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"a=sctp-port:5000\r\n"

func offer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sampleSDP}
}

func answer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sampleSDP}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		role     Role
		username string
		sdp      webrtc.SessionDescription
		opts     []EncodeOption
	}{
		{"sharer gzip", RoleScreenSharer, "Alice", offer(), nil},
		{"watcher gzip", RoleScreenWatcher, "Bob", answer(), nil},
		{"sharer fallback", RoleScreenSharer, "Alice", offer(), []EncodeOption{WithTokenScheme(SchemeFallback)}},
		{"watcher fallback", RoleScreenWatcher, "Bob", answer(), []EncodeOption{WithTokenScheme(SchemeFallback)}},
		{"username needs escaping", RoleScreenSharer, "Zoë & co = +1 100%", offer(), nil},
		{"blank username", RoleScreenWatcher, "   ", answer(), nil},
		{"blank sdp body", RoleScreenSharer, "Alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: " \r\n"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Encode(tc.role, tc.username, tc.sdp, tc.opts...)
			require.NoError(t, err)

			got, ok := Decode(raw)
			require.True(t, ok, "decode failed for %s", raw)
			assert.Equal(t, tc.role, got.Role)
			assert.Equal(t, tc.username, got.Username)
			assert.Equal(t, tc.sdp.SDP, got.SDP.SDP)
			assert.Equal(t, tc.sdp.Type, got.SDP.Type)
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	raw, err := Encode(RoleScreenSharer, "Ann Lee", offer())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, "peeplink://share?username=Ann%20Lee&token=gz:"), raw)
	assert.True(t, strings.HasSuffix(raw, "&type=offer"), raw)

	raw, err = Encode(RoleScreenWatcher, "Bob", answer(), WithTokenScheme(SchemeFallback))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "peeplink://watch?username=Bob&token=fb:"), raw)
	assert.True(t, strings.HasSuffix(raw, "&type=answer"), raw)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	token := u.Query().Get("token")
	assert.NotContains(t, token, "=")
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
}

func TestEncodeRejectsInvalidInput(t *testing.T) {
	_, err := Encode(RoleScreenSharer, "", offer())
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = Encode(RoleScreenSharer, "Alice", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = Encode(RoleNone, "Alice", offer())
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestDecodeRejectsTamperedType(t *testing.T) {
	raw, err := Encode(RoleScreenSharer, "Alice", offer())
	require.NoError(t, err)

	tampered := strings.Replace(raw, "&type=offer", "&type=answer", 1)
	_, ok := Decode(tampered)
	assert.False(t, ok)
	assert.False(t, IsValidURL(tampered))
	assert.Equal(t, RoleNone, RoleFromURL(tampered))

	_, err = DecodeStrict(tampered)
	assert.True(t, errors.Is(err, ErrSignaling))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, err := Encode(RoleScreenWatcher, "Bob", answer())
	require.NoError(t, err)

	cases := map[string]string{
		"empty":          "",
		"not a url":      "hello there",
		"wrong scheme":   strings.Replace(valid, "peeplink://", "https://", 1),
		"unknown action": strings.Replace(valid, "://watch?", "://steal?", 1),
		"no username":    strings.Replace(valid, "username=Bob&", "", 1),
		"no type":        strings.Replace(valid, "&type=answer", "", 1),
		"garbage token":  "peeplink://watch?username=Bob&token=gz:!!!!&type=answer",
		"unknown scheme": "peeplink://watch?username=Bob&token=xz:abcd&type=answer",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := Decode(raw)
			assert.False(t, ok)
		})
	}
}

func TestPreChecksAgreeWithDecode(t *testing.T) {
	sharerURL, err := Encode(RoleScreenSharer, "Alice", offer())
	require.NoError(t, err)
	watcherURL, err := Encode(RoleScreenWatcher, "Bob", answer())
	require.NoError(t, err)

	for _, raw := range []string{sharerURL, watcherURL} {
		p, ok := Decode(raw)
		require.True(t, ok)
		assert.True(t, IsValidURL(raw))
		assert.Equal(t, p.Role, RoleFromURL(raw))
	}

	assert.Equal(t, RoleScreenSharer, RoleFromURL(sharerURL))
	assert.Equal(t, RoleScreenWatcher, RoleFromURL(watcherURL))
	assert.False(t, IsValidURL("peeplink://share?username=A&type=offer"))
}

func TestDecodeUntaggedToken(t *testing.T) {
	gz, err := gzipPack(sampleSDP)
	require.NoError(t, err)
	raw := "peeplink://share?username=Alice&token=" + gz + "&type=offer"
	p, ok := Decode(raw)
	require.True(t, ok)
	assert.Equal(t, sampleSDP, p.SDP.SDP)

	raw = "peeplink://share?username=Alice&token=" + fallbackPack(sampleSDP) + "&type=offer"
	p, ok = Decode(raw)
	require.True(t, ok)
	assert.Equal(t, sampleSDP, p.SDP.SDP)
}

func TestInspect(t *testing.T) {
	raw, err := Encode(RoleScreenSharer, "Alice", offer(), WithTokenScheme(SchemeFallback))
	require.NoError(t, err)

	info, err := Inspect(raw)
	require.NoError(t, err)
	assert.Equal(t, SchemeFallback, info.TokenScheme)
	assert.Equal(t, len(raw), info.URLLength)
	assert.Equal(t, "Alice", info.Payload.Username)
	assert.Empty(t, info.OverLimits())

	big := Inspection{TokenBytes: MaxTokenBytes + 1, URLLength: MaxURLLength + 1}
	assert.Len(t, big.OverLimits(), 2)
}
