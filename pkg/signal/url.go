package signal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

func logger() *zap.Logger { return zap.L().Named("signal") }

// EncodeOption tweaks Encode.
type EncodeOption func(*encodeOptions)

type encodeOptions struct {
	scheme TokenScheme
}

// WithTokenScheme forces the token scheme. SchemeGzip is the default.
func WithTokenScheme(s TokenScheme) EncodeOption {
	return func(o *encodeOptions) { o.scheme = s }
}

// Encode packs role, username and session description into a signaling URL:
//
//	peeplink://<share|watch>?username=<escaped>&token=<gz:|fb:...>&type=<offer|answer>
func Encode(role Role, username string, sdp webrtc.SessionDescription, opts ...EncodeOption) (string, error) {
	o := encodeOptions{scheme: SchemeGzip}
	for _, opt := range opts {
		opt(&o)
	}

	action := role.Action()
	if action == "" {
		return "", fmt.Errorf("%w: no role", ErrInvalidInput)
	}
	if username == "" {
		return "", fmt.Errorf("%w: empty username", ErrInvalidInput)
	}
	if sdp.SDP == "" {
		return "", fmt.Errorf("%w: empty sdp", ErrInvalidInput)
	}
	sdpType := sdp.Type.String()
	if sdp.Type != webrtc.SDPTypeOffer && sdp.Type != webrtc.SDPTypeAnswer {
		return "", fmt.Errorf("%w: unsupported sdp type %s", ErrInvalidInput, sdpType)
	}

	token, scheme := packToken(sdp.SDP, o.scheme)

	var b strings.Builder
	b.Grow(len(Scheme) + len(action) + len(username) + len(token) + 32)
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(action)
	b.WriteString("?username=")
	b.WriteString(encodeURIComponent(username))
	b.WriteString("&token=")
	b.WriteString(token)
	b.WriteString("&type=")
	b.WriteString(sdpType)
	out := b.String()

	if len(token) > MaxTokenBytes {
		logger().Warn("signaling token exceeds soft limit",
			zap.Int("bytes", len(token)), zap.Int("limit", MaxTokenBytes))
	}
	if len(out) > MaxURLLength {
		logger().Warn("signaling url exceeds soft limit",
			zap.Int("length", len(out)), zap.Int("limit", MaxURLLength))
	}
	logger().Debug("encoded signaling url",
		zap.Stringer("role", role),
		zap.String("scheme", string(scheme)),
		zap.Int("sdp_len", len(sdp.SDP)),
		zap.Int("url_len", len(out)))

	return out, nil
}

// rawParts is the cheap, decompression-free view of a signaling URL.
type rawParts struct {
	role     Role
	username string
	token    string
	sdpType  webrtc.SDPType
}

func parse(raw string) (rawParts, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return rawParts{}, fmt.Errorf("%w: %v", ErrSignaling, err)
	}
	if u.Scheme != Scheme {
		return rawParts{}, fmt.Errorf("%w: scheme %q", ErrSignaling, u.Scheme)
	}
	role := RoleFromAction(u.Host)
	if role == RoleNone {
		return rawParts{}, fmt.Errorf("%w: action %q", ErrSignaling, u.Host)
	}

	q := u.Query()
	username := q.Get("username")
	token := q.Get("token")
	typ := q.Get("type")
	if username == "" || token == "" || typ == "" {
		return rawParts{}, fmt.Errorf("%w: missing parameters", ErrSignaling)
	}

	sdpType := webrtc.NewSDPType(typ)
	if sdpType != role.ExpectedSDPType() {
		return rawParts{}, fmt.Errorf("%w: %s url carries sdp type %q", ErrSignaling, role.Action(), typ)
	}

	return rawParts{role: role, username: username, token: token, sdpType: sdpType}, nil
}

// Decode reverses Encode. It returns false for a wrong scheme, an unknown
// action, missing parameters, an SDP type that does not match the role, or
// an undecodable token.
func Decode(raw string) (Payload, bool) {
	p, err := DecodeStrict(raw)
	if err != nil {
		logger().Debug("rejected signaling url", zap.Error(err))
		return Payload{}, false
	}
	return p, true
}

// DecodeStrict is Decode with the rejection reason. Errors wrap ErrSignaling.
func DecodeStrict(raw string) (Payload, error) {
	parts, err := parse(raw)
	if err != nil {
		return Payload{}, err
	}
	sdp, _, err := unpackToken(parts.token)
	if err != nil {
		return Payload{}, err
	}
	if sdp == "" {
		return Payload{}, fmt.Errorf("%w: empty sdp", ErrSignaling)
	}
	return Payload{
		Role:     parts.role,
		Username: parts.username,
		SDP:      webrtc.SessionDescription{Type: parts.sdpType, SDP: sdp},
	}, nil
}

// IsValidURL reports whether raw is structurally a signaling URL that Decode
// would consider, without decompressing the token.
func IsValidURL(raw string) bool {
	_, err := parse(raw)
	return err == nil
}

// RoleFromURL returns the role a URL was produced by, or RoleNone.
func RoleFromURL(raw string) Role {
	parts, err := parse(raw)
	if err != nil {
		return RoleNone
	}
	return parts.role
}

// Inspection describes a URL for diagnostics.
type Inspection struct {
	Payload     Payload
	TokenScheme TokenScheme
	TokenBytes  int
	URLLength   int
}

// OverLimits reports soft-limit violations.
func (i Inspection) OverLimits() []string {
	var out []string
	if i.TokenBytes > MaxTokenBytes {
		out = append(out, fmt.Sprintf("token is %d bytes (soft limit %d)", i.TokenBytes, MaxTokenBytes))
	}
	if i.URLLength > MaxURLLength {
		out = append(out, fmt.Sprintf("url is %d chars (soft limit %d)", i.URLLength, MaxURLLength))
	}
	return out
}

// Inspect decodes raw and reports how it was packed.
func Inspect(raw string) (Inspection, error) {
	parts, err := parse(raw)
	if err != nil {
		return Inspection{}, err
	}
	sdp, scheme, err := unpackToken(parts.token)
	if err != nil {
		return Inspection{}, err
	}
	return Inspection{
		Payload: Payload{
			Role:     parts.role,
			Username: parts.username,
			SDP:      webrtc.SessionDescription{Type: parts.sdpType, SDP: sdp},
		},
		TokenScheme: scheme,
		TokenBytes:  len(parts.token),
		URLLength:   len(strings.TrimSpace(raw)),
	}, nil
}
