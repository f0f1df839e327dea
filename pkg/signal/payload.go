package signal

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

// Scheme is the URL scheme of every signaling URL.
const Scheme = "peeplink"

// Soft limits. Exceeding them is logged, never rejected.
const (
	MaxTokenBytes = 100 * 1024
	MaxURLLength  = 2000
)

var (
	// ErrInvalidInput is returned by Encode for an empty username or SDP body.
	ErrInvalidInput = errors.New("invalid signaling input")
	// ErrSignaling marks a malformed, foreign or tampered signaling URL.
	ErrSignaling = errors.New("invalid signaling url")
)

// Payload is what one signaling URL carries.
type Payload struct {
	Role     Role
	Username string
	SDP      webrtc.SessionDescription
}
