package peer

import "github.com/pion/webrtc/v4"

// DefaultSTUNServers are used unless relay is forced or a list is given.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// ICEConfig holds ICE server configuration
type ICEConfig struct {
	STUNServers []string // nil means DefaultSTUNServers
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
}

// Configuration builds the peer connection configuration.
func (c ICEConfig) Configuration() webrtc.Configuration {
	iceServers := make([]webrtc.ICEServer, 0)

	// Relay-only sessions skip STUN entirely.
	if !c.ForceRelay {
		stun := c.STUNServers
		if stun == nil {
			stun = DefaultSTUNServers
		}
		for _, url := range stun {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
		}
	}

	if c.TURNServer != "" {
		turnServer := webrtc.ICEServer{
			URLs: []string{c.TURNServer},
		}
		if c.TURNUser != "" {
			turnServer.Username = c.TURNUser
			turnServer.Credential = c.TURNPass
			turnServer.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, turnServer)
	}

	iceTransportPolicy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		iceTransportPolicy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: iceTransportPolicy,
	}
}
