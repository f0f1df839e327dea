package peer

import "github.com/pion/webrtc/v4"

// ConnectionType describes the selected candidate pair.
type ConnectionType string

const (
	ConnectionDirect  ConnectionType = "direct"
	ConnectionRelay   ConnectionType = "relay"
	ConnectionUnknown ConnectionType = "unknown"
)

// connectionType checks if connection is direct or relayed
func connectionType(pc *webrtc.PeerConnection) ConnectionType {
	stats := pc.GetStats()

	for _, stat := range stats {
		pair, ok := stat.(webrtc.ICECandidatePairStats)
		if !ok || pair.State != webrtc.StatsICECandidatePairStateSucceeded {
			continue
		}
		local, ok := stats[pair.LocalCandidateID].(webrtc.ICECandidateStats)
		if !ok {
			continue
		}
		switch local.CandidateType {
		case webrtc.ICECandidateTypeRelay:
			return ConnectionRelay
		case webrtc.ICECandidateTypeHost, webrtc.ICECandidateTypeSrflx, webrtc.ICECandidateTypePrflx:
			return ConnectionDirect
		}
	}
	return ConnectionUnknown
}
