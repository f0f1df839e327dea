package connection

// Phase is the single active state of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseWaitingForOffer
	PhaseOfferCreated
	PhaseWaitingForAnswer
	PhaseAnswerCreated
	PhaseConnecting
	PhaseConnected
	PhaseDisconnected
	PhaseError
)

var phaseNames = [...]string{
	PhaseIdle:             "IDLE",
	PhaseInitializing:     "INITIALIZING",
	PhaseWaitingForOffer:  "WAITING_FOR_OFFER",
	PhaseOfferCreated:     "OFFER_CREATED",
	PhaseWaitingForAnswer: "WAITING_FOR_ANSWER",
	PhaseAnswerCreated:    "ANSWER_CREATED",
	PhaseConnecting:       "CONNECTING",
	PhaseConnected:        "CONNECTED",
	PhaseDisconnected:     "DISCONNECTED",
	PhaseError:            "ERROR",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "UNKNOWN"
	}
	return phaseNames[p]
}

// MarshalText lets phases appear by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Active reports whether a session exists in this phase.
func (p Phase) Active() bool {
	switch p {
	case PhaseIdle, PhaseDisconnected, PhaseError:
		return false
	}
	return true
}
