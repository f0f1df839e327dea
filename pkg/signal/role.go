package signal

import "github.com/pion/webrtc/v4"

// Role identifies which side of a session a peer plays.
type Role int

const (
	// RoleNone is the zero value before any flow has started.
	RoleNone Role = iota
	// RoleScreenSharer captures the display and creates the offer.
	RoleScreenSharer
	// RoleScreenWatcher renders the stream and answers the offer.
	RoleScreenWatcher
)

// URL actions
const (
	ActionShare = "share"
	ActionWatch = "watch"
)

func (r Role) String() string {
	switch r {
	case RoleScreenSharer:
		return "SCREEN_SHARER"
	case RoleScreenWatcher:
		return "SCREEN_WATCHER"
	default:
		return "NONE"
	}
}

// Action returns the URL action for the role, or "" for RoleNone.
func (r Role) Action() string {
	switch r {
	case RoleScreenSharer:
		return ActionShare
	case RoleScreenWatcher:
		return ActionWatch
	default:
		return ""
	}
}

// ExpectedSDPType is the description type a URL of this role must carry:
// sharers publish offers, watchers publish answers.
func (r Role) ExpectedSDPType() webrtc.SDPType {
	switch r {
	case RoleScreenSharer:
		return webrtc.SDPTypeOffer
	case RoleScreenWatcher:
		return webrtc.SDPTypeAnswer
	default:
		return webrtc.SDPType(0)
	}
}

// RoleFromAction maps a URL action back to a role.
func RoleFromAction(action string) Role {
	switch action {
	case ActionShare:
		return RoleScreenSharer
	case ActionWatch:
		return RoleScreenWatcher
	default:
		return RoleNone
	}
}
