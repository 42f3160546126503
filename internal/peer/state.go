package peer

// State is a negotiation endpoint's lifecycle position.
type State int

const (
	Idle State = iota
	Joining
	WaitingForPeer
	PeerReady
	Negotiating
	Connected
	Renegotiating
	Ended
)

var stateNames = [...]string{
	Idle:           "idle",
	Joining:        "joining",
	WaitingForPeer: "waiting-for-peer",
	PeerReady:      "peer-ready",
	Negotiating:    "negotiating",
	Connected:      "connected",
	Renegotiating:  "renegotiating",
	Ended:          "ended",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Role is the side's position in the room, fixed at join time.
type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}
