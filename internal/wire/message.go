package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message is the single frame shape exchanged over the signaling websocket,
// in both directions. Only the fields meaningful for Type are set.
type Message struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Initiator *bool           `json:"initiator,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Client to server.
const (
	TypeJoinRoom  = "joinRoom"
	TypeLeaveRoom = "leaveRoom"
)

// Server to client.
const (
	TypeJoined    = "joined"
	TypeWaiting   = "waiting"
	TypeReady     = "ready"
	TypePeerLeft  = "peer-left"
	TypeRoomFull  = "room-full"
	TypeRoomError = "room-error"
)

// Reasons carried by room-error. AlreadyInRoom is followed by the room id.
const (
	ReasonInvalidLink   = "invalid room link"
	ReasonNotFound      = "room not found or expired"
	ReasonAlreadyInRoom = "already in a room"
)

// TypeSignal travels both ways.
const TypeSignal = "signal"

// Signal payload kinds.
const (
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"

	// After the first exchange only one side may hold an unanswered offer.
	// The responder asks with offer-request and offers once the initiator
	// replies offer-grant; the initiator sends nothing until that offer
	// arrives.
	KindOfferRequest = "offer-request"
	KindOfferGrant   = "offer-grant"
)

var (
	ErrEmptyPayload   = errors.New("empty signal payload")
	ErrUnknownPayload = errors.New("unknown signal payload type")
)

// Candidate mirrors the browser's RTCIceCandidateInit JSON.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalPayload is the tagged union carried inside a signal message:
// an offer or answer (SDP set), a network-path candidate, or one of the
// bodiless offer-request and offer-grant turns.
// The relay never decodes it; endpoints do.
type SignalPayload struct {
	Type      string     `json:"type"`
	SDP       string     `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// IsDescription reports whether the payload is an offer or an answer.
func (p SignalPayload) IsDescription() bool {
	return p.Type == KindOffer || p.Type == KindAnswer
}

// Joined builds the membership-accepted event.
func Joined(roomID string, initiator bool) *Message {
	return &Message{Type: TypeJoined, RoomID: roomID, Initiator: &initiator}
}

// RoomError builds a join-rejected event carrying a human readable reason.
func RoomError(reason string) *Message {
	return &Message{Type: TypeRoomError, Error: reason}
}

// Event builds a message with no body.
func Event(t string) *Message {
	return &Message{Type: t}
}

// NewSignal wraps payload into a client-to-server signal message for roomID.
func NewSignal(roomID string, payload SignalPayload) (*Message, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal signal payload: %w", err)
	}
	return &Message{Type: TypeSignal, RoomID: roomID, Payload: b}, nil
}

// DecodeSignal parses and validates a relayed payload.
func DecodeSignal(raw json.RawMessage) (SignalPayload, error) {
	var p SignalPayload
	if len(raw) == 0 || string(raw) == "null" {
		return p, ErrEmptyPayload
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode signal payload: %w", err)
	}

	switch p.Type {
	case KindOffer, KindAnswer:
		if p.SDP == "" {
			return p, fmt.Errorf("%s without sdp: %w", p.Type, ErrEmptyPayload)
		}
	case KindCandidate:
		if p.Candidate == nil {
			return p, fmt.Errorf("candidate without body: %w", ErrEmptyPayload)
		}
	case KindOfferRequest, KindOfferGrant:
	default:
		return p, fmt.Errorf("%q: %w", p.Type, ErrUnknownPayload)
	}
	return p, nil
}
