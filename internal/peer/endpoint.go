// Package peer implements the participant side of a call: the negotiation
// state machine that turns signaling events into a live media transport.
package peer

import (
	"context"
	"strings"
	"sync"

	"github.com/amalgammas/link/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Signaler carries messages to and from the signaling server. Incoming is
// closed when the connection is lost.
type Signaler interface {
	Send(msg *wire.Message) error
	Incoming() <-chan *wire.Message
}

// LocalTrack is an outgoing media track that can be released.
type LocalTrack interface {
	webrtc.TrackLocal
	Stop()
}

// MediaSource hands out local tracks. Audio is mandatory for a call, video
// is optional.
type MediaSource interface {
	Audio(ctx context.Context) (LocalTrack, error)
	Video(ctx context.Context) (LocalTrack, error)
}

// TransportFactory creates the transport when the endpoint joins.
type TransportFactory func() (Transport, error)

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithStateHandler is called from the endpoint loop on every transition.
func WithStateHandler(f func(State)) Option {
	return func(e *Endpoint) { e.onState = f }
}

// WithRemoteTrackHandler is called for every track the peer sends.
func WithRemoteTrackHandler(f func(*webrtc.TrackRemote)) Option {
	return func(e *Endpoint) { e.onRemoteTrack = f }
}

// WithNoticeHandler receives non-fatal problems, such as a camera that
// could not be opened.
func WithNoticeHandler(f func(error)) Option {
	return func(e *Endpoint) { e.onNotice = f }
}

type command int

const (
	cmdJoin command = iota
	cmdToggleVideo
	cmdHangup
)

type transportEvent struct {
	candidate *webrtc.ICECandidateInit
	state     webrtc.PeerConnectionState
}

type messageHandler func(e *Endpoint, msg *wire.Message)

// handlers routes server events by type. Unknown types are ignored.
var handlers = map[string]messageHandler{
	wire.TypeJoined:    (*Endpoint).onJoined,
	wire.TypeWaiting:   (*Endpoint).onWaiting,
	wire.TypeReady:     (*Endpoint).onReady,
	wire.TypeSignal:    (*Endpoint).onSignal,
	wire.TypePeerLeft:  (*Endpoint).onPeerLeft,
	wire.TypeRoomFull:  (*Endpoint).onRoomFull,
	wire.TypeRoomError: (*Endpoint).onRoomError,
}

// Endpoint negotiates one participant's session in one room.
//
// All negotiation state is owned by the goroutine running Run. Join,
// ToggleVideo and Hangup post commands to it, and transport callbacks post
// events, so nothing else touches the fields below the mutex.
type Endpoint struct {
	roomID       string
	signaler     Signaler
	media        MediaSource
	newTransport TransportFactory

	onState       func(State)
	onRemoteTrack func(*webrtc.TrackRemote)
	onNotice      func(error)

	commands chan command
	events   chan transportEvent
	done     chan struct{}

	mu    sync.RWMutex
	state State
	role  Role
	err   error

	ctx       context.Context
	log       *logrus.Entry
	transport Transport
	audio     LocalTrack
	video     LocalTrack
	videoOut  *webrtc.RTPSender

	// offerInFlight is set while our offer waits for an answer. Only one
	// offer is ever outstanding.
	offerInFlight bool
	// requested is set on the responder between offer-request and
	// offer-grant.
	requested bool
	// granted is set on the initiator from offer-grant until the
	// responder's offer arrives. It may not offer meanwhile.
	granted bool
	// peerWaiting holds an offer-request the initiator could not grant yet.
	peerWaiting bool
	// wantVideo is a toggle that could not be applied yet. Later toggles
	// overwrite it.
	wantVideo *bool
	// needOffer marks local track changes the peer has not been offered.
	needOffer   bool
	transportUp bool
	pending     []webrtc.ICECandidateInit
}

// New creates an endpoint for roomID. Nothing happens until Run is started
// and Join is called.
func New(roomID string, sig Signaler, media MediaSource, newTransport TransportFactory, opts ...Option) *Endpoint {
	e := &Endpoint{
		roomID:       roomID,
		signaler:     sig,
		media:        media,
		newTransport: newTransport,
		commands:     make(chan command),
		events:       make(chan transportEvent, 64),
		done:         make(chan struct{}),
		log:          logrus.WithField("room_id", roomID),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current state.
func (e *Endpoint) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Role returns the role assigned by the server, RoleUnknown before joined.
func (e *Endpoint) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// Err is why the session ended. It is nil while running and after a local
// hangup.
func (e *Endpoint) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Done is closed when Run returns.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Join requests membership. Media is acquired first.
func (e *Endpoint) Join() { e.post(cmdJoin) }

// ToggleVideo flips the local video track. Toggles that arrive while a
// negotiation is running are applied once it completes.
func (e *Endpoint) ToggleVideo() { e.post(cmdToggleVideo) }

// Hangup ends the session and tells the server.
func (e *Endpoint) Hangup() { e.post(cmdHangup) }

func (e *Endpoint) post(c command) {
	select {
	case e.commands <- c:
	case <-e.done:
	}
}

func (e *Endpoint) postEvent(ev transportEvent) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// Run is the endpoint loop. It returns when the session has ended or ctx is
// cancelled, with the reason the session ended.
func (e *Endpoint) Run(ctx context.Context) error {
	defer close(e.done)
	e.ctx = ctx

	incoming := e.signaler.Incoming()
	for e.State() != Ended {
		select {
		case <-ctx.Done():
			e.end(nil, true)

		case c := <-e.commands:
			e.handleCommand(c)

		case ev := <-e.events:
			e.handleTransportEvent(ev)

		case msg, ok := <-incoming:
			if !ok {
				e.end(NewError("signaling", ErrSignalingClosed), false)
				continue
			}
			if handle, ok := handlers[msg.Type]; ok {
				handle(e, msg)
			} else {
				e.log.WithField("type", msg.Type).Debug("ignoring unknown event")
			}
		}
	}
	return e.Err()
}

func (e *Endpoint) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()

	if prev == s {
		return
	}
	e.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("state changed")
	if e.onState != nil {
		e.onState(s)
	}
}

func (e *Endpoint) handleCommand(c command) {
	switch c {
	case cmdJoin:
		e.join()
	case cmdToggleVideo:
		e.toggleVideo()
	case cmdHangup:
		e.log.Info("hanging up")
		e.end(nil, true)
	}
}

func (e *Endpoint) join() {
	if e.State() != Idle {
		return
	}

	audio, err := e.media.Audio(e.ctx)
	if err != nil {
		e.end(WrapError("acquire audio", ErrMediaAccessDenied, err.Error()), false)
		return
	}
	e.audio = audio

	t, err := e.newTransport()
	if err != nil {
		e.end(WrapError("create transport", ErrTransportFailure, err.Error()), false)
		return
	}
	e.transport = t

	t.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		e.postEvent(transportEvent{candidate: &init})
	})
	t.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.postEvent(transportEvent{state: s})
	})
	log := e.log
	t.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.WithField("kind", track.Kind().String()).Info("remote track received")
		if e.onRemoteTrack != nil {
			e.onRemoteTrack(track)
		}
	})

	if _, err := t.AddTrack(audio); err != nil {
		e.end(WrapError("add audio track", ErrTransportFailure, err.Error()), false)
		return
	}

	e.setState(Joining)
	if err := e.signaler.Send(&wire.Message{Type: wire.TypeJoinRoom, RoomID: e.roomID}); err != nil {
		e.end(NewError("join room", ErrSignalingClosed), false)
	}
}

func (e *Endpoint) onJoined(msg *wire.Message) {
	if e.State() != Joining {
		return
	}

	initiator := msg.Initiator != nil && *msg.Initiator
	e.mu.Lock()
	if initiator {
		e.role = RoleInitiator
	} else {
		e.role = RoleResponder
	}
	e.mu.Unlock()
	e.log = e.log.WithField("role", e.Role().String())
	e.log.Info("joined room")

	if initiator {
		e.setState(WaitingForPeer)
	} else {
		e.setState(PeerReady)
	}
}

func (e *Endpoint) onWaiting(*wire.Message) {
	e.log.Debug("waiting for peer")
}

// onReady starts the first negotiation. Only the initiator offers; the
// responder's copy of ready is ignored.
func (e *Endpoint) onReady(*wire.Message) {
	if e.Role() != RoleInitiator || e.State() != WaitingForPeer {
		return
	}
	e.setState(Negotiating)
	e.sendOffer()
}

func (e *Endpoint) onSignal(msg *wire.Message) {
	payload, err := wire.DecodeSignal(msg.Payload)
	if err != nil {
		e.log.WithError(WrapError("decode signal", ErrInvalidSignal, err.Error())).Warn("ignoring invalid signal")
		return
	}

	switch payload.Type {
	case wire.KindOffer:
		e.handleOffer(payload.SDP)
	case wire.KindAnswer:
		e.handleAnswer(payload.SDP)
	case wire.KindCandidate:
		e.handleCandidate(payload.Candidate)
	case wire.KindOfferRequest:
		e.handleOfferRequest()
	case wire.KindOfferGrant:
		e.handleOfferGrant()
	}
}

func (e *Endpoint) onPeerLeft(*wire.Message) {
	e.log.Info("peer left")
	e.end(NewError("call", ErrPeerLeft), false)
}

func (e *Endpoint) onRoomFull(*wire.Message) {
	e.end(NewError("join room", ErrRoomFull), false)
}

func (e *Endpoint) onRoomError(msg *wire.Message) {
	cause := ErrRoomNotFound
	if strings.HasPrefix(msg.Error, wire.ReasonAlreadyInRoom) {
		cause = ErrAlreadyInRoom
	}
	e.end(WrapError("join room", cause, msg.Error), false)
}

func (e *Endpoint) sendOffer() {
	offer, err := e.transport.CreateOffer(nil)
	if err != nil {
		e.fail("create offer", err)
		return
	}
	if err := e.transport.SetLocalDescription(offer); err != nil {
		e.fail("set local description", err)
		return
	}

	e.offerInFlight = true
	e.needOffer = false
	e.sendSignal(wire.SignalPayload{Type: wire.KindOffer, SDP: offer.SDP})
}

func (e *Endpoint) handleOffer(sdp string) {
	state := e.State()
	renegotiation := state == Connected || state == Renegotiating
	if state != PeerReady && state != Negotiating && !renegotiation {
		e.log.WithField("state", state).Debug("ignoring offer")
		return
	}

	if e.offerInFlight {
		// Offers are taken in turns, so only a peer that skipped the
		// request gets here. A local offer cannot be rolled back; ours
		// stands and the peer's is dropped.
		e.log.Warn("offer while ours is outstanding, ignoring")
		return
	}
	e.granted = false

	if renegotiation {
		e.setState(Renegotiating)
	} else {
		e.setState(Negotiating)
	}

	if err := e.transport.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		e.fail("set remote description", err)
		return
	}
	e.flushCandidates()

	answer, err := e.transport.CreateAnswer(nil)
	if err != nil {
		e.fail("create answer", err)
		return
	}
	if err := e.transport.SetLocalDescription(answer); err != nil {
		e.fail("set local description", err)
		return
	}
	e.sendSignal(wire.SignalPayload{Type: wire.KindAnswer, SDP: answer.SDP})

	if renegotiation {
		e.setState(Connected)
		e.applyPending()
		return
	}
	e.maybeConnected()
}

func (e *Endpoint) handleAnswer(sdp string) {
	if !e.offerInFlight {
		e.log.Debug("ignoring answer without an outstanding offer")
		return
	}

	if err := e.transport.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		e.fail("set remote description", err)
		return
	}
	e.offerInFlight = false
	e.flushCandidates()

	switch e.State() {
	case Renegotiating:
		e.setState(Connected)
		e.applyPending()
	case Negotiating:
		e.maybeConnected()
	}
}

func (e *Endpoint) handleCandidate(c *wire.Candidate) {
	if e.transport == nil {
		return
	}
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	if e.transport.RemoteDescription() == nil {
		e.pending = append(e.pending, init)
		return
	}
	if err := e.transport.AddICECandidate(init); err != nil {
		e.log.WithError(err).Warn("failed to add candidate")
	}
}

func (e *Endpoint) flushCandidates() {
	queued := e.pending
	e.pending = nil
	for _, c := range queued {
		if err := e.transport.AddICECandidate(c); err != nil {
			e.log.WithError(err).Warn("failed to add buffered candidate")
		}
	}
}

func (e *Endpoint) handleTransportEvent(ev transportEvent) {
	if e.State() == Ended {
		return
	}

	if ev.candidate != nil {
		c := ev.candidate
		e.sendSignal(wire.SignalPayload{
			Type: wire.KindCandidate,
			Candidate: &wire.Candidate{
				Candidate:        c.Candidate,
				SDPMid:           c.SDPMid,
				SDPMLineIndex:    c.SDPMLineIndex,
				UsernameFragment: c.UsernameFragment,
			},
		})
		return
	}

	e.log.WithField("transport", ev.state.String()).Debug("transport state changed")
	switch ev.state {
	case webrtc.PeerConnectionStateConnected:
		e.transportUp = true
		e.maybeConnected()
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		e.end(WrapError("transport", ErrTransportFailure, ev.state.String()), true)
	}
}

// maybeConnected finishes the first negotiation once both descriptions are
// in place and the transport is up.
func (e *Endpoint) maybeConnected() {
	if e.State() != Negotiating || !e.transportUp || e.offerInFlight {
		return
	}
	if e.transport.RemoteDescription() == nil {
		return
	}
	e.log.Info("call connected")
	e.setState(Connected)
	e.applyPending()
}

// handleOfferRequest records the responder's request for the turn and
// grants it as soon as nothing of ours is outstanding.
func (e *Endpoint) handleOfferRequest() {
	if e.Role() != RoleInitiator {
		e.log.Debug("ignoring offer request")
		return
	}
	e.peerWaiting = true
	e.applyPending()
}

// handleOfferGrant makes the offer the responder asked the turn for. It is
// sent even when queued toggles cancelled out, since the initiator holds
// its own offers until it arrives.
func (e *Endpoint) handleOfferGrant() {
	if e.Role() != RoleResponder || !e.requested {
		e.log.Debug("ignoring unexpected offer grant")
		return
	}
	e.requested = false
	if e.State() != Connected {
		return
	}
	e.renegotiate(true)
}

func (e *Endpoint) toggleVideo() {
	if e.State() == Ended {
		return
	}

	want := e.video == nil
	if e.wantVideo != nil {
		want = !*e.wantVideo
	}
	e.wantVideo = &want
	e.applyPending()
}

// busy reports whether a renegotiation turn is taken.
func (e *Endpoint) busy() bool {
	return e.offerInFlight || e.requested || e.granted
}

// applyPending runs queued work once Connected with no turn taken. The
// initiator grants a waiting request before its own changes. The
// responder asks for the turn instead of offering.
func (e *Endpoint) applyPending() {
	if e.State() != Connected || e.busy() {
		return
	}

	if e.peerWaiting {
		e.peerWaiting = false
		e.granted = true
		e.sendSignal(wire.SignalPayload{Type: wire.KindOfferGrant})
		return
	}
	if e.wantVideo != nil && *e.wantVideo == (e.video != nil) {
		e.wantVideo = nil
	}
	if e.wantVideo == nil && !e.needOffer {
		return
	}
	if e.Role() == RoleResponder {
		e.requested = true
		e.sendSignal(wire.SignalPayload{Type: wire.KindOfferRequest})
		return
	}
	e.renegotiate(false)
}

// renegotiate applies a queued toggle and offers the resulting track set.
// Without force nothing is sent when the track set did not change.
func (e *Endpoint) renegotiate(force bool) {
	if e.wantVideo != nil {
		want := *e.wantVideo
		e.wantVideo = nil
		e.setVideo(want)
	}
	if e.State() != Connected || (!e.needOffer && !force) {
		return
	}
	e.setState(Renegotiating)
	e.sendOffer()
}

// setVideo attaches or detaches the video track. It reports whether the
// track set changed.
func (e *Endpoint) setVideo(on bool) bool {
	if on == (e.video != nil) {
		return false
	}

	if !on {
		if err := e.transport.RemoveTrack(e.videoOut); err != nil {
			e.log.WithError(err).Warn("failed to remove video track")
		}
		e.video.Stop()
		e.video = nil
		e.videoOut = nil
		e.needOffer = true
		e.log.Info("video off")
		return true
	}

	track, err := e.media.Video(e.ctx)
	if err != nil {
		e.log.WithError(err).Warn("video unavailable")
		if e.onNotice != nil {
			e.onNotice(NewError("enable video", err))
		}
		return false
	}
	sender, err := e.transport.AddTrack(track)
	if err != nil {
		track.Stop()
		e.fail("add video track", err)
		return false
	}
	e.video = track
	e.videoOut = sender
	e.needOffer = true
	e.log.Info("video on")
	return true
}

func (e *Endpoint) sendSignal(p wire.SignalPayload) {
	msg, err := wire.NewSignal(e.roomID, p)
	if err != nil {
		e.log.WithError(err).Error("failed to build signal")
		return
	}
	if err := e.signaler.Send(msg); err != nil {
		e.log.WithError(err).Debug("failed to send signal")
	}
}

func (e *Endpoint) fail(op string, err error) {
	e.log.WithError(err).Errorf("%s failed", op)
	e.end(WrapError(op, ErrTransportFailure, err.Error()), true)
}

// end moves to the terminal state: local tracks stop and the transport
// closes. notify sends a best-effort leaveRoom.
func (e *Endpoint) end(err error, notify bool) {
	if e.State() == Ended {
		return
	}

	if notify && e.State() != Idle {
		if sendErr := e.signaler.Send(&wire.Message{Type: wire.TypeLeaveRoom, RoomID: e.roomID}); sendErr != nil {
			e.log.WithError(sendErr).Debug("leave not delivered")
		}
	}

	if e.transport != nil {
		if cerr := e.transport.Close(); cerr != nil {
			e.log.WithError(cerr).Debug("failed to close transport")
		}
	}
	if e.audio != nil {
		e.audio.Stop()
		e.audio = nil
	}
	if e.video != nil {
		e.video.Stop()
		e.video = nil
	}
	e.pending = nil

	if err != nil {
		e.log.WithError(err).Info("session ended")
	} else {
		e.log.Info("session ended")
	}

	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	e.setState(Ended)
}
