package signaling

import (
	"context"
	"fmt"

	"github.com/amalgammas/link/internal/metrics"
	"github.com/amalgammas/link/internal/room"
	"github.com/amalgammas/link/internal/wire"
	"github.com/sirupsen/logrus"
)

// RoomLookup is the part of the room registry the hub needs.
type RoomLookup interface {
	Get(id string) (*room.Room, bool)
}

// Inbound is a message read from a client, queued for the hub loop.
type Inbound struct {
	Client  *Client
	Message *wire.Message
}

type handlerFunc func(h *Hub, c *Client, msg *wire.Message)

// dispatch routes inbound messages by type. Unknown types are ignored.
var dispatch = map[string]handlerFunc{
	wire.TypeJoinRoom:  (*Hub).join,
	wire.TypeSignal:    (*Hub).relay,
	wire.TypeLeaveRoom: (*Hub).leave,
}

// Hub is the central brain of the signaling server.
// Every piece of membership state is owned by the single goroutine running
// Run; connections talk to it through the channels below.
type Hub struct {
	rooms   RoomLookup
	metrics *metrics.Metrics

	// clients holds every registered connection whose Send channel is open.
	clients map[*Client]struct{}

	// members maps room ids to the connections currently inside.
	members map[string]*membership

	register     chan *Client
	unregisterCh chan *Client
	inbound      chan Inbound
	done         chan struct{}
}

// NewHub creates a hub that checks room existence against rooms.
// m may be nil.
func NewHub(rooms RoomLookup, m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:        rooms,
		metrics:      m,
		clients:      make(map[*Client]struct{}),
		members:      make(map[string]*membership),
		register:     make(chan *Client),
		unregisterCh: make(chan *Client),
		inbound:      make(chan Inbound),
		done:         make(chan struct{}),
	}
}

// Register hands a new connection to the hub. It returns false once the hub
// has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

func (h *Hub) deliver(in Inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// Run is the hub's processing loop. It returns when ctx is cancelled, after
// closing every client's Send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.Send)
			}
			h.clients = map[*Client]struct{}{}
			h.members = map[string]*membership{}
			logrus.Info("signaling hub stopped")
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.metrics.ConnectionOpened()
			c.log().Debug("client registered")

		case c := <-h.unregisterCh:
			if h.drop(c) {
				c.log().Debug("client unregistered")
			}

		case in := <-h.inbound:
			// Messages still queued from a connection we already dropped.
			if _, ok := h.clients[in.Client]; !ok {
				continue
			}
			if handle, ok := dispatch[in.Message.Type]; ok {
				handle(h, in.Client, in.Message)
			} else {
				in.Client.log().WithField("type", in.Message.Type).Debug("unknown message type")
			}
		}
	}
}

// drop forgets c: it leaves its room (peers get peer-left) and its Send
// channel is closed. Reports false if c was already gone.
func (h *Hub) drop(c *Client) bool {
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	h.vacate(c)
	close(c.Send)
	h.metrics.ConnectionClosed()
	return true
}

// send queues msg for c without ever blocking the loop. A client whose
// buffer is full is dropped.
func (h *Hub) send(c *Client, msg *wire.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.Send <- msg:
	default:
		c.log().Warn("send buffer full, dropping client")
		h.metrics.SlowClientEvicted()
		h.drop(c)
	}
}

func (h *Hub) join(c *Client, msg *wire.Message) {
	roomID := msg.RoomID
	log := c.log().WithField("room_id", roomID)

	if roomID == "" {
		h.metrics.JoinRejected(metrics.ReasonInvalidRoom)
		h.send(c, wire.RoomError(wire.ReasonInvalidLink))
		return
	}

	if _, ok := h.rooms.Get(roomID); !ok {
		log.Info("join rejected: room not found")
		h.metrics.JoinRejected(metrics.ReasonNotFound)
		h.send(c, wire.RoomError(wire.ReasonNotFound))
		return
	}

	if c.roomID != "" {
		log.WithField("current_room", c.roomID).Info("join rejected: already in a room")
		h.metrics.JoinRejected(metrics.ReasonAlreadyIn)
		h.send(c, wire.RoomError(fmt.Sprintf("%s %s", wire.ReasonAlreadyInRoom, c.roomID)))
		return
	}

	m := h.members[roomID]
	if m != nil && m.size() >= MaxMembers {
		log.Info("join rejected: room is full")
		h.metrics.JoinRejected(metrics.ReasonFull)
		h.send(c, wire.Event(wire.TypeRoomFull))
		return
	}
	if m == nil {
		m = &membership{roomID: roomID}
		h.members[roomID] = m
		h.metrics.SetOccupiedRooms(len(h.members))
	}

	m.add(c)
	c.roomID = roomID

	participants := m.size()
	initiator := participants == 1
	h.metrics.Joined(initiator)
	log.WithFields(logrus.Fields{
		"participants": participants,
		"initiator":    initiator,
	}).Info("client joined room")

	h.send(c, wire.Joined(roomID, initiator))
	if _, ok := h.clients[c]; !ok {
		return
	}
	if initiator {
		h.send(c, wire.Event(wire.TypeWaiting))
		return
	}

	// Everyone, the responder included, learns the room is complete. The
	// initiator takes this as its cue to offer.
	for _, member := range m.snapshot() {
		h.send(member, wire.Event(wire.TypeReady))
	}
}

// relay forwards a signal payload verbatim to the other members of the room.
// Frames without a room id or payload, or from a connection that is not a
// member of that room, are dropped without telling anyone.
func (h *Hub) relay(c *Client, msg *wire.Message) {
	if msg.RoomID == "" || len(msg.Payload) == 0 {
		h.metrics.SignalDropped()
		return
	}

	m := h.members[msg.RoomID]
	if m == nil || !m.has(c) {
		c.log().WithField("room_id", msg.RoomID).Debug("dropping signal from non-member")
		h.metrics.SignalDropped()
		return
	}

	for _, other := range m.others(c) {
		h.send(other, &wire.Message{Type: wire.TypeSignal, Payload: msg.Payload})
		h.metrics.SignalRelayed()
	}
}

func (h *Hub) leave(c *Client, msg *wire.Message) {
	if msg.RoomID == "" || msg.RoomID != c.roomID {
		return
	}
	h.vacate(c)
}

// vacate removes c from its current room and tells whoever remains.
// Safe to call any number of times: only the first call after a join
// has an effect, which is what keeps peer-left exactly-once when an
// explicit leave races a disconnect.
func (h *Hub) vacate(c *Client) {
	roomID := c.roomID
	if roomID == "" {
		return
	}
	c.roomID = ""

	m := h.members[roomID]
	if m == nil || !m.remove(c) {
		return
	}

	remaining := m.snapshot()
	if len(remaining) == 0 {
		delete(h.members, roomID)
	}
	h.metrics.SetOccupiedRooms(len(h.members))

	c.log().WithFields(logrus.Fields{
		"room_id":   roomID,
		"remaining": len(remaining),
	}).Info("client left room")

	for _, member := range remaining {
		h.send(member, wire.Event(wire.TypePeerLeft))
	}
}
