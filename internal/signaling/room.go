package signaling

// MaxMembers is the capacity of a room: one initiator and one responder.
const MaxMembers = 2

// membership is the ordered list of connections currently inside one room.
// The first entry joined first. Only the hub loop touches it.
type membership struct {
	roomID  string
	clients []*Client
}

func (m *membership) size() int {
	return len(m.clients)
}

func (m *membership) has(c *Client) bool {
	for _, member := range m.clients {
		if member == c {
			return true
		}
	}
	return false
}

func (m *membership) add(c *Client) {
	m.clients = append(m.clients, c)
}

// remove drops c and reports whether it was a member.
func (m *membership) remove(c *Client) bool {
	for i, member := range m.clients {
		if member == c {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot copies the member list so callers can send while the room changes.
func (m *membership) snapshot() []*Client {
	out := make([]*Client, len(m.clients))
	copy(out, m.clients)
	return out
}

// others returns every member except c.
func (m *membership) others(c *Client) []*Client {
	out := make([]*Client, 0, len(m.clients))
	for _, member := range m.clients {
		if member != c {
			out = append(out, member)
		}
	}
	return out
}
