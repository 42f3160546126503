package room

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// idBytes is the amount of entropy behind a room id. Ids are the lowercase
// hex encoding, so they are always 2*idBytes characters long.
const idBytes = 8

// Room is a rendezvous point for at most two participants.
type Room struct {
	ID        string
	CreatedAt time.Time
}

// Registry owns every live room for the lifetime of the process.
// It knows nothing about who is inside a room; membership belongs to the
// signaling hub.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	// entropy and now are swapped in tests.
	entropy io.Reader
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]*Room),
		entropy: rand.Reader,
		now:     time.Now,
	}
}

// Create mints a room with a fresh random id and stores it.
func (r *Registry) Create() *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Keep generating until we find one that's not in use
	var id string
	for {
		id = r.newID()
		if _, taken := r.rooms[id]; !taken {
			break
		}
		logrus.WithField("room_id", id).Warn("room id collision, regenerating")
	}

	room := &Room{ID: id, CreatedAt: r.now()}
	r.rooms[id] = room

	logrus.WithField("room_id", id).Debug("room created")
	return room
}

// Get looks a room up by id. Unknown and malformed ids both report false.
func (r *Registry) Get(id string) (*Room, bool) {
	if !ValidID(id) {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	return room, ok
}

// Len returns the number of stored rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Sweep drops rooms created more than maxAge ago and returns how many were
// removed. Participants already inside a swept room are unaffected; only new
// joins start failing.
func (r *Registry) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, room := range r.rooms {
		if room.CreatedAt.Before(cutoff) {
			delete(r.rooms, id)
			removed++
		}
	}
	return removed
}

func (r *Registry) newID() string {
	b := make([]byte, idBytes)
	if _, err := io.ReadFull(r.entropy, b); err != nil {
		logrus.WithError(err).Panic("failed to read random bytes for room id")
	}
	return hex.EncodeToString(b)
}

// ValidID reports whether id has the shape of a generated room id.
func ValidID(id string) bool {
	if len(id) != idBytes*2 {
		return false
	}
	for _, c := range id {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Link returns the public page URL for a room.
func Link(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/room/" + id
}

// RunSweeper calls Sweep every interval until ctx is done. swept, if not
// nil, is told how many rooms each pass removed.
func (r *Registry) RunSweeper(ctx context.Context, maxAge, interval time.Duration, swept func(int)) {
	if maxAge <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := r.Sweep(maxAge)
			if n == 0 {
				continue
			}
			logrus.WithFields(logrus.Fields{"removed": n, "remaining": r.Len()}).Info("swept expired rooms")
			if swept != nil {
				swept(n)
			}
		}
	}
}
