package room

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_IDShape(t *testing.T) {
	reg := NewRegistry()

	room := reg.Create()
	require.NotNil(t, room)
	assert.Len(t, room.ID, 16)
	assert.True(t, ValidID(room.ID), "id %q should be lowercase hex", room.ID)
	assert.False(t, room.CreatedAt.IsZero())
}

func TestCreate_ManyDistinct(t *testing.T) {
	reg := NewRegistry()
	const n = 20000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := reg.Create().ID
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s after %d rooms", id, i)
		seen[id] = struct{}{}
	}
	assert.Equal(t, n, reg.Len())
}

func TestCreate_RegeneratesOnCollision(t *testing.T) {
	reg := NewRegistry()
	// The first two draws collide, the third one is fresh.
	same := bytes.Repeat([]byte{0xab}, idBytes)
	fresh := bytes.Repeat([]byte{0xcd}, idBytes)
	reg.entropy = bytes.NewReader(append(append(append([]byte{}, same...), same...), fresh...))

	first := reg.Create()
	second := reg.Create()

	assert.Equal(t, strings.Repeat("ab", idBytes), first.ID)
	assert.Equal(t, strings.Repeat("cd", idBytes), second.ID)
	assert.Equal(t, 2, reg.Len())
}

func TestCreate_Concurrent(t *testing.T) {
	reg := NewRegistry()
	const workers, perWorker = 8, 250

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := reg.Create().ID
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, workers*perWorker)
}

func TestGet(t *testing.T) {
	reg := NewRegistry()
	room := reg.Create()

	got, ok := reg.Get(room.ID)
	require.True(t, ok)
	assert.Same(t, room, got)

	tests := []struct {
		name string
		id   string
	}{
		{"never created", "0123456789abcdef"},
		{"empty", ""},
		{"too short", room.ID[:8]},
		{"too long", room.ID + "00"},
		{"uppercase", strings.ToUpper(room.ID)},
		{"not hex", "zzzzzzzzzzzzzzzz"},
		{"path traversal", "../../etc/passwd"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.id == room.ID {
				t.Skip("random id happened to match")
			}
			_, ok := reg.Get(tc.id)
			assert.False(t, ok)
		})
	}
}

func TestSweep(t *testing.T) {
	reg := NewRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	old := reg.Create()
	now = now.Add(2 * time.Hour)
	recent := reg.Create()

	assert.Equal(t, 0, reg.Sweep(0), "zero ttl never evicts")
	assert.Equal(t, 1, reg.Sweep(time.Hour))

	_, ok := reg.Get(old.ID)
	assert.False(t, ok)
	_, ok = reg.Get(recent.ID)
	assert.True(t, ok)
}

func TestLink(t *testing.T) {
	assert.Equal(t, "https://example.com/room/abc", Link("https://example.com", "abc"))
	assert.Equal(t, "https://example.com/room/abc", Link("https://example.com/", "abc"))
	assert.Equal(t, "http://localhost:3000/room/abc", Link("http://localhost:3000//", "abc"))
}

func TestRunSweeper(t *testing.T) {
	reg := NewRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	reg.Create()
	reg.Create()
	now = now.Add(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		reg.RunSweeper(ctx, time.Hour, 5*time.Millisecond, func(n int) { swept <- n })
		close(done)
	}()

	select {
	case n := <-swept:
		assert.Equal(t, 2, n)
	case <-time.After(time.Second):
		t.Fatal("sweeper never ran")
	}
	assert.Zero(t, reg.Len())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper ignored cancellation")
	}
}

func TestRunSweeperDisabled(t *testing.T) {
	reg := NewRegistry()
	// Returns immediately rather than blocking on a zero ttl.
	reg.RunSweeper(context.Background(), 0, time.Millisecond, nil)
}
