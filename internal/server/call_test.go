package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amalgammas/link/internal/media"
	"github.com/amalgammas/link/internal/peer"
	"github.com/amalgammas/link/internal/signaler"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callTimeout = 15 * time.Second

// caller is a native endpoint on a real pion transport, joined through the
// test server.
type caller struct {
	ep     *peer.Endpoint
	runErr chan error
	tracks chan string

	mu             sync.Mutex
	pc             *peer.Connection
	renegotiations int
}

func newCaller(t *testing.T, srv *testServer, roomID, videoFile string) *caller {
	t.Helper()

	sig := signaler.New("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
	require.NoError(t, sig.Connect(context.Background()))
	t.Cleanup(sig.Close)

	c := &caller{
		runErr: make(chan error, 1),
		tracks: make(chan string, 8),
	}
	c.ep = peer.New(roomID, sig, &media.Source{VideoFile: videoFile}, c.newTransport,
		peer.WithStateHandler(func(s peer.State) {
			if s == peer.Renegotiating {
				c.mu.Lock()
				c.renegotiations++
				c.mu.Unlock()
			}
		}),
		peer.WithRemoteTrackHandler(func(track *webrtc.TrackRemote) {
			c.tracks <- track.Kind().String()
			go func() {
				buf := make([]byte, 1500)
				for {
					if _, _, err := track.Read(buf); err != nil {
						return
					}
				}
			}()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { c.runErr <- c.ep.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.ep.Done()
	})
	return c
}

// newTransport builds a peer connection that can reach the other caller
// over loopback with no ICE servers.
func (c *caller) newTransport() (peer.Transport, error) {
	var se webrtc.SettingEngine
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	pc, err := webrtc.NewAPI(webrtc.WithSettingEngine(se)).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.pc = &peer.Connection{PeerConnection: pc}
	c.mu.Unlock()
	return c.pc, nil
}

// settled reports whether the caller is connected with no exchange running
// after n renegotiations.
func (c *caller) settled(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep.State() == peer.Connected &&
		c.renegotiations == n &&
		c.pc != nil && c.pc.SignalingState() == webrtc.SignalingStateStable
}

func (c *caller) waitTrack(t *testing.T, kind string) {
	t.Helper()
	deadline := time.After(callTimeout)
	for {
		select {
		case got := <-c.tracks:
			if got == kind {
				return
			}
		case <-deadline:
			t.Fatalf("no remote %s track", kind)
		}
	}
}

func (c *caller) ended(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.runErr:
		return err
	case <-time.After(callTimeout):
		t.Fatal("call did not end")
		return nil
	}
}

// writeVP8 writes a short IVF clip the media source can loop.
func writeVP8(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[6:8], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 320)
	binary.LittleEndian.PutUint16(header[14:16], 240)
	binary.LittleEndian.PutUint32(header[16:20], 30)
	binary.LittleEndian.PutUint32(header[20:24], 1)
	binary.LittleEndian.PutUint32(header[24:28], 3)
	buf.Write(header)

	for i := 0; i < 3; i++ {
		payload := []byte{0x10, 0x02, 0x00, byte(i)}
		frame := make([]byte, 12)
		binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint64(frame[4:12], uint64(i))
		buf.Write(frame)
		buf.Write(payload)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

// Two native callers connect, both turn video on at the same moment, both
// turn it off again, and one hangs up.
func TestNativeCall(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	srv := newTestServer(t, Options{})
	rm := srv.rooms.Create()
	video := writeVP8(t)

	a := newCaller(t, srv, rm.ID, video)
	a.ep.Join()
	require.Eventually(t, func() bool { return a.ep.State() == peer.WaitingForPeer }, callTimeout, 10*time.Millisecond)

	b := newCaller(t, srv, rm.ID, video)
	b.ep.Join()

	require.Eventually(t, func() bool { return a.settled(0) && b.settled(0) }, callTimeout, 10*time.Millisecond)
	assert.Equal(t, peer.RoleInitiator, a.ep.Role())
	assert.Equal(t, peer.RoleResponder, b.ep.Role())
	a.waitTrack(t, "audio")
	b.waitTrack(t, "audio")

	// Both sides change their tracks at once. Each change gets its own
	// exchange and neither side drops the call.
	go a.ep.ToggleVideo()
	go b.ep.ToggleVideo()
	require.Eventually(t, func() bool { return a.settled(2) && b.settled(2) }, callTimeout, 10*time.Millisecond)
	a.waitTrack(t, "video")
	b.waitTrack(t, "video")

	go a.ep.ToggleVideo()
	go b.ep.ToggleVideo()
	require.Eventually(t, func() bool { return a.settled(4) && b.settled(4) }, callTimeout, 10*time.Millisecond)
	assert.NoError(t, a.ep.Err())
	assert.NoError(t, b.ep.Err())

	a.ep.Hangup()
	assert.NoError(t, a.ended(t))
	assert.ErrorIs(t, b.ended(t), peer.ErrPeerLeft)
}
