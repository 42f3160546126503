package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/amalgammas/link/internal/config"
	"github.com/amalgammas/link/internal/media"
	"github.com/amalgammas/link/internal/peer"
	"github.com/amalgammas/link/internal/signaler"
	"github.com/amalgammas/link/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	callFlags clientFlags
	callMedia mediaFlags
)

var callCmd = &cobra.Command{
	Use:   "call <room-id|room-link>",
	Short: "Join a call room",
	Long: `Join a call room by ID or by the link printed by "link new".

Audio is always sent. Without --audio the track carries silence. Press v
to send the --video file, q to hang up.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := config.ParseRoomRef(args[0])
		if err != nil {
			return err
		}

		cfg, err := config.LoadClient(callFlags.opts)
		if err != nil {
			return err
		}
		return runCall(cmd.Context(), cfg, roomID, callMedia)
	},
}

// mediaFlags select the files played into the call.
type mediaFlags struct {
	audio string
	video string
}

func (f *mediaFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.audio, "audio", "a", "", "Ogg/Opus file looped as the microphone")
	cmd.Flags().StringVar(&f.video, "video", "", "IVF (VP8/VP9) file looped as the camera")
}

func init() {
	callFlags.register(callCmd)
	callMedia.register(callCmd)
	rootCmd.AddCommand(callCmd)
}

func runCall(ctx context.Context, cfg *config.Client, roomID string, mf mediaFlags) error {
	if cfg.ForceRelay && cfg.TURNServer == "" {
		return fmt.Errorf("--force-relay needs a TURN server, set --turn or TURN_SERVER")
	}

	sig := signaler.New(cfg.WebSocketURL)
	spinner := ui.NewConnectionSpinner("Connecting to " + cfg.Server + "...")
	spinner.Start()
	if err := sig.Connect(ctx); err != nil {
		spinner.Stop()
		return err
	}
	spinner.Success("Connected to " + cfg.Server)
	defer sig.Close()

	s := newSession(cfg, roomID)
	ep := peer.New(roomID, sig, &media.Source{AudioFile: mf.audio, VideoFile: mf.video},
		func() (peer.Transport, error) { return peer.NewPeerConnection(cfg) },
		peer.WithStateHandler(s.onState),
		peer.WithRemoteTrackHandler(s.onRemoteTrack),
		peer.WithNoticeHandler(s.onNotice),
	)
	err := s.run(ctx, ep)

	ui.RenderSummary(fmt.Sprintf("%s Call Summary", ui.IconPhone), ui.CallSummary{
		RoomID:       roomID,
		Role:         ep.Role().String(),
		Outcome:      outcome(err),
		Connected:    s.model.Connected(),
		RemoteTracks: s.model.RemoteTracks(),
		VideoToggles: s.model.VideoToggles(),
	})

	if errors.Is(err, peer.ErrPeerLeft) {
		ui.PrintInfo("The other side left the call.")
		return nil
	}
	return err
}

// session glues an endpoint to the call screen.
type session struct {
	roomID string
	link   string

	model   *ui.CallModel
	program *tea.Program
	ep      *peer.Endpoint
}

func newSession(cfg *config.Client, roomID string) *session {
	return &session{roomID: roomID, link: cfg.GetRoomLink(roomID)}
}

// run drives the call until the endpoint ends and returns why it ended.
// Endpoint callbacks only fire once Run has started, after the program
// exists.
func (s *session) run(ctx context.Context, ep *peer.Endpoint) error {
	s.ep = ep
	s.model = ui.NewCallModel(ep, s.roomID, s.link)
	s.program = tea.NewProgram(s.model, tea.WithContext(ctx))

	runErr := make(chan error, 1)
	go func() { runErr <- ep.Run(ctx) }()
	go func() {
		<-ep.Done()
		s.program.Send(ui.EndedMsg{Err: ep.Err()})
	}()
	go ep.Join()

	if _, err := s.program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		logrus.WithError(err).Debug("call screen stopped")
	}

	// The screen can stop on its own, e.g. when ctx is cancelled.
	ep.Hangup()
	<-ep.Done()
	<-runErr
	return ep.Err()
}

func (s *session) send(msg tea.Msg) {
	if s.program != nil {
		s.program.Send(msg)
	}
}

func (s *session) onState(state peer.State) {
	s.send(ui.StateMsg(state.String()))
	switch state {
	case peer.WaitingForPeer, peer.PeerReady:
		s.send(ui.RoleMsg(s.ep.Role().String()))
	}
}

func (s *session) onRemoteTrack(track *webrtc.TrackRemote) {
	s.send(ui.RemoteTrackMsg{Kind: track.Kind().String()})
	go drain(track)
}

func (s *session) onNotice(err error) {
	s.send(ui.NoticeMsg{Err: err})
}

// drain reads RTP off a remote track so its buffers never fill. There is no
// playback.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "hung up"
	case errors.Is(err, peer.ErrPeerLeft):
		return "peer left"
	case errors.Is(err, peer.ErrRoomFull):
		return "room full"
	case errors.Is(err, peer.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, peer.ErrAlreadyInRoom):
		return "already in a room"
	case errors.Is(err, peer.ErrMediaAccessDenied):
		return "no media"
	case errors.Is(err, peer.ErrTransportFailure):
		return "connection lost"
	case errors.Is(err, peer.ErrSignalingClosed):
		return "server connection lost"
	default:
		return "failed"
	}
}
