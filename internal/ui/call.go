package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Controller is what the call screen drives.
type Controller interface {
	ToggleVideo()
	Hangup()
}

// Messages the caller sends into the program.
type (
	// StateMsg carries the endpoint state name.
	StateMsg string
	// RoleMsg carries the role assigned at join.
	RoleMsg string
	// RemoteTrackMsg reports a track received from the peer.
	RemoteTrackMsg struct{ Kind string }
	// NoticeMsg is a non-fatal problem to show.
	NoticeMsg struct{ Err error }
	// EndedMsg stops the program. Err is nil for a local hangup.
	EndedMsg struct{ Err error }
)

type tickMsg time.Time

// CallModel is the Bubble Tea model for an active call.
type CallModel struct {
	ctrl   Controller
	roomID string
	link   string

	state        string
	role         string
	videoOn      bool
	videoToggles int
	remoteTracks []string
	notice       string

	connectedAt time.Time
	connected   time.Duration
	now         time.Time

	spinner spinner.Model
	ended   bool
	err     error
}

// NewCallModel creates the call screen for roomID.
func NewCallModel(ctrl Controller, roomID, link string) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctrl:    ctrl,
		roomID:  roomID,
		link:    link,
		state:   "idle",
		spinner: s,
		now:     time.Now(),
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "v":
			if !m.ended {
				m.videoOn = !m.videoOn
				m.videoToggles++
				go m.ctrl.ToggleVideo()
			}
		case "q", "ctrl+c":
			if !m.ended {
				go m.ctrl.Hangup()
			}
		}

	case StateMsg:
		m.setState(string(msg))

	case RoleMsg:
		m.role = string(msg)

	case RemoteTrackMsg:
		m.remoteTracks = append(m.remoteTracks, msg.Kind)

	case NoticeMsg:
		if msg.Err != nil {
			m.notice = msg.Err.Error()
			m.videoOn = false
		}

	case EndedMsg:
		m.setState("ended")
		m.ended = true
		m.err = msg.Err
		return m, tea.Quit

	case tickMsg:
		m.now = time.Time(msg)
		if !m.ended {
			return m, tick()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) setState(s string) {
	if s == m.state {
		return
	}
	switch {
	case s == "connected" && m.connectedAt.IsZero():
		m.connectedAt = time.Now()
	case s == "ended" && !m.connectedAt.IsZero():
		m.connected = time.Since(m.connectedAt)
	}
	m.state = s
}

// Connected is how long the call was up.
func (m *CallModel) Connected() time.Duration {
	if m.connected > 0 || m.connectedAt.IsZero() {
		return m.connected
	}
	return time.Since(m.connectedAt)
}

// VideoToggles counts presses of v.
func (m *CallModel) VideoToggles() int { return m.videoToggles }

// RemoteTracks counts tracks received from the peer.
func (m *CallModel) RemoteTracks() int { return len(m.remoteTracks) }

// Role is the role shown on screen.
func (m *CallModel) Role() string { return m.role }

// Err is the reason the call ended.
func (m *CallModel) Err() error { return m.err }

func (m *CallModel) View() string {
	if m.ended {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s Call %s", IconPhone, m.roomID)))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(), StatusStyle(m.state).Render(stateLabel(m.state))))
	if m.role != "" {
		b.WriteString(MutedStyle.Render("  as " + m.role))
	}
	b.WriteString("\n\n")

	video := "off"
	if m.videoOn {
		video = "on"
	}
	b.WriteString(fmt.Sprintf("  %s audio  on\n", IconMic))
	b.WriteString(fmt.Sprintf("  %s video  %s\n", IconCamera, video))
	if len(m.remoteTracks) > 0 {
		b.WriteString(fmt.Sprintf("  %s peer   %s\n", IconPeer, strings.Join(m.remoteTracks, ", ")))
	}
	if !m.connectedAt.IsZero() {
		b.WriteString(MutedStyle.Render(fmt.Sprintf("\n  connected %s", formatDuration(m.now.Sub(m.connectedAt)))))
		b.WriteString("\n")
	}
	if m.state == "waiting-for-peer" && m.link != "" {
		b.WriteString("\n" + MutedStyle.Render(fmt.Sprintf("  %s Share: %s", IconWaiting, m.link)) + "\n")
	}
	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(IconWarning+" "+m.notice) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("v toggle video • q hang up"))
	return b.String()
}

func stateLabel(state string) string {
	switch state {
	case "idle", "joining":
		return "Joining room"
	case "waiting-for-peer":
		return "Waiting for the other side"
	case "peer-ready":
		return "Peer is here"
	case "negotiating":
		return "Connecting"
	case "connected":
		return "Connected"
	case "renegotiating":
		return "Updating media"
	case "ended":
		return "Call ended"
	default:
		return state
	}
}
