package ui

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is printed when a call ends.
type CallSummary struct {
	RoomID       string
	Role         string
	Outcome      string
	Connected    time.Duration
	RemoteTracks int
	VideoToggles int
}

// SummaryView renders s as a two column table.
func SummaryView(title string, s CallSummary) string {
	t := table.NewWriter()
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.RoomID},
		{"Role", s.Role},
		{"Outcome", s.Outcome},
		{"Time connected", formatDuration(s.Connected)},
		{"Remote tracks", s.RemoteTracks},
		{"Video toggles", s.VideoToggles},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignLeft},
	})

	return t.Render()
}

func RenderSummary(title string, s CallSummary) {
	fmt.Println(SummaryView(title, s))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, sec)
	}
	return fmt.Sprintf("%02dm %02ds", m, sec)
}
