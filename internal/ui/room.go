package ui

import (
	"fmt"
)

// RoomInfo is the box printed after a room is minted.
type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func (r RoomInfo) View() string {
	content := fmt.Sprintf("%s Room Created!\n\n%s Room ID:    %s\n%s Room Link:  %s\n\n%s",
		IconSuccess,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
		MutedStyle.Render("Open the link in a browser or run: link call "+r.RoomID),
	)
	return SuccessBoxStyle.Render(content)
}
