package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/amalgammas/link/internal/config"
	"github.com/amalgammas/link/internal/server"
	"github.com/amalgammas/link/internal/ui"
	"github.com/spf13/cobra"
)

var (
	newFlags clientFlags
	newJoin  bool
	newMedia mediaFlags
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a call room and print its link",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(newFlags.opts)
		if err != nil {
			return err
		}

		spinner := ui.NewConnectionSpinner("Creating room...")
		spinner.Start()
		created, err := createRoom(cmd.Context(), cfg)
		spinner.Stop()
		if err != nil {
			return err
		}

		fmt.Println(ui.RoomInfo{RoomID: created.ID, RoomLink: created.URL}.View())

		if !newJoin {
			return nil
		}
		return runCall(cmd.Context(), cfg, created.ID, newMedia)
	},
}

func init() {
	newFlags.register(newCmd)
	newMedia.register(newCmd)
	newCmd.Flags().BoolVarP(&newJoin, "join", "j", false, "join the room right away")
	rootCmd.AddCommand(newCmd)
}

func createRoom(ctx context.Context, cfg *config.Client) (*server.CreatedRoom, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RoomsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", cfg.Server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("server refused to create a room: %s", resp.Status)
	}

	var created server.CreatedRoom
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("invalid response from server: %w", err)
	}
	if created.URL == "" {
		created.URL = cfg.GetRoomLink(created.ID)
	}
	return &created, nil
}
