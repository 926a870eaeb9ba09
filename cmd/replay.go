package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var replayLobbyID string

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild lobby views from the event store",
	Long: `Replay every lobby stream, or one with --lobby, into the database and
cache views. Use it after changing how views are built.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		rebuilder := a.rebuilder()
		if replayLobbyID != "" {
			if err := rebuilder.RebuildOne(ctx, replayLobbyID); err != nil {
				return err
			}
			log.Info().Str("lobbyID", replayLobbyID).Msg("Lobby rebuilt")
			return nil
		}

		count, err := rebuilder.RebuildAll(ctx)
		if err != nil {
			return err
		}
		log.Info().Int("lobbies", count).Msg("Lobbies rebuilt")
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayLobbyID, "lobby", "", "rebuild only this lobby")
	rootCmd.AddCommand(replayCmd)
}
