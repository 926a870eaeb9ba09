package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tristan-zander/runback/domain"
	"github.com/tristan-zander/runback/eventstore"
	"github.com/tristan-zander/runback/internal/database"
	"github.com/tristan-zander/runback/utils"
)

var eventsAfter int

type printedEvent struct {
	Sequence   int               `json:"sequence"`
	EventType  string            `json:"event_type"`
	RecordedAt time.Time         `json:"recorded_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Data       domain.LobbyEvent `json:"data"`
}

var eventsCmd = &cobra.Command{
	Use:   "events <lobby-id>",
	Short: "Print a lobby's event stream as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lobbyID := args[0]
		if !utils.IsValidUUID(lobbyID) {
			return fmt.Errorf("%q is not a lobby id", lobbyID)
		}

		db, err := database.Connect(cfg.Database, nil)
		if err != nil {
			return err
		}

		store := eventstore.NewLobbyEventStore(db)
		envelopes, err := store.LoadSince(cmd.Context(), domain.LobbyAggregateType, lobbyID, eventsAfter)
		if err != nil {
			return err
		}
		if len(envelopes) == 0 {
			return fmt.Errorf("lobby %s has no events", lobbyID)
		}

		encoder := json.NewEncoder(os.Stdout)
		for _, env := range envelopes {
			if err := encoder.Encode(printedEvent{
				Sequence:   env.Sequence,
				EventType:  env.Event.EventType(),
				RecordedAt: env.RecordedAt,
				Metadata:   env.Metadata,
				Data:       env.Event,
			}); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsAfter, "after", 0, "only print events after this sequence")
	rootCmd.AddCommand(eventsCmd)
}
