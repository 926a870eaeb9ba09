package projections

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tristan-zander/runback/domain"
)

const feedBuffer = 16

// FeedMessage is pushed to live subscribers of a lobby
type FeedMessage struct {
	LobbyID    string            `json:"lobby_id"`
	Sequence   int               `json:"sequence"`
	EventType  string            `json:"event_type"`
	RecordedAt time.Time         `json:"recorded_at"`
	Data       domain.LobbyEvent `json:"data"`
}

// LobbyFeed fans committed events out to in-process subscribers, such as
// websocket connections watching a lobby. Slow subscribers miss messages
// rather than block dispatch.
type LobbyFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan FeedMessage
}

// NewLobbyFeed creates an empty feed
func NewLobbyFeed() *LobbyFeed {
	return &LobbyFeed{subs: make(map[string]map[int]chan FeedMessage)}
}

// Name returns the query name
func (f *LobbyFeed) Name() string {
	return "lobby_feed"
}

// Subscribe returns a channel of messages for one lobby and a cancel func
// that closes it.
func (f *LobbyFeed) Subscribe(lobbyID string) (<-chan FeedMessage, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	ch := make(chan FeedMessage, feedBuffer)
	if f.subs[lobbyID] == nil {
		f.subs[lobbyID] = make(map[int]chan FeedMessage)
	}
	f.subs[lobbyID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[lobbyID], id)
			if len(f.subs[lobbyID]) == 0 {
				delete(f.subs, lobbyID)
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers of a lobby
func (f *LobbyFeed) Subscribers(lobbyID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[lobbyID])
}

// Dispatch pushes events to the lobby's subscribers. It never fails.
func (f *LobbyFeed) Dispatch(ctx context.Context, aggregateID string, events []domain.LobbyEnvelope) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subs[aggregateID] {
		for _, env := range events {
			msg := FeedMessage{
				LobbyID:    env.AggregateID,
				Sequence:   env.Sequence,
				EventType:  env.Event.EventType(),
				RecordedAt: env.RecordedAt,
				Data:       env.Event,
			}
			select {
			case sub <- msg:
			default:
				log.Warn().Str("lobbyID", aggregateID).Int("sequence", env.Sequence).Msg("Dropping feed message for slow subscriber")
			}
		}
	}
	return nil
}
