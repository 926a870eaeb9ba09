package eventstore

import (
	"gorm.io/gorm"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/domain"
)

// LobbyStore is the full set of store capabilities the lobby service relies on
type LobbyStore interface {
	cqrs.EventStore[domain.LobbyEvent]
	cqrs.DispatchSource[domain.LobbyEvent]
	cqrs.StreamLister
}

var (
	_ LobbyStore         = (*GormEventStore[domain.LobbyEvent])(nil)
	_ LobbyStore         = (*cqrs.MemoryEventStore[domain.LobbyEvent])(nil)
	_ cqrs.SnapshotStore = (*GormSnapshotStore)(nil)
)

// NewLobbyEventStore creates a GORM store for lobby streams
func NewLobbyEventStore(db *gorm.DB) *GormEventStore[domain.LobbyEvent] {
	return NewGormEventStore[domain.LobbyEvent](db, domain.LobbyEventCodec{})
}
