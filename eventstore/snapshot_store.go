package eventstore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tristan-zander/runback/cqrs"
	"github.com/tristan-zander/runback/internal/database"
	"github.com/tristan-zander/runback/models"
)

// GormSnapshotStore keeps the latest snapshot per aggregate in the snapshots table
type GormSnapshotStore struct {
	db *gorm.DB
}

// NewGormSnapshotStore creates a new GORM snapshot store
func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

// LoadSnapshot returns the latest snapshot, or nil when there is none
func (s *GormSnapshotStore) LoadSnapshot(ctx context.Context, aggregateType, aggregateID string) (*cqrs.Snapshot, error) {
	var row models.Snapshot
	err := s.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		First(&row).Error
	if database.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Classify("load snapshot", err)
	}

	return &cqrs.Snapshot{
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Version:       row.Version,
		Payload:       row.Payload,
		CreatedAt:     row.CreatedAt,
	}, nil
}

// SaveSnapshot upserts the snapshot unless a newer one is already stored
func (s *GormSnapshotStore) SaveSnapshot(ctx context.Context, snapshot cqrs.Snapshot) error {
	row := models.Snapshot{
		AggregateType: snapshot.AggregateType,
		AggregateID:   snapshot.AggregateID,
		Version:       snapshot.Version,
		Payload:       snapshot.Payload,
		CreatedAt:     snapshot.CreatedAt,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "aggregate_type"}, {Name: "aggregate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "payload", "created_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "snapshots.version < excluded.version"},
		}},
	}).Create(&row).Error
	return database.Classify("save snapshot", err)
}
