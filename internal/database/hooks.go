package database

import (
	"time"

	"gorm.io/gorm"

	"github.com/tristan-zander/runback/internal/metrics"
)

const startTimeKey = "runback:start_time"

// RegisterMetricsHooks records every create, query, update and delete in the collector
func RegisterMetricsHooks(db *gorm.DB, collector *metrics.Collector) error {
	record := func(queryType string) func(*gorm.DB) {
		return func(db *gorm.DB) {
			collector.RecordDatabaseQuery(queryType, db.Error == nil || db.Error == gorm.ErrRecordNotFound, getDuration(db))
		}
	}

	if err := db.Callback().Create().After("gorm:create").Register("metrics:create", record(metrics.DBQueryTypeInsert)); err != nil {
		return err
	}
	if err := db.Callback().Query().After("gorm:query").Register("metrics:query", record(metrics.DBQueryTypeSelect)); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("metrics:update", record(metrics.DBQueryTypeUpdate)); err != nil {
		return err
	}
	return db.Callback().Delete().After("gorm:delete").Register("metrics:delete", record(metrics.DBQueryTypeDelete))
}

// RegisterDurationHooks stamps the start time of each operation
func RegisterDurationHooks(db *gorm.DB) error {
	if err := db.Callback().Create().Before("gorm:create").Register("duration:create", stampStart); err != nil {
		return err
	}
	if err := db.Callback().Query().Before("gorm:query").Register("duration:query", stampStart); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("duration:update", stampStart); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:delete").Register("duration:delete", stampStart)
}

func stampStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func getDuration(db *gorm.DB) time.Duration {
	if start, ok := db.InstanceGet(startTimeKey); ok {
		return time.Since(start.(time.Time))
	}
	return 0
}
