package persistence

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillOperationCounts = "2026-09-18_backfill_room_operation_counts"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillOperationCounts, apply: backfillOperationCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillOperationCounts fills operation_count for rows written before the
// column existed. Rows whose payload cannot be decoded keep a zero count.
func backfillOperationCounts(db *gorm.DB) error {
	var records []RoomSnapshot
	if err := db.Where("operation_count = 0").Find(&records).Error; err != nil {
		return err
	}
	for _, record := range records {
		snapshot, err := decodeSnapshot([]byte(record.PayloadJSON))
		if err != nil || len(snapshot.Log) == 0 {
			continue
		}
		err = db.Model(&RoomSnapshot{}).
			Where("room_id = ?", record.RoomID).
			Update("operation_count", len(snapshot.Log)).Error
		if err != nil {
			return err
		}
	}
	return nil
}
