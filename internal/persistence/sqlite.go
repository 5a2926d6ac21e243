package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&RoomSnapshot{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// SQLiteStoreConfig describes the dependencies of a SQLiteStore.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// SQLiteStore keeps one snapshot row per room.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewSQLiteStore constructs a store over an opened database.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("persistence: database is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLiteStore{db: cfg.Database, clock: clock}, nil
}

// Load returns the stored snapshot for roomID.
func (s *SQLiteStore) Load(ctx context.Context, roomID string) (drawing.Snapshot, bool, error) {
	var record RoomSnapshot
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return drawing.Snapshot{}, false, nil
	}
	if err != nil {
		return drawing.Snapshot{}, false, fmt.Errorf("persistence: load room %q: %w", roomID, err)
	}
	snapshot, err := decodeSnapshot([]byte(record.PayloadJSON))
	if err != nil {
		return drawing.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save upserts the snapshot row for roomID.
func (s *SQLiteStore) Save(ctx context.Context, roomID string, snapshot drawing.Snapshot) error {
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	record := RoomSnapshot{
		RoomID:           roomID,
		PayloadJSON:      string(payload),
		OperationCount:   int64(len(snapshot.Log)),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload_json", "operation_count", "updated_at_s"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("persistence: save room %q: %w", roomID, err)
	}
	return nil
}
