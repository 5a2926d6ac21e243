package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/config"
	"github.com/MarcoPoloResearchLab/inkroom/internal/persistence"
	"github.com/MarcoPoloResearchLab/inkroom/internal/rooms"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPingTimeout = 5 * time.Second

// openPersistence builds the snapshot adapter for the configured driver and
// returns a function releasing its resources.
func openPersistence(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (rooms.PersistenceAdapter, func(), error) {
	switch appConfig.PersistenceDriver {
	case config.DriverSQLite:
		db, err := persistence.OpenSQLite(appConfig.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		store, err := persistence.NewSQLiteStore(persistence.SQLiteStoreConfig{Database: db})
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { sqlDB.Close() }, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		store, err := persistence.NewRedisStore(persistence.RedisStoreConfig{
			Client:    client,
			KeyPrefix: appConfig.RedisKeyPrefix,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s unreachable: %w", appConfig.RedisAddress, err)
		}
		logger.Info("redis connected", zap.String("address", appConfig.RedisAddress), zap.Int("db", appConfig.RedisDB))
		return store, func() { client.Close() }, nil

	case config.DriverFile:
		store, err := persistence.NewFileStore(appConfig.FileDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("file snapshots enabled", zap.String("dir", appConfig.FileDir))
		return store, func() {}, nil

	case config.DriverMemory:
		logger.Warn("room snapshots are kept in memory and lost on restart")
		return persistence.NewMemoryStore(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported persistence driver %q", appConfig.PersistenceDriver)
	}
}
