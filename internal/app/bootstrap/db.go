// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/hubsocket/internal/app/system/indexes"
	"github.com/dalemusser/hubsocket/internal/app/system/relay"
	"github.com/dalemusser/hubsocket/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB connects to MongoDB and, when configured, to Redis.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(appCfg.MongoURI).
		SetAppName("hubsocket"))
	if err != nil {
		return DBDeps{}, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return DBDeps{}, fmt.Errorf("ping mongo: %w", err)
	}
	logger.Info("connected to MongoDB", zap.String("database", appCfg.MongoDatabase))

	deps := DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
		Runtime:       &Runtime{},
	}

	if appCfg.RedisURL != "" {
		rdb, err := relay.Connect(ctx, appCfg.RedisURL)
		if err != nil {
			_ = client.Disconnect(context.Background())
			return DBDeps{}, err
		}
		deps.Redis = rdb
		logger.Info("connected to Redis", zap.String("channel", appCfg.RedisChannel))
	}

	return deps, nil
}

// EnsureSchema creates the indexes the membership and last-seen queries use.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if err := indexes.EnsureAll(ctx, deps.MongoDatabase); err != nil {
		logger.Error("ensure indexes failed", zap.Error(err))
		return err
	}
	return nil
}
