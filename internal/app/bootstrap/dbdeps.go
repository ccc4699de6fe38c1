// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds back-end dependencies for the app.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	// Redis is nil when the broadcast relay is disabled.
	Redis *redis.Client

	// Runtime is allocated by ConnectDB and filled in by Startup. It is a
	// pointer so the components Startup builds reach BuildHandler and
	// Shutdown, which receive DBDeps by value.
	Runtime *Runtime
}
