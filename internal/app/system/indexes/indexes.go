// internal/app/system/indexes/indexes.go
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

/*
EnsureAll is called at startup. Each ensure* function is idempotent.
Errors are aggregated so every problem is visible and startup can fail fast.
The socket service only reads hubs and writes users.last_seen_at, so it owns
just the indexes those paths need.
*/
func EnsureAll(ctx context.Context, db *mongo.Database) error {
	var problems []string

	if err := ensureHubs(ctx, db); err != nil {
		problems = append(problems, "hubs: "+err.Error())
	}
	if err := ensureUsers(ctx, db); err != nil {
		problems = append(problems, "users: "+err.Error())
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Core helper                                                                 */
/* -------------------------------------------------------------------------- */

type existingIndex struct {
	Name string `bson:"name"`
	Key  bson.D `bson:"key"`
}

func keySig(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, kv := range keys {
		parts = append(parts, fmt.Sprintf("%s:%v", kv.Key, kv.Value))
	}
	return strings.Join(parts, ", ")
}

// Mongo/DocDB return IndexOptionsConflict when an index with the same keys
// already exists under a different name.
func isOptionsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "IndexOptionsConflict")
}

func listIndexSigs(ctx context.Context, coll *mongo.Collection) (map[string]string, error) {
	cur, err := coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	sigs := map[string]string{} // sig -> name
	for cur.Next(ctx) {
		var idx existingIndex
		if err := cur.Decode(&idx); err != nil {
			zap.L().Warn("failed to decode existing index",
				zap.String("collection", coll.Name()),
				zap.Error(err))
			continue
		}
		sigs[keySig(idx.Key)] = idx.Name
	}
	return sigs, cur.Err()
}

// ensureIndexSet creates each desired index unless one with the same key
// pattern already exists, in which case the existing index is reused.
func ensureIndexSet(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) error {
	var errs []string

	existing, err := listIndexSigs(ctx, coll)
	if err != nil {
		existing = map[string]string{} // collection may not exist yet
	}

	for _, m := range models {
		var desiredName string
		if m.Options != nil && m.Options.Name != nil {
			desiredName = *m.Options.Name
		}
		sig := keySig(m.Keys.(bson.D))
		start := time.Now()

		if name, ok := existing[sig]; ok {
			zap.L().Info("reusing existing index",
				zap.String("collection", coll.Name()),
				zap.String("name", name),
				zap.String("keys", sig))
			continue
		}

		created, err := coll.Indexes().CreateOne(ctx, m)
		if err != nil {
			if isOptionsConflictErr(err) {
				zap.L().Info("index exists under another name; reusing",
					zap.String("collection", coll.Name()),
					zap.String("name", desiredName),
					zap.String("keys", sig))
				continue
			}
			zap.L().Warn("index ensure failed",
				zap.String("collection", coll.Name()),
				zap.String("name", desiredName),
				zap.String("keys", sig),
				zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s(%s): %v", coll.Name(), desiredName, err))
			continue
		}

		zap.L().Info("index ensured",
			zap.String("collection", coll.Name()),
			zap.String("name", created),
			zap.String("keys", sig),
			zap.String("took", time.Since(start).String()))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

/* -------------------------------------------------------------------------- */
/* Collection-specific index sets                                              */
/* -------------------------------------------------------------------------- */

func ensureHubs(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("hubs")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// hub:join looks up {_id, removed, members}; _id already narrows to one
		// document, but the multikey index serves "hubs for user" lookups made
		// by the platform API against the same collection.
		{
			Keys:    bson.D{{Key: "members", Value: 1}, {Key: "removed", Value: 1}},
			Options: options.Index().SetName("idx_hubs_members_removed"),
		},
	})
}

func ensureUsers(ctx context.Context, db *mongo.Database) error {
	c := db.Collection("users")
	return ensureIndexSet(ctx, c, []mongo.IndexModel{
		// "recently active" listings sort on last_seen_at
		{
			Keys:    bson.D{{Key: "last_seen_at", Value: -1}},
			Options: options.Index().SetName("idx_users_last_seen_at"),
		},
	})
}
