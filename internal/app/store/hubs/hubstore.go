// internal/app/store/hubs/hubstore.go
package hubstore

// Terminology: Identifiers
//   - HubID / hubID / hub_id: The MongoDB ObjectID (_id) of a hub document
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) of a user record

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store reads hub documents. Hubs are written by the platform API; the
// socket service never mutates them.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("hubs")}
}

// FindActiveHubWithMember returns the hub's ID if a hub with hubID exists,
// is not removed, and lists userID as a member. Only _id is fetched.
// Returns mongo.ErrNoDocuments when any of those conditions fail; callers
// cannot (and should not) tell which one.
func (s *Store) FindActiveHubWithMember(ctx context.Context, hubID, userID primitive.ObjectID) (primitive.ObjectID, error) {
	filter := bson.M{
		"_id":     hubID,
		"removed": bson.M{"$ne": true},
		"members": userID,
	}
	opts := options.FindOne().SetProjection(bson.M{"_id": 1})

	var row struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := s.c.FindOne(ctx, filter, opts).Decode(&row); err != nil {
		return primitive.NilObjectID, err
	}
	return row.ID, nil
}

// GetMembers returns the member list of a hub.
// Returns mongo.ErrNoDocuments if the hub does not exist.
func (s *Store) GetMembers(ctx context.Context, hubID primitive.ObjectID) ([]primitive.ObjectID, error) {
	opts := options.FindOne().SetProjection(bson.M{"members": 1})

	var row struct {
		Members []primitive.ObjectID `bson:"members"`
	}
	if err := s.c.FindOne(ctx, bson.M{"_id": hubID}, opts).Decode(&row); err != nil {
		return nil, err
	}
	return row.Members, nil
}
