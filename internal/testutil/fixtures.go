package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/hubsocket/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateUser creates a test user with the given name.
func (f *Fixtures) CreateUser(ctx context.Context, fullName string) models.User {
	f.t.Helper()

	now := time.Now().UTC()
	user := models.User{
		ID:        primitive.NewObjectID(),
		FullName:  fullName,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := f.db.Collection("users").InsertOne(ctx, user); err != nil {
		f.t.Fatalf("failed to create test user: %v", err)
	}

	return user
}

// LoadUser reads a user back for assertions.
func (f *Fixtures) LoadUser(ctx context.Context, id primitive.ObjectID) models.User {
	f.t.Helper()

	var u models.User
	if err := f.db.Collection("users").FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		f.t.Fatalf("failed to load test user: %v", err)
	}
	return u
}

// CreateHub creates an active test hub with the given members.
func (f *Fixtures) CreateHub(ctx context.Context, name string, members ...primitive.ObjectID) models.Hub {
	f.t.Helper()
	return f.insertHub(ctx, name, false, members)
}

// CreateRemovedHub creates a hub flagged as removed.
func (f *Fixtures) CreateRemovedHub(ctx context.Context, name string, members ...primitive.ObjectID) models.Hub {
	f.t.Helper()
	return f.insertHub(ctx, name, true, members)
}

func (f *Fixtures) insertHub(ctx context.Context, name string, removed bool, members []primitive.ObjectID) models.Hub {
	f.t.Helper()

	if members == nil {
		members = []primitive.ObjectID{}
	}
	now := time.Now().UTC()
	hub := models.Hub{
		ID:        primitive.NewObjectID(),
		Name:      name,
		Members:   members,
		Removed:   removed,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := f.db.Collection("hubs").InsertOne(ctx, hub); err != nil {
		f.t.Fatalf("failed to create test hub: %v", err)
	}

	return hub
}
