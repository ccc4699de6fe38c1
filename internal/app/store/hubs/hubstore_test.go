package hubstore_test

import (
	"errors"
	"testing"

	hubstore "github.com/dalemusser/hubsocket/internal/app/store/hubs"
	"github.com/dalemusser/hubsocket/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestStore_FindActiveHubWithMember(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := hubstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a := fixtures.CreateUser(ctx, "Alice")
	b := fixtures.CreateUser(ctx, "Bob")
	hub := fixtures.CreateHub(ctx, "Gardeners", a.ID, b.ID)

	id, err := store.FindActiveHubWithMember(ctx, hub.ID, a.ID)
	if err != nil {
		t.Fatalf("FindActiveHubWithMember failed: %v", err)
	}
	if id != hub.ID {
		t.Errorf("ID: got %v, want %v", id, hub.ID)
	}
}

func TestStore_FindActiveHubWithMember_NotMember(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := hubstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a := fixtures.CreateUser(ctx, "Alice")
	c := fixtures.CreateUser(ctx, "Carol")
	hub := fixtures.CreateHub(ctx, "Gardeners", a.ID)

	_, err := store.FindActiveHubWithMember(ctx, hub.ID, c.ID)
	if !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments for non-member, got %v", err)
	}
}

func TestStore_FindActiveHubWithMember_Removed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := hubstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a := fixtures.CreateUser(ctx, "Alice")
	hub := fixtures.CreateRemovedHub(ctx, "Closed", a.ID)

	_, err := store.FindActiveHubWithMember(ctx, hub.ID, a.ID)
	if !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments for removed hub, got %v", err)
	}
}

func TestStore_FindActiveHubWithMember_UnknownHub(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := hubstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.FindActiveHubWithMember(ctx, primitive.NewObjectID(), primitive.NewObjectID())
	if !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments for unknown hub, got %v", err)
	}
}

func TestStore_GetMembers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := hubstore.New(db)
	fixtures := testutil.NewFixtures(t, db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	a := fixtures.CreateUser(ctx, "Alice")
	b := fixtures.CreateUser(ctx, "Bob")
	hub := fixtures.CreateHub(ctx, "Gardeners", a.ID, b.ID)

	members, err := store.GetMembers(ctx, hub.ID)
	if err != nil {
		t.Fatalf("GetMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	if members[0] != a.ID || members[1] != b.ID {
		t.Errorf("members: got %v, want [%v %v]", members, a.ID, b.ID)
	}
}

func TestStore_GetMembers_NotFound(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := hubstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	_, err := store.GetMembers(ctx, primitive.NewObjectID())
	if !errors.Is(err, mongo.ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}
}
