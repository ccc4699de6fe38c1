// internal/app/system/hubgate/hubgate.go
// Package hubgate admits connections to a hub's broadcast room only after a
// live membership check against the hub document.
//
// Membership is re-read on every join rather than cached on the connection:
// moderators can remove members, and members can leave, between login and
// the moment a client asks to enter a room.
package hubgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/hubsocket/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// RoomPrefix prefixes every hub room name.
const RoomPrefix = "hub:"

var (
	// ErrInvalidArgument means the hub id is not a well-formed ObjectID.
	ErrInvalidArgument = errors.New("invalid hub id")
	// ErrForbidden means no active hub with that id lists the requester as a
	// member. Missing, removed and not-a-member are deliberately the same error.
	ErrForbidden = errors.New("forbidden")
	// ErrUnavailable means the membership lookup itself failed or timed out.
	ErrUnavailable = errors.New("hub lookup failed")
)

// MembershipStore is the read side of the hubs collection.
type MembershipStore interface {
	FindActiveHubWithMember(ctx context.Context, hubID, userID primitive.ObjectID) (primitive.ObjectID, error)
	GetMembers(ctx context.Context, hubID primitive.ObjectID) ([]primitive.ObjectID, error)
}

// PresenceReader answers which of a set of users are online.
type PresenceReader interface {
	OnlineAmong(userIDs []string) []string
}

// RoomConn is the transport connection being admitted to or removed from a room.
type RoomConn interface {
	Join(room string)
	Leave(room string)
}

// Gate authorizes room subscriptions. It never mutates presence state.
type Gate struct {
	store    MembershipStore
	presence PresenceReader
	log      *zap.Logger
}

// New creates a Gate.
func New(store MembershipStore, presence PresenceReader, logger *zap.Logger) *Gate {
	return &Gate{store: store, presence: presence, log: logger}
}

// RoomName returns the room a hub's broadcasts are addressed to.
func RoomName(hubID string) string {
	return RoomPrefix + hubID
}

// ParseHubID validates a client-supplied hub id.
func ParseHubID(raw string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, ErrInvalidArgument
	}
	return oid, nil
}

// Join subscribes conn to the hub's room if userID is a member of an active
// hub with that id. On any error conn is left untouched.
func (g *Gate) Join(ctx context.Context, userID string, conn RoomConn, hubID string) error {
	hid, err := ParseHubID(hubID)
	if err != nil {
		return err
	}
	uid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		// A user id that is not an ObjectID cannot be in any member list.
		return ErrForbidden
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Lookup(), g.log, "hub membership lookup")
	defer cancel()

	if _, err := g.store.FindActiveHubWithMember(ctx, hid, uid); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrForbidden
		}
		g.log.Warn("hub membership lookup failed",
			zap.String("hub_id", hid.Hex()),
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	conn.Join(RoomName(hid.Hex()))
	return nil
}

// Leave unsubscribes conn from the hub's room. Invalid ids are ignored;
// leaving a room the connection never joined is harmless.
func (g *Gate) Leave(conn RoomConn, hubID string) {
	hid, err := ParseHubID(hubID)
	if err != nil {
		return
	}
	conn.Leave(RoomName(hid.Hex()))
}

// WhoIsOnline returns the hub's members that are currently online, excluding
// userID itself. Member order from the hub document is preserved.
func (g *Gate) WhoIsOnline(ctx context.Context, userID, hubID string) ([]string, error) {
	hid, err := ParseHubID(hubID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := timeouts.WithTimeout(ctx, timeouts.Lookup(), g.log, "hub member list")
	defer cancel()

	members, err := g.store.GetMembers(ctx, hid)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	ids := make([]string, 0, len(members))
	for _, m := range members {
		if id := m.Hex(); id != userID {
			ids = append(ids, id)
		}
	}
	return g.presence.OnlineAmong(ids), nil
}
