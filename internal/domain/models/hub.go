// internal/domain/models/hub.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Hub is a community space with its own real-time room.
//
// NOTE:
//   - Members is the authoritative list of users allowed into the hub's room.
//     Moderators is a subset of Members.
//   - Removed hubs keep their document; Removed=true hides them from every
//     membership check.
type Hub struct {
	ID          primitive.ObjectID   `bson:"_id" json:"id"`
	Name        string               `bson:"name" json:"name"`
	Description string               `bson:"description,omitempty" json:"description,omitempty"`
	Members     []primitive.ObjectID `bson:"members" json:"members"`
	Moderators  []primitive.ObjectID `bson:"moderators,omitempty" json:"moderators,omitempty"`
	Removed     bool                 `bson:"removed" json:"removed"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
