// internal/domain/models/user.go
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the slice of the platform's user document this service touches.
//
// NOTE:
//   - Profile, role and credential fields are owned by the platform API and
//     are not mapped here. The socket service only ever writes LastSeenAt.
type User struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FullName   string             `bson:"full_name" json:"full_name"`
	Status     string             `bson:"status,omitempty" json:"status,omitempty"`
	LastSeenAt *time.Time         `bson:"last_seen_at,omitempty" json:"last_seen_at,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
