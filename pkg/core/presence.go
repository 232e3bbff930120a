// pkg/core/presence.go
package core

import "time"

// CursorPosition is the broadcast pointer location of one participant.
type CursorPosition struct {
	Author string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// Room is the metadata the whiteboard core needs about a room. Passwords are
// only ever stored as a digest.
type Room struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	OwnerID             string    `json:"ownerId"`
	IsPublic            bool      `json:"isPublic"`
	IsPasswordProtected bool      `json:"isPasswordProtected"`
	PasswordHash        string    `json:"-"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}
