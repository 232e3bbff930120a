// Package rooms stores room metadata and decides who may enter a room.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sketchroom/whiteboard/pkg/core"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound     = errors.New("room not found")
	ErrUnauthorized = errors.New("not allowed to enter room")
	ErrInvalidRoom  = errors.New("invalid room")
)

// hashCost is lowered by tests.
var hashCost = bcrypt.DefaultCost

// CreateRoom is a request to create a room. An empty Password leaves the
// room unprotected.
type CreateRoom struct {
	Name     string `json:"name"`
	OwnerID  string `json:"ownerId"`
	IsPublic bool   `json:"isPublic"`
	Password string `json:"password,omitempty"`
}

// Credentials identify a participant asking to enter a room.
type Credentials struct {
	UserID   string
	Password string
}

// Store is the room metadata collaborator.
type Store interface {
	Create(ctx context.Context, req CreateRoom) (core.Room, error)
	// List returns the rooms owned by ownerID, newest first.
	List(ctx context.Context, ownerID string) ([]core.Room, error)
	Get(ctx context.Context, id string) (core.Room, error)
	Delete(ctx context.Context, id string) error
	VerifyPassword(ctx context.Context, id, attempt string) (bool, error)
}

// Gate authorizes room access against a Store.
type Gate struct {
	Store Store
}

// Authorize lets the owner and everyone into public rooms. Other rooms need
// a matching password when they are password protected.
func (g Gate) Authorize(ctx context.Context, roomID string, cred Credentials) error {
	room, err := g.Store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room.IsPublic || (cred.UserID != "" && room.OwnerID == cred.UserID) {
		return nil
	}
	if !room.IsPasswordProtected || cred.Password == "" {
		return ErrUnauthorized
	}
	ok, err := g.Store.VerifyPassword(ctx, roomID, cred.Password)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func newRoom(req CreateRoom, now time.Time) (core.Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return core.Room{}, fmt.Errorf("%w: name is required", ErrInvalidRoom)
	}
	if req.OwnerID == "" {
		return core.Room{}, fmt.Errorf("%w: owner is required", ErrInvalidRoom)
	}

	room := core.Room{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   req.OwnerID,
		IsPublic:  req.IsPublic,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), hashCost)
		if err != nil {
			return core.Room{}, fmt.Errorf("hash password: %w", err)
		}
		room.IsPasswordProtected = true
		room.PasswordHash = string(hash)
	}
	return room, nil
}

func checkPassword(hash, attempt string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(attempt)) == nil
}

func sortNewestFirst(rooms []core.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
}
