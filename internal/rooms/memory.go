package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/sketchroom/whiteboard/pkg/core"
)

// MemoryStore keeps rooms in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]core.Room
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]core.Room),
		now:   time.Now,
	}
}

// Create stores a new room.
func (s *MemoryStore) Create(ctx context.Context, req CreateRoom) (core.Room, error) {
	room, err := newRoom(req, s.now())
	if err != nil {
		return core.Room{}, err
	}
	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()
	return room, nil
}

// List returns the rooms of ownerID, newest first.
func (s *MemoryStore) List(ctx context.Context, ownerID string) ([]core.Room, error) {
	s.mu.RLock()
	out := make([]core.Room, 0)
	for _, r := range s.rooms {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

// Get returns a room by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return core.Room{}, ErrNotFound
	}
	return r, nil
}

// Delete removes a room.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return ErrNotFound
	}
	delete(s.rooms, id)
	return nil
}

// VerifyPassword checks attempt against the room's password digest.
func (s *MemoryStore) VerifyPassword(ctx context.Context, id, attempt string) (bool, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return r.IsPasswordProtected && checkPassword(r.PasswordHash, attempt), nil
}
