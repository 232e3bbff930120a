package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sketchroom/whiteboard/pkg/core"
	"gorm.io/gorm"
)

// Record is the rooms table row.
type Record struct {
	ID                  string    `gorm:"primaryKey;size:36"`
	Name                string    `gorm:"size:128;not null"`
	OwnerID             string    `gorm:"size:64;not null;index"`
	IsPublic            bool      `gorm:"not null;default:false"`
	IsPasswordProtected bool      `gorm:"not null;default:false"`
	PasswordHash        string    `gorm:"size:72"`
	CreatedAt           time.Time `gorm:"index"`
	UpdatedAt           time.Time
}

// TableName sets the table name for Record.
func (*Record) TableName() string {
	return "rooms"
}

func toRecord(r core.Room) Record {
	return Record{
		ID:                  r.ID,
		Name:                r.Name,
		OwnerID:             r.OwnerID,
		IsPublic:            r.IsPublic,
		IsPasswordProtected: r.IsPasswordProtected,
		PasswordHash:        r.PasswordHash,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func (r Record) room() core.Room {
	return core.Room{
		ID:                  r.ID,
		Name:                r.Name,
		OwnerID:             r.OwnerID,
		IsPublic:            r.IsPublic,
		IsPasswordProtected: r.IsPasswordProtected,
		PasswordHash:        r.PasswordHash,
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

// GormStore keeps rooms in a SQL database.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

// NewGormStore migrates the rooms table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate rooms table: %w", err)
	}
	return &GormStore{db: db, now: time.Now}, nil
}

// Create inserts a new room.
func (s *GormStore) Create(ctx context.Context, req CreateRoom) (core.Room, error) {
	room, err := newRoom(req, s.now())
	if err != nil {
		return core.Room{}, err
	}
	rec := toRecord(room)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return core.Room{}, fmt.Errorf("failed to insert room: %w", err)
	}
	return room, nil
}

// List returns the rooms of ownerID, newest first.
func (s *GormStore) List(ctx context.Context, ownerID string) ([]core.Room, error) {
	var recs []Record
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").Order("id").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	out := make([]core.Room, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.room())
	}
	return out, nil
}

// Get returns a room by ID.
func (s *GormStore) Get(ctx context.Context, id string) (core.Room, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.Room{}, ErrNotFound
	}
	if err != nil {
		return core.Room{}, fmt.Errorf("failed to get room %s: %w", id, err)
	}
	return rec.room(), nil
}

// Delete removes a room.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Record{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete room %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// VerifyPassword checks attempt against the room's password digest.
func (s *GormStore) VerifyPassword(ctx context.Context, id, attempt string) (bool, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return r.IsPasswordProtected && checkPassword(r.PasswordHash, attempt), nil
}
