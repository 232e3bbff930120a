// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sync"

	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// roomRecord holds the event log of one room.
type roomRecord struct {
	events []core.LogEvent
	seq    uint64
}

// Backend keeps room logs in memory and optionally exports them to JSON on
// Close.
type Backend struct {
	storage.Notifier

	cfg   config.MemoryConfig
	rooms map[string]*roomRecord
	mu    sync.RWMutex

	lastExportPath string
}

var (
	_ storage.Gateway  = (*Backend)(nil)
	_ storage.EventLog = (*Backend)(nil)
	_ storage.Lister   = (*Backend)(nil)
)

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:   cfg,
		rooms: make(map[string]*roomRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports the rooms when an output directory is configured.
func (b *Backend) Close() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	return b.exportJSON()
}

func (b *Backend) room(id string) *roomRecord {
	r, ok := b.rooms[id]
	if !ok {
		r = &roomRecord{}
		b.rooms[id] = r
	}
	return r
}

func (r *roomRecord) push(ev core.LogEvent) uint64 {
	r.seq++
	ev.Seq = r.seq
	if ev.Stroke != nil {
		s := ev.Stroke.Clone()
		ev.Stroke = &s
	}
	r.events = append(r.events, ev)
	return r.seq
}

// Save replaces the room log with a snapshot.
func (b *Backend) Save(ctx context.Context, roomID string, log core.DrawingLog) error {
	b.mu.Lock()
	r := b.room(roomID)
	r.events = nil
	for _, ev := range core.SnapshotEvents(log) {
		r.push(ev)
	}
	b.mu.Unlock()

	b.Notify(storage.Change{RoomID: roomID, Origin: storage.OriginFrom(ctx), Log: log})
	return nil
}

// Load folds the stored events of a room.
func (b *Backend) Load(ctx context.Context, roomID string) (core.DrawingLog, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rooms[roomID]
	if !ok {
		return core.DrawingLog{}, nil
	}
	return core.Fold(r.events), nil
}

// Append stores one event and notifies subscribers with the folded log.
func (b *Backend) Append(ctx context.Context, roomID string, ev core.LogEvent) (uint64, error) {
	b.mu.Lock()
	r := b.room(roomID)
	seq := r.push(ev)
	log := core.Fold(r.events)
	b.mu.Unlock()

	b.Notify(storage.Change{RoomID: roomID, Origin: storage.OriginFrom(ctx), Log: log})
	return seq, nil
}

// Events returns the events of a room after afterSeq.
func (b *Backend) Events(ctx context.Context, roomID string, afterSeq uint64) ([]core.LogEvent, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.rooms[roomID]
	if !ok {
		return nil, nil
	}
	var out []core.LogEvent
	for _, ev := range r.events {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Rooms returns the IDs of every room with stored data.
func (b *Backend) Rooms(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.rooms))
	for id := range b.rooms {
		ids = append(ids, id)
	}
	return ids, nil
}
