// Package gormstorage implements storage.Gateway on top of GORM with a
// sequenced stroke_events table. Postgres and SQLite backends wrap it.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sketchroom/whiteboard/internal/logging"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/core"

	"gorm.io/gorm"
)

const maxAppendAttempts = 3

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB           *gorm.DB
	LogManager   *logging.SlogManager
	PollInterval time.Duration // 0 disables watching for writes by other processes
}

// Backend implements storage.Gateway and storage.EventLog.
type Backend struct {
	storage.Notifier

	deps     Dependencies
	mu       sync.Mutex
	seen     map[string]uint64
	stopChan chan struct{}
	wg       sync.WaitGroup
}

var (
	_ storage.Gateway  = (*Backend)(nil)
	_ storage.EventLog = (*Backend)(nil)
	_ storage.Lister   = (*Backend)(nil)
)

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps: deps,
		seen: make(map[string]uint64),
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the schema and starts the change watcher.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm storage: no database")
	}
	if err := b.deps.DB.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	b.stopChan = make(chan struct{})
	if b.deps.PollInterval > 0 {
		b.wg.Add(1)
		go b.watchLoop()
	}
	return nil
}

// Close stops the change watcher.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.stopChan = nil
	}
	b.wg.Wait()
	return nil
}

// OnRemoteChange subscribes fn to changes of roomID. Changes already stored
// when subscribing are not reported.
func (b *Backend) OnRemoteChange(roomID string, fn func(storage.Change)) func() {
	if seq, err := b.maxSeq(b.deps.DB, roomID); err == nil {
		b.markSeen(roomID, seq)
	}
	return b.Notifier.OnRemoteChange(roomID, fn)
}

// Save replaces the room log: earlier events are deleted and the log is
// stored as a clear followed by its strokes.
func (b *Backend) Save(ctx context.Context, roomID string, log core.DrawingLog) error {
	origin := storage.OriginFrom(ctx)
	var last uint64
	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, err := b.maxSeq(tx, roomID)
		if err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", roomID).Delete(&StrokeEvent{}).Error; err != nil {
			return fmt.Errorf("failed to clear room %s: %w", roomID, err)
		}

		events := core.SnapshotEvents(log)
		rows := make([]StrokeEvent, 0, len(events))
		for _, ev := range events {
			seq++
			row, err := toRow(roomID, origin, seq, ev)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to insert snapshot of room %s: %w", roomID, err)
		}
		last = seq
		return nil
	})
	if err != nil {
		return err
	}

	b.markSeen(roomID, last)
	b.Notify(storage.Change{RoomID: roomID, Origin: origin, Log: log})
	return nil
}

// Load folds the events of a room from its most recent clear onwards.
func (b *Backend) Load(ctx context.Context, roomID string) (core.DrawingLog, error) {
	db := b.deps.DB.WithContext(ctx)

	var from uint64
	err := db.Model(&StrokeEvent{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("room_id = ? AND kind = ?", roomID, string(core.EventClear)).
		Scan(&from).Error
	if err != nil {
		return core.DrawingLog{}, fmt.Errorf("failed to find last clear of room %s: %w", roomID, err)
	}

	events, err := b.events(db, roomID, from, true)
	if err != nil {
		return core.DrawingLog{}, err
	}
	return core.Fold(events), nil
}

// Append stores one event under the next sequence number of the room.
func (b *Backend) Append(ctx context.Context, roomID string, ev core.LogEvent) (uint64, error) {
	origin := storage.OriginFrom(ctx)

	var seq uint64
	var err error
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err = b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			last, err := b.maxSeq(tx, roomID)
			if err != nil {
				return err
			}
			row, err := toRow(roomID, origin, last+1, ev)
			if err != nil {
				return err
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to append event to room %s: %w", roomID, err)
			}
			seq = row.Seq
			return nil
		})
		if err == nil {
			break
		}
		// a concurrent writer may have taken the sequence number
		b.deps.LogManager.Logger().Debug("Retrying append", "room", roomID, "attempt", attempt+1, "error", err)
	}
	if err != nil {
		return 0, err
	}

	b.markSeen(roomID, seq)
	log, err := b.Load(ctx, roomID)
	if err != nil {
		return seq, err
	}
	b.Notify(storage.Change{RoomID: roomID, Origin: origin, Log: log})
	return seq, nil
}

// Events returns the events of a room after afterSeq.
func (b *Backend) Events(ctx context.Context, roomID string, afterSeq uint64) ([]core.LogEvent, error) {
	return b.events(b.deps.DB.WithContext(ctx), roomID, afterSeq, false)
}

// Rooms returns every room with stored events.
func (b *Backend) Rooms(ctx context.Context) ([]string, error) {
	var rooms []string
	err := b.deps.DB.WithContext(ctx).Model(&StrokeEvent{}).Distinct("room_id").Order("room_id").Pluck("room_id", &rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func (b *Backend) events(db *gorm.DB, roomID string, seq uint64, inclusive bool) ([]core.LogEvent, error) {
	cond := "room_id = ? AND seq > ?"
	if inclusive {
		cond = "room_id = ? AND seq >= ?"
	}
	var rows []StrokeEvent
	if err := db.Where(cond, roomID, seq).Order("seq").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read events of room %s: %w", roomID, err)
	}

	events := make([]core.LogEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.event()
		if err != nil {
			b.deps.LogManager.Logger().Warn("Skipping unreadable event", "room", roomID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (b *Backend) maxSeq(db *gorm.DB, roomID string) (uint64, error) {
	var seq uint64
	err := db.Model(&StrokeEvent{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("room_id = ?", roomID).
		Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence of room %s: %w", roomID, err)
	}
	return seq, nil
}

func (b *Backend) markSeen(roomID string, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq > b.seen[roomID] {
		b.seen[roomID] = seq
	}
}

// watchLoop reports writes made by other processes sharing the database.
func (b *Backend) watchLoop() {
	defer b.wg.Done()
	stop := b.stopChan
	ticker := time.NewTicker(b.deps.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, roomID := range b.Subscribed() {
				b.poll(roomID)
			}
		}
	}
}

func (b *Backend) poll(roomID string) {
	var latest StrokeEvent
	err := b.deps.DB.Where("room_id = ?", roomID).Order("seq DESC").Limit(1).Find(&latest).Error
	if err != nil {
		b.deps.LogManager.Logger().Error("Failed to poll room", "room", roomID, "error", err)
		return
	}

	b.mu.Lock()
	changed := latest.Seq > b.seen[roomID]
	if changed {
		b.seen[roomID] = latest.Seq
	}
	b.mu.Unlock()
	if !changed {
		return
	}

	log, err := b.Load(context.Background(), roomID)
	if err != nil {
		b.deps.LogManager.Logger().Error("Failed to load changed room", "room", roomID, "error", err)
		return
	}
	b.Notify(storage.Change{RoomID: roomID, Origin: latest.Origin, Log: log})
}
