// Package filestorage implements storage.Gateway with one compressed CBOR
// file per room.
package filestorage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/logging"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/core"
)

const (
	formatVersion = 1
	fileExt       = ".cbor.zst"
)

// roomFile is the on-disk document of one room.
type roomFile struct {
	Version int             `cbor:"1,keyasint"`
	RoomID  string          `cbor:"2,keyasint"`
	Origin  string          `cbor:"3,keyasint,omitempty"`
	SavedAt time.Time       `cbor:"4,keyasint"`
	Strokes core.DrawingLog `cbor:"5,keyasint"`
}

// stamp identifies one version of a room file.
type stamp struct {
	mod  time.Time
	size int64
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
	if encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(err)
	}
	if decoder, err = zstd.NewReader(nil); err != nil {
		panic(err)
	}
}

// Backend stores each room in <dir>/<room>.cbor.zst.
type Backend struct {
	storage.Notifier

	dir          string
	pollInterval time.Duration
	log          *logging.SlogManager

	mu       sync.Mutex
	seen     map[string]stamp
	stopChan chan struct{}
	wg       sync.WaitGroup
}

var (
	_ storage.Gateway = (*Backend)(nil)
	_ storage.Lister  = (*Backend)(nil)
)

// New creates a file backend rooted at cfg.Dir. A positive pollInterval
// watches the directory for writes by other processes.
func New(cfg config.FileConfig, pollInterval time.Duration, logManager *logging.SlogManager) *Backend {
	if logManager == nil {
		logManager = logging.NewSlogManager()
	}
	return &Backend{
		dir:          cfg.Dir,
		pollInterval: pollInterval,
		log:          logManager,
		seen:         make(map[string]stamp),
	}
}

// Init creates the storage directory and starts the watcher.
func (b *Backend) Init() error {
	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	b.stopChan = make(chan struct{})
	if b.pollInterval > 0 {
		b.wg.Add(1)
		go b.watchLoop()
	}
	return nil
}

// Close stops the watcher.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		b.stopChan = nil
	}
	b.wg.Wait()
	return nil
}

// Path returns the file that holds roomID.
func (b *Backend) Path(roomID string) string {
	return filepath.Join(b.dir, base64.RawURLEncoding.EncodeToString([]byte(roomID))+fileExt)
}

// OnRemoteChange subscribes fn to changes of roomID.
func (b *Backend) OnRemoteChange(roomID string, fn func(storage.Change)) func() {
	if st, ok := b.stat(roomID); ok {
		b.markSeen(roomID, st)
	}
	return b.Notifier.OnRemoteChange(roomID, fn)
}

// Save atomically replaces the room file.
func (b *Backend) Save(ctx context.Context, roomID string, log core.DrawingLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	origin := storage.OriginFrom(ctx)

	raw, err := encMode.Marshal(roomFile{
		Version: formatVersion,
		RoomID:  roomID,
		Origin:  origin,
		SavedAt: time.Now().UTC(),
		Strokes: log.Clone(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode room %s: %w", roomID, err)
	}
	data := encoder.EncodeAll(raw, nil)

	b.mu.Lock()
	err = writeAtomic(b.Path(roomID), data)
	if err == nil {
		if st, ok := b.stat(roomID); ok {
			b.seen[roomID] = st
		}
	}
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write room %s: %w", roomID, err)
	}

	b.Notify(storage.Change{RoomID: roomID, Origin: origin, Log: log})
	return nil
}

// Load reads the room file. Missing and malformed files load as an empty log.
func (b *Backend) Load(ctx context.Context, roomID string) (core.DrawingLog, error) {
	if err := ctx.Err(); err != nil {
		return core.DrawingLog{}, err
	}
	doc, err := b.read(roomID)
	if err != nil {
		if !os.IsNotExist(err) {
			b.log.Logger().Warn("Unreadable room file, loading empty log", "room", roomID, "error", err)
		}
		return core.DrawingLog{}, nil
	}
	return doc.Strokes.Clone(), nil
}

// Rooms lists the rooms stored in the directory.
func (b *Backend) Rooms(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	var rooms []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), fileExt)
		if e.IsDir() || !ok {
			continue
		}
		id, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil {
			continue
		}
		rooms = append(rooms, string(id))
	}
	return rooms, nil
}

func (b *Backend) read(roomID string) (roomFile, error) {
	data, err := os.ReadFile(b.Path(roomID))
	if err != nil {
		return roomFile{}, err
	}
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return roomFile{}, fmt.Errorf("decompress: %w", err)
	}
	var doc roomFile
	if err := decMode.Unmarshal(raw, &doc); err != nil {
		return roomFile{}, fmt.Errorf("decode: %w", err)
	}
	if doc.Version != formatVersion {
		return roomFile{}, fmt.Errorf("unsupported format version %d", doc.Version)
	}
	if doc.Strokes == nil {
		doc.Strokes = core.DrawingLog{}
	}
	return doc, nil
}

func (b *Backend) stat(roomID string) (stamp, bool) {
	info, err := os.Stat(b.Path(roomID))
	if err != nil {
		return stamp{}, false
	}
	return stamp{mod: info.ModTime(), size: info.Size()}, true
}

func (b *Backend) markSeen(roomID string, st stamp) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen[roomID] = st
}

// watchLoop reports room files rewritten by other processes.
func (b *Backend) watchLoop() {
	defer b.wg.Done()
	stop := b.stopChan
	ticker := time.NewTicker(b.pollInterval)
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
	b.mu.Lock()
	st, ok := b.stat(roomID)
	changed := ok && st != b.seen[roomID]
	if changed {
		b.seen[roomID] = st
	}
	b.mu.Unlock()
	if !changed {
		return
	}

	doc, err := b.read(roomID)
	if err != nil {
		b.log.Logger().Warn("Unreadable room file", "room", roomID, "error", err)
		doc = roomFile{Strokes: core.DrawingLog{}}
	}
	b.Notify(storage.Change{RoomID: roomID, Origin: doc.Origin, Log: doc.Strokes})
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".room-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
