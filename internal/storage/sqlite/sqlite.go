// Package sqlitestorage implements storage.Gateway on SQLite. It wraps the
// GORM backend; with no database path it keeps the database in memory and
// dumps it to disk periodically via VACUUM INTO.
package sqlitestorage

import (
	"fmt"
	"time"

	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/database"
	"github.com/sketchroom/whiteboard/internal/logging"
	gormstorage "github.com/sketchroom/whiteboard/internal/storage/gorm"

	"gorm.io/gorm"
)

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      config.SQLiteConfig
	log      *logging.SlogManager
	stopChan chan struct{}
	done     chan struct{}
}

// New opens the SQLite database and creates the backend.
func New(cfg config.SQLiteConfig, pollInterval time.Duration, logManager *logging.SlogManager) (*Backend, error) {
	db, err := database.OpenSqlite(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:           db,
		LogManager:   logManager,
		PollInterval: pollInterval,
	})

	return &Backend{
		Backend: gormBackend,
		db:      db,
		cfg:     cfg,
		log:     logManager,
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.inMemory() && b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 {
		b.stopChan = make(chan struct{})
		b.done = make(chan struct{})
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the
// database.
func (b *Backend) Close() error {
	if b.stopChan != nil {
		close(b.stopChan)
		<-b.done
		b.stopChan = nil
		if err := b.dump(); err != nil {
			b.log.Logger().Error("Final dump failed", "error", err)
		}
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *Backend) inMemory() bool {
	return b.cfg.Path == ""
}

func (b *Backend) dump() error {
	return database.DumpMemoryDBToDisk(b.db, b.cfg.DumpPath)
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := b.dump(); err != nil {
				b.log.Logger().Error("Error dumping to disk", "error", err)
			} else {
				b.log.Logger().Debug("Dumped to disk", "duration", time.Since(start))
			}
		}
	}
}
