// Package postgres implements storage.Gateway on PostgreSQL. It wraps the
// GORM backend and owns the connection lifecycle.
package postgres

import (
	"fmt"
	"time"

	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/database"
	"github.com/sketchroom/whiteboard/internal/logging"
	gormstorage "github.com/sketchroom/whiteboard/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds the dependencies of the Postgres backend. If DB is nil
// the backend connects with Config on Init.
type Dependencies struct {
	DB           *gorm.DB
	Config       config.PostgresConfig
	LogManager   *logging.SlogManager
	PollInterval time.Duration
}

// Backend stores stroke events in PostgreSQL.
type Backend struct {
	*gormstorage.Backend
	deps  Dependencies
	owned bool
}

// New creates a new Postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{deps: deps}
}

// Init connects when needed, migrates the schema and starts watching for
// writes by other relay instances.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.OpenPostgres(b.deps.Config)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to access sql interface: %w", err)
		}
		if err = sqlDB.Ping(); err != nil {
			return fmt.Errorf("failed to validate connection: %w", err)
		}
		sqlDB.SetMaxOpenConns(10)
		b.deps.DB = db
		b.owned = true
		b.deps.LogManager.Logger().Info("Connected to Postgres", "host", b.deps.Config.Host, "database", b.deps.Config.Database)
	}

	b.Backend = gormstorage.New(gormstorage.Dependencies{
		DB:           b.deps.DB,
		LogManager:   b.deps.LogManager,
		PollInterval: b.deps.PollInterval,
	})
	return b.Backend.Init()
}

// Close stops the watcher and releases a connection opened by Init.
func (b *Backend) Close() error {
	if b.Backend == nil {
		return nil
	}
	if err := b.Backend.Close(); err != nil {
		return err
	}
	if !b.owned {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
