package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sketchroom/whiteboard/internal/api"
	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/database"
	"github.com/sketchroom/whiteboard/internal/logging"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/internal/storage"
	filestorage "github.com/sketchroom/whiteboard/internal/storage/file"
	"github.com/sketchroom/whiteboard/internal/storage/memory"
	pgstorage "github.com/sketchroom/whiteboard/internal/storage/postgres"
	sqlitestorage "github.com/sketchroom/whiteboard/internal/storage/sqlite"
)

// backend is an initialised drawing gateway and the room store that goes
// with it.
type backend struct {
	Gateway storage.Gateway
	Rooms   rooms.Store

	closers []func() error
}

// Close releases the gateway and any connection opened for it.
func (b *backend) Close() error {
	var errs []error
	if b.Gateway != nil {
		errs = append(errs, b.Gateway.Close())
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackend creates and initialises the configured persistence backend.
// Database backends keep room metadata in the same database; the others keep
// it in memory, except remote which asks the remote server.
func openBackend(cfg config.StorageConfig, logManager *logging.SlogManager, zlog zerolog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Type {
	case "", "memory":
		b.Gateway = memory.New(cfg.Memory)
		b.Rooms = rooms.NewMemoryStore()

	case "file":
		b.Gateway = filestorage.New(cfg.File, cfg.PollInterval, logManager)
		b.Rooms = rooms.NewMemoryStore()

	case "sqlite":
		sb, err := sqlitestorage.New(cfg.SQLite, cfg.PollInterval, logManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		store, err := rooms.NewGormStore(sb.DB())
		if err != nil {
			sb.Close()
			return nil, err
		}
		b.Gateway, b.Rooms = sb, store

	case "postgres":
		dbm := database.NewManager(zlog)
		if err := dbm.ConnectPostgres(cfg.Postgres); err != nil {
			return nil, err
		}
		b.closers = append(b.closers, dbm.Close)
		store, err := rooms.NewGormStore(dbm.DB)
		if err != nil {
			dbm.Close()
			return nil, err
		}
		b.Gateway = pgstorage.New(pgstorage.Dependencies{
			DB:           dbm.DB,
			Config:       cfg.Postgres,
			LogManager:   logManager,
			PollInterval: cfg.PollInterval,
		})
		b.Rooms = store

	case "remote":
		client := api.New(cfg.Remote.ServerURL, cfg.Remote.APIKey,
			api.WithTimeout(cfg.Remote.Timeout),
			api.WithPollInterval(cfg.PollInterval),
			api.WithLogger(logManager.Component("remote")),
		)
		b.Gateway, b.Rooms = client, client

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}

	if err := b.Gateway.Init(); err != nil {
		for i := len(b.closers) - 1; i >= 0; i-- {
			b.closers[i]()
		}
		return nil, fmt.Errorf("failed to initialize %s storage: %w", cfg.Type, err)
	}
	logManager.Logger().Info("Storage backend initialized", "type", cfg.Type)
	return b, nil
}
