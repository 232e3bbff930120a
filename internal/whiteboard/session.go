// Package whiteboard wires one participant's room session: pointer capture
// feeds the reconciler, whose side effects reach the persistence gateway and
// the replication channel through a dispatcher, and remote events flow back
// into the reconciler and the presence tracker.
package whiteboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sketchroom/whiteboard/internal/canvas"
	"github.com/sketchroom/whiteboard/internal/capture"
	"github.com/sketchroom/whiteboard/internal/dispatcher"
	"github.com/sketchroom/whiteboard/internal/logging"
	"github.com/sketchroom/whiteboard/internal/presence"
	"github.com/sketchroom/whiteboard/internal/reconciler"
	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/internal/worker"
	"github.com/sketchroom/whiteboard/pkg/core"
)

var (
	// ErrUnauthorized is returned by Open when the participant may not
	// enter the room.
	ErrUnauthorized = rooms.ErrUnauthorized
	ErrNotOpen      = errors.New("session not open")
	ErrClosed       = errors.New("session closed")
)

// Authorizer decides whether a participant may enter a room.
type Authorizer interface {
	Authorize(ctx context.Context, roomID string, cred rooms.Credentials) error
}

// ChannelFactory builds the replication channel of a session. sessionID is
// the participant ID the channel must join the room with.
type ChannelFactory func(sessionID string) replication.Channel

// Config holds the per-session settings.
type Config struct {
	RoomID   string
	UserID   string
	Password string
	// SessionID identifies this connection; generated when empty.
	SessionID string
	// Origin is the canvas top-left in viewport coordinates.
	Origin core.Point
	Pen    core.Pen

	SaveDebounce    time.Duration
	OrderBySequence bool
	QueueSize       int
	CursorThrottle  time.Duration
	// CursorTTL expires remote cursors not moved for this long. Zero keeps
	// them until the session closes.
	CursorTTL time.Duration
}

// Dependencies holds the collaborators of a session.
type Dependencies struct {
	Gateway    storage.Gateway
	Channel    ChannelFactory
	Authorizer Authorizer
	// Surface is the render target; nil until the canvas is mounted.
	Surface          canvas.Surface
	ColorResolver    presence.Resolver
	ColorCache       *presence.ColorCache
	Logger           *slog.Logger
	DispatcherLogger dispatcher.Logger
	// OnHistoryChange receives undo/redo availability for the toolbar.
	OnHistoryChange func(canUndo, canRedo bool)
}

// Session is one participant's connection to one room.
type Session struct {
	cfg  Config
	deps Dependencies
	id   string
	log  *slog.Logger

	reconciler *reconciler.Reconciler
	capture    *capture.Engine
	presence   *presence.Tracker
	channel    replication.Channel
	dispatcher *dispatcher.Dispatcher
	workers    *worker.Manager
	unwatch    func()
	stopPrune  chan struct{}
	pruneDone  chan struct{}

	mu     sync.RWMutex
	open   bool
	closed bool
}

// New creates a closed session.
func New(cfg Config, deps Dependencies) *Session {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Pen.Validate() != nil {
		cfg.Pen = core.DefaultPen()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DispatcherLogger == nil {
		deps.DispatcherLogger = logging.NewDispatcherLogger(zerolog.Nop())
	}
	return &Session{
		cfg:  cfg,
		deps: deps,
		id:   cfg.SessionID,
		log:  deps.Logger.With("room", cfg.RoomID, "session", cfg.SessionID),
	}
}

// ID returns the session ID. It is the participant ID on the replication
// channel and the origin of every durable write.
func (s *Session) ID() string { return s.id }

// RoomID returns the room of the session.
func (s *Session) RoomID() string { return s.cfg.RoomID }

// Open authorizes the participant, hydrates the canvas from the stored log
// and connects the session. Nothing is initialised when authorization fails.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.open {
		return nil
	}

	if s.deps.Authorizer != nil {
		err := s.deps.Authorizer.Authorize(ctx, s.cfg.RoomID, rooms.Credentials{
			UserID:   s.cfg.UserID,
			Password: s.cfg.Password,
		})
		if err != nil {
			return fmt.Errorf("open room %s: %w", s.cfg.RoomID, err)
		}
	}

	stored, err := s.deps.Gateway.Load(ctx, s.cfg.RoomID)
	if err != nil {
		return fmt.Errorf("load room %s: %w", s.cfg.RoomID, err)
	}

	d, err := dispatcher.New(s.deps.DispatcherLogger)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	s.dispatcher = d
	s.channel = s.deps.Channel(s.id)
	s.workers = worker.NewManager(worker.Dependencies{
		Gateway:      s.deps.Gateway,
		RoomID:       s.cfg.RoomID,
		Channel:      s.channel,
		Origin:       s.id,
		SaveDebounce: s.cfg.SaveDebounce,
		QueueSize:    s.cfg.QueueSize,
		Logger:       s.log,
	})
	s.workers.RegisterHandlers(d)
	s.workers.Start()

	opts := []reconciler.Option{
		reconciler.WithSink(&sink{d: d, workers: s.workers, room: s.cfg.RoomID, log: s.log}),
		reconciler.WithLogger(s.log),
	}
	if s.cfg.OrderBySequence {
		opts = append(opts, reconciler.OrderBySequence())
	}
	if s.deps.OnHistoryChange != nil {
		opts = append(opts, reconciler.OnHistoryChange(s.deps.OnHistoryChange))
	}
	s.reconciler = reconciler.New(s.deps.Surface, opts...)
	s.reconciler.Hydrate(stored)

	presenceOpts := []presence.Option{
		presence.WithThrottle(s.cfg.CursorThrottle),
		presence.WithLogger(s.log),
	}
	if s.deps.ColorResolver != nil {
		presenceOpts = append(presenceOpts, presence.WithResolver(s.deps.ColorResolver))
	}
	if s.deps.ColorCache != nil {
		presenceOpts = append(presenceOpts, presence.WithColorCache(s.deps.ColorCache))
	}
	s.presence = presence.New(s.cfg.UserID, &cursorSink{d: d, room: s.cfg.RoomID}, presenceOpts...)

	s.channel.OnStroke(s.reconciler.AppendRemote)
	s.channel.OnClear(s.reconciler.ClearRemote)
	s.channel.OnCursor(func(pos core.CursorPosition) {
		s.presence.Receive(context.Background(), pos)
	})
	s.channel.OnLogChanged(s.reconciler.Hydrate)
	if err := s.channel.Subscribe(ctx); err != nil {
		if errors.Is(err, rooms.ErrUnauthorized) || errors.Is(err, rooms.ErrNotFound) {
			s.teardown(ctx)
			return fmt.Errorf("join room %s: %w", s.cfg.RoomID, err)
		}
		s.log.Warn("Replication unavailable, drawing offline", "error", err)
	}

	s.unwatch = s.deps.Gateway.OnRemoteChange(s.cfg.RoomID, func(c storage.Change) {
		if c.Origin == s.id {
			return
		}
		s.reconciler.Hydrate(c.Log)
	})

	if s.cfg.CursorTTL > 0 {
		s.stopPrune = make(chan struct{})
		s.pruneDone = make(chan struct{})
		go s.pruneCursors()
	}

	s.capture = capture.New(s.reconciler, s.cfg.UserID,
		capture.WithOrigin(s.cfg.Origin),
		capture.WithPen(s.cfg.Pen),
	)
	s.open = true
	s.log.Info("Session opened", "strokes", len(stored))
	return nil
}

// Close disconnects the session and flushes pending durable writes.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.open {
		return nil
	}
	s.open = false
	err := s.teardown(ctx)
	s.log.Info("Session closed")
	return err
}

// pruneCursors drops remote cursors that went quiet, e.g. of participants
// that left without a last move.
func (s *Session) pruneCursors() {
	defer close(s.pruneDone)
	ticker := time.NewTicker(max(s.cfg.CursorTTL/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-s.stopPrune:
			return
		case <-ticker.C:
			if gone := s.presence.Prune(s.cfg.CursorTTL); len(gone) > 0 {
				s.log.Debug("Expired remote cursors", "authors", gone)
			}
		}
	}
}

func (s *Session) teardown(ctx context.Context) error {
	var errs []error
	if s.capture != nil {
		s.capture.Cancel()
	}
	if s.stopPrune != nil {
		close(s.stopPrune)
		<-s.pruneDone
	}
	if s.unwatch != nil {
		s.unwatch()
	}
	if s.channel != nil {
		if err := s.channel.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.workers != nil {
		if err := s.workers.Close(); err != nil {
			errs = append(errs, fmt.Errorf("flush: %w", err))
		}
	}
	return errors.Join(errs...)
}
