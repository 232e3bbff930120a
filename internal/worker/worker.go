// Package worker executes the side effects of a whiteboard session: durable
// writes to the persistence gateway on a single writer goroutine, and
// broadcasts on the replication channel through the dispatcher.
package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sketchroom/whiteboard/internal/dispatcher"
	"github.com/sketchroom/whiteboard/internal/queue"
	"github.com/sketchroom/whiteboard/internal/reconciler"
	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/internal/storage"
)

// Task kinds handled by the manager.
const (
	TaskBroadcast = "broadcast"
	TaskCursor    = "cursor"
)

const defaultQueueSize = 1024

// Dependencies holds all dependencies for the worker manager.
type Dependencies struct {
	Gateway storage.Gateway
	// RoomID is the room every durable write goes to.
	RoomID  string
	Channel replication.Channel
	// Origin tags every durable write so the session can recognise its own
	// change notifications.
	Origin string
	// SaveDebounce delays durable writes and coalesces the changes made in
	// the meantime. Zero writes every change immediately.
	SaveDebounce time.Duration
	// QueueSize bounds the broadcast queues. Pending durable writes are
	// never bounded.
	QueueSize int
	Logger    *slog.Logger
}

// Manager runs the side effects of one session.
type Manager struct {
	deps    Dependencies
	pending *queue.Queue[reconciler.Change]

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   bool

	writeMu   sync.Mutex
	lastWrite time.Duration
}

// NewManager creates a new worker manager.
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.QueueSize <= 0 {
		deps.QueueSize = defaultQueueSize
	}
	// A snapshot save only needs the latest log, so the pending queue keeps
	// one change. Event logs need every change.
	capacity := 0
	if _, ok := deps.Gateway.(storage.EventLog); !ok {
		capacity = 1
	}
	return &Manager{
		deps:    deps,
		pending: queue.New[reconciler.Change](capacity),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RegisterHandlers registers the broadcast handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Broadcasts are fire-and-forget.
	d.Register(TaskBroadcast, m.handleBroadcast, dispatcher.Buffered(m.deps.QueueSize), dispatcher.Logged())
	d.Register(TaskCursor, m.handleCursor, dispatcher.Buffered(m.deps.QueueSize))
}

// GetLastWriteDuration returns how long the last durable write took.
func (m *Manager) GetLastWriteDuration() time.Duration {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.lastWrite
}

// Pending returns the number of changes waiting for a debounced write.
func (m *Manager) Pending() int {
	return m.pending.Len()
}
