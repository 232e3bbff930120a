package whiteboard

import (
	"context"
	"log/slog"

	"github.com/sketchroom/whiteboard/internal/dispatcher"
	"github.com/sketchroom/whiteboard/internal/reconciler"
	"github.com/sketchroom/whiteboard/internal/worker"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// sink queues durable writes with the workers and hands broadcasts to the
// dispatcher. Neither path blocks the reconciler.
type sink struct {
	d       *dispatcher.Dispatcher
	workers *worker.Manager
	room    string
	log     *slog.Logger
}

var _ reconciler.Sink = (*sink)(nil)

func (k *sink) Persist(c reconciler.Change) {
	k.workers.Persist(c)
}

func (k *sink) Broadcast(c reconciler.Change) {
	if _, err := k.d.Dispatch(dispatcher.Task{Kind: worker.TaskBroadcast, Room: k.room, Payload: c}); err != nil {
		k.log.Warn("Dropped broadcast", "change", c.Kind.String(), "error", err)
	}
}

// cursorSink routes presence broadcasts through the dispatcher.
type cursorSink struct {
	d    *dispatcher.Dispatcher
	room string
}

func (k *cursorSink) BroadcastCursor(ctx context.Context, pos core.CursorPosition) error {
	_, err := k.d.Dispatch(dispatcher.Task{Kind: worker.TaskCursor, Room: k.room, Payload: pos})
	return err
}
