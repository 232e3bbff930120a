package worker

import (
	"context"
	"fmt"

	"github.com/sketchroom/whiteboard/internal/dispatcher"
	"github.com/sketchroom/whiteboard/internal/reconciler"
	"github.com/sketchroom/whiteboard/pkg/core"
)

func (m *Manager) handleBroadcast(t dispatcher.Task) (any, error) {
	c, ok := t.Payload.(reconciler.Change)
	if !ok {
		return nil, fmt.Errorf("broadcast: unexpected payload %T", t.Payload)
	}

	ctx := context.Background()
	switch c.Kind {
	case reconciler.ChangeAppend:
		if err := m.deps.Channel.BroadcastStroke(ctx, c.Stroke); err != nil {
			return nil, fmt.Errorf("broadcast stroke %s: %w", c.Stroke.ID, err)
		}
	case reconciler.ChangeClear:
		if err := m.deps.Channel.BroadcastClear(ctx); err != nil {
			return nil, fmt.Errorf("broadcast clear: %w", err)
		}
	default:
		// Retractions are not broadcast.
	}
	return nil, nil
}

func (m *Manager) handleCursor(t dispatcher.Task) (any, error) {
	pos, ok := t.Payload.(core.CursorPosition)
	if !ok {
		return nil, fmt.Errorf("cursor: unexpected payload %T", t.Payload)
	}
	if err := m.deps.Channel.BroadcastCursor(context.Background(), pos); err != nil {
		m.deps.Logger.Debug("Cursor broadcast failed", "room", t.Room, "error", err)
	}
	return nil, nil
}
