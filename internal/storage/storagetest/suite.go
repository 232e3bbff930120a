// Package storagetest holds the behavioural checks every storage.Gateway
// implementation must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sketchroom/whiteboard/internal/storage"
	"github.com/sketchroom/whiteboard/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an initialized gateway. The suite closes it.
type Factory func(t *testing.T) storage.Gateway

// SampleLog returns a log with lines, a dot and an eraser stroke.
func SampleLog() core.DrawingLog {
	created := time.Date(2026, 3, 4, 5, 6, 7, 800, time.UTC)
	return core.DrawingLog{
		{ID: "s1", Author: "alice", Color: "#000000", Width: 5, Path: []core.Point{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 20, Y: 5}}, CreatedAt: created},
		{ID: "s2", Author: "bob", Color: "#FF0000", Width: 2, Path: []core.Point{{X: 3.25, Y: 4.5}}, Seq: 7, CreatedAt: created},
		{ID: "s3", Author: "alice", Color: core.BackgroundColor, Width: 50, Path: []core.Point{{X: 5, Y: 5}, {X: 6, Y: 6}}, CreatedAt: created},
	}
}

// Run exercises the Gateway contract.
func Run(t *testing.T, newGateway Factory) {
	ctx := context.Background()

	t.Run("absent room loads empty", func(t *testing.T) {
		g := open(t, newGateway)
		log, err := g.Load(ctx, "missing")
		require.NoError(t, err)
		assert.NotNil(t, log)
		assert.Empty(t, log)
	})

	t.Run("round trip", func(t *testing.T) {
		g := open(t, newGateway)
		want := SampleLog()
		require.NoError(t, g.Save(ctx, "room", want))

		got, err := g.Load(ctx, "room")
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "want %+v\ngot  %+v", want, got)
	})

	t.Run("round trip empty log", func(t *testing.T) {
		g := open(t, newGateway)
		require.NoError(t, g.Save(ctx, "room", SampleLog()))
		require.NoError(t, g.Save(ctx, "room", core.DrawingLog{}))

		got, err := g.Load(ctx, "room")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("last writer wins", func(t *testing.T) {
		g := open(t, newGateway)
		full := SampleLog()
		require.NoError(t, g.Save(ctx, "room", full))
		require.NoError(t, g.Save(ctx, "room", full[:1]))

		got, err := g.Load(ctx, "room")
		require.NoError(t, err)
		assert.True(t, full[:1].Equal(got))
	})

	t.Run("rooms are isolated", func(t *testing.T) {
		g := open(t, newGateway)
		log := SampleLog()
		require.NoError(t, g.Save(ctx, "a", log[:1]))
		require.NoError(t, g.Save(ctx, "b", log[1:]))

		a, err := g.Load(ctx, "a")
		require.NoError(t, err)
		b, err := g.Load(ctx, "b")
		require.NoError(t, err)
		assert.Len(t, a, 1)
		assert.Len(t, b, 2)
	})

	t.Run("change notification", func(t *testing.T) {
		g := open(t, newGateway)

		var mu sync.Mutex
		var changes []storage.Change
		cancel := g.OnRemoteChange("room", func(c storage.Change) {
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, c)
		})

		want := SampleLog()
		require.NoError(t, g.Save(storage.WithOrigin(ctx, "writer-1"), "room", want))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(changes) > 0
		}, 5*time.Second, 10*time.Millisecond)

		mu.Lock()
		c := changes[len(changes)-1]
		mu.Unlock()
		assert.Equal(t, "room", c.RoomID)
		assert.Equal(t, "writer-1", c.Origin)
		assert.True(t, want.Equal(c.Log))

		cancel()
		mu.Lock()
		n := len(changes)
		mu.Unlock()
		require.NoError(t, g.Save(ctx, "room", core.DrawingLog{}))
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		assert.Equal(t, n, len(changes))
		mu.Unlock()
	})

	t.Run("event log", func(t *testing.T) {
		g := open(t, newGateway)
		el, ok := g.(storage.EventLog)
		if !ok {
			t.Skip("gateway has no event log")
		}
		log := SampleLog()

		seq1, err := el.Append(ctx, "room", core.LogEvent{Kind: core.EventStroke, Stroke: &log[0]})
		require.NoError(t, err)
		seq2, err := el.Append(ctx, "room", core.LogEvent{Kind: core.EventStroke, Stroke: &log[1]})
		require.NoError(t, err)
		assert.Greater(t, seq2, seq1)

		_, err = el.Append(ctx, "room", core.LogEvent{Kind: core.EventRetract, StrokeID: "s1"})
		require.NoError(t, err)

		got, err := g.Load(ctx, "room")
		require.NoError(t, err)
		assert.True(t, log[1:2].Equal(got))

		tail, err := el.Events(ctx, "room", seq1)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, seq2, tail[0].Seq)
		assert.Equal(t, core.EventRetract, tail[1].Kind)

		require.NoError(t, g.Save(ctx, "room", log))
		got, err = g.Load(ctx, "room")
		require.NoError(t, err)
		assert.True(t, log.Equal(got))

		_, err = el.Append(ctx, "room", core.LogEvent{Kind: core.EventClear})
		require.NoError(t, err)
		got, err = g.Load(ctx, "room")
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func open(t *testing.T, newGateway Factory) storage.Gateway {
	t.Helper()
	g := newGateway(t)
	t.Cleanup(func() { _ = g.Close() })
	return g
}
