package memory

import (
	"testing"
	"time"

	"github.com/sketchroom/whiteboard/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, m *Member) streaming.Envelope {
	t.Helper()
	select {
	case env, ok := <-m.Receive():
		require.True(t, ok, "mailbox closed")
		return env
	case <-time.After(time.Second):
		t.Fatal("nothing received")
		return streaming.Envelope{}
	}
}

func TestHub_JoinCountsMembers(t *testing.T) {
	h := NewHub(4)
	_, n := h.Join("room", "a")
	assert.Equal(t, 1, n)
	_, n = h.Join("room", "b")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.Members("room"))
	assert.Equal(t, 0, h.Members("other"))
}

func TestHub_PublishSkipsSender(t *testing.T) {
	h := NewHub(4)
	a, _ := h.Join("room", "a")
	b, _ := h.Join("room", "b")

	_, err := a.Publish(streaming.Envelope{Type: streaming.TypeCanvasCleared})
	require.NoError(t, err)

	env := receive(t, b)
	assert.Equal(t, "room", env.Room)
	assert.Equal(t, "a", env.Sender)
	assert.Equal(t, 0, a.Pending())
}

func TestHub_SequencesStrokesPerRoom(t *testing.T) {
	h := NewHub(8)
	a, _ := h.Join("room", "a")
	b, _ := h.Join("room", "b")
	x, _ := h.Join("other", "x")
	y, _ := h.Join("other", "y")

	stroke := streaming.Envelope{Type: streaming.TypeStrokeAdded}
	first, _ := a.Publish(stroke)
	second, _ := b.Publish(stroke)
	cursor, _ := a.Publish(streaming.Envelope{Type: streaming.TypeCursorMoved})
	other, _ := x.Publish(stroke)

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Zero(t, cursor.Seq)
	assert.Equal(t, uint64(1), other.Seq)

	assert.Equal(t, uint64(1), receive(t, b).Seq)
	assert.Equal(t, uint64(2), receive(t, a).Seq)
	assert.Equal(t, uint64(1), receive(t, y).Seq)
}

func TestHub_PreservesSenderOrder(t *testing.T) {
	h := NewHub(100)
	a, _ := h.Join("room", "a")
	b, _ := h.Join("room", "b")

	for i := 0; i < 50; i++ {
		a.Publish(streaming.Envelope{Type: streaming.TypeStrokeAdded})
	}
	for i := 1; i <= 50; i++ {
		assert.Equal(t, uint64(i), receive(t, b).Seq)
	}
}

func TestHub_FullMailboxDrops(t *testing.T) {
	h := NewHub(1)
	a, _ := h.Join("room", "a")
	h.Join("room", "b")

	a.Publish(streaming.Envelope{Type: streaming.TypeCanvasCleared})
	a.Publish(streaming.Envelope{Type: streaming.TypeCanvasCleared})

	s := h.Stats()
	assert.Equal(t, uint64(1), s.Relayed)
	assert.Equal(t, uint64(1), s.Dropped)
	assert.Equal(t, 1, s.Rooms)
	assert.Equal(t, 2, s.Members)
}

func TestHub_LeaveClosesMailboxAndRemovesEmptyRoom(t *testing.T) {
	h := NewHub(4)
	a, _ := h.Join("room", "a")
	a.Leave()
	a.Leave()

	_, ok := <-a.Receive()
	assert.False(t, ok)
	assert.Empty(t, h.Rooms())

	_, err := a.Publish(streaming.Envelope{Type: streaming.TypeCanvasCleared})
	assert.ErrorIs(t, err, ErrLeft)
}

func TestHub_RejoinEvictsPreviousMember(t *testing.T) {
	h := NewHub(4)
	old, _ := h.Join("room", "a")
	fresh, n := h.Join("room", "a")
	assert.Equal(t, 1, n)

	_, ok := <-old.Receive()
	assert.False(t, ok)

	// leaving the evicted member must not remove the new one
	old.Leave()
	assert.Equal(t, 1, h.Members("room"))

	b, _ := h.Join("room", "b")
	b.Publish(streaming.Envelope{Type: streaming.TypeCanvasCleared})
	assert.Equal(t, "b", receive(t, fresh).Sender)
}

func TestHub_PublishToEmptyRoom(t *testing.T) {
	h := NewHub(4)
	env := h.Publish("nobody-here", "relay", streaming.Envelope{Type: streaming.TypeLogChanged})
	assert.Empty(t, env.Room)
	assert.Equal(t, uint64(0), h.Stats().Relayed)
}
