package influx

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sketchroom/whiteboard/internal/config"
)

func unreachable() config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:  true,
		Protocol: "http",
		Host:     "127.0.0.1",
		Port:     "1",
		Org:      "sketchroom",
	}
}

func TestNewManager(t *testing.T) {
	m := NewManager(zerolog.Nop(), "backup.gz")
	assert.False(t, m.IsValid)
	assert.Equal(t, DefaultBucketNames, m.BucketNames)
	assert.Empty(t, m.Writers)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(zerolog.Nop(), filepath.Join(t.TempDir(), "backup.gz"))
	err := m.Connect(context.Background(), config.InfluxConfig{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestConnect_UnreachableUsesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.gz")
	m := NewManager(zerolog.Nop(), path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx, unreachable()))
	assert.False(t, m.IsValid)

	p := influxdb2_write.NewPointWithMeasurement("relay").
		AddTag("instance", "test").
		AddField("members", 3).
		SetTime(time.Unix(1700000000, 0))
	require.NoError(t, m.WritePoint(BucketRelay, p))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)

	sc := bufio.NewScanner(zr)
	require.True(t, sc.Scan())
	assert.Equal(t, "relay,instance=test members=3i 1700000000000000000", sc.Text())
}

func TestConnect_UnreachableWithoutBackupPath(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Error(t, m.Connect(ctx, unreachable()))
}

func TestWritePoint_NoBackup(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	err := m.WritePoint(BucketRelay, influxdb2_write.NewPointWithMeasurement("relay"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup writer not available")
}

func TestWritePoint_UnknownBucket(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	m.IsValid = true
	err := m.WritePoint("nope", influxdb2_write.NewPointWithMeasurement("relay"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "'nope' not registered")
}

func TestClose_Idempotent(t *testing.T) {
	m := NewManager(zerolog.Nop(), "")
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
