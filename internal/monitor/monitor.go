package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sketchroom/whiteboard/internal/influx"
	"github.com/sketchroom/whiteboard/internal/replication/memory"
)

const defaultInterval = 10 * time.Second

// Source reports relay traffic. *memory.Hub satisfies it.
type Source interface {
	Stats() memory.Stats
	Rooms() []string
	Members(roomID string) int
}

// PointWriter receives measurement points. *influx.Manager satisfies it.
type PointWriter interface {
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

var (
	_ Source      = (*memory.Hub)(nil)
	_ PointWriter = (*influx.Manager)(nil)
)

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Source     Source
	Points     PointWriter // optional
	Instance   string
	Interval   time.Duration
	StatusPath string // optional
	Logger     *slog.Logger
}

// Status is one sample of relay state.
type Status struct {
	Time    time.Time      `json:"time"`
	Uptime  string         `json:"uptime"`
	Rooms   int            `json:"rooms"`
	Members int            `json:"members"`
	Relayed uint64         `json:"relayed"`
	Dropped uint64         `json:"dropped"`
	ByRoom  map[string]int `json:"byRoom"`
}

// Service samples relay statistics on a fixed interval.
type Service struct {
	deps      Dependencies
	started   time.Time
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	last      Status
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = defaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:    deps,
		started: time.Now(),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Sample reads the current relay state.
func (s *Service) Sample(now time.Time) Status {
	stats := s.deps.Source.Stats()
	st := Status{
		Time:    now,
		Uptime:  now.Sub(s.started).Round(time.Second).String(),
		Rooms:   stats.Rooms,
		Members: stats.Members,
		Relayed: stats.Relayed,
		Dropped: stats.Dropped,
		ByRoom:  make(map[string]int),
	}
	for _, id := range s.deps.Source.Rooms() {
		st.ByRoom[id] = s.deps.Source.Members(id)
	}
	return st
}

// Points converts a sample into InfluxDB points: one relay summary and one
// per active room.
func (s *Service) Points(st Status) map[string][]*influxdb2_write.Point {
	relay := influxdb2_write.NewPointWithMeasurement("relay").
		AddTag("instance", s.deps.Instance).
		AddField("rooms", st.Rooms).
		AddField("members", st.Members).
		AddField("relayed", st.Relayed).
		AddField("dropped", st.Dropped).
		SetTime(st.Time)

	ids := make([]string, 0, len(st.ByRoom))
	for id := range st.ByRoom {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rooms := make([]*influxdb2_write.Point, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, influxdb2_write.NewPointWithMeasurement("room").
			AddTag("instance", s.deps.Instance).
			AddTag("room", id).
			AddField("members", st.ByRoom[id]).
			SetTime(st.Time))
	}

	return map[string][]*influxdb2_write.Point{
		influx.BucketRelay: {relay},
		influx.BucketRooms: rooms,
	}
}

func (s *Service) tick(now time.Time) {
	st := s.Sample(now)
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()

	if s.deps.Points != nil {
		for bucket, points := range s.Points(st) {
			for _, p := range points {
				if err := s.deps.Points.WritePoint(bucket, p); err != nil {
					s.deps.Logger.Error("Error writing relay stats", "bucket", bucket, "error", err)
				}
			}
		}
	}

	if s.deps.StatusPath != "" {
		if err := s.writeStatus(st); err != nil {
			s.deps.Logger.Error("Error writing status file", "path", s.deps.StatusPath, "error", err)
		}
	}
}

func (s *Service) writeStatus(st Status) error {
	body, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return os.WriteFile(s.deps.StatusPath, append(body, '\n'), 0644)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.deps.Source == nil {
		s.mu.Unlock()
		return fmt.Errorf("monitor: no stats source")
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.tick(now)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
