package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sketchroom/whiteboard/pkg/core"
)

// RoomExport is the JSON shape of one exported room.
type RoomExport struct {
	RoomID  string          `json:"roomId"`
	LastSeq uint64          `json:"lastSeq"`
	Strokes core.DrawingLog `json:"drawing"`
}

// Export is the JSON document written on Close.
type Export struct {
	ExportedAt time.Time    `json:"exportedAt"`
	Rooms      []RoomExport `json:"rooms"`
}

// LastExportPath returns the path of the most recent export, empty if none.
func (b *Backend) LastExportPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

func (b *Backend) buildExport() Export {
	out := Export{ExportedAt: time.Now().UTC(), Rooms: make([]RoomExport, 0, len(b.rooms))}
	for id, r := range b.rooms {
		out.Rooms = append(out.Rooms, RoomExport{RoomID: id, LastSeq: r.seq, Strokes: core.Fold(r.events)})
	}
	sort.Slice(out.Rooms, func(i, j int) bool { return out.Rooms[i].RoomID < out.Rooms[j].RoomID })
	return out
}

// exportJSON writes every room to a (optionally gzipped) JSON file.
func (b *Backend) exportJSON() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	export := b.buildExport()

	filename := fmt.Sprintf("rooms_%s.json", export.ExportedAt.Format("20060102_150405"))
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if b.cfg.CompressOutput {
		gzWriter := gzip.NewWriter(f)
		if err := json.NewEncoder(gzWriter).Encode(export); err != nil {
			return fmt.Errorf("failed to encode export: %w", err)
		}
		if err := gzWriter.Close(); err != nil {
			return fmt.Errorf("failed to flush export: %w", err)
		}
	} else if err := json.NewEncoder(f).Encode(export); err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	b.lastExportPath = outputPath
	return nil
}
