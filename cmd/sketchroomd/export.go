package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/sketchroom/whiteboard/internal/canvas"
	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/logging"
	"github.com/sketchroom/whiteboard/internal/storage"
)

func runExport(ctx context.Context, args []string, out io.Writer) error {
	var (
		configDir string
		roomID    string
		outPath   string
		format    string
		all       bool
	)
	fs := newFlagSet("export", &configDir)
	fs.StringVarP(&roomID, "room", "r", "", "room to export")
	fs.StringVarP(&outPath, "out", "o", "", "output file, format taken from its extension")
	fs.StringVarP(&format, "format", "f", "", "png, jpg or pdf; overrides the extension")
	fs.BoolVar(&all, "all", false, "export every stored room into the --out directory")
	fs.String("storage", "", "storage backend")
	fs.Int("width", 0, "canvas width")
	fs.Int("height", 0, "canvas height")
	if ok, err := parse(fs, args, out); !ok {
		return err
	}
	if (roomID == "" && !all) || outPath == "" {
		return errors.New("export needs --room or --all, and --out")
	}
	if all && format == "" {
		format = string(canvas.FormatPNG)
	}
	if err := loadConfig(configDir); err != nil {
		return err
	}
	if err := bindFlags(fs, map[string]string{
		"storage": "storage.type",
		"width":   "canvas.width",
		"height":  "canvas.height",
	}); err != nil {
		return err
	}

	if format == "" {
		format = filepath.Ext(outPath)
	}
	f, err := canvas.ParseFormat(format)
	if err != nil {
		return err
	}

	logManager := logging.NewSlogManager()
	b, err := openBackend(config.GetStorageConfig(), logManager, zerolog.Nop())
	if err != nil {
		return err
	}
	defer b.Close()

	if all {
		return exportAll(ctx, b, outPath, f, config.GetCanvasConfig(), out)
	}
	n, err := exportRoom(ctx, b, roomID, outPath, f, config.GetCanvasConfig())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported %d strokes of room %s to %s\n", n, roomID, outPath)
	return nil
}

// exportAll writes one file per stored room into dir. It needs a backend
// that can list its rooms.
func exportAll(ctx context.Context, b *backend, dir string, f canvas.Format, cc config.CanvasConfig, out io.Writer) error {
	lister, ok := b.Gateway.(storage.Lister)
	if !ok {
		return errors.New("storage backend cannot list rooms")
	}
	ids, err := lister.Rooms(ctx)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, id := range ids {
		path := filepath.Join(dir, id+"."+string(f))
		n, err := exportRoom(ctx, b, id, path, f, cc)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "exported %d strokes of room %s to %s\n", n, id, path)
	}
	return nil
}

// exportRoom renders the stored log of roomID to outPath and returns the
// number of strokes drawn.
func exportRoom(ctx context.Context, b *backend, roomID, outPath string, f canvas.Format, cc config.CanvasConfig) (int, error) {
	log, err := b.Gateway.Load(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("load room %s: %w", roomID, err)
	}

	file, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	if err := canvas.Export(file, f, log, cc.Width, cc.Height); err != nil {
		file.Close()
		return 0, fmt.Errorf("export room %s: %w", roomID, err)
	}
	return len(log), file.Close()
}
