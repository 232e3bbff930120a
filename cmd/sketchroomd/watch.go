package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/sketchroom/whiteboard/internal/api"
	"github.com/sketchroom/whiteboard/internal/canvas"
	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/logging"
	"github.com/sketchroom/whiteboard/internal/presence"
	"github.com/sketchroom/whiteboard/internal/replication"
	"github.com/sketchroom/whiteboard/internal/replication/websocket"
	"github.com/sketchroom/whiteboard/internal/rooms"
	"github.com/sketchroom/whiteboard/internal/whiteboard"
)

// watchOptions selects the room a headless participant joins.
type watchOptions struct {
	ServerURL string
	APIKey    string
	RoomID    string
	UserID    string
	Password  string
	Snapshot  string
	Duration  time.Duration
	Interval  time.Duration
}

func runWatch(ctx context.Context, args []string, out io.Writer) error {
	var (
		configDir string
		opts      watchOptions
	)
	fs := newFlagSet("watch", &configDir)
	fs.StringVar(&opts.ServerURL, "server", "", "sketchroomd base URL (default api.serverUrl)")
	fs.StringVarP(&opts.RoomID, "room", "r", "", "room to join")
	fs.StringVarP(&opts.UserID, "user", "u", "", "user ID to join as")
	fs.StringVarP(&opts.Password, "password", "p", "", "room password")
	fs.StringVarP(&opts.Snapshot, "snapshot", "o", "", "write a PNG of the canvas here on exit")
	fs.DurationVar(&opts.Duration, "for", 0, "leave after this long; 0 waits for interrupt")
	fs.DurationVar(&opts.Interval, "interval", time.Second, "how often to report the stroke count")
	if ok, err := parse(fs, args, out); !ok {
		return err
	}
	if opts.RoomID == "" {
		return errors.New("watch needs --room")
	}
	if err := loadConfig(configDir); err != nil {
		return err
	}
	if opts.ServerURL == "" {
		opts.ServerURL = viper.GetString("api.serverUrl")
	}
	opts.APIKey = viper.GetString("api.apiKey")

	logs, err := setupLogging("", viper.GetString("logLevel"), time.Now(), nil)
	if err != nil {
		return err
	}
	defer logs.Close(context.Background())

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	return watch(ctx, opts, logs, out)
}

// watch joins the room, reports its stroke count until ctx is done and
// optionally writes a snapshot of the canvas.
func watch(ctx context.Context, opts watchOptions, logs *loggers, out io.Writer) error {
	sc := config.GetSessionConfig()
	cc := config.GetCanvasConfig()
	log := logs.slog.Component("watch")

	client := api.New(opts.ServerURL, opts.APIKey,
		api.WithPollInterval(viper.GetDuration("storage.pollInterval")),
		api.WithLogger(logs.slog.Component("remote")),
	)
	if err := client.Init(); err != nil {
		return fmt.Errorf("reach %s: %w", opts.ServerURL, err)
	}
	defer client.Close()

	surface := canvas.NewSurface(cc.Width, cc.Height)
	defer surface.Close()

	session := whiteboard.New(whiteboard.Config{
		RoomID:          opts.RoomID,
		UserID:          opts.UserID,
		Password:        opts.Password,
		SaveDebounce:    sc.SaveDebounce,
		OrderBySequence: sc.OrderBySequence,
		QueueSize:       sc.QueueSize,
		CursorThrottle:  sc.CursorThrottle,
		CursorTTL:       sc.CursorTTL,
	}, whiteboard.Dependencies{
		Gateway: client,
		Channel: func(sessionID string) replication.Channel {
			return websocket.New(websocket.Config{
				URL:         opts.ServerURL,
				RoomID:      opts.RoomID,
				Participant: sessionID,
				UserID:      opts.UserID,
				Password:    opts.Password,
			}, logs.slog.Component("replication"))
		},
		Authorizer:       rooms.Gate{Store: client},
		Surface:          surface,
		ColorCache:       presence.NewColorCache(),
		Logger:           log,
		DispatcherLogger: logging.NewDispatcherLogger(logs.zero),
	})
	if err := session.Open(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "joined room %s as %s\n", opts.RoomID, session.ID())
	last := -1
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case <-ticker.C:
		}
		if n := len(session.Log()); n != last {
			last = n
			fmt.Fprintf(out, "strokes: %d, cursors: %d\n", n, len(session.Cursors()))
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Close(closeCtx); err != nil {
		log.Warn("Session close failed", "error", err)
	}

	if opts.Snapshot == "" {
		return nil
	}
	f, err := os.Create(opts.Snapshot)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := surface.EncodePNG(f); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	return f.Close()
}
