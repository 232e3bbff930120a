package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/sketchroom/whiteboard/internal/api"
	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/discovery"
	"github.com/sketchroom/whiteboard/internal/influx"
	"github.com/sketchroom/whiteboard/internal/logging"
	"github.com/sketchroom/whiteboard/internal/monitor"
	"github.com/sketchroom/whiteboard/internal/relay"
	"github.com/sketchroom/whiteboard/internal/replication/memory"
	"github.com/sketchroom/whiteboard/internal/rooms"
)

func runServe(ctx context.Context, args []string, out io.Writer) error {
	var configDir string
	fs := newFlagSet("serve", &configDir)
	fs.String("listen", "", "address to listen on")
	fs.String("storage", "", "storage backend: memory, file, sqlite, postgres or remote")
	fs.String("log-level", "", "log level")
	fs.Bool("advertise", false, "advertise the relay over mDNS")
	if ok, err := parse(fs, args, out); !ok {
		return err
	}
	if err := loadConfig(configDir); err != nil {
		return err
	}
	if err := bindFlags(fs, map[string]string{
		"listen":    "server.listen",
		"storage":   "storage.type",
		"log-level": "logLevel",
		"advertise": "discovery.enabled",
	}); err != nil {
		return err
	}

	hub := memory.NewHub(config.GetServerConfig().MailboxSize)
	logs, err := setupLogging(viper.GetString("logsDir"), viper.GetString("logLevel"), time.Now(), hubAttrs(hub))
	if err != nil {
		return err
	}
	defer logs.Close(context.Background())
	log := logs.slog.Logger()
	log.Info("Starting sketchroomd", "version", Version, "build", BuildDate)

	srv, err := newServer(logs, hub)
	if err != nil {
		return err
	}
	defer srv.close()

	return srv.run(ctx)
}

// server is a running sketchroomd instance.
type server struct {
	logs     *loggers
	backend  *backend
	hub      *memory.Hub
	http     *http.Server
	listener net.Listener
	monitor  *monitor.Service
	influx   *influx.Manager
	mdns     *discovery.Advertiser
	cfg      config.ServerConfig
}

// hubAttrs tags log records with the current relay load.
func hubAttrs(hub *memory.Hub) logging.ContextProvider {
	return func() []slog.Attr {
		st := hub.Stats()
		return []slog.Attr{
			slog.Int("activeRooms", st.Rooms),
			slog.Int("members", st.Members),
		}
	}
}

func newServer(logs *loggers, hub *memory.Hub) (*server, error) {
	log := logs.slog.Logger()
	s := &server{logs: logs, cfg: config.GetServerConfig(), hub: hub}

	b, err := openBackend(config.GetStorageConfig(), logs.slog, logs.zero)
	if err != nil {
		return nil, err
	}
	s.backend = b

	rl := relay.New(relay.Dependencies{
		Hub:        s.hub,
		Authorizer: rooms.Gate{Store: b.Rooms},
		Gateway:    b.Gateway,
		Logger:     logs.slog.Component("relay"),
	})
	handler := api.NewServer(api.Dependencies{
		Rooms:   b.Rooms,
		Gateway: b.Gateway,
		Relay:   rl,
		Canvas:  config.GetCanvasConfig(),
		APIKey:  viper.GetString("api.apiKey"),
		Logger:  logs.slog.Component("api"),
	})

	s.listener, err = net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("listen on %s: %w", s.cfg.Listen, err)
	}
	s.http = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.startMonitor()

	if dc := config.GetDiscoveryConfig(); dc.Enabled {
		port := s.listener.Addr().(*net.TCPAddr).Port
		adv, err := discovery.Advertise(dc.Instance, port, logs.slog.Component("discovery"))
		if err != nil {
			log.Warn("mDNS advertisement unavailable", "error", err)
		} else {
			s.mdns = adv
		}
	}
	return s, nil
}

// startMonitor samples relay traffic into the status file and, when
// enabled, InfluxDB.
func (s *server) startMonitor() {
	log := s.logs.slog.Component("monitor")
	ic := config.GetInfluxConfig()
	deps := monitor.Dependencies{
		Source:     s.hub,
		Instance:   viper.GetString("discovery.instance"),
		Interval:   ic.Interval,
		StatusPath: filepath.Join(viper.GetString("logsDir"), "status.json"),
		Logger:     log,
	}
	if ic.Enabled {
		im := influx.NewManager(s.logs.zero, filepath.Join(viper.GetString("logsDir"), "influx_backup.lp.gz"))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := im.Connect(ctx, ic)
		cancel()
		if err != nil {
			log.Warn("InfluxDB unavailable, relay stats not exported", "error", err)
		} else {
			s.influx = im
			deps.Points = im
		}
	}
	s.monitor = monitor.NewService(deps)
	if err := s.monitor.Start(); err != nil {
		log.Warn("Status monitor not started", "error", err)
	}
}

// Addr returns the address the server listens on.
func (s *server) Addr() string {
	return s.listener.Addr().String()
}

// run serves until ctx is done, then shuts down gracefully.
func (s *server) run(ctx context.Context) error {
	log := s.logs.slog.Logger()
	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", "addr", s.Addr())
		errCh <- s.http.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *server) close() {
	log := s.logs.slog.Logger()
	if s.mdns != nil {
		if err := s.mdns.Shutdown(); err != nil {
			log.Warn("mDNS shutdown failed", "error", err)
		}
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.influx != nil {
		if err := s.influx.Close(); err != nil {
			log.Warn("InfluxDB close failed", "error", err)
		}
	}
	if s.listener != nil && s.http == nil {
		s.listener.Close()
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			log.Error("Storage close failed", "error", err)
		}
	}
}
