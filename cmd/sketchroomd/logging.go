package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sketchroom/whiteboard/internal/config"
	"github.com/sketchroom/whiteboard/internal/logging"
	intOtel "github.com/sketchroom/whiteboard/internal/otel"
)

// loggers bundles the slog manager used by the services and the zerolog
// logger used by the database and influx managers.
type loggers struct {
	slog *logging.SlogManager
	zero zerolog.Logger
	otel *intOtel.Provider
	file *os.File
}

// setupLogging opens the session log file under logsDir and wires slog,
// zerolog and OpenTelemetry onto it. An empty logsDir logs to stdout only.
// provider, when set, adds its attributes to every slog record.
func setupLogging(logsDir, level string, start time.Time, provider logging.ContextProvider) (*loggers, error) {
	l := &loggers{slog: logging.NewSlogManager()}
	if provider != nil {
		l.slog.SetContextProvider(provider)
	}

	var console io.Writer = os.Stdout
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.Create(logFilePath(logsDir, start))
		if err != nil {
			return nil, fmt.Errorf("create log file: %w", err)
		}
		l.file = f
		console = io.MultiWriter(os.Stdout, f)
		writers = append(writers, zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339, NoColor: true})
	}

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zl, err := zerolog.ParseLevel(level)
	if err != nil || zl == zerolog.NoLevel {
		zl = zerolog.InfoLevel
	}
	l.zero = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(zl).With().Timestamp().Logger()

	otelWriter := io.Writer(os.Stdout)
	if l.file != nil {
		otelWriter = l.file
	}
	otelProvider, err := intOtel.New(intOtel.FromConfig(config.GetOTelConfig(), otelWriter))
	if err != nil {
		l.zero.Warn().Err(err).Msg("OpenTelemetry unavailable")
		otelProvider, _ = intOtel.New(intOtel.Config{})
	}
	l.otel = otelProvider

	l.slog.Setup(console, level, otelProvider.LoggerProvider())
	return l, nil
}

// logFilePath names the log file of a daemon run after its start time, so
// restarts never overwrite an earlier log.
func logFilePath(logsDir string, start time.Time) string {
	return filepath.Join(logsDir, fmt.Sprintf("%s.%s.log", serviceName, start.UTC().Format("20060102_150405")))
}

// Close flushes OpenTelemetry and closes the log file.
func (l *loggers) Close(ctx context.Context) error {
	var errs []error
	if err := l.slog.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := l.otel.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if l.file != nil {
		errs = append(errs, l.file.Close())
	}
	return errors.Join(errs...)
}
