package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sketchroom/whiteboard/internal/config"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, out io.Writer) error
}

func commands() []command {
	return []command{
		{"serve", "run the API and relay server (default)", runServe},
		{"export", "render a stored room to png, jpg or pdf", runExport},
		{"watch", "join a room as a headless participant", runWatch},
		{"discover", "list relays advertised on the local network", runDiscover},
		{"version", "print the version", runVersion},
	}
}

// run dispatches args to a subcommand. Without a subcommand the server runs.
func run(ctx context.Context, args []string, out io.Writer) error {
	name := "serve"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}
	if name == "help" {
		printUsage(out)
		return nil
	}
	for _, c := range commands() {
		if c.name == name {
			return c.run(ctx, args, out)
		}
	}
	printUsage(out)
	return fmt.Errorf("unknown command %q", name)
}

func printUsage(out io.Writer) {
	fmt.Fprintf(out, "Usage: %s <command> [flags]\n\nCommands:\n", serviceName)
	for _, c := range commands() {
		fmt.Fprintf(out, "  %-10s %s\n", c.name, c.summary)
	}
}

// newFlagSet returns a flag set carrying the shared --config flag.
func newFlagSet(name string, configDir *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(serviceName+" "+name, pflag.ContinueOnError)
	fs.StringVarP(configDir, "config", "c", ".", "directory containing "+config.FileName)
	return fs
}

func parse(fs *pflag.FlagSet, args []string, out io.Writer) (bool, error) {
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// loadConfig reads the config file from dir. A missing file leaves the
// defaults in place.
func loadConfig(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); errors.Is(err, os.ErrNotExist) {
		config.SetDefaults()
		return nil
	}
	return config.Load(dir)
}

// bindFlags lets changed flags override config keys.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}

func runVersion(_ context.Context, _ []string, out io.Writer) error {
	fmt.Fprintf(out, "%s %s (built %s)\n", serviceName, Version, BuildDate)
	return nil
}
