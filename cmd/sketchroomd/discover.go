package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sketchroom/whiteboard/internal/discovery"
)

func runDiscover(ctx context.Context, args []string, out io.Writer) error {
	var (
		configDir string
		timeout   time.Duration
	)
	fs := newFlagSet("discover", &configDir)
	fs.DurationVarP(&timeout, "timeout", "t", 2*time.Second, "how long to listen for answers")
	if ok, err := parse(fs, args, out); !ok {
		return err
	}

	relays, err := discovery.Lookup(ctx, timeout)
	if err != nil {
		return err
	}
	printRelays(out, relays)
	return nil
}

func printRelays(out io.Writer, relays []discovery.Relay) {
	if len(relays) == 0 {
		fmt.Fprintln(out, "no relays found")
		return
	}
	for _, r := range relays {
		fmt.Fprintf(out, "%-20s %-22s %s%s\n", r.Instance, r.Addr, r.URL(), r.Path)
	}
}
