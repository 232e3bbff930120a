// Package discovery advertises sketchroomd relays on the local network over
// mDNS and finds them again.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service name relays register under.
const ServiceType = "_sketchroom._tcp"

const pathField = "path="

// RelayPath is the websocket route prefix announced in the TXT record.
const RelayPath = "/ws/rooms"

// Relay is one relay found on the network.
type Relay struct {
	Instance string
	Host     string
	Addr     string
	Path     string
}

// URL returns the HTTP base URL of the relay.
func (r Relay) URL() string {
	return "http://" + r.Addr
}

// NewService builds the mDNS record set for a relay listening on port. Empty
// instance defaults to the hostname; nil ips are resolved from the hostname.
func NewService(instance string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("could not get hostname: %w", err)
		}
		instance = host
	}
	svc, err := mdns.NewMDNSService(instance, ServiceType, "", "", port, ips, []string{"sketchroomd", pathField + RelayPath})
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return svc, nil
}

// Advertiser answers mDNS queries for one relay until shut down.
type Advertiser struct {
	server *mdns.Server
	svc    *mdns.MDNSService
}

// Advertise starts answering queries for the relay on port.
func Advertise(instance string, port int, log *slog.Logger) (*Advertiser, error) {
	svc, err := NewService(instance, port, nil)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	if log != nil {
		log.Info("Advertising relay", "service", ServiceType, "instance", svc.Instance, "port", port)
	}
	return &Advertiser{server: server, svc: svc}, nil
}

// Instance returns the advertised instance name.
func (a *Advertiser) Instance() string { return a.svc.Instance }

// Shutdown stops answering queries.
func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

// Lookup queries the network for relays, waiting at most timeout.
func Lookup(ctx context.Context, timeout time.Duration) ([]Relay, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Relay
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := make(map[string]bool)
		for e := range entries {
			r, ok := fromEntry(e)
			if !ok || seen[r.Addr] {
				continue
			}
			seen[r.Addr] = true
			found = append(found, r)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.QueryContext(ctx, params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mdns lookup: %w", err)
	}
	return found, nil
}

func fromEntry(e *mdns.ServiceEntry) (Relay, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Relay{}, false
	}
	r := Relay{
		Instance: instanceName(e.Name),
		Host:     strings.TrimSuffix(e.Host, "."),
		Addr:     net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port)),
		Path:     RelayPath,
	}
	for _, f := range e.InfoFields {
		if p, ok := strings.CutPrefix(f, pathField); ok && p != "" {
			r.Path = p
		}
	}
	return r, true
}

// instanceName strips the service suffix from a full entry name such as
// "studio._sketchroom._tcp.local.".
func instanceName(name string) string {
	if i := strings.Index(name, "."+ServiceType); i >= 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, ".")
}
