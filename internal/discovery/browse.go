package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/nerrad567/brokerlink/internal/infrastructure/config"
)

// DefaultTimeout bounds a browse when the configuration leaves it unset.
const DefaultTimeout = 2 * time.Second

// ErrDisabled is returned by Browse when discovery is turned off.
var ErrDisabled = errors.New("discovery: disabled in configuration")

// Service is one broker found on the network.
type Service struct {
	Instance  string
	Host      string
	Port      int
	Addresses []string
}

// Address returns the address to dial: the first advertised IP, falling
// back to the host name.
func (s Service) Address() string {
	if len(s.Addresses) > 0 {
		return s.Addresses[0]
	}
	return s.Host
}

// Overrides returns endpoint overrides for this service. All other
// settings come from the cluster template.
func (s Service) Overrides() config.EndpointOverrides {
	return config.WithEndpoint(s.Address(), s.Port)
}

// announcement is a service appearing or going away.
type announcement struct {
	Service
	Removed bool
}

// browseFunc streams announcements to out until ctx is done.
type browseFunc func(ctx context.Context, service, domain string, out chan<- announcement, opts []zeroconf.ClientOption) error

// Browser collects services for a bounded window.
type Browser struct {
	cfg    config.DiscoveryConfig
	browse browseFunc
}

// NewBrowser creates a Browser for cfg.
func NewBrowser(cfg config.DiscoveryConfig) *Browser {
	return &Browser{cfg: cfg, browse: zeroconfBrowse}
}

// Browse runs one discovery window with cfg and returns what it found.
func Browse(ctx context.Context, cfg config.DiscoveryConfig) ([]Service, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	return NewBrowser(cfg).Browse(ctx)
}

// Browse listens for the configured timeout and returns the services
// seen, sorted by instance name. Services are aggregated by instance so
// announcements on several interfaces merge their addresses; a removal
// seen during the window drops the service.
func (b *Browser) Browse(parent context.Context) ([]Service, error) {
	timeout := b.cfg.DiscoveryTimeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	out := make(chan announcement)
	browseErr := make(chan error, 1)
	go func() {
		browseErr <- b.browse(ctx, b.cfg.Service, b.cfg.Domain, out, b.options())
	}()

	services := make(map[string]*Service)
	for {
		select {
		case a := <-out:
			if a.Removed {
				delete(services, a.Instance)
				continue
			}
			if existing, found := services[a.Instance]; found {
				existing.Addresses = mergeAddresses(existing.Addresses, a.Addresses)
			} else {
				svc := a.Service
				services[a.Instance] = &svc
			}

		case err := <-browseErr:
			if err != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("browsing %s: %w", b.cfg.Service, err)
			}
			browseErr = nil

		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return nil, err
			}
			return collect(services), nil
		}
	}
}

// options returns zeroconf client options based on config.
func (b *Browser) options() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if b.cfg.Interface != "" {
		iface, err := net.InterfaceByName(b.cfg.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// zeroconfBrowse adapts zeroconf.Browse to browseFunc.
func zeroconfBrowse(ctx context.Context, service, domain string, out chan<- announcement, opts []zeroconf.ClientOption) error {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		for {
			var a *announcement
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				a = entryToAnnouncement(entry, false)
			case entry, ok := <-removed:
				if !ok {
					return
				}
				a = entryToAnnouncement(entry, true)
			case <-ctx.Done():
				return
			}
			if a == nil {
				continue
			}
			select {
			case out <- *a:
			case <-ctx.Done():
				return
			}
		}
	}()

	return zeroconf.Browse(ctx, service, domain, entries, removed, opts...)
}

func entryToAnnouncement(entry *zeroconf.ServiceEntry, removed bool) *announcement {
	if entry == nil {
		return nil
	}
	if removed {
		return &announcement{Service: Service{Instance: entry.Instance}, Removed: true}
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	svc, ok := newService(entry.Instance, entry.HostName, entry.Port, addrs)
	if !ok {
		return nil
	}
	return &announcement{Service: svc}
}

// newService validates a resolved entry. Entries without a port or any
// way to reach the host are unusable.
func newService(instance, host string, port int, addrs []string) (Service, bool) {
	host = strings.TrimSuffix(host, ".")
	if port <= 0 || (host == "" && len(addrs) == 0) {
		return Service{}, false
	}
	return Service{Instance: instance, Host: host, Port: port, Addresses: addrs}, true
}

func mergeAddresses(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		seen[a] = struct{}{}
	}
	for _, a := range incoming {
		if _, ok := seen[a]; !ok {
			existing = append(existing, a)
			seen[a] = struct{}{}
		}
	}
	return existing
}

func collect(services map[string]*Service) []Service {
	out := make([]Service, 0, len(services))
	for _, svc := range services {
		out = append(out, *svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}
