// ABOUTME: mDNS discovery of the playbridge hub
// ABOUTME: The hub advertises _playbridge._tcp; bridges browse for it
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service advertised by the hub
const ServiceType = "_playbridge._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	// QueryTimeout bounds one browse round
	QueryTimeout time.Duration
	Logger       *log.Logger
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
	hubs   chan *HubInfo
}

// HubInfo describes a discovered hub
type HubInfo struct {
	Name       string
	Host       string
	Port       int
	Path       string
	HealthPath string
}

// URL returns the hub WebSocket endpoint
func (h *HubInfo) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(h.Host, strconv.Itoa(h.Port)), h.Path)
}

// HealthURL returns the hub availability endpoint
func (h *HubInfo) HealthURL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(h.Host, strconv.Itoa(h.Port)), h.HealthPath)
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 3 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config: config,
		logger: logger.With("component", "discovery"),
		ctx:    ctx,
		cancel: cancel,
		hubs:   make(chan *HubInfo, 10),
	}
}

// Advertise announces the hub until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		[]string{"path=/", "health=/health"},
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.logger.Info("advertising hub", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for hubs in the background until Stop is called
func (m *Manager) Browse() {
	go m.browseLoop()
}

// Lookup browses until the first hub answers or ctx ends
func (m *Manager) Lookup(ctx context.Context) (*HubInfo, error) {
	m.Browse()
	select {
	case hub := <-m.hubs:
		return hub, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no hub found: %w", ctx.Err())
	case <-m.ctx.Done():
		return nil, fmt.Errorf("discovery stopped")
	}
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				hub := hubFromEntry(entry)
				if hub == nil {
					continue
				}

				m.logger.Info("discovered hub", "name", hub.Name, "host", hub.Host, "port", hub.Port)

				select {
				case m.hubs <- hub:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(ServiceType)
		params.Timeout = m.config.QueryTimeout
		params.Entries = entries
		params.DisableIPv6 = true

		err := mdns.Query(params)
		close(entries)
		<-done

		if err != nil {
			m.logger.Debug("mdns query failed", "err", err)
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(m.config.QueryTimeout):
			}
		}
	}
}

// hubFromEntry converts a service entry, reading paths from TXT records
func hubFromEntry(entry *mdns.ServiceEntry) *HubInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}

	hub := &HubInfo{
		Name:       entry.Name,
		Host:       entry.AddrV4.String(),
		Port:       entry.Port,
		Path:       "/",
		HealthPath: "/health",
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			hub.Path = value
		case "health":
			hub.HealthPath = value
		}
	}
	return hub
}

// Hubs returns the channel of discovered hubs
func (m *Manager) Hubs() <-chan *HubInfo {
	return m.hubs
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
