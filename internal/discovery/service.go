// Package discovery advertises the web interface over mDNS so phones on the
// same network can find the slider without knowing its address.
package discovery

import (
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/cjeanneret/SlideGo/internal/debug"
	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type of the web interface.
	ServiceType = "_slidego._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	// DisplayName is published in the "name" TXT record.
	DisplayName = "SlideGo camera slider"
)

// server is the part of *zeroconf.Server the service needs.
type server interface {
	Shutdown()
}

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error)

func zeroconfRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (server, error) {
	return zeroconf.Register(instance, service, domain, port, text, ifaces)
}

// Service manages the mDNS registration.
type Service struct {
	mu       sync.Mutex
	instance string
	port     int
	version  string
	register registerFunc
	localIP  func() (string, error)

	server server
	ip     string
}

// NewService creates a stopped service. An empty instance defaults to
// "<hostname>-slidego".
func NewService(instance string, port int, version string) *Service {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "slider"
		}
		instance = host + "-slidego"
	}
	return &Service{
		instance: instance,
		port:     port,
		version:  version,
		register: zeroconfRegister,
		localIP:  localIPv4,
	}
}

// Start registers the service. Starting a running service is a no-op.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	ip, err := s.localIP()
	if err != nil {
		return fmt.Errorf("discovery: local address: %w", err)
	}

	srv, err := s.register(s.instance, ServiceType, ServiceDomain, s.port, TXTRecords(s.version, ip), nil)
	if err != nil {
		return fmt.Errorf("discovery: register %s: %w", ServiceType, err)
	}
	s.server = srv
	s.ip = ip

	debug.Info("Discovery: advertising %s.%s%s on %s:%d", s.instance, ServiceType, ServiceDomain, ip, s.port)
	return nil
}

// Stop withdraws the registration. Stopping a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return
	}
	s.server.Shutdown()
	s.server = nil
	debug.Info("Discovery: stopped")
}

// Running reports whether the service is registered.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.server != nil
}

// Instance returns the advertised instance name.
func (s *Service) Instance() string {
	return s.instance
}

// IP returns the advertised address, empty until Start succeeds.
func (s *Service) IP() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ip
}

// TXTRecords builds the TXT metadata of the service.
func TXTRecords(version, ip string) []string {
	return []string{
		"version=" + version,
		"name=" + DisplayName,
		"ip=" + ip,
	}
}

// localIPv4 returns the first non-loopback IPv4 address.
func localIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address")
}
