// Package discovery advertises the controller on the local network via mDNS
// so modules and companion apps can find it without configuration.
package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
)

// ServiceName is the mDNS service type modules browse for.
const ServiceName = "_picklereef._tcp"

// ServiceInfo describes the advertised controller endpoint.
type ServiceInfo struct {
	ID      string
	Name    string
	Version string
	Port    int
	IPs     []net.IP
}

// Server advertises the controller via mDNS.
type Server struct {
	info   ServiceInfo
	server *mdns.Server
}

// NewServer creates an mDNS server for the given controller info.
func NewServer(info ServiceInfo) *Server {
	return &Server{info: info}
}

// Start begins advertising on the network.
func (s *Server) Start() error {
	if len(s.info.IPs) == 0 {
		ips, err := getLocalIPs()
		if err != nil {
			return fmt.Errorf("failed to get local IPs: %w", err)
		}
		s.info.IPs = ips
	}

	txt := []string{
		"id=" + s.info.ID,
		"name=" + s.info.Name,
		"version=" + s.info.Version,
	}

	service, err := mdns.NewMDNSService(
		s.info.ID,
		ServiceName,
		"", // domain, defaults to local
		"", // host, auto-detected
		s.info.Port,
		s.info.IPs,
		txt,
	)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to start mDNS server: %w", err)
	}

	s.server = server
	return nil
}

// Stop stops advertising.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Shutdown()
	}
	return nil
}

// Info returns the advertised service info.
func (s *Server) Info() ServiceInfo {
	return s.info
}

// getLocalIPs returns the local non-loopback IPv4 addresses.
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip)
		}
	}

	return ips, nil
}

// Hostname returns the local hostname, or "picklereef" when it cannot be
// determined.
func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "picklereef"
	}
	return hostname
}
