// Package tls manages the agent's TLS material: a local CA installed in the
// system trust store, the server certificate it signs, and a plain HTTP
// page other devices use to download the CA.
package tls

import (
	"net"
	"os"
	"strings"
)

// GetLANIPs returns the IPv4 addresses of all interfaces that are up and
// not loopback.
func GetLANIPs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		ips = append(ips, ipv4Addrs(addrs)...)
	}
	return ips, nil
}

func ipv4Addrs(addrs []net.Addr) []string {
	var ips []string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			ips = append(ips, ip.String())
		}
	}
	return ips
}

// mdnsHost returns the ".local" name the machine answers to on the LAN,
// or "" when the hostname is unknown.
func mdnsHost(hostname string) string {
	hostname = strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	if hostname == "" {
		return ""
	}
	if i := strings.IndexByte(hostname, '.'); i >= 0 {
		hostname = hostname[:i]
	}
	return strings.ToLower(hostname) + ".local"
}

// GetAllHosts returns the names the server certificate must cover:
// localhost, the loopback address, the mDNS name and every LAN IP.
func GetAllHosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	if name, err := os.Hostname(); err == nil {
		if h := mdnsHost(name); h != "" {
			hosts = append(hosts, h)
		}
	}

	lanIPs, err := GetLANIPs()
	if err != nil {
		return hosts, err
	}
	return append(hosts, lanIPs...), nil
}

// PrimaryHost is the address POS clients on the LAN should use: the first
// LAN IP, or localhost on an isolated machine.
func PrimaryHost() string {
	if ips, err := GetLANIPs(); err == nil && len(ips) > 0 {
		return ips[0]
	}
	return "localhost"
}
