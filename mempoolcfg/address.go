package mempoolcfg

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

var loopBackAddrs = []string{"localhost", "127.0.0.1", "[::1]"}

type tcpResolver = func(network, addr string) (*net.TCPAddr, error)

// NormalizeAddresses returns a new slice with all the passed addresses
// normalized with the given default port and all duplicates removed.
// Adapted from this codebase's lncfg.NormalizeAddresses, trimmed of
// the Tor/onion handling the mempool tracker has no use for.
func NormalizeAddresses(addrs []string, defaultPort string,
	resolver tcpResolver) ([]net.Addr, error) {

	result := make([]net.Addr, 0, len(addrs))
	seen := map[string]struct{}{}

	for _, addr := range addrs {
		parsed, err := ParseAddressString(addr, defaultPort, resolver)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[parsed.String()]; !ok {
			result = append(result, parsed)
			seen[parsed.String()] = struct{}{}
		}
	}

	return result, nil
}

// IsLoopback returns true if an address describes a loopback
// interface.
func IsLoopback(addr string) bool {
	for _, loopback := range loopBackAddrs {
		if strings.Contains(addr, loopback) {
			return true
		}
	}
	return false
}

// ListenOnAddress creates a listener that listens on the given
// address.
func ListenOnAddress(addr net.Addr) (net.Listener, error) {
	return net.Listen(addr.Network(), addr.String())
}

// ParseAddressString converts an address in string format to a
// net.Addr. Addresses can be in network://address:port,
// network:address:port, address:port, or just port format.
func ParseAddressString(strAddress, defaultPort string,
	resolver tcpResolver) (net.Addr, error) {

	var parsedNetwork, parsedAddr string

	switch {
	case strings.Contains(strAddress, "://"):
		parts := strings.SplitN(strAddress, "://", 2)
		parsedNetwork, parsedAddr = parts[0], parts[1]
	case strings.Contains(strAddress, ":"):
		parts := strings.Split(strAddress, ":")
		parsedNetwork = parts[0]
		parsedAddr = strings.Join(parts[1:], ":")
	}

	switch parsedNetwork {
	case "unix", "unixpacket":
		return net.ResolveUnixAddr(parsedNetwork, parsedAddr)

	case "tcp", "tcp4", "tcp6":
		return resolver(parsedNetwork, verifyPort(parsedAddr, defaultPort))

	case "ip", "ip4", "ip6", "udp", "udp4", "udp6", "unixgram":
		return nil, fmt.Errorf("only tcp or unix socket addresses "+
			"are supported: %s", parsedAddr)

	default:
		addrWithPort := verifyPort(strAddress, defaultPort)
		rawHost, _, _ := net.SplitHostPort(addrWithPort)

		if rawHost == "" || IsLoopback(rawHost) {
			return net.ResolveTCPAddr("tcp", addrWithPort)
		}
		return resolver("tcp", addrWithPort)
	}
}

// verifyPort makes sure an address string has a port, appending the
// default when one is missing.
func verifyPort(address, defaultPort string) string {
	_, _, err := net.SplitHostPort(address)
	if err == nil {
		return address
	}

	// SplitHostPort returns an error for both the lack of a port and
	// a malformed address; only the former is recoverable here.
	if strings.Contains(address, ":") {
		return address
	}

	// A bare integer names a port with no host, e.g. a listenport
	// config value of "8333"; bind it on localhost rather than
	// treating it as a hostname with a missing port.
	if _, err := strconv.Atoi(address); err == nil {
		return net.JoinHostPort("localhost", address)
	}

	hostPort := net.JoinHostPort(address, defaultPort)
	return hostPort
}

// resolveTCP is the default tcpResolver used when the caller does
// not need custom resolution (e.g. for testing against a proxy).
func resolveTCP(network, addr string) (*net.TCPAddr, error) {
	return net.ResolveTCPAddr(network, addr)
}
