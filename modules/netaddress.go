package modules

import (
	"net"
	"strconv"
)

// A NetAddress contains the information needed to contact a peer: a
// "host:port" string.
type NetAddress string

// Host removes the port from a NetAddress, returning just the host. If the
// address is invalid, the empty string is returned.
func (na NetAddress) Host() string {
	host, _, err := net.SplitHostPort(string(na))
	// 'host' is not always the empty string if an error is returned.
	if err != nil {
		return ""
	}
	return host
}

// Port returns the NetAddress object's port number. The empty string is
// returned if the NetAddress is invalid.
func (na NetAddress) Port() string {
	_, port, err := net.SplitHostPort(string(na))
	// 'port' will not always be the empty string if an error is returned.
	if err != nil {
		return ""
	}
	return port
}

// PortInt returns the port as an integer, or -1 if the NetAddress is
// invalid. Ledger files are keyed by this value.
func (na NetAddress) PortInt() int {
	port, err := strconv.Atoi(na.Port())
	if err != nil {
		return -1
	}
	return port
}

// IsLocal returns true for addresses on the same machine.
func (na NetAddress) IsLocal() bool {
	if !na.IsValid() {
		return false
	}
	host := na.Host()
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return host == "localhost"
}

// IsValid returns whether the NetAddress splits into a host and a port.
func (na NetAddress) IsValid() bool {
	_, _, err := net.SplitHostPort(string(na))
	return err == nil
}

// PeerSet builds the immutable peer snapshot for one node: every address in
// all whose port differs from self's. The peer set is fixed at startup;
// changing it requires a rebuild.
func PeerSet(all []NetAddress, self NetAddress) []NetAddress {
	peers := make([]NetAddress, 0, len(all))
	for _, na := range all {
		if na.Port() == self.Port() {
			continue
		}
		peers = append(peers, na)
	}
	return peers
}
