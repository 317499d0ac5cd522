package tcpserver

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/api"
)

// resolveAddr parses a host:port string into a unix.Sockaddr, restricted
// to IPv4 as the original TcpServer targets a single AF_INET listener.
func resolveAddr(addr string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, api.Wrap(api.KindSystem, err, "resolve listen address")
	}
	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	ip := tcpAddr.IP.To4()
	if ip == nil {
		ip = net.IPv4zero.To4()
	}
	copy(sa.Addr[:], ip)
	return sa, nil
}
