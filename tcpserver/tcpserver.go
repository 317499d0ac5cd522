// Package tcpserver
// Author: momentics <momentics@gmail.com>
//
// TcpServer owns a listening socket and hands each accepted connection to
// a user-supplied factory, registering the resulting reactor.Peer with the
// shared epoll daemon. Adapted from internal/transport/transport_linux.go's
// non-blocking socket creation (SO_REUSEADDR/TCP_NODELAY) and
// server/server.go's accept-loop-hands-to-handler shape, replacing the
// WebSocket-specific listener with a plain TCP accept loop feeding
// reactor.Daemon.
package tcpserver

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/api"
	"github.com/kavach-systems/poseidon/logx"
	"github.com/kavach-systems/poseidon/reactor"
)

// Factory constructs the application-level peer for a freshly accepted,
// non-blocking connection. Implementations typically wrap fd in a
// session.Session and wire its OnData/OnClose callbacks before returning.
type Factory func(fd int) (reactor.Peer, error)

// Server listens on a single TCP address and drives accepted connections
// into a reactor.Daemon.
type Server struct {
	listenFD int
	daemon   *reactor.Daemon
	onAccept Factory
	log      *logx.Logger

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Options configure optional listener behavior.
type Options struct {
	// Backlog is the listen() backlog argument; defaults to 1024.
	Backlog int
}

// New creates and binds a non-blocking listening socket on addr
// (host:port, IPv4 only), but does not start accepting until Serve is
// called.
func New(addr string, daemon *reactor.Daemon, onAccept Factory, opts Options) (*Server, error) {
	sa, err := resolveAddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, unix.IPPROTO_TCP)
	if err != nil {
		return nil, api.NewSystemError(int(err.(unix.Errno)), "socket")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, api.NewSystemError(int(err.(unix.Errno)), "setsockopt SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, api.NewSystemError(int(err.(unix.Errno)), "bind")
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = 1024
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, api.NewSystemError(int(err.(unix.Errno)), "listen")
	}
	return &Server{
		listenFD: fd,
		daemon:   daemon,
		onAccept: onAccept,
		log:      logx.New(api.TagPrimary),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Serve runs the accept loop until Stop is called. It blocks the calling
// goroutine; callers typically invoke it via `go server.Serve()`.
func (s *Server) Serve() error {
	defer close(s.doneCh)
	pfds := []unix.PollFd{{Fd: int32(s.listenFD), Events: unix.POLLIN}}
	for {
		select {
		case <-s.stopCh:
			return nil
		default:
		}
		n, err := unix.Poll(pfds, 500)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return api.NewSystemError(int(err.(unix.Errno)), "poll")
		}
		if n == 0 {
			continue
		}
		for {
			connFD, _, err := unix.Accept4(s.listenFD, unix.SOCK_NONBLOCK)
			if err != nil {
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					break
				}
				s.log.Warning("tcpserver.go", 0, "accept failed", "err", err)
				break
			}
			unix.SetsockoptInt(connFD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			s.handleAccept(connFD)
		}
	}
}

func (s *Server) handleAccept(fd int) {
	peer, err := s.onAccept(fd)
	if err != nil {
		s.log.Warning("tcpserver.go", 0, "connection factory failed", "err", err)
		unix.Close(fd)
		return
	}
	if err := s.daemon.RegisterSession(peer); err != nil {
		s.log.Warning("tcpserver.go", 0, "failed to register accepted session", "err", err)
	}
}

// ListenFD returns the underlying listening socket descriptor, useful for
// tests and admin surfaces that need the bound ephemeral port.
func (s *Server) ListenFD() int { return s.listenFD }

// Stop closes the listening socket and stops the accept loop, waiting for
// Serve to observe it.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stopCh)
	<-s.doneCh
	return unix.Close(s.listenFD)
}
