// Package reactor
// Author: momentics <momentics@gmail.com>
//
// EpollDaemon owns the process-wide readiness notifier: a single epoll
// instance multiplexing readiness events across every registered TCP
// session's socket. Adapted from reactor/epoll_reactor.go's shape
// (single epoll fd, callback-map dispatch loop), rebuilt around
// golang.org/x/sys/unix instead of the raw syscall package since x/sys is
// already a declared dependency and gives named epoll flag constants.
package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/api"
	"github.com/kavach-systems/poseidon/logx"
)

// Peer is the minimal contract the daemon needs from a registered session.
// TcpSession implements this; the daemon never sees session-specific
// concerns like TLS or the send buffer directly.
type Peer interface {
	// FD returns the peer's underlying file descriptor. It must remain
	// stable for the lifetime of the registration.
	FD() int
	// PendingWrite reports whether the peer currently has outbound bytes
	// buffered, used to decide whether write-readiness should stay armed.
	PendingWrite() bool
	// OnReadable is invoked when the fd is readable. Returning an error
	// causes the daemon to unregister and drop the peer.
	OnReadable() error
	// OnWritable is invoked when the fd is writable and PendingWrite was
	// true. Returning an error causes the daemon to unregister and drop
	// the peer.
	OnWritable() error
	// OnUnregistered is invoked exactly once, after the daemon has
	// revoked interest and dropped its strong reference, with the reason
	// the peer was removed (nil when it was removed through Unregister).
	OnUnregistered(cause error)
}

const maxEvents = 256

// Daemon is the single-threaded readiness loop. It must be run from one
// goroutine (via Run); registration and touch calls are safe from any
// goroutine.
type Daemon struct {
	epfd int
	log  *logx.Logger

	mu    sync.Mutex
	peers map[int]Peer

	stop chan struct{}
	done chan struct{}
}

// New creates the epoll instance. The daemon does not start polling until
// Run is called.
func New() (*Daemon, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, api.NewSystemError(int(err.(unix.Errno)), "epoll_create1")
	}
	return &Daemon{
		epfd:  epfd,
		log:   logx.New(api.TagEpoll),
		peers: make(map[int]Peer),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}, nil
}

// RegisterSession adds fd with read-readiness interest, per spec: every
// registered session is reachable by exactly one strong reference held by
// the daemon.
func (d *Daemon) RegisterSession(p Peer) error {
	fd := p.FD()
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return api.NewSystemError(int(err.(unix.Errno)), "epoll_ctl add")
	}
	d.mu.Lock()
	d.peers[fd] = p
	d.mu.Unlock()
	return nil
}

// TouchSession re-arms write-readiness if the peer currently has pending
// outbound bytes. The user (send) path calls this after enqueuing bytes;
// it must never run while holding the session's buffer mutex, since the
// epoll_ctl syscall must not execute under that lock.
func (d *Daemon) TouchSession(p Peer) error {
	fd := p.FD()
	events := uint32(unix.EPOLLIN)
	if p.PendingWrite() {
		events |= unix.EPOLLOUT
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		if err == unix.ENOENT {
			return nil // session already unregistered; touch is best-effort
		}
		return api.NewSystemError(int(err.(unix.Errno)), "epoll_ctl mod")
	}
	return nil
}

// unregister revokes interest before dropping the strong reference, per
// spec: "removing a session revokes interest before dropping."
func (d *Daemon) unregister(fd int, cause error) {
	unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	d.mu.Lock()
	p, ok := d.peers[fd]
	delete(d.peers, fd)
	d.mu.Unlock()
	if ok {
		p.OnUnregistered(cause)
	}
}

// Run drives the readiness loop until Stop is called. It must be called
// from exactly one goroutine and never blocks under any session's buffer
// mutex: read/write are dispatched to the peer, which owns its own
// locking discipline internally.
func (d *Daemon) Run() {
	defer close(d.done)
	events := make([]unix.EpollEvent, maxEvents)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		n, err := unix.EpollWait(d.epfd, events, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			d.log.Error("reactor.go", 0, "epoll_wait failed", "err", err)
			continue
		}
		for i := 0; i < n; i++ {
			d.dispatch(events[i])
		}
	}
}

func (d *Daemon) dispatch(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	d.mu.Lock()
	p, ok := d.peers[fd]
	d.mu.Unlock()
	if !ok {
		return
	}
	if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		d.unregister(fd, api.NewProtocolError("peer hang-up or error"))
		return
	}
	if ev.Events&unix.EPOLLIN != 0 {
		if err := p.OnReadable(); err != nil {
			d.unregister(fd, err)
			return
		}
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		if err := p.OnWritable(); err != nil {
			d.unregister(fd, err)
			return
		}
		if !p.PendingWrite() {
			// send buffer drained; drop back to read-only interest so we
			// aren't woken spuriously on every writable tick.
			d.mu.Lock()
			_, stillRegistered := d.peers[fd]
			d.mu.Unlock()
			if stillRegistered {
				d.TouchSession(p)
			}
		}
	}
}

// Unregister forcibly drops a session, used when a session shuts itself
// down (forceShutdown) rather than via a readiness event.
func (d *Daemon) Unregister(fd int) {
	d.unregister(fd, nil)
}

// Stop signals the loop to exit and blocks until it has, bounded by the
// loop's own 1-second epoll_wait timeout.
func (d *Daemon) Stop() error {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
	}
	return unix.Close(d.epfd)
}

// SessionCount reports the number of currently registered peers, useful
// for tests and admin surfaces.
func (d *Daemon) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.peers)
}
