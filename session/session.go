// Package session
// Author: momentics <momentics@gmail.com>
//
// TcpSession is the per-connection duplex byte pipe described by the
// framework: an exclusively-owned fd, an immutable remote IP, an atomic
// shutdown state machine, and a mutex-guarded outbound StreamBuffer.
// Grounded directly on original_source/src/main/tcp_session_base.cpp for
// the exact shutdown/read/write semantics, translated onto
// golang.org/x/sys/unix and the reactor package's Peer contract.
package session

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/api"
	"github.com/kavach-systems/poseidon/atomicutil"
	"github.com/kavach-systems/poseidon/logx"
	"github.com/kavach-systems/poseidon/reactor"
	"github.com/kavach-systems/poseidon/streambuf"
)

// State is the shutdown state machine: ACTIVE -> HALF_CLOSED -> CLOSED.
// Only one caller may win the ACTIVE->HALF_CLOSED transition;
// forceShutdown drives ACTIVE straight to CLOSED.
type State int32

const (
	StateActive State = iota
	StateHalfClosed
	StateClosed
)

// Registrar is the subset of reactor.Daemon a session needs, named as an
// interface so sessions can be unit tested without a real epoll instance.
type Registrar interface {
	RegisterSession(p reactor.Peer) error
	TouchSession(p reactor.Peer) error
	Unregister(fd int)
}

// ioLayer abstracts the byte transport under the session: either the raw
// non-blocking fd, or a TLS record layer on top of it. See tls.go.
type ioLayer interface {
	// read mirrors the framework's doRead: n>0 bytes read, n==0 && err==nil
	// on peer close, err==unix.EAGAIN on transient unavailability.
	read(dst []byte) (int, error)
	write(p []byte) (int, error)
	close() error
}

// Session is a single TCP connection with associated protocol state.
type Session struct {
	fd       *atomicutil.ScopedFD
	remoteIP atomicutil.SharedString
	state    atomicutil.Int32

	bufMu   sync.Mutex
	sendBuf streambuf.StreamBuffer

	io        ioLayer
	registrar Registrar
	log       *logx.Logger

	// OnData is invoked with each chunk read from the peer; the caller
	// (a protocol parser, out of this component's scope) resolves a
	// servlet and enqueues work. Returning an error shuts the session
	// down as if a read error had occurred.
	OnData func(*Session, []byte) error
	// OnClose is invoked exactly once when the session is fully torn
	// down, with the cause (nil for a clean shutdown).
	OnClose func(*Session, error)
}

// New wraps an already-accepted, non-blocking socket fd. Callers obtain fd
// from tcpserver's accept loop or from a client-side dial.
func New(fd int, registrar Registrar) (*Session, error) {
	ip, err := remoteIPFromSocket(fd)
	if err != nil {
		return nil, err
	}
	s := &Session{
		fd:        atomicutil.NewScopedFD(fd),
		remoteIP:  ip,
		registrar: registrar,
		log:       logx.New(api.TagEpoll),
	}
	s.io = &plainIO{fd: s.fd}
	return s, nil
}

// FD implements reactor.Peer.
func (s *Session) FD() int { return s.fd.Get() }

// RemoteIP returns the immutable remote address recorded at construction.
func (s *Session) RemoteIP() string { return s.remoteIP }

// HasBeenShutdown reports whether shutdown or forceShutdown has already
// run.
func (s *Session) HasBeenShutdown() bool {
	return State(s.state.Load()) != StateActive
}

// PendingWrite implements reactor.Peer.
func (s *Session) PendingWrite() bool {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	return !s.sendBuf.Empty()
}

// Send splices buffer into the outbound path and arms write-readiness.
// Returns false without modifying the send buffer if shutdown has already
// been signalled. Thread-safe, callable from any goroutine.
//
// A session with no registrar is a TLS session driven by its own pump
// goroutine rather than the reactor daemon (see tls.go): there is no
// OnWritable callback to drain a buffered send, so bytes go straight
// through the TLS record layer, which serializes its own writes.
func (s *Session) Send(buffer *streambuf.StreamBuffer) bool {
	if s.HasBeenShutdown() {
		s.log.Debug("session.go", 0, "attempted send on a closed session", "remote", s.remoteIP)
		return false
	}
	if s.registrar == nil {
		scratch := make([]byte, buffer.Size())
		buffer.Peek(scratch)
		buffer.Discard(len(scratch))
		if _, err := s.io.write(scratch); err != nil {
			s.ForceShutdown()
			return false
		}
		return true
	}
	s.bufMu.Lock()
	s.sendBuf.Splice(buffer)
	s.bufMu.Unlock()
	s.registrar.TouchSession(s)
	return true
}

// Shutdown atomically transitions ACTIVE->HALF_CLOSED and half-closes the
// read side. Remaining outbound bytes already queued are still delivered.
// Returns true iff this call performed the transition.
func (s *Session) Shutdown() bool {
	won := s.state.CAS(int32(StateActive), int32(StateHalfClosed))
	if won {
		unix.Shutdown(s.fd.Get(), unix.SHUT_RD)
	}
	return won
}

// ShutdownWithBuffer appends buffer to the outbound path before
// half-closing, but only if this call wins the transition.
func (s *Session) ShutdownWithBuffer(buffer *streambuf.StreamBuffer) bool {
	won := s.state.CAS(int32(StateActive), int32(StateHalfClosed))
	if won {
		s.bufMu.Lock()
		s.sendBuf.Splice(buffer)
		s.bufMu.Unlock()
	}
	unix.Shutdown(s.fd.Get(), unix.SHUT_RD)
	return won
}

// ForceShutdown atomically sets the flag and fully closes the socket in
// both directions, discarding pending outbound bytes.
func (s *Session) ForceShutdown() bool {
	won := s.state.CAS(int32(StateActive), int32(StateClosed)) ||
		s.state.CAS(int32(StateHalfClosed), int32(StateClosed))
	unix.Shutdown(s.fd.Get(), unix.SHUT_RDWR)
	if s.registrar != nil {
		s.registrar.Unregister(s.fd.Get())
	}
	return won
}

// OnReadable implements reactor.Peer: reads available bytes and feeds
// them to OnData until the layer reports transient unavailability.
func (s *Session) OnReadable() error {
	var buf [65536]byte
	for {
		n, err := s.io.read(buf[:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			return api.NewSystemError(errnoOf(err), "recv")
		}
		if n == 0 {
			// Peer closed its write side. Half-close ourselves too and
			// let outstanding outbound bytes finish draining.
			s.Shutdown()
			return nil
		}
		if s.OnData != nil {
			if err := s.OnData(s, buf[:n]); err != nil {
				return err
			}
		}
	}
}

// OnWritable implements reactor.Peer, following the framework's doWrite
// discipline exactly: peek under the buffer lock, release the lock for
// the syscall, reacquire only to discard on success.
func (s *Session) OnWritable() error {
	var scratch [65536]byte
	s.bufMu.Lock()
	n := s.sendBuf.Peek(scratch[:])
	s.bufMu.Unlock()
	if n == 0 {
		s.maybeFinishHalfClose()
		return nil
	}
	written, err := s.io.write(scratch[:n])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		return api.NewSystemError(errnoOf(err), "send")
	}
	if written > 0 {
		s.bufMu.Lock()
		s.sendBuf.Discard(written)
		empty := s.sendBuf.Empty()
		s.bufMu.Unlock()
		if empty {
			s.maybeFinishHalfClose()
		}
	}
	return nil
}

// maybeFinishHalfClose unregisters a half-closed session once its send
// buffer has fully drained, per spec: "the session is unregistered from
// the daemon" once writes after HALF_CLOSED finish.
func (s *Session) maybeFinishHalfClose() {
	if State(s.state.Load()) == StateHalfClosed && s.PendingWrite() == false {
		if s.registrar != nil {
			s.registrar.Unregister(s.fd.Get())
		}
	}
}

// OnUnregistered implements reactor.Peer.
func (s *Session) OnUnregistered(cause error) {
	s.state.Store(int32(StateClosed))
	s.io.close()
	s.fd.Close()
	if s.OnClose != nil {
		s.OnClose(s, cause)
	}
}

func errnoOf(err error) int {
	if errno, ok := err.(unix.Errno); ok {
		return int(errno)
	}
	return 0
}

// remoteIPFromSocket extracts the peer address, rejecting unknown address
// families as the framework's getIpFromSocket does.
func remoteIPFromSocket(fd int) (string, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return "", api.NewSystemError(errnoOf(err), "getpeername")
	}
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(addr.Addr[:]).String(), nil
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String(), nil
	default:
		return "", api.NewProtocolError("unknown IP protocol family")
	}
}
