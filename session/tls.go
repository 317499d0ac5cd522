package session

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/api"
	"github.com/kavach-systems/poseidon/atomicutil"
	"github.com/kavach-systems/poseidon/logx"
)

// pollConn adapts a non-blocking raw fd into a blocking net.Conn, which is
// what crypto/tls requires. It translates EAGAIN into a unix.Poll wait
// rather than looping hot, treating a TLS handshake as an accepted
// blocking suspension point. TLS sessions therefore run their own
// goroutine (see Session.pump) instead of participating in the
// reactor.Daemon's shared epoll loop.
type pollConn struct {
	fd *atomicutil.ScopedFD
}

func (c *pollConn) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd.Get(), b)
		if err == nil {
			if n == 0 {
				return 0, net.ErrClosed
			}
			return n, nil
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return 0, err
		}
		if err := c.wait(unix.POLLIN); err != nil {
			return 0, err
		}
	}
}

func (c *pollConn) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Write(c.fd.Get(), b[total:])
		if err == nil {
			total += n
			continue
		}
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			return total, err
		}
		if err := c.wait(unix.POLLOUT); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *pollConn) wait(events int16) error {
	fds := []unix.PollFd{{Fd: int32(c.fd.Get()), Events: events}}
	for {
		_, err := unix.Poll(fds, 1000)
		if err == nil || err == unix.EINTR {
			return nil
		}
		return err
	}
}

func (c *pollConn) Close() error                       { return c.fd.Close() }
func (c *pollConn) LocalAddr() net.Addr                { return nil }
func (c *pollConn) RemoteAddr() net.Addr               { return nil }
func (c *pollConn) SetDeadline(t time.Time) error      { return nil }
func (c *pollConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *pollConn) SetWriteDeadline(t time.Time) error { return nil }

// tlsIO is the ioLayer for a TLS-wrapped session. Unlike plainIO it is
// driven by its own reader goroutine (pump) rather than the reactor
// daemon's OnReadable callback, since tls.Conn.Read blocks. read() is
// called from pump and blocks in tls.Conn.Read; write() goes straight
// through the tls.Conn, which internally serializes with its own lock.
type tlsIO struct {
	conn *tls.Conn

	mu     sync.Mutex
	closed bool
}

func newTLSIO(conn *tls.Conn) *tlsIO {
	return &tlsIO{conn: conn}
}

func (t *tlsIO) write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *tlsIO) read(dst []byte) (int, error) {
	n, err := t.conn.Read(dst)
	if err != nil {
		if isTimeout(err) {
			return 0, unix.EAGAIN
		}
		return n, err
	}
	return n, nil
}

func (t *tlsIO) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}

// pump runs the session's TLS read loop on a dedicated goroutine,
// delivering each chunk to OnData directly rather than through the
// reactor.Peer readiness callback, since a TLS session is never
// registered with reactor.Daemon.
func (s *Session) pump() {
	buf := make([]byte, 65536)
	for {
		n, err := s.io.read(buf)
		if err != nil {
			if err == unix.EAGAIN {
				continue
			}
			s.ForceShutdown()
			s.OnUnregistered(err)
			return
		}
		if n == 0 {
			s.Shutdown()
			continue
		}
		if s.OnData != nil {
			if err := s.OnData(s, buf[:n]); err != nil {
				s.ForceShutdown()
				s.OnUnregistered(err)
				return
			}
		}
		if State(s.state.Load()) == StateClosed {
			return
		}
	}
}

// NewTLSClient dials fd (already connected) and performs a TLS client
// handshake with certificate verification disabled, mirroring the
// original's SSL_VERIFY_NONE client policy.
func NewTLSClient(fd int, serverName string) (*Session, error) {
	ip, err := remoteIPFromSocket(fd)
	if err != nil {
		return nil, err
	}
	sfd := atomicutil.NewScopedFD(fd)
	raw := &pollConn{fd: sfd}
	conn := tls.Client(raw, &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         serverName,
	})
	if err := conn.Handshake(); err != nil {
		sfd.Close()
		return nil, api.Wrap(api.KindProtocol, err, "tls client handshake")
	}
	s := &Session{
		fd:       sfd,
		remoteIP: ip,
		log:      logx.New(api.TagEpoll),
		io:       newTLSIO(conn),
	}
	go s.pump()
	return s, nil
}

// InitTLSServer loads the server certificate/key pair and returns a
// factory that wraps accepted fds in a TLS server handshake. This
// completes the framework's previously-stubbed initSslServer path
// symmetrically to NewTLSClient.
func InitTLSServer(certPath, keyPath string) (func(fd int) (*Session, error), error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, api.Wrap(api.KindSystem, err, "load TLS server credentials")
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	return func(fd int) (*Session, error) {
		ip, err := remoteIPFromSocket(fd)
		if err != nil {
			return nil, err
		}
		sfd := atomicutil.NewScopedFD(fd)
		raw := &pollConn{fd: sfd}
		conn := tls.Server(raw, cfg)
		if err := conn.Handshake(); err != nil {
			sfd.Close()
			return nil, api.Wrap(api.KindProtocol, err, "tls server handshake")
		}
		s := &Session{
			fd:       sfd,
			remoteIP: ip,
			log:      logx.New(api.TagEpoll),
			io:       newTLSIO(conn),
		}
		go s.pump()
		return s, nil
	}, nil
}
