package session

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/reactor"
	"github.com/kavach-systems/poseidon/streambuf"
)

// fakeRegistrar is a minimal Registrar used to drive OnWritable/Unregister
// manually in tests, without a real epoll instance.
type fakeRegistrar struct {
	mu           sync.Mutex
	unregistered []int
	touched      int
}

func (r *fakeRegistrar) RegisterSession(p reactor.Peer) error { return nil }
func (r *fakeRegistrar) TouchSession(p reactor.Peer) error {
	r.mu.Lock()
	r.touched++
	r.mu.Unlock()
	return nil
}
func (r *fakeRegistrar) Unregister(fd int) {
	r.mu.Lock()
	r.unregistered = append(r.unregistered, fd)
	r.mu.Unlock()
}

// newTestPair returns a connected loopback TCP pair, both ends
// non-blocking. Sessions only accept IPv4/IPv6 peers, so an AF_UNIX
// socketpair cannot be used here.
func newTestPair(t *testing.T) (client, serverFD int) {
	t.Helper()
	ln, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("listen socket: %v", err)
	}
	defer unix.Close(ln)
	if err := unix.Bind(ln, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(ln, 1); err != nil {
		t.Fatalf("listen: %v", err)
	}
	sa, err := unix.Getsockname(ln)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	client, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	if err := unix.Connect(client, sa); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := unix.SetNonblock(client, true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	serverFD, _, err = unix.Accept4(ln, unix.SOCK_NONBLOCK)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return client, serverFD
}

func TestSendAfterShutdownReturnsFalse(t *testing.T) {
	client, serverFD := newTestPair(t)
	defer unix.Close(client)

	s, err := New(serverFD, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if !s.Shutdown() {
		t.Fatalf("first shutdown call should win the transition")
	}

	buf := &streambuf.StreamBuffer{}
	buf.Append([]byte("late"))
	if s.Send(buf) {
		t.Fatalf("send after shutdown must return false")
	}
}

func TestShutdownIsSingleWinner(t *testing.T) {
	client, serverFD := newTestPair(t)
	defer unix.Close(client)

	s, err := New(serverFD, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Shutdown() {
				wins++
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winning shutdown call, got %d", wins)
	}
}

func TestEchoThenShutdownDeliversEchoToPeer(t *testing.T) {
	client, serverFD := newTestPair(t)
	defer unix.Close(client)

	s, err := New(serverFD, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	var got []byte
	s.OnData = func(sess *Session, p []byte) error {
		got = append(got, p...)
		out := &streambuf.StreamBuffer{}
		out.Append(p)
		sess.ShutdownWithBuffer(out)
		return nil
	}

	if _, err := unix.Write(client, []byte("HELLO")); err != nil {
		t.Fatalf("client write: %v", err)
	}

	if err := s.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if string(got) != "HELLO" {
		t.Fatalf("expected echo payload HELLO, got %q", got)
	}
	if !s.HasBeenShutdown() {
		t.Fatalf("expected session to be half-closed after echo")
	}

	if err := s.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	buf := make([]byte, 64)
	var n int
	for time.Now().Before(deadline) {
		n, err = unix.Read(client, buf)
		if n > 0 {
			break
		}
		if err != unix.EAGAIN {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if string(buf[:n]) != "HELLO" {
		t.Fatalf("peer expected to read echoed HELLO, got %q (err=%v)", buf[:n], err)
	}
}

func TestForceShutdownUnregistersImmediately(t *testing.T) {
	client, serverFD := newTestPair(t)
	defer unix.Close(client)

	reg := &fakeRegistrar{}
	s, err := New(serverFD, reg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if !s.ForceShutdown() {
		t.Fatalf("expected forceShutdown to win from ACTIVE")
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.unregistered) != 1 || reg.unregistered[0] != s.FD() {
		t.Fatalf("expected the session's fd to be unregistered, got %v", reg.unregistered)
	}
}

func TestOnReadableEOFHalfClosesSession(t *testing.T) {
	client, serverFD := newTestPair(t)

	s, err := New(serverFD, nil)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	unix.Close(client)

	// Drain until read returns 0, signalling peer EOF.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !s.HasBeenShutdown() {
		s.OnReadable()
		time.Sleep(5 * time.Millisecond)
	}
	if !s.HasBeenShutdown() {
		t.Fatalf("expected session to be half-closed after peer EOF")
	}
}
