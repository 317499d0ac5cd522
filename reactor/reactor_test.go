package reactor

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type fakePeer struct {
	fd int

	mu        sync.Mutex
	pending   bool
	readCount int
	unregCh   chan error
}

func newFakePeer(fd int) *fakePeer {
	return &fakePeer{fd: fd, unregCh: make(chan error, 1)}
}

func (p *fakePeer) FD() int { return p.fd }
func (p *fakePeer) PendingWrite() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}
func (p *fakePeer) OnReadable() error {
	buf := make([]byte, 64)
	n, err := unix.Read(p.fd, buf)
	p.mu.Lock()
	p.readCount++
	p.mu.Unlock()
	if n == 0 && err == nil {
		return nil
	}
	return err
}
func (p *fakePeer) OnWritable() error { return nil }
func (p *fakePeer) OnUnregistered(cause error) {
	p.unregCh <- cause
}

func TestRegisterAndDeliverReadable(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	d, err := New()
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	go d.Run()
	defer d.Stop()

	peer := newFakePeer(fds[0])
	if err := d.RegisterSession(peer); err != nil {
		t.Fatalf("register: %v", err)
	}
	if d.SessionCount() != 1 {
		t.Fatalf("expected 1 registered session, got %d", d.SessionCount())
	}

	if _, err := unix.Write(fds[1], []byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		peer.mu.Lock()
		n := peer.readCount
		peer.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("readable event was never delivered")
}

func TestUnregisterOnPeerClose(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	d, err := New()
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}
	go d.Run()
	defer d.Stop()

	peer := newFakePeer(fds[0])
	if err := d.RegisterSession(peer); err != nil {
		t.Fatalf("register: %v", err)
	}

	unix.Close(fds[1]) // peer sees EOF -> hang-up

	select {
	case <-peer.unregCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected unregistration after peer close")
	}
	if d.SessionCount() != 0 {
		t.Fatalf("expected session removed, got count=%d", d.SessionCount())
	}
	unix.Close(fds[0])
}
