package poseidon

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/config"
	"github.com/kavach-systems/poseidon/reactor"
)

type echoPeer struct {
	fd int
}

func (p *echoPeer) FD() int                    { return p.fd }
func (p *echoPeer) PendingWrite() bool         { return false }
func (p *echoPeer) OnReadable() error          { return nil }
func (p *echoPeer) OnWritable() error          { return nil }
func (p *echoPeer) OnUnregistered(cause error) {}

func TestStartStopWithoutMySQL(t *testing.T) {
	cfg := Config{
		ListenAddr: "127.0.0.1:0",
		OnAccept: func(fd int) (reactor.Peer, error) {
			return &echoPeer{fd: fd}, nil
		},
	}
	p, err := New(cfg, config.New())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}

	sa, err := unix.Getsockname(p.server.ListenFD())
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	inet4 := sa.(*unix.SockaddrInet4)

	clientFD, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	defer unix.Close(clientFD)
	if err := unix.Connect(clientFD, &unix.SockaddrInet4{Port: inet4.Port, Addr: inet4.Addr}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Reactor.SessionCount() == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if p.Reactor.SessionCount() != 1 {
		t.Fatalf("expected one session registered after accept")
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
}
