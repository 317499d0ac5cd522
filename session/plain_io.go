package session

import (
	"golang.org/x/sys/unix"

	"github.com/kavach-systems/poseidon/atomicutil"
)

// plainIO is the default ioLayer: raw non-blocking reads/writes on the
// session's fd, no record layer above it.
type plainIO struct {
	fd *atomicutil.ScopedFD
}

func (p *plainIO) read(dst []byte) (int, error) {
	n, err := unix.Read(p.fd.Get(), dst)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (p *plainIO) write(src []byte) (int, error) {
	n, err := unix.Write(p.fd.Get(), src)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (p *plainIO) close() error { return nil }
