// Package atomicutil
// Author: momentics <momentics@gmail.com>
//
// Small atomic primitives shared across the framework: a scoped file
// descriptor (the Go analogue of the C++ ScopedHandle/ScopedFile), a
// shared immutable string (Go strings are already immutable and
// reference-counted by the runtime, so this is a thin documented alias),
// and re-exports of go.uber.org/atomic's scalar types, used for the TCP
// session's shutdown state. The MySQL daemon imports go.uber.org/atomic
// directly for its running flag and coalescing back-pointer.
package atomicutil

import (
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Bool, Int32, and Int64 alias go.uber.org/atomic's scalar types
// so callers depend on this package rather than reaching into the
// third-party import directly; it also gives us one seam to swap the
// implementation from.
type (
	Bool  = atomic.Bool
	Int32 = atomic.Int32
	Int64 = atomic.Int64
)

// NewBool, NewInt32, NewInt64 construct the corresponding atomic type.
var (
	NewBool  = atomic.NewBool
	NewInt32 = atomic.NewInt32
	NewInt64 = atomic.NewInt64
)

// SharedString is an immutable, freely shareable string. Go strings are
// already immutable and safe to share across goroutines without copying;
// this type exists purely to name the concept where the C++ source used a
// SharedNtmbs, so the framework's Go ports read as intentional rather than
// as an oversight.
type SharedString = string

// ScopedFD owns exactly one file descriptor and closes it exactly once,
// standing in for the C++ ScopedHandle<CloseDeleter> used throughout the
// original TcpSession/TcpServer code. The zero value is not usable; use
// NewScopedFD.
type ScopedFD struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

// NewScopedFD takes ownership of fd.
func NewScopedFD(fd int) *ScopedFD {
	return &ScopedFD{fd: fd}
}

// Get returns the underlying descriptor. It remains valid only as long as
// the ScopedFD has not been closed; callers racing a concurrent Close must
// synchronize externally (as the framework's session buffer lock already
// does for the sockets it owns).
func (s *ScopedFD) Get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

// Close closes the descriptor exactly once. Subsequent calls are no-ops
// returning nil, matching the idempotent-close discipline the framework
// requires of its shutdown state machine.
func (s *ScopedFD) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

// Closed reports whether Close has already run.
func (s *ScopedFD) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
