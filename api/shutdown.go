// File: api/shutdown.go
// Package api defines the graceful shutdown contract implemented by
// mysqld.Daemon and the poseidon facade.
// Author: momentics <momentics@gmail.com>

package api

// GracefulShutdown is a start/stop lifecycle. reactor.Daemon,
// tcpserver.Server and jobqueue.Queue do not implement it; they are
// driven by their own Run/Serve and Stop methods. Stop must be idempotent and must not return until the
// daemon's goroutine has actually exited.
type GracefulShutdown interface {
	Start() error
	Stop() error
}
