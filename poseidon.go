// Package poseidon
// Author: momentics <momentics@gmail.com>
//
// Facade aggregating the framework's daemons behind one composition root:
// the epoll reactor, the TCP listener(s), the single-threaded job queue,
// and the optional MySQL write-back daemon. Adapted from facade/hioload.go's
// pattern (a Config struct with defaults, a struct aggregating every
// subsystem, Start/Stop implementing api.GracefulShutdown), moved from a
// WebSocket/DPDK transport facade to this project's session/reactor/
// mysqld/jobqueue components.
package poseidon

import (
	"sync"

	"github.com/kavach-systems/poseidon/api"
	"github.com/kavach-systems/poseidon/config"
	"github.com/kavach-systems/poseidon/jobqueue"
	"github.com/kavach-systems/poseidon/logx"
	"github.com/kavach-systems/poseidon/mysqld"
	"github.com/kavach-systems/poseidon/reactor"
	"github.com/kavach-systems/poseidon/servlet"
	"github.com/kavach-systems/poseidon/tcpserver"
)

// Config holds parameters immutable for the lifetime of one Poseidon
// instance.
type Config struct {
	// ListenAddr is passed to tcpserver.New for the primary TCP listener.
	ListenAddr string
	// EnableMySQL controls whether the write-back persistence daemon is
	// started alongside the reactor and job queue.
	EnableMySQL bool
	// Dial, when EnableMySQL is true, opens connections for the MySQL
	// daemon. Required if EnableMySQL is set.
	Dial mysqld.Dialer
	// OnAccept builds the per-connection reactor.Peer for a freshly
	// accepted socket, typically wrapping it in a session.Session.
	OnAccept tcpserver.Factory
}

// Poseidon aggregates every framework daemon behind Start/Stop, which
// implement the api.GracefulShutdown contract.
type Poseidon struct {
	cfg Config
	log *logx.Logger

	Reactor  *reactor.Daemon
	Jobs     *jobqueue.Queue
	Servlets *servlet.Registry
	MySQL    *mysqld.Daemon

	server *tcpserver.Server

	mu      sync.Mutex
	started bool
}

var _ api.GracefulShutdown = (*Poseidon)(nil)

// New wires the daemons together but does not start any of them.
func New(cfg Config, appConfig *config.Config) (*Poseidon, error) {
	daemon, err := reactor.New()
	if err != nil {
		return nil, err
	}
	p := &Poseidon{
		cfg:      cfg,
		log:      logx.New(api.TagPrimary),
		Reactor:  daemon,
		Jobs:     jobqueue.New(),
		Servlets: servlet.New(),
	}
	if cfg.EnableMySQL {
		p.MySQL = mysqld.New(mysqld.LoadConfig(appConfig), cfg.Dial, p.Jobs)
	}
	server, err := tcpserver.New(cfg.ListenAddr, p.Reactor, cfg.OnAccept, tcpserver.Options{})
	if err != nil {
		return nil, err
	}
	p.server = server
	return p, nil
}

// Start launches the reactor loop, the job queue drain loop, the TCP
// accept loop, and (if configured) the MySQL daemon. Calling Start twice
// is a no-op.
func (p *Poseidon) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	go p.Reactor.Run()
	go p.Jobs.Run()
	go p.server.Serve()
	if p.MySQL != nil {
		if err := p.MySQL.Start(); err != nil {
			return err
		}
	}
	p.started = true
	p.log.Info("poseidon.go", 0, "started")
	return nil
}

// Stop tears every daemon down in the reverse order they were started,
// draining pending MySQL work before returning. Calling Stop on a
// non-started instance is a no-op.
func (p *Poseidon) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	if p.MySQL != nil {
		p.MySQL.WaitForAllAsyncOperations()
		p.MySQL.Stop()
	}
	p.server.Stop()
	p.Jobs.Stop()
	p.Reactor.Stop()
	p.started = false
	p.log.Info("poseidon.go", 0, "stopped")
	return nil
}
