// Package mysqld
// Author: momentics <momentics@gmail.com>
//
// MySqlDaemon is a single-goroutine write-back persistence worker: saves
// are coalesced and delayed, loads run once and then enable auto-saving on
// the object. The algorithm (queue claim loop, exponential reconnect
// backoff, coalescing via a back-pointer comparison) follows
// original_source/src/main/singletons/mysql_daemon.cpp. Queue storage uses
// github.com/eapache/queue in place of a std::list-plus-free-list pair: a
// ring buffer already reuses its backing array, so a second free-list pool
// buys nothing in Go.
package mysqld

import (
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/atomic"

	"github.com/kavach-systems/poseidon/api"
	"github.com/kavach-systems/poseidon/config"
	"github.com/kavach-systems/poseidon/jobqueue"
	"github.com/kavach-systems/poseidon/logx"
)

// Connection is the seam between the daemon and a concrete SQL driver.
// Neither the daemon nor Object implementations import a driver package
// directly, consistent with treating "the SQL driver itself" as out of
// scope: callers supply a Dialer backed by whatever driver they choose.
type Connection interface {
	Close() error
}

// Dialer opens a fresh Connection to the configured database.
type Dialer func() (Connection, error)

// AsyncLoadCallback is invoked, via the supplied JobQueue, once a load has
// completed and auto-saving has been enabled on the object.
type AsyncLoadCallback func(Object)

// Object is a persistable entity. SyncSave and SyncLoad run synchronously
// on the daemon's single goroutine; implementations must not block on
// anything but the database itself.
type Object interface {
	SyncSave(conn Connection) error
	SyncLoad(conn Connection, filter string) error
	EnableAutoSaving()
	// Context returns the embedded coalescing back-pointer slot. Embed
	// Context by value and implement this as a one-line accessor.
	Context() *Context
}

// Context is the atomic back-pointer slot every Object embeds. The daemon
// compares it against the queue node it is about to process: if some
// later pendForSaving call has moved the pointer on, this node is stale
// and is discarded unprocessed, exactly mirroring the original's
// atomicLoad(object->m_context) != &head check.
type Context struct {
	pending atomic.Pointer[saveItem]
}

type saveItem struct {
	object Object
	dueAt  time.Time
}

type loadItem struct {
	object   Object
	filter   string
	callback AsyncLoadCallback
}

// Config carries the six database_* connection and timing knobs.
type Config struct {
	Server         string
	Username       string
	Password       string
	Name           string
	SaveDelay      time.Duration
	MaxReconnDelay time.Duration
}

// LoadConfig reads the six database_* keys, falling back to their
// documented defaults where absent.
func LoadConfig(cfg *config.Config) Config {
	return Config{
		Server:         cfg.GetString("database_server", "tcp://localhost:3306"),
		Username:       cfg.GetString("database_username", "root"),
		Password:       cfg.GetString("database_password", "root"),
		Name:           cfg.GetString("database_name", "test"),
		SaveDelay:      time.Duration(cfg.GetInt("database_save_delay", 5000)) * time.Millisecond,
		MaxReconnDelay: time.Duration(cfg.GetInt("database_max_reconn_delay", 60000)) * time.Millisecond,
	}
}

// Daemon is the write-back persistence worker. The zero value is not
// usable; construct with New.
type Daemon struct {
	cfg    Config
	dial   Dialer
	jobs   *jobqueue.Queue
	log    *logx.Logger

	mu        sync.Mutex
	saveQueue *queue.Queue
	loadQueue *queue.Queue
	// wake is a single-slot notification: PendForSaving/PendForLoading/Stop
	// do a non-blocking send, claimNext selects on it with a fallback
	// timeout of at most one second. This is the channel-based analogue of the
	// original's condition_variable::timed_wait(1 second), chosen over
	// sync.Cond because Cond has no native timed wait.
	wake chan struct{}

	running atomic.Bool
	done    chan struct{}
}

// New builds a daemon that dials connections via dial and delivers load
// callbacks through jobs (typically the process-wide JobQueue so callbacks
// run on the same goroutine as everything else touching session state).
func New(cfg Config, dial Dialer, jobs *jobqueue.Queue) *Daemon {
	return &Daemon{
		cfg:       cfg,
		dial:      dial,
		jobs:      jobs,
		log:       logx.New(api.TagMySQL),
		saveQueue: queue.New(),
		loadQueue: queue.New(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (d *Daemon) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start launches the daemon's single worker goroutine. Starting a second
// instance concurrently is a programming error and aborts the process.
func (d *Daemon) Start() error {
	if !d.running.CAS(false, true) {
		d.log.Fatal("mysqld.go", 0, "only one MySQL daemon is allowed at a time")
	}
	d.log.Info("mysqld.go", 0, "starting MySQL daemon")
	go d.run()
	return nil
}

// Stop clears the running flag, wakes the worker, and waits for it to
// return. The worker exits once both queues are empty: queued loads and
// saves are still processed first, each save at its own deadline.
func (d *Daemon) Stop() error {
	d.log.Info("mysqld.go", 0, "stopping MySQL daemon")
	d.running.Store(false)
	d.notify()
	<-d.done
	return nil
}

// WaitForAllAsyncOperations blocks until both queues have drained,
// matching the original's shutdown-time drain barrier.
func (d *Daemon) WaitForAllAsyncOperations() {
	for {
		d.mu.Lock()
		empty := d.saveQueue.Length() == 0 && d.loadQueue.Length() == 0
		d.mu.Unlock()
		if empty {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// PendForSaving schedules object for a coalesced, delayed save. Calling
// this again for the same object before the delay elapses supersedes the
// earlier pending save: the daemon detects and skips the stale entry via
// the object's Context back-pointer.
func (d *Daemon) PendForSaving(object Object) {
	item := &saveItem{object: object, dueAt: time.Now().Add(d.cfg.SaveDelay)}
	object.Context().pending.Store(item)
	d.mu.Lock()
	d.saveQueue.Add(item)
	d.mu.Unlock()
	d.notify()
}

// PendForLoading schedules a one-shot load. callback, if non-nil, runs on
// the daemon's JobQueue after SyncLoad completes and auto-saving has been
// enabled.
func (d *Daemon) PendForLoading(object Object, filter string, callback AsyncLoadCallback) {
	item := &loadItem{object: object, filter: filter, callback: callback}
	d.mu.Lock()
	d.loadQueue.Add(item)
	d.mu.Unlock()
	d.notify()
}

func (d *Daemon) run() {
	defer close(d.done)
	d.log.Info("mysqld.go", 0, "MySQL daemon started")

	var conn Connection
	for {
		if conn == nil {
			c, err := d.connectWithBackoff()
			if err != nil {
				// connectWithBackoff only gives up when Stop was called.
				return
			}
			conn = c
		}

		save, load, ok := d.claimNext()
		if !ok {
			conn.Close()
			return
		}

		var err error
		switch {
		case save != nil:
			err = save.object.SyncSave(conn)
		case load != nil:
			err = load.object.SyncLoad(conn, load.filter)
			if err == nil {
				load.object.EnableAutoSaving()
				if load.callback != nil && d.jobs != nil {
					cb, obj := load.callback, load.object
					d.jobs.Push(func() { cb(obj) })
				}
			}
		default:
			// Nothing claimed and not running: shut down cleanly.
			conn.Close()
			return
		}

		if err != nil {
			d.log.Error("mysqld.go", 0, "SQL operation failed, dropping connection", "err", err)
			conn.Close()
			conn = nil
		}
	}
}

// claimNext waits for and removes the next unit of work, following the
// original's priority: an overdue save wins; otherwise fall through to
// check the load queue before waiting, so loads are never starved by a
// save that is not yet due.
func (d *Daemon) claimNext() (save *saveItem, load *loadItem, ok bool) {
	for {
		d.mu.Lock()
		for d.saveQueue.Length() > 0 {
			head := d.saveQueue.Peek().(*saveItem)
			if head.dueAt.After(time.Now()) {
				break
			}
			d.saveQueue.Remove()
			if head.object.Context().pending.Load() != head {
				continue // superseded by a later pend; drop silently
			}
			d.mu.Unlock()
			return head, nil, true
		}
		if d.loadQueue.Length() > 0 {
			item := d.loadQueue.Remove().(*loadItem)
			d.mu.Unlock()
			return nil, item, true
		}
		running := d.running.Load()
		wait := time.Second
		if d.saveQueue.Length() > 0 {
			if due := time.Until(d.saveQueue.Peek().(*saveItem).dueAt); due < wait {
				wait = due
			}
		}
		pendingSaves := d.saveQueue.Length() > 0
		d.mu.Unlock()
		if !running && !pendingSaves {
			return nil, nil, false
		}
		// Bounded wait, mirroring the original's
		// condition_variable::timed_wait(1 second): shutdown liveness must
		// stay responsive even if no notify ever arrives. The wait is cut
		// short when the save queue's head falls due sooner.
		select {
		case <-d.wake:
		case <-time.After(wait):
		}
	}
}

func (d *Daemon) connectWithBackoff() (Connection, error) {
	d.log.Info("mysqld.go", 0, "connecting to MySQL server")
	delay := time.Duration(0)
	for {
		conn, err := d.dial()
		if err == nil {
			d.log.Info("mysqld.go", 0, "successfully connected to MySQL server")
			return conn, nil
		}
		d.log.Error("mysqld.go", 0, "error connecting to MySQL server", "err", err)
		if !d.running.Load() {
			return nil, err
		}
		if delay == 0 {
			delay = time.Millisecond
		} else {
			d.log.Info("mysqld.go", 0, "will retry after backoff", "delay", delay)
			time.Sleep(delay)
			delay *= 2
			if delay > d.cfg.MaxReconnDelay {
				delay = d.cfg.MaxReconnDelay
			}
		}
	}
}
