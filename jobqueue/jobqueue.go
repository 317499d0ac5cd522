// Package jobqueue
// Author: momentics <momentics@gmail.com>
//
// JobQueue is a single-threaded FIFO of deferred callbacks delivered back
// to one consumer goroutine, used to marshal work that must not run
// concurrently with the caller (e.g. a completion callback from the MySQL
// daemon that touches session state). Backed by github.com/eapache/queue's
// ring-buffer FIFO. The drain loop follows the single-consumer half of
// internal/concurrency/executor.go's worker loop shape; the work-stealing,
// multi-worker, and NUMA-pinning parts are dropped since this queue is
// explicitly single-threaded.
package jobqueue

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/kavach-systems/poseidon/api"
	"github.com/kavach-systems/poseidon/logx"
)

// Job is a unit of deferred work.
type Job func()

// Queue is a FIFO of jobs drained by exactly one consumer goroutine (Run).
// Push is safe to call from any goroutine.
type Queue struct {
	log *logx.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	q        *queue.Queue
	closed   bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates an empty job queue.
func New() *Queue {
	jq := &Queue{
		log:    logx.New(api.TagPrimary),
		q:      queue.New(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	jq.notEmpty = sync.NewCond(&jq.mu)
	return jq
}

// Push enqueues job for later execution on the consumer goroutine. It is a
// no-op once the queue has been stopped.
func (jq *Queue) Push(job Job) {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	if jq.closed {
		return
	}
	jq.q.Add(job)
	jq.notEmpty.Signal()
}

// Run drains the queue on the calling goroutine until Stop is called. Only
// one goroutine may call Run for a given Queue.
func (jq *Queue) Run() {
	defer close(jq.doneCh)
	for {
		job, ok := jq.next()
		if !ok {
			return
		}
		jq.runJob(job)
	}
}

// next blocks until a job is available or the queue is stopped.
func (jq *Queue) next() (Job, bool) {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	for !jq.closed && jq.q.Length() == 0 {
		jq.notEmpty.Wait()
	}
	if jq.closed {
		return nil, false
	}
	job := jq.q.Remove().(Job)
	return job, true
}

func (jq *Queue) runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			jq.log.Error("jobqueue.go", 0, "job panicked", "recover", r)
		}
	}()
	job()
}

// Len reports the number of jobs currently queued.
func (jq *Queue) Len() int {
	jq.mu.Lock()
	defer jq.mu.Unlock()
	return jq.q.Length()
}

// Stop signals Run to drain no further jobs and return once woken. Already
// queued jobs that have not yet been picked up by Run are discarded.
func (jq *Queue) Stop() {
	jq.mu.Lock()
	if jq.closed {
		jq.mu.Unlock()
		return
	}
	jq.closed = true
	jq.mu.Unlock()
	jq.notEmpty.Broadcast()
	<-jq.doneCh
}
