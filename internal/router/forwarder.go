package router

import (
	"context"
	"sync"

	"github.com/rmacdonaldsmith/meshrouter/internal/pending"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

type forwardJob struct {
	ctx   context.Context
	proxy routing.RoutingProxy
	op    *pending.Operation
}

// forwarder runs parent calls of an attached router one at a time, in submission order.
// Its goroutine starts with the first submitted job and exits on stop.
type forwarder struct {
	mu      sync.Mutex
	jobs    []forwardJob
	started bool
	stopped bool

	wake chan struct{}
	done chan struct{}
	exec func(ctx context.Context, proxy routing.RoutingProxy, op *pending.Operation) error
}

func newForwarder(exec func(context.Context, routing.RoutingProxy, *pending.Operation) error) *forwarder {
	return &forwarder{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		exec: exec,
	}
}

// submit queues job. It reports false once the forwarder is stopped.
func (f *forwarder) submit(job forwardJob) bool {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return false
	}
	f.jobs = append(f.jobs, job)
	if !f.started {
		f.started = true
		go f.run()
	}
	f.mu.Unlock()

	select {
	case f.wake <- struct{}{}:
	default:
	}
	return true
}

func (f *forwarder) next() (forwardJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped || len(f.jobs) == 0 {
		return forwardJob{}, false
	}
	job := f.jobs[0]
	f.jobs[0] = forwardJob{}
	f.jobs = f.jobs[1:]
	return job, true
}

func (f *forwarder) run() {
	for {
		select {
		case <-f.done:
			return
		case <-f.wake:
		}

		for {
			job, ok := f.next()
			if !ok {
				break
			}
			job.op.Completion.Settle(f.exec(job.ctx, job.proxy, job.op))
		}
	}
}

// stop rejects every queued job with err. A call already in flight finishes on its own.
func (f *forwarder) stop(err error) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	jobs := f.jobs
	f.jobs = nil
	f.mu.Unlock()

	close(f.done)
	for _, job := range jobs {
		job.op.Completion.Reject(err)
	}
}
