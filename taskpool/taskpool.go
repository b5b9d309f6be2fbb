// Package taskpool provides a fixed-size worker pool that consumes a FIFO
// queue of closures. It is the scheduling primitive for the chat server:
// recurring work such as the accept loop and the poll loop runs as
// self-resubmitting jobs instead of dedicated goroutines.
package taskpool

import (
	"runtime"
	"sync"

	"github.com/cyberinferno/chat-server/logger"
)

// Pool is a fixed-size worker pool backed by one shared FIFO queue. Workers
// are long-lived: each waits until the queue is non-empty or the pool is
// terminating, pops one job, runs it, and loops. A job that panics is
// recovered and logged at the worker boundary; the worker keeps serving the
// queue.
//
// Pool must not be copied after first use.
type Pool struct {
	logger  logger.Logger
	workers int

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []func()
	terminating bool
	wg          sync.WaitGroup
}

// New creates a Pool and launches its workers immediately.
//
// Parameters:
//   - workers: The number of worker goroutines; values < 1 fall back to
//     runtime.NumCPU()
//   - log: Logger used for recovered job panics; nil falls back to a no-op
//     logger
//
// Returns:
//   - A running *Pool ready to accept jobs via Submit
func New(workers int, log logger.Logger) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	p := &Pool{
		logger:  log,
		workers: workers,
	}
	p.cond = sync.NewCond(&p.mu)
	p.launch()

	return p
}

// Submit enqueues a job for execution by any available worker and returns
// immediately. If the pool has been told to shut down the job is silently
// dropped; callers must not rely on jobs submitted after Shutdown running.
//
// Parameters:
//   - job: The zero-argument closure to run
func (p *Pool) Submit(job func()) {
	p.mu.Lock()
	if p.terminating {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, job)
	p.mu.Unlock()

	p.cond.Signal()
}

// Shutdown signals all workers to terminate and discards pending jobs.
// A job that is currently running is allowed to finish. Shutdown does not
// wait for workers to exit; use Join for that.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.terminating = true
	p.queue = nil
	p.mu.Unlock()

	p.cond.Broadcast()
}

// Join blocks until all worker goroutines have exited. It only returns once
// Shutdown (or Reset, which shuts down internally) has been called.
func (p *Pool) Join() {
	p.wg.Wait()
}

// Reset performs Shutdown + Join, clears the queue, and relaunches the same
// number of workers. It is used when the server is stopped and restarted
// without discarding the pool object.
func (p *Pool) Reset() {
	p.Shutdown()
	p.Join()

	p.mu.Lock()
	p.queue = nil
	p.terminating = false
	p.mu.Unlock()

	p.launch()
}

// Size returns the number of worker goroutines the pool was configured with.
//
// Returns:
//   - The configured worker count
func (p *Pool) Size() int {
	return p.workers
}

// launch starts the configured number of workers.
func (p *Pool) launch() {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.workerLoop()
	}
}

// workerLoop is the long-lived body of one worker goroutine.
func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.terminating {
			p.cond.Wait()
		}
		if p.terminating {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(job)
	}
}

// run executes one job, recovering and logging any panic so a crashing job
// cannot kill the worker.
func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool job panicked", logger.Field{Key: "panic", Value: r})
		}
	}()

	job()
}
