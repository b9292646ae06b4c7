// Package worker provides a bounded worker pool for detached background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Submit under DropPolicyDrop when the queue has no room
	ErrQueueFull = errors.New("worker: queue full")

	// ErrPoolClosed is returned by Submit after Close
	ErrPoolClosed = errors.New("worker: pool closed")
)

// DropPolicy decides what Submit does when the queue is full.
type DropPolicy int

const (
	// DropPolicyBlock waits for room in the queue
	DropPolicyBlock DropPolicy = iota
	// DropPolicyDrop rejects the job with ErrQueueFull
	DropPolicyDrop
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID is an optional identifier for the job (useful for logging/debugging)
	ID string
	// Execute is the function to run.
	Execute func(ctx context.Context) error
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	DropPolicy DropPolicy
	// JobTimeout bounds each job; 0 means no per-job deadline.
	JobTimeout time.Duration
	// OnError receives failed (or panicking) jobs. Called from worker goroutines.
	OnError func(jobID string, err error)
}

// Pool is a worker pool that processes jobs concurrently.
// It maintains a fixed number of worker goroutines that pull jobs from a queue.
type Pool struct {
	cfg      PoolConfig
	jobQueue chan Job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.RWMutex
	closed bool

	pendingMu sync.Mutex
	pendingCv *sync.Cond
	pending   int
}

// NewPool creates a new worker pool with the specified number of workers and
// a blocking queue.
//
// Example:
//
//	pool := worker.NewPool(ctx, 4, 100)
//	defer pool.Close()
//	pool.Submit(worker.Job{ID: "job1", Execute: func(ctx context.Context) error { ... }})
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	return NewPoolWithConfig(ctx, PoolConfig{Workers: workers, QueueSize: queueSize})
}

// NewPoolWithConfig creates a pool from cfg. Workers start immediately.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		cfg:      cfg,
		jobQueue: make(chan Job, cfg.QueueSize),
		ctx:      poolCtx,
		cancel:   cancel,
	}
	p.pendingCv = sync.NewCond(&p.pendingMu)

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// worker drains the queue until it is closed.
func (p *Pool) worker() {
	defer p.wg.Done()

	for job := range p.jobQueue {
		p.run(job)
	}
}

func (p *Pool) run(job Job) {
	defer p.done()

	ctx := p.ctx
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker: job %q panicked: %v", job.ID, r)
			}
		}()
		err = job.Execute(ctx)
	}()

	if err != nil && p.cfg.OnError != nil {
		p.cfg.OnError(job.ID, err)
	}
}

// Submit adds a job to the pool's queue.
// Under DropPolicyBlock it waits for room or pool cancellation; under
// DropPolicyDrop a full queue returns ErrQueueFull immediately.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.add()

	if p.cfg.DropPolicy == DropPolicyDrop {
		select {
		case p.jobQueue <- job:
			return nil
		default:
			p.done()
			return ErrQueueFull
		}
	}

	select {
	case p.jobQueue <- job:
		return nil
	case <-p.ctx.Done():
		p.done()
		return p.ctx.Err()
	}
}

func (p *Pool) add() {
	p.pendingMu.Lock()
	p.pending++
	p.pendingMu.Unlock()
}

func (p *Pool) done() {
	p.pendingMu.Lock()
	p.pending--
	if p.pending == 0 {
		p.pendingCv.Broadcast()
	}
	p.pendingMu.Unlock()
}

// Wait blocks until every job submitted so far has finished.
func (p *Pool) Wait() {
	p.pendingMu.Lock()
	for p.pending > 0 {
		p.pendingCv.Wait()
	}
	p.pendingMu.Unlock()
}

// Close stops accepting jobs, lets workers finish the queued ones and waits
// for them. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

// DropPolicy returns the configured drop policy.
func (p *Pool) DropPolicy() DropPolicy {
	return p.cfg.DropPolicy
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}
