// Package worker provides the asynchronous worker pool the relay uses for
// fire-and-forget side effects: submitting tool outputs back to the upstream
// and publishing relay-completed events.
//
// The pool decouples those calls from the streaming hot path so a slow
// upstream or broker never delays token delivery to the caller.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
	defaultJobTimeout        = 30 * time.Second
)

// Job is a unit of work for the worker pool to execute.
type Job struct {
	// Name identifies the kind of work in logs, e.g. "tool_outputs".
	Name string

	// SessionID ties the job to the relay invocation that produced it.
	SessionID string

	// Run does the work. Its error is logged, never returned to the producer.
	Run func(ctx context.Context) error
}

// Config is the configuration options for the worker pool.
type Config struct {
	// NumWorkers is the number of background workers in the pool (defaults to 3).
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// JobTimeout bounds each job's context (defaults to 30s).
	JobTimeout time.Duration

	Logger *slog.Logger
}

// Pool processes jobs asynchronously.
type Pool struct {
	queue   chan Job
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.JobTimeout == 0 {
		c.JobTimeout = defaultJobTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	wp := &Pool{
		queue:   make(chan Job, c.QueueSize),
		timeout: c.JobTimeout,
		logger:  logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	if job.Run == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job not queued, pool closed, job dropped",
			"job", job.Name,
			"session_id", job.SessionID,
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			"job", job.Name,
			"session_id", job.SessionID,
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"job", job.Name,
			"session_id", job.SessionID,
		)
		return false
	}
}

// Close signals workers to stop and waits for queued jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
// Close is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the queue.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				"job", job.Name,
				"session_id", job.SessionID,
				"panic", r,
			)
		}
	}()

	if err := job.Run(ctx); err != nil {
		p.logger.Warn("job failed",
			"job", job.Name,
			"session_id", job.SessionID,
			"error", err,
		)
		return
	}

	p.logger.Debug("job done",
		"job", job.Name,
		"session_id", job.SessionID,
	)
}
