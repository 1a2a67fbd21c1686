// Package workqueue runs blob-transfer jobs with a concurrency level that
// adapts to process memory pressure. The queue is bounded: once
// queued-plus-running jobs reach the maximum, 'Enqueue' rejects
// synchronously, pushing backpressure to callers instead of growing without
// limit. A periodic adjuster nudges concurrency by one step per tick -
// additive increase, additive decrease - against a memory threshold, and a
// separate synchronous memory gate lets individual jobs wait out bursts
// between ticks.
package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxQueueSize caps pending plus running jobs
	DefaultMaxQueueSize = 1000
	// DefaultConcurrency is the worker count at startup
	DefaultConcurrency = 5
	// MinConcurrency is the adjuster floor
	MinConcurrency = 1
	// MaxConcurrency is the adjuster ceiling
	MaxConcurrency = 10
	// DefaultMemThreshold is 3 GiB of combined heap-in-use + external
	DefaultMemThreshold = 3 << 30
	// DefaultAdjustInterval is how often concurrency is re-evaluated
	DefaultAdjustInterval = 10 * time.Second
	// DefaultGatePollInterval is the memory-gate poll backoff
	DefaultGatePollInterval = time.Second
)

var (
	// ErrQueueOverflow means the queue is full - retry later, the work
	// was not admitted and nothing was lost
	ErrQueueOverflow = errors.New("work queue overflow")
	// ErrMemoryGateAbort means the caller was cancelled while waiting
	// for memory headroom
	ErrMemoryGateAbort = errors.New("cancelled waiting for memory headroom")
	// ErrQueueClosed means the queue was closed before the job ran
	ErrQueueClosed = errors.New("work queue closed")
)

// Job is one deferred unit of work - a single blob transfer.
type Job func(ctx context.Context) error

// Pending is the settle handle returned by 'Enqueue'.
type Pending struct {
	ch chan error
}

// Wait blocks until the job settles or the passed context is done.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case err := <-p.ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Opts configures a 'Queue'. The zero value gets defaults.
type Opts struct {
	MaxQueueSize     int
	Concurrency      int
	MemThreshold     uint64
	AdjustInterval   time.Duration
	GatePollInterval time.Duration
	// Sampler overrides memory sampling - tests substitute a synthetic
	// reading, everything else uses the runtime
	Sampler func() Sample
}

func (o *Opts) withDefaults() {
	if o.MaxQueueSize <= 0 {
		o.MaxQueueSize = DefaultMaxQueueSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MemThreshold == 0 {
		o.MemThreshold = DefaultMemThreshold
	}
	if o.AdjustInterval <= 0 {
		o.AdjustInterval = DefaultAdjustInterval
	}
	if o.GatePollInterval <= 0 {
		o.GatePollInterval = DefaultGatePollInterval
	}
	if o.Sampler == nil {
		o.Sampler = SampleMemory
	}
}

// Metrics is the read-only snapshot returned by 'GetMetrics'.
type Metrics struct {
	// QueueDepth is jobs admitted but not yet running
	QueueDepth int `json:"queueDepth"`
	// Running is jobs currently executing
	Running int `json:"running"`
	// Concurrency is the current adaptive worker limit
	Concurrency int `json:"concurrency"`
	// Memory is a fresh memory sample
	Memory Sample `json:"memory"`
}

type queuedJob struct {
	job     Job
	pending *Pending
}

// Queue is a memory-gated bounded work queue. Each instance owns its
// concurrency counter and task list - nothing external mutates them. There
// are no process-wide singletons: multiple queues can coexist.
type Queue struct {
	opts Opts

	mu          sync.Mutex
	cond        *sync.Cond
	jobs        []queuedJob
	running     int
	concurrency int
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and starts a 'Queue'.
func New(opts Opts) *Queue {
	opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:        opts,
		concurrency: opts.Concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	q.wg.Add(2)
	go q.dispatch()
	go q.adjust()
	return q
}

// Enqueue admits the passed job, returning a settle handle, or fails
// synchronously with 'ErrQueueOverflow' if pending-plus-running jobs are at
// the maximum. Admission never blocks past the overflow check.
func (q *Queue) Enqueue(job Job) (*Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	if len(q.jobs)+q.running >= q.opts.MaxQueueSize {
		return nil, ErrQueueOverflow
	}
	pending := &Pending{ch: make(chan error, 1)}
	q.jobs = append(q.jobs, queuedJob{job: job, pending: pending})
	q.cond.Signal()
	return pending, nil
}

// MemGate blocks until sampled memory usage is below the configured
// threshold, polling with a fixed backoff. Returns 'ErrMemoryGateAbort' if
// the passed context is done first. This protects against bursts between
// the adjuster's ticks; the concurrency knob handles sustained pressure.
func (q *Queue) MemGate(ctx context.Context) error {
	for {
		sample := q.opts.Sampler()
		if sample.Combined() < q.opts.MemThreshold {
			return nil
		}
		log.Debugf("memory gate: %d bytes in use, threshold %d - waiting", sample.Combined(), q.opts.MemThreshold)
		select {
		case <-ctx.Done():
			return ErrMemoryGateAbort
		case <-q.ctx.Done():
			return ErrQueueClosed
		case <-time.After(q.opts.GatePollInterval):
		}
	}
}

// GetMetrics returns the current queue state. Read-only, side-effect-free,
// and serviceable regardless of in-flight failures.
func (q *Queue) GetMetrics() Metrics {
	q.mu.Lock()
	m := Metrics{
		QueueDepth:  len(q.jobs),
		Running:     q.running,
		Concurrency: q.concurrency,
	}
	q.mu.Unlock()
	m.Memory = q.opts.Sampler()
	return m
}

// Close stops the dispatcher and adjuster. Jobs already running finish;
// jobs still queued settle with 'ErrQueueClosed'.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	abandoned := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, qj := range abandoned {
		qj.pending.ch <- ErrQueueClosed
	}
	q.cancel()
	q.cond.Broadcast()
	q.wg.Wait()
}

// dispatch pops jobs while running slots are available at the current
// concurrency level.
func (q *Queue) dispatch() {
	defer q.wg.Done()
	q.mu.Lock()
	for {
		for !q.closed && (len(q.jobs) == 0 || q.running >= q.concurrency) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		qj := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.running++
		q.mu.Unlock()
		go q.run(qj)
		q.mu.Lock()
	}
}

func (q *Queue) run(qj queuedJob) {
	err := qj.job(q.ctx)
	qj.pending.ch <- err
	q.mu.Lock()
	q.running--
	q.cond.Signal()
	q.mu.Unlock()
}

// adjust is the additive-increase/additive-decrease control loop: every
// tick, step concurrency down one if sampled usage is over the threshold,
// up one otherwise, clamped to [MinConcurrency, MaxConcurrency].
func (q *Queue) adjust() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.AdjustInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.adjustOnce(q.opts.Sampler())
		}
	}
}

// adjustOnce applies one adjustment step for the passed sample.
func (q *Queue) adjustOnce(sample Sample) {
	q.mu.Lock()
	defer q.mu.Unlock()
	prev := q.concurrency
	if sample.Combined() > q.opts.MemThreshold {
		q.concurrency--
	} else {
		q.concurrency++
	}
	if q.concurrency < MinConcurrency {
		q.concurrency = MinConcurrency
	}
	if q.concurrency > MaxConcurrency {
		q.concurrency = MaxConcurrency
	}
	if q.concurrency != prev {
		log.Debugf("work queue concurrency %d -> %d (usage %d bytes)", prev, q.concurrency, sample.Combined())
		if q.concurrency > prev {
			q.cond.Signal()
		}
	}
}
