package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// PoolMetrics is a snapshot of run pool activity.
type PoolMetrics struct {
	Active       int64         `json:"active"`
	Completed    int64         `json:"completed"`
	Failed       int64         `json:"failed"`
	Panics       int64         `json:"panics"`
	TotalRunTime time.Duration `json:"total_run_time"`
	Running      []string      `json:"running,omitempty"`
}

// ErrPoolShutdown is returned when a run is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("run pool is shut down")

// ErrRunInFlight is returned when a run with the same label is already
// executing. Callers treat it as "skip this occurrence", not a failure.
var ErrRunInFlight = errors.New("run already in flight")

// RunPool bounds the number of story generations executing at once.
// Scheduled jobs that fire together share the pool instead of each spawning
// a run, and each run carries a label (the job ID) so a job whose previous
// occurrence is still generating is not started a second time.
type RunPool struct {
	sem  chan struct{}
	wg   sync.WaitGroup
	done chan struct{}

	mu           sync.Mutex
	running      map[string]time.Time // label -> start time (zero while queued)
	completed    int64
	failed       int64
	panics       int64
	totalRunTime time.Duration
	closed       bool
}

// NewRunPool creates a pool with the given max concurrency.
func NewRunPool(size int) *RunPool {
	if size <= 0 {
		size = 1
	}
	return &RunPool{
		sem:     make(chan struct{}, size),
		done:    make(chan struct{}),
		running: make(map[string]time.Time),
	}
}

// Submit enqueues a labelled run. It blocks if the pool is at capacity
// (backpressure) and respects context cancellation while waiting. Returns
// ErrRunInFlight when a run with the same label has not finished yet, and
// ErrPoolShutdown if the pool has been shut down.
func (p *RunPool) Submit(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	if _, inflight := p.running[label]; inflight {
		p.mu.Unlock()
		return ErrRunInFlight
	}
	p.running[label] = time.Time{} // reserve while waiting for a slot
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
		// Slot acquired.
	case <-ctx.Done():
		p.unreserve(label)
		return ctx.Err()
	case <-p.done:
		p.unreserve(label)
		return ErrPoolShutdown
	}

	// Re-check closed after acquiring the slot, in case Shutdown raced.
	// wg.Add(1) MUST be inside the lock to prevent a race with Shutdown's
	// wg.Wait().
	p.mu.Lock()
	if p.closed {
		delete(p.running, label)
		p.mu.Unlock()
		<-p.sem // release slot
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.running[label] = time.Now()
	p.mu.Unlock()

	go func() {
		var runErr error
		defer func() {
			panicked := recover() != nil
			p.finish(label, runErr, panicked)
			<-p.sem // release slot
			p.wg.Done()
		}()
		runErr = fn(ctx)
	}()

	return nil
}

func (p *RunPool) unreserve(label string) {
	p.mu.Lock()
	delete(p.running, label)
	p.mu.Unlock()
}

// finish records the outcome and duration of a run and frees its label.
func (p *RunPool) finish(label string, runErr error, panicked bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if started := p.running[label]; !started.IsZero() {
		p.totalRunTime += time.Since(started)
	}
	delete(p.running, label)

	switch {
	case panicked:
		p.panics++
		p.failed++
	case runErr != nil:
		p.failed++
	default:
		p.completed++
	}
}

// Wait blocks until all submitted runs complete.
func (p *RunPool) Wait() {
	p.wg.Wait()
}

// Shutdown gracefully stops the pool. It prevents new submissions and waits
// for all active runs to complete.
func (p *RunPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool's counters and the labels of the
// runs currently executing, sorted for stable output.
func (p *RunPool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := PoolMetrics{
		Completed:    p.completed,
		Failed:       p.failed,
		Panics:       p.panics,
		TotalRunTime: p.totalRunTime,
	}
	for label, started := range p.running {
		if started.IsZero() {
			continue // queued, not yet running
		}
		m.Active++
		m.Running = append(m.Running, label)
	}
	sort.Strings(m.Running)
	return m
}
