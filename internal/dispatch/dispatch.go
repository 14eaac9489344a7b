// Package dispatch runs blocking bridge calls on a fixed-size worker pool.
//
// Work that has not started when it is cancelled is removed from the queue
// and never runs. Work that has started is not interrupted: a native call
// cannot be preempted, so its result is discarded and the worker slot frees
// only when the call returns.
package dispatch

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/metrics"
)

var (
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("dispatch: dispatcher is shut down")
	// ErrCancelled resolves a future whose work was cancelled.
	ErrCancelled = errors.New("dispatch: work cancelled")
)

// PoolSize returns the worker count for a host with ncpu processors,
// leaving one processor for the caller.
func PoolSize(ncpu int) int {
	return max(1, ncpu-1)
}

const (
	stateQueued int32 = iota
	stateRunning
	stateDone
	stateCancelled
)

type task struct {
	state   atomic.Int32
	discard atomic.Bool
	elem    *list.Element
	run     func() (discarded bool)
	abort   func(err error)
}

// Stats is a snapshot of dispatcher activity.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Peak      int    `json:"peak"`
	Completed uint64 `json:"completed"`
	Cancelled uint64 `json:"cancelled"`
}

// Dispatcher is a fixed pool of workers fed by an unbounded FIFO queue.
type Dispatcher struct {
	workers int
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List
	closed bool
	stats  Stats
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for worker diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New starts a dispatcher with the given number of workers. A non-positive
// count uses PoolSize(runtime.NumCPU()).
func New(workers int, opts ...Option) *Dispatcher {
	if workers <= 0 {
		workers = PoolSize(runtime.NumCPU())
	}
	d := &Dispatcher{
		workers: workers,
		logger:  slog.Default(),
		queue:   list.New(),
	}
	d.cond = sync.NewCond(&d.mu)
	d.stats.Workers = workers
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	d.logger.Debug("dispatcher started", "workers", workers)
	return d
}

var (
	defaultOnce sync.Once
	defaultD    *Dispatcher
)

// Default returns the process-wide dispatcher, created on first use with
// PoolSize(runtime.NumCPU()) workers.
func Default() *Dispatcher {
	defaultOnce.Do(func() {
		defaultD = New(PoolSize(runtime.NumCPU()))
	})
	return defaultD
}

// Workers returns the pool size.
func (d *Dispatcher) Workers() int { return d.workers }

// Stats returns a snapshot of queue and worker counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Queued = d.queue.Len()
	return s
}

func (d *Dispatcher) enqueue(t *task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	t.elem = d.queue.PushBack(t)
	metrics.DispatchQueued.Inc()
	d.cond.Signal()
	return nil
}

// cancel removes t from the queue if it has not started. Running work is
// flagged so its result is discarded; a flag set after the result is
// resolved has no effect. It reports whether t was removed.
func (d *Dispatcher) cancel(t *task) bool {
	d.mu.Lock()
	if t.state.CompareAndSwap(stateQueued, stateCancelled) {
		d.queue.Remove(t.elem)
		d.stats.Cancelled++
		d.mu.Unlock()
		metrics.DispatchQueued.Dec()
		metrics.DispatchFinished.WithLabelValues("cancelled").Inc()
		t.abort(ErrCancelled)
		return true
	}
	d.mu.Unlock()
	if t.state.Load() == stateRunning {
		t.discard.Store(true)
	}
	return false
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for d.queue.Len() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.queue.Len() == 0 {
			d.mu.Unlock()
			return
		}
		t, _ := d.queue.Remove(d.queue.Front()).(*task)
		if !t.state.CompareAndSwap(stateQueued, stateRunning) {
			d.mu.Unlock()
			continue
		}
		d.stats.Running++
		d.stats.Peak = max(d.stats.Peak, d.stats.Running)
		d.mu.Unlock()
		metrics.DispatchQueued.Dec()
		metrics.DispatchRunning.Inc()

		discarded := t.run()
		t.state.Store(stateDone)
		d.mu.Lock()
		d.stats.Running--
		if discarded {
			d.stats.Cancelled++
		} else {
			d.stats.Completed++
		}
		d.mu.Unlock()
		metrics.DispatchRunning.Dec()
		if discarded {
			metrics.DispatchFinished.WithLabelValues("cancelled").Inc()
		} else {
			metrics.DispatchFinished.WithLabelValues("completed").Inc()
		}
	}
}

// Shutdown stops accepting work, cancels everything still queued and waits
// for running work to return or ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var dropped []*task
	for e := d.queue.Front(); e != nil; e = d.queue.Front() {
		t, _ := d.queue.Remove(e).(*task)
		if t.state.CompareAndSwap(stateQueued, stateCancelled) {
			dropped = append(dropped, t)
			d.stats.Cancelled++
		}
	}
	d.cond.Broadcast()
	d.mu.Unlock()

	for _, t := range dropped {
		metrics.DispatchQueued.Dec()
		metrics.DispatchFinished.WithLabelValues("cancelled").Inc()
		t.abort(ErrCancelled)
	}
	if len(dropped) > 0 {
		d.logger.Info("dispatcher shutdown cancelled queued work", "count", len(dropped))
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
	}
}

// Future is the pending result of submitted work.
type Future[T any] struct {
	d    *Dispatcher
	t    *task
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// Submit queues fn for execution on d. A panic in fn resolves the future
// with an errcode.Unknown error.
func Submit[T any](d *Dispatcher, fn func() (T, error)) (*Future[T], error) {
	f := &Future[T]{d: d, done: make(chan struct{})}
	t := &task{}
	t.run = func() bool {
		v, err := call(fn)
		if t.discard.Load() {
			var zero T
			f.resolve(zero, ErrCancelled)
			return true
		}
		f.resolve(v, err)
		return false
	}
	t.abort = func(err error) {
		var zero T
		f.resolve(zero, err)
	}
	f.t = t
	if err := d.enqueue(t); err != nil {
		return nil, err
	}
	return f, nil
}

func call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Inc()
			err = errcode.Wrap("dispatch", errcode.Unknown, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
	})
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the work finishes or ctx ends. When ctx ends first the
// work is cancelled and ctx's error is returned.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		f.Cancel()
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel abandons the work. It reports true when the work was removed
// before it started; running work completes and its result is discarded.
func (f *Future[T]) Cancel() bool {
	return f.d.cancel(f.t)
}

// Then calls fn with the result on its own goroutine once the future resolves.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}
