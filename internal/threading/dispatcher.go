package threading

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// Dispatcher errors.
var (
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
	ErrFactoryClosed     = errors.New("dispatcher factory is closed")
	ErrWorkerLimit       = errors.New("worker limit reached")
)

// Dispatcher is a single-threaded execution context: one worker goroutine,
// locked to its own OS thread, draining a FIFO run queue.
type Dispatcher struct {
	id     int64
	name   string
	domain string

	// onRelease is how the owning factory reclaims the dispatcher. Nil for
	// dispatchers the factory keeps for reuse.
	onRelease func(*Dispatcher)

	mu       sync.Mutex
	queue    []func()
	stopping bool
	wake     chan struct{}
	done     chan struct{}

	gid     int64 // worker goroutine
	tid     int64 // OS thread of the worker; 0 when unknown
	running atomic.Bool
}

func newDispatcher(id int64, name, domain string) *Dispatcher {
	return &Dispatcher{
		id:     id,
		name:   name,
		domain: domain,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// start launches the worker and returns once it is locked to its thread and
// ready to take jobs.
func (d *Dispatcher) start() {
	ready := make(chan struct{})
	go d.loop(ready)
	<-ready
}

func (d *Dispatcher) loop(ready chan<- struct{}) {
	// The thread is never unlocked, so it exits together with the worker.
	runtime.LockOSThread()
	d.gid = goroutineID()
	d.tid = osThreadID()
	close(ready)
	defer close(d.done)

	for {
		fn, ok := d.next()
		if !ok {
			return
		}
		d.running.Store(true)
		fn()
		d.running.Store(false)
	}
}

// next blocks for the next job. It reports false once the dispatcher is
// stopping and the queue is drained.
func (d *Dispatcher) next() (func(), bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return fn, true
		}
		if d.stopping {
			d.mu.Unlock()
			return nil, false
		}
		d.mu.Unlock()
		<-d.wake
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// ID returns the worker ID, unique within the process.
func (d *Dispatcher) ID() int64 { return d.id }

// Name returns the worker thread name.
func (d *Dispatcher) Name() string { return d.name }

// Domain returns the domain key the dispatcher was created for.
func (d *Dispatcher) Domain() string { return d.domain }

// Submit enqueues fn without waiting for it. A panic in fn is not recovered.
func (d *Dispatcher) Submit(fn func()) error {
	d.mu.Lock()
	if d.stopping {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signal()
	return nil
}

type outcome struct {
	err      error
	panicked bool
	value    any
}

// Do runs fn on the worker and waits for it to return. If ctx is done before
// fn starts, fn is skipped and ctx.Err() is returned; once fn has started Do
// always waits for it. A panic in fn is re-raised in the caller after fn's
// deferred calls ran on the worker. Called from the worker itself, Do runs
// fn inline.
func (d *Dispatcher) Do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.Confined() {
		return fn()
	}

	res := make(chan outcome, 1)
	err := d.Submit(func() {
		if err := ctx.Err(); err != nil {
			res <- outcome{err: err}
			return
		}
		defer func() {
			if p := recover(); p != nil {
				res <- outcome{panicked: true, value: p}
			}
		}()
		res <- outcome{err: fn()}
	})
	if err != nil {
		return err
	}

	out := <-res
	if out.panicked {
		panic(out.value)
	}
	return out.err
}

// Confined reports whether the caller is the worker, currently running a job.
func (d *Dispatcher) Confined() bool {
	if !d.running.Load() || goroutineID() != d.gid {
		return false
	}
	return d.tid == 0 || osThreadID() == d.tid
}

// Pending returns the number of queued jobs not yet started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stop refuses new jobs and lets the worker exit after draining the queue.
// It does not wait; use Stopped for that.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopping = true
	d.mu.Unlock()
	d.signal()
}

// Stopped is closed when the worker has exited.
func (d *Dispatcher) Stopped() <-chan struct{} { return d.done }

// Release hands the dispatcher back to its factory once the caller's
// operation is over. Per-call dispatchers stop; reused ones keep running.
func (d *Dispatcher) Release() {
	if d.onRelease != nil {
		d.onRelease(d)
	}
}
