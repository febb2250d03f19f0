package threading

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultNamePrefix prefixes worker thread names.
const DefaultNamePrefix = "HandlerThread"

// Factory produces execution contexts for domain keys.
type Factory interface {
	// Get returns a running Dispatcher for domain. A worker that cannot be
	// started is reported here, never as a broken Dispatcher.
	Get(domain string) (*Dispatcher, error)

	// Live returns the number of workers not yet stopped.
	Live() int

	// Close stops every worker after its queue drains and waits for them.
	Close() error
}

// Option configures a HandlerFactory.
type Option func(*HandlerFactory)

// WithNamePrefix sets the worker thread name prefix.
func WithNamePrefix(prefix string) Option {
	return func(f *HandlerFactory) { f.prefix = prefix }
}

// WithMaxWorkers bounds the number of live workers. Zero means unbounded.
func WithMaxWorkers(n int) Option {
	return func(f *HandlerFactory) { f.maxWorkers = n }
}

// workerSeq numbers workers process-wide so IDs never repeat across
// factories.
var workerSeq atomic.Int64

// HandlerFactory starts a fresh worker on every Get. Two Gets for the same
// domain yield independent dispatchers that run in parallel. A dispatcher
// stops when it is released.
type HandlerFactory struct {
	prefix     string
	maxWorkers int

	mu     sync.Mutex
	closed bool
	live   map[int64]*Dispatcher
}

// Compile-time interface check.
var _ Factory = (*HandlerFactory)(nil)

// NewHandlerFactory returns a factory with the given options applied.
func NewHandlerFactory(opts ...Option) *HandlerFactory {
	f := &HandlerFactory{
		prefix: DefaultNamePrefix,
		live:   make(map[int64]*Dispatcher),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get starts a worker named <prefix>_<domain>_<id> and returns once it is
// ready.
func (f *HandlerFactory) Get(domain string) (*Dispatcher, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFactoryClosed
	}
	if f.maxWorkers > 0 && len(f.live) >= f.maxWorkers {
		f.mu.Unlock()
		return nil, fmt.Errorf("starting worker for %q: %w (%d)", domain, ErrWorkerLimit, f.maxWorkers)
	}
	id := workerSeq.Add(1)
	d := newDispatcher(id, fmt.Sprintf("%s_%s_%d", f.prefix, domain, id), domain)
	d.onRelease = f.retire
	f.live[id] = d
	f.mu.Unlock()

	d.start()
	return d, nil
}

// retire stops a released dispatcher and forgets it.
func (f *HandlerFactory) retire(d *Dispatcher) {
	f.mu.Lock()
	delete(f.live, d.id)
	f.mu.Unlock()
	d.Stop()
}

// Live returns the number of workers handed out and not yet released.
func (f *HandlerFactory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Close stops all live workers and waits for them to exit. Close is
// idempotent.
func (f *HandlerFactory) Close() error {
	f.mu.Lock()
	f.closed = true
	live := make([]*Dispatcher, 0, len(f.live))
	for id, d := range f.live {
		live = append(live, d)
		delete(f.live, id)
	}
	f.mu.Unlock()

	for _, d := range live {
		d.Stop()
	}
	for _, d := range live {
		<-d.Stopped()
	}
	return nil
}

// CachedFactory keeps one dispatcher per domain and hands it out on every
// Get. Release on its dispatchers is a no-op; they stop on Close.
type CachedFactory struct {
	base *HandlerFactory

	mu       sync.Mutex
	byDomain map[string]*Dispatcher
}

// Compile-time interface check.
var _ Factory = (*CachedFactory)(nil)

// NewCachedFactory returns a per-domain caching factory.
func NewCachedFactory(opts ...Option) *CachedFactory {
	return &CachedFactory{
		base:     NewHandlerFactory(opts...),
		byDomain: make(map[string]*Dispatcher),
	}
}

// Get returns the domain's dispatcher, starting it on first use.
func (f *CachedFactory) Get(domain string) (*Dispatcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if d, ok := f.byDomain[domain]; ok {
		return d, nil
	}
	d, err := f.base.Get(domain)
	if err != nil {
		return nil, err
	}
	d.onRelease = nil
	f.byDomain[domain] = d
	return d, nil
}

// Live returns the number of cached workers.
func (f *CachedFactory) Live() int { return f.base.Live() }

// Close stops every cached worker.
func (f *CachedFactory) Close() error {
	f.mu.Lock()
	f.byDomain = make(map[string]*Dispatcher)
	f.mu.Unlock()
	return f.base.Close()
}
