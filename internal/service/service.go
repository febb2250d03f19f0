// Package service is the resource access layer. Each operation resolves
// the execution context of its record type, runs on that context's worker,
// acquires a database handle there and releases it on every exit path.
// Streaming reads keep their handle until the stream terminates.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/localservice/internal/monitoring"
	"github.com/mesh-intelligence/localservice/internal/sqlite"
	"github.com/mesh-intelligence/localservice/internal/threading"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Service implements types.LocalService.
type Service struct {
	name        string
	backend     *sqlite.Backend
	ownsBackend bool
	factory     threading.Factory
	monitor     monitoring.Registry
	logger      *slog.Logger

	// local counts handles opened by this layer and not yet closed.
	local atomic.Int64

	// ctx ends when Close starts; live streams are cancelled with it.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface check.
var _ types.LocalService = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithName sets the label reported in monitoring snapshots.
func WithName(name string) Option {
	return func(s *Service) { s.name = name }
}

// WithOwnedBackend makes Close detach the backend.
func WithOwnedBackend() Option {
	return func(s *Service) { s.ownsBackend = true }
}

// New returns an access layer over an attached backend. The layer owns
// factory and closes it on Close. A nil monitor disables monitoring.
func New(backend *sqlite.Backend, factory threading.Factory, monitor monitoring.Registry, opts ...Option) *Service {
	if monitor == nil {
		monitor = monitoring.Disabled{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		name:    "LocalService@" + uuid.NewString(),
		backend: backend,
		factory: factory,
		monitor: monitor,
		logger:  slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service", "layer", s.name)
	return s
}

// Name returns the layer's monitoring label.
func (s *Service) Name() string { return s.name }

// begin registers an operation. It fails once Close has started.
func (s *Service) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return types.ErrServiceClosed
	}
	s.inflight.Add(1)
	return nil
}

func (s *Service) end() { s.inflight.Done() }

// dispatcher resolves the execution context of rt.
func (s *Service) dispatcher(rt types.RecordType) (*threading.Dispatcher, error) {
	d, err := s.factory.Get(rt.Name())
	if err != nil {
		return nil, fmt.Errorf("execution context for %s: %w", rt, err)
	}
	return d, nil
}

// acquire opens a handle for rt. It must run on d.
func (s *Service) acquire(ctx context.Context, d *threading.Dispatcher, rt types.RecordType) (*sqlite.Handle, error) {
	h, err := s.backend.OpenHandle(ctx, d)
	if err != nil {
		return nil, err
	}
	s.local.Add(1)
	s.monitor.Increment(monitoring.Connections, d.Name())
	s.monitor.TrackInstance(d.ID(), types.HandleInfo{
		HandleID:   h.ID(),
		RecordType: rt.Name(),
		Thread:     d.Name(),
		AcquiredAt: h.OpenedAt(),
	})
	s.logger.Debug("handle acquired", "record_type", rt.Name(), "thread", d.Name(), "handle", h.ID())
	return h, nil
}

// release closes h and undoes acquire's bookkeeping. It must run on d.
func (s *Service) release(d *threading.Dispatcher, h *sqlite.Handle) {
	err := h.Close()
	s.local.Add(-1)
	s.monitor.Decrement(monitoring.Connections, d.Name())
	s.monitor.UntrackInstance(d.ID(), h.ID())
	if err != nil {
		s.logger.Warn("releasing handle", "thread", d.Name(), "handle", h.ID(), "error", err)
		return
	}
	s.logger.Debug("handle released", "thread", d.Name(), "handle", h.ID())
}

// GetMonitoringLog returns a copy of the monitoring counters.
func (s *Service) GetMonitoringLog() types.MonitoringLog {
	return s.monitor.Snapshot(s.name)
}

// GlobalInstanceCount returns the open handles on the backend.
func (s *Service) GlobalInstanceCount() int { return s.backend.LiveHandles() }

// Path returns the database file of the backend.
func (s *Service) Path() string { return s.backend.Path() }

// RecordTypes returns the stored record type names with their record counts.
func (s *Service) RecordTypes(ctx context.Context) (map[string]int, error) {
	return s.backend.RecordTypes(ctx)
}

// LocalInstanceCount returns the open handles acquired by this layer.
func (s *Service) LocalInstanceCount() int { return int(s.local.Load()) }

// Collector exposes the layer's counters as Prometheus metrics.
func (s *Service) Collector() *monitoring.Collector {
	return monitoring.NewCollector(s.GetMonitoringLog, s.GlobalInstanceCount)
}

// Close refuses new operations, cancels live streams, waits for every
// in-flight operation to release its handle and stops the workers. When the
// layer owns its backend, the backend is detached too. Close is idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.inflight.Wait()

		err := s.factory.Close()
		if s.ownsBackend {
			err = errors.Join(err, s.backend.Detach())
		}
		s.closeErr = err
		s.logger.Debug("layer closed", "handles", s.LocalInstanceCount())
	})
	return s.closeErr
}
