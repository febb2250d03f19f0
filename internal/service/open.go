package service

import (
	"log/slog"

	"github.com/mesh-intelligence/localservice/internal/monitoring"
	"github.com/mesh-intelligence/localservice/internal/sqlite"
	"github.com/mesh-intelligence/localservice/internal/threading"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// NewFactory returns the execution-context factory selected by
// cfg.DispatchMode.
func NewFactory(cfg types.Config) threading.Factory {
	opts := []threading.Option{threading.WithMaxWorkers(cfg.MaxWorkers)}
	if cfg.GetDispatchMode() == types.DispatchPerType {
		return threading.NewCachedFactory(opts...)
	}
	return threading.NewHandlerFactory(opts...)
}

// Open attaches a backend in cfg.DataDir and returns a layer that owns it.
func Open(cfg types.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := sqlite.NewBackend(sqlite.WithLogger(logger.With("component", "sqlite")))
	if err := backend.Attach(cfg); err != nil {
		return nil, err
	}

	opts = append([]Option{WithLogger(logger), WithOwnedBackend()}, opts...)
	return New(backend, NewFactory(cfg), monitoring.New(cfg.Monitoring), opts...), nil
}
