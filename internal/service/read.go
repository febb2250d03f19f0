package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mesh-intelligence/localservice/internal/monitoring"
	"github.com/mesh-intelligence/localservice/internal/sqlite"
	"github.com/mesh-intelligence/localservice/internal/threading"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// subscription is the state a streaming read holds until it terminates.
type subscription struct {
	rt     types.RecordType
	d      *threading.Dispatcher
	h      *sqlite.Handle
	cancel context.CancelFunc
	stop   func() bool
}

// subscribe counts a new subscription for rt, resolves its execution context
// and acquires the handle the stream keeps until it terminates. The returned
// context is cancelled by the caller's ctx, by terminate and by Close.
func (s *Service) subscribe(ctx context.Context, rt types.RecordType) (*subscription, context.Context, error) {
	if err := s.begin(); err != nil {
		return nil, nil, err
	}
	s.monitor.Increment(monitoring.Opened, rt.Name())

	fail := func(err error) (*subscription, context.Context, error) {
		s.monitor.Increment(monitoring.Closed, rt.Name())
		s.end()
		return nil, nil, err
	}

	d, err := s.dispatcher(rt)
	if err != nil {
		return fail(err)
	}

	var h *sqlite.Handle
	err = d.Do(ctx, func() error {
		var err error
		h, err = s.acquire(ctx, d, rt)
		return err
	})
	if err != nil {
		d.Release()
		return fail(err)
	}

	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return &subscription{rt: rt, d: d, h: h, cancel: cancel, stop: stop}, sctx, nil
}

// terminate is the single exit path of a subscription: release the handle
// on its worker, count the stream closed, hand the worker back.
func (s *Service) terminate(sub *subscription) {
	sub.stop()
	sub.cancel()

	err := sub.d.Do(context.Background(), func() error {
		s.release(sub.d, sub.h)
		return nil
	})
	if err != nil {
		s.logger.Error("handle not released", "record_type", sub.rt.Name(), "thread", sub.d.Name(), "error", err)
	}

	s.monitor.Increment(monitoring.Closed, sub.rt.Name())
	sub.d.Release()
	s.end()
}

// Get streams the records matching spec. The first emission is the current
// result set; each committed write to the record type triggers a fresh one.
// The stream ends when it is closed, when ctx ends, when the layer closes
// and, normally, when the backend detaches.
func (s *Service) Get(ctx context.Context, spec types.QuerySpec) (*types.Stream[[]types.Record], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	sub, sctx, err := s.subscribe(ctx, spec.RecordType)
	if err != nil {
		return nil, err
	}

	// Subscribe before the first evaluation so no commit goes unseen.
	changes, unwatch, err := s.backend.Watch(spec.RecordType.Name())
	if err != nil {
		s.terminate(sub)
		return nil, err
	}

	stream, em := types.NewStream[[]types.Record](sctx)
	go func() {
		err := s.follow(em, sub, spec, changes)
		unwatch()
		s.terminate(sub)
		s.logger.Debug("stream terminated", "record_type", spec.RecordType.Name(), "error", err)
		em.Finish(err)
	}()
	return stream, nil
}

// follow evaluates spec on the subscription's worker, emits each loaded
// result set and waits for the next change.
func (s *Service) follow(em *types.Emitter[[]types.Record], sub *subscription, spec types.QuerySpec, changes <-chan struct{}) error {
	ctx := em.Context()
	for {
		var batch []types.Record
		var loaded bool
		err := sub.d.Do(ctx, func() error {
			res, err := sub.h.FindAll(ctx, sub.rt.Name(), spec.Predicate, spec.Sort)
			if err != nil {
				return err
			}
			if loaded = res.Loaded(); !loaded {
				return nil
			}
			batch, err = res.Detach(sub.rt)
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if loaded && !em.Send(batch) {
			return nil
		}

		select {
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// GetAggregate computes req once on the record type's worker, emits the
// result and completes. The handle is held until the stream terminates.
func (s *Service) GetAggregate(ctx context.Context, req types.AggregationRequest) (*types.Stream[sql.NullFloat64], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sub, sctx, err := s.subscribe(ctx, req.RecordType)
	if err != nil {
		return nil, err
	}

	stream, em := types.NewStream[sql.NullFloat64](sctx)
	go func() {
		ctx := em.Context()
		var out sql.NullFloat64
		err := sub.d.Do(ctx, func() error {
			var err error
			out, err = sub.h.Aggregate(ctx, sub.rt.Name(), req.Predicate, req.Function, req.Field)
			return err
		})
		switch {
		case ctx.Err() != nil:
			err = nil
		case err == nil:
			em.Send(out)
		}
		s.terminate(sub)
		em.Finish(err)
	}()
	return stream, nil
}

// GetSize emits the number of records of rt matching predicate.
func (s *Service) GetSize(ctx context.Context, rt types.RecordType, predicate types.Predicate) (*types.Stream[int], error) {
	src, err := s.GetAggregate(ctx, types.AggregationRequest{
		RecordType: rt,
		Predicate:  predicate,
		Function:   types.Size,
	})
	if err != nil {
		return nil, err
	}
	return types.Map(src, func(n sql.NullFloat64) int {
		if !n.Valid {
			return 0
		}
		return int(n.Float64)
	}), nil
}

// GetIDs evaluates predicate once, detaches the matches and returns the
// distinct values extract yields for them. extract runs on the caller's
// goroutine.
func (s *Service) GetIDs(ctx context.Context, rt types.RecordType, predicate types.Predicate, extract func(types.Record) int) (map[int]struct{}, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	if extract == nil {
		return nil, fmt.Errorf("%w: nil extractor", types.ErrInvalidData)
	}
	if err := s.begin(); err != nil {
		return nil, err
	}
	defer s.end()

	d, err := s.dispatcher(rt)
	if err != nil {
		return nil, err
	}
	defer d.Release()

	var recs []types.Record
	err = d.Do(ctx, func() error {
		h, err := s.acquire(ctx, d, rt)
		if err != nil {
			return err
		}
		defer s.release(d, h)

		res, err := h.FindAll(ctx, rt.Name(), predicate, nil)
		if err != nil {
			return err
		}
		recs, err = res.Detach(rt)
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make(map[int]struct{}, len(recs))
	for _, rec := range recs {
		ids[extract(rec)] = struct{}{}
	}
	return ids, nil
}
