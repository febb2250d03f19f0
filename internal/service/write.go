package service

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/localservice/internal/sqlite"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

// encoded is a record in stored form.
type encoded struct {
	id   string
	body []byte
}

// encodeAll checks and encodes recs on the caller's goroutine, so the worker
// never touches caller-owned values.
func encodeAll(rt types.RecordType, recs []types.Record) ([]encoded, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	out := make([]encoded, 0, len(recs))
	for _, rec := range recs {
		if err := rt.CheckRecord(rec); err != nil {
			return nil, err
		}
		body, err := sqlite.EncodeRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded{id: rec.RecordID(), body: body})
	}
	return out, nil
}

// write runs fn inside one transaction on rt's execution context. The handle
// is released after the transaction commits or rolls back, and before any
// error or panic reaches the caller.
func (s *Service) write(ctx context.Context, rt types.RecordType, op string, fn func(ctx context.Context, tx *sqlite.Tx) error) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	d, err := s.dispatcher(rt)
	if err != nil {
		return err
	}
	defer d.Release()

	err = d.Do(ctx, func() error {
		h, err := s.acquire(ctx, d, rt)
		if err != nil {
			return err
		}
		defer s.release(d, h)

		return h.Transaction(ctx, func(tx *sqlite.Tx) error {
			return fn(ctx, tx)
		})
	})
	if err != nil {
		s.logger.Debug("write failed", "op", op, "record_type", rt.Name(), "error", err)
	}
	return err
}

func upsertAll(ctx context.Context, tx *sqlite.Tx, rt types.RecordType, recs []encoded) error {
	for _, r := range recs {
		if err := tx.Upsert(ctx, rt.Name(), r.id, r.body); err != nil {
			return err
		}
	}
	return nil
}

// StoreObject upserts rec, replacing any stored record with the same ID.
func (s *Service) StoreObject(ctx context.Context, rt types.RecordType, rec types.Record) error {
	return s.StoreObjects(ctx, rt, []types.Record{rec})
}

// StoreObjects upserts recs in one transaction.
func (s *Service) StoreObjects(ctx context.Context, rt types.RecordType, recs []types.Record) error {
	enc, err := encodeAll(rt, recs)
	if err != nil {
		return err
	}
	return s.write(ctx, rt, "store", func(ctx context.Context, tx *sqlite.Tx) error {
		return upsertAll(ctx, tx, rt, enc)
	})
}

// Update applies mutate to the first match of predicate. The match is
// re-read by ID inside the transaction and mutate receives a fresh copy;
// the result replaces the stored record. No match is a no-op. A mutation
// that changes the record's ID fails with ErrIdentityChanged.
func (s *Service) Update(ctx context.Context, rt types.RecordType, predicate types.Predicate, mutate func(types.Record) error) error {
	if mutate == nil {
		return fmt.Errorf("%w: nil mutation", types.ErrInvalidData)
	}
	return s.write(ctx, rt, "update", func(ctx context.Context, tx *sqlite.Tx) error {
		first, ok, err := tx.FindFirst(ctx, rt.Name(), predicate)
		if err != nil || !ok {
			return err
		}
		row, ok, err := tx.FindByID(ctx, rt.Name(), first.ID)
		if err != nil || !ok {
			return err
		}

		rec, err := row.Decode(rt)
		if err != nil {
			return err
		}
		if err := mutate(rec); err != nil {
			return err
		}
		if id := rec.RecordID(); id != row.ID {
			return fmt.Errorf("%w: %q became %q", types.ErrIdentityChanged, row.ID, id)
		}

		body, err := sqlite.EncodeRecord(rec)
		if err != nil {
			return err
		}
		return tx.Upsert(ctx, rt.Name(), row.ID, body)
	})
}

// Delete removes every match of predicate; a nil predicate removes every
// record of rt.
func (s *Service) Delete(ctx context.Context, rt types.RecordType, predicate types.Predicate) error {
	return s.write(ctx, rt, "delete", func(ctx context.Context, tx *sqlite.Tx) error {
		_, err := tx.DeleteAll(ctx, rt.Name(), predicate)
		return err
	})
}

// DeleteAndStoreObjects deletes the matches of predicate, then stores recs,
// in one transaction.
func (s *Service) DeleteAndStoreObjects(ctx context.Context, rt types.RecordType, predicate types.Predicate, recs []types.Record) error {
	enc, err := encodeAll(rt, recs)
	if err != nil {
		return err
	}
	return s.write(ctx, rt, "replace", func(ctx context.Context, tx *sqlite.Tx) error {
		if _, err := tx.DeleteAll(ctx, rt.Name(), predicate); err != nil {
			return err
		}
		return upsertAll(ctx, tx, rt, enc)
	})
}
