package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Handle is an open connection to the database confined to its Owner.
// Calling any method from outside the owner fails with ErrNotConfined.
type Handle struct {
	id       string
	backend  *Backend
	owner    Owner
	conn     *sql.Conn
	openedAt time.Time
	closed   atomic.Bool
}

// ID returns the handle's unique ID.
func (h *Handle) ID() string { return h.id }

// OwnerName returns the name of the execution context the handle belongs to.
func (h *Handle) OwnerName() string { return h.owner.Name() }

// OpenedAt returns when the handle was opened.
func (h *Handle) OpenedAt() time.Time { return h.openedAt }

// Closed reports whether Close ran.
func (h *Handle) Closed() bool { return h.closed.Load() }

func (h *Handle) check() error {
	if !h.owner.Confined() {
		return types.ErrNotConfined
	}
	if h.closed.Load() {
		return types.ErrHandleClosed
	}
	return nil
}

// Close releases the connection. Closing twice is a no-op.
func (h *Handle) Close() error {
	if !h.owner.Confined() {
		return types.ErrNotConfined
	}
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.backend.live.Add(-1)
	h.backend.logger.Debug("handle closed", "handle", h.id, "owner", h.owner.Name())
	if err := h.conn.Close(); err != nil {
		return fmt.Errorf("closing handle: %w", err)
	}
	return nil
}

// FindAll evaluates pred over recordType in the given order.
func (h *Handle) FindAll(ctx context.Context, recordType string, pred types.Predicate, sort []types.SortField) (Results, error) {
	if err := h.check(); err != nil {
		return Results{}, err
	}

	h.backend.mu.RLock()
	defer h.backend.mu.RUnlock()

	if !h.backend.attached {
		return Results{}, types.ErrDetached
	}
	return findAll(ctx, h.conn, recordType, pred, sort)
}

// Aggregate reduces field over the matches of pred. The result is invalid
// when there is nothing to reduce; Size always yields a valid count.
func (h *Handle) Aggregate(ctx context.Context, recordType string, pred types.Predicate, fn types.AggregationFunction, field string) (sql.NullFloat64, error) {
	if err := h.check(); err != nil {
		return sql.NullFloat64{}, err
	}

	h.backend.mu.RLock()
	defer h.backend.mu.RUnlock()

	if !h.backend.attached {
		return sql.NullFloat64{}, types.ErrDetached
	}

	c, err := compile(recordType, pred, nil)
	if err != nil {
		return sql.NullFloat64{}, err
	}

	var stmt string
	args := c.args
	if fn == types.Size {
		stmt = "SELECT COUNT(*) FROM (" + c.matchSQL() + ")"
	} else {
		var expr string
		switch fn {
		case types.Max:
			expr = "MAX(v)"
		case types.Min:
			expr = "MIN(v)"
		case types.Sum:
			expr = "SUM(v)"
		case types.Average:
			expr = "AVG(v)"
		default:
			return sql.NullFloat64{}, fmt.Errorf("%w: %v", types.ErrInvalidAggregation, fn)
		}
		if err := types.ValidateField(field); err != nil {
			return sql.NullFloat64{}, err
		}
		stmt = "SELECT " + expr + " FROM (SELECT json_extract(body, ?) AS v FROM records WHERE " +
			c.where + " ORDER BY " + c.order + c.limit + ")"
		args = append([]any{jsonPath(field)}, c.args...)
	}

	var out sql.NullFloat64
	if err := h.conn.QueryRowContext(ctx, stmt, args...).Scan(&out); err != nil {
		return sql.NullFloat64{}, fmt.Errorf("aggregating %s(%s) over %s: %w", fn, field, recordType, err)
	}
	return out, nil
}

// Transaction runs fn inside a write transaction. fn's error (or panic)
// rolls the transaction back; otherwise it commits and the record types
// it wrote to are announced to watchers.
func (h *Handle) Transaction(ctx context.Context, fn func(*Tx) error) error {
	if err := h.check(); err != nil {
		return err
	}

	h.backend.mu.RLock()
	defer h.backend.mu.RUnlock()

	if !h.backend.attached {
		return types.ErrDetached
	}

	sqlTx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{tx: sqlTx, touched: make(map[string]struct{})}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	h.backend.notify(tx.touched)
	return nil
}

// queryer is the part of *sql.Conn and *sql.Tx used for reads.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func findAll(ctx context.Context, q queryer, recordType string, pred types.Predicate, sort []types.SortField) (Results, error) {
	c, err := compile(recordType, pred, sort)
	if err != nil {
		return Results{}, err
	}

	rows, err := q.QueryContext(ctx, c.selectSQL(), c.args...)
	if err != nil {
		return Results{}, fmt.Errorf("querying %s: %w", recordType, err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var r Row
		var body string
		if err := rows.Scan(&r.Seq, &r.ID, &body); err != nil {
			return Results{}, fmt.Errorf("scanning %s: %w", recordType, err)
		}
		r.Body = []byte(body)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return Results{}, fmt.Errorf("querying %s: %w", recordType, err)
	}
	return Results{rows: out, loaded: true}, nil
}
