package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

func seed(t *testing.T) (*Backend, func(pred types.Predicate, sort ...types.SortField) ([]string, error)) {
	t.Helper()
	b := newTestBackend(t)
	d := newTestWorker(t)
	require.NoError(t, store(d, b,
		&item{ID: "1", Name: "alpha", Score: 10, Done: true, Owner: &owner{Name: "ann"}},
		&item{ID: "2", Name: "beta", Score: 30},
		&item{ID: "3", Name: "gamma", Score: 20, Done: true, Owner: &owner{Name: "bob"}},
		&item{ID: "4", Score: 40},
	))
	return b, func(pred types.Predicate, sort ...types.SortField) ([]string, error) {
		got, err := find(d, b, pred, sort...)
		return ids(got), err
	}
}

func TestHandle_RequiresOwner(t *testing.T) {
	b := newTestBackend(t)
	d := newTestWorker(t)
	ctx := context.Background()

	_, err := b.OpenHandle(ctx, d)
	assert.ErrorIs(t, err, types.ErrNotConfined, "opening outside the worker")

	var h *Handle
	require.NoError(t, d.Do(ctx, func() error {
		var err error
		h, err = b.OpenHandle(ctx, d)
		return err
	}))
	assert.Equal(t, 1, b.LiveHandles())

	_, err = h.FindAll(ctx, items.Name(), nil, nil)
	assert.ErrorIs(t, err, types.ErrNotConfined)
	_, err = h.Aggregate(ctx, items.Name(), nil, types.Size, "")
	assert.ErrorIs(t, err, types.ErrNotConfined)
	assert.ErrorIs(t, h.Transaction(ctx, func(*Tx) error { return nil }), types.ErrNotConfined)
	assert.ErrorIs(t, h.Close(), types.ErrNotConfined)

	require.NoError(t, d.Do(ctx, func() error {
		if err := h.Close(); err != nil {
			return err
		}
		return h.Close()
	}))
	assert.True(t, h.Closed())
	assert.Equal(t, 0, b.LiveHandles())

	err = d.Do(ctx, func() error {
		_, err := h.FindAll(ctx, items.Name(), nil, nil)
		return err
	})
	assert.ErrorIs(t, err, types.ErrHandleClosed)
}

func TestHandle_FindAllPredicates(t *testing.T) {
	_, query := seed(t)

	tests := []struct {
		name string
		pred types.Predicate
		want []string
	}{
		{"nil matches all", nil, []string{"1", "2", "3", "4"}},
		{"equal string", types.Where("name", "beta"), []string{"2"}},
		{"equal bool", types.Where("done", true), []string{"1", "3"}},
		{"equal nil", types.Where("name", nil), []string{"4"}},
		{"not equal includes missing", func(q types.Query) types.Query { return q.NotEqualTo("name", "beta") }, []string{"1", "3", "4"}},
		{"greater than", func(q types.Query) types.Query { return q.GreaterThan("score", 20) }, []string{"2", "4"}},
		{"greater or equal", func(q types.Query) types.Query { return q.GreaterThanOrEqualTo("score", 20) }, []string{"2", "3", "4"}},
		{"less than", func(q types.Query) types.Query { return q.LessThan("score", 20) }, []string{"1"}},
		{"less or equal", func(q types.Query) types.Query { return q.LessThanOrEqualTo("score", 20) }, []string{"1", "3"}},
		{"in", func(q types.Query) types.Query { return q.In("id", "1", "4", "9") }, []string{"1", "4"}},
		{"in nothing", func(q types.Query) types.Query { return q.In("id") }, nil},
		{"contains", func(q types.Query) types.Query { return q.Contains("name", "ta") }, []string{"2"}},
		{"is not null", func(q types.Query) types.Query { return q.IsNotNull("owner") }, []string{"1", "3"}},
		{"nested member", types.Where("owner.name", "bob"), []string{"3"}},
		{"and", types.And(types.Where("done", true), func(q types.Query) types.Query { return q.GreaterThan("score", 15) }), []string{"3"}},
		{"limit", func(q types.Query) types.Query { return q.Limit(2) }, []string{"1", "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := query(tt.pred)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandle_FindAllSort(t *testing.T) {
	_, query := seed(t)

	got, err := query(nil, types.Desc("score"))
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "2", "3", "1"}, got)

	got, err = query(func(q types.Query) types.Query { return q.Limit(2) }, types.Asc("score"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, got)

	// Ties keep insertion order.
	got, err = query(nil, types.Asc("done"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "4", "1", "3"}, got)
}

func TestHandle_FindAllRejectsBadQueries(t *testing.T) {
	_, query := seed(t)

	tests := []struct {
		name string
		pred types.Predicate
		sort []types.SortField
		want error
	}{
		{"bad field", types.Where("bad field", 1), nil, types.ErrInvalidField},
		{"zero limit", func(q types.Query) types.Query { return q.Limit(0) }, nil, types.ErrInvalidLimit},
		{"unsupported value", types.Where("score", struct{}{}), nil, types.ErrInvalidFilter},
		{"uint64 overflow", types.Where("score", uint64(math.MaxUint64)), nil, types.ErrInvalidFilter},
		{"uint overflow", types.Where("score", uint(math.MaxInt64)+1), nil, types.ErrInvalidFilter},
		{"bad sort field", nil, []types.SortField{types.Asc("x;DROP")}, types.ErrInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query(tt.pred, tt.sort...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHandle_FindAllBindsUnsigned(t *testing.T) {
	_, query := seed(t)

	got, err := query(types.Where("score", uint64(40)))
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, got)

	got, err = query(types.Where("score", uint(10)))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, got)
}

func TestHandle_Aggregate(t *testing.T) {
	b, _ := seed(t)
	d := newTestWorker(t)

	aggregate := func(rt string, pred types.Predicate, fn types.AggregationFunction, field string) (sql.NullFloat64, error) {
		var out sql.NullFloat64
		err := withHandle(d, b, func(h *Handle) error {
			var err error
			out, err = h.Aggregate(context.Background(), rt, pred, fn, field)
			return err
		})
		return out, err
	}

	tests := []struct {
		name  string
		rt    string
		pred  types.Predicate
		fn    types.AggregationFunction
		field string
		want  sql.NullFloat64
	}{
		{"max", items.Name(), nil, types.Max, "score", sql.NullFloat64{Float64: 40, Valid: true}},
		{"min", items.Name(), nil, types.Min, "score", sql.NullFloat64{Float64: 10, Valid: true}},
		{"sum", items.Name(), nil, types.Sum, "score", sql.NullFloat64{Float64: 100, Valid: true}},
		{"average", items.Name(), nil, types.Average, "score", sql.NullFloat64{Float64: 25, Valid: true}},
		{"size", items.Name(), nil, types.Size, "", sql.NullFloat64{Float64: 4, Valid: true}},
		{"filtered max", items.Name(), types.Where("done", true), types.Max, "score", sql.NullFloat64{Float64: 20, Valid: true}},
		{"limited sum", items.Name(), func(q types.Query) types.Query { return q.Limit(2) }, types.Sum, "score", sql.NullFloat64{Float64: 40, Valid: true}},
		{"empty max", "empty", nil, types.Max, "score", sql.NullFloat64{}},
		{"empty sum", "empty", nil, types.Sum, "score", sql.NullFloat64{}},
		{"empty average", "empty", nil, types.Average, "score", sql.NullFloat64{}},
		{"empty size", "empty", nil, types.Size, "", sql.NullFloat64{Float64: 0, Valid: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := aggregate(tt.rt, tt.pred, tt.fn, tt.field)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := aggregate(items.Name(), nil, types.AggregationFunction(99), "score")
	assert.ErrorIs(t, err, types.ErrInvalidAggregation)
	_, err = aggregate(items.Name(), nil, types.Max, "")
	assert.ErrorIs(t, err, types.ErrInvalidField)
}

func TestTx_UpsertReplacesInPlace(t *testing.T) {
	b, query := seed(t)
	d := newTestWorker(t)

	require.NoError(t, store(d, b, &item{ID: "2", Name: "beta-2", Score: 31}))

	got, err := find(d, b, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "beta-2", got[1].Name)
	assert.Equal(t, 31, got[1].Score)

	// Replacement drops members the new record does not carry.
	require.NoError(t, store(d, b, &item{ID: "1"}))
	names, err := query(types.Where("owner.name", "ann"))
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTx_FindAndDelete(t *testing.T) {
	b, query := seed(t)
	d := newTestWorker(t)
	ctx := context.Background()

	var first, byID Row
	var found, missing bool
	var deleted int64
	err := withHandle(d, b, func(h *Handle) error {
		return h.Transaction(ctx, func(tx *Tx) error {
			var err error
			if first, found, err = tx.FindFirst(ctx, items.Name(), types.Where("done", true)); err != nil {
				return err
			}
			if byID, _, err = tx.FindByID(ctx, items.Name(), "3"); err != nil {
				return err
			}
			if _, missing, err = tx.FindByID(ctx, items.Name(), "nope"); err != nil {
				return err
			}
			deleted, err = tx.DeleteAll(ctx, items.Name(), func(q types.Query) types.Query { return q.GreaterThan("score", 15).Limit(2) })
			return err
		})
	})
	require.NoError(t, err)

	assert.True(t, found)
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "3", byID.ID)
	assert.JSONEq(t, `{"id":"3","name":"gamma","score":20,"done":true,"owner":{"name":"bob"}}`, string(byID.Body))
	assert.False(t, missing)
	assert.EqualValues(t, 2, deleted)

	got, err := query(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4"}, got)
}

func TestTx_RollbackOnError(t *testing.T) {
	b, query := seed(t)
	d := newTestWorker(t)
	ctx := context.Background()
	errStop := errors.New("stop")

	err := withHandle(d, b, func(h *Handle) error {
		return h.Transaction(ctx, func(tx *Tx) error {
			if _, err := tx.DeleteAll(ctx, items.Name(), nil); err != nil {
				return err
			}
			return errStop
		})
	})
	require.ErrorIs(t, err, errStop)

	got, err := query(nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestTx_RollbackOnPanic(t *testing.T) {
	b, query := seed(t)
	d := newTestWorker(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = withHandle(d, b, func(h *Handle) error {
			return h.Transaction(ctx, func(tx *Tx) error {
				if _, err := tx.DeleteAll(ctx, items.Name(), nil); err != nil {
					return err
				}
				panic("boom")
			})
		})
	})
	assert.Equal(t, 0, b.LiveHandles())

	got, err := query(nil)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestEncodeRecord(t *testing.T) {
	body, err := EncodeRecord(&item{ID: "x", Score: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","score":1,"done":false}`, string(body))

	doc := types.Document{"id": 7.0, "k": "v"}
	body, err = EncodeRecord(&doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"k":"v"}`, string(body))

	_, err = EncodeRecord(badRecord("x"))
	assert.ErrorIs(t, err, types.ErrInvalidData)
}

type badRecord string

func (b badRecord) RecordID() string { return string(b) }
