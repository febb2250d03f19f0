package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/localservice/internal/threading"
	"github.com/mesh-intelligence/localservice/pkg/types"
)

type item struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Score int      `json:"score"`
	Done  bool     `json:"done"`
	Owner *owner   `json:"owner,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

type owner struct {
	Name string `json:"name"`
}

func (i *item) RecordID() string { return i.ID }

var items = types.NewRecordType[item]("items")

func testConfig(dir string) types.Config {
	return types.Config{Backend: types.BackendSQLite, DataDir: dir}
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := NewBackend()
	require.NoError(t, b.Attach(testConfig(t.TempDir())))
	t.Cleanup(func() { b.Detach() })
	return b
}

func newTestWorker(t *testing.T) *threading.Dispatcher {
	t.Helper()
	f := threading.NewCachedFactory()
	t.Cleanup(func() { f.Close() })
	d, err := f.Get("test")
	require.NoError(t, err)
	return d
}

// withHandle opens a handle on d, runs fn with it and closes it, all on the
// worker. Assertions belong outside fn.
func withHandle(d *threading.Dispatcher, b *Backend, fn func(h *Handle) error) error {
	ctx := context.Background()
	return d.Do(ctx, func() error {
		h, err := b.OpenHandle(ctx, d)
		if err != nil {
			return err
		}
		defer h.Close()
		return fn(h)
	})
}

// store upserts recs in one transaction.
func store(d *threading.Dispatcher, b *Backend, recs ...*item) error {
	return withHandle(d, b, func(h *Handle) error {
		return h.Transaction(context.Background(), func(tx *Tx) error {
			for _, r := range recs {
				body, err := EncodeRecord(r)
				if err != nil {
					return err
				}
				if err := tx.Upsert(context.Background(), items.Name(), r.ID, body); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// find returns the detached matches of pred.
func find(d *threading.Dispatcher, b *Backend, pred types.Predicate, sort ...types.SortField) ([]*item, error) {
	var out []*item
	err := withHandle(d, b, func(h *Handle) error {
		res, err := h.FindAll(context.Background(), items.Name(), pred, sort)
		if err != nil {
			return err
		}
		recs, err := res.Detach(items)
		if err != nil {
			return err
		}
		for _, r := range recs {
			out = append(out, r.(*item))
		}
		return nil
	})
	return out, err
}

func ids(recs []*item) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestBackend_Attach(t *testing.T) {
	dir := t.TempDir()
	b := NewBackend()

	require.NoError(t, b.Attach(testConfig(dir)))
	defer b.Detach()

	_, err := os.Stat(filepath.Join(dir, types.DatabaseFileName))
	require.NoError(t, err)
	assert.True(t, b.Attached())
	assert.Equal(t, filepath.Join(dir, types.DatabaseFileName), b.Path())

	assert.ErrorIs(t, b.Attach(testConfig(dir)), types.ErrAlreadyAttached)
}

func TestBackend_AttachRejectsInvalidConfig(t *testing.T) {
	b := NewBackend()
	assert.ErrorIs(t, b.Attach(types.Config{DataDir: t.TempDir()}), types.ErrBackendEmpty)
	assert.ErrorIs(t, b.Attach(types.Config{Backend: "dolt", DataDir: t.TempDir()}), types.ErrBackendUnknown)
	assert.False(t, b.Attached())
}

func TestBackend_DetachIsIdempotent(t *testing.T) {
	b := NewBackend()
	require.NoError(t, b.Attach(testConfig(t.TempDir())))

	require.NoError(t, b.Detach())
	require.NoError(t, b.Detach())
	assert.False(t, b.Attached())

	d := newTestWorker(t)
	err := withHandle(d, b, func(*Handle) error { return nil })
	assert.ErrorIs(t, err, types.ErrDetached)

	_, _, err = b.Watch(items.Name())
	assert.ErrorIs(t, err, types.ErrDetached)
}

func TestBackend_RecordsSurviveReattach(t *testing.T) {
	dir := t.TempDir()
	d := newTestWorker(t)

	b := NewBackend()
	require.NoError(t, b.Attach(testConfig(dir)))
	require.NoError(t, store(d, b, &item{ID: "a", Score: 1}, &item{ID: "b", Score: 2}))
	require.NoError(t, b.Detach())

	require.NoError(t, b.Attach(testConfig(dir)))
	defer b.Detach()

	got, err := find(d, b, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))
}

func TestBackend_RecordTypes(t *testing.T) {
	b := newTestBackend(t)
	d := newTestWorker(t)

	got, err := b.RecordTypes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store(d, b, &item{ID: "a"}, &item{ID: "b"}))
	got, err = b.RecordTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"items": 2}, got)

	require.NoError(t, b.Detach())
	_, err = b.RecordTypes(context.Background())
	assert.ErrorIs(t, err, types.ErrDetached)
}

func TestBackend_Watch(t *testing.T) {
	b := newTestBackend(t)
	d := newTestWorker(t)

	changes, cancel, err := b.Watch(items.Name())
	require.NoError(t, err)
	defer cancel()
	others, cancelOthers, err := b.Watch("others")
	require.NoError(t, err)
	defer cancelOthers()

	require.NoError(t, store(d, b, &item{ID: "a"}))
	require.NoError(t, store(d, b, &item{ID: "b"}))

	// Two commits coalesce into one pending signal.
	select {
	case <-changes:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-changes:
		t.Fatal("signals should coalesce")
	default:
	}
	select {
	case <-others:
		t.Fatal("other record types must not be signalled")
	default:
	}

	// A rolled back transaction is not announced.
	err = withHandle(d, b, func(h *Handle) error {
		return h.Transaction(context.Background(), func(tx *Tx) error {
			if err := tx.Upsert(context.Background(), items.Name(), "c", []byte(`{"id":"c"}`)); err != nil {
				return err
			}
			return assert.AnError
		})
	})
	require.ErrorIs(t, err, assert.AnError)
	select {
	case <-changes:
		t.Fatal("rollback must not signal")
	default:
	}

	require.NoError(t, b.Detach())
	_, open := <-changes
	assert.False(t, open, "detach closes subscriptions")
	cancel()
}

func TestBackend_WatchSeesOtherWriters(t *testing.T) {
	dir := t.TempDir()
	d := newTestWorker(t)

	watching := NewBackend()
	cfg := testConfig(dir)
	cfg.WatchInterval = 10 * time.Millisecond
	require.NoError(t, watching.Attach(cfg))
	defer watching.Detach()

	// A second backend on the same file stands in for another process.
	writer := NewBackend()
	require.NoError(t, writer.Attach(testConfig(dir)))
	defer writer.Detach()

	changes, cancel, err := watching.Watch(items.Name())
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, store(d, writer, &item{ID: "a"}))
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("commit by another connection was not seen")
	}

	// Detach stops the poller before closing subscriptions.
	require.NoError(t, watching.Detach())
	for range changes {
	}
}
