package threading

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestHandlerFactory_FreshWorkerPerGet(t *testing.T) {
	f := NewHandlerFactory()
	defer f.Close()

	d1, err := f.Get("orders")
	require.NoError(t, err)
	d2, err := f.Get("orders")
	require.NoError(t, err)

	assert.NotEqual(t, d1.ID(), d2.ID())
	assert.True(t, strings.HasPrefix(d1.Name(), "HandlerThread_orders_"))
	assert.Equal(t, "orders", d2.Domain())
	assert.Equal(t, 2, f.Live())
}

func TestHandlerFactory_SameDomainRunsInParallel(t *testing.T) {
	f := NewHandlerFactory()
	defer f.Close()

	d1, err := f.Get("orders")
	require.NoError(t, err)
	d2, err := f.Get("orders")
	require.NoError(t, err)

	// Each job waits for the other; this only completes if both run at once.
	a, b := make(chan struct{}), make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		return d1.Do(context.Background(), func() error {
			close(a)
			<-b
			return nil
		})
	})
	g.Go(func() error {
		return d2.Do(context.Background(), func() error {
			close(b)
			<-a
			return nil
		})
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatchers for the same domain did not run concurrently")
	}
}

func TestHandlerFactory_MaxWorkers(t *testing.T) {
	f := NewHandlerFactory(WithMaxWorkers(1), WithNamePrefix("W"))
	defer f.Close()

	d, err := f.Get("a")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(d.Name(), "W_a_"))

	_, err = f.Get("b")
	assert.ErrorIs(t, err, ErrWorkerLimit)

	d.Release()
	<-d.Stopped()
	_, err = f.Get("b")
	assert.NoError(t, err)
}

func TestHandlerFactory_Close(t *testing.T) {
	f := NewHandlerFactory()
	d, err := f.Get("a")
	require.NoError(t, err)

	require.NoError(t, f.Close())
	<-d.Stopped()
	require.NoError(t, f.Close())

	_, err = f.Get("a")
	assert.ErrorIs(t, err, ErrFactoryClosed)
}

func TestCachedFactory_ReusesPerDomain(t *testing.T) {
	f := NewCachedFactory()

	d1, err := f.Get("orders")
	require.NoError(t, err)
	d2, err := f.Get("orders")
	require.NoError(t, err)
	d3, err := f.Get("trails")
	require.NoError(t, err)

	assert.Same(t, d1, d2)
	assert.NotSame(t, d1, d3)

	// Release keeps the cached worker alive.
	d1.Release()
	require.NoError(t, d2.Do(context.Background(), func() error { return nil }))
	assert.Equal(t, 2, f.Live())

	require.NoError(t, f.Close())
	<-d1.Stopped()
	<-d3.Stopped()
	_, err = f.Get("orders")
	assert.ErrorIs(t, err, ErrFactoryClosed)
}
