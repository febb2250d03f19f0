package types

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func produce(em *Emitter[int], vals []int, err error) {
	go func() {
		for _, v := range vals {
			if !em.Send(v) {
				break
			}
		}
		em.Finish(err)
	}()
}

func TestStreamNextUntilEOF(t *testing.T) {
	s, em := NewStream[int](context.Background())
	produce(em, []int{1, 2, 3}, nil)

	ctx := context.Background()
	var got []int
	for {
		v, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.NoError(t, s.Err())
}

func TestStreamAllYieldsTerminalError(t *testing.T) {
	boom := errors.New("boom")
	s, em := NewStream[int](context.Background())
	produce(em, []int{1}, boom)

	var vals []int
	var lastErr error
	for v, err := range s.All() {
		if err != nil {
			lastErr = err
			continue
		}
		vals = append(vals, v)
	}
	assert.Equal(t, []int{1}, vals)
	assert.ErrorIs(t, lastErr, boom)
}

func TestStreamCloseCancelsProducer(t *testing.T) {
	s, em := NewStream[int](context.Background())
	released := make(chan struct{})
	go func() {
		<-em.Context().Done()
		close(released)
		em.Finish(nil)
	}()

	require.NoError(t, s.Close())
	select {
	case <-released:
	default:
		t.Fatal("producer termination must run before Close returns")
	}
	// Idempotent.
	require.NoError(t, s.Close())
}

func TestStreamParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s, em := NewStream[int](ctx)
	go func() {
		for i := 0; em.Send(i); i++ {
		}
		em.Finish(nil)
	}()
	_, err := s.Next(context.Background())
	require.NoError(t, err)
	cancel()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate after parent cancellation")
	}
}

func TestStreamFirstAndMap(t *testing.T) {
	s, em := NewStream[int](context.Background())
	produce(em, []int{2, 4}, nil)
	doubled := Map(s, func(v int) string { return string(rune('a' + v)) })

	v, err := doubled.First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", v)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("closing a mapped stream must close its source")
	}
}
