package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jskala/ragdex/internal/rag"
)

type countingResource struct {
	closed int
}

func TestHandleLoadIsLazyAndIdempotent(t *testing.T) {
	t.Parallel()

	constructed := 0
	h := NewHandle("test", func() (*countingResource, error) {
		constructed++
		return &countingResource{}, nil
	}, nil, nil)

	assert.Equal(t, 0, constructed)

	first, err := h.Load()
	require.NoError(t, err)
	second, err := h.Load()
	require.NoError(t, err)

	assert.Equal(t, 1, constructed)
	assert.Same(t, first, second)
}

func TestHandleConstructionFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	attempts := 0
	h := NewHandle("broken", func() (*countingResource, error) {
		attempts++
		return nil, errors.New("bad config")
	}, nil, nil)

	_, err := h.Load()
	require.Error(t, err)
	_, err = h.Load()
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestHandleOffloadReleasesAndReloads(t *testing.T) {
	t.Parallel()

	constructed := 0
	var released *countingResource
	h := NewHandle("test", func() (*countingResource, error) {
		constructed++
		return &countingResource{}, nil
	}, func(r *countingResource) error {
		r.closed++
		released = r
		return nil
	}, nil)

	first, err := h.Load()
	require.NoError(t, err)

	h.Offload()
	assert.Same(t, first, released)
	assert.Equal(t, 1, released.closed)

	// A fresh Load constructs a new instance.
	second, err := h.Load()
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, constructed)
}

func TestHandleOffloadDeferredWhileInFlight(t *testing.T) {
	t.Parallel()

	closed := 0
	h := NewHandle("test", func() (*countingResource, error) {
		return &countingResource{}, nil
	}, func(*countingResource) error {
		closed++
		return nil
	}, nil)

	_, err := h.Acquire()
	require.NoError(t, err)

	h.Offload()
	assert.Equal(t, 0, closed, "offload must wait for the in-flight request")

	h.Release()
	assert.Equal(t, 1, closed, "deferred offload runs on the last release")
}

func TestManagerSweepOffloadsIdleHandles(t *testing.T) {
	t.Parallel()

	embClosed := 0
	emb := NewHandle("embedder", func() (rag.Embedder, error) {
		return nil, nil
	}, func(rag.Embedder) error {
		embClosed++
		return nil
	}, nil)
	gen := NewHandle("generator", func() (rag.Generator, error) { return nil, nil }, nil, nil)
	store := NewHandle("store", func() (rag.VectorStore, error) { return nil, nil }, nil, nil)

	m := NewManager(emb, gen, store, &Config{IdleTimeout: time.Minute}, nil)

	_, err := emb.Load()
	require.NoError(t, err)

	// Not yet idle long enough.
	m.sweep(time.Now())
	assert.Equal(t, 0, embClosed)

	m.sweep(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, embClosed)

	// Unloaded handles are skipped.
	m.sweep(time.Now().Add(4 * time.Minute))
	assert.Equal(t, 1, embClosed)
}

func TestManagerSweepSkipsInFlightHandles(t *testing.T) {
	t.Parallel()

	closed := 0
	emb := NewHandle("embedder", func() (rag.Embedder, error) {
		return nil, nil
	}, func(rag.Embedder) error {
		closed++
		return nil
	}, nil)
	gen := NewHandle("generator", func() (rag.Generator, error) { return nil, nil }, nil, nil)
	store := NewHandle("store", func() (rag.VectorStore, error) { return nil, nil }, nil, nil)

	m := NewManager(emb, gen, store, &Config{IdleTimeout: time.Minute}, nil)

	_, err := emb.Acquire()
	require.NoError(t, err)

	m.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 0, closed)

	emb.Release()
	m.sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 1, closed)
}

func TestManagerCloseWithoutStart(t *testing.T) {
	t.Parallel()

	emb := NewHandle("embedder", func() (rag.Embedder, error) { return nil, nil }, nil, nil)
	gen := NewHandle("generator", func() (rag.Generator, error) { return nil, nil }, nil, nil)
	store := NewHandle("store", func() (rag.VectorStore, error) { return nil, nil }, nil, nil)

	m := NewManager(emb, gen, store, nil, nil)
	m.Close()
}

func TestManagerStartAndClose(t *testing.T) {
	t.Parallel()

	closed := 0
	store := NewHandle("store", func() (rag.VectorStore, error) {
		return nil, nil
	}, func(rag.VectorStore) error {
		closed++
		return nil
	}, nil)
	emb := NewHandle("embedder", func() (rag.Embedder, error) { return nil, nil }, nil, nil)
	gen := NewHandle("generator", func() (rag.Generator, error) { return nil, nil }, nil, nil)

	m := NewManager(emb, gen, store, &Config{IdleTimeout: time.Hour, PollInterval: 10 * time.Millisecond}, nil)
	m.Start(context.Background())

	_, err := store.Load()
	require.NoError(t, err)

	m.Close()
	assert.Equal(t, 1, closed)
}

type staticEmbedder struct{ calls int }

func (s *staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func TestLazyEmbedder(t *testing.T) {
	t.Parallel()

	inner := &staticEmbedder{}
	constructed := 0
	h := NewHandle("embedder", func() (rag.Embedder, error) {
		constructed++
		return inner, nil
	}, nil, nil)

	lazy := NewLazyEmbedder(h)
	assert.Equal(t, 0, constructed)

	got, err := lazy.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 1, constructed)
	assert.Equal(t, 1, inner.calls)
}
