// Package lifecycle owns the process-wide resource handles: the embedding
// client, the generation client and the vector-store connection. Handles
// are constructed lazily on first use, stamped on every access, and
// offloaded again after a configurable idle period by a background
// poller. No other component may construct or close these resources.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jskala/ragdex/internal/rag"
)

// Handle is a lazily-constructed, idle-evictable resource. The zero value
// is not usable; create handles with NewHandle.
type Handle[T any] struct {
	name      string
	construct func() (T, error)
	release   func(T) error
	log       *slog.Logger

	mu           sync.Mutex
	value        T
	loaded       bool
	constructErr error
	lastAccess   time.Time
	inFlight     int
	offloadAsked bool
}

// NewHandle creates a handle around a constructor and an optional release
// function. The constructor runs at most once: a construction failure is a
// configuration error that is cached and returned on every later Load.
func NewHandle[T any](name string, construct func() (T, error), release func(T) error, log *slog.Logger) *Handle[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Handle[T]{
		name:      name,
		construct: construct,
		release:   release,
		log:       log,
	}
}

// Load returns the resource, constructing it on first use, and refreshes
// the last-access timestamp.
func (h *Handle[T]) Load() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadLocked()
}

func (h *Handle[T]) loadLocked() (T, error) {
	var zero T
	if h.constructErr != nil {
		return zero, h.constructErr
	}
	if !h.loaded {
		h.log.Info("loading resource", slog.String("resource", h.name))
		value, err := h.construct()
		if err != nil {
			h.constructErr = fmt.Errorf("lifecycle: constructing %s: %w", h.name, err)
			return zero, h.constructErr
		}
		h.value = value
		h.loaded = true
	}
	h.lastAccess = time.Now()
	return h.value, nil
}

// Acquire loads the resource and marks a request as in flight, deferring
// any offload until the matching Release.
func (h *Handle[T]) Acquire() (T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	value, err := h.loadLocked()
	if err != nil {
		return value, err
	}
	h.inFlight++
	return value, nil
}

// Release ends an in-flight use. A deferred offload runs once the last
// borrower is gone.
func (h *Handle[T]) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inFlight > 0 {
		h.inFlight--
	}
	if h.inFlight == 0 && h.offloadAsked {
		h.offloadLocked()
	}
}

// Offload releases the resource. While requests are in flight the offload
// is deferred to the last Release instead of interrupting them.
func (h *Handle[T]) Offload() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.inFlight > 0 {
		h.offloadAsked = true
		return
	}
	h.offloadLocked()
}

func (h *Handle[T]) offloadLocked() {
	h.offloadAsked = false
	if !h.loaded {
		return
	}
	h.log.Info("offloading resource", slog.String("resource", h.name))
	if h.release != nil {
		if err := h.release(h.value); err != nil {
			h.log.Warn("releasing resource failed",
				slog.String("resource", h.name),
				slog.Any("error", err))
		}
	}
	var zero T
	h.value = zero
	h.loaded = false
}

// idleFor reports how long the handle has been loaded without access, or
// false when it is unloaded or in use.
func (h *Handle[T]) idleFor(now time.Time) (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded || h.inFlight > 0 {
		return 0, false
	}
	return now.Sub(h.lastAccess), true
}

// offloader is the manager's view of a handle, erasing the type parameter.
type offloader interface {
	Offload()
	idle(now time.Time) (time.Duration, bool)
}

func (h *Handle[T]) idle(now time.Time) (time.Duration, bool) { return h.idleFor(now) }

// Config holds the manager settings.
type Config struct {
	// IdleTimeout is how long a loaded handle may sit unused before the
	// poller offloads it. Defaults to 15 minutes.
	IdleTimeout time.Duration

	// PollInterval is how often idle times are checked. Eviction is
	// approximate, bounded by this interval. Defaults to 1 minute.
	PollInterval time.Duration
}

// Manager owns the embedder, generator and vector-store handles and runs
// the idle-offload loop. It is injected explicitly into components that
// need the resources.
type Manager struct {
	// Embedder is the embedding client handle.
	Embedder *Handle[rag.Embedder]

	// Generator is the generation client handle.
	Generator *Handle[rag.Generator]

	// Store is the vector-store connection handle.
	Store *Handle[rag.VectorStore]

	cfg     *Config
	log     *slog.Logger
	stop    chan struct{}
	done    chan struct{}
	started bool
}

// NewManager wires the three resource handles into a manager.
func NewManager(embedder *Handle[rag.Embedder], generator *Handle[rag.Generator], store *Handle[rag.VectorStore], cfg *Config, log *slog.Logger) *Manager {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		Embedder:  embedder,
		Generator: generator,
		Store:     store,
		cfg:       cfg,
		log:       log.With(slog.String("component", "lifecycle")),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background idle poller. It returns immediately;
// Close stops the poller and offloads everything.
func (m *Manager) Start(ctx context.Context) {
	m.started = true
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweep(time.Now())
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweep offloads every handle whose idle time exceeds the threshold.
func (m *Manager) sweep(now time.Time) {
	for _, h := range m.handles() {
		if idle, ok := h.idle(now); ok && idle >= m.cfg.IdleTimeout {
			h.Offload()
		}
	}
}

func (m *Manager) handles() []offloader {
	return []offloader{m.Embedder, m.Generator, m.Store}
}

// Close stops the poller and offloads all handles.
func (m *Manager) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
	if m.started {
		<-m.done
	}
	for _, h := range m.handles() {
		h.Offload()
	}
}

// LazyEmbedder adapts the manager's embedder handle to rag.Embedder so
// vector stores can embed without owning the client. Each call borrows the
// handle for its duration.
type LazyEmbedder struct {
	handle *Handle[rag.Embedder]
}

// NewLazyEmbedder wraps an embedder handle.
func NewLazyEmbedder(handle *Handle[rag.Embedder]) *LazyEmbedder {
	return &LazyEmbedder{handle: handle}
}

// Embed loads the embedding client on demand and forwards the call.
func (l *LazyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embedder, err := l.handle.Acquire()
	if err != nil {
		return nil, err
	}
	defer l.handle.Release()
	return embedder.Embed(ctx, texts)
}

// LazyGenerator adapts the manager's generator handle to rag.Generator and
// rag.TokenCounter. Each call borrows the handle for its duration, so an
// idle-offloaded model is reconstructed transparently on the next request.
type LazyGenerator struct {
	handle *Handle[rag.Generator]
}

// NewLazyGenerator wraps a generator handle.
func NewLazyGenerator(handle *Handle[rag.Generator]) *LazyGenerator {
	return &LazyGenerator{handle: handle}
}

// Generate loads the generation client on demand and forwards the call.
func (l *LazyGenerator) Generate(ctx context.Context, prompt string, stop []string) (string, error) {
	gen, err := l.handle.Acquire()
	if err != nil {
		return "", err
	}
	defer l.handle.Release()
	return gen.Generate(ctx, prompt, stop)
}

// CountTokens forwards to the loaded client. Token counting is a local
// heuristic on every implementation, so a load error falls back to zero
// rather than failing the budget pass.
func (l *LazyGenerator) CountTokens(text string) int {
	gen, err := l.handle.Acquire()
	if err != nil {
		return 0
	}
	defer l.handle.Release()
	return gen.CountTokens(text)
}

// LazyStore adapts the manager's vector-store handle to rag.VectorStore.
// Each call borrows the handle for its duration.
type LazyStore struct {
	handle *Handle[rag.VectorStore]
}

// NewLazyStore wraps a vector-store handle.
func NewLazyStore(handle *Handle[rag.VectorStore]) *LazyStore {
	return &LazyStore{handle: handle}
}

func (l *LazyStore) EnsureCollection(ctx context.Context, tenant string) (string, error) {
	store, err := l.handle.Acquire()
	if err != nil {
		return "", err
	}
	defer l.handle.Release()
	return store.EnsureCollection(ctx, tenant)
}

func (l *LazyStore) GetByMetadata(ctx context.Context, tenant, key string, values []string) (map[string]rag.MetadataHit, error) {
	store, err := l.handle.Acquire()
	if err != nil {
		return nil, err
	}
	defer l.handle.Release()
	return store.GetByMetadata(ctx, tenant, key, values)
}

func (l *LazyStore) DeleteByIDs(ctx context.Context, tenant string, ids []string) error {
	store, err := l.handle.Acquire()
	if err != nil {
		return err
	}
	defer l.handle.Release()
	return store.DeleteByIDs(ctx, tenant, ids)
}

func (l *LazyStore) DeleteByMetadata(ctx context.Context, tenant, key string, values []string) error {
	store, err := l.handle.Acquire()
	if err != nil {
		return err
	}
	defer l.handle.Release()
	return store.DeleteByMetadata(ctx, tenant, key, values)
}

func (l *LazyStore) AddChunks(ctx context.Context, tenant string, chunks []rag.Chunk) ([]string, error) {
	store, err := l.handle.Acquire()
	if err != nil {
		return nil, err
	}
	defer l.handle.Release()
	return store.AddChunks(ctx, tenant, chunks)
}

func (l *LazyStore) Search(ctx context.Context, tenant, query string, k int, filters []rag.MetadataFilter) ([]rag.SearchHit, error) {
	store, err := l.handle.Acquire()
	if err != nil {
		return nil, err
	}
	defer l.handle.Release()
	return store.Search(ctx, tenant, query, k, filters)
}

// Close offloads the handle; the manager reconstructs on next use.
func (l *LazyStore) Close() error {
	l.handle.Offload()
	return nil
}

var _ rag.Generator = (*LazyGenerator)(nil)
var _ rag.VectorStore = (*LazyStore)(nil)
