// Package index owns the per-category vector indexes: it builds a partition
// from the category documents on first use, reopens persisted partitions
// without re-embedding, and rebuilds on demand.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"rag/internal/domain"
	"rag/internal/embedding"
	"rag/internal/ingest"
	"rag/internal/logger"
	"rag/internal/metrics"
	"rag/internal/vectorstore"
)

const (
	defaultBatchSize = 64
	lockFileName     = ".lock"
	lockRetryDelay   = 100 * time.Millisecond
)

// Source loads the documents of a category.
type Source interface {
	Load(ctx context.Context, c domain.Category) (*ingest.Result, error)
}

// Options configures a Manager.
type Options struct {
	// IndexDir holds one directory per category for lock files and local stores.
	IndexDir  string
	Source    Source
	Chunker   domain.Chunker
	Embedder  domain.Embedder
	Stores    StoreFactory
	BatchSize int
	Metrics   *metrics.Metrics
}

// Stats describes an opened partition.
type Stats struct {
	Documents int
	Skipped   int
	Chunks    int
	// Built is true when the partition was (re)built by this process.
	Built    bool
	Duration time.Duration
}

// Handle is an opened, complete partition. Store is the store as opened;
// searches go through Search, which follows later rebuilds.
type Handle struct {
	Category domain.Category
	Store    vectorstore.Storage
	Stats    Stats

	owner *Manager
}

// Search runs a similarity search against the current partition of the
// category. It waits for a rebuild in progress and then reads the new store.
func (h *Handle) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if h.owner == nil {
		return h.Store.Search(ctx, vector, k)
	}
	return h.owner.search(ctx, h.Category, vector, k)
}

// Report is the outcome of preparing one category in EnsureAll.
type Report struct {
	Category domain.Category
	Stats    Stats
	Err      error
}

// Manager builds and caches category partitions. It is the only writer of a
// partition. Different categories are handled in parallel. Within a category,
// builds hold a write lock that excludes searches, in-process by a RWMutex
// and across processes by a lock file.
type Manager struct {
	opts Options

	mu      sync.Mutex
	locks   map[domain.Category]*sync.RWMutex
	handles map[domain.Category]*Handle
}

// NewManager validates opts and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	switch {
	case opts.IndexDir == "":
		return nil, fmt.Errorf("%w: index directory is required", domain.ErrConfiguration)
	case opts.Source == nil:
		return nil, fmt.Errorf("%w: document source is required", domain.ErrConfiguration)
	case opts.Chunker == nil:
		return nil, fmt.Errorf("%w: chunker is required", domain.ErrConfiguration)
	case opts.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", domain.ErrConfiguration)
	}
	if opts.Stores == nil {
		opts.Stores = SQLiteStores(opts.IndexDir)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Manager{
		opts:    opts,
		locks:   make(map[domain.Category]*sync.RWMutex),
		handles: make(map[domain.Category]*Handle),
	}, nil
}

func (m *Manager) categoryLock(c domain.Category) *sync.RWMutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[c]
	if !ok {
		l = &sync.RWMutex{}
		m.locks[c] = l
	}
	return l
}

func (m *Manager) cached(c domain.Category) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[c]
}

func (m *Manager) setCached(c domain.Category, h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handles, c)
		return
	}
	m.handles[c] = h
}

// Ensure returns the partition of c, building it when it does not exist or
// was never completed. A complete partition is reopened without any write.
func (m *Manager) Ensure(ctx context.Context, c domain.Category) (*Handle, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownCategory, int(c))
	}
	lock := m.categoryLock(c)
	lock.RLock()
	h := m.cached(c)
	lock.RUnlock()
	if h != nil {
		return h, nil
	}
	lock.Lock()
	defer lock.Unlock()
	if h := m.cached(c); h != nil {
		return h, nil
	}
	return m.open(ctx, c, false)
}

// Rebuild drops the partition of c and builds it again from the documents.
// Searches on c wait until it is done.
func (m *Manager) Rebuild(ctx context.Context, c domain.Category) (*Handle, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownCategory, int(c))
	}
	lock := m.categoryLock(c)
	lock.Lock()
	defer lock.Unlock()
	if h := m.cached(c); h != nil {
		m.setCached(c, nil)
		if err := h.Store.Close(); err != nil {
			logger.FromContext(ctx).Warn("Failed to close index", "category", c.Key(), "error", err)
		}
	}
	return m.open(ctx, c, true)
}

func (m *Manager) search(ctx context.Context, c domain.Category, vector []float32, k int) ([]domain.SearchResult, error) {
	lock := m.categoryLock(c)
	lock.RLock()
	defer lock.RUnlock()
	h := m.cached(c)
	if h == nil {
		return nil, fmt.Errorf("%w: index of %s is not open", domain.ErrIndexUnavailable, c.Key())
	}
	return h.Store.Search(ctx, vector, k)
}

// EnsureAll prepares every category in parallel. Failures are reported per
// category and never abort the others.
func (m *Manager) EnsureAll(ctx context.Context) []Report {
	cats := domain.Categories()
	reports := make([]Report, len(cats))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range cats {
		g.Go(func() error {
			h, err := m.Ensure(gctx, c)
			reports[i] = Report{Category: c, Err: err}
			if h != nil {
				reports[i].Stats = h.Stats
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Close closes every cached partition once its searches are done.
func (m *Manager) Close() error {
	var errs []error
	for _, c := range domain.Categories() {
		lock := m.categoryLock(c)
		lock.Lock()
		if h := m.cached(c); h != nil {
			m.setCached(c, nil)
			if err := h.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", c.Key(), err))
			}
		}
		lock.Unlock()
	}
	return errors.Join(errs...)
}

// open must be called with the category lock held.
func (m *Manager) open(ctx context.Context, c domain.Category, force bool) (*Handle, error) {
	log := logger.FromContext(ctx).With("category", c.Key())
	dir := filepath.Join(m.opts.IndexDir, c.Key())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", domain.ErrIndexUnavailable, dir, err)
	}
	fl := flock.New(filepath.Join(dir, lockFileName))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		return nil, fmt.Errorf("%w: lock %s: %v", domain.ErrIndexUnavailable, dir, err)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			log.Warn("Failed to release index lock", "error", err)
		}
	}()

	store, err := m.opts.Stores(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: open store: %v", domain.ErrIndexUnavailable, err)
	}
	if !force {
		if h, ok := m.reuse(ctx, c, store); ok {
			log.Info("Opened existing index", "chunks", h.Stats.Chunks)
			m.opts.Metrics.SetIndexedChunks(c.Key(), h.Stats.Chunks)
			m.setCached(c, h)
			return h, nil
		}
	}

	if force {
		if err := store.Clear(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%w: clear: %v", domain.ErrIndexUnavailable, err)
		}
	}
	start := time.Now()
	stats, err := m.build(ctx, c, store)
	stats.Duration = time.Since(start)
	if err != nil {
		m.opts.Metrics.ObserveBuild(c.Key(), "error", stats.Duration, stats.Skipped)
		_ = store.Close()
		log.Warn("Index build failed", "error", err)
		return nil, err
	}
	m.opts.Metrics.ObserveBuild(c.Key(), "ok", stats.Duration, stats.Skipped)
	m.opts.Metrics.SetIndexedChunks(c.Key(), stats.Chunks)
	log.Info("Index built", "documents", stats.Documents, "chunks", stats.Chunks,
		"skipped", stats.Skipped, "duration", stats.Duration.Round(time.Millisecond))
	h := &Handle{Category: c, Store: store, Stats: stats, owner: m}
	m.setCached(c, h)
	return h, nil
}

// reuse reports whether store already holds a complete partition built by
// the current embedder, with vectors of the current size.
func (m *Manager) reuse(ctx context.Context, c domain.Category, store vectorstore.Storage) (*Handle, bool) {
	log := logger.FromContext(ctx).With("category", c.Key())
	ok, err := store.Persisted(ctx)
	if err != nil {
		log.Warn("Could not read index state, rebuilding", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	current := embedding.Identity(m.opts.Embedder)
	if rec, isRec := store.(vectorstore.EmbedderRecorder); isRec {
		name, err := rec.Embedder(ctx)
		if err != nil || name != current {
			log.Info("Index was built by another embedder, rebuilding", "built_by", name, "current", current)
			return nil, false
		}
	}
	if want := embedding.Dimension(m.opts.Embedder); want > 0 {
		if ds, isDim := store.(vectorstore.Dimensioned); isDim && ds.Dimension() != want {
			log.Info("Index has another vector size, rebuilding", "index_dimension", ds.Dimension(), "dimension", want)
			return nil, false
		}
	}
	n, err := store.Count(ctx)
	if err != nil || n == 0 {
		return nil, false
	}
	return &Handle{Category: c, Store: store, Stats: Stats{Chunks: n}, owner: m}, true
}

func (m *Manager) build(ctx context.Context, c domain.Category, store vectorstore.Storage) (Stats, error) {
	var stats Stats
	res, err := m.opts.Source.Load(ctx, c)
	if res != nil {
		stats.Skipped = len(res.Warnings)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrIndexUnavailable) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
		}
		return stats, err
	}
	stats.Documents = len(res.Documents)

	var chunks []domain.Chunk
	for _, doc := range res.Documents {
		chunks = append(chunks, m.opts.Chunker.Chunk(doc)...)
	}
	if len(chunks) == 0 {
		return stats, fmt.Errorf("%w: documents of %s produced no text", domain.ErrNoDocuments, c.Key())
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := embedding.EmbedBatched(ctx, m.opts.Embedder, texts, m.opts.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("%w: embed %s: %w", domain.ErrIndexUnavailable, c.Key(), err)
	}

	if err := store.Init(ctx, len(vectors[0])); err != nil {
		return stats, fmt.Errorf("%w: init store: %w", domain.ErrIndexUnavailable, err)
	}
	if rec, ok := store.(vectorstore.EmbedderRecorder); ok {
		if err := rec.SetEmbedder(ctx, embedding.Identity(m.opts.Embedder)); err != nil {
			return stats, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, err)
		}
	}
	for start := 0; start < len(chunks); start += m.opts.BatchSize {
		end := min(start+m.opts.BatchSize, len(chunks))
		if err := store.Upsert(ctx, chunks[start:end], vectors[start:end]); err != nil {
			return stats, fmt.Errorf("%w: write chunks: %w", domain.ErrIndexUnavailable, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if err := store.MarkPersisted(ctx); err != nil {
		return stats, fmt.Errorf("%w: mark persisted: %w", domain.ErrIndexUnavailable, err)
	}
	stats.Chunks = len(chunks)
	stats.Built = true
	return stats, nil
}
