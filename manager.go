package docdex

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ragkit/docdex/codec"
	"github.com/ragkit/docdex/docstore"
	"github.com/ragkit/docdex/hnsw"
	"github.com/ragkit/docdex/metric"
	"github.com/ragkit/docdex/snapshot"
)

// Document is a stored item. The Node field is managed by the Manager and
// can be left zero by callers.
type Document = docstore.Document

// SearchResult is a single search hit with its distance to the query.
type SearchResult struct {
	Document *Document
	Distance float32
}

// BatchItem pairs a document with its embedding for BatchInsert.
type BatchItem struct {
	Document *Document
	Vector   []float32
}

// BatchError records why one item of a batch was rejected.
type BatchError struct {
	Index int
	ID    string
	Err   error
}

// BatchResult summarizes a BatchInsert. Items fail independently; the batch
// as a whole does not roll back.
type BatchResult struct {
	Inserted int
	Failed   int
	Errors   []BatchError
}

// Config holds the construction parameters of a Manager. Zero fields are
// filled from DefaultConfig.
type Config struct {
	// Dimension of all vectors. Required.
	Dimension int

	// M is the HNSW connectivity parameter.
	M int

	// EFConstruction is the candidate list size while inserting.
	EFConstruction int

	// EFSearch is the candidate list size while searching.
	EFSearch int

	// Heuristic enables the neighbour-selection heuristic.
	Heuristic bool

	// Distance names the distance function, see the metric package.
	Distance string

	// IndexPath is where Save writes the snapshot pair. When the path
	// already holds a snapshot, New loads it.
	IndexPath string

	// AutoSave periodically persists dirty state to IndexPath.
	AutoSave bool

	// AutoSaveInterval is the autosave period.
	AutoSaveInterval time.Duration

	// BatchSize controls progress logging granularity in BatchInsert.
	BatchSize int
}

// DefaultConfig returns the recommended configuration for a dimension.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:        dimension,
		M:                16,
		EFConstruction:   200,
		EFSearch:         50,
		Heuristic:        true,
		Distance:         metric.NameSquaredL2,
		AutoSaveInterval: 5 * time.Minute,
		BatchSize:        100,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.Dimension)
	if c.M == 0 {
		c.M = def.M
	}
	if c.EFConstruction == 0 {
		c.EFConstruction = def.EFConstruction
	}
	if c.EFSearch == 0 {
		c.EFSearch = def.EFSearch
	}
	if c.Distance == "" {
		c.Distance = def.Distance
	}
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = def.AutoSaveInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
}

// Stats is a point-in-time view of a Manager.
type Stats struct {
	TotalDocuments int
	TotalVectors   int
	Tombstones     int
	IndexSizeBytes int64
	Dirty          bool
	CreatedAt      time.Time
	LastSaveAt     time.Time
}

// Manager owns a vector index and its document store and keeps the pair
// durable. Every operation takes the manager's single exclusive lock for its
// whole duration; the lock is never held across calls, so any interleaving
// of concurrent operations is safe and each operation observes a consistent
// state.
type Manager struct {
	mu sync.Mutex

	cfg      Config
	distance metric.DistanceFunc

	index *hnsw.Index
	docs  *docstore.Store
	ctrl  *snapshot.Controller

	logger      *Logger
	metrics     MetricsCollector
	uploadLimit *rate.Limiter

	createdAt      time.Time
	lastSaveAt     time.Time
	indexSizeBytes int64
	dirty          bool
	closed         bool

	autosaveStop chan struct{}
	autosaveDone chan struct{}
}

// New creates a Manager. When cfg.IndexPath points at an existing snapshot,
// the snapshot is loaded and its parameters replace the configured ones.
func New(ctx context.Context, cfg Config, optFns ...Option) (*Manager, error) {
	cfg.applyDefaults()

	if cfg.Dimension <= 0 {
		return nil, &InvalidConfigError{Field: "Dimension", Reason: "must be positive"}
	}

	distance, ok := metric.ByName(cfg.Distance)
	if !ok {
		return nil, &InvalidConfigError{Field: "Distance", Reason: fmt.Sprintf("unknown distance %q", cfg.Distance)}
	}

	opts := options{
		codec:       codec.Default,
		logger:      NoopLogger(),
		metrics:     NoopMetricsCollector{},
		compression: snapshot.CompressionZstd,
		fs:          snapshot.OSFS{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	m := &Manager{
		cfg:      cfg,
		distance: distance,
		docs:     docstore.New(),
		ctrl: snapshot.NewController(func(o *snapshot.Options) {
			o.FS = opts.fs
			o.Codec = opts.codec
			o.Compression = opts.compression
		}),
		logger:      opts.logger,
		metrics:     opts.metrics,
		uploadLimit: opts.uploadLimit,
		createdAt:   time.Now(),
	}
	m.index = m.newIndex()

	if cfg.IndexPath != "" && m.ctrl.Exists(cfg.IndexPath) {
		if err := m.loadLocked(ctx, cfg.IndexPath); err != nil {
			return nil, translateError(err)
		}
		m.logger.WithPath(cfg.IndexPath).Info("snapshot loaded",
			"documents", m.docs.Len())
	}

	if cfg.AutoSave && cfg.IndexPath != "" {
		m.startAutosave()
	}

	return m, nil
}

func (m *Manager) newIndex() *hnsw.Index {
	return hnsw.New(m.cfg.Dimension, func(o *hnsw.Options) {
		o.M = m.cfg.M
		o.EFConstruction = m.cfg.EFConstruction
		o.EFSearch = m.cfg.EFSearch
		o.Heuristic = m.cfg.Heuristic
		o.Distance = m.distance
	})
}

// InsertDocument adds a document with its embedding. Inserting an id that
// already exists replaces the previous document and vector.
func (m *Manager) InsertDocument(ctx context.Context, doc *Document, vector []float32) error {
	start := time.Now()

	err := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}
		return m.insertLocked(doc, vector)
	}()

	m.metrics.RecordInsert(time.Since(start), err)
	return translateError(err)
}

// UpdateDocument replaces an existing document and its embedding. Unlike
// InsertDocument it fails when the id is unknown.
func (m *Manager) UpdateDocument(ctx context.Context, doc *Document, vector []float32) error {
	start := time.Now()

	err := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}
		if doc == nil || doc.ID == "" {
			return fmt.Errorf("%w: document id must not be empty", ErrInvalidArgument)
		}
		if !m.docs.Has(doc.ID) {
			return &docstore.NotFoundError{ID: doc.ID}
		}
		return m.insertLocked(doc, vector)
	}()

	m.metrics.RecordInsert(time.Since(start), err)
	return translateError(err)
}

func (m *Manager) insertLocked(doc *Document, vector []float32) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document id must not be empty", ErrInvalidArgument)
	}

	node, err := m.index.Insert(vector)
	if err != nil {
		return err
	}

	stored := &docstore.Document{
		ID:       doc.ID,
		Text:     doc.Text,
		Metadata: maps.Clone(doc.Metadata),
		Node:     node,
	}

	if prev, existed := m.docs.Set(stored); existed {
		// The replaced vector becomes a tombstone.
		if err := m.index.Delete(prev.Node); err != nil {
			m.logger.WithDocID(doc.ID).Warn("stale node already gone", "node", prev.Node)
		}
	}

	m.dirty = true
	return nil
}

// BatchInsert adds many documents under a single lock acquisition. Items
// fail independently; the result reports each rejected item.
func (m *Manager) BatchInsert(ctx context.Context, items []BatchItem) (*BatchResult, error) {
	start := time.Now()
	result := &BatchResult{}

	err := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}

		for i, item := range items {
			var id string
			if item.Document != nil {
				id = item.Document.ID
			}

			if err := m.insertLocked(item.Document, item.Vector); err != nil {
				result.Failed++
				result.Errors = append(result.Errors, BatchError{Index: i, ID: id, Err: translateError(err)})
				continue
			}
			result.Inserted++

			if result.Inserted%m.cfg.BatchSize == 0 {
				m.logger.Debug("batch insert progress",
					"inserted", result.Inserted, "total", len(items))
			}
		}
		return nil
	}()

	m.metrics.RecordBatchInsert(len(items), result.Failed, time.Since(start))
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

// Search returns the k nearest documents to the query vector, ascending by
// distance. Fewer than k results are returned when the index holds fewer
// documents.
func (m *Manager) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	start := time.Now()

	results, err := func() ([]SearchResult, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return nil, ErrClosed
		}
		if k <= 0 {
			return nil, ErrInvalidK
		}

		hits, err := m.index.Search(vector, k, 0)
		if err != nil {
			return nil, err
		}

		results := make([]SearchResult, 0, len(hits))
		for _, hit := range hits {
			doc, ok := m.docs.ByNode(hit.ID)
			if !ok {
				// Live node without a document would mean a broken
				// binding invariant.
				return nil, fmt.Errorf("node %d has no document", hit.ID)
			}
			results = append(results, SearchResult{Document: doc, Distance: hit.Distance})
		}
		return results, nil
	}()

	m.metrics.RecordSearch(k, time.Since(start), err)
	if err != nil {
		return nil, translateError(err)
	}
	return results, nil
}

// DeleteDocument removes a document and tombstones its vector.
func (m *Manager) DeleteDocument(ctx context.Context, id string) error {
	start := time.Now()

	err := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}

		doc, err := m.docs.Delete(id)
		if err != nil {
			return err
		}
		if err := m.index.Delete(doc.Node); err != nil {
			m.logger.WithDocID(id).Warn("node already gone", "node", doc.Node)
		}

		m.dirty = true
		return nil
	}()

	m.metrics.RecordDelete(time.Since(start), err)
	return translateError(err)
}

// GetDocument returns the document for an id.
func (m *Manager) GetDocument(id string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	doc, err := m.docs.Get(id)
	return doc, translateError(err)
}

// HasDocument reports whether a document exists.
func (m *Manager) HasDocument(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && m.docs.Has(id)
}

// Count returns the number of documents.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs.Len()
}

// Save persists the current state to the configured index path. On error
// the previous snapshot pair on disk, if any, is untouched.
func (m *Manager) Save(ctx context.Context) error {
	start := time.Now()

	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}
		return m.saveLocked(ctx, m.cfg.IndexPath)
	}()

	m.metrics.RecordSave(time.Since(start), err)
	return translateError(err)
}

// saveLocked persists to path and, only on success, adopts it as the
// configured index path. A failed save changes neither the path nor the
// files already on disk.
func (m *Manager) saveLocked(ctx context.Context, path string) error {
	size, err := m.writeSnapshotLocked(ctx, path)
	if err != nil {
		return err
	}

	m.cfg.IndexPath = path
	m.indexSizeBytes = size
	m.lastSaveAt = time.Now()
	m.dirty = false

	m.logger.WithPath(path).Info("snapshot saved",
		"documents", m.docs.Len(), "bytes", size)
	return nil
}

// SaveAs writes a snapshot pair to a different path. On success the path
// becomes the configured index path; on error both the configured path and
// the files at it are unchanged.
func (m *Manager) SaveAs(ctx context.Context, path string) error {
	start := time.Now()

	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}
		return m.saveLocked(ctx, path)
	}()

	m.metrics.RecordSave(time.Since(start), err)
	return translateError(err)
}

func (m *Manager) writeSnapshotLocked(ctx context.Context, path string) (int64, error) {
	if path == "" {
		return 0, ErrNoIndexPath
	}

	return m.ctrl.Write(ctx, path,
		uint32(m.cfg.Dimension), uint64(m.index.Len()),
		m.index.Encode, m.sidecarLocked())
}

func (m *Manager) sidecarLocked() *snapshot.Sidecar {
	opts := m.index.Options()

	return &snapshot.Sidecar{
		FormatVersion: snapshot.FormatVersion,
		Dimension:     m.cfg.Dimension,
		Params: snapshot.Params{
			M:              opts.M,
			EFConstruction: opts.EFConstruction,
			EFSearch:       opts.EFSearch,
			Heuristic:      opts.Heuristic,
			Distance:       m.cfg.Distance,
		},
		Stats: snapshot.Stats{
			TotalDocuments: m.docs.Len(),
			TotalVectors:   m.index.Len(),
			IndexSizeBytes: m.indexSizeBytes,
			CreatedAt:      m.createdAt,
			UpdatedAt:      time.Now(),
		},
		Documents: m.docs.All(),
	}
}

// Load restores the state from the configured index path, replacing the
// in-memory state. On any error the in-memory state is unchanged.
func (m *Manager) Load(ctx context.Context) error {
	start := time.Now()

	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}
		return m.loadLocked(ctx, m.cfg.IndexPath)
	}()

	m.metrics.RecordLoad(time.Since(start), err)
	return translateError(err)
}

// LoadFrom restores the state from a snapshot at a different path. On
// success the path becomes the configured index path; on error both the
// in-memory state and the configured path are unchanged.
func (m *Manager) LoadFrom(ctx context.Context, path string) error {
	start := time.Now()

	err := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return ErrClosed
		}
		if err := m.loadLocked(ctx, path); err != nil {
			return err
		}

		m.cfg.IndexPath = path
		return nil
	}()

	m.metrics.RecordLoad(time.Since(start), err)
	return translateError(err)
}

// loadLocked builds the new state completely before swapping it in, so a
// failure at any step leaves the manager untouched.
func (m *Manager) loadLocked(ctx context.Context, path string) error {
	if path == "" {
		return ErrNoIndexPath
	}

	snap, err := m.ctrl.Read(ctx, path)
	if err != nil {
		return err
	}

	distance, ok := metric.ByName(snap.Sidecar.Params.Distance)
	if !ok {
		return fmt.Errorf("%w: unknown distance %q", ErrCorrupt, snap.Sidecar.Params.Distance)
	}

	idx, err := hnsw.Decode(bytes.NewReader(snap.Payload), func(o *hnsw.Options) {
		o.Distance = distance
		o.EFSearch = snap.Sidecar.Params.EFSearch
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if idx.Dimension() != int(snap.Header.Dimension) {
		return fmt.Errorf("%w: graph dimension %d disagrees with header %d",
			ErrCorrupt, idx.Dimension(), snap.Header.Dimension)
	}
	if idx.Len() != len(snap.Sidecar.Documents) {
		return fmt.Errorf("%w: graph has %d live vectors for %d documents",
			ErrCorrupt, idx.Len(), len(snap.Sidecar.Documents))
	}
	for _, doc := range snap.Sidecar.Documents {
		if _, ok := idx.Vector(doc.Node); !ok {
			return fmt.Errorf("%w: document %q bound to missing node %d",
				ErrCorrupt, doc.ID, doc.Node)
		}
	}

	// All validated; swap in.
	m.index = idx
	m.docs.Replace(snap.Sidecar.Documents)
	m.distance = distance

	params := snap.Sidecar.Params
	m.cfg.Dimension = idx.Dimension()
	m.cfg.M = params.M
	m.cfg.EFConstruction = params.EFConstruction
	m.cfg.EFSearch = params.EFSearch
	m.cfg.Heuristic = params.Heuristic
	m.cfg.Distance = params.Distance

	m.createdAt = snap.Sidecar.Stats.CreatedAt
	m.lastSaveAt = snap.Sidecar.Stats.UpdatedAt
	m.indexSizeBytes = snap.Sidecar.Stats.IndexSizeBytes
	m.dirty = false

	return nil
}

// Clear removes all documents and vectors. The cleared state is in-memory
// only until the next save.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.index = m.newIndex()
	m.docs.Clear()
	m.dirty = true

	m.logger.Info("index cleared")
	return nil
}

// Compact rebuilds the graph from live vectors, dropping tombstones. Node
// bindings are reassigned; external document ids are unaffected.
func (m *Manager) Compact(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	docs := m.docs.All()
	sort.Slice(docs, func(i, j int) bool { return docs[i].Node < docs[j].Node })

	fresh := m.newIndex()
	rebuilt := docstore.New()

	for _, doc := range docs {
		vec, ok := m.index.Vector(doc.Node)
		if !ok {
			return fmt.Errorf("document %q bound to missing node %d", doc.ID, doc.Node)
		}

		node, err := fresh.Insert(vec)
		if err != nil {
			return translateError(err)
		}

		rebuilt.Set(&docstore.Document{
			ID:       doc.ID,
			Text:     doc.Text,
			Metadata: doc.Metadata,
			Node:     node,
		})
	}

	dropped := m.index.TombstoneCount()
	m.index = fresh
	m.docs = rebuilt
	m.dirty = true

	m.logger.Info("index compacted", "documents", rebuilt.Len(), "tombstones_dropped", dropped)
	return nil
}

// SetEFSearch adjusts the search candidate list size.
func (m *Manager) SetEFSearch(ef int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if ef <= 0 {
		return fmt.Errorf("%w: ef must be positive", ErrInvalidArgument)
	}

	m.index.SetEFSearch(ef)
	m.cfg.EFSearch = ef
	m.dirty = true
	return nil
}

// SetIndexPath changes where Save persists. The files at the previous path
// are left in place.
func (m *Manager) SetIndexPath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	m.cfg.IndexPath = path
	return nil
}

// IndexPath returns the configured snapshot path.
func (m *Manager) IndexPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.IndexPath
}

// Stats returns a point-in-time view of the manager.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		TotalDocuments: m.docs.Len(),
		TotalVectors:   m.index.Len(),
		Tombstones:     m.index.TombstoneCount(),
		IndexSizeBytes: m.indexSizeBytes,
		Dirty:          m.dirty,
		CreatedAt:      m.createdAt,
		LastSaveAt:     m.lastSaveAt,
	}
}

// Close stops the autosave loop, persists dirty state when autosave is
// enabled, and rejects all further operations.
func (m *Manager) Close(ctx context.Context) error {
	m.stopAutosave()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.cfg.AutoSave && m.dirty && m.cfg.IndexPath != "" {
		if err := m.saveLocked(ctx, m.cfg.IndexPath); err != nil {
			return translateError(err)
		}
	}
	return nil
}

func (m *Manager) startAutosave() {
	m.autosaveStop = make(chan struct{})
	m.autosaveDone = make(chan struct{})

	stop, done := m.autosaveStop, m.autosaveDone
	go func() {
		defer close(done)

		ticker := time.NewTicker(m.cfg.AutoSaveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.autosaveTick()
			}
		}
	}()
}

func (m *Manager) autosaveTick() {
	start := time.Now()

	m.mu.Lock()
	if m.closed || !m.dirty {
		m.mu.Unlock()
		return
	}

	err := m.saveLocked(context.Background(), m.cfg.IndexPath)
	path := m.cfg.IndexPath
	m.mu.Unlock()

	m.metrics.RecordSave(time.Since(start), err)
	if err != nil {
		m.logger.WithPath(path).Error("autosave failed", "error", err)
	}
}

func (m *Manager) stopAutosave() {
	m.mu.Lock()
	stop, done := m.autosaveStop, m.autosaveDone
	m.autosaveStop = nil
	m.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}
