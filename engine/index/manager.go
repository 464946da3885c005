package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MediqAI/mediq-mvp/engine/corpus"
	"github.com/MediqAI/mediq-mvp/engine/dense"
	"github.com/MediqAI/mediq-mvp/engine/domain"
	"github.com/MediqAI/mediq-mvp/engine/sparse"
	"github.com/MediqAI/mediq-mvp/pkg/fn"
)

// Embedding batch shape for full corpus builds.
const (
	embedBatchSize = 64
	embedWorkers   = 4
)

// Artifact file names inside the index directory. The four files form one
// unit: they are staged together and swapped into place atomically.
const (
	vecFile      = "dense.vec"
	chunksFile   = "chunks.json"
	sparseFile   = "sparse.db"
	manifestFile = "index_meta.json"
)

// Manifest is the persisted metadata record for an index generation.
type Manifest struct {
	Fingerprint string    `json:"fingerprint"`
	Sources     []string  `json:"sources"`
	Config      Config    `json:"config"`
	ChunkCount  int       `json:"chunk_count"`
	BuiltAt     time.Time `json:"built_at"`
}

// Handle bundles the sealed, queryable indices of one generation. Read-only
// after construction and safe to share across concurrent requests.
type Handle struct {
	Dense    *dense.Index
	Sparse   *sparse.Store
	Manifest Manifest
}

// Close releases the sparse store's database handle.
func (h *Handle) Close() error { return h.Sparse.Close() }

// Manager decides between loading persisted indices and rebuilding them.
type Manager struct {
	dir      string
	sources  []string
	cfg      Config
	loader   corpus.Loader
	splitter corpus.Splitter
	embedder dense.Embedder
	logger   *slog.Logger
}

// NewManager creates an index manager rooted at dir.
func NewManager(dir string, sources []string, cfg Config, loader corpus.Loader, splitter corpus.Splitter, embedder dense.Embedder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		dir:      dir,
		sources:  sources,
		cfg:      cfg,
		loader:   loader,
		splitter: splitter,
		embedder: embedder,
		logger:   logger,
	}
}

// BuildOrLoad reuses the persisted index when its stored fingerprint matches
// the current sources and config, performing zero embedding calls; otherwise
// it rebuilds from scratch. Loading verifies internal consistency and fails
// with ErrIndexCorrupt rather than returning a partial index.
func (m *Manager) BuildOrLoad(ctx context.Context) (*Handle, error) {
	fp, err := Fingerprint(m.sources, m.cfg)
	if err != nil {
		return nil, err
	}

	if manifest, ok := m.readManifest(); ok && manifest.Fingerprint == fp {
		handle, err := m.load(ctx, manifest)
		if err != nil {
			return nil, err
		}
		m.logger.Info("index loaded", "chunks", handle.Dense.Count(), "fingerprint", fp[:12])
		return handle, nil
	}

	m.logger.Info("index fingerprint changed, rebuilding", "fingerprint", fp[:12])
	return m.Build(ctx, fp)
}

// Load opens the persisted index without considering a rebuild.
func (m *Manager) Load(ctx context.Context) (*Handle, error) {
	manifest, ok := m.readManifest()
	if !ok {
		return nil, &domain.IndexError{Artifact: "manifest missing"}
	}
	return m.load(ctx, manifest)
}

func (m *Manager) load(ctx context.Context, manifest Manifest) (*Handle, error) {
	denseIdx, err := dense.Load(filepath.Join(m.dir, vecFile), filepath.Join(m.dir, chunksFile))
	if err != nil {
		return nil, err
	}
	sparseIdx, err := sparse.Open(ctx, filepath.Join(m.dir, sparseFile))
	if err != nil {
		return nil, err
	}

	if denseIdx.Count() != manifest.ChunkCount || sparseIdx.Count() != manifest.ChunkCount {
		sparseIdx.Close()
		return nil, &domain.IndexError{
			Artifact: fmt.Sprintf("chunk counts diverge (dense=%d sparse=%d manifest=%d)",
				denseIdx.Count(), sparseIdx.Count(), manifest.ChunkCount),
		}
	}
	return &Handle{Dense: denseIdx, Sparse: sparseIdx, Manifest: manifest}, nil
}

// Build embeds the whole corpus and writes a new index generation. All four
// artifacts are staged in a scratch directory and swapped in with a rename,
// so a crash mid-build never leaves files a later load would accept.
func (m *Manager) Build(ctx context.Context, fingerprint string) (*Handle, error) {
	start := time.Now()

	var pages []corpus.Page
	for _, src := range m.sources {
		p, err := m.loader.Load(src)
		if err != nil {
			return nil, err
		}
		pages = append(pages, p...)
	}

	chunks := m.splitter.Split(pages)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("index: %w: corpus produced no chunks", domain.ErrConfiguration)
	}
	m.logger.Info("corpus chunked", "pages", len(pages), "chunks", len(chunks))

	texts := fn.Map(chunks, func(c domain.Chunk) string { return c.Content })
	batches := fn.ParMapResult(fn.Chunk(texts, embedBatchSize), embedWorkers,
		func(batch []string) fn.Result[[][]float32] {
			return fn.FromPair(m.embedder.Embed(ctx, batch))
		})
	embedded, err := fn.Collect(batches).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("index: embed corpus: %w", err)
	}
	vectors := fn.FlatMap(embedded, func(vs [][]float32) [][]float32 { return vs })

	denseIdx, err := dense.New(vectors, chunks)
	if err != nil {
		return nil, err
	}

	staging := m.dir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("index: clear staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("index: create staging: %w", err)
	}

	if err := denseIdx.Save(filepath.Join(staging, vecFile), filepath.Join(staging, chunksFile)); err != nil {
		return nil, err
	}

	sparseIdx, err := sparse.Build(ctx, filepath.Join(staging, sparseFile), chunks)
	if err != nil {
		return nil, err
	}
	// The handle points into staging; reopen from the final path after swap.
	if err := sparseIdx.Close(); err != nil {
		return nil, fmt.Errorf("index: close staged sparse index: %w", err)
	}

	manifest := Manifest{
		Fingerprint: fingerprint,
		Sources:     m.sources,
		Config:      m.cfg,
		ChunkCount:  len(chunks),
		BuiltAt:     time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("index: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, manifestFile), raw, 0o644); err != nil {
		return nil, fmt.Errorf("index: write manifest: %w", err)
	}

	if err := m.swap(staging); err != nil {
		return nil, err
	}

	reopened, err := sparse.Open(ctx, filepath.Join(m.dir, sparseFile))
	if err != nil {
		return nil, err
	}

	m.logger.Info("index built", "chunks", len(chunks),
		"fingerprint", fingerprint[:12], "took", time.Since(start).Round(time.Millisecond))
	return &Handle{Dense: denseIdx, Sparse: reopened, Manifest: manifest}, nil
}

// swap replaces the live index directory with the staged one.
func (m *Manager) swap(staging string) error {
	old := m.dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("index: clear old generation: %w", err)
	}
	if _, err := os.Stat(m.dir); err == nil {
		if err := os.Rename(m.dir, old); err != nil {
			return fmt.Errorf("index: retire current generation: %w", err)
		}
	}
	if err := os.Rename(staging, m.dir); err != nil {
		return fmt.Errorf("index: promote staging: %w", err)
	}
	os.RemoveAll(old)
	return nil
}

// readManifest reads the persisted manifest; ok is false when missing or
// unreadable (both mean "treat as no index").
func (m *Manager) readManifest() (Manifest, bool) {
	raw, err := os.ReadFile(filepath.Join(m.dir, manifestFile))
	if err != nil {
		return Manifest{}, false
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return Manifest{}, false
	}
	return manifest, true
}
