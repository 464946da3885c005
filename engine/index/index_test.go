package index

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/MediqAI/mediq-mvp/engine/corpus"
	"github.com/MediqAI/mediq-mvp/engine/domain"
)

// countingEmbedder returns deterministic unit vectors and counts texts
// embedded, so reuse-versus-rebuild is observable.
type countingEmbedder struct {
	embedded atomic.Int64
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.embedded.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, text := range texts {
		switch len(text) % 3 {
		case 0:
			out[i] = []float32{1, 0, 0}
		case 1:
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func writeCorpus(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	docs := map[string]string{
		"aspirin.txt": "Aspirin is used to reduce fever and relieve mild pain in adults.",
		"insulin.txt": "Insulin regulates blood glucose levels in diabetic patients daily.",
	}
	var sources []string
	for name, content := range docs {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		sources = append(sources, path)
	}
	return sources
}

func testConfig() Config {
	return Config{MaxChars: 500, MinChars: 50, EmbedModel: "test-embed"}
}

func newTestManager(t *testing.T, dir string, sources []string, cfg Config, embedder *countingEmbedder) *Manager {
	t.Helper()
	return NewManager(dir, sources, cfg, corpus.TextLoader{}, corpus.NewSemanticSplitter(), embedder, nil)
}

func TestFingerprintOrderInvariant(t *testing.T) {
	sources := writeCorpus(t)

	a, err := Fingerprint(sources, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Fingerprint([]string{sources[1], sources[0]}, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatal("fingerprint should not depend on source order")
	}
}

func TestFingerprintContentSensitive(t *testing.T) {
	sources := writeCorpus(t)

	before, _ := Fingerprint(sources, testConfig())
	if err := os.WriteFile(sources[0], []byte("changed content"), 0o644); err != nil {
		t.Fatal(err)
	}
	after, _ := Fingerprint(sources, testConfig())
	if before == after {
		t.Fatal("fingerprint should change with source bytes")
	}
}

func TestFingerprintConfigSensitive(t *testing.T) {
	sources := writeCorpus(t)

	base, _ := Fingerprint(sources, testConfig())
	cfg := testConfig()
	cfg.EmbedModel = "other-model"
	changed, _ := Fingerprint(sources, cfg)
	if base == changed {
		t.Fatal("fingerprint should change with embedding model")
	}
}

func TestFingerprintMissingSource(t *testing.T) {
	if _, err := Fingerprint([]string{"/does/not/exist.txt"}, testConfig()); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestBuildOrLoadReusesMatchingIndex(t *testing.T) {
	sources := writeCorpus(t)
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	builder := &countingEmbedder{}
	handle, err := newTestManager(t, dir, sources, testConfig(), builder).BuildOrLoad(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()
	if builder.embedded.Load() == 0 {
		t.Fatal("first build must embed the corpus")
	}
	chunkCount := handle.Dense.Count()

	// Second run with an unchanged corpus must load, never re-embed.
	loader := &countingEmbedder{}
	reloaded, err := newTestManager(t, dir, sources, testConfig(), loader).BuildOrLoad(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer reloaded.Close()
	if loader.embedded.Load() != 0 {
		t.Fatalf("reuse path embedded %d texts", loader.embedded.Load())
	}
	if reloaded.Dense.Count() != chunkCount || reloaded.Sparse.Count() != chunkCount {
		t.Fatal("loaded index diverges from built index")
	}
	if reloaded.Manifest.Fingerprint != handle.Manifest.Fingerprint {
		t.Fatal("manifest fingerprint lost on reload")
	}
}

func TestBuildOrLoadRebuildsOnConfigChange(t *testing.T) {
	sources := writeCorpus(t)
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	first, err := newTestManager(t, dir, sources, testConfig(), &countingEmbedder{}).BuildOrLoad(ctx)
	if err != nil {
		t.Fatal(err)
	}
	first.Close()

	cfg := testConfig()
	cfg.EmbedModel = "other-model"
	rebuilder := &countingEmbedder{}
	second, err := newTestManager(t, dir, sources, cfg, rebuilder).BuildOrLoad(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	if rebuilder.embedded.Load() == 0 {
		t.Fatal("config change must trigger a rebuild")
	}
}

func TestBuildCleansStaging(t *testing.T) {
	sources := writeCorpus(t)
	dir := filepath.Join(t.TempDir(), "index")

	handle, err := newTestManager(t, dir, sources, testConfig(), &countingEmbedder{}).BuildOrLoad(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()

	if _, err := os.Stat(dir + ".staging"); !os.IsNotExist(err) {
		t.Fatal("staging directory left behind after swap")
	}
	for _, name := range []string{vecFile, chunksFile, sparseFile, manifestFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("artifact %s missing after build: %v", name, err)
		}
	}
}

func TestLoadWithoutManifest(t *testing.T) {
	m := newTestManager(t, t.TempDir(), nil, testConfig(), &countingEmbedder{})

	_, err := m.Load(context.Background())
	if !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
}

func TestLoadRejectsCorruptVectorFile(t *testing.T) {
	sources := writeCorpus(t)
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	handle, err := newTestManager(t, dir, sources, testConfig(), &countingEmbedder{}).BuildOrLoad(ctx)
	if err != nil {
		t.Fatal(err)
	}
	handle.Close()

	if err := os.WriteFile(filepath.Join(dir, vecFile), []byte("garbage bytes here"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = newTestManager(t, dir, sources, testConfig(), &countingEmbedder{}).Load(ctx)
	if !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
}

func TestLoadRejectsChunkCountMismatch(t *testing.T) {
	sources := writeCorpus(t)
	dir := filepath.Join(t.TempDir(), "index")
	ctx := context.Background()

	handle, err := newTestManager(t, dir, sources, testConfig(), &countingEmbedder{}).BuildOrLoad(ctx)
	if err != nil {
		t.Fatal(err)
	}
	handle.Close()

	manifest := handle.Manifest
	manifest.ChunkCount++
	raw, _ := json.Marshal(manifest)
	if err := os.WriteFile(filepath.Join(dir, manifestFile), raw, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = newTestManager(t, dir, sources, testConfig(), &countingEmbedder{}).Load(ctx)
	if !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
}
