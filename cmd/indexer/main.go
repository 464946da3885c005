// Package main implements the MediQ index builder. It rebuilds the corpus
// indices offline, optionally mirrors dense vectors to Qdrant, and announces
// the new generation over NATS so running API servers hot-swap it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/MediqAI/mediq-mvp/engine/corpus"
	"github.com/MediqAI/mediq-mvp/engine/dense"
	"github.com/MediqAI/mediq-mvp/engine/index"
	"github.com/MediqAI/mediq-mvp/pkg/llm"
	"github.com/MediqAI/mediq-mvp/pkg/natsutil"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	force := flag.Bool("force", false, "rebuild even when the fingerprint matches")
	flag.Parse()

	if err := run(*force, logger); err != nil {
		logger.Error("indexer failed", "err", err)
		os.Exit(1)
	}
}

func run(force bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ollamaURL := envOr("OLLAMA_URL", "http://localhost:11434")
	embedModel := envOr("EMBED_MODEL", "nomic-embed-text")
	indexDir := envOr("INDEX_DIR", "data/index")
	corpusDir := envOr("CORPUS_DIR", "data/corpus")
	qdrantURL := envOr("QDRANT_URL", "")
	collection := envOr("QDRANT_COLLECTION", "mediq")
	natsURL := envOr("NATS_URL", "")
	maxChars := envInt("CHUNK_MAX_CHARS", corpus.DefaultMaxChars)
	minChars := envInt("CHUNK_MIN_CHARS", corpus.DefaultMinChars)
	embedRPS := envFloat("EMBED_RPS", 0)

	sources, err := discoverSources(corpusDir)
	if err != nil {
		return err
	}
	logger.Info("corpus discovered", "sources", len(sources))

	model := llm.New(llm.Options{
		BaseURL:    ollamaURL,
		EmbedModel: embedModel,
		EmbedRPS:   embedRPS,
	})

	cfg := index.Config{MaxChars: maxChars, MinChars: minChars, EmbedModel: embedModel}
	manager := index.NewManager(indexDir, sources, cfg,
		corpus.TextLoader{}, &corpus.SemanticSplitter{MaxChars: maxChars, MinChars: minChars},
		model, logger)

	var handle *index.Handle
	if force {
		fp, err := index.Fingerprint(sources, cfg)
		if err != nil {
			return err
		}
		handle, err = manager.Build(ctx, fp)
		if err != nil {
			return err
		}
	} else {
		handle, err = manager.BuildOrLoad(ctx)
		if err != nil {
			return err
		}
	}
	defer handle.Close()

	if qdrantURL != "" {
		if err := mirrorToQdrant(ctx, qdrantURL, collection, handle, logger); err != nil {
			return err
		}
	}

	if natsURL != "" {
		nc, err := nats.Connect(natsURL, nats.Name("mediq-indexer"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		ev := index.RebuiltEvent{
			Fingerprint: handle.Manifest.Fingerprint,
			ChunkCount:  handle.Manifest.ChunkCount,
			BuiltAt:     handle.Manifest.BuiltAt,
		}
		if err := natsutil.Publish(ctx, nc, index.SubjectRebuilt, ev); err != nil {
			return fmt.Errorf("publish rebuilt event: %w", err)
		}
		nc.Flush()
		logger.Info("rebuilt event published", "subject", index.SubjectRebuilt)
	}

	logger.Info("indexer done",
		"chunks", handle.Manifest.ChunkCount,
		"fingerprint", handle.Manifest.Fingerprint[:12])
	return nil
}

// mirrorToQdrant recreates the collection from the freshly built index so a
// remote dense backend serves the same generation as the local artifacts.
// Vectors come straight from the index; nothing is re-embedded.
func mirrorToQdrant(ctx context.Context, addr, collection string, handle *index.Handle, logger *slog.Logger) error {
	store, err := dense.NewQdrantStore(addr, collection)
	if err != nil {
		return err
	}
	defer store.Close()

	chunks := handle.Dense.Chunks()
	vectors := make([][]float32, len(chunks))
	for i := range chunks {
		vectors[i] = handle.Dense.Vector(i)
	}

	if err := store.DeleteCollection(ctx); err != nil {
		logger.Warn("delete collection failed, continuing", "err", err)
	}
	if err := store.EnsureCollection(ctx, handle.Dense.Dim()); err != nil {
		return err
	}
	if err := store.Upsert(ctx, vectors, chunks); err != nil {
		return err
	}
	logger.Info("qdrant mirror complete", "points", len(chunks))
	return nil
}

func discoverSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", dir, err)
	}
	var sources []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		sources = append(sources, filepath.Join(dir, e.Name()))
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no .txt sources in %s", dir)
	}
	sort.Strings(sources)
	return sources, nil
}
