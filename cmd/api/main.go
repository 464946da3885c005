// Package main implements the MediQ question-answering API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MediqAI/mediq-mvp/engine/corpus"
	"github.com/MediqAI/mediq-mvp/engine/dense"
	"github.com/MediqAI/mediq-mvp/engine/domain"
	"github.com/MediqAI/mediq-mvp/engine/hybrid"
	"github.com/MediqAI/mediq-mvp/engine/index"
	"github.com/MediqAI/mediq-mvp/engine/memory"
	"github.com/MediqAI/mediq-mvp/engine/pipeline"
	"github.com/MediqAI/mediq-mvp/engine/rerank"
	"github.com/MediqAI/mediq-mvp/engine/rewrite"
	"github.com/MediqAI/mediq-mvp/pkg/llm"
	"github.com/MediqAI/mediq-mvp/pkg/metrics"
	"github.com/MediqAI/mediq-mvp/pkg/mid"
	"github.com/MediqAI/mediq-mvp/pkg/natsutil"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	OllamaURL      string
	EmbedModel     string
	ChatModel      string
	RerankURL      string
	RerankModel    string
	QdrantURL      string
	Collection     string
	NatsURL        string
	IndexDir       string
	CorpusDir      string
	DBPath         string
	CORSOrigin     string
	DenseThreshold float64
	EmbedRPS       float64
	RerankRPS      float64
	MaxChars       int
	MinChars       int
	TopK           int
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:     envOr("EMBED_MODEL", "nomic-embed-text"),
		ChatModel:      envOr("CHAT_MODEL", "llama3.1:8b"),
		RerankURL:      envOr("RERANK_URL", "http://localhost:8091"),
		RerankModel:    envOr("RERANK_MODEL", "bge-reranker-base"),
		QdrantURL:      envOr("QDRANT_URL", ""),
		Collection:     envOr("QDRANT_COLLECTION", "mediq"),
		NatsURL:        envOr("NATS_URL", ""),
		IndexDir:       envOr("INDEX_DIR", "data/index"),
		CorpusDir:      envOr("CORPUS_DIR", "data/corpus"),
		DBPath:         envOr("DB_PATH", "data/mediq.db"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		DenseThreshold: envFloat("DENSE_THRESHOLD", dense.DefaultThreshold),
		EmbedRPS:       envFloat("EMBED_RPS", 0),
		RerankRPS:      envFloat("RERANK_RPS", 0),
		MaxChars:       envInt("CHUNK_MAX_CHARS", corpus.DefaultMaxChars),
		MinChars:       envInt("CHUNK_MIN_CHARS", corpus.DefaultMinChars),
		TopK:           envInt("TOP_K", 5),
	}
}

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

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

// retrieval bundles the index generation with the retriever built over it,
// so both swap together when the index is rebuilt.
type retrieval struct {
	handle *index.Handle
	hybrid *hybrid.Retriever
}

// swappingRetriever delegates each search to the current index generation.
// The pipeline holds it once; rebuilds swap the target underneath.
type swappingRetriever struct {
	current *atomic.Pointer[retrieval]
}

func (s *swappingRetriever) Search(ctx context.Context, query string) (domain.Status, []domain.Candidate, error) {
	r := s.current.Load()
	return r.hybrid.Search(ctx, query)
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Conversation store ---
	store, err := memory.NewStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// --- Model clients ---
	model := llm.New(llm.Options{
		BaseURL:    cfg.OllamaURL,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		EmbedRPS:   cfg.EmbedRPS,
	})
	scorer := rerank.NewCrossEncoderClient(cfg.RerankURL, cfg.RerankModel, cfg.RerankRPS)

	// --- Index: build or load at startup ---
	sources, err := discoverSources(cfg.CorpusDir)
	if err != nil {
		return err
	}
	manager := index.NewManager(cfg.IndexDir, sources, index.Config{
		MaxChars:   cfg.MaxChars,
		MinChars:   cfg.MinChars,
		EmbedModel: cfg.EmbedModel,
	}, corpus.TextLoader{}, &corpus.SemanticSplitter{MaxChars: cfg.MaxChars, MinChars: cfg.MinChars}, model, logger)

	handle, err := manager.BuildOrLoad(ctx)
	if err != nil {
		return err
	}

	// --- Optional remote dense backend ---
	var qdrantStore *dense.QdrantStore
	if cfg.QdrantURL != "" {
		qdrantStore, err = dense.NewQdrantStore(cfg.QdrantURL, cfg.Collection)
		if err != nil {
			return err
		}
		defer qdrantStore.Close()
	}

	current := &atomic.Pointer[retrieval]{}
	current.Store(buildRetrieval(handle, qdrantStore, model, cfg, logger))
	defer func() { current.Load().handle.Close() }()

	// --- Pipeline and generation ---
	reg := metrics.New()
	pipe := pipeline.New(
		store,
		rewrite.New(model, 0, logger),
		&swappingRetriever{current: current},
		rerank.New(scorer, logger),
		pipeline.Options{HistoryWindow: memory.DefaultWindow, TopK: cfg.TopK},
		logger,
		reg,
	)
	answerer := pipeline.NewAnswerer(model, model, logger)
	titler := memory.NewTitler(model, logger)

	// --- Optional NATS: hot-swap the index on rebuild events ---
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("mediq-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()

		sub, err := natsutil.Subscribe(nc, index.SubjectRebuilt, func(evCtx context.Context, ev index.RebuiltEvent) {
			logger.Info("index rebuilt event received", "fingerprint", ev.Fingerprint, "chunks", ev.ChunkCount)
			fresh, err := manager.Load(evCtx)
			if err != nil {
				logger.Error("index reload failed, keeping current generation", "err", err)
				return
			}
			old := current.Swap(buildRetrieval(fresh, qdrantStore, model, cfg, logger))
			// Grace period for in-flight queries still on the old handle.
			time.AfterFunc(30*time.Second, func() { old.handle.Close() })
		})
		if err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		defer sub.Unsubscribe()
	}

	// --- HTTP server ---
	srv := newServer(store, pipe, answerer, titler, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /api/users", srv.handleEnsureUser)
	mux.HandleFunc("POST /api/conversations", srv.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", srv.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}/messages", srv.handleMessages)
	mux.HandleFunc("POST /api/ask", srv.handleAsk)
	mux.HandleFunc("POST /api/ask/stream", srv.handleAskStream)

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("mediq-api"),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "chunks", handle.Dense.Count())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// buildRetrieval assembles the retriever stack over one index generation.
// With a Qdrant backend configured, dense search goes remote while the
// sparse leg stays on the local generation.
func buildRetrieval(handle *index.Handle, qdrantStore *dense.QdrantStore, embedder dense.Embedder, cfg Config, logger *slog.Logger) *retrieval {
	var searcher dense.Searcher = dense.LocalSearcher{Index: handle.Dense}
	if qdrantStore != nil {
		searcher = qdrantStore
	}
	denseLeg := dense.NewRetriever(embedder, searcher, cfg.DenseThreshold, cfg.TopK, logger)
	return &retrieval{
		handle: handle,
		hybrid: hybrid.New(denseLeg, handle.Sparse, cfg.TopK, logger),
	}
}

// discoverSources lists the corpus text files in deterministic order.
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
