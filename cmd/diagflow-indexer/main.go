// Command diagflow-indexer builds the similarity-search index from the
// reference corpus and writes the artifact the API server loads at runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/config"
	"github.com/kailas-cloud/diagflow/internal/corpus"
	dbRedis "github.com/kailas-cloud/diagflow/internal/db/redis"
	logpkg "github.com/kailas-cloud/diagflow/internal/logger"
	"github.com/kailas-cloud/diagflow/internal/metrics"
	"github.com/kailas-cloud/diagflow/internal/repository/embcache"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
	openaiTransport "github.com/kailas-cloud/diagflow/internal/transport/openai"
	indexeruc "github.com/kailas-cloud/diagflow/internal/usecase/indexer"
	"github.com/kailas-cloud/diagflow/internal/version"
)

func main() {
	_ = godotenv.Load()

	corpusDir := flag.String("corpus", "", "corpus directory (overrides config)")
	indexDir := flag.String("index", "", "index directory (overrides config)")
	flag.Parse()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	if *corpusDir != "" {
		cfg.Corpus.Dir = *corpusDir
	}
	if *indexDir != "" {
		cfg.Index.Dir = *indexDir
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting diagflow indexer",
		zap.String("version", version.Version),
		zap.String("env", env),
		zap.String("corpus_dir", cfg.Corpus.Dir),
		zap.String("index_dir", cfg.Index.Dir),
		zap.Int("chunk_size", cfg.Index.ChunkSize),
		zap.Int("chunk_overlap", cfg.Index.ChunkOverlap),
	)

	metrics.RegisterGenerationMetrics()

	ctx := context.Background()

	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	var embedder indexeruc.Embedder = baseEmbedder
	if cfg.Cache.Enabled {
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create cache store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, 10*time.Second); err != nil {
			logger.Fatal("Cache not ready", zap.Error(err))
		}

		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		embedder = embcache.New(baseEmbedder, store, ttl, metrics.EmbeddingCacheTotal, logger)
	}

	loader := corpus.NewLoader(cfg.Corpus.Dir, logger)
	docs, err := loader.Load()
	if err != nil {
		logger.Fatal("Failed to load corpus", zap.Error(err))
	}

	splitter := corpus.NewSplitter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)
	idxStore := index.NewStore(cfg.Index.Dir)
	svc := indexeruc.New(splitter, embedder, idxStore,
		cfg.Index.ChunkSize, cfg.Index.ChunkOverlap, logger)

	summary, err := svc.Build(ctx, docs)
	if err != nil {
		logger.Error("Index build failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "build failed:", err)
		os.Exit(1)
	}

	if summary.Skipped {
		fmt.Printf("index up to date: %d documents, %d chunks (took %s)\n",
			summary.Documents, summary.Chunks, summary.Duration.Round(time.Millisecond))
		return
	}
	fmt.Printf("indexed %d documents into %d chunks (dimension %d, took %s)\n",
		summary.Documents, summary.Chunks, summary.Dimension,
		summary.Duration.Round(time.Millisecond))
}
