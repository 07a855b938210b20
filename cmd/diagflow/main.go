package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/diagflow/internal/config"
	"github.com/kailas-cloud/diagflow/internal/corpus"
	dbRedis "github.com/kailas-cloud/diagflow/internal/db/redis"
	"github.com/kailas-cloud/diagflow/internal/domain"
	logpkg "github.com/kailas-cloud/diagflow/internal/logger"
	"github.com/kailas-cloud/diagflow/internal/metrics"
	"github.com/kailas-cloud/diagflow/internal/repository/embcache"
	"github.com/kailas-cloud/diagflow/internal/repository/index"
	chiTransport "github.com/kailas-cloud/diagflow/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/diagflow/internal/transport/openai"
	healthuc "github.com/kailas-cloud/diagflow/internal/usecase/health"
	indexeruc "github.com/kailas-cloud/diagflow/internal/usecase/indexer"
	"github.com/kailas-cloud/diagflow/internal/usecase/pipeline"
	retrieveruc "github.com/kailas-cloud/diagflow/internal/usecase/retriever"
	"github.com/kailas-cloud/diagflow/internal/version"
)

// rebuildPollInterval is how often a stale corpus flag is checked when the
// watcher is enabled.
const rebuildPollInterval = 30 * time.Second

func main() {
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting diagflow API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("corpus_dir", cfg.Corpus.Dir),
		zap.String("index_dir", cfg.Index.Dir),
	)

	metrics.RegisterGenerationMetrics()
	metrics.RegisterPipelineMetrics()

	ctx := context.Background()

	// Embedder chain: OpenAI provider, optionally wrapped in a Redis cache.
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Logger:     logger,
	})

	var embedder domain.Embedder = baseEmbedder
	var cachePinger healthuc.CachePinger
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
		logger.Info("Connected to embedding cache", zap.Strings("addrs", cfg.Cache.Addrs))

		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		embedder = embcache.New(baseEmbedder, store, ttl, metrics.EmbeddingCacheTotal, logger)
		cachePinger = store
	}

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:     cfg.Generation.APIKey,
		BaseURL:    cfg.Generation.BaseURL,
		Model:      cfg.Generation.Model,
		MaxTokens:  cfg.Generation.MaxTokens,
		MaxRetries: cfg.Generation.MaxRetries,
		Logger:     logger,
	})

	idxStore := index.NewStore(cfg.Index.Dir)
	retrieverSvc := retrieveruc.New(embedder, idxStore, cfg.Retrieval.MinScore, logger)

	var answerFn pipeline.AnswerFunc
	if cfg.Pipeline.SimulateAnswers {
		answerFn = pipeline.SimulatedAnswers
	}
	engine := pipeline.New(generator, retrieverSvc, pipeline.Options{
		TopK:         cfg.Retrieval.TopK,
		StageTimeout: time.Duration(cfg.Pipeline.StageTimeoutSec) * time.Second,
		AnswerFn:     answerFn,
	}, logger)

	healthSvc := healthuc.New(retrieverSvc, baseEmbedder, generator, cachePinger)

	server := chiTransport.NewServer(engine, retrieverSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	// Corpus watcher: rebuild the index and swap the retriever when source
	// files change on disk.
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.Corpus.Watch {
		startCorpusWatch(watchCtx, cfg, embedder, idxStore, retrieverSvc, logger)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// startCorpusWatch runs the fsnotify watcher and a rebuild loop. A change
// only marks the corpus stale; the actual rebuild happens on the poll tick
// so a burst of file writes triggers one rebuild, not one per event.
func startCorpusWatch(
	ctx context.Context,
	cfg config.Config,
	embedder domain.Embedder,
	idxStore *index.Store,
	retrieverSvc *retrieveruc.Service,
	logger *zap.Logger,
) {
	watcher, err := corpus.NewWatcher(cfg.Corpus.Dir, logger)
	if err != nil {
		logger.Error("Failed to start corpus watcher, continuing without it", zap.Error(err))
		return
	}
	go watcher.Run(ctx)

	loader := corpus.NewLoader(cfg.Corpus.Dir, logger)
	splitter := corpus.NewSplitter(cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)

	batchEmbedder, ok := embedder.(indexeruc.Embedder)
	if !ok {
		logger.Error("Embedder does not support batch embedding, corpus watch disabled")
		return
	}
	indexerSvc := indexeruc.New(splitter, batchEmbedder, idxStore,
		cfg.Index.ChunkSize, cfg.Index.ChunkOverlap, logger)

	go func() {
		ticker := time.NewTicker(rebuildPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !watcher.Stale() {
					continue
				}
				watcher.ClearStale()
				logger.Info("Corpus changed, rebuilding index")

				docs, err := loader.Load()
				if err != nil {
					logger.Error("Corpus reload failed", zap.Error(err))
					continue
				}
				if _, err := indexerSvc.Build(ctx, docs); err != nil {
					logger.Error("Index rebuild failed", zap.Error(err))
					continue
				}
				retrieverSvc.Reload()
			}
		}
	}()
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
