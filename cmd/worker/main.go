// Command worker consumes document ingestion jobs from NATS and runs each
// through partitioning and the ingestion pipeline.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/PapyrusAI/papyrus-mvp/engine/content"
	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/engine/ingest"
	"github.com/PapyrusAI/papyrus-mvp/engine/partition"
	"github.com/PapyrusAI/papyrus-mvp/engine/semantic"
	"github.com/PapyrusAI/papyrus-mvp/pkg/blob"
	"github.com/PapyrusAI/papyrus-mvp/pkg/cache"
	"github.com/PapyrusAI/papyrus-mvp/pkg/gemini"
	"github.com/PapyrusAI/papyrus-mvp/pkg/ollama"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(envOr("NATS_URL", nats.DefaultURL))
	if err != nil {
		return err
	}
	defer nc.Drain()

	store, err := content.Connect(ctx, envOr("MONGODB_URI", "mongodb://localhost:27017"), envOr("MONGODB_DB", "papyrus"))
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	vectors, err := semantic.New(envOr("QDRANT_URL", "localhost:6334"), envOr("QDRANT_COLLECTION", "summaries"), domain.EmbeddingDims)
	if err != nil {
		return err
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx); err != nil {
		return err
	}

	diskCache, err := cache.New(envOr("CACHE_DIR", ".papyrus-cache"))
	if err != nil {
		return err
	}

	embedder := ollama.NewEmbedClient(envOr("OLLAMA_URL", "http://localhost:11434"), envOr("EMBED_MODEL", "all-minilm"), domain.EmbeddingDims)
	generator := gemini.New(envOr("GEMINI_URL", "https://generativelanguage.googleapis.com"), envOr("GEMINI_MODEL", "gemini-1.5-flash"), os.Getenv("GOOGLE_API_KEY"), 2)
	uploader := blob.NewClient(envOr("BLOB_URL", "http://localhost:9000"), "papyrus-images")
	partitioner := partition.NewClient(envOr("PARTITIONER_URL", "http://localhost:8000"), partition.DefaultOptions())

	svc := ingest.New(ingest.Deps{
		Generator: generator,
		Embedder:  embedder,
		Content:   store,
		Vectors:   vectors,
		Uploader:  uploader,
		Cache:     diskCache,
		Logger:    logger,
	})

	partitionFn := func(ctx context.Context, path string) ([]domain.Chunk, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ErrSourceUnavailable
		}
		return partition.CachedPartition(ctx, partitioner, diskCache, path, data)
	}

	sub, err := ingest.StartConsumer(nc, svc, partitionFn, logger)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	logger.Info("worker started", "subject", ingest.JobSubject)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
