// Command ingest partitions one source document and runs it through the
// ingestion pipeline into MongoDB and Qdrant.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

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
	"github.com/PapyrusAI/papyrus-mvp/pkg/metrics"
	"github.com/PapyrusAI/papyrus-mvp/pkg/ollama"
)

var met = metrics.New()

var (
	mChunksTotal   = met.Counter("papyrus_ingest_chunks_total", "Chunks processed")
	mVectorsTotal  = met.Counter("papyrus_ingest_vectors_total", "Vector entries committed")
	mFallbackTotal = met.Counter("papyrus_ingest_fallback_summaries_total", "Placeholder summaries substituted")
	mRunDur        = met.Histogram("papyrus_ingest_run_duration_seconds", "End-to-end run time", nil)
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	var (
		source       = flag.String("source", "", "path to the source document (required)")
		enqueue      = flag.Bool("enqueue", false, "publish the job to the worker queue instead of ingesting locally")
		natsURL      = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL (enqueue mode)")
		mongoURI     = flag.String("mongo", envOr("MONGODB_URI", "mongodb://localhost:27017"), "MongoDB URI")
		mongoDB      = flag.String("db", envOr("MONGODB_DB", "papyrus"), "MongoDB database")
		qdrantAddr   = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection   = flag.String("collection", envOr("QDRANT_COLLECTION", "summaries"), "Qdrant collection name")
		ollamaURL    = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama base URL")
		embedModel   = flag.String("embed-model", envOr("EMBED_MODEL", "all-minilm"), "Ollama embedding model")
		geminiURL    = flag.String("gemini", envOr("GEMINI_URL", "https://generativelanguage.googleapis.com"), "Generative Language API base URL")
		geminiModel  = flag.String("gemini-model", envOr("GEMINI_MODEL", "gemini-1.5-flash"), "generation model")
		geminiKey    = flag.String("gemini-key", os.Getenv("GOOGLE_API_KEY"), "Generative Language API key")
		geminiRPS    = flag.Float64("gemini-rps", 2, "max generation requests per second")
		blobURL      = flag.String("blob", envOr("BLOB_URL", "http://localhost:9000"), "asset service base URL")
		blobFolder   = flag.String("blob-folder", "papyrus-images", "asset service folder")
		partitionURL = flag.String("partitioner", envOr("PARTITIONER_URL", "http://localhost:8000"), "partitioner service base URL")
		cacheDir     = flag.String("cache", envOr("CACHE_DIR", ".papyrus-cache"), "disk cache directory")
		workers      = flag.Int("workers", ingest.DefaultWorkers, "concurrent chunk workers")
		metricsPort  = flag.Int("metrics-port", 9091, "metrics port")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *source == "" {
		logger.Error("missing -source")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *enqueue {
		nc, err := nats.Connect(*natsURL)
		if err != nil {
			logger.Error("nats connect failed", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		if err := ingest.EnqueueJob(ctx, nc, *source); err != nil {
			logger.Error("enqueue failed", "error", err)
			os.Exit(1)
		}
		logger.Info("job enqueued", "path", *source, "subject", ingest.JobSubject)
		return
	}

	met.ServeAsync(*metricsPort)

	if err := run(ctx, logger, config{
		source:       *source,
		mongoURI:     *mongoURI,
		mongoDB:      *mongoDB,
		qdrantAddr:   *qdrantAddr,
		collection:   *collection,
		ollamaURL:    *ollamaURL,
		embedModel:   *embedModel,
		geminiURL:    *geminiURL,
		geminiModel:  *geminiModel,
		geminiKey:    *geminiKey,
		geminiRPS:    *geminiRPS,
		blobURL:      *blobURL,
		blobFolder:   *blobFolder,
		partitionURL: *partitionURL,
		cacheDir:     *cacheDir,
		workers:      *workers,
	}); err != nil {
		logger.Error("ingest failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	source       string
	mongoURI     string
	mongoDB      string
	qdrantAddr   string
	collection   string
	ollamaURL    string
	embedModel   string
	geminiURL    string
	geminiModel  string
	geminiKey    string
	geminiRPS    float64
	blobURL      string
	blobFolder   string
	partitionURL string
	cacheDir     string
	workers      int
}

func run(ctx context.Context, logger *slog.Logger, cfg config) error {
	// Long-lived clients, constructed once and closed at shutdown.
	store, err := content.Connect(ctx, cfg.mongoURI, cfg.mongoDB)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	vectors, err := semantic.New(cfg.qdrantAddr, cfg.collection, domain.EmbeddingDims)
	if err != nil {
		return err
	}
	defer vectors.Close()
	if err := vectors.EnsureCollection(ctx); err != nil {
		return err
	}

	diskCache, err := cache.New(cfg.cacheDir)
	if err != nil {
		return err
	}

	embedder := ollama.NewEmbedClient(cfg.ollamaURL, cfg.embedModel, domain.EmbeddingDims)
	generator := gemini.New(cfg.geminiURL, cfg.geminiModel, cfg.geminiKey, cfg.geminiRPS)
	uploader := blob.NewClient(cfg.blobURL, cfg.blobFolder)
	partitioner := partition.NewClient(cfg.partitionURL, partition.DefaultOptions())

	logger.Info("partitioning source", "path", cfg.source)
	data, err := os.ReadFile(cfg.source)
	if err != nil {
		logger.Error("source unreadable", "path", cfg.source, "error", err)
		return domain.ErrSourceUnavailable
	}
	chunks, err := partition.CachedPartition(ctx, partitioner, diskCache, cfg.source, data)
	if err != nil {
		return err
	}
	logger.Info("partitioned", "chunks", len(chunks))

	svc := ingest.New(ingest.Deps{
		Generator: generator,
		Embedder:  embedder,
		Content:   store,
		Vectors:   vectors,
		Uploader:  uploader,
		Cache:     diskCache,
		Workers:   cfg.workers,
		Logger:    logger,
	})

	start := time.Now()
	report, err := svc.Run(ctx, chunks)
	mRunDur.Since(start)
	if err != nil {
		return err
	}

	mChunksTotal.Add(int64(report.Chunks))
	mVectorsTotal.Add(int64(report.Vectors))
	mFallbackTotal.Add(int64(report.Fallback))
	logger.Info("ingestion complete",
		"chunks", report.Chunks,
		"vectors", report.Vectors,
		"batches", report.Batches,
	)
	return nil
}
