// Package main implements the Papyrus query API server.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/PapyrusAI/papyrus-mvp/engine/content"
	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/engine/retrieval"
	"github.com/PapyrusAI/papyrus-mvp/engine/semantic"
	"github.com/PapyrusAI/papyrus-mvp/pkg/gemini"
	"github.com/PapyrusAI/papyrus-mvp/pkg/metrics"
	"github.com/PapyrusAI/papyrus-mvp/pkg/mid"
	"github.com/PapyrusAI/papyrus-mvp/pkg/ollama"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	MongoURI    string
	MongoDB     string
	QdrantURL   string
	Collection  string
	OllamaURL   string
	EmbedModel  string
	GeminiURL   string
	GeminiModel string
	GeminiKey   string
	CORSOrigin  string
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		MongoURI:    envOr("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:     envOr("MONGODB_DB", "papyrus"),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "summaries"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:  envOr("EMBED_MODEL", "all-minilm"),
		GeminiURL:   envOr("GEMINI_URL", "https://generativelanguage.googleapis.com"),
		GeminiModel: envOr("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiKey:   os.Getenv("GOOGLE_API_KEY"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var met = metrics.New()

var (
	mQueries    = met.Counter("papyrus_api_queries_total", "Queries served")
	mQueryErrs  = met.Counter("papyrus_api_query_errors_total", "Queries that failed")
	mQueryDur   = met.Histogram("papyrus_api_query_duration_seconds", "Query latency", nil)
	mDangling   = met.Counter("papyrus_api_dangling_refs_total", "Dangling reference errors observed")
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to MongoDB ---
	store, err := content.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	// --- Connect to Qdrant ---
	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection, domain.EmbeddingDims)
	if err != nil {
		return err
	}
	defer vectors.Close()

	// --- Model clients ---
	embedder := ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel, domain.EmbeddingDims)
	generator := gemini.New(cfg.GeminiURL, cfg.GeminiModel, cfg.GeminiKey, 0)

	svc := retrieval.New(embedder, vectors, store, generator, nil, retrieval.DefaultOptions(), logger)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/query", handleQuery(svc, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("papyrus-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
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
	return srv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k,omitempty"`
}

// QueryResponse is the JSON response for POST /api/query.
type QueryResponse struct {
	Answer  string             `json:"answer"`
	Sources []retrieval.Source `json:"sources"`
	Images  []string           `json:"images"`
}

func handleQuery(svc *retrieval.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.Question == "" {
			http.Error(w, `{"error":"question is required"}`, http.StatusBadRequest)
			return
		}

		start := time.Now()
		answer, err := svc.Answer(r.Context(), req.Question, req.TopK)
		mQueryDur.Since(start)
		if err != nil {
			mQueryErrs.Inc()
			if domain.IsDangling(err) {
				// Cross-store inconsistency: report it, don't mask it.
				mDangling.Inc()
				logger.Error("dangling reference", "err", err)
				http.Error(w, `{"error":"index references missing content"}`, http.StatusConflict)
				return
			}
			logger.Error("query failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mQueries.Inc()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QueryResponse{
			Answer:  answer.Text,
			Sources: answer.Sources,
			Images:  answer.Images,
		})
	}
}
