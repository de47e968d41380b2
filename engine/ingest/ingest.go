// Package ingest implements the ingestion pipeline: it classifies
// partitioned chunks, summarizes and caches them, writes full content to
// the content store, embeds the summaries, and commits the accumulated
// vectors to the index in bounded batches. Content is always written
// before its vector so the index never references content that does not
// exist.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/engine/semantic"
	"github.com/PapyrusAI/papyrus-mvp/pkg/cache"
	"github.com/PapyrusAI/papyrus-mvp/pkg/fn"
)

const (
	// DefaultWorkers bounds concurrent per-chunk processing so parallel
	// summarize/embed/store calls don't exhaust backend connections.
	DefaultWorkers = 8
	// UpsertBatchSize is the slice size for the final vector commit,
	// respecting the backend's payload limit.
	UpsertBatchSize = semantic.MaxBatchSize
)

// Deps holds the external dependencies for the ingestion pipeline.
type Deps struct {
	Generator Generator
	Embedder  Embedder
	Content   ContentWriter
	Vectors   VectorWriter
	Uploader  Uploader
	Cache     *cache.Cache // optional; nil disables summary memoization
	Workers   int
	Logger    *slog.Logger
}

// Service runs ingestion over partitioned chunk sequences.
type Service struct {
	generator Generator
	embedder  Embedder
	content   ContentWriter
	vectors   VectorWriter
	uploader  Uploader
	cache     *cache.Cache
	workers   int
	retry     fn.RetryOpts
	logger    *slog.Logger
}

// New creates the ingestion service.
func New(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Service{
		generator: deps.Generator,
		embedder:  deps.Embedder,
		content:   deps.Content,
		vectors:   deps.Vectors,
		uploader:  deps.Uploader,
		cache:     deps.Cache,
		workers:   workers,
		retry:     fn.DefaultRetry,
		logger:    log,
	}
}

// processed is the per-chunk pipeline output: the vector record pending
// commit, after the chunk's content record has been written.
type processed struct {
	record   semantic.VectorRecord
	fallback bool
}

// processChunk runs one chunk through classify → summarize → content write
// → embed. Chunks are independent; a failure here affects only this chunk's
// result, never the records of its siblings.
func (s *Service) processChunk(ctx context.Context, chunk domain.Chunk) fn.Result[processed] {
	if err := domain.ValidateChunk(chunk); err != nil {
		return fn.Err[processed](err)
	}

	docID := domain.DocID(chunk)
	summary, usedFallback := s.summarize(ctx, chunk)

	// Content before vector: the cross-store invariant.
	if chunk.Kind == domain.KindImage {
		url, err := s.uploader.Upload(ctx, chunk.ImageData, docID+".jpg")
		if err != nil {
			return fn.Err[processed](fmt.Errorf("ingest: upload image %s: %w", docID, err))
		}
		if err := s.content.Insert(ctx, chunk.Kind, domain.ContentRecord{DocID: docID, Content: url}); err != nil {
			return fn.Err[processed](fmt.Errorf("ingest: store image content %s: %w", docID, err))
		}
	} else {
		text := chunk.AggregateText()
		if err := s.content.Insert(ctx, chunk.Kind, domain.ContentRecord{DocID: docID, Content: text}); err != nil {
			return fn.Err[processed](fmt.Errorf("ingest: store text content %s: %w", docID, err))
		}
	}

	vectors, err := s.embedder.Embed(ctx, []string{summary})
	if err != nil {
		return fn.Err[processed](fmt.Errorf("ingest: embed summary %s: %w", docID, err))
	}
	if err := domain.ValidateVector(vectors[0], domain.EmbeddingDims); err != nil {
		return fn.Err[processed](fmt.Errorf("ingest: %s: %w", docID, err))
	}

	return fn.Ok(processed{
		record: semantic.VectorRecord{
			ID:      docID,
			Vector:  vectors[0],
			Type:    chunk.Kind,
			Summary: summary,
		},
		fallback: usedFallback,
	})
}

// Run ingests an ordered chunk sequence. Per-chunk stages execute
// concurrently under the worker bound; the final index upsert is the
// synchronization point and only happens once every content write in the
// batch has completed. Any chunk failure aborts the run before the vector
// commit, leaving at most per-chunk content writes behind; because ids are
// content-derived, rerunning converges instead of duplicating.
func (s *Service) Run(ctx context.Context, chunks []domain.Chunk) (*Report, error) {
	s.logger.Info("ingest run start", "chunks", len(chunks))

	stage := fn.TracedStage("ingest.chunk", fn.Stage[domain.Chunk, processed](s.processChunk))
	results := fn.ParMapResult(chunks, s.workers, func(chunk domain.Chunk) fn.Result[processed] {
		return stage(ctx, chunk)
	})
	collected := fn.Collect(results)
	if collected.IsErr() {
		_, err := collected.Unwrap()
		return nil, fmt.Errorf("ingest: run aborted: %w", err)
	}
	items, _ := collected.Unwrap()

	report := &Report{Chunks: len(chunks)}
	records := make([]semantic.VectorRecord, len(items))
	for i, it := range items {
		records[i] = it.record
		report.DocIDs = append(report.DocIDs, it.record.ID)
		if it.fallback {
			report.Fallback++
		}
	}

	if err := s.commit(ctx, records); err != nil {
		return nil, err
	}
	report.Vectors = len(records)
	report.Batches = (len(records) + UpsertBatchSize - 1) / UpsertBatchSize
	sort.Strings(report.DocIDs)

	s.logger.Info("ingest run done",
		"chunks", report.Chunks,
		"vectors", report.Vectors,
		"batches", report.Batches,
		"fallback_summaries", report.Fallback,
	)
	return report, nil
}

// commit upserts the accumulated batch in slices of UpsertBatchSize, sent
// concurrently; slice order is irrelevant. A failed slice is retried with
// the same deterministic ids until the attempts run out, the second half of
// the content-then-vector saga. A failure here leaves content records whose
// vectors are missing; rerunning ingestion repairs the pair without
// duplicates.
func (s *Service) commit(ctx context.Context, records []semantic.VectorRecord) error {
	batches := fn.Chunk(records, UpsertBatchSize)

	results := fn.ParMapResult(batches, s.workers, func(batch []semantic.VectorRecord) fn.Result[int] {
		return fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[int] {
			if err := s.vectors.Upsert(ctx, batch); err != nil {
				return fn.Err[int](err)
			}
			return fn.Ok(len(batch))
		})
	})
	if collected := fn.Collect(results); collected.IsErr() {
		_, err := collected.Unwrap()
		return fmt.Errorf("ingest: vector commit incomplete, rerun to repair: %w", err)
	}
	return nil
}
