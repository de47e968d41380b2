// Package retrieval answers natural-language queries: it embeds the query,
// searches the vector index, resolves matches against the content store by
// their explicit modality tag, assembles a multimodal prompt, and calls the
// generation capability once. Retrieval never writes to the stores, so
// cancellation aborts pending fetches and the generation call without side
// effects.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/engine/semantic"
	"github.com/PapyrusAI/papyrus-mvp/pkg/blob"
	"github.com/PapyrusAI/papyrus-mvp/pkg/fn"
	"github.com/PapyrusAI/papyrus-mvp/pkg/gemini"
)

// Embedder maps texts to fixed-length vectors. It must be the same
// embedding space used at ingestion time.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher abstracts vector search.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]semantic.SearchResult, error)
}

// ContentReader resolves a doc_id to its stored content for a modality.
type ContentReader interface {
	Find(ctx context.Context, kind domain.ChunkKind, docID string) (string, error)
}

// Generator produces text from a multimodal prompt.
type Generator interface {
	Generate(ctx context.Context, parts []gemini.Part) (string, error)
}

// FetchFunc downloads an image reference into displayable bytes.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Options configures the retrieval pipeline.
type Options struct {
	TopK          int
	Workers       int
	SearchTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		TopK:          5,
		Workers:       4,
		SearchTimeout: 5 * time.Second,
	}
}

// Service is the retrieval/answering service.
type Service struct {
	embedder Embedder
	searcher Searcher
	content  ContentReader
	generate Generator
	fetch    FetchFunc
	opts     Options
	logger   *slog.Logger
}

// New creates a retrieval Service. fetch may be nil, in which case image
// references are downloaded with the default HTTP client.
func New(embedder Embedder, searcher Searcher, content ContentReader, generate Generator, fetch FetchFunc, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if fetch == nil {
		fetch = func(ctx context.Context, url string) ([]byte, error) {
			return blob.Fetch(ctx, http.DefaultClient, url)
		}
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	return &Service{
		embedder: embedder,
		searcher: searcher,
		content:  content,
		generate: generate,
		fetch:    fetch,
		opts:     opts,
		logger:   logger,
	}
}

// Context is the retrieved, modality-partitioned query context. Texts and
// Images keep retrieval-rank order within their modality. Partial holds
// items whose content resolved but whose image bytes could not be fetched;
// they still appear in attributions.
type Context struct {
	Texts   []domain.Document
	Images  []domain.Document
	Partial []domain.Document
}

// Retrieve runs embed → search → resolve → partition for a query. Fewer
// than topK matches (or none) is not an error. A match whose doc_id is
// missing from the content store is a cross-store consistency violation
// and fails the whole call with a DanglingReferenceError.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) (*Context, error) {
	if topK <= 0 {
		topK = s.opts.TopK
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	defer cancel()
	matches, err := s.searcher.Search(searchCtx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	s.logger.Info("retrieval search done", "matches", len(matches), "top_k", topK)

	// Content resolution and image fetches for distinct matches are
	// independent; run them concurrently.
	stage := fn.TracedStage("retrieval.resolve", fn.Stage[semantic.SearchResult, domain.Document](s.resolve))
	resolved := fn.ParMapResult(matches, s.opts.Workers, func(m semantic.SearchResult) fn.Result[domain.Document] {
		return stage(ctx, m)
	})

	out := &Context{}
	for _, r := range resolved {
		doc, err := r.Unwrap()
		if err != nil {
			if domain.IsDangling(err) {
				return nil, err
			}
			return nil, fmt.Errorf("retrieval: resolve: %w", err)
		}
		switch {
		case doc.Err != nil:
			out.Partial = append(out.Partial, doc)
		case doc.Kind == domain.KindImage:
			out.Images = append(out.Images, doc)
		default:
			out.Texts = append(out.Texts, doc)
		}
	}
	return out, nil
}

// resolve joins one vector match with its content record. The modality
// comes from the explicit type tag in the match metadata, never from the
// shape of the payload. Only a definitive content-store miss is a hard
// error: that means the index references content that does not exist. A
// transient read error, like the image fetch below, degrades the item to a
// partial result while the rest of the batch proceeds.
func (s *Service) resolve(ctx context.Context, m semantic.SearchResult) fn.Result[domain.Document] {
	doc := domain.Document{
		DocID:   m.DocID,
		Kind:    m.Type,
		Summary: m.Summary,
		Score:   m.Score,
	}

	content, err := s.content.Find(ctx, m.Type, m.DocID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fn.Err[domain.Document](&domain.DanglingReferenceError{DocID: m.DocID, Kind: m.Type})
		}
		s.logger.Warn("retrieval: content resolve failed, keeping partial result",
			"doc_id", m.DocID, "error", err)
		doc.Err = err
		return fn.Ok(doc)
	}
	doc.Content = content

	if m.Type == domain.KindImage {
		data, err := s.fetch(ctx, content)
		if err != nil {
			s.logger.Warn("retrieval: image fetch failed, keeping partial result",
				"doc_id", m.DocID, "error", err)
			doc.Err = err
			return fn.Ok(doc)
		}
		doc.ImageData = data
	}
	return fn.Ok(doc)
}

// Source is a citation backing an answer.
type Source struct {
	DocID string           `json:"doc_id"`
	Score float32          `json:"score"`
	Type  domain.ChunkKind `json:"type"`
}

// Answer is the structured response of the full pipeline.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
	Images  []string `json:"images"`
}

// Answer runs the full query pipeline: retrieve, assemble the multimodal
// prompt, and invoke the generation capability once.
func (s *Service) Answer(ctx context.Context, query string, topK int) (*Answer, error) {
	rctx, err := s.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	parts := BuildPrompt(query, rctx)
	text, err := s.generate.Generate(ctx, parts)
	if err != nil {
		if errors.Is(err, gemini.ErrNoContent) {
			return nil, fmt.Errorf("retrieval: %w", domain.ErrEmptyGeneration)
		}
		return nil, fmt.Errorf("retrieval: generate answer: %w", err)
	}

	ans := &Answer{Text: text}
	for _, doc := range rctx.Texts {
		ans.Sources = append(ans.Sources, Source{DocID: doc.DocID, Score: doc.Score, Type: doc.Kind})
	}
	for _, doc := range rctx.Images {
		ans.Sources = append(ans.Sources, Source{DocID: doc.DocID, Score: doc.Score, Type: doc.Kind})
		ans.Images = append(ans.Images, doc.Content)
	}
	for _, doc := range rctx.Partial {
		ans.Sources = append(ans.Sources, Source{DocID: doc.DocID, Score: doc.Score, Type: doc.Kind})
	}
	return ans, nil
}
