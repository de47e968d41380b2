package ingest

import (
	"context"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/engine/semantic"
	"github.com/PapyrusAI/papyrus-mvp/pkg/gemini"
)

// Generator produces text from a multimodal prompt. Implemented by
// pkg/gemini; mocked in tests.
type Generator interface {
	Generate(ctx context.Context, parts []gemini.Part) (string, error)
}

// Embedder maps texts to fixed-length vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ContentWriter is the slice of the content store the pipeline needs.
type ContentWriter interface {
	Insert(ctx context.Context, kind domain.ChunkKind, rec domain.ContentRecord) error
}

// VectorWriter is the slice of the vector store the pipeline needs.
type VectorWriter interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
}

// Uploader stores image bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// Report summarises one ingestion run.
type Report struct {
	Chunks   int      `json:"chunks"`
	Vectors  int      `json:"vectors"`
	DocIDs   []string `json:"doc_ids"`
	Batches  int      `json:"batches"`
	Fallback int      `json:"fallback_summaries"`
}
