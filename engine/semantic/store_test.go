package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
)

// Validation happens before anything touches the wire, so a zero-value
// client is enough to exercise it.

func TestUpsert_RejectsOversizedBatch(t *testing.T) {
	v := &VectorStore{collection: "summaries", dims: domain.EmbeddingDims}

	records := make([]VectorRecord, MaxBatchSize+1)
	for i := range records {
		records[i] = VectorRecord{ID: "x", Vector: make([]float32, domain.EmbeddingDims)}
	}

	err := v.Upsert(context.Background(), records)
	if err == nil {
		t.Fatal("oversized batch accepted")
	}
	if !strings.Contains(err.Error(), "exceeds max") {
		t.Errorf("error = %v", err)
	}
}

func TestUpsert_RejectsWrongDimensions(t *testing.T) {
	v := &VectorStore{collection: "summaries", dims: domain.EmbeddingDims}

	err := v.Upsert(context.Background(), []VectorRecord{
		{ID: "short", Vector: make([]float32, 10)},
	})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}

func TestUpsert_EmptyBatchIsNoop(t *testing.T) {
	v := &VectorStore{collection: "summaries", dims: domain.EmbeddingDims}
	if err := v.Upsert(context.Background(), nil); err != nil {
		t.Errorf("empty batch errored: %v", err)
	}
}

func TestSearch_RejectsWrongQueryDimensions(t *testing.T) {
	v := &VectorStore{collection: "summaries", dims: domain.EmbeddingDims}
	_, err := v.Search(context.Background(), make([]float32, 3), 5)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("error = %v, want ErrDimensionMismatch", err)
	}
}
