package semantic

import "github.com/PapyrusAI/papyrus-mvp/engine/domain"

// SearchResult is a single vector search hit with the payload metadata
// needed to resolve full content from the content store.
type SearchResult struct {
	DocID   string           `json:"doc_id"`
	Score   float32          `json:"score"`
	Type    domain.ChunkKind `json:"type"`
	Summary string           `json:"summary"`
}

// VectorRecord is one entry to store in the vector index. ID equals the
// record's doc_id; the payload repeats it alongside type and summary so
// matches are self-describing.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Type    domain.ChunkKind
	Summary string
}
