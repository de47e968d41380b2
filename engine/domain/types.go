// Package domain defines core domain types, constants, and validation for the
// Papyrus engine pipelines. It acts as the validation gate at pipeline entry points.
package domain

// EmbeddingDims is the embedding dimension shared by the embedder and the
// vector collection. Every stored vector must have exactly this length.
const EmbeddingDims = 384

// ChunkKind classifies a partitioned unit of a source document. It is
// assigned once at the partitioning boundary and carried through both
// stores unchanged; modality is never inferred from content shape.
type ChunkKind string

const (
	KindText  ChunkKind = "text"
	KindTable ChunkKind = "table"
	KindImage ChunkKind = "image"
)

// ValidKinds is the set of recognised chunk kinds.
var ValidKinds = map[ChunkKind]bool{
	KindText:  true,
	KindTable: true,
	KindImage: true,
}

// Element is a sub-element of a composite chunk: a span of inline text or
// an embedded image carried as raw bytes (decoded from the partitioner's
// base64 payload).
type Element struct {
	Text      string `json:"text,omitempty"`
	ImageData []byte `json:"image_data,omitempty"`
}

// Chunk is a partitioned unit of the source document. Text and table chunks
// carry text (plus optional nested elements); image chunks carry the encoded
// image payload. Chunks are immutable once produced by the partitioner.
type Chunk struct {
	Kind      ChunkKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	ImageData []byte    `json:"image_data,omitempty"`
	Elements  []Element `json:"elements,omitempty"`
}

// ContentRecord is the full-fidelity content stored per doc_id: the complete
// chunk text for text/table chunks, or the uploaded image URL for image chunks.
type ContentRecord struct {
	DocID   string `bson:"doc_id" json:"doc_id"`
	Content string `bson:"content" json:"content"`
}

// Document is a retrieval-time record joining a vector match's metadata and
// score with its resolved content. ImageData is populated only for image
// matches whose reference was fetched successfully.
type Document struct {
	DocID     string    `json:"doc_id"`
	Kind      ChunkKind `json:"type"`
	Summary   string    `json:"summary"`
	Score     float32   `json:"score"`
	Content   string    `json:"content,omitempty"`
	ImageData []byte    `json:"-"`
	// Err records a per-item resolution failure (e.g. an image fetch that
	// timed out). The item is surfaced as a partial result, not dropped.
	Err error `json:"-"`
}
