package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline failure classes.
var (
	// ErrSourceUnavailable means the source document could not be read. Fatal.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrPartitionFailure means the external partitioner failed. Fatal.
	ErrPartitionFailure = errors.New("partition failure")
	// ErrEmptyGeneration means a model call succeeded but returned no text.
	ErrEmptyGeneration = errors.New("empty generation")
	// ErrNotFound means a doc_id has no record in the content store.
	ErrNotFound = errors.New("content not found")
	// ErrDimensionMismatch means a vector's length differs from the
	// collection's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidChunk means a chunk failed validation at pipeline entry.
	ErrInvalidChunk = errors.New("invalid chunk")
)

// DanglingReferenceError reports a live vector-index entry whose doc_id is
// missing from the content store. This is a cross-store consistency
// violation and must be reported, never masked as empty content.
type DanglingReferenceError struct {
	DocID string
	Kind  ChunkKind
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("dangling reference: doc_id %s (%s) has no content record", e.DocID, e.Kind)
}

// IsDangling reports whether err is a DanglingReferenceError.
func IsDangling(err error) bool {
	var d *DanglingReferenceError
	return errors.As(err, &d)
}
