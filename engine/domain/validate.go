package domain

import "fmt"

// ValidateChunk checks a chunk before it enters the ingestion pipeline.
func ValidateChunk(c Chunk) error {
	if !ValidKinds[c.Kind] {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChunk, c.Kind)
	}
	switch c.Kind {
	case KindImage:
		if len(c.ImageData) == 0 {
			return fmt.Errorf("%w: image chunk has no payload", ErrInvalidChunk)
		}
	default:
		if c.AggregateText() == "" {
			return fmt.Errorf("%w: %s chunk has no text", ErrInvalidChunk, c.Kind)
		}
	}
	return nil
}

// ValidateVector checks that an embedding has the configured dimension.
func ValidateVector(vec []float32, dims int) error {
	if len(vec) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dims)
	}
	return nil
}
