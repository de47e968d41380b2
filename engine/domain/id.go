package domain

import (
	"github.com/google/uuid"
)

// idNamespace scopes deterministic doc IDs to this system.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("papyrus/doc"))

// DocID derives a deterministic, content-addressed identifier for a chunk.
// The same chunk always maps to the same id, so ingestion retries and
// reruns upsert in place instead of duplicating records across the vector
// index and the content store. The id is a plain UUID string because it
// doubles as the vector point id; the kind is folded into the hash so a
// table and an image with identical bytes still get distinct ids.
func DocID(c Chunk) string {
	payload := make([]byte, 0, 1+len(c.Text)+len(c.ImageData))
	payload = append(payload, []byte(c.Kind)...)
	payload = append(payload, 0)
	if c.Kind == KindImage {
		payload = append(payload, c.ImageData...)
	} else {
		payload = append(payload, []byte(c.AggregateText())...)
	}
	return uuid.NewSHA1(idNamespace, payload).String()
}

// AggregateText joins a chunk's own text with the text of its nested
// elements into the single string that is stored and summarized.
func (c Chunk) AggregateText() string {
	out := c.Text
	for _, el := range c.Elements {
		if el.Text == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += el.Text
	}
	return out
}
