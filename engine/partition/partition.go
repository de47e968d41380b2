// Package partition turns a source document into the ordered chunk sequence
// the ingestion pipeline consumes. The actual layout analysis is delegated
// to an external partitioner service; this package owns the wire contract,
// the mapping onto domain chunk kinds, and caching of the (expensive)
// result keyed by the source bytes.
package partition

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/pkg/cache"
)

// Options configure the partitioner service. They are part of the cache key:
// changing them invalidates previously cached chunk sequences.
type Options struct {
	Strategy         string `json:"strategy"`
	ChunkingStrategy string `json:"chunking_strategy"`
	MaxCharacters    int    `json:"max_characters"`
	NewAfterNChars   int    `json:"new_after_n_chars"`
	CombineUnderN    int    `json:"combine_text_under_n_chars"`
}

// DefaultOptions mirror the layout-analysis settings the system was tuned with.
func DefaultOptions() Options {
	return Options{
		Strategy:         "hi_res",
		ChunkingStrategy: "by_title",
		MaxCharacters:    6000,
		NewAfterNChars:   3600,
		CombineUnderN:    1200,
	}
}

// Client calls the external partitioner service over HTTP.
type Client struct {
	baseURL string
	opts    Options
	client  *http.Client
}

// NewClient creates a partitioner client.
func NewClient(baseURL string, opts Options) *Client {
	return &Client{baseURL: baseURL, opts: opts, client: &http.Client{}}
}

// wireElement is one element of the partitioner's response. Composite
// elements may carry their original sub-elements, including embedded images
// as base64 payloads.
type wireElement struct {
	Type     string       `json:"type"`
	Text     string       `json:"text"`
	Metadata wireMetadata `json:"metadata"`
}

type wireMetadata struct {
	ImageBase64  string        `json:"image_base64,omitempty"`
	OrigElements []wireElement `json:"orig_elements,omitempty"`
}

// PartitionFile reads the document at path and partitions it into typed
// chunks. An unreadable source and a partitioner error are both fatal to
// the ingestion run.
func (c *Client) PartitionFile(ctx context.Context, path string) ([]domain.Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, path, err)
	}
	return c.Partition(ctx, filepath.Base(path), data)
}

// Partition sends the raw document to the partitioner service and maps the
// returned element sequence onto domain chunks, in order.
func (c *Client) Partition(ctx context.Context, filename string, data []byte) ([]domain.Chunk, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("files", filename)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrPartitionFailure, err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrPartitionFailure, err)
	}
	fields := map[string]string{
		"strategy":                   c.opts.Strategy,
		"chunking_strategy":          c.opts.ChunkingStrategy,
		"max_characters":             fmt.Sprint(c.opts.MaxCharacters),
		"new_after_n_chars":          fmt.Sprint(c.opts.NewAfterNChars),
		"combine_text_under_n_chars": fmt.Sprint(c.opts.CombineUnderN),
		"extract_image_block_to_payload": "true",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("%w: build request: %v", domain.ErrPartitionFailure, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrPartitionFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/general/v0/general", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPartitionFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrPartitionFailure, resp.StatusCode)
	}

	var elements []wireElement
	if err := json.NewDecoder(resp.Body).Decode(&elements); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrPartitionFailure, err)
	}
	return mapElements(elements)
}

// mapElements converts partitioner elements into domain chunks. Kinds are
// assigned here, once, from the partitioner's explicit element types.
// Images embedded inside composite elements are lifted out as standalone
// image chunks following their parent, matching their reading order.
func mapElements(elements []wireElement) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	for _, el := range elements {
		switch el.Type {
		case "Table":
			chunks = append(chunks, domain.Chunk{Kind: domain.KindTable, Text: el.Text})
		case "Image":
			img, err := base64.StdEncoding.DecodeString(el.Metadata.ImageBase64)
			if err != nil {
				return nil, fmt.Errorf("%w: decode image payload: %v", domain.ErrPartitionFailure, err)
			}
			chunks = append(chunks, domain.Chunk{Kind: domain.KindImage, ImageData: img})
		default:
			chunk := domain.Chunk{Kind: domain.KindText, Text: el.Text}
			var embedded []domain.Chunk
			for _, sub := range el.Metadata.OrigElements {
				if sub.Type == "Image" && sub.Metadata.ImageBase64 != "" {
					img, err := base64.StdEncoding.DecodeString(sub.Metadata.ImageBase64)
					if err != nil {
						return nil, fmt.Errorf("%w: decode embedded image: %v", domain.ErrPartitionFailure, err)
					}
					embedded = append(embedded, domain.Chunk{Kind: domain.KindImage, ImageData: img})
					continue
				}
				if sub.Text != "" {
					chunk.Elements = append(chunk.Elements, domain.Element{Text: sub.Text})
				}
			}
			chunks = append(chunks, chunk)
			chunks = append(chunks, embedded...)
		}
	}
	return chunks, nil
}

// CachedPartition partitions through the disk cache: the chunk sequence is
// keyed by the source bytes plus the partitioner options, so an unchanged
// document skips the service call entirely and a changed one never reuses
// a stale sequence.
func CachedPartition(ctx context.Context, c *Client, store *cache.Cache, filename string, data []byte) ([]domain.Chunk, error) {
	optsJSON, _ := json.Marshal(c.opts)
	key := cache.Key([]byte("chunks"), optsJSON, data)

	raw, err := store.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		chunks, err := c.Partition(ctx, filename, data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(chunks)
	})
	if err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	if err := json.Unmarshal(raw, &chunks); err != nil {
		return nil, fmt.Errorf("partition: corrupt cached chunks: %w", err)
	}
	return chunks, nil
}
