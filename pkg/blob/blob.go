// Package blob handles image asset storage: uploading raw bytes to the
// asset service in exchange for a public URL, and fetching that URL back
// into displayable bytes at query time.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Uploader stores raw bytes and returns a public URL for them.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string) (string, error)
}

// Client talks to an HTTP asset service. Safe for concurrent use.
type Client struct {
	baseURL string
	folder  string
	client  *http.Client
}

// NewClient creates a blob client uploading into the given folder.
func NewClient(baseURL, folder string) *Client {
	return &Client{baseURL: baseURL, folder: folder, client: &http.Client{}}
}

type uploadResp struct {
	URL string `json:"url"`
}

// Upload posts data as a multipart form and returns the service's public URL.
func (c *Client) Upload(ctx context.Context, data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("folder", c.folder); err != nil {
		return "", fmt.Errorf("blob: write folder field: %w", err)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("blob: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("blob: write payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blob: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("blob: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return "", fmt.Errorf("blob: upload status %d", resp.StatusCode)
	}

	var result uploadResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("blob: decode upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("blob: upload response has no url")
	}
	return result.URL, nil
}

// Fetch downloads a previously uploaded asset. This is a network call
// distinct from the content-store lookup and fails independently of it.
func Fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blob: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("blob: fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
