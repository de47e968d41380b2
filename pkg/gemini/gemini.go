// Package gemini provides a client for the Generative Language API's
// generateContent endpoint. Requests are ordered lists of parts, each plain
// text or inline binary data, so the same client serves text summaries,
// image summaries, and final multimodal answers.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

// ErrNoContent means the model responded without any candidate text.
var ErrNoContent = errors.New("gemini: response contains no text")

// Part is one segment of a generation request: Text, or inline binary
// data with its mime type. Exactly one of the two forms is set.
type Part struct {
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart builds a plain-text part.
func TextPart(text string) Part { return Part{Text: text} }

// ImagePart builds an inline binary part.
func ImagePart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// Client calls the generateContent endpoint. Safe for concurrent use; all
// calls share one rate limiter so parallel summarization stays inside the
// API quota.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a Client. rps bounds outgoing requests per second; rps <= 0
// disables limiting.
func New(baseURL, model, apiKey string, rps float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{},
		limiter: limiter,
	}
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type wireContent struct {
	Parts []wirePart `json:"parts"`
}

type generateRequest struct {
	Contents []wireContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one generation request and returns the first candidate's
// text. A response with no text returns ErrNoContent.
func (c *Client) Generate(ctx context.Context, parts []Part) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	wire := make([]wirePart, len(parts))
	for i, p := range parts {
		if len(p.Data) > 0 {
			wire[i] = wirePart{InlineData: &inlineData{
				MIMEType: p.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(p.Data),
			}}
		} else {
			wire[i] = wirePart{Text: p.Text}
		}
	}

	body, err := json.Marshal(generateRequest{Contents: []wireContent{{Parts: wire}}})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: request: %w", err)
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("gemini: api error %d: %s", result.Error.Code, result.Error.Message)
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("gemini: status %d", resp.StatusCode)
	}

	for _, cand := range result.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
	}
	return "", ErrNoContent
}
