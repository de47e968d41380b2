package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEmbed_OrderAndValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedReq
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "all-minilm" {
			t.Errorf("model = %q", req.Model)
		}
		// First component encodes the prompt length so order is observable.
		vec := make([]float64, 4)
		vec[0] = float64(len(req.Prompt))
		json.NewEncoder(w).Encode(embedResp{Embedding: vec})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "all-minilm", 4)
	vectors, err := c.Embed(context.Background(), []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors", len(vectors))
	}
	if vectors[0][0] != 2 || vectors[1][0] != 4 {
		t.Errorf("vectors out of input order: %v, %v", vectors[0][0], vectors[1][0])
	}
}

func TestEmbed_RejectsWrongDims(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(embedResp{Embedding: make([]float64, 7)})
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "all-minilm", 384)
	_, err := c.Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "384") {
		t.Errorf("error = %v, want dims mismatch", err)
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewEmbedClient(srv.URL, "missing", 4)
	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("server error not surfaced")
	}
}
