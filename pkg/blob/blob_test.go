package blob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpload(t *testing.T) {
	payload := []byte{0xff, 0xd8, 0x10}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("folder"); got != "papers" {
			t.Errorf("folder = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "fig1.jpg" {
			t.Errorf("filename = %q", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != string(payload) {
			t.Error("payload mismatch")
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "http://cdn.local/papers/fig1.jpg"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "papers")
	url, err := c.Upload(context.Background(), payload, "fig1.jpg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "http://cdn.local/papers/fig1.jpg" {
		t.Errorf("url = %q", url)
	}
}

func TestUpload_MissingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "papers")
	if _, err := c.Upload(context.Background(), []byte{1}, "x.jpg"); err == nil {
		t.Error("empty url accepted")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("image bytes"))
	}))
	defer srv.Close()

	data, err := Fetch(context.Background(), nil, srv.URL+"/papers/fig1.jpg")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "image bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestFetch_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := Fetch(context.Background(), nil, srv.URL+"/missing.jpg"); err == nil {
		t.Error("404 not surfaced")
	}
}
