package retrieval

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/PapyrusAI/papyrus-mvp/engine/domain"
	"github.com/PapyrusAI/papyrus-mvp/engine/ingest"
	"github.com/PapyrusAI/papyrus-mvp/engine/semantic"
	"github.com/PapyrusAI/papyrus-mvp/pkg/gemini"
)

// --- fakes shared between retrieval-only and end-to-end tests ---

// hashEmbedder derives a deterministic 384-dim vector from the text, so
// identical texts always land on cosine similarity 1.0.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		h.Write([]byte(text))
		seed := h.Sum64()
		vec := make([]float32, domain.EmbeddingDims)
		for j := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[j] = float32(int32(seed>>33)) / float32(1<<31)
		}
		out[i] = vec
	}
	return out, nil
}

// memIndex is an in-memory vector index with real cosine scoring.
type memIndex struct {
	mu      sync.Mutex
	records []semantic.VectorRecord
}

func (m *memIndex) Upsert(_ context.Context, records []semantic.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		replaced := false
		for i := range m.records {
			if m.records[i].ID == r.ID {
				m.records[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			m.records = append(m.records, r)
		}
	}
	return nil
}

func (m *memIndex) Search(_ context.Context, embedding []float32, topK int) ([]semantic.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]semantic.SearchResult, 0, len(m.records))
	for _, r := range m.records {
		results = append(results, semantic.SearchResult{
			DocID:   r.ID,
			Score:   cosine(embedding, r.Vector),
			Type:    r.Type,
			Summary: r.Summary,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// memContent implements both the ingest writer and the retrieval reader.
type memContent struct {
	mu      sync.Mutex
	records map[domain.ChunkKind]map[string]string
}

func newMemContent() *memContent {
	return &memContent{records: map[domain.ChunkKind]map[string]string{
		domain.KindText:  {},
		domain.KindImage: {},
	}}
}

func (m *memContent) key(kind domain.ChunkKind) domain.ChunkKind {
	if kind == domain.KindTable {
		return domain.KindText
	}
	return kind
}

func (m *memContent) Insert(_ context.Context, kind domain.ChunkKind, rec domain.ContentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.key(kind)][rec.DocID] = rec.Content
	return nil
}

func (m *memContent) Find(_ context.Context, kind domain.ChunkKind, docID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.records[m.key(kind)][docID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

type echoGenerator struct {
	lastParts []gemini.Part
}

func (g *echoGenerator) Generate(_ context.Context, parts []gemini.Part) (string, error) {
	g.lastParts = parts
	return "summary of " + strings.TrimSpace(parts[0].Text), nil
}

// answerGenerator records the prompt and returns a fixed answer.
type answerGenerator struct {
	lastParts []gemini.Part
	reply     string
}

func (g *answerGenerator) Generate(_ context.Context, parts []gemini.Part) (string, error) {
	g.lastParts = parts
	return g.reply, nil
}

type fakeUploader struct{}

func (fakeUploader) Upload(_ context.Context, _ []byte, filename string) (string, error) {
	return "http://assets.local/" + filename, nil
}

func okFetch(data []byte) FetchFunc {
	return func(context.Context, string) ([]byte, error) { return data, nil }
}

// --- retrieval-only tests ---

type staticSearcher struct {
	results []semantic.SearchResult
}

func (s staticSearcher) Search(context.Context, []float32, int) ([]semantic.SearchResult, error) {
	return s.results, nil
}

func TestRetrieve_PartitionsByTypeTag(t *testing.T) {
	store := newMemContent()
	store.Insert(context.Background(), domain.KindText, domain.ContentRecord{DocID: "t1", Content: "text body"})
	store.Insert(context.Background(), domain.KindImage, domain.ContentRecord{DocID: "i1", Content: "http://assets.local/i1.jpg"})

	searcher := staticSearcher{results: []semantic.SearchResult{
		{DocID: "t1", Score: 0.9, Type: domain.KindText, Summary: "a text"},
		{DocID: "i1", Score: 0.8, Type: domain.KindImage, Summary: "an image"},
	}}

	svc := New(hashEmbedder{}, searcher, store, &answerGenerator{}, okFetch([]byte{1, 2}), Options{}, nil)
	rctx, err := svc.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(rctx.Texts) != 1 || rctx.Texts[0].Content != "text body" {
		t.Errorf("Texts = %+v", rctx.Texts)
	}
	if len(rctx.Images) != 1 || string(rctx.Images[0].ImageData) != string([]byte{1, 2}) {
		t.Errorf("Images = %+v", rctx.Images)
	}
	if len(rctx.Partial) != 0 {
		t.Errorf("Partial = %+v, want empty", rctx.Partial)
	}
}

func TestRetrieve_DanglingReferenceFailsHard(t *testing.T) {
	store := newMemContent() // empty, everything dangles
	searcher := staticSearcher{results: []semantic.SearchResult{
		{DocID: "ghost", Score: 0.9, Type: domain.KindText},
	}}

	svc := New(hashEmbedder{}, searcher, store, &answerGenerator{}, okFetch(nil), Options{}, nil)
	_, err := svc.Retrieve(context.Background(), "q", 5)
	if !domain.IsDangling(err) {
		t.Fatalf("error = %v, want DanglingReferenceError", err)
	}
	var dangling *domain.DanglingReferenceError
	if errors.As(err, &dangling) && dangling.DocID != "ghost" {
		t.Errorf("dangling doc id = %s, want ghost", dangling.DocID)
	}
}

func TestRetrieve_ImageFetchFailureIsPartial(t *testing.T) {
	store := newMemContent()
	store.Insert(context.Background(), domain.KindImage, domain.ContentRecord{DocID: "i1", Content: "http://gone.local/x.jpg"})
	searcher := staticSearcher{results: []semantic.SearchResult{
		{DocID: "i1", Score: 0.7, Type: domain.KindImage},
	}}

	failing := func(context.Context, string) ([]byte, error) { return nil, errors.New("connection refused") }
	svc := New(hashEmbedder{}, searcher, store, &answerGenerator{}, failing, Options{}, nil)

	rctx, err := svc.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rctx.Partial) != 1 || rctx.Partial[0].DocID != "i1" {
		t.Fatalf("Partial = %+v, want the unfetchable image", rctx.Partial)
	}
	if rctx.Partial[0].Err == nil {
		t.Error("partial document has no error recorded")
	}
	if len(rctx.Images) != 0 {
		t.Errorf("Images = %+v, want empty", rctx.Images)
	}
}

// flakyContent fails reads for one doc id and delegates the rest.
type flakyContent struct {
	inner  *memContent
	failID string
}

func (f flakyContent) Find(ctx context.Context, kind domain.ChunkKind, docID string) (string, error) {
	if docID == f.failID {
		return "", errors.New("connection reset")
	}
	return f.inner.Find(ctx, kind, docID)
}

func TestRetrieve_ContentReadFailureIsPartial(t *testing.T) {
	store := newMemContent()
	store.Insert(context.Background(), domain.KindText, domain.ContentRecord{DocID: "t1", Content: "healthy body"})
	store.Insert(context.Background(), domain.KindText, domain.ContentRecord{DocID: "t2", Content: "unreachable body"})

	searcher := staticSearcher{results: []semantic.SearchResult{
		{DocID: "t1", Score: 0.9, Type: domain.KindText},
		{DocID: "t2", Score: 0.8, Type: domain.KindText},
	}}

	svc := New(hashEmbedder{}, searcher, flakyContent{inner: store, failID: "t2"}, &answerGenerator{}, okFetch(nil), Options{}, nil)
	rctx, err := svc.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Retrieve aborted on a transient store error: %v", err)
	}

	if len(rctx.Texts) != 1 || rctx.Texts[0].Content != "healthy body" {
		t.Errorf("Texts = %+v, want only the healthy match", rctx.Texts)
	}
	if len(rctx.Partial) != 1 || rctx.Partial[0].DocID != "t2" {
		t.Fatalf("Partial = %+v, want the unreachable match", rctx.Partial)
	}
	if rctx.Partial[0].Err == nil {
		t.Error("partial document has no error recorded")
	}
}

func TestRetrieve_NoMatchesIsNotAnError(t *testing.T) {
	svc := New(hashEmbedder{}, staticSearcher{}, newMemContent(), &answerGenerator{}, okFetch(nil), Options{}, nil)
	rctx, err := svc.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rctx.Texts)+len(rctx.Images)+len(rctx.Partial) != 0 {
		t.Errorf("context not empty: %+v", rctx)
	}
}

func TestBuildPrompt(t *testing.T) {
	rctx := &Context{
		Texts: []domain.Document{
			{Content: "first passage"},
			{Content: "second passage"},
		},
		Images: []domain.Document{
			{ImageData: []byte{0xff, 0xd8}},
			{Content: "http://x/y.jpg"}, // unfetched, no bytes
		},
	}

	parts := BuildPrompt("what is attention?", rctx)
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want text part + one image part", len(parts))
	}

	text := parts[0].Text
	if !strings.Contains(text, "first passage") || !strings.Contains(text, "second passage") {
		t.Error("prompt is missing text contexts")
	}
	if strings.Index(text, "first passage") > strings.Index(text, "second passage") {
		t.Error("text contexts out of rank order")
	}
	if !strings.HasSuffix(text, "Question: what is attention?") {
		t.Errorf("prompt does not end with the question: %q", text)
	}
	if parts[1].MIMEType != "image/jpeg" || len(parts[1].Data) == 0 {
		t.Errorf("image part = %+v", parts[1])
	}
}

func TestAnswer_SourcesAndImages(t *testing.T) {
	store := newMemContent()
	store.Insert(context.Background(), domain.KindText, domain.ContentRecord{DocID: "t1", Content: "body"})
	store.Insert(context.Background(), domain.KindImage, domain.ContentRecord{DocID: "i1", Content: "http://assets.local/i1.jpg"})
	store.Insert(context.Background(), domain.KindImage, domain.ContentRecord{DocID: "i2", Content: "http://gone.local/i2.jpg"})

	searcher := staticSearcher{results: []semantic.SearchResult{
		{DocID: "t1", Score: 0.9, Type: domain.KindText},
		{DocID: "i1", Score: 0.8, Type: domain.KindImage},
		{DocID: "i2", Score: 0.7, Type: domain.KindImage},
	}}
	fetch := func(_ context.Context, url string) ([]byte, error) {
		if strings.Contains(url, "gone") {
			return nil, errors.New("unreachable")
		}
		return []byte{1}, nil
	}

	gen := &answerGenerator{reply: "the answer"}
	svc := New(hashEmbedder{}, searcher, store, gen, fetch, Options{}, nil)

	ans, err := svc.Answer(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Text != "the answer" {
		t.Errorf("Text = %q", ans.Text)
	}
	// All three matches are attributed, including the partial image.
	if len(ans.Sources) != 3 {
		t.Errorf("Sources = %+v, want 3", ans.Sources)
	}
	if len(ans.Images) != 1 || ans.Images[0] != "http://assets.local/i1.jpg" {
		t.Errorf("Images = %v", ans.Images)
	}
	// Only the fetched image made it into the prompt.
	imageParts := 0
	for _, p := range gen.lastParts {
		if len(p.Data) > 0 {
			imageParts++
		}
	}
	if imageParts != 1 {
		t.Errorf("prompt has %d image parts, want 1", imageParts)
	}
}

type emptyGenerator struct{}

func (emptyGenerator) Generate(context.Context, []gemini.Part) (string, error) {
	return "", gemini.ErrNoContent
}

func TestAnswer_EmptyGeneration(t *testing.T) {
	store := newMemContent()
	store.Insert(context.Background(), domain.KindText, domain.ContentRecord{DocID: "t1", Content: "body"})
	searcher := staticSearcher{results: []semantic.SearchResult{
		{DocID: "t1", Score: 0.9, Type: domain.KindText},
	}}

	svc := New(hashEmbedder{}, searcher, store, emptyGenerator{}, okFetch(nil), Options{}, nil)
	_, err := svc.Answer(context.Background(), "q", 5)
	if !errors.Is(err, domain.ErrEmptyGeneration) {
		t.Errorf("error = %v, want ErrEmptyGeneration", err)
	}
}

// --- end-to-end: ingest feeding retrieval over shared in-memory stores ---

func buildCorpus(t *testing.T, store *memContent, index *memIndex, chunks []domain.Chunk) {
	t.Helper()
	svc := ingest.New(ingest.Deps{
		Generator: &echoGenerator{},
		Embedder:  hashEmbedder{},
		Content:   store,
		Vectors:   index,
		Uploader:  fakeUploader{},
		Workers:   4,
	})
	if _, err := svc.Run(context.Background(), chunks); err != nil {
		t.Fatalf("ingest: %v", err)
	}
}

func TestEndToEnd_ExactSummaryMatchRanksFirst(t *testing.T) {
	store := newMemContent()
	index := &memIndex{}
	chunks := make([]domain.Chunk, 0, 10)
	for i := 0; i < 10; i++ {
		chunks = append(chunks, domain.Chunk{Kind: domain.KindText, Text: fmt.Sprintf("passage %d", i)})
	}
	buildCorpus(t, store, index, chunks)

	gen := &answerGenerator{reply: "ok"}
	svc := New(hashEmbedder{}, index, store, gen, okFetch(nil), Options{}, nil)

	// The echo generator summarized "passage 7" as "summary of passage 7";
	// querying that exact string must produce a cosine score of ~1.0 at rank 1.
	rctx, err := svc.Retrieve(context.Background(), "summary of passage 7", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(rctx.Texts) == 0 {
		t.Fatal("no text matches")
	}
	top := rctx.Texts[0]
	if top.Content != "passage 7" {
		t.Errorf("top match content = %q, want passage 7", top.Content)
	}
	if top.Score < 0.999 {
		t.Errorf("top score = %f, want ~1.0", top.Score)
	}
}

func TestEndToEnd_ImageFlowsIntoPrompt(t *testing.T) {
	store := newMemContent()
	index := &memIndex{}
	imageBytes := []byte{0xff, 0xd8, 0xee}
	buildCorpus(t, store, index, []domain.Chunk{
		{Kind: domain.KindText, Text: "the architecture diagram shows encoder and decoder stacks"},
		{Kind: domain.KindImage, ImageData: imageBytes},
	})

	gen := &answerGenerator{reply: "it has two stacks"}
	svc := New(hashEmbedder{}, index, store, gen, okFetch(imageBytes), Options{}, nil)

	ans, err := svc.Answer(context.Background(), "what does the diagram show?", 5)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(ans.Images) != 1 || !strings.HasPrefix(ans.Images[0], "http://assets.local/") {
		t.Errorf("Images = %v, want the uploaded reference", ans.Images)
	}
	inline := 0
	for _, p := range gen.lastParts {
		if p.MIMEType == "image/jpeg" && len(p.Data) > 0 {
			inline++
		}
	}
	if inline != 1 {
		t.Errorf("prompt carries %d inline images, want 1", inline)
	}
}
