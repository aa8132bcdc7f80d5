package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inkwell/api/internal/store"
)

type fakeChunkStore struct {
	replaceFn func(context.Context, string, []store.ChunkWithEmbedding) error
	deleteFn  func(context.Context, string) error
	searchFn  func(context.Context, []float32, []string, int) ([]store.ChunkMatch, error)
}

func (f *fakeChunkStore) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []store.ChunkWithEmbedding) error {
	if f.replaceFn != nil {
		return f.replaceFn(ctx, documentID, chunks)
	}
	return nil
}

func (f *fakeChunkStore) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, documentID)
	}
	return nil
}

func (f *fakeChunkStore) SearchChunks(ctx context.Context, embedding []float32, documentIDs []string, topK int) ([]store.ChunkMatch, error) {
	if f.searchFn != nil {
		return f.searchFn(ctx, embedding, documentIDs, topK)
	}
	return []store.ChunkMatch{}, nil
}

// newLLMServer fakes an OpenAI-compatible endpoint. embedStatus lets
// tests break the embeddings route while chat keeps working.
func newLLMServer(t *testing.T, embedStatus int, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if embedStatus != 0 {
			w.WriteHeader(embedStatus)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"index": i, "embedding": []float32{0.1, 0.2, 0.3}}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": reply}}},
			"usage":   map[string]any{"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60},
		})
	})
	return httptest.NewServer(mux)
}

func newTestService(chunks ChunkStore, baseURL string) *Service {
	client := NewClient(baseURL, "test-key", "test-model", "test-embed")
	logger := slog.New(slog.NewTextHandler(testWriter{}, nil))
	return NewService(chunks, client, logger, Options{})
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestRespondWithRetrievedContext(t *testing.T) {
	srv := newLLMServer(t, 0, "Here is a suggestion. [1]")
	defer srv.Close()

	var searchedDocs []string
	chunks := &fakeChunkStore{
		searchFn: func(ctx context.Context, embedding []float32, documentIDs []string, topK int) ([]store.ChunkMatch, error) {
			searchedDocs = documentIDs
			return []store.ChunkMatch{
				{DocumentID: "doc_1", DocumentTitle: "Draft", ChunkIndex: 2, Content: "The hero hesitates.", TokenEstimate: 10, Similarity: 0.91},
				{DocumentID: "doc_1", DocumentTitle: "Draft", ChunkIndex: 5, Content: "Too faint to matter.", TokenEstimate: 10, Similarity: 0.05},
			}, nil
		},
	}

	svc := newTestService(chunks, srv.URL)
	res, err := svc.Respond(context.Background(), RespondRequest{
		Query:       "How should the scene continue?",
		DocumentIDs: []string{"doc_1", "doc_2"},
	})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if res.Reply != "Here is a suggestion. [1]" {
		t.Fatalf("reply = %q", res.Reply)
	}
	if res.Degraded {
		t.Fatal("healthy retrieval reported as degraded")
	}
	if len(searchedDocs) != 2 {
		t.Fatalf("search covered %v, want both documents", searchedDocs)
	}
	// The low-similarity match is filtered out of the sources.
	if len(res.Sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(res.Sources))
	}
	src := res.Sources[0]
	if src.DocumentID != "doc_1" || src.ChunkIndex != 2 || src.Excerpt != "The hero hesitates." {
		t.Fatalf("source = %+v", src)
	}
	if res.Usage.TotalTokens != 60 {
		t.Fatalf("usage = %+v", res.Usage)
	}
}

func TestRespondDegradesWhenEmbeddingFails(t *testing.T) {
	srv := newLLMServer(t, http.StatusBadRequest, "Answer without context.")
	defer srv.Close()

	chunks := &fakeChunkStore{
		searchFn: func(context.Context, []float32, []string, int) ([]store.ChunkMatch, error) {
			t.Error("search must not run when embedding fails")
			return nil, nil
		},
	}

	svc := newTestService(chunks, srv.URL)
	res, err := svc.Respond(context.Background(), RespondRequest{
		Query:       "Continue the scene.",
		DocumentIDs: []string{"doc_1"},
	})
	if err != nil {
		t.Fatalf("Respond() error = %v, embedding outage must not fail the turn", err)
	}
	if !res.Degraded {
		t.Fatal("embedding outage should mark the result degraded")
	}
	if len(res.Sources) != 0 {
		t.Fatalf("sources = %d, want none", len(res.Sources))
	}
	if res.Reply != "Answer without context." {
		t.Fatalf("reply = %q", res.Reply)
	}
}

func TestRespondDegradesWhenSearchFails(t *testing.T) {
	srv := newLLMServer(t, 0, "ok")
	defer srv.Close()

	chunks := &fakeChunkStore{
		searchFn: func(context.Context, []float32, []string, int) ([]store.ChunkMatch, error) {
			return nil, errors.New("pgvector down")
		},
	}

	svc := newTestService(chunks, srv.URL)
	res, err := svc.Respond(context.Background(), RespondRequest{Query: "q", DocumentIDs: []string{"doc_1"}})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !res.Degraded || len(res.Sources) != 0 {
		t.Fatalf("result = %+v, want degraded with no sources", res)
	}
}

func TestRespondSkipsRetrievalWithoutDocuments(t *testing.T) {
	srv := newLLMServer(t, http.StatusInternalServerError, "general help")
	defer srv.Close()

	chunks := &fakeChunkStore{
		searchFn: func(context.Context, []float32, []string, int) ([]store.ChunkMatch, error) {
			t.Error("search must not run without document scope")
			return nil, nil
		},
	}

	svc := newTestService(chunks, srv.URL)
	res, err := svc.Respond(context.Background(), RespondRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if res.Degraded {
		t.Fatal("no-scope requests are not degraded, they just have no context")
	}
	if res.Reply != "general help" {
		t.Fatalf("reply = %q", res.Reply)
	}
}

func TestRespondReturnsCompletionErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := newTestService(&fakeChunkStore{}, srv.URL)
	_, err := svc.Respond(context.Background(), RespondRequest{Query: "q"})
	if err == nil || !strings.Contains(err.Error(), "chat completion") {
		t.Fatalf("Respond() error = %v, want chat completion failure", err)
	}
}

func TestReindexDocument(t *testing.T) {
	srv := newLLMServer(t, 0, "")
	defer srv.Close()

	var replaced []store.ChunkWithEmbedding
	chunks := &fakeChunkStore{
		replaceFn: func(ctx context.Context, documentID string, cs []store.ChunkWithEmbedding) error {
			if documentID != "doc_9" {
				t.Errorf("documentID = %q", documentID)
			}
			replaced = cs
			return nil
		},
	}

	svc := newTestService(chunks, srv.URL)
	text := "First paragraph of the story.\n\nSecond paragraph, somewhat longer than the first one."
	count, err := svc.ReindexDocument(context.Background(), "doc_9", text)
	if err != nil {
		t.Fatalf("ReindexDocument() error = %v", err)
	}
	if count == 0 || len(replaced) != count {
		t.Fatalf("count = %d, replaced = %d", count, len(replaced))
	}
	for i, c := range replaced {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunk %d has no embedding", i)
		}
		if c.TokenEstimate != EstimateTokens(c.Content) {
			t.Errorf("chunk %d token estimate %d != %d", i, c.TokenEstimate, EstimateTokens(c.Content))
		}
	}
}

func TestReindexDocumentEmptyTextClearsChunks(t *testing.T) {
	srv := newLLMServer(t, 0, "")
	defer srv.Close()

	deleted := false
	chunks := &fakeChunkStore{
		deleteFn: func(ctx context.Context, documentID string) error {
			deleted = true
			return nil
		},
		replaceFn: func(context.Context, string, []store.ChunkWithEmbedding) error {
			t.Error("replace must not run for empty text")
			return nil
		},
	}

	svc := newTestService(chunks, srv.URL)
	count, err := svc.ReindexDocument(context.Background(), "doc_9", "   ")
	if err != nil {
		t.Fatalf("ReindexDocument() error = %v", err)
	}
	if count != 0 || !deleted {
		t.Fatalf("count = %d deleted = %v, want 0 and cleared", count, deleted)
	}
}

func TestReindexDocumentPropagatesEmbedErrors(t *testing.T) {
	srv := newLLMServer(t, http.StatusBadRequest, "")
	defer srv.Close()

	svc := newTestService(&fakeChunkStore{}, srv.URL)
	_, err := svc.ReindexDocument(context.Background(), "doc_9", "Some text to embed.")
	if err == nil || !strings.Contains(err.Error(), "embed chunks") {
		t.Fatalf("ReindexDocument() error = %v, want embed failure", err)
	}
}
