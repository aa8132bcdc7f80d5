// Package assistant implements the writing assistant's retrieval and
// generation pipeline: chunk, embed, search, assemble a prompt, call the
// model.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"inkwell/api/internal/store"
)

// ChunkStore is the slice of the data layer the pipeline needs.
type ChunkStore interface {
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []store.ChunkWithEmbedding) error
	DeleteDocumentChunks(ctx context.Context, documentID string) error
	SearchChunks(ctx context.Context, embedding []float32, documentIDs []string, topK int) ([]store.ChunkMatch, error)
}

// Options tune the pipeline. Zero values fall back to defaults.
type Options struct {
	Budget        TokenBudget
	TopK          int
	MinSimilarity float64
	ChunkTokens   int
	Temperature   float64
}

type Service struct {
	store  ChunkStore
	client *Client
	logger *slog.Logger
	opts   Options
}

func NewService(chunks ChunkStore, client *Client, logger *slog.Logger, opts Options) *Service {
	if opts.Budget.MaxContext <= 0 {
		opts.Budget.MaxContext = 8000
	}
	if opts.Budget.ReservedOutput <= 0 {
		opts.Budget.ReservedOutput = 1000
	}
	if opts.TopK <= 0 {
		opts.TopK = 6
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = 0.25
	}
	if opts.ChunkTokens <= 0 {
		opts.ChunkTokens = DefaultChunkTokens
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}
	return &Service{store: chunks, client: client, logger: logger, opts: opts}
}

// ReindexDocument re-chunks and re-embeds a document's plain text,
// replacing its stored chunk set. Returns the new chunk count.
func (s *Service) ReindexDocument(ctx context.Context, documentID, text string) (int, error) {
	pieces := SplitText(text, s.opts.ChunkTokens)
	if len(pieces) == 0 {
		if err := s.store.DeleteDocumentChunks(ctx, documentID); err != nil {
			return 0, fmt.Errorf("clear chunks: %w", err)
		}
		return 0, nil
	}

	vectors, err := s.client.Embed(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	chunks := make([]store.ChunkWithEmbedding, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, store.ChunkWithEmbedding{
			Chunk: store.Chunk{
				DocumentID:    documentID,
				ChunkIndex:    i,
				Content:       piece,
				TokenEstimate: EstimateTokens(piece),
			},
			Embedding: vectors[i],
		})
	}
	if err := s.store.ReplaceDocumentChunks(ctx, documentID, chunks); err != nil {
		return 0, fmt.Errorf("replace chunks: %w", err)
	}
	return len(chunks), nil
}

// RespondRequest is one assistant turn. DocumentIDs are the documents
// retrieval may search; the caller has already checked the user can read
// them.
type RespondRequest struct {
	Query       string
	DocumentIDs []string
	History     []store.Message
	StyleHints  string
}

// Source points at a chunk the reply drew on.
type Source struct {
	DocumentID    string  `json:"documentId"`
	DocumentTitle string  `json:"documentTitle"`
	ChunkIndex    int     `json:"chunkIndex"`
	Similarity    float64 `json:"similarity"`
	Excerpt       string  `json:"excerpt"`
}

type RespondResult struct {
	Reply    string
	Sources  []Source
	Usage    Usage
	Degraded bool
}

// Respond runs retrieval, prompt assembly and the chat completion.
// Retrieval failures degrade the turn to a no-context prompt instead of
// failing it; completion failures are returned to the caller.
func (s *Service) Respond(ctx context.Context, req RespondRequest) (RespondResult, error) {
	systemPrompt := BuildSystemPrompt(req.StyleHints)

	matches, degraded := s.retrieve(ctx, req.Query, req.DocumentIDs)

	budget := s.opts.Budget.ContextBudget(systemPrompt, req.Query)
	chunkBudget := budget - budget/historyShare
	selected, usedByChunks := selectChunks(matches, chunkBudget)
	history := truncateHistory(req.History, budget-usedByChunks)

	messages := assembleMessages(systemPrompt, buildContextBlock(selected), history, req.Query)

	reply, usage, err := s.client.Complete(ctx, messages, s.opts.Temperature, s.opts.Budget.ReservedOutput)
	if err != nil {
		return RespondResult{}, fmt.Errorf("chat completion: %w", err)
	}

	return RespondResult{
		Reply:    reply,
		Sources:  toSources(selected),
		Usage:    usage,
		Degraded: degraded,
	}, nil
}

// retrieve embeds the query and searches the allowed documents' chunks.
// Any failure is logged and reported as degraded, never returned.
func (s *Service) retrieve(ctx context.Context, query string, documentIDs []string) ([]store.ChunkMatch, bool) {
	if len(documentIDs) == 0 {
		return nil, false
	}

	vectors, err := s.client.Embed(ctx, []string{query})
	if err != nil {
		s.logger.Warn("query embedding failed, answering without context", "error", err)
		return nil, true
	}

	matches, err := s.store.SearchChunks(ctx, vectors[0], documentIDs, s.opts.TopK)
	if err != nil {
		s.logger.Warn("chunk search failed, answering without context", "error", err)
		return nil, true
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Similarity >= s.opts.MinSimilarity {
			kept = append(kept, m)
		}
	}
	return kept, false
}

func toSources(matches []store.ChunkMatch) []Source {
	sources := make([]Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, Source{
			DocumentID:    m.DocumentID,
			DocumentTitle: m.DocumentTitle,
			ChunkIndex:    m.ChunkIndex,
			Similarity:    m.Similarity,
			Excerpt:       excerpt(m.Content, 160),
		})
	}
	return sources
}

func excerpt(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
