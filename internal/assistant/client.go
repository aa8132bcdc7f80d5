package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/metrics"
)

const (
	maxAttempts    = 3
	embedBatchSize = 64
)

// ChatMessage is one turn in a chat-completions request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports the token accounting an LLM response came back with.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Client talks to an OpenAI-compatible API (chat completions and
// embeddings). Any server speaking that dialect works, including local
// ones.
type Client struct {
	baseURL    string
	apiKey     string
	chatModel  string
	embedModel string
	http       *http.Client
}

func NewClient(baseURL, apiKey, chatModel, embedModel string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		chatModel:  chatModel,
		embedModel: embedModel,
		http:       &http.Client{Timeout: 60 * time.Second},
	}
}

// Embed returns one vector per input, preserving order. Inputs are sent
// in batches to keep request sizes bounded.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		batch, err := c.embedBatch(ctx, inputs[start:end])
		if err != nil {
			metrics.EmbeddingCall("error")
			return nil, err
		}
		metrics.EmbeddingCall("ok")
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	payload := map[string]any{
		"model": c.embedModel,
		"input": inputs,
	}
	data, err := c.post(ctx, "/embeddings", payload)
	if err != nil {
		return nil, err
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Data) != len(inputs) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(out.Data), len(inputs))
	}

	vectors := make([][]float32, len(inputs))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Complete runs a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, temperature float64, maxTokens int) (string, Usage, error) {
	payload := map[string]any{
		"model":       c.chatModel,
		"messages":    messages,
		"temperature": temperature,
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	data, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return "", Usage{}, err
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", Usage{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("chat response has no choices")
	}
	return out.Choices[0].Message.Content, out.Usage, nil
}

// post sends a JSON request and retries on 429 and 5xx with backoff. The
// request is rebuilt each attempt so the body is never re-read, and a
// dead context stops retrying immediately.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
			lastErr = fmt.Errorf("llm http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
			continue
		}
		if resp.StatusCode/100 != 2 {
			return nil, fmt.Errorf("llm http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		if readErr != nil {
			return nil, fmt.Errorf("read response: %w", readErr)
		}
		return data, nil
	}
	return nil, fmt.Errorf("llm request failed after %d attempts: %w", maxAttempts, lastErr)
}
