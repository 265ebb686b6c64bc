// Package fastapi is an embedding provider for a self-hosted FastAPI server
// that exposes a batch endpoint taking {"texts": [...]} and answering
// {"embeddings": [[...], ...]}.
package fastapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sevigo/policyrag/embeddings"
	"github.com/sevigo/policyrag/schema"
)

type embedRequest struct {
	Texts []string `json:"texts"`
	Task  string   `json:"task,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// errorResponse is the body FastAPI sends for HTTPException and
// validation failures. Detail is a string or a list of objects.
type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

type Embedder struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
	task       string
	apiKey     string
}

var _ embeddings.BatchProvider = (*Embedder)(nil)

// New validates serverURL and joins it with the configured endpoint path.
func New(serverURL string, opts ...Option) (*Embedder, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("%w: embedding server URL cannot be empty", schema.ErrConfig)
	}
	base, err := url.Parse(serverURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid embedding server URL %q", schema.ErrConfig, serverURL)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	e := &Embedder{
		endpoint:   base.JoinPath(o.path).String(),
		httpClient: o.httpClient,
		task:       o.task,
		apiKey:     o.apiKey,
	}
	e.logger = o.logger.With("component", "fastapi_embedder", "endpoint", e.endpoint)
	return e, nil
}

// EmbedDocuments sends texts in one request. Every returned vector must have
// the same length.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	payload, err := json.Marshal(embedRequest{Texts: texts, Task: e.task})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("X-Api-Key", e.apiKey)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding request: %w", schema.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := readDetail(resp.Body)
		e.logger.WarnContext(ctx, "Embedding server rejected request",
			"status", resp.StatusCode,
			"detail", detail,
			"count", len(texts),
		)
		return nil, fmt.Errorf("%w: embedding server returned %d: %s", schema.ErrProvider, resp.StatusCode, detail)
	}

	var body embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", schema.ErrProvider, err)
	}
	if len(body.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d, received %d", embeddings.ErrCountMismatch, len(texts), len(body.Embeddings))
	}
	for i, v := range body.Embeddings {
		if len(v) != len(body.Embeddings[0]) {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, vector 0 has %d",
				schema.ErrConsistency, i, len(v), len(body.Embeddings[0]))
		}
	}

	e.logger.DebugContext(ctx, "Embedded batch", "count", len(texts), "duration", time.Since(start))
	return body.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	results, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

func readDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(raw) == 0 {
		return "no detail"
	}
	var body errorResponse
	if json.Unmarshal(raw, &body) != nil || len(body.Detail) == 0 {
		return string(raw)
	}
	var s string
	if json.Unmarshal(body.Detail, &s) == nil {
		return s
	}
	return string(body.Detail)
}
