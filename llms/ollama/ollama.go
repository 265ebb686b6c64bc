package ollama

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/sevigo/policyrag/embeddings"
	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/schema"
)

// Common errors returned by the Ollama LLM implementation.
var (
	ErrEmptyResponse       = fmt.Errorf("ollama: empty response received: %w", schema.ErrProvider)
	ErrIncompleteEmbedding = fmt.Errorf("ollama: not all input texts were embedded: %w", embeddings.ErrCountMismatch)
	ErrNoMessages          = errors.New("ollama: no messages provided")
	ErrInvalidModel        = fmt.Errorf("ollama: invalid model specified: %w", schema.ErrConfig)
)

const (
	DefaultServerURL = "http://127.0.0.1:11434"
	DefaultTimeout   = 10 * time.Minute
)

// LLM talks to a local Ollama server. It serves both as a generation model
// and as a batch embedding provider backed by /api/embed.
type LLM struct {
	client  *api.Client
	baseURL *url.URL
	options options
	logger  *slog.Logger

	mu           sync.Mutex
	modelChecked bool
}

var (
	_ llms.Model               = (*LLM)(nil)
	_ embeddings.BatchProvider = (*LLM)(nil)
)

func New(opts ...Option) (*LLM, error) {
	o := applyOptions(opts...)

	if o.model == "" {
		return nil, ErrInvalidModel
	}

	baseURL := o.ollamaServerURL
	if baseURL == nil {
		var err error
		if baseURL, err = defaultServerURL(); err != nil {
			return nil, err
		}
	}
	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	llm := &LLM{
		client:  api.NewClient(baseURL, httpClient),
		baseURL: baseURL,
		options: o,
		logger:  o.logger.With("component", "ollama_llm", "model", o.model),
	}

	llm.logger.Info("Ollama LLM initialized", "url", baseURL.String())
	return llm, nil
}

// defaultServerURL reads OLLAMA_URL and falls back to the local default.
func defaultServerURL() (*url.URL, error) {
	raw := os.Getenv("OLLAMA_URL")
	if raw == "" {
		raw = DefaultServerURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: parse OLLAMA_URL: %w", schema.ErrConfig, err)
	}
	return u, nil
}

// Call implements simple prompt-based text generation.
func (o *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, o, prompt, options...)
}

func (o *LLM) GenerateContent(
	ctx context.Context,
	messages []schema.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}

	start := time.Now()
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	model := o.options.model
	if opts.Model != "" {
		model = opts.Model
	}

	chatMsgs, err := convertToOllamaMessages(messages)
	if err != nil {
		return nil, err
	}

	isStreaming := opts.StreamingFunc != nil
	req := &api.ChatRequest{
		Model:     model,
		Messages:  chatMsgs,
		Stream:    &isStreaming,
		Options:   requestOptions(opts),
		KeepAlive: o.keepAlive(),
	}

	var fullResponse strings.Builder
	var finalResp api.ChatResponse
	fn := func(response api.ChatResponse) error {
		fullResponse.WriteString(response.Message.Content)
		if isStreaming {
			if errStream := opts.StreamingFunc(ctx, []byte(response.Message.Content)); errStream != nil {
				return fmt.Errorf("streaming function returned an error: %w", errStream)
			}
		}
		if response.Done {
			finalResp = response
		}
		return nil
	}

	if err := o.client.Chat(ctx, req, fn); err != nil {
		o.logger.ErrorContext(ctx, "Ollama chat failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("%w: ollama chat: %w", schema.ErrProvider, err)
	}
	if fullResponse.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	duration := time.Since(start)
	o.logger.DebugContext(ctx, "Content generation completed", "duration", duration)

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    fullResponse.String(),
			StopReason: finalResp.DoneReason,
			GenerationInfo: map[string]any{
				llms.InfoCompletionTokens: finalResp.EvalCount,
				llms.InfoPromptTokens:     finalResp.PromptEvalCount,
				llms.InfoTotalTokens:      finalResp.EvalCount + finalResp.PromptEvalCount,
				llms.InfoDuration:         duration,
				llms.InfoModel:            model,
			},
		}},
	}, nil
}

func (o *LLM) keepAlive() *api.Duration {
	if o.options.keepAlive <= 0 {
		return nil
	}
	return &api.Duration{Duration: o.options.keepAlive}
}

func requestOptions(opts llms.CallOptions) map[string]any {
	out := map[string]any{}
	if opts.Temperature != nil {
		out["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		out["num_predict"] = opts.MaxTokens
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func convertToOllamaMessages(messages []schema.MessageContent) ([]api.Message, error) {
	chatMsgs := make([]api.Message, 0, len(messages))
	for _, mc := range messages {
		parts := make([]string, 0, len(mc.Parts))
		for _, p := range mc.Parts {
			part, ok := p.(schema.TextContent)
			if !ok {
				return nil, fmt.Errorf("unsupported content part type: %T", p)
			}
			parts = append(parts, part.Text)
		}
		chatMsgs = append(chatMsgs, api.Message{Role: typeToRole(mc.Role), Content: strings.Join(parts, "\n")})
	}
	return chatMsgs, nil
}

func typeToRole(typ schema.ChatMessageType) string {
	switch typ {
	case schema.ChatMessageTypeSystem:
		return "system"
	case schema.ChatMessageTypeAI:
		return "assistant"
	default:
		return "user"
	}
}

// EmbedDocuments embeds a batch of texts in a single /api/embed request.
func (o *LLM) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	if err := o.EnsureModel(ctx); err != nil {
		return nil, fmt.Errorf("%w: embedding model preparation failed: %w", schema.ErrProvider, err)
	}

	start := time.Now()
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model:     o.options.model,
		Input:     texts,
		KeepAlive: o.keepAlive(),
		Truncate:  o.options.truncate,
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "Embedding API call failed", "error", err, "count", len(texts))
		return nil, fmt.Errorf("%w: %w", schema.ErrProvider, err)
	}

	if len(resp.Embeddings) != len(texts) {
		o.logger.ErrorContext(ctx, "Embedding count mismatch", "expected", len(texts), "got", len(resp.Embeddings))
		return nil, ErrIncompleteEmbedding
	}

	o.logger.DebugContext(ctx, "Embedded batch", "count", len(texts), "duration", time.Since(start))
	return resp.Embeddings, nil
}

func (o *LLM) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors[0]) == 0 {
		return nil, ErrEmptyResponse
	}
	return vectors[0], nil
}

// EnsureModel checks once that the model exists locally and pulls it when
// WithPullMissing is set.
func (o *LLM) EnsureModel(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.modelChecked {
		return nil
	}

	exists, err := o.ModelExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if !o.options.pullMissing {
			return fmt.Errorf("ollama: model %q is not available locally", o.options.model)
		}
		if err := o.pullModel(ctx); err != nil {
			return err
		}
	}

	o.modelChecked = true
	return nil
}

// ModelExists checks if the configured model is available locally.
func (o *LLM) ModelExists(ctx context.Context) (bool, error) {
	_, err := o.client.Show(ctx, &api.ShowRequest{Model: o.options.model})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("model existence check failed: %w", err)
	}
	return true, nil
}

func (o *LLM) pullModel(ctx context.Context) error {
	o.logger.InfoContext(ctx, "Model not found locally, initiating pull")

	pullStart := time.Now()
	stream := true
	err := o.client.Pull(ctx, &api.PullRequest{Model: o.options.model, Stream: &stream}, func(progress api.ProgressResponse) error {
		if progress.Total > 0 {
			percent := (float64(progress.Completed) / float64(progress.Total)) * 100
			o.logger.InfoContext(ctx, "Model pull progress",
				"status", progress.Status,
				"percent", fmt.Sprintf("%.1f%%", percent))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("model pull failed: %w", err)
	}

	o.logger.InfoContext(ctx, "Model pull completed", "duration", time.Since(pullStart))
	return nil
}
