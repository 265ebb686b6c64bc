package openai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sevigo/policyrag/embeddings"
	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/schema"
)

var ErrNoAPIKey = fmt.Errorf("openai: API key is required: %w", schema.ErrConfig)

// LLM wraps the OpenAI chat completions and embeddings endpoints.
type LLM struct {
	client  openai.Client
	options options
	logger  *slog.Logger
}

var (
	_ llms.Model               = (*LLM)(nil)
	_ embeddings.BatchProvider = (*LLM)(nil)
)

// New creates a client. The key falls back to OPENAI_API_KEY.
func New(opts ...Option) (*LLM, error) {
	o := applyOptions(opts...)
	if o.apiKey == "" {
		o.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(o.apiKey),
		option.WithMaxRetries(o.maxRetries),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &LLM{
		client:  openai.NewClient(reqOpts...),
		options: o,
		logger:  o.logger.With("component", "openai_llm", "model", o.model),
	}, nil
}

func (l *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l, prompt, options...)
}

func (l *LLM) GenerateContent(
	ctx context.Context,
	messages []schema.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	opts := llms.ApplyCallOptions(options...)
	model := l.options.model
	if opts.Model != "" {
		model = opts.Model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: convertMessages(messages),
	}
	if opts.Temperature != nil {
		params.Temperature = openai.Float(*opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}

	start := time.Now()
	resp, err := l.client.Chat.Completions.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		l.logger.ErrorContext(ctx, "Chat completion failed", "error", err, "duration", duration)
		return nil, fmt.Errorf("%w: openai chat: %w", schema.ErrProvider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, llms.ErrEmptyResponse
	}

	choice := resp.Choices[0]
	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(choice.Message.Content)); err != nil {
			return nil, fmt.Errorf("streaming function returned an error: %w", err)
		}
	}

	l.logger.DebugContext(ctx, "Chat completion finished", "duration", duration, "total_tokens", resp.Usage.TotalTokens)
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    choice.Message.Content,
			StopReason: string(choice.FinishReason),
			GenerationInfo: map[string]any{
				llms.InfoPromptTokens:     resp.Usage.PromptTokens,
				llms.InfoCompletionTokens: resp.Usage.CompletionTokens,
				llms.InfoTotalTokens:      resp.Usage.TotalTokens,
				llms.InfoDuration:         duration,
				llms.InfoModel:            model,
			},
		}},
	}, nil
}

func convertMessages(messages []schema.MessageContent) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		text := m.GetTextContent()
		switch m.Role {
		case schema.ChatMessageTypeSystem:
			out = append(out, openai.SystemMessage(text))
		case schema.ChatMessageTypeAI:
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

// EmbedDocuments embeds a batch of texts in one request. Vectors are
// returned in input order regardless of the order of the response data.
func (l *LLM) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(l.options.embeddingModel),
	}
	if l.options.dimensions > 0 {
		params.Dimensions = openai.Int(int64(l.options.dimensions))
	}

	resp, err := l.client.Embeddings.New(ctx, params)
	if err != nil {
		l.logger.ErrorContext(ctx, "Embedding request failed", "error", err, "count", len(texts))
		return nil, fmt.Errorf("%w: openai embeddings: %w", schema.ErrProvider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: requested %d, received %d", embeddings.ErrCountMismatch, len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (l *LLM) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := l.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
