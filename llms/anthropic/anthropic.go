package anthropic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/schema"
)

var ErrNoAPIKey = fmt.Errorf("anthropic: API key is required: %w", schema.ErrConfig)

const defaultMaxTokens = 1024

// LLM wraps the Anthropic Messages API. Leading system messages become the
// request's system prompt.
type LLM struct {
	client  anthropic.Client
	options options
	logger  *slog.Logger
}

var _ llms.Model = (*LLM)(nil)

type options struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	maxRetries int
	logger     *slog.Logger
}

type Option func(*options)

func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

func WithModel(model string) Option {
	return func(o *options) {
		if model != "" {
			o.model = model
		}
	}
}

// WithMaxTokens sets the default answer length when a call does not set one.
func WithMaxTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates a client. The key falls back to ANTHROPIC_API_KEY.
func New(opts ...Option) (*LLM, error) {
	o := options{
		model:      "claude-3-5-haiku-latest",
		maxTokens:  defaultMaxTokens,
		maxRetries: 2,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.apiKey == "" {
		o.apiKey = os.Getenv("ANTHROPIC_API_KEY")
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

	return &LLM{
		client:  anthropic.NewClient(reqOpts...),
		options: o,
		logger:  o.logger.With("component", "anthropic_llm", "model", o.model),
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
	maxTokens := l.options.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	system, turns := llms.SplitSystem(messages)
	if len(turns) == 0 {
		return nil, fmt.Errorf("anthropic: at least one non-system message is required")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(turns),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}

	start := time.Now()
	msg, err := l.client.Messages.New(ctx, params)
	duration := time.Since(start)
	if err != nil {
		l.logger.ErrorContext(ctx, "Messages request failed", "error", err, "duration", duration)
		return nil, fmt.Errorf("%w: anthropic messages: %w", schema.ErrProvider, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, llms.ErrEmptyResponse
	}

	if opts.StreamingFunc != nil {
		if err := opts.StreamingFunc(ctx, []byte(text.String())); err != nil {
			return nil, fmt.Errorf("streaming function returned an error: %w", err)
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text.String(),
			StopReason: string(msg.StopReason),
			GenerationInfo: map[string]any{
				llms.InfoPromptTokens:     msg.Usage.InputTokens,
				llms.InfoCompletionTokens: msg.Usage.OutputTokens,
				llms.InfoDuration:         duration,
				llms.InfoModel:            model,
			},
		}},
	}, nil
}

func convertMessages(messages []schema.MessageContent) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.GetTextContent())
		if m.Role == schema.ChatMessageTypeAI {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
