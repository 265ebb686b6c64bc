package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/api/iterator"
	"google.golang.org/genai"

	"github.com/sevigo/policyrag/embeddings"
	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/schema"
)

var (
	ErrNoAPIKey      = fmt.Errorf("gemini: API key is required: %w", schema.ErrConfig)
	ErrInvalidModel  = fmt.Errorf("gemini: invalid model specified: %w", schema.ErrConfig)
	ErrNoContent     = fmt.Errorf("gemini: no content generated: %w", schema.ErrProvider)
	ErrSystemMessage = errors.New("gemini: system message must be the first message in the conversation")
	ErrEmbeddings    = fmt.Errorf("gemini: failed to generate embeddings: %w", schema.ErrProvider)
)

// LLM implements both the Model and the batch embedding provider interfaces for Gemini.
type LLM struct {
	client  *genai.Client
	options options
	logger  *slog.Logger
}

var (
	_ llms.Model               = (*LLM)(nil)
	_ embeddings.BatchProvider = (*LLM)(nil)
)

// New creates a new Gemini client. The key falls back to GEMINI_API_KEY.
func New(ctx context.Context, opts ...Option) (*LLM, error) {
	o := applyOptions(opts...)

	if o.apiKey == "" {
		o.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	if o.model == "" {
		return nil, ErrInvalidModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: o.apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	llm := &LLM{
		client:  client,
		options: o,
		logger:  o.logger.With("component", "gemini_llm", "model", o.model),
	}

	llm.logger.Info("Gemini LLM initialized successfully")
	return llm, nil
}

func (g *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g, prompt, options...)
}

// GenerateContent handles multi-turn conversations and streaming.
func (g *LLM) GenerateContent(
	ctx context.Context,
	messages []schema.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	start := time.Now()

	callOpts := &llms.CallOptions{}
	for _, opt := range options {
		opt(callOpts)
	}
	model := g.options.model
	if callOpts.Model != "" {
		model = callOpts.Model
	}

	genConfig := &genai.GenerateContentConfig{}
	if callOpts.Temperature != nil {
		genConfig.Temperature = genai.Ptr(float32(*callOpts.Temperature))
	}
	if callOpts.MaxTokens > 0 {
		genConfig.MaxOutputTokens = int32(callOpts.MaxTokens)
	}

	history, systemInstruction, err := convertToGeminiMessages(messages)
	if err != nil {
		return nil, err
	}
	genConfig.SystemInstruction = systemInstruction

	if len(history) == 0 {
		return nil, errors.New("gemini: no messages to send")
	}

	if callOpts.StreamingFunc == nil {
		resp, err := g.client.Models.GenerateContent(ctx, model, history, genConfig)
		duration := time.Since(start)
		if err != nil {
			g.logger.ErrorContext(ctx, "Gemini client failed", "error", err, "duration", duration)
			return nil, fmt.Errorf("%w: gemini: %w", schema.ErrProvider, err)
		}
		return responseToChoice(resp, model, duration)
	}

	var fullResponse strings.Builder
	var finalResp *genai.GenerateContentResponse

	for resp, errStream := range g.client.Models.GenerateContentStream(ctx, model, history, genConfig) {
		if errors.Is(errStream, iterator.Done) {
			break
		}
		if errStream != nil {
			g.logger.ErrorContext(ctx, "Gemini stream error", "error", errStream)
			return nil, fmt.Errorf("%w: gemini stream: %w", schema.ErrProvider, errStream)
		}

		finalResp = resp
		chunkContent := extractText(resp)
		fullResponse.WriteString(chunkContent)
		if err := callOpts.StreamingFunc(ctx, []byte(chunkContent)); err != nil {
			return nil, fmt.Errorf("streaming function returned an error: %w", err)
		}
	}

	var totalTokens int32
	if finalResp != nil && finalResp.UsageMetadata != nil {
		totalTokens = finalResp.UsageMetadata.TotalTokenCount
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content: fullResponse.String(),
			GenerationInfo: map[string]any{
				llms.InfoTotalTokens: totalTokens,
				llms.InfoDuration:    time.Since(start),
				llms.InfoModel:       model,
			},
		}},
	}, nil
}

// Task types that let the embedding model tell stored passages from
// questions.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// EmbedDocuments embeds a batch of passages in one EmbedContent call.
func (g *LLM) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return g.embed(ctx, texts, TaskRetrievalDocument)
}

// EmbedQuery embeds a question with the query task type.
func (g *LLM) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.embed(ctx, []string{text}, TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (g *LLM) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: task}
	if g.options.dimensions > 0 {
		dim := int32(g.options.dimensions)
		cfg.OutputDimensionality = &dim
	}

	start := time.Now()
	res, err := g.client.Models.EmbedContent(ctx, g.options.embeddingModel, contents, cfg)
	if err != nil {
		g.logger.ErrorContext(ctx, "Embedding request failed", "error", err, "count", len(texts), "task", task)
		return nil, fmt.Errorf("%w: %w", ErrEmbeddings, err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, but got %d", embeddings.ErrCountMismatch, len(texts), len(res.Embeddings))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: embedding %d is nil", ErrEmbeddings, i)
		}
		vectors[i] = e.Values
	}
	g.logger.DebugContext(ctx, "Embedded batch", "count", len(texts), "task", task, "duration", time.Since(start))
	return vectors, nil
}

// convertToGeminiMessages splits off the leading system message as the
// system instruction and maps the remaining turns to Gemini roles.
func convertToGeminiMessages(messages []schema.MessageContent) ([]*genai.Content, *genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	var systemInstruction *genai.Content

	for i, msg := range messages {
		var role genai.Role
		switch msg.Role {
		case schema.ChatMessageTypeAI:
			role = genai.RoleModel
		case schema.ChatMessageTypeSystem:
			if i != 0 {
				return nil, nil, ErrSystemMessage
			}
			systemInstruction = genai.NewContentFromText(msg.GetTextContent(), genai.RoleUser)
			continue
		default:
			role = genai.RoleUser
		}

		parts := make([]*genai.Part, 0, len(msg.Parts))
		for _, p := range msg.Parts {
			part, ok := p.(schema.TextContent)
			if !ok {
				return nil, nil, fmt.Errorf("unsupported content part type: %T", p)
			}
			parts = append(parts, genai.NewPartFromText(part.Text))
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, systemInstruction, nil
}

func responseToChoice(resp *genai.GenerateContentResponse, model string, duration time.Duration) (*llms.ContentResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ErrNoContent
	}

	choice := resp.Candidates[0]
	if choice.Content == nil || len(choice.Content.Parts) == 0 {
		return nil, ErrNoContent
	}

	var totalTokens int32
	if resp.UsageMetadata != nil {
		totalTokens = resp.UsageMetadata.TotalTokenCount
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    extractText(resp),
			StopReason: string(choice.FinishReason),
			GenerationInfo: map[string]any{
				llms.InfoTotalTokens: totalTokens,
				llms.InfoDuration:    duration,
				llms.InfoModel:       model,
			},
		}},
	}, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var builder strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		builder.WriteString(part.Text)
	}
	return builder.String()
}
