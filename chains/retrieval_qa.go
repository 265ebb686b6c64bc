// Package chains implements the answer pipeline: retrieve passages, render
// the conversation, prompt the model, and record the turn.
package chains

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sevigo/policyrag/llms"
	"github.com/sevigo/policyrag/memory"
	"github.com/sevigo/policyrag/prompts"
	"github.com/sevigo/policyrag/schema"
)

// User-visible answers for the degraded paths.
const (
	NotInitializedMessage = "The policy assistant is not ready yet: no policy documents have been loaded."
	NoContextMessage      = "I could not find any relevant policy information for that question."
	ApologyMessage        = "Sorry, something went wrong while generating the answer. Please try again."
)

// PassageSeparator delimits retrieved passages in the prompt context.
const PassageSeparator = "\n\n---\n\n"

type readiness interface {
	Ready() bool
}

type ConversationalRetrievalQA struct {
	retriever schema.Retriever
	llm       llms.Model
	memory    *memory.ConversationBuffer
	callOpts  []llms.CallOption
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*ConversationalRetrievalQA)

func WithMemory(buf *memory.ConversationBuffer) Option {
	return func(c *ConversationalRetrievalQA) {
		if buf != nil {
			c.memory = buf
		}
	}
}

// WithCallOptions passes opts to every generation call.
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(c *ConversationalRetrievalQA) {
		c.callOpts = append(c.callOpts, opts...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *ConversationalRetrievalQA) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConversationalRetrievalQA builds the pipeline. A nil retriever is
// accepted and answers with NotInitializedMessage until one is set.
func NewConversationalRetrievalQA(retriever schema.Retriever, llm llms.Model, opts ...Option) (*ConversationalRetrievalQA, error) {
	if llm == nil {
		return nil, fmt.Errorf("%w: answer pipeline needs a generation model", schema.ErrConfig)
	}
	c := &ConversationalRetrievalQA{
		retriever: retriever,
		llm:       llm,
		memory:    memory.NewConversationBuffer(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/sevigo/policyrag/chains"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "conversational_retrieval_qa")
	return c, nil
}

func (c *ConversationalRetrievalQA) Memory() *memory.ConversationBuffer {
	return c.memory
}

// Reset forgets the conversation.
func (c *ConversationalRetrievalQA) Reset() {
	c.memory.Clear()
}

// Answer never fails: degraded paths return one of the fixed messages and
// the cause is logged.
func (c *ConversationalRetrievalQA) Answer(ctx context.Context, question string) string {
	answer, _ := c.Call(ctx, question)
	return answer
}

// Call runs the pipeline and returns the user-visible answer together with
// the cause of a degraded answer, if any. The returned answer is always
// safe to show.
//
// Memory policy: once retrieval was attempted the question is recorded. The
// answer is recorded only when generation succeeded. An abandoned call
// records nothing.
func (c *ConversationalRetrievalQA) Call(ctx context.Context, question string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "chains.ConversationalRetrievalQA.Answer")
	defer span.End()
	start := time.Now()

	if !c.initialized() {
		span.SetStatus(codes.Error, "not initialized")
		return NotInitializedMessage, schema.ErrNotInitialized
	}

	history := c.memory.Render()

	docs, err := c.retriever.GetRelevantDocuments(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			return ApologyMessage, ctx.Err()
		}
		c.memory.AddUserMessage(question)
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		c.logger.WarnContext(ctx, "Retrieval failed, answering without context", "error", err)
		if !errors.Is(err, schema.ErrRetrieval) {
			err = fmt.Errorf("%w: %w", schema.ErrRetrieval, err)
		}
		return NoContextMessage, err
	}
	span.SetAttributes(attribute.Int("passages", len(docs)))

	prompt := prompts.NewPolicyQA(joinPassages(docs), history, question)

	genStart := time.Now()
	resp, err := c.llm.GenerateContent(ctx, prompt.Messages(), c.callOpts...)
	var answer string
	if err == nil {
		answer, err = llms.FirstChoice(resp)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ApologyMessage, ctx.Err()
		}
		c.memory.AddUserMessage(question)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		c.logger.ErrorContext(ctx, "Generation failed",
			"error", err,
			"passages", len(docs),
			"duration", time.Since(genStart),
		)
		if !errors.Is(err, schema.ErrProvider) {
			err = fmt.Errorf("%w: %w", schema.ErrProvider, err)
		}
		return ApologyMessage, err
	}

	c.memory.AddUserMessage(question)
	c.memory.AddAIMessage(answer)

	c.logger.InfoContext(ctx, "Answered question",
		"passages", len(docs),
		"answer_length", len(answer),
		"generation_duration", time.Since(genStart),
		"duration", time.Since(start),
	)
	return answer, nil
}

func (c *ConversationalRetrievalQA) initialized() bool {
	if c.retriever == nil {
		return false
	}
	if r, ok := c.retriever.(readiness); ok {
		return r.Ready()
	}
	return true
}

func joinPassages(docs []schema.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	return strings.Join(parts, PassageSeparator)
}
